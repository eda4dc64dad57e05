package mode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getdproxy/dproxy/internal/matching"
	"github.com/getdproxy/dproxy/pkg/capture"
	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/interceptor"
	"github.com/getdproxy/dproxy/pkg/logging"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
	"github.com/getdproxy/dproxy/pkg/session"
	"github.com/getdproxy/dproxy/pkg/template"
)

type fwdFunc func(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error)

func (f fwdFunc) Forward(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
	return f(ctx, req)
}

func backendResponse(status int, body string) *proxyctx.ResponseContext {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return proxyctx.NewResponseContext(&proxyctx.ResponseSnapshot{
		Status:     status,
		StatusText: http.StatusText(status),
		Headers:    h,
		Body:       []byte(body),
	}, proxyctx.SourceBackend)
}

func buildRequest(t *testing.T, method, target string, headers map[string]string, body string) *proxyctx.RequestContext {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	req, err := proxyctx.NewFactory().NewRequestContext(r, proxyctx.Options{})
	require.NoError(t, err)
	return req
}

func modeConfig() *config.Config {
	cfg := config.Default()
	cfg.Endpoints.Secure = []string{"/v1/auth/**", "/v1/profile/**"}
	cfg.Endpoints.Public = []string{"/v1/catalog/**"}
	cfg.Session.SigningKey = "test-key"
	cfg.Session.CreateRules = []config.SessionCreateRule{
		{Method: "POST", PathPattern: `^/v1/auth/login$`},
	}
	cfg.Session.TokenRewrites = []config.TokenRewriteRule{
		{JSONPath: "$.auth.token", PathPattern: `^/v1/auth/`},
	}
	return cfg
}

func newSessions(t *testing.T, cfg *config.Config) session.Manager {
	t.Helper()
	m, err := session.NewJWTManager(cfg.Session)
	require.NoError(t, err)
	return m
}

func TestParse(t *testing.T) {
	for _, valid := range []string{"passthrough", "recording", "replay"} {
		m, err := Parse(valid)
		require.NoError(t, err)
		assert.True(t, m.IsValid())
	}
	_, err := Parse("observing")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestFilePersister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode")
	p := NewFilePersister(path)

	_, ok, err := p.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Save(Replay))
	m, ok, err := p.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Replay, m)
}

func TestFilePersister_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode")
	p := NewFilePersister(path)

	// A hand-edited bogus value must surface as an error.
	require.NoError(t, p.Save(Mode("observing")))
	_, _, err := p.Load()
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestPassthrough_ForwardsThroughPipeline(t *testing.T) {
	var forwarded *proxyctx.RequestContext
	fwd := fwdFunc(func(_ context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		forwarded = req
		return backendResponse(200, `{"ok":true}`), nil
	})

	chain := interceptor.NewChain(logging.Nop())
	chain.AddRequestInterceptor(interceptor.NewCorrelation())

	p := NewPassthrough(chain, fwd, proxyctx.NewFactory(), logging.Nop())
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := p.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Current.Status)
	assert.Equal(t, proxyctx.SourceBackend, resp.Source)
	require.NotNil(t, forwarded)
	assert.NotEmpty(t, forwarded.Current.Headers.Get(interceptor.CorrelationHeader))
	assert.Equal(t, string(Passthrough), req.Metadata[proxyctx.MetaMode])
}

func TestPassthrough_ServesForwardErrorResponse(t *testing.T) {
	errResp := proxyctx.NewFactory().NewErrorResponse(http.StatusBadGateway, "backend unreachable: refused")
	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		return errResp, errors.New("refused")
	})

	p := NewPassthrough(interceptor.NewChain(logging.Nop()), fwd, proxyctx.NewFactory(), logging.Nop())
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := p.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Current.Status)
	assert.Equal(t, proxyctx.SourceDproxy, resp.Source)
	assert.Contains(t, string(resp.Current.Body), `"error":true`)
}

func TestRecording_PersistsUnmodifiedPair(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()
	sessions := newSessions(t, cfg)

	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		resp := backendResponse(200, `{"auth":{"token":"backend-token"}}`)
		resp.Current.Headers.Add("Set-Cookie", "backend_sid=abc")
		return resp, nil
	})

	// An interceptor that rewrites the request must not leak into storage.
	chain := interceptor.NewChain(logging.Nop())
	chain.AddRequestInterceptor(&interceptor.RequestFunc{
		InterceptorName: "rewriter",
		Fn: func(_ context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error) {
			req.SetHeader("X-Rewritten", "yes")
			return req, nil
		},
	})

	rec := NewRecording(chain, fwd, repo, sessions, cfg, proxyctx.NewFactory(), logging.Nop(), nil)
	req := buildRequest(t, "POST", "http://backend.test/v1/auth/login",
		map[string]string{"X-User-Id": "u42", capture.HeaderPlatform: "ios"},
		`{"credentials":{"username":"u42"}}`)

	resp, err := rec.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Current.Status)

	// Stored pair is the unmodified exchange.
	require.Equal(t, 1, repo.Count())
	candidates, err := repo.FindCandidates("POST", "/v1/auth/login", "u42", capture.EndpointSecure)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	stored := candidates[0]
	assert.Empty(t, stored.Request.Headers.Get("X-Rewritten"))
	assert.Equal(t, "u42", stored.UserID)
	assert.Equal(t, "ios", stored.Dimensions.Platform)
	assert.JSONEq(t, `{"auth":{"token":"backend-token"}}`, string(stored.Response.Body))

	// The client copy gets a proxy session cookie alongside the backend's.
	cookies := resp.Current.Headers.Values("Set-Cookie")
	joined := strings.Join(cookies, "\n")
	assert.Contains(t, joined, "backend_sid=abc")
	assert.Contains(t, joined, cfg.Session.CookieName+"=")
	assert.NotEmpty(t, req.Metadata[proxyctx.MetaCaptureID])
}

func TestRecording_ForwardFailureNotPersisted(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()
	factory := proxyctx.NewFactory()

	errResp := factory.NewErrorResponse(http.StatusBadGateway, "backend unreachable")
	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		return errResp, errors.New("refused")
	})

	rec := NewRecording(interceptor.NewChain(logging.Nop()), fwd, repo, newSessions(t, cfg), cfg, factory, logging.Nop(), nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := rec.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Current.Status)
	assert.Equal(t, 0, repo.Count())
}

func newReplay(t *testing.T, cfg *config.Config, repo capture.Repository, fwd Forwarder, templates template.Store) *ReplayMode {
	t.Helper()
	return NewReplay(interceptor.NewChain(logging.Nop()), repo, matching.NewEngine(),
		newSessions(t, cfg), templates, fwd, cfg, proxyctx.NewFactory(), logging.Nop(), nil)
}

func recordFor(method, path string, endpointType capture.EndpointType, userID string, dims capture.Dimensions, status int, body string) *capture.Record {
	rec := capture.NewRecord(endpointType)
	rec.UserID = userID
	rec.Dimensions = dims
	rec.Request = capture.CapturedRequest{Method: method, Path: path}
	rec.Response = capture.CapturedResponse{
		Status:  status,
		Headers: http.Header{"Content-Type": {"application/json"}},
		Body:    []byte(body),
	}
	return rec
}

func TestReplay_ServesCaptureWithFreshCredentials(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()

	rec := recordFor("POST", "/v1/auth/login", capture.EndpointSecure, "u42",
		capture.Dimensions{Platform: "ios", Environment: "staging"},
		200, `{"auth":{"token":"captured-token"}}`)
	rec.Response.Headers.Add("Set-Cookie", cfg.Session.CookieName+"=stale-token; Path=/")
	require.NoError(t, repo.SaveCapturedPair(rec))

	backendCalls := 0
	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		backendCalls++
		return backendResponse(200, "{}"), nil
	})

	r := newReplay(t, cfg, repo, fwd, nil)
	req := buildRequest(t, "POST", "http://backend.test/v1/auth/login",
		map[string]string{
			"X-User-Id":               "u42",
			capture.HeaderPlatform:    "ios",
			capture.HeaderEnvironment: "staging",
		},
		`{"credentials":{"username":"u42"}}`)

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, backendCalls)
	assert.Equal(t, 200, resp.Current.Status)
	assert.Equal(t, proxyctx.SourceCustom, resp.Source)
	assert.Equal(t, "true", req.Metadata[proxyctx.MetaMatched])
	assert.Equal(t, rec.ID, resp.Metadata[proxyctx.MetaCaptureID])

	// Stale credentials are swapped for fresh ones.
	cookies := strings.Join(resp.Current.Headers.Values("Set-Cookie"), "\n")
	assert.NotContains(t, cookies, "stale-token")
	assert.Contains(t, cookies, cfg.Session.CookieName+"=")
	assert.NotContains(t, string(resp.Current.Body), "captured-token")
}

func TestReplay_MostSpecificCaptureWins(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()
	dims := capture.Dimensions{Platform: "ios", Environment: "staging"}

	noParams := recordFor("GET", "/v1/catalog/items", capture.EndpointPublic, "", dims, 200, `{"region":"default"}`)
	withRegion := recordFor("GET", "/v1/catalog/items", capture.EndpointPublic, "", dims, 200, `{"region":"US"}`)
	withRegion.Request.Query = map[string][]string{"region": {"US"}}
	require.NoError(t, repo.SaveCapturedPair(noParams))
	require.NoError(t, repo.SaveCapturedPair(withRegion))

	r := newReplay(t, cfg, repo, nil, nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items?region=US",
		map[string]string{capture.HeaderPlatform: "ios", capture.HeaderEnvironment: "staging"}, "")

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"region":"US"}`, string(resp.Current.Body))
	assert.Equal(t, "1", req.Metadata[proxyctx.MetaMatchScore])
}

func TestReplay_FallbackError(t *testing.T) {
	cfg := modeConfig()
	r := newReplay(t, cfg, capture.NewMemoryRepository(), nil, nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Current.Status)
	assert.Contains(t, string(resp.Current.Body), "No matching response found")
	assert.Equal(t, "false", req.Metadata[proxyctx.MetaMatched])
}

func TestReplay_FallbackPassthrough(t *testing.T) {
	cfg := modeConfig()
	cfg.Replay.Fallback = config.FallbackPassthrough

	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		return backendResponse(200, `{"live":true}`), nil
	})

	r := newReplay(t, cfg, capture.NewMemoryRepository(), fwd, nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Current.Status)
	assert.Equal(t, proxyctx.SourceBackend, resp.Source)
}

func TestReplay_FallbackTemplate(t *testing.T) {
	cfg := modeConfig()
	cfg.Replay.Fallback = config.FallbackTemplate

	templates := template.NewMemoryStore()
	templates.Set(http.StatusNotFound, &template.Response{
		Status:  http.StatusNotFound,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"canned":true}`),
	})

	r := newReplay(t, cfg, capture.NewMemoryRepository(), nil, templates)
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Current.Status)
	assert.JSONEq(t, `{"canned":true}`, string(resp.Current.Body))
}

func TestReplay_NormalizesDuplicateQuery(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()
	dims := capture.Dimensions{Platform: "ios", Environment: "staging"}

	rec := recordFor("GET", "/v1/catalog/items", capture.EndpointPublic, "", dims, 200, `{"ok":true}`)
	rec.Request.Query = map[string][]string{"region": {"US"}}
	require.NoError(t, repo.SaveCapturedPair(rec))

	r := newReplay(t, cfg, repo, nil, nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items?region=US&region=EU",
		map[string]string{capture.HeaderPlatform: "ios", capture.HeaderEnvironment: "staging"}, "")

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Current.Status)
	assert.Equal(t, "true", req.Metadata[proxyctx.MetaMatched])
}

type staticClassifier bool

func (c staticClassifier) Monitored(*proxyctx.RequestContext) bool { return bool(c) }

func TestService_DispatchAndSwitch(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()
	sessions := newSessions(t, cfg)
	factory := proxyctx.NewFactory()

	backendCalls := 0
	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		backendCalls++
		return backendResponse(200, `{"live":true}`), nil
	})

	chain := interceptor.NewChain(logging.Nop())
	svc, err := NewService(ServiceOptions{
		Initial:     Recording,
		Passthrough: NewPassthrough(chain, fwd, factory, logging.Nop()),
		Recording:   NewRecording(chain, fwd, repo, sessions, cfg, factory, logging.Nop(), nil),
		Replay:      newReplay(t, cfg, repo, nil, nil),
		Forwarder:   fwd,
		Factory:     factory,
		Logger:      logging.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, Recording, svc.ActiveMode())

	headers := map[string]string{capture.HeaderPlatform: "ios", capture.HeaderEnvironment: "staging"}

	// Recording hits the backend and persists.
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", headers, "")
	_, err = svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, backendCalls)
	assert.Equal(t, 1, repo.Count())

	// Replay serves from storage, backend untouched, nothing new persisted.
	require.NoError(t, svc.SetMode(Replay))
	req = buildRequest(t, "GET", "http://backend.test/v1/catalog/items", headers, "")
	resp, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, backendCalls)
	assert.Equal(t, 1, repo.Count())
	assert.Equal(t, proxyctx.SourceCustom, resp.Source)

	// Passthrough hits the backend without persisting.
	require.NoError(t, svc.SetMode(Passthrough))
	req = buildRequest(t, "GET", "http://backend.test/v1/catalog/items", headers, "")
	_, err = svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, backendCalls)
	assert.Equal(t, 1, repo.Count())

	assert.ErrorIs(t, svc.SetMode(Mode("observing")), ErrUnknownMode)
}

func TestService_UnmonitoredTrafficBypassesModes(t *testing.T) {
	repo := capture.NewMemoryRepository()
	cfg := modeConfig()
	factory := proxyctx.NewFactory()

	backendCalls := 0
	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		backendCalls++
		return backendResponse(200, "{}"), nil
	})

	svc, err := NewService(ServiceOptions{
		Initial:    Recording,
		Recording:  NewRecording(interceptor.NewChain(logging.Nop()), fwd, repo, newSessions(t, cfg), cfg, factory, logging.Nop(), nil),
		Classifier: staticClassifier(false),
		Forwarder:  fwd,
		Factory:    factory,
		Logger:     logging.Nop(),
	})
	require.NoError(t, err)

	req := buildRequest(t, "GET", "http://thirdparty.test/analytics", nil, "")
	_, err = svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, backendCalls)
	assert.Equal(t, 0, repo.Count(), "unmonitored traffic must never be captured")
}

func TestService_RestoresPersistedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode")
	require.NoError(t, NewFilePersister(path).Save(Replay))

	svc, err := NewService(ServiceOptions{
		Initial:   Passthrough,
		Persister: NewFilePersister(path),
		Logger:    logging.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, Replay, svc.ActiveMode())
}

func TestPassthrough_CriticalRequestFailureYields500(t *testing.T) {
	chain := interceptor.NewChain(logging.Nop())
	chain.AddRequestInterceptor(&interceptor.RequestFunc{
		InterceptorName: "auth-gate",
		Fn: func(_ context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error) {
			return req, interceptor.Critical(errors.New("missing token"))
		},
	})

	p := NewPassthrough(chain, nil, proxyctx.NewFactory(), logging.Nop())
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := p.Handle(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Current.Status)
	assert.Equal(t, proxyctx.SourceDproxy, resp.Source)
	assert.Contains(t, string(resp.Current.Body), "request rejected")
}

func TestPassthrough_CriticalResponseFailureYields500(t *testing.T) {
	fwd := fwdFunc(func(context.Context, *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
		return backendResponse(200, `{"ok":true}`), nil
	})

	chain := interceptor.NewChain(logging.Nop())
	chain.AddResponseInterceptor(&interceptor.ResponseFunc{
		InterceptorName: "strict-validator",
		Fn: func(_ context.Context, _ *proxyctx.RequestContext, resp *proxyctx.ResponseContext) (*proxyctx.ResponseContext, error) {
			return resp, interceptor.Critical(errors.New("schema violation"))
		},
	})

	p := NewPassthrough(chain, fwd, proxyctx.NewFactory(), logging.Nop())
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	// The backend's 200 must never reach the client once a critical
	// response interceptor rejects it.
	resp, err := p.Handle(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Current.Status)
	assert.Equal(t, proxyctx.SourceDproxy, resp.Source)
	assert.Contains(t, string(resp.Current.Body), "response rejected")
}

func TestReplay_CriticalResponseFailureYields500(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()
	require.NoError(t, repo.SaveCapturedPair(
		recordFor("GET", "/v1/catalog/items", capture.EndpointPublic, "", capture.Dimensions{}, 200, `{"ok":true}`)))

	chain := interceptor.NewChain(logging.Nop())
	chain.AddResponseInterceptor(&interceptor.ResponseFunc{
		InterceptorName: "strict-validator",
		Fn: func(_ context.Context, _ *proxyctx.RequestContext, resp *proxyctx.ResponseContext) (*proxyctx.ResponseContext, error) {
			return resp, interceptor.Critical(errors.New("schema violation"))
		},
	})

	r := NewReplay(chain, repo, matching.NewEngine(), newSessions(t, cfg), nil, nil,
		cfg, proxyctx.NewFactory(), logging.Nop(), nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/catalog/items", nil, "")

	resp, err := r.Handle(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Current.Status)
	assert.Equal(t, proxyctx.SourceDproxy, resp.Source)
}

func TestReplay_SwapsSessionCookieOnAnySecureHit(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()

	// /v1/profile/** is secure but matches no session create rule; the
	// capture still carries a stale proxy session cookie.
	rec := recordFor("GET", "/v1/profile/settings", capture.EndpointSecure, "u42",
		capture.Dimensions{}, 200, `{"theme":"dark"}`)
	rec.Response.Headers.Add("Set-Cookie", cfg.Session.CookieName+"=stale-token; Path=/")
	require.NoError(t, repo.SaveCapturedPair(rec))

	r := newReplay(t, cfg, repo, nil, nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/profile/settings",
		map[string]string{"X-User-Id": "u42"}, "")

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	cookies := strings.Join(resp.Current.Headers.Values("Set-Cookie"), "\n")
	assert.NotContains(t, cookies, "stale-token")
	assert.Contains(t, cookies, cfg.Session.CookieName+"=")
}

func TestReplay_NoCookieAddedOutsideCreateRules(t *testing.T) {
	cfg := modeConfig()
	repo := capture.NewMemoryRepository()
	require.NoError(t, repo.SaveCapturedPair(
		recordFor("GET", "/v1/profile/settings", capture.EndpointSecure, "u42",
			capture.Dimensions{}, 200, `{"theme":"dark"}`)))

	r := newReplay(t, cfg, repo, nil, nil)
	req := buildRequest(t, "GET", "http://backend.test/v1/profile/settings",
		map[string]string{"X-User-Id": "u42"}, "")

	resp, err := r.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Current.Headers.Values("Set-Cookie"))
}
