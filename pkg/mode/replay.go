package mode

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/getdproxy/dproxy/internal/matching"
	"github.com/getdproxy/dproxy/pkg/capture"
	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/interceptor"
	"github.com/getdproxy/dproxy/pkg/metrics"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
	"github.com/getdproxy/dproxy/pkg/session"
	"github.com/getdproxy/dproxy/pkg/template"
)

// ReplayMode answers requests from persisted captures. The backend is
// never contacted except under the passthrough fallback.
type ReplayMode struct {
	chain     *interceptor.Chain
	repo      capture.Repository
	engine    *matching.Engine
	sessions  session.Manager
	templates template.Store
	forwarder Forwarder
	cfg       *config.Config
	factory   *proxyctx.Factory
	logger    *slog.Logger
	metrics   *metrics.Proxy
}

// NewReplay builds the replay handler. The forwarder is only used for
// the passthrough fallback and may be nil when that fallback is not
// configured.
func NewReplay(chain *interceptor.Chain, repo capture.Repository, engine *matching.Engine, sessions session.Manager, templates template.Store, fwd Forwarder, cfg *config.Config, factory *proxyctx.Factory, logger *slog.Logger, m *metrics.Proxy) *ReplayMode {
	return &ReplayMode{
		chain:     chain,
		repo:      repo,
		engine:    engine,
		sessions:  sessions,
		templates: templates,
		forwarder: fwd,
		cfg:       cfg,
		factory:   factory,
		logger:    logger,
		metrics:   m,
	}
}

// Handle looks up a matching capture and serves it, falling back per
// configuration when nothing matches.
func (r *ReplayMode) Handle(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
	req.Metadata[proxyctx.MetaMode] = string(Replay)

	req, err := r.chain.ExecuteRequest(ctx, req)
	if err != nil {
		return r.factory.NewErrorResponse(http.StatusInternalServerError, "request rejected: "+err.Error()), err
	}

	// Duplicate query values would make lookups order-dependent.
	req.NormalizeQuery()

	endpointType := capture.EndpointPublic
	if r.cfg.IsSecureEndpoint(req.Current.Path) {
		endpointType = capture.EndpointSecure
	}
	req.Metadata[proxyctx.MetaEndpointType] = string(endpointType)

	userID := r.identity(req)
	if userID != "" {
		req.Metadata[proxyctx.MetaUserID] = userID
	}

	resp, matched := r.lookup(req, endpointType, userID)
	if !matched {
		resp, err = r.fallback(ctx, req)
		if err != nil {
			return resp, err
		}
	} else if endpointType == capture.EndpointSecure && r.sessions != nil {
		r.refreshCredentials(req, resp, userID)
	}

	resp, err = r.chain.ExecuteResponse(ctx, req, resp)
	if err != nil {
		return r.factory.NewErrorResponse(http.StatusInternalServerError, "response rejected: "+err.Error()), err
	}
	return resp, nil
}

func (r *ReplayMode) lookup(req *proxyctx.RequestContext, endpointType capture.EndpointType, userID string) (*proxyctx.ResponseContext, bool) {
	candidates, err := r.repo.FindCandidates(req.Current.Method, req.Current.Path, userID, endpointType)
	if err != nil {
		r.logger.Error("candidate lookup failed", "id", req.ID, "error", err)
		return nil, false
	}
	cfg, err := r.repo.GetEndpointMatchConfig(req.Current.Method, req.Current.Path, endpointType)
	if err != nil {
		r.logger.Error("match config lookup failed", "id", req.ID, "error", err)
		cfg = nil
	}

	res, err := r.engine.Match(req, candidates, cfg)
	if err != nil {
		if !errors.Is(err, matching.ErrNoMatch) {
			r.logger.Error("match engine failed", "id", req.ID, "error", err)
		}
		if r.metrics != nil {
			_ = r.metrics.ReplayMisses.Inc()
		}
		r.logger.Info("replay miss",
			"id", req.ID, "method", req.Current.Method, "path", req.Current.Path,
			"candidates", len(candidates))
		req.Metadata[proxyctx.MetaMatched] = "false"
		return nil, false
	}

	if r.metrics != nil {
		_ = r.metrics.ReplayHits.Inc()
	}
	req.Metadata[proxyctx.MetaMatched] = "true"
	req.Metadata[proxyctx.MetaMatchScore] = strconv.Itoa(res.Score)
	r.logger.Debug("replay hit",
		"id", req.ID, "captureId", res.Record.ID, "score", res.Score)

	resp := r.factory.NewResponseFromCapture(res.Record)
	return resp, true
}

// identity resolves the caller for secure lookups: the identity header
// first, then a presented proxy session cookie.
func (r *ReplayMode) identity(req *proxyctx.RequestContext) string {
	if r.sessions == nil {
		return ""
	}
	if userID := r.sessions.ExtractUserID(req); userID != "" {
		return userID
	}

	cookieHeader := req.Current.Headers.Get("Cookie")
	if cookieHeader == "" {
		return ""
	}
	parsed, err := http.ParseCookie(cookieHeader)
	if err != nil {
		return ""
	}
	for _, c := range parsed {
		if c.Name != r.cfg.Session.CookieName {
			continue
		}
		userID, sessionID, err := r.sessions.ValidateToken(c.Value)
		if err != nil {
			continue
		}
		req.Metadata[proxyctx.MetaSessionID] = sessionID
		return userID
	}
	return ""
}

// refreshCredentials swaps the capture's stale session cookie and any
// body-embedded auth tokens for fresh ones so the client accepts the
// replayed response. Any secure capture carrying a session cookie gets
// the swap; session-creating endpoints additionally get a cookie even
// when the capture has none.
func (r *ReplayMode) refreshCredentials(req *proxyctx.RequestContext, resp *proxyctx.ResponseContext, userID string) {
	if r.capturedSessionCookie(resp) || r.sessions.ShouldCreateSession(req.Current.Method, req.Current.Path) {
		sessionID, err := r.sessions.RewriteSessionInSetCookie(resp, userID)
		if err != nil {
			r.logger.Warn("session rewrite failed", "id", req.ID, "error", err)
		} else {
			req.Metadata[proxyctx.MetaSessionID] = sessionID
		}
	}
	if err := r.sessions.RewriteAuthTokenInBody(resp, req.Current.Path); err != nil {
		r.logger.Warn("auth token rewrite failed", "id", req.ID, "error", err)
	}
}

func (r *ReplayMode) capturedSessionCookie(resp *proxyctx.ResponseContext) bool {
	prefix := r.cfg.Session.CookieName + "="
	for _, v := range resp.Current.Headers.Values("Set-Cookie") {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

func (r *ReplayMode) fallback(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
	switch r.cfg.Replay.Fallback {
	case config.FallbackPassthrough:
		if r.forwarder != nil {
			resp, err := r.forwarder.Forward(ctx, req)
			if err != nil {
				r.logger.Warn("fallback forward failed", "id", req.ID, "error", err)
			}
			return resp, nil
		}

	case config.FallbackTemplate:
		if r.templates != nil {
			if tpl, ok := r.templates.GetTemplateForStatus(http.StatusNotFound); ok {
				return r.factory.NewResponseFromTemplate(tpl), nil
			}
		}
	}
	return r.factory.NewErrorResponse(http.StatusNotFound, "No matching response found"), nil
}
