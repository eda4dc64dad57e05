package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/metrics"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// ErrNoTarget is returned when a relative request URL arrives and no
// target base URL is configured.
var ErrNoTarget = errors.New("forward: relative request URL and no target base URL configured")

// Error is returned when all attempts are exhausted. It carries the
// synthetic error ResponseContext so callers can still record and serve
// the failed attempt.
type Error struct {
	Response *proxyctx.ResponseContext
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("forward failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Forwarder.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Factory *proxyctx.Factory
	Metrics *metrics.Proxy

	// Transport overrides the pooled client's transport. Tests use this
	// to inject failures.
	Transport http.RoundTripper
}

// Forwarder sends requests to the backend, picking the strategy per
// request: raw socket for signed transmit endpoints, subprocess for
// HTTPS when evasion is enabled, pooled client otherwise.
type Forwarder struct {
	cfg     *config.Config
	client  *http.Client
	evasion *Evasion
	factory *proxyctx.Factory
	logger  *slog.Logger
	metrics *metrics.Proxy
	stats   Stats

	// sleep is replaceable for retry tests.
	sleep func(time.Duration)
}

// New builds a Forwarder from configuration.
func New(opts Options) *Forwarder {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.Factory
	if factory == nil {
		factory = proxyctx.NewFactory()
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        cfg.Forward.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Forward.MaxConnsPerHost,
			MaxConnsPerHost:     cfg.Forward.MaxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.Forward.InsecureTLS},
		}
	}

	f := &Forwarder{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		metrics: opts.Metrics,
		sleep:   time.Sleep,
		client: &http.Client{
			Transport: transport,
			// Redirects are returned to the client untouched, never followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if cfg.Evasion.Enabled {
		f.evasion = NewEvasion(cfg.Evasion, logger)
	}
	return f
}

// Stats returns a snapshot of the forwarding counters.
func (f *Forwarder) Stats() StatsSnapshot {
	return f.stats.Snapshot()
}

// ResolveTarget computes the absolute backend URL for the working copy
// of the request. Absolute URLs are used verbatim; relative ones are
// joined with the configured target base URL.
func (f *Forwarder) ResolveTarget(req *proxyctx.RequestContext) (*url.URL, error) {
	u, err := url.Parse(req.Current.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing request URL: %w", err)
	}
	if u.IsAbs() {
		u.RawQuery = req.Current.Query.Encode()
		return u, nil
	}
	if f.cfg.Forward.TargetBaseURL == "" {
		return nil, ErrNoTarget
	}
	base, err := url.Parse(f.cfg.Forward.TargetBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing target base URL: %w", err)
	}
	target := base.JoinPath(req.Current.Path)
	target.RawQuery = req.Current.Query.Encode()
	return target, nil
}

// Forward sends the working copy of the request to the backend.
//
// On success (any HTTP status, 5xx included) it returns the populated
// ResponseContext. On transport failure it retries with exponential
// backoff, delay = base * 2^(attempt-1), and after RetryCount retries
// returns a synthetic 502 or 504 ResponseContext wrapped in *Error.
func (f *Forwarder) Forward(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
	target, err := f.ResolveTarget(req)
	if err != nil {
		resp := f.factory.NewErrorResponse(http.StatusBadGateway, err.Error())
		resp.Err = err
		f.stats.recordFailure(0)
		f.observe(strategyUnknown, true)
		return resp, &Error{Response: resp, Err: err}
	}

	strategy := f.pickStrategy(req, target)
	attempts := f.cfg.Forward.RetryCount + 1
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := f.cfg.Forward.RetryBaseDelay * (1 << (attempt - 2))
			f.logger.Debug("retrying forward",
				"id", req.ID, "attempt", attempt, "delay", delay)
			f.sleep(delay)
		}

		attemptStart := time.Now()
		resp, err := f.attempt(ctx, req, target, strategy)
		if err == nil {
			f.stats.recordSuccess(time.Since(attemptStart).Milliseconds())
			f.observe(strategy, false)
			resp.Latency = time.Since(start)
			return resp, nil
		}
		f.stats.recordFailure(time.Since(attemptStart).Milliseconds())
		f.observe(strategy, true)
		lastErr = err
		f.logger.Warn("forward attempt failed",
			"id", req.ID, "strategy", strategy, "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	latency := time.Since(start)

	status := http.StatusBadGateway
	if errors.Is(lastErr, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	resp := f.factory.NewErrorResponse(status, "backend unreachable: "+lastErr.Error())
	resp.Err = lastErr
	resp.Latency = latency
	return resp, &Error{Response: resp, Err: lastErr}
}

type strategy string

const (
	strategyPooled  strategy = "pooled"
	strategyEvade   strategy = "subprocess"
	strategyRaw     strategy = "raw"
	strategyUnknown strategy = "unknown"
)

func (f *Forwarder) pickStrategy(req *proxyctx.RequestContext, target *url.URL) strategy {
	if f.cfg.IsSignedTransmitEndpoint(req.Current.Path) {
		return strategyRaw
	}
	if f.evasion != nil && target.Scheme == "https" {
		return strategyEvade
	}
	return strategyPooled
}

func (f *Forwarder) attempt(ctx context.Context, req *proxyctx.RequestContext, target *url.URL, s strategy) (*proxyctx.ResponseContext, error) {
	attemptCtx := ctx
	if f.cfg.Forward.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.cfg.Forward.Timeout)
		defer cancel()
	}

	switch s {
	case strategyRaw:
		return f.rawForward(attemptCtx, req, target)
	case strategyEvade:
		return f.evasion.Do(attemptCtx, f.factory, req, target)
	default:
		return f.pooledForward(attemptCtx, req, target)
	}
}

func (f *Forwarder) pooledForward(ctx context.Context, req *proxyctx.RequestContext, target *url.URL) (*proxyctx.ResponseContext, error) {
	cur := req.Current

	var body *bytes.Reader
	if len(cur.Body) > 0 {
		body = bytes.NewReader(cur.Body)
	}

	var out *http.Request
	var err error
	if body != nil {
		out, err = http.NewRequestWithContext(ctx, cur.Method, target.String(), body)
	} else {
		out, err = http.NewRequestWithContext(ctx, cur.Method, target.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("building outbound request: %w", err)
	}

	copyOutboundHeaders(out, cur)
	out.Host = target.Host

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		return nil, err
	}
	return f.factory.NewResponseFromBackend(resp, time.Since(start))
}

// copyOutboundHeaders carries the working headers onto the outbound
// request, dropping hop-by-hop fields and the framing headers the
// client recomputes itself.
func copyOutboundHeaders(out *http.Request, cur *proxyctx.RequestSnapshot) {
	for name, vals := range cur.Headers {
		if isHopByHop(name) {
			continue
		}
		for _, v := range vals {
			out.Header.Add(name, v)
		}
	}
	out.Header.Del("Content-Length")
	out.Header.Del("Transfer-Encoding")
	if len(cur.Body) > 0 {
		out.ContentLength = int64(len(cur.Body))
	}
}

func isHopByHop(name string) bool {
	switch strings.ToLower(name) {
	case "connection", "keep-alive", "proxy-authenticate", "proxy-authorization",
		"proxy-connection", "te", "trailer", "upgrade":
		return true
	}
	return false
}

// observe publishes one attempt to the metric set, keeping the latency
// gauge at the running average the stats counters already track.
func (f *Forwarder) observe(s strategy, failed bool) {
	if f.metrics == nil {
		return
	}
	if vec, err := f.metrics.ForwardTotal.WithLabels(string(s)); err == nil {
		_ = vec.Inc()
	}
	if failed {
		if vec, err := f.metrics.ForwardErrors.WithLabels(string(s)); err == nil {
			_ = vec.Inc()
		}
	}
	_ = f.metrics.ForwardLatency.Set(f.stats.Snapshot().AverageLatencyMs)
}
