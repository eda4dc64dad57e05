package interceptor

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// Chain holds the registered interceptors, ordered by descending
// priority with ties keeping insertion order.
type Chain struct {
	mu       sync.RWMutex
	request  []RequestInterceptor
	response []ResponseInterceptor
	logger   *slog.Logger
}

// NewChain creates an empty chain. A nil logger disables logging.
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Chain{logger: logger}
}

// AddRequestInterceptor inserts the interceptor and re-sorts the chain.
func (c *Chain) AddRequestInterceptor(i RequestInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.request = append(c.request, i)
	sort.SliceStable(c.request, func(a, b int) bool {
		return c.request[a].Priority() > c.request[b].Priority()
	})
}

// AddResponseInterceptor inserts the interceptor and re-sorts the chain.
func (c *Chain) AddResponseInterceptor(i ResponseInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = append(c.response, i)
	sort.SliceStable(c.response, func(a, b int) bool {
		return c.response[a].Priority() > c.response[b].Priority()
	})
}

// RequestInterceptors returns a snapshot of the request chain.
func (c *Chain) RequestInterceptors() []RequestInterceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RequestInterceptor, len(c.request))
	copy(out, c.request)
	return out
}

// ResponseInterceptors returns a snapshot of the response chain.
func (c *Chain) ResponseInterceptors() []ResponseInterceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResponseInterceptor, len(c.response))
	copy(out, c.response)
	return out
}

// ExecuteRequest runs enabled request interceptors in priority order,
// replacing the working context with each interceptor's return value.
// Non-critical failures are logged and skipped; a critical failure
// aborts the remainder and propagates.
func (c *Chain) ExecuteRequest(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error) {
	for _, i := range c.RequestInterceptors() {
		if !i.Enabled() {
			continue
		}
		next, err := i.Execute(ctx, req)
		if err != nil {
			if IsCritical(err) {
				c.logger.Error("critical request interceptor failure, aborting chain",
					"interceptor", i.Name(), "error", err)
				return req, err
			}
			c.logger.Warn("request interceptor failed, continuing",
				"interceptor", i.Name(), "error", err)
			continue
		}
		if next != nil {
			req = next
		}
	}
	return req, nil
}

// ExecuteResponse runs enabled response interceptors in priority order
// with the peer request context available for correlation.
func (c *Chain) ExecuteResponse(ctx context.Context, req *proxyctx.RequestContext, resp *proxyctx.ResponseContext) (*proxyctx.ResponseContext, error) {
	for _, i := range c.ResponseInterceptors() {
		if !i.Enabled() {
			continue
		}
		next, err := i.Execute(ctx, req, resp)
		if err != nil {
			if IsCritical(err) {
				c.logger.Error("critical response interceptor failure, aborting chain",
					"interceptor", i.Name(), "error", err)
				return resp, err
			}
			c.logger.Warn("response interceptor failed, continuing",
				"interceptor", i.Name(), "error", err)
			continue
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

// discardHandler is a slog.Handler that drops everything.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
