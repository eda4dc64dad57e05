// Package interceptor provides the priority-ordered pre- and
// post-processing pipeline executed around forwarding.
//
// Interceptors run strictly sequentially for one request. A failing
// interceptor is logged and skipped so that telemetry and logging steps
// can never block traffic; only errors wrapped with Critical abort the
// chain and propagate to the mode handler.
package interceptor

import (
	"context"
	"errors"

	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// RequestInterceptor transforms a request context before forwarding.
type RequestInterceptor interface {
	// Execute returns the replacement request context.
	Execute(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error)
	// Enabled reports whether the interceptor currently runs.
	Enabled() bool
	// Priority orders execution; higher runs first.
	Priority() int
	// Name identifies the interceptor in logs.
	Name() string
}

// ResponseInterceptor transforms a response context after forwarding.
// It also receives the peer request context for correlation.
type ResponseInterceptor interface {
	Execute(ctx context.Context, req *proxyctx.RequestContext, resp *proxyctx.ResponseContext) (*proxyctx.ResponseContext, error)
	Enabled() bool
	Priority() int
	Name() string
}

// criticalError marks an interceptor failure that must abort the chain.
type criticalError struct {
	err error
}

func (e *criticalError) Error() string { return e.err.Error() }
func (e *criticalError) Unwrap() error { return e.err }

// Critical wraps an error so that the chain aborts and the failure
// propagates to the mode handler.
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return &criticalError{err: err}
}

// IsCritical reports whether the error carries the critical flag.
func IsCritical(err error) bool {
	var ce *criticalError
	return errors.As(err, &ce)
}

// RequestFunc adapts a function to a RequestInterceptor.
type RequestFunc struct {
	InterceptorName string
	Prio            int
	Disabled        bool
	Fn              func(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error)
}

// Execute runs the wrapped function.
func (f *RequestFunc) Execute(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error) {
	return f.Fn(ctx, req)
}

// Enabled reports whether the interceptor runs.
func (f *RequestFunc) Enabled() bool { return !f.Disabled }

// Priority orders execution; higher runs first.
func (f *RequestFunc) Priority() int { return f.Prio }

// Name identifies the interceptor in logs.
func (f *RequestFunc) Name() string { return f.InterceptorName }

// ResponseFunc adapts a function to a ResponseInterceptor.
type ResponseFunc struct {
	InterceptorName string
	Prio            int
	Disabled        bool
	Fn              func(ctx context.Context, req *proxyctx.RequestContext, resp *proxyctx.ResponseContext) (*proxyctx.ResponseContext, error)
}

// Execute runs the wrapped function.
func (f *ResponseFunc) Execute(ctx context.Context, req *proxyctx.RequestContext, resp *proxyctx.ResponseContext) (*proxyctx.ResponseContext, error) {
	return f.Fn(ctx, req, resp)
}

// Enabled reports whether the interceptor runs.
func (f *ResponseFunc) Enabled() bool { return !f.Disabled }

// Priority orders execution; higher runs first.
func (f *ResponseFunc) Priority() int { return f.Prio }

// Name identifies the interceptor in logs.
func (f *ResponseFunc) Name() string { return f.InterceptorName }
