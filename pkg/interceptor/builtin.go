package interceptor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// Correlation header attached to every monitored request.
const CorrelationHeader = "X-Dproxy-Correlation-Id"

// NewCorrelation returns a high-priority request interceptor that tags
// every request with a correlation id, in both the working headers and
// the context metadata.
func NewCorrelation() RequestInterceptor {
	return &RequestFunc{
		InterceptorName: "correlation",
		Prio:            1000,
		Fn: func(_ context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error) {
			cid := uuid.NewString()
			req.SetHeader(CorrelationHeader, cid)
			req.Metadata[proxyctx.MetaCorrelationID] = cid
			return req, nil
		},
	}
}

// NewRequestLogger returns a low-priority request interceptor that logs
// each monitored request. Logging failures can never block traffic, so
// it returns no errors at all.
func NewRequestLogger(logger *slog.Logger) RequestInterceptor {
	return &RequestFunc{
		InterceptorName: "request-log",
		Prio:            -1000,
		Fn: func(_ context.Context, req *proxyctx.RequestContext) (*proxyctx.RequestContext, error) {
			logger.Info("request",
				"id", req.ID,
				"method", req.Current.Method,
				"path", req.Current.Path,
				"client", req.Original.ClientAddr)
			return req, nil
		},
	}
}

// NewResponseLogger returns a low-priority response interceptor that
// logs each response with its source and latency.
func NewResponseLogger(logger *slog.Logger) ResponseInterceptor {
	return &ResponseFunc{
		InterceptorName: "response-log",
		Prio:            -1000,
		Fn: func(_ context.Context, req *proxyctx.RequestContext, resp *proxyctx.ResponseContext) (*proxyctx.ResponseContext, error) {
			logger.Info("response",
				"id", req.ID,
				"status", resp.Current.Status,
				"source", string(resp.Source),
				"latency", resp.Latency)
			return resp, nil
		},
	}
}
