package mode

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/getdproxy/dproxy/pkg/interceptor"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// PassthroughMode forwards requests to the real backend. Interceptors
// still run, so traffic can be observed and shaped, but nothing is
// persisted.
type PassthroughMode struct {
	chain     *interceptor.Chain
	forwarder Forwarder
	factory   *proxyctx.Factory
	logger    *slog.Logger
}

// NewPassthrough builds the passthrough handler.
func NewPassthrough(chain *interceptor.Chain, fwd Forwarder, factory *proxyctx.Factory, logger *slog.Logger) *PassthroughMode {
	return &PassthroughMode{
		chain:     chain,
		forwarder: fwd,
		factory:   factory,
		logger:    logger,
	}
}

// Handle runs the interceptor pipeline around a live forward.
func (p *PassthroughMode) Handle(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
	req.Metadata[proxyctx.MetaMode] = string(Passthrough)

	req, err := p.chain.ExecuteRequest(ctx, req)
	if err != nil {
		return p.factory.NewErrorResponse(http.StatusInternalServerError, "request rejected: "+err.Error()), err
	}

	resp, fwdErr := p.forwarder.Forward(ctx, req)
	if fwdErr != nil {
		// The forwarder already built the error response; serve it.
		p.logger.Warn("passthrough forward failed", "id", req.ID, "error", fwdErr)
	}

	resp, err = p.chain.ExecuteResponse(ctx, req, resp)
	if err != nil {
		return p.factory.NewErrorResponse(http.StatusInternalServerError, "response rejected: "+err.Error()), err
	}
	return resp, nil
}
