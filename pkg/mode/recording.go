package mode

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/getdproxy/dproxy/pkg/capture"
	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/interceptor"
	"github.com/getdproxy/dproxy/pkg/metrics"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
	"github.com/getdproxy/dproxy/pkg/session"
)

// RecordingMode forwards requests live and persists each unmodified
// request/response pair for later replay. What goes into storage is
// the Original snapshots, so interceptor rewrites and the session
// decoration below never leak into captures.
type RecordingMode struct {
	chain     *interceptor.Chain
	forwarder Forwarder
	repo      capture.Repository
	sessions  session.Manager
	cfg       *config.Config
	factory   *proxyctx.Factory
	logger    *slog.Logger
	metrics   *metrics.Proxy
}

// NewRecording builds the recording handler.
func NewRecording(chain *interceptor.Chain, fwd Forwarder, repo capture.Repository, sessions session.Manager, cfg *config.Config, factory *proxyctx.Factory, logger *slog.Logger, m *metrics.Proxy) *RecordingMode {
	return &RecordingMode{
		chain:     chain,
		forwarder: fwd,
		repo:      repo,
		sessions:  sessions,
		cfg:       cfg,
		factory:   factory,
		logger:    logger,
		metrics:   m,
	}
}

// Handle forwards, persists, and decorates.
func (r *RecordingMode) Handle(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
	req.Metadata[proxyctx.MetaMode] = string(Recording)

	req, err := r.chain.ExecuteRequest(ctx, req)
	if err != nil {
		return r.factory.NewErrorResponse(http.StatusInternalServerError, "request rejected: "+err.Error()), err
	}

	endpointType := r.classifyEndpoint(req.Current.Path)
	req.Metadata[proxyctx.MetaEndpointType] = string(endpointType)

	// Identity and session eligibility are read off the request before
	// forwarding, while the inbound credentials are still present.
	createSession := r.sessions != nil &&
		r.sessions.ShouldCreateSession(req.Current.Method, req.Current.Path)
	userID := ""
	if r.sessions != nil {
		userID = r.sessions.ExtractUserID(req)
	}
	if userID != "" {
		req.Metadata[proxyctx.MetaUserID] = userID
	}

	resp, fwdErr := r.forwarder.Forward(ctx, req)
	if fwdErr != nil {
		r.logger.Warn("recording forward failed, nothing persisted", "id", req.ID, "error", fwdErr)
	} else {
		r.persist(req, resp, endpointType, userID)
	}

	if createSession && userID != "" && resp.Source == proxyctx.SourceBackend {
		if _, err := r.sessions.RewriteSessionInSetCookie(resp, userID); err != nil {
			r.logger.Warn("session decoration failed", "id", req.ID, "error", err)
		}
	}

	resp, err = r.chain.ExecuteResponse(ctx, req, resp)
	if err != nil {
		return r.factory.NewErrorResponse(http.StatusInternalServerError, "response rejected: "+err.Error()), err
	}
	return resp, nil
}

func (r *RecordingMode) classifyEndpoint(path string) capture.EndpointType {
	if r.cfg.IsSecureEndpoint(path) {
		return capture.EndpointSecure
	}
	return capture.EndpointPublic
}

// persist stores the unmodified exchange. Persistence failures are
// logged and swallowed: the client still gets its response.
func (r *RecordingMode) persist(req *proxyctx.RequestContext, resp *proxyctx.ResponseContext, endpointType capture.EndpointType, userID string) {
	rec := capture.NewRecord(endpointType)
	if endpointType == capture.EndpointSecure {
		rec.UserID = userID
	}
	rec.Dimensions = capture.DimensionsFromHeaders(req.Original.Headers)
	rec.Request = capture.CapturedRequest{
		Method:  req.Original.Method,
		Path:    req.Original.Path,
		Query:   req.Original.Query,
		Headers: req.Original.Headers,
		Body:    req.Original.Body,
		Raw:     req.Original.Raw,
	}
	rec.Response = capture.CapturedResponse{
		Status:     resp.Original.Status,
		StatusText: resp.Original.StatusText,
		Headers:    resp.Original.Headers,
		Body:       resp.Original.Body,
	}
	rec.Latency = resp.Latency
	if cid := req.Metadata[proxyctx.MetaCorrelationID]; cid != "" {
		rec.CorrelationIDs = append(rec.CorrelationIDs, cid)
	}

	if err := r.repo.SaveCapturedPair(rec); err != nil {
		r.logger.Error("persisting capture failed", "id", req.ID, "error", err)
		return
	}
	req.Metadata[proxyctx.MetaCaptureID] = rec.ID
	if r.metrics != nil {
		_ = r.metrics.Recorded.Inc()
	}
	r.logger.Debug("captured exchange",
		"id", req.ID, "captureId", rec.ID, "endpointType", string(endpointType))
}
