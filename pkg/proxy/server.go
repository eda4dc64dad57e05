// Package proxy is the HTTP front of dproxy: it accepts client
// traffic, builds the request context, and dispatches to the active
// mode. A small control surface under /_dproxy/ manages the proxy at
// runtime.
package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/getdproxy/dproxy/pkg/capture"
	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/forward"
	"github.com/getdproxy/dproxy/pkg/httputil"
	"github.com/getdproxy/dproxy/pkg/metrics"
	"github.com/getdproxy/dproxy/pkg/mode"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// ControlPrefix is the path prefix reserved for the control surface.
// Requests under it never reach the modes.
const ControlPrefix = "/_dproxy/"

// Options configures a Server.
type Options struct {
	Config    *config.Config
	Service   *mode.Service
	Factory   *proxyctx.Factory
	Forwarder *forward.Forwarder
	Repo      capture.Repository
	Metrics   *metrics.Proxy
	Logger    *slog.Logger
}

// Server accepts proxy traffic and serves the control surface.
type Server struct {
	cfg       *config.Config
	service   *mode.Service
	factory   *proxyctx.Factory
	forwarder *forward.Forwarder
	repo      capture.Repository
	metrics   *metrics.Proxy
	logger    *slog.Logger
	control   *http.ServeMux
	httpSrv   *http.Server
	startedAt time.Time
}

// New builds the server and its control mux.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.Factory
	if factory == nil {
		factory = proxyctx.NewFactory()
	}
	s := &Server{
		cfg:       opts.Config,
		service:   opts.Service,
		factory:   factory,
		forwarder: opts.Forwarder,
		repo:      opts.Repo,
		metrics:   opts.Metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.control = s.buildControlMux()
	return s
}

// ServeHTTP routes control traffic to the control mux and everything
// else through the mode dispatcher.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ControlPrefix) {
		s.control.ServeHTTP(w, r)
		return
	}
	s.handleProxied(w, r)
}

func (s *Server) handleProxied(w http.ResponseWriter, r *http.Request) {
	req, err := s.factory.NewRequestContext(r, proxyctx.Options{})
	if err != nil {
		s.logger.Error("building request context failed", "error", err)
		httputil.WriteBadGateway(w, "reading request failed")
		return
	}

	resp, err := s.service.Handle(r.Context(), req)
	if err != nil {
		s.logger.Warn("request handling failed",
			"id", req.ID, "method", req.Current.Method, "path", req.Current.Path, "error", err)
	}
	if resp == nil {
		httputil.WriteInternalError(w, "no response produced")
		return
	}
	resp.WriteTo(w)
}

// ListenAndServe blocks serving on the configured address until the
// context is canceled, then drains with a shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts proxy traffic on ln until the context is canceled.
// Every connection is wrapped in a recorder so the exact wire bytes of
// each request stay available to the context factory.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if rc, ok := c.(*proxyctx.RecordedConn); ok {
				return proxyctx.WithConn(ctx, rc)
			}
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dproxy listening", "addr", ln.Addr().String(), "mode", string(s.service.ActiveMode()))
		errCh <- s.httpSrv.Serve(&proxyctx.RecordedListener{Listener: ln})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
