package mode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getdproxy/dproxy/pkg/metrics"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// Classifier decides whether a request belongs to the monitored
// backend traffic. Non-monitored requests are always passed through
// live and skip the response pipeline, keeping third-party noise out
// of captures.
type Classifier interface {
	Monitored(req *proxyctx.RequestContext) bool
}

// StatePersister survives the active mode across restarts.
type StatePersister interface {
	// Save persists the mode.
	Save(m Mode) error
	// Load returns the persisted mode, false when none exists.
	Load() (Mode, bool, error)
}

// Service owns the active mode and dispatches each request to the
// matching handler.
type Service struct {
	mu     sync.RWMutex
	active Mode

	handlers   map[Mode]Handler
	classifier Classifier
	persister  StatePersister
	forwarder  Forwarder
	factory    *proxyctx.Factory
	logger     *slog.Logger
	metrics    *metrics.Proxy
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Initial is the starting mode when no persisted mode exists.
	Initial Mode

	Passthrough Handler
	Recording   Handler
	Replay      Handler

	// Classifier may be nil, in which case all traffic is monitored.
	Classifier Classifier
	// Persister may be nil, in which case the mode lives in memory only.
	Persister StatePersister

	// Forwarder serves non-monitored traffic directly.
	Forwarder Forwarder
	Factory   *proxyctx.Factory
	Logger    *slog.Logger
	Metrics   *metrics.Proxy
}

// NewService wires the mode dispatcher. A persisted mode, when present
// and valid, wins over the configured initial mode.
func NewService(opts ServiceOptions) (*Service, error) {
	initial := opts.Initial
	if initial == "" {
		initial = Passthrough
	}
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, initial)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		active: initial,
		handlers: map[Mode]Handler{
			Passthrough: opts.Passthrough,
			Recording:   opts.Recording,
			Replay:      opts.Replay,
		},
		classifier: opts.Classifier,
		persister:  opts.Persister,
		forwarder:  opts.Forwarder,
		factory:    opts.Factory,
		logger:     logger,
		metrics:    opts.Metrics,
	}
	if s.factory == nil {
		s.factory = proxyctx.NewFactory()
	}

	if s.persister != nil {
		persisted, ok, err := s.persister.Load()
		if err != nil {
			logger.Warn("loading persisted mode failed, using initial", "error", err)
		} else if ok && persisted.IsValid() {
			s.active = persisted
			logger.Info("restored persisted mode", "mode", string(persisted))
		}
	}
	s.gaugeMode(s.active)
	return s, nil
}

// ActiveMode returns the currently active mode.
func (s *Service) ActiveMode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetMode switches the active mode. The switch applies to requests
// dispatched after it returns; in-flight requests keep their mode.
func (s *Service) SetMode(m Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}

	s.mu.Lock()
	prev := s.active
	s.active = m
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(m); err != nil {
			s.logger.Error("persisting mode failed", "mode", string(m), "error", err)
		}
	}
	s.gaugeMode(m)
	s.logger.Info("mode switched", "from", string(prev), "to", string(m))
	return nil
}

// Handle dispatches the request to the active mode's handler.
// Non-monitored traffic bypasses the modes entirely.
func (s *Service) Handle(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error) {
	if s.classifier != nil && !s.classifier.Monitored(req) {
		resp, err := s.forwarder.Forward(ctx, req)
		if err != nil {
			s.logger.Debug("unmonitored forward failed", "id", req.ID, "error", err)
		}
		return resp, nil
	}

	active := s.ActiveMode()
	handler := s.handlers[active]
	if handler == nil {
		return s.factory.NewErrorResponse(500, "no handler for mode "+string(active)),
			fmt.Errorf("no handler registered for mode %q", active)
	}

	if s.metrics != nil {
		if vec, verr := s.metrics.ModeRequests.WithLabels(string(active)); verr == nil {
			_ = vec.Inc()
		}
	}
	resp, err := handler.Handle(ctx, req)
	if err != nil && s.metrics != nil {
		if vec, verr := s.metrics.ModeErrors.WithLabels(string(active)); verr == nil {
			_ = vec.Inc()
		}
	}
	return resp, err
}

// gaugeMode exposes the active mode as a one-hot labeled gauge.
func (s *Service) gaugeMode(active Mode) {
	if s.metrics == nil {
		return
	}
	for _, m := range []Mode{Passthrough, Recording, Replay} {
		vec, err := s.metrics.ActiveMode.WithLabels(string(m))
		if err != nil {
			continue
		}
		if m == active {
			vec.Set(1)
		} else {
			vec.Set(0)
		}
	}
}
