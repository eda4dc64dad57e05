// Package mode implements the proxy's operating modes and the service
// that dispatches traffic to the active one.
//
// Exactly one mode is active at a time. Passthrough forwards and
// observes, recording forwards and persists the exchange, replay
// answers from persisted captures without touching the backend. Mode
// switches take effect on the next request; in-flight requests finish
// under the mode they started with.
package mode

import (
	"context"
	"errors"
	"fmt"

	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// Mode is one of the proxy's mutually exclusive operating modes.
type Mode string

const (
	// Passthrough forwards requests unchanged and observes traffic.
	Passthrough Mode = "passthrough"
	// Recording forwards requests and persists each exchange.
	Recording Mode = "recording"
	// Replay answers from persisted captures without a backend.
	Replay Mode = "replay"
)

// ErrUnknownMode is returned for mode names outside the valid set.
var ErrUnknownMode = errors.New("unknown mode")

// IsValid checks if the mode is valid.
func (m Mode) IsValid() bool {
	switch m {
	case Passthrough, Recording, Replay:
		return true
	default:
		return false
	}
}

// Parse converts a mode name into a Mode.
func Parse(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Handler processes one request under a specific mode.
type Handler interface {
	// Handle produces the response for the request. A response is
	// always returned, error responses included; the error return is
	// reserved for critical interceptor aborts.
	Handle(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error)
}

// Forwarder is the outbound collaborator the modes depend on.
type Forwarder interface {
	Forward(ctx context.Context, req *proxyctx.RequestContext) (*proxyctx.ResponseContext, error)
}
