package metrics

// Proxy holds the standard dproxy metric set, registered once at startup
// and shared by the forwarding layer and the mode orchestrator.
type Proxy struct {
	Registry *Registry

	// Forwarding layer
	ForwardTotal   *Counter
	ForwardErrors  *Counter
	ForwardLatency *Gauge

	// Mode orchestrator
	ModeRequests *Counter
	ModeErrors   *Counter
	ReplayHits   *Counter
	ReplayMisses *Counter
	Recorded     *Counter
	ActiveMode   *Gauge
}

// NewProxy creates a registry pre-populated with the dproxy metric set.
func NewProxy() *Proxy {
	r := NewRegistry()
	return &Proxy{
		Registry: r,

		ForwardTotal:   r.NewCounter("dproxy_forward_requests_total", "Outbound forwarding attempts by strategy", "strategy"),
		ForwardErrors:  r.NewCounter("dproxy_forward_errors_total", "Outbound forwarding failures by strategy", "strategy"),
		ForwardLatency: r.NewGauge("dproxy_forward_latency_avg_ms", "Running average forward latency in milliseconds"),

		ModeRequests: r.NewCounter("dproxy_mode_requests_total", "Requests handled by mode", "mode"),
		ModeErrors:   r.NewCounter("dproxy_mode_errors_total", "Request handling errors by mode", "mode"),
		ReplayHits:   r.NewCounter("dproxy_replay_hits_total", "Replay requests answered from a capture"),
		ReplayMisses: r.NewCounter("dproxy_replay_misses_total", "Replay requests with no matching capture"),
		Recorded:     r.NewCounter("dproxy_recorded_total", "Request/response pairs persisted while recording"),
		ActiveMode:   r.NewGauge("dproxy_active_mode", "Currently active mode (1 = active)", "mode"),
	}
}
