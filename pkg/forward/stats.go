package forward

import (
	"sync/atomic"
)

// Stats tracks forwarding attempts. All fields are updated atomically
// per attempt regardless of the strategy used.
type Stats struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	latencyMs atomic.Int64 // cumulative, for the running average
}

// StatsSnapshot is a point-in-time copy of the forwarding stats.
type StatsSnapshot struct {
	TotalRequests      int64   `json:"totalRequests"`
	SuccessfulRequests int64   `json:"successfulRequests"`
	FailedRequests     int64   `json:"failedRequests"`
	AverageLatencyMs   float64 `json:"averageLatencyMs"`
}

func (s *Stats) recordSuccess(latencyMs int64) {
	s.total.Add(1)
	s.succeeded.Add(1)
	s.latencyMs.Add(latencyMs)
}

func (s *Stats) recordFailure(latencyMs int64) {
	s.total.Add(1)
	s.failed.Add(1)
	s.latencyMs.Add(latencyMs)
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	total := s.total.Load()
	snap := StatsSnapshot{
		TotalRequests:      total,
		SuccessfulRequests: s.succeeded.Load(),
		FailedRequests:     s.failed.Load(),
	}
	if total > 0 {
		snap.AverageLatencyMs = float64(s.latencyMs.Load()) / float64(total)
	}
	return snap
}
