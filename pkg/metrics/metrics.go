package metrics

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrLabelCountMismatch is returned when the number of label values doesn't match the defined labels.
var ErrLabelCountMismatch = errors.New("label count mismatch")

// ErrNegativeCounterValue is returned when attempting to add a negative value to a counter.
var ErrNegativeCounterValue = errors.New("counter cannot be decreased")

// ErrDuplicateMetric is returned when registering a metric with a name that is already registered.
var ErrDuplicateMetric = errors.New("duplicate metric name")

// atomicFloat64 provides atomic operations for float64 values.
// It stores the bits of the float64 as a uint64 for atomic access.
type atomicFloat64 struct {
	bits uint64
}

// Load atomically loads and returns the float64 value.
func (a *atomicFloat64) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64(&a.bits))
}

// Store atomically stores the float64 value.
func (a *atomicFloat64) Store(val float64) {
	atomic.StoreUint64(&a.bits, math.Float64bits(val))
}

// Add atomically adds delta to the float64 value using CAS loop.
func (a *atomicFloat64) Add(delta float64) {
	for {
		old := atomic.LoadUint64(&a.bits)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(&a.bits, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// MetricType represents the type of a metric.
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Metric is the interface implemented by all metric types.
type Metric interface {
	// Name returns the metric name.
	Name() string
	// Help returns the help text.
	Help() string
	// Type returns the metric type.
	Type() MetricType
	// Collect returns all metric samples for exposition.
	Collect() []Sample
}

// Sample represents a single metric sample with labels.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]*counterValue
}

type counterValue struct {
	labels map[string]string
	value  atomicFloat64
}

func newCounter(name, help string, labelNames []string) *Counter {
	return &Counter{
		name:       name,
		help:       help,
		labelNames: labelNames,
		values:     make(map[string]*counterValue),
	}
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Help returns the help text.
func (c *Counter) Help() string { return c.help }

// Type returns the metric type.
func (c *Counter) Type() MetricType { return MetricTypeCounter }

// WithLabels returns a CounterVec for the given label values.
// The number of values must match the number of label names.
func (c *Counter) WithLabels(values ...string) (*CounterVec, error) {
	if len(values) != len(c.labelNames) {
		return nil, fmt.Errorf("%w: counter %s expected %d labels, got %d", ErrLabelCountMismatch, c.name, len(c.labelNames), len(values))
	}

	key := labelsKey(values)
	c.mu.RLock()
	cv, ok := c.values[key]
	c.mu.RUnlock()

	if !ok {
		labels := make(map[string]string, len(c.labelNames))
		for i, name := range c.labelNames {
			labels[name] = values[i]
		}

		c.mu.Lock()
		// Double-check after acquiring write lock
		cv, ok = c.values[key]
		if !ok {
			cv = &counterValue{labels: labels}
			c.values[key] = cv
		}
		c.mu.Unlock()
	}

	return &CounterVec{cv: cv}, nil
}

// Inc increments the counter by 1 (for counters without labels).
func (c *Counter) Inc() error {
	return c.Add(1)
}

// Add adds the given value to the counter (for counters without labels).
// Returns an error if delta is negative.
func (c *Counter) Add(delta float64) error {
	if delta < 0 {
		return fmt.Errorf("%w: counter %s", ErrNegativeCounterValue, c.name)
	}
	vec, err := c.WithLabels()
	if err != nil {
		return err
	}
	return vec.Add(delta)
}

// Collect returns all metric samples.
func (c *Counter) Collect() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	samples := make([]Sample, 0, len(c.values))
	for _, cv := range c.values {
		samples = append(samples, Sample{
			Name:   c.name,
			Labels: cv.labels,
			Value:  cv.value.Load(),
		})
	}
	return samples
}

// CounterVec provides methods for a specific label combination.
type CounterVec struct {
	cv *counterValue
}

// Inc increments the counter by 1.
func (v *CounterVec) Inc() error {
	return v.Add(1)
}

// Add adds the given value to the counter.
// Returns an error if delta is negative.
func (v *CounterVec) Add(delta float64) error {
	if delta < 0 {
		return ErrNegativeCounterValue
	}
	v.cv.value.Add(delta)
	return nil
}

// Gauge is a metric that can arbitrarily go up and down.
type Gauge struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]*gaugeValue
}

type gaugeValue struct {
	labels map[string]string
	value  atomicFloat64
}

func newGauge(name, help string, labelNames []string) *Gauge {
	return &Gauge{
		name:       name,
		help:       help,
		labelNames: labelNames,
		values:     make(map[string]*gaugeValue),
	}
}

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Help returns the help text.
func (g *Gauge) Help() string { return g.help }

// Type returns the metric type.
func (g *Gauge) Type() MetricType { return MetricTypeGauge }

// WithLabels returns a GaugeVec for the given label values.
func (g *Gauge) WithLabels(values ...string) (*GaugeVec, error) {
	if len(values) != len(g.labelNames) {
		return nil, fmt.Errorf("%w: gauge %s expected %d labels, got %d", ErrLabelCountMismatch, g.name, len(g.labelNames), len(values))
	}

	key := labelsKey(values)
	g.mu.RLock()
	gv, ok := g.values[key]
	g.mu.RUnlock()

	if !ok {
		labels := make(map[string]string, len(g.labelNames))
		for i, name := range g.labelNames {
			labels[name] = values[i]
		}

		g.mu.Lock()
		gv, ok = g.values[key]
		if !ok {
			gv = &gaugeValue{labels: labels}
			g.values[key] = gv
		}
		g.mu.Unlock()
	}

	return &GaugeVec{gv: gv}, nil
}

// Set sets the gauge to the given value (for gauges without labels).
func (g *Gauge) Set(value float64) error {
	vec, err := g.WithLabels()
	if err != nil {
		return err
	}
	vec.Set(value)
	return nil
}

// Add adds the given value to the gauge (for gauges without labels).
func (g *Gauge) Add(delta float64) error {
	vec, err := g.WithLabels()
	if err != nil {
		return err
	}
	vec.Add(delta)
	return nil
}

// Collect returns all metric samples.
func (g *Gauge) Collect() []Sample {
	g.mu.RLock()
	defer g.mu.RUnlock()

	samples := make([]Sample, 0, len(g.values))
	for _, gv := range g.values {
		samples = append(samples, Sample{
			Name:   g.name,
			Labels: gv.labels,
			Value:  gv.value.Load(),
		})
	}
	return samples
}

// GaugeVec provides methods for a specific label combination.
type GaugeVec struct {
	gv *gaugeValue
}

// Set sets the gauge to the given value.
func (v *GaugeVec) Set(value float64) {
	v.gv.value.Store(value)
}

// Add adds the given value to the gauge.
func (v *GaugeVec) Add(delta float64) {
	v.gv.value.Add(delta)
}

// Registry holds all registered metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{} // guards against duplicate registrations
}

// NewRegistry creates a new metric registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make([]Metric, 0),
		names:   make(map[string]struct{}),
	}
}

// NewCounter creates and registers a new counter.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	c := newCounter(name, help, labels)
	r.register(c)
	return c
}

// NewGauge creates and registers a new gauge.
func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	g := newGauge(name, help, labels)
	r.register(g)
	return g
}

// register adds a metric to the registry.
// It panics if a metric with the same name is already registered,
// since duplicate metric names produce invalid Prometheus output.
func (r *Registry) register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[m.Name()]; exists {
		panic(fmt.Sprintf("%s: %s", ErrDuplicateMetric, m.Name()))
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
}

// Handler returns an http.Handler that serves the metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		metrics := make([]Metric, len(r.metrics))
		copy(metrics, r.metrics)
		r.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		for _, m := range metrics {
			writeMetric(w, m)
		}
	})
}

// writeMetric writes a single metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, m Metric) {
	samples := m.Collect()
	if len(samples) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", m.Name(), escapeHelp(m.Help()))
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", m.Name(), m.Type())

	for _, s := range samples {
		writeSample(w, s)
	}
}

// writeSample writes a single sample line.
func writeSample(w http.ResponseWriter, s Sample) {
	if len(s.Labels) == 0 {
		_, _ = fmt.Fprintf(w, "%s %s\n", s.Name, formatFloat(s.Value))
	} else {
		_, _ = fmt.Fprintf(w, "%s{%s} %s\n", s.Name, formatLabels(s.Labels), formatFloat(s.Value))
	}
}

// formatLabels formats labels as key="value",key="value"
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, escapeLabelValue(labels[k]))
	}
	return strings.Join(parts, ",")
}

// formatFloat formats a float64 for Prometheus output.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	if math.IsInf(v, -1) {
		return "-Inf"
	}
	s := fmt.Sprintf("%g", v)
	if v == float64(int64(v)) && !strings.Contains(s, ".") && !strings.Contains(s, "e") {
		return fmt.Sprintf("%.0f", v)
	}
	return s
}

// escapeHelp escapes help text for Prometheus format.
func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// escapeLabelValue escapes label values for Prometheus format.
func escapeLabelValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// labelsKey generates a unique key for a set of label values.
func labelsKey(values []string) string {
	return strings.Join(values, "\x00")
}
