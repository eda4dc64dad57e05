// Package metrics provides a small dependency-free metric registry for
// dproxy's forwarding and mode counters, exposed in Prometheus text format.
package metrics
