package proxyctx

import (
	"net/http"
	"strconv"
	"time"
)

// Source identifies who produced a response. Exactly one is set per response.
type Source string

const (
	// SourceBackend marks responses received from the real backend.
	SourceBackend Source = "backend"
	// SourceDproxy marks synthetic responses generated by the proxy itself.
	SourceDproxy Source = "dproxy"
	// SourceCustom marks responses built from captures or templates.
	SourceCustom Source = "custom"
)

// IsValid checks if the source is valid.
func (s Source) IsValid() bool {
	switch s {
	case SourceBackend, SourceDproxy, SourceCustom:
		return true
	default:
		return false
	}
}

// ResponseSnapshot is one complete view of an outbound response.
type ResponseSnapshot struct {
	Status     int         `json:"status"`
	StatusText string      `json:"statusText"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body,omitempty"`
}

// Clone returns a deep copy with explicitly copied maps and buffers.
func (s *ResponseSnapshot) Clone() *ResponseSnapshot {
	if s == nil {
		return nil
	}
	return &ResponseSnapshot{
		Status:     s.Status,
		StatusText: s.StatusText,
		Headers:    cloneHeader(s.Headers),
		Body:       cloneBytes(s.Body),
	}
}

// ResponseContext carries one outbound response with the same
// original/current plus modification-log discipline as RequestContext.
type ResponseContext struct {
	// Original is frozen at construction and never mutated.
	Original *ResponseSnapshot

	// Current is the mutable working copy.
	Current *ResponseSnapshot

	// Source records who produced this response.
	Source Source

	// Latency is the backend round-trip time, zero for synthetic responses.
	Latency time.Duration

	// Err carries the transport error for failed forwards, nil otherwise.
	Err error

	// Metadata is a free-form bag written by modes and interceptors.
	Metadata map[string]string

	mods []Modification
}

// NewResponseContext builds a ResponseContext from a snapshot, freezing it
// as Original and deep-cloning the working copy.
func NewResponseContext(snap *ResponseSnapshot, source Source) *ResponseContext {
	return &ResponseContext{
		Original: snap,
		Current:  snap.Clone(),
		Source:   source,
		Metadata: make(map[string]string),
	}
}

// Modifications returns a copy of the ordered modification log.
func (c *ResponseContext) Modifications() []Modification {
	out := make([]Modification, len(c.mods))
	copy(out, c.mods)
	return out
}

// Rollback restores Current from Original and clears the modification log.
func (c *ResponseContext) Rollback() {
	c.Current = c.Original.Clone()
	c.mods = c.mods[:0]
}

func (c *ResponseContext) record(field, oldVal, newVal string) {
	c.mods = append(c.mods, Modification{
		Field:     field,
		OldValue:  oldVal,
		NewValue:  newVal,
		Timestamp: time.Now(),
	})
}

// SetStatus replaces the working copy's status code and text.
func (c *ResponseContext) SetStatus(status int) {
	c.record("status", strconv.Itoa(c.Current.Status), strconv.Itoa(status))
	c.Current.Status = status
	c.Current.StatusText = http.StatusText(status)
}

// SetHeader sets a header on the working copy.
func (c *ResponseContext) SetHeader(name, value string) {
	c.record("header."+name, c.Current.Headers.Get(name), value)
	if c.Current.Headers == nil {
		c.Current.Headers = http.Header{}
	}
	c.Current.Headers.Set(name, value)
}

// AddHeader appends a header value on the working copy.
func (c *ResponseContext) AddHeader(name, value string) {
	c.record("header."+name, c.Current.Headers.Get(name), value)
	if c.Current.Headers == nil {
		c.Current.Headers = http.Header{}
	}
	c.Current.Headers.Add(name, value)
}

// RemoveHeader deletes a header from the working copy.
func (c *ResponseContext) RemoveHeader(name string) {
	c.record("header."+name, c.Current.Headers.Get(name), "")
	c.Current.Headers.Del(name)
}

// SetBody replaces the working copy's body. The modification log records
// byte lengths rather than full payloads to keep it bounded.
func (c *ResponseContext) SetBody(body []byte) {
	c.record("body", sizeString(c.Current.Body), sizeString(body))
	c.Current.Body = cloneBytes(body)
}

// ReplaceSetCookie rewrites all Set-Cookie values on the working copy.
func (c *ResponseContext) ReplaceSetCookie(values []string) {
	c.record("header.Set-Cookie", strconv.Itoa(len(c.Current.Headers.Values("Set-Cookie")))+" values", strconv.Itoa(len(values))+" values")
	c.Current.Headers.Del("Set-Cookie")
	for _, v := range values {
		c.Current.Headers.Add("Set-Cookie", v)
	}
}

// WriteTo writes the working copy to an http.ResponseWriter.
func (c *ResponseContext) WriteTo(w http.ResponseWriter) {
	for name, vals := range c.Current.Headers {
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(c.Current.Status)
	_, _ = w.Write(c.Current.Body)
}
