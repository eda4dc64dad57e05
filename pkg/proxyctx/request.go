package proxyctx

import (
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Metadata keys set by modes and interceptors.
const (
	MetaUserID        = "userId"
	MetaSessionID     = "sessionId"
	MetaMode          = "mode"
	MetaMatched       = "matched"
	MetaMatchScore    = "matchScore"
	MetaCaptureID     = "captureId"
	MetaCorrelationID = "correlationId"
	MetaEndpointType  = "endpointType"
)

// Modification records one mutation of a working copy.
type Modification struct {
	Field     string    `json:"field"`
	OldValue  string    `json:"oldValue"`
	NewValue  string    `json:"newValue"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestSnapshot is one complete view of an inbound request.
type RequestSnapshot struct {
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Path       string      `json:"path"`
	Query      url.Values  `json:"query"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body,omitempty"`
	ClientAddr string      `json:"clientAddr,omitempty"`

	// Raw holds the verbatim wire bytes of the request as received.
	// Preserved untouched for signed transmit endpoints.
	Raw []byte `json:"raw,omitempty"`
}

// Clone returns a deep copy. Each field category is copied explicitly:
// scalars by value, header and query maps entry by entry, byte buffers
// with a fresh backing array.
func (s *RequestSnapshot) Clone() *RequestSnapshot {
	if s == nil {
		return nil
	}
	c := &RequestSnapshot{
		Method:     s.Method,
		URL:        s.URL,
		Path:       s.Path,
		ClientAddr: s.ClientAddr,
		Query:      cloneValues(s.Query),
		Headers:    cloneHeader(s.Headers),
		Body:       cloneBytes(s.Body),
		Raw:        cloneBytes(s.Raw),
	}
	return c
}

// RequestContext carries one in-flight request through interceptors,
// modes, and the forwarding layer.
type RequestContext struct {
	// ID identifies this request in logs and metadata.
	ID string

	// Original is frozen at construction and never mutated.
	Original *RequestSnapshot

	// Current is the mutable working copy.
	Current *RequestSnapshot

	// Metadata is a free-form bag (userId, sessionId, mode, match flags)
	// written by modes and interceptors, never by the context itself.
	Metadata map[string]string

	// ReceivedAt is when the context was constructed.
	ReceivedAt time.Time

	mods []Modification
}

// Modifications returns a copy of the ordered modification log.
func (c *RequestContext) Modifications() []Modification {
	out := make([]Modification, len(c.mods))
	copy(out, c.mods)
	return out
}

// Rollback restores Current from Original and clears the modification log.
func (c *RequestContext) Rollback() {
	c.Current = c.Original.Clone()
	c.mods = c.mods[:0]
}

func (c *RequestContext) record(field, oldVal, newVal string) {
	c.mods = append(c.mods, Modification{
		Field:     field,
		OldValue:  oldVal,
		NewValue:  newVal,
		Timestamp: time.Now(),
	})
}

// SetMethod replaces the working copy's HTTP method.
func (c *RequestContext) SetMethod(method string) {
	c.record("method", c.Current.Method, method)
	c.Current.Method = method
}

// SetURL replaces the working copy's URL and keeps Path/Query in sync.
func (c *RequestContext) SetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	c.record("url", c.Current.URL, rawURL)
	c.Current.URL = rawURL
	c.Current.Path = u.Path
	c.Current.Query = u.Query()
	return nil
}

// SetHeader sets a header on the working copy.
func (c *RequestContext) SetHeader(name, value string) {
	c.record("header."+name, c.Current.Headers.Get(name), value)
	if c.Current.Headers == nil {
		c.Current.Headers = http.Header{}
	}
	c.Current.Headers.Set(name, value)
}

// RemoveHeader deletes a header from the working copy.
func (c *RequestContext) RemoveHeader(name string) {
	c.record("header."+name, c.Current.Headers.Get(name), "")
	c.Current.Headers.Del(name)
}

// SetQueryParam sets a query parameter on the working copy.
func (c *RequestContext) SetQueryParam(name, value string) {
	c.record("query."+name, c.Current.Query.Get(name), value)
	if c.Current.Query == nil {
		c.Current.Query = url.Values{}
	}
	c.Current.Query.Set(name, value)
}

// SetBody replaces the working copy's body. The modification log records
// byte lengths rather than full payloads to keep it bounded.
func (c *RequestContext) SetBody(body []byte) {
	c.record("body", sizeString(c.Current.Body), sizeString(body))
	c.Current.Body = cloneBytes(body)
}

// NormalizeQuery collapses duplicate query-string values, keeping the
// first occurrence of each key. Replay mode applies this before match
// lookup so duplicated parameters cannot destabilize matching.
func (c *RequestContext) NormalizeQuery() {
	changed := false
	for key, vals := range c.Current.Query {
		if len(vals) > 1 {
			c.Current.Query[key] = vals[:1]
			changed = true
		}
	}
	if changed {
		c.record("query", "", "normalized duplicate values")
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for k, vals := range h {
		vv := make([]string, len(vals))
		copy(vv, vals)
		out[k] = vv
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		vv := make([]string, len(vals))
		copy(vv, vals)
		out[k] = vv
	}
	return out
}

func sizeString(b []byte) string {
	return strconv.Itoa(len(b)) + " bytes"
}
