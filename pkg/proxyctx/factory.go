package proxyctx

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	nethttputil "net/http/httputil"
	"strings"
	"time"

	"github.com/getdproxy/dproxy/internal/id"
	"github.com/getdproxy/dproxy/pkg/capture"
	"github.com/getdproxy/dproxy/pkg/httputil"
	"github.com/getdproxy/dproxy/pkg/template"
)

// DefaultMaxBodySize is the default maximum body size to capture (10MB).
const DefaultMaxBodySize = 10 * 1024 * 1024

// Options configures request context construction.
type Options struct {
	// UserID, SessionID, and Mode are attached as metadata when known.
	UserID    string
	SessionID string
	Mode      string

	// MaxBodySize bounds how much of the body is buffered.
	// Zero means DefaultMaxBodySize.
	MaxBodySize int64
}

// Factory builds request and response contexts. All constructors are
// pure: none of them touch persistent storage.
type Factory struct {
	// MaxBodySize bounds buffered bodies for contexts built by this factory.
	MaxBodySize int64
}

// NewFactory creates a Factory with default limits.
func NewFactory() *Factory {
	return &Factory{MaxBodySize: DefaultMaxBodySize}
}

// NewRequestContext buffers the request and freezes it as the Original
// snapshot. The request's Body is replaced with a replayable reader.
// The raw wire bytes are captured before anything else can touch them.
func (f *Factory) NewRequestContext(r *http.Request, opts Options) (*RequestContext, error) {
	maxBody := opts.MaxBodySize
	if maxBody == 0 {
		maxBody = f.MaxBodySize
	}
	if maxBody == 0 {
		maxBody = DefaultMaxBodySize
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	// The true wire bytes come off the connection recorder when the
	// request arrived over the proxy listener. DumpRequest re-serializes
	// the parsed request, canonicalizing header casing and order, so it
	// is only the fallback for contexts built outside the listener.
	var raw []byte
	if conn := ConnFrom(r.Context()); conn != nil {
		raw = conn.Take()
	} else {
		var err error
		// DumpRequest re-reads the body, so replace it again afterwards.
		raw, err = nethttputil.DumpRequest(r, true)
		if err != nil {
			return nil, fmt.Errorf("capturing raw request: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	snap := &RequestSnapshot{
		Method:     r.Method,
		URL:        r.URL.String(),
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Headers:    r.Header.Clone(),
		Body:       body,
		ClientAddr: r.RemoteAddr,
		Raw:        raw,
	}

	ctx := &RequestContext{
		ID:         id.Short(),
		Original:   snap,
		Current:    snap.Clone(),
		Metadata:   make(map[string]string),
		ReceivedAt: time.Now(),
	}
	if opts.UserID != "" {
		ctx.Metadata[MetaUserID] = opts.UserID
	}
	if opts.SessionID != "" {
		ctx.Metadata[MetaSessionID] = opts.SessionID
	}
	if opts.Mode != "" {
		ctx.Metadata[MetaMode] = opts.Mode
	}
	return ctx, nil
}

// NewResponseFromBackend buffers a backend response, transparently
// decompressing gzip and deflate bodies and stripping the now-false
// Content-Encoding and Content-Length headers. Brotli bodies pass
// through with their encoding header intact.
func (f *Factory) NewResponseFromBackend(resp *http.Response, latency time.Duration) (*ResponseContext, error) {
	maxBody := f.MaxBodySize
	if maxBody == 0 {
		maxBody = DefaultMaxBodySize
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, fmt.Errorf("reading backend response body: %w", err)
		}
		_ = resp.Body.Close()
	}

	headers := resp.Header.Clone()
	encoding := strings.ToLower(headers.Get("Content-Encoding"))
	if decoded, ok := decompress(body, encoding); ok {
		body = decoded
		headers.Del("Content-Encoding")
		headers.Del("Content-Length")
	}

	snap := &ResponseSnapshot{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Body:       body,
	}
	rc := NewResponseContext(snap, SourceBackend)
	rc.Latency = latency
	return rc, nil
}

// NewResponseFromCapture re-hydrates a response context from a persisted
// capture record.
func (f *Factory) NewResponseFromCapture(rec *capture.Record) *ResponseContext {
	snap := &ResponseSnapshot{
		Status:     rec.Response.Status,
		StatusText: rec.Response.StatusText,
		Headers:    cloneHeader(rec.Response.Headers),
		Body:       cloneBytes(rec.Response.Body),
	}
	if snap.StatusText == "" {
		snap.StatusText = http.StatusText(snap.Status)
	}
	rc := NewResponseContext(snap, SourceCustom)
	rc.Metadata[MetaCaptureID] = rec.ID
	return rc
}

// NewResponseFromStoredJSON deserializes a persisted capture record and
// builds a response context from it. Malformed JSON is surfaced as a
// parse error, never silently dropped.
func (f *Factory) NewResponseFromStoredJSON(data []byte) (*ResponseContext, error) {
	rec, err := capture.ParseRecord(data)
	if err != nil {
		return nil, fmt.Errorf("parsing stored capture: %w", err)
	}
	return f.NewResponseFromCapture(rec), nil
}

// NewResponseFromTemplate builds a response context from a canned
// status-coded template.
func (f *Factory) NewResponseFromTemplate(tpl *template.Response) *ResponseContext {
	headers := http.Header{}
	for name, value := range tpl.Headers {
		headers.Set(name, value)
	}
	snap := &ResponseSnapshot{
		Status:     tpl.Status,
		StatusText: http.StatusText(tpl.Status),
		Headers:    headers,
		Body:       cloneBytes(tpl.Body),
	}
	return NewResponseContext(snap, SourceCustom)
}

// NewErrorResponse builds a synthetic proxy error response with the
// canonical JSON error body.
func (f *Factory) NewErrorResponse(status int, message string) *ResponseContext {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	snap := &ResponseSnapshot{
		Status:     status,
		StatusText: http.StatusText(status),
		Headers:    headers,
		Body:       httputil.MarshalErrorBody(status, message),
	}
	return NewResponseContext(snap, SourceDproxy)
}

// NewSuccessResponse builds a synthetic 200 response carrying data as JSON.
func (f *Factory) NewSuccessResponse(data any) (*ResponseContext, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling success body: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	snap := &ResponseSnapshot{
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Headers:    headers,
		Body:       body,
	}
	return NewResponseContext(snap, SourceCustom), nil
}

// decompress inflates gzip and deflate bodies. Returns the original
// bytes and false for unknown or absent encodings.
func decompress(body []byte, encoding string) ([]byte, bool) {
	if len(body) == 0 {
		return body, false
	}

	switch encoding {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body, false
		}
		defer func() { _ = r.Close() }()
		decoded, err := io.ReadAll(r)
		if err != nil {
			return body, false
		}
		return decoded, true

	case "deflate":
		// Most servers send zlib-wrapped deflate; some send raw.
		if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer func() { _ = r.Close() }()
			if decoded, err := io.ReadAll(r); err == nil {
				return decoded, true
			}
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer func() { _ = fr.Close() }()
		if decoded, err := io.ReadAll(fr); err == nil {
			return decoded, true
		}
		return body, false

	default:
		return body, false
	}
}
