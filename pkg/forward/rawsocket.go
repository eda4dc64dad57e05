package forward

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// rawForward writes the captured wire bytes of the request to a raw
// socket. Signed transmit endpoints verify a signature over the exact
// byte form of the request, so re-serialization through http.Request
// would break them. Only the envelope is adjusted: the request target,
// Host, Connection, and Content-Length; the body bytes go out verbatim.
func (f *Forwarder) rawForward(ctx context.Context, req *proxyctx.RequestContext, target *url.URL) (*proxyctx.ResponseContext, error) {
	raw := req.Original.Raw
	if len(raw) == 0 {
		return nil, fmt.Errorf("raw forward: no captured wire bytes")
	}

	wire, err := rewriteRawEnvelope(raw, target)
	if err != nil {
		return nil, fmt.Errorf("raw forward: %w", err)
	}

	addr := target.Host
	if target.Port() == "" {
		if target.Scheme == "https" {
			addr = net.JoinHostPort(target.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(target.Hostname(), "80")
		}
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("raw forward dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if target.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         target.Hostname(),
			InsecureSkipVerify: f.cfg.Forward.InsecureTLS,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("raw forward handshake: %w", err)
		}
		conn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	start := time.Now()
	if _, err := conn.Write(wire); err != nil {
		return nil, fmt.Errorf("raw forward write: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return nil, fmt.Errorf("raw forward read: %w", err)
	}
	return f.factory.NewResponseFromBackend(resp, time.Since(start))
}

// rewriteRawEnvelope adjusts the head of a captured request for direct
// backend delivery. The request line becomes origin-form against the
// target, Host is recomputed, Connection is forced to close so the
// response ends with the stream, and Content-Length is recomputed from
// the actual body bytes. Every other header line passes through byte
// for byte.
func rewriteRawEnvelope(raw []byte, target *url.URL) ([]byte, error) {
	headEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headEnd < 0 {
		return nil, fmt.Errorf("malformed captured request: no header terminator")
	}
	head := raw[:headEnd]
	body := raw[headEnd+4:]

	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("malformed captured request: empty head")
	}
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line %q", lines[0])
	}

	requestTarget := target.RequestURI()
	var buf bytes.Buffer
	buf.WriteString(parts[0] + " " + requestTarget + " " + parts[2] + "\r\n")

	for _, line := range lines[1:] {
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		if !httpguts.ValidHeaderFieldName(strings.TrimSpace(name)) {
			return nil, fmt.Errorf("invalid header name %q", name)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "host", "connection", "proxy-connection", "content-length", "transfer-encoding":
			continue
		}
		buf.WriteString(line + "\r\n")
	}

	buf.WriteString("Host: " + target.Host + "\r\n")
	buf.WriteString("Connection: close\r\n")
	if len(body) > 0 {
		buf.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes(), nil
}
