package forward

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// Evasion shells each HTTPS request out to an external HTTP client.
// The external client owns the TLS handshake, so the proxy process
// never presents its own handshake fingerprint to the backend.
type Evasion struct {
	cfg     config.EvasionConfig
	logger  *slog.Logger
	slots   chan struct{}
	limiter *rate.Limiter
}

// NewEvasion builds the subprocess runner. MaxConcurrent <= 0 falls
// back to a single slot.
func NewEvasion(cfg config.EvasionConfig, logger *slog.Logger) *Evasion {
	slots := cfg.MaxConcurrent
	if slots <= 0 {
		slots = 1
	}
	e := &Evasion{
		cfg:    cfg,
		logger: logger,
		slots:  make(chan struct{}, slots),
	}
	if cfg.SpawnRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.SpawnRate), 1)
	}
	return e
}

// Do runs one subprocess for the request. The subprocess is killed when
// the context or the configured hard timeout expires; a killed process
// is a transport error like any other, eligible for retry upstream.
func (e *Evasion) Do(ctx context.Context, factory *proxyctx.Factory, req *proxyctx.RequestContext, target *url.URL) (*proxyctx.ResponseContext, error) {
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	args := e.buildArgs(req.Current, target)
	cmd := exec.CommandContext(runCtx, e.cfg.Command, args...)
	if len(req.Current.Body) > 0 {
		cmd.Stdin = bytes.NewReader(req.Current.Body)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("subprocess killed after %s: %w", time.Since(start).Round(time.Millisecond), runCtx.Err())
		}
		return nil, fmt.Errorf("subprocess failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	resp, err := parseHTTPOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parsing subprocess output: %w", err)
	}
	return factory.NewResponseFromBackend(resp, time.Since(start))
}

// buildArgs emits curl-compatible arguments. Configured extra args come
// first so operators can pin ciphers, proxies, or client certificates.
func (e *Evasion) buildArgs(cur *proxyctx.RequestSnapshot, target *url.URL) []string {
	args := append([]string{}, e.cfg.Args...)
	args = append(args, "-s", "-i", "-X", cur.Method)
	if e.cfg.Timeout > 0 {
		secs := int(e.cfg.Timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		args = append(args, "--max-time", strconv.Itoa(secs))
	}
	for name, vals := range cur.Headers {
		if isHopByHop(name) || strings.EqualFold(name, "Content-Length") {
			continue
		}
		for _, v := range vals {
			args = append(args, "-H", name+": "+v)
		}
	}
	if len(cur.Body) > 0 {
		args = append(args, "--data-binary", "@-")
	}
	args = append(args, target.String())
	return args
}

// parseHTTPOutput parses `-i` style output: status line, header block,
// blank line, body. Interim blocks (100 Continue, redirect chains with
// -L) are skipped so only the final response is kept.
func parseHTTPOutput(out []byte) (*http.Response, error) {
	for {
		reader := bufio.NewReader(bytes.NewReader(out))
		statusLine, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("missing status line")
		}
		status, err := parseStatusLine(statusLine)
		if err != nil {
			return nil, err
		}

		tp := textproto.NewReader(reader)
		mimeHeader, err := tp.ReadMIMEHeader()
		if err != nil {
			return nil, fmt.Errorf("reading headers: %w", err)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}

		// Another status line directly after the blank line means this
		// block was interim. Drop it and parse the next one.
		if bytes.HasPrefix(body, []byte("HTTP/")) {
			out = body
			continue
		}

		header := http.Header(mimeHeader)
		return &http.Response{
			StatusCode:    status,
			Status:        strconv.Itoa(status) + " " + http.StatusText(status),
			Header:        header,
			Body:          newByteReadCloser(body),
			ContentLength: int64(len(body)),
		}, nil
	}
}

func parseStatusLine(line string) (int, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed status code in %q", line)
	}
	return status, nil
}

type byteReadCloser struct{ *bytes.Reader }

func newByteReadCloser(b []byte) *byteReadCloser {
	return &byteReadCloser{bytes.NewReader(b)}
}

func (byteReadCloser) Close() error { return nil }
