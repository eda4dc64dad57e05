package proxyctx

import (
	"bytes"
	"context"
	"net"
	"sync"
)

// RecordedConn tees everything read from a client connection into a
// buffer so the exact wire form of each request survives Go's header
// parsing. Signed transmit endpoints must forward the bytes the client
// signed; a re-serialized request changes header casing and order and
// breaks the signature.
type RecordedConn struct {
	net.Conn

	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *RecordedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.buf.Write(p[:n])
		c.mu.Unlock()
	}
	return n, err
}

// Take returns the bytes read since the last call and resets the
// buffer. With one request in flight per connection this is the wire
// form of the current request once its body has been drained.
func (c *RecordedConn) Take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	c.buf.Reset()
	return out
}

// RecordedListener wraps every accepted connection in a RecordedConn.
type RecordedListener struct {
	net.Listener
}

// Accept wraps the next connection.
func (l *RecordedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &RecordedConn{Conn: conn}, nil
}

type connKey struct{}

// WithConn attaches the connection recorder to the context. The proxy
// server installs it per connection via http.Server.ConnContext.
func WithConn(ctx context.Context, conn *RecordedConn) context.Context {
	return context.WithValue(ctx, connKey{}, conn)
}

// ConnFrom returns the attached connection recorder, or nil.
func ConnFrom(ctx context.Context) *RecordedConn {
	conn, _ := ctx.Value(connKey{}).(*RecordedConn)
	return conn
}
