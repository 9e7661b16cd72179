package nodeconn

import (
	"io"
	"net"
	"time"
)

// Conn is a pooled connection. A caller that got it from Pool.Acquire owns
// it until handing it back with Pool.Release or Pool.Invalidate; the pool
// does not touch a connection while a caller owns it.
type Conn struct {
	net.Conn

	endpoint Endpoint
	fallback bool

	// Guarded by the pool mutex.
	available      bool
	hasActivity    bool
	closeOnRelease bool
	expireAt       time.Time
}

func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

func (c *Conn) Protocol() Protocol {
	return c.endpoint.Protocol
}

// Fallback reports whether the connection was made through a non-primary
// route and will expire.
func (c *Conn) Fallback() bool {
	return c.fallback
}

func (c *Conn) expired(now time.Time) bool {
	return !c.expireAt.IsZero() && now.After(c.expireAt)
}

type closeWriter interface {
	CloseWrite() error
}

// shutdown half-closes the stream and waits for the peer to close its side
// before closing the connection. It returns true if the peer disconnected
// within the wait time.
func (c *Conn) shutdown(wait time.Duration) (bool, error) {
	graceful := false

	if cw, ok := c.Conn.(closeWriter); ok && cw.CloseWrite() == nil {
		if err := c.Conn.SetReadDeadline(time.Now().Add(wait)); err == nil {
			_, err = io.Copy(io.Discard, c.Conn)
			graceful = err == nil
		}
	}

	return graceful, c.Conn.Close()
}
