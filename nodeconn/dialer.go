package nodeconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var ErrProtocolUnsupported = errors.New("protocol not supported by dialer")

// Dialer opens a raw stream connection to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (net.Conn, error)
}

// NetDialer dials TCP and unix socket endpoints with the standard library.
// RDMA endpoints need a dialer provided by the transport.
type NetDialer struct {
	Timeout     time.Duration
	KeepAlive   time.Duration
	RecvBufSize int
}

func (d *NetDialer) Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	nd := net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
	}

	switch ep.Protocol {
	case ProtocolTCP:
		conn, err := nd.DialContext(ctx, "tcp", ep.Addr)
		if err != nil {
			return nil, err
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)

			if d.RecvBufSize > 0 {
				_ = tc.SetReadBuffer(d.RecvBufSize)
			}
		}

		return conn, nil
	case ProtocolLocal:
		return nd.DialContext(ctx, "unix", ep.Addr)
	default:
		return nil, fmt.Errorf("%w: %s", ErrProtocolUnsupported, ep.Protocol)
	}
}
