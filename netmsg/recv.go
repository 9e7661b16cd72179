package netmsg

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

var ErrOversize = errors.New("message exceeds receive buffer")

// RecvMsgBuf reads one framed message from conn into buf and returns the
// number of bytes received. The header is read first to learn the declared
// length; the rest of the message is read only if the declared length is
// larger than what has already been received. A zero timeout disables the
// read deadline.
func RecvMsgBuf(conn net.Conn, buf []byte, timeout time.Duration) (int, error) {
	if len(buf) < HeaderLen {
		return 0, fmt.Errorf("%w: buffer of %d bytes", ErrBufferTooSmall, len(buf))
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}

		defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	}

	n, err := io.ReadFull(conn, buf[:HeaderLen])
	if err != nil {
		return n, fmt.Errorf("receive header: %w", err)
	}

	length := int(ExtractLength(buf))
	if length <= n {
		return n, nil
	}

	if length > len(buf) {
		return n, fmt.Errorf("%w: declared %d, buffer %d", ErrOversize, length, len(buf))
	}

	m, err := io.ReadFull(conn, buf[n:length])
	if err != nil {
		return n + m, fmt.Errorf("receive payload: %w", err)
	}

	return n + m, nil
}

// IsTimeout reports whether err was caused by an expired I/O deadline.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
