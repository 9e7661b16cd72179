package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/peerrpc/netmsg"
	"github.com/maxpoletaev/peerrpc/nodeconn"
)

const (
	// MinAdHocBufLen is the smallest buffer allocated for BufAdHoc calls,
	// large enough for most replies to small requests.
	MinAdHocBufLen = 4096

	DefaultRecvTimeout = 10 * time.Minute
	DefaultMaxAdHocLen = 4 << 20
)

type EngineConfig struct {
	// BufStore provides the buffers of BufPool calls.
	BufStore *BufStore

	// RecvTimeout bounds every send and receive, DefaultRecvTimeout if unset.
	RecvTimeout time.Duration

	// MaxAdHocLen is the largest buffer a BufAdHoc call may allocate.
	MaxAdHocLen int

	Logger  log.Logger
	Metrics *Metrics
}

// Engine performs a single request/response exchange and classifies its
// outcome. It never retries.
type Engine struct {
	bufs        *BufStore
	recvTimeout time.Duration
	maxAdHocLen int
	logger      log.Logger
	metrics     *Metrics
}

func NewEngine(conf EngineConfig) *Engine {
	if conf.BufStore == nil {
		conf.BufStore = NewBufStore(16, netmsg.MaxMsgSize)
	}

	if conf.RecvTimeout <= 0 {
		conf.RecvTimeout = DefaultRecvTimeout
	}

	if conf.MaxAdHocLen <= 0 {
		conf.MaxAdHocLen = DefaultMaxAdHocLen
	}

	if conf.Logger == nil {
		conf.Logger = log.NewNopLogger()
	}

	return &Engine{
		bufs:        conf.BufStore,
		recvTimeout: conf.RecvTimeout,
		maxAdHocLen: conf.MaxAdHocLen,
		logger:      conf.Logger,
		metrics:     conf.Metrics,
	}
}

// Exchange takes a connection from the pool, sends the request and waits for
// the response. The connection goes back to the pool if it is still usable
// and is invalidated otherwise.
func (e *Engine) Exchange(ctx context.Context, call *Call, pool connPool) (*Response, error) {
	conn, err := pool.Acquire(ctx, !call.NoWait)
	if err != nil {
		switch {
		case errors.Is(err, nodeconn.ErrWouldBlock):
			return nil, ErrWouldBlock
		case errors.Is(err, nodeconn.ErrInterrupted):
			return nil, ErrInterrupted
		case errors.Is(err, nodeconn.ErrPoolClosed):
			return nil, ErrUnknownNode
		}

		if ctx.Err() == nil && call.logOnce(logConnectFailed) {
			level.Warn(e.logger).Log("msg", "unable to connect", "call", call.id, "target", call.target, "err", err)
		}

		return nil, ErrCommunication
	}

	resp, keep, err := e.roundTrip(ctx, call, conn)
	if keep {
		pool.Release(conn)
	} else {
		pool.Invalidate(conn)
	}

	e.metrics.exchange(err)

	return resp, err
}

func (e *Engine) allocBuf(ctx context.Context, call *Call) ([]byte, func(), error) {
	reqLen := call.Request.Len()

	if call.BufStrategy == BufAdHoc {
		bufLen := reqLen
		if bufLen < MinAdHocBufLen {
			bufLen = MinAdHocBufLen
		}

		if bufLen > e.maxAdHocLen {
			level.Error(e.logger).Log("msg", "buffer allocation refused", "call", call.id, "type", call.Request.Header.Type, "size", bufLen)
			return nil, nil, ErrOutOfMemory
		}

		return make([]byte, bufLen), func() {}, nil
	}

	if reqLen > e.bufs.Size() {
		level.Error(e.logger).Log("msg", "message buffer too small for request", "call", call.id,
			"type", call.Request.Header.Type, "size", e.bufs.Size(), "length", reqLen)

		return nil, nil, ErrInternal
	}

	buf, err := e.bufs.Get(ctx)
	if err != nil {
		return nil, nil, err
	}

	return buf, func() { e.bufs.Put(buf) }, nil
}

// roundTrip returns whether the connection may be reused along with the outcome.
func (e *Engine) roundTrip(ctx context.Context, call *Call, conn *nodeconn.Conn) (resp *Response, keep bool, err error) {
	buf, putBuf, err := e.allocBuf(ctx, call)
	if err != nil {
		return nil, errors.Is(err, ErrInterrupted), err
	}

	defer func() {
		if resp == nil {
			putBuf()
		}
	}()

	// One deadline covers the whole exchange. Cancellation moves it into the
	// past, which unblocks any pending read or write.
	_ = conn.SetDeadline(time.Now().Add(e.recvTimeout))

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	defer func() {
		if !stop() {
			keep = false
			return
		}

		if keep {
			_ = conn.SetDeadline(time.Time{})
		}
	}()

	n, err := call.Request.Serialize(buf)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if _, err := conn.Write(buf[:n]); err != nil {
		if ctx.Err() != nil {
			return nil, false, ErrInterrupted
		}

		if call.logOnce(logCommErr) {
			level.Error(e.logger).Log("msg", "communication error", "call", call.id, "target", call.target,
				"type", call.Request.Header.Type, "err", err)
		}

		return nil, false, ErrCommunication
	}

	n, err = netmsg.RecvMsgBuf(conn, buf, 0)
	if err != nil {
		if ctx.Err() != nil {
			if call.logOnce(logCommErr) {
				level.Info(e.logger).Log("msg", "receive interrupted", "call", call.id, "target", call.target)
			}

			return nil, false, ErrInterrupted
		}

		if call.logOnce(logCommErr) {
			msg := "receive failed"
			if netmsg.IsTimeout(err) {
				msg = "receive timed out"
			}

			level.Error(e.logger).Log("msg", msg, "call", call.id, "target", call.target,
				"type", call.Request.Header.Type, "err", err)
		}

		return nil, false, ErrCommunication
	}

	msg, err := netmsg.Parse(buf[:n])
	if err != nil {
		level.Error(e.logger).Log("msg", "received malformed response", "call", call.id, "target", call.target, "err", err)
		return nil, false, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	switch msg.Header.Type {
	case netmsg.TypeAckNotifyResp:
		return nil, false, errIndirectComm
	case netmsg.TypeGenericResponse:
		err := e.handleGenericResponse(call, msg)
		return nil, !errors.Is(err, ErrInternal), err
	case call.RespType:
		return &Response{Msg: msg, release: putBuf}, true, nil
	default:
		level.Error(e.logger).Log("msg", "received invalid response type", "call", call.id, "target", call.target,
			"type", msg.Header.Type, "expected", call.RespType)

		return nil, false, ErrInternal
	}
}

func (e *Engine) handleGenericResponse(call *Call, resp *netmsg.Message) error {
	body := &netmsg.GenericResponse{}
	if err := body.Unmarshal(resp.Payload); err != nil {
		level.Error(e.logger).Log("msg", "malformed generic response", "call", call.id, "target", call.target, "err", err)
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	switch body.Code {
	case netmsg.CodeTryAgain:
		if call.logOnce(logPeerTryAgain) {
			level.Debug(e.logger).Log("msg", "peer is asking for a retry", "call", call.id, "target", call.target,
				"type", call.Request.Header.Type, "reason", body.Reason)
		}

		return ErrPeerTryAgain
	case netmsg.CodeIndirectCommErr:
		if call.logOnce(logPeerIndirectComm) {
			level.Debug(e.logger).Log("msg", "peer reported indirect communication error", "call", call.id,
				"target", call.target, "type", call.Request.Header.Type, "reason", body.Reason)
		}

		return errIndirectComm
	case netmsg.CodeNewSeqNoBase:
		if call.group == nil {
			level.Warn(e.logger).Log("msg", "received sequence base update for a call without mirror group",
				"call", call.id, "target", call.target, "type", call.Request.Header.Type)

			return ErrInternal
		}

		call.group.Rebase(resp.Header.Sequence)

		return ErrCommunication
	default:
		level.Error(e.logger).Log("msg", "peer replied with unknown control code", "call", call.id, "target", call.target,
			"code", body.Code, "reason", body.Reason)

		return ErrInternal
	}
}
