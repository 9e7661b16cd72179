package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"

	"github.com/maxpoletaev/peerrpc/netmsg"
	"github.com/maxpoletaev/peerrpc/seqno"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

const (
	DefaultNumRetries = 10

	// UnlimitedRetries as a retry budget keeps retrying until the context is
	// done.
	UnlimitedRetries = -1
)

type Config struct {
	Nodes NodeDirectory

	// Sequences is required for ordered calls to mirror groups.
	Sequences SequenceCoordinator

	// States is optional. Without it, targets are assumed to be healthy.
	States TargetStates

	Engine *Engine

	// NumRetries is the retry budget of the configured presets. Zero means
	// DefaultNumRetries, UnlimitedRetries disables the limit.
	NumRetries int

	RetriesDisabled bool

	Logger  log.Logger
	Metrics *Metrics
}

// Messenger is the entry point for calls to remote nodes. It resolves the
// target, waits out transitional target states, and retries failed
// exchanges according to the call settings.
type Messenger struct {
	nodes          NodeDirectory
	sequences      SequenceCoordinator
	states         TargetStates
	engine         *Engine
	numRetries     int
	retriesEnabled atomic.Bool
	logger         log.Logger
	metrics        *Metrics
	sleep          func(ctx context.Context, d time.Duration) error
}

func New(conf Config) *Messenger {
	if conf.Logger == nil {
		conf.Logger = log.NewNopLogger()
	}

	if conf.NumRetries == 0 {
		conf.NumRetries = DefaultNumRetries
	}

	if conf.Engine == nil {
		conf.Engine = NewEngine(EngineConfig{Logger: conf.Logger, Metrics: conf.Metrics})
	}

	m := &Messenger{
		nodes:      conf.Nodes,
		sequences:  conf.Sequences,
		states:     conf.States,
		engine:     conf.Engine,
		numRetries: conf.NumRetries,
		logger:     conf.Logger,
		metrics:    conf.Metrics,
		sleep:      sleepContext,
	}

	m.retriesEnabled.Store(!conf.RetriesDisabled)

	return m
}

// SetRetriesEnabled switches communication retries on or off for all calls.
func (m *Messenger) SetRetriesEnabled(enabled bool) {
	m.retriesEnabled.Store(enabled)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewCall prepares a call using one of the retry presets.
func (m *Messenger) NewCall(peer Peer, req *netmsg.Message, respType netmsg.Type, preset Preset, opts ...CallOption) *Call {
	call := &Call{
		Peer:        peer,
		Request:     req,
		RespType:    respType,
		BufStrategy: BufPool,
	}

	switch preset {
	case PresetSingleRetry:
		call.Retries = 1
	case PresetConfigRetry:
		call.Retries = m.numRetries
	case PresetStateSleep:
		call.Retries = m.numRetries
		call.AllowStateSleep = true
	}

	for _, opt := range opts {
		opt(call)
	}

	return call
}

// Call sends req to the peer and returns the response of type respType.
func (m *Messenger) Call(ctx context.Context, peer Peer, req *netmsg.Message, respType netmsg.Type,
	preset Preset, opts ...CallOption) (*Response, error) {
	return m.Do(ctx, m.NewCall(peer, req, respType, preset, opts...))
}

// Do runs the call until it succeeds or fails for good. The returned error,
// if any, matches exactly one of the package error values.
func (m *Messenger) Do(ctx context.Context, call *Call) (*Response, error) {
	call.id = ulid.Make()

	defer func() {
		if call.lease != nil {
			call.releaseLease()
		}
	}()

	retry := 0
	hdr := &call.Request.Header

	for {
		target, err := m.resolve(ctx, call)
		if err != nil {
			return nil, err
		}

		if m.states != nil {
			st, ok := m.states.State(target)
			if !ok || st.Reachability != targetstate.Online || (call.Peer.Mirrored && st.Consistency != targetstate.Good) {
				if ok && st.Reachability == targetstate.Offline {
					level.Debug(m.logger).Log("msg", "skipping communication with offline target", "call", call.id, "target", target)
					return nil, ErrCommunication
				}

				if !call.AllowStateSleep {
					return nil, ErrCommunication
				}

				if call.Peer.Mirrored {
					level.Debug(m.logger).Log("msg", "waiting for target state to settle", "call", call.id, "target", target,
						"reachability", st.Reachability, "consistency", st.Consistency)

					if err := m.sleep(ctx, StateSleep); err != nil {
						return nil, ErrInterrupted
					}

					m.metrics.retry("state")

					retry = 0

					continue
				}
			}
		}

		pool, ok := m.nodes.Pool(target)
		if !ok {
			level.Warn(m.logger).Log("msg", "unknown target", "call", call.id, "target", target)
			return nil, ErrUnknownNode
		}

		resp, err := m.engine.Exchange(ctx, call, pool)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ErrInterrupted
		}

		if !m.nodes.IsActive(target) {
			return nil, ErrUnknownNode
		}

		switch {
		case errors.Is(err, ErrWouldBlock):
			return nil, ErrCommunication
		case errors.Is(err, ErrPeerTryAgain) && m.retriesEnabled.Load():
			if err := m.sleep(ctx, TryAgainSleep); err != nil {
				return nil, ErrInterrupted
			}

			m.metrics.retry("peer_try_again")

			retry = 0

			continue
		case !errors.Is(err, ErrCommunication):
			return nil, err
		}

		if errors.Is(err, errIndirectComm) && call.lease != nil {
			call.releaseLease()
			hdr.Sequence = 0
		}

		if !m.retriesEnabled.Load() || (call.Retries >= 0 && retry >= call.Retries) {
			return nil, ErrCommunication
		}

		if err := m.sleep(ctx, RetryWait(retry)); err != nil {
			return nil, ErrInterrupted
		}

		retry++
		m.metrics.retry("communication")

		if retry == 1 && call.logOnce(logRetry) {
			level.Info(m.logger).Log("msg", "retrying communication with node", "call", call.id, "target", target,
				"type", hdr.Type)
		}
	}
}

// resolve finds the target of the call and attaches a sequence number to
// ordered requests for mirror groups.
func (m *Messenger) resolve(ctx context.Context, call *Call) (targetstate.TargetID, error) {
	if !call.Peer.Mirrored {
		call.target = call.Peer.Target
		return call.target, nil
	}

	target, ok := m.nodes.PrimaryTarget(call.Peer.Group)
	if !ok || target == 0 {
		level.Error(m.logger).Log("msg", "unable to resolve primary target of mirror group", "call", call.id, "group", call.Peer.Group)
		return 0, ErrUnknownNode
	}

	call.target = target
	hdr := &call.Request.Header

	if !call.Ordered {
		return target, nil
	}

	hdr.SetFlag(netmsg.FlagHasSequenceNo)

	if hdr.Sequence != 0 {
		return target, nil
	}

	if m.sequences == nil {
		return 0, fmt.Errorf("%w: no sequence coordinator for mirror group %d", ErrInternal, call.Peer.Group)
	}

	lease, err := m.sequences.Acquire(ctx, call.Peer.Group)
	if err != nil {
		level.Warn(m.logger).Log("msg", "unable to acquire sequence number", "call", call.id, "group", call.Peer.Group, "err", err)

		if errors.Is(err, seqno.ErrInterrupted) || ctx.Err() != nil {
			return 0, ErrInterrupted
		}

		return 0, ErrUnknownNode
	}

	call.lease = lease
	call.group = lease.Group()
	hdr.Sequence = lease.Seq
	hdr.SequenceDone = lease.Done

	if lease.SelectiveAck {
		hdr.SetFlag(netmsg.FlagIsSelectiveAck)
	}

	return target, nil
}
