package nodeconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"

	"github.com/maxpoletaev/peerrpc/internal/multierror"
	"github.com/maxpoletaev/peerrpc/internal/waitqueue"
	"github.com/maxpoletaev/peerrpc/netmsg"
)

const (
	DefaultMaxConns           = 12
	DefaultFallbackExpiration = 15 * time.Minute

	shutdownWait = 100 * time.Millisecond
)

var (
	ErrWouldBlock    = errors.New("no connection immediately available")
	ErrConnectFailed = errors.New("connect failed on all available routes")
	ErrInterrupted   = errors.New("interrupted while acquiring a connection")
	ErrPoolClosed    = errors.New("connection pool is closed")
)

type Config struct {
	// MaxConns limits the number of established connections.
	MaxConns int

	// FallbackExpiration is how long a connection made through a fallback
	// route may be reused. Zero disables expiration.
	FallbackExpiration time.Duration

	// MaxConcurrentAttempts limits the number of concurrent connect
	// attempts. Zero means no limit.
	MaxConcurrentAttempts int

	Dialer        Dialer
	Capabilities  Capabilities
	NetFilter     *NetFilter
	TCPOnlyFilter *NetFilter

	// AuthHash is sent in the channel handshake when it is not zero.
	AuthHash uint64

	// LocalNodeType and LocalNodeID are announced to the peer after connect.
	LocalNodeType uint32
	LocalNodeID   uint32

	HandshakeTimeout time.Duration

	Logger  log.Logger
	Metrics *Metrics
}

func DefaultConfig() Config {
	return Config{
		MaxConns:           DefaultMaxConns,
		FallbackExpiration: DefaultFallbackExpiration,
		Dialer:             &NetDialer{Timeout: 5 * time.Second},
		Capabilities:       Capabilities{Local: true},
		HandshakeTimeout:   5 * time.Second,
		Logger:             log.NewNopLogger(),
	}
}

type Stats struct {
	Established int
	Available   int
	MaxConns    int
	ByProtocol  map[Protocol]int
}

// Pool keeps the connections to a single node. Connections are created on
// demand, up to MaxConns, and are handed out to one caller at a time.
type Pool struct {
	node       string
	conf       Config
	logger     log.Logger
	connectSem *semaphore.Weighted

	mut         deadlock.Mutex
	waiters     waitqueue.Queue
	conns       map[*Conn]struct{}
	available   []*Conn
	established int
	endpoints   []Endpoint
	fingerprint uint32
	protoStats  map[Protocol]int
	errState    errState
	closed      bool
}

func NewPool(node string, endpoints []Endpoint, conf Config) *Pool {
	if conf.MaxConns <= 0 {
		conf.MaxConns = DefaultMaxConns
	}

	if conf.Dialer == nil {
		conf.Dialer = &NetDialer{}
	}

	if conf.Logger == nil {
		conf.Logger = log.NewNopLogger()
	}

	p := &Pool{
		node:        node,
		conf:        conf,
		logger:      log.With(conf.Logger, "node", node),
		conns:       make(map[*Conn]struct{}),
		endpoints:   slices.Clone(endpoints),
		fingerprint: fingerprint(endpoints),
		protoStats:  make(map[Protocol]int),
	}

	if conf.MaxConcurrentAttempts > 0 {
		p.connectSem = semaphore.NewWeighted(int64(conf.MaxConcurrentAttempts))
	}

	return p
}

func (p *Pool) Node() string {
	return p.node
}

func (p *Pool) Endpoints() []Endpoint {
	p.mut.Lock()
	defer p.mut.Unlock()

	return slices.Clone(p.endpoints)
}

func (p *Pool) Stats() Stats {
	p.mut.Lock()
	defer p.mut.Unlock()

	byProto := make(map[Protocol]int, len(p.protoStats))
	for proto, n := range p.protoStats {
		if n > 0 {
			byProto[proto] = n
		}
	}

	return Stats{
		Established: p.established,
		Available:   len(p.available),
		MaxConns:    p.conf.MaxConns,
		ByProtocol:  byProto,
	}
}

// Acquire returns an idle connection or establishes a new one. When the pool
// is full, it waits for a connection to be released, unless wait is false,
// in which case ErrWouldBlock is returned. A failed connect is not retried.
func (p *Pool) Acquire(ctx context.Context, wait bool) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}

	p.mut.Lock()

	for {
		if p.closed {
			p.mut.Unlock()
			return nil, ErrPoolClosed
		}

		if n := len(p.available); n > 0 {
			c := p.available[n-1]
			p.available[n-1] = nil
			p.available = p.available[:n-1]

			c.available = false
			c.hasActivity = true

			p.mut.Unlock()

			return c, nil
		}

		if p.established < p.conf.MaxConns {
			break
		}

		if !wait {
			p.mut.Unlock()
			return nil, ErrWouldBlock
		}

		w := p.waiters.Add()
		p.mut.Unlock()

		select {
		case <-w.C:
		case <-ctx.Done():
			p.mut.Lock()
			p.waiters.Remove(w)
			p.mut.Unlock()

			return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}

		p.mut.Lock()
	}

	// Reserve a slot so that concurrent callers do not overshoot MaxConns
	// while we are connecting without the lock.
	p.established++
	endpoints := slices.Clone(p.endpoints)
	p.mut.Unlock()

	c, err := p.connect(ctx, endpoints)

	p.mut.Lock()
	defer p.mut.Unlock()

	if err != nil {
		p.established--

		if !errors.Is(err, ErrInterrupted) {
			if !p.errState.lastCompleteFail {
				level.Error(p.logger).Log("msg", "connect failed on all available routes")
			}

			p.errState.setCompleteFail()
			p.conf.Metrics.connectFailure(p.node)
		}

		p.waiters.Signal()

		return nil, err
	}

	c.hasActivity = true
	c.closeOnRelease = p.closed
	p.conns[c] = struct{}{}
	p.protoStats[c.Protocol()]++
	p.errState.setSuccess(c.endpoint.Host(), c.Protocol())
	p.conf.Metrics.connAdded(p.node, c.Protocol())

	return c, nil
}

func (p *Pool) usable(ep Endpoint) bool {
	host := ep.Host()

	switch {
	case !p.conf.Capabilities.Supports(ep.Protocol):
		return false
	case ep.Protocol != ProtocolLocal && !p.conf.NetFilter.Allows(host):
		return false
	case ep.Protocol != ProtocolTCP && p.conf.TCPOnlyFilter.Contains(host):
		return false
	default:
		return true
	}
}

func (p *Pool) checkErrState(check func(s *errState) bool) bool {
	p.mut.Lock()
	defer p.mut.Unlock()

	return check(&p.errState)
}

// connect tries the endpoints in order and returns the first connection
// that succeeds. It must be called without holding the pool lock.
func (p *Pool) connect(ctx context.Context, endpoints []Endpoint) (*Conn, error) {
	if p.connectSem != nil {
		if err := p.connectSem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		defer p.connectSem.Release(1)
	}

	isPrimary := true

	for _, ep := range orderEndpoints(endpoints) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		if !p.usable(ep) {
			continue
		}

		host := ep.Host()

		raw, err := p.conf.Dialer.Dial(ctx, ep)
		if err == nil {
			if err = p.handshake(raw); err != nil {
				_ = raw.Close()
			}
		}

		if err != nil {
			if p.checkErrState(func(s *errState) bool { return s.shouldLogConnectFailed(host, ep.Protocol) }) {
				level.Warn(p.logger).Log("msg", "connect failed", "endpoint", ep, "err", err)
			}

			isPrimary = false

			continue
		}

		c := &Conn{
			Conn:     raw,
			endpoint: ep,
			fallback: ep.Fallback || !isPrimary,
		}

		if c.fallback && p.conf.FallbackExpiration > 0 {
			c.expireAt = time.Now().Add(p.conf.FallbackExpiration)
		}

		if p.checkErrState(func(s *errState) bool { return s.shouldLogConnected(host, ep.Protocol) }) {
			level.Info(p.logger).Log("msg", "connected", "endpoint", ep, "protocol", ep.Protocol, "fallback", c.fallback)
		}

		return c, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}

	return nil, ErrConnectFailed
}

// handshake sends the channel setup messages. The peer does not answer them.
func (p *Pool) handshake(conn net.Conn) error {
	if p.conf.HandshakeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(p.conf.HandshakeTimeout)); err != nil {
			return err
		}

		defer conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}

	msgs := make([]*netmsg.Message, 0, 3)
	if p.conf.AuthHash != 0 {
		msgs = append(msgs, netmsg.NewAuthenticateChannel(p.conf.AuthHash))
	}

	msgs = append(msgs,
		netmsg.NewSetChannelDirect(0),
		netmsg.NewPeerInfo(p.conf.LocalNodeType, p.conf.LocalNodeID),
	)

	for _, msg := range msgs {
		if _, err := conn.Write(msg.Bytes()); err != nil {
			return fmt.Errorf("send %s: %w", msg.Header.Type, err)
		}
	}

	return nil
}

// Release returns a healthy connection to the pool. Expired fallback
// connections and connections marked for closing are invalidated instead.
func (p *Pool) Release(c *Conn) {
	p.mut.Lock()

	if _, ok := p.conns[c]; !ok || c.available {
		p.mut.Unlock()
		level.Error(p.logger).Log("msg", "tried to release a connection that is not checked out", "endpoint", c.endpoint)

		return
	}

	if c.closeOnRelease || c.expired(time.Now()) {
		p.mut.Unlock()
		_ = p.invalidateSpecific(c)

		return
	}

	c.available = true
	c.hasActivity = true
	p.available = append(p.available, c)
	p.waiters.Signal()

	p.mut.Unlock()
}

// Invalidate closes a broken connection. All idle connections of the pool
// are closed as well, since they most likely share the fate of this one.
func (p *Pool) Invalidate(c *Conn) {
	n, _ := p.invalidateAvailable(false, false)
	level.Debug(p.logger).Log("msg", "invalidated pooled connections", "count", n)

	_ = p.invalidateSpecific(c)
}

// SweepIdle closes available connections that were not used since the
// previous sweep and returns their number.
func (p *Pool) SweepIdle() int {
	n, _ := p.invalidateAvailable(true, false)

	p.mut.Lock()
	for _, c := range p.available {
		c.hasActivity = false
	}
	p.mut.Unlock()

	return n
}

// UpdateEndpoints replaces the endpoint list. If the list changed, idle
// connections are dropped and checked out connections are closed when they
// are released, so that new calls use the new routes.
func (p *Pool) UpdateEndpoints(endpoints []Endpoint) bool {
	fp := fingerprint(endpoints)

	p.mut.Lock()
	changed := fp != p.fingerprint
	p.endpoints = slices.Clone(endpoints)
	p.fingerprint = fp
	p.mut.Unlock()

	if changed {
		n, _ := p.invalidateAvailable(false, true)
		level.Info(p.logger).Log("msg", "endpoints changed, dropped idle connections", "count", n)
	}

	return changed
}

// Close drops all idle connections and makes further Acquire calls fail.
// Connections that are checked out are closed when they are handed back.
func (p *Pool) Close() error {
	p.mut.Lock()
	p.closed = true
	for p.waiters.Len() > 0 {
		p.waiters.Signal()
	}
	p.mut.Unlock()

	_, err := p.invalidateAvailable(false, true)

	return err
}

// invalidateAvailable removes available connections from the pool under the
// lock, then closes them without holding it.
func (p *Pool) invalidateAvailable(idleOnly, closeOnRelease bool) (int, error) {
	p.mut.Lock()

	var victims []*Conn

	n := len(p.available)
	keep := p.available[:0]

	for _, c := range p.available {
		if idleOnly && c.hasActivity {
			keep = append(keep, c)
			continue
		}

		c.available = false
		victims = append(victims, c)
	}

	for i := len(keep); i < n; i++ {
		p.available[i] = nil
	}

	p.available = keep

	if closeOnRelease {
		for c := range p.conns {
			if !c.available {
				c.closeOnRelease = true
			}
		}
	}

	p.mut.Unlock()

	errs := multierror.New[string]()
	for i, c := range victims {
		errs.Add(c.endpoint.String()+"#"+strconv.Itoa(i), p.invalidateSpecific(c))
	}

	return len(victims), errs.Combined()
}

func (p *Pool) invalidateSpecific(c *Conn) error {
	p.mut.Lock()

	if _, ok := p.conns[c]; !ok {
		p.mut.Unlock()
		level.Error(p.logger).Log("msg", "tried to remove a connection that was not found in the pool", "endpoint", c.endpoint)

		return nil
	}

	delete(p.conns, c)

	if c.available {
		c.available = false
		if i := slices.Index(p.available, c); i >= 0 {
			p.available = slices.Delete(p.available, i, i+1)
		}
	}

	p.established--
	p.protoStats[c.Protocol()]--
	p.waiters.Signal()

	p.mut.Unlock()

	p.conf.Metrics.connRemoved(p.node, c.Protocol())

	graceful, err := c.shutdown(shutdownWait)
	if graceful {
		level.Debug(p.logger).Log("msg", "disconnected", "endpoint", c.endpoint)
	} else {
		level.Debug(p.logger).Log("msg", "hard disconnect", "endpoint", c.endpoint)
	}

	return err
}
