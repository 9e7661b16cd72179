package messaging

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/maxpoletaev/peerrpc/netmsg"
	"github.com/maxpoletaev/peerrpc/nodeconn"
	"github.com/maxpoletaev/peerrpc/seqno"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

// fakePeer serves every dialed connection with handler. A nil reply makes
// the peer drop the connection.
type fakePeer struct {
	mut      sync.Mutex
	handler  func(req *netmsg.Message) *netmsg.Message
	requests []*netmsg.Message
	dials    int
}

func (p *fakePeer) Dial(ctx context.Context, ep nodeconn.Endpoint) (net.Conn, error) {
	p.mut.Lock()
	p.dials++
	p.mut.Unlock()

	client, server := net.Pipe()
	go p.serve(server)

	return client, nil
}

func (p *fakePeer) serve(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, netmsg.MaxMsgSize)

	for {
		n, err := netmsg.RecvMsgBuf(conn, buf, 0)
		if err != nil {
			return
		}

		req, err := netmsg.Parse(buf[:n])
		if err != nil {
			return
		}

		if netmsg.IsChannelControl(req.Header.Type) {
			continue
		}

		req = &netmsg.Message{
			Header:  req.Header,
			Payload: append([]byte(nil), req.Payload...),
		}

		p.mut.Lock()
		p.requests = append(p.requests, req)
		handler := p.handler
		p.mut.Unlock()

		resp := handler(req)
		if resp == nil {
			return
		}

		if _, err := conn.Write(resp.Bytes()); err != nil {
			return
		}
	}
}

func (p *fakePeer) Requests() []*netmsg.Message {
	p.mut.Lock()
	defer p.mut.Unlock()

	return append([]*netmsg.Message(nil), p.requests...)
}

func (p *fakePeer) Dials() int {
	p.mut.Lock()
	defer p.mut.Unlock()

	return p.dials
}

type fakeDirectory struct {
	mut      sync.Mutex
	pools    map[targetstate.TargetID]*nodeconn.Pool
	groups   map[seqno.GroupID]targetstate.TargetID
	inactive map[targetstate.TargetID]bool
}

func (d *fakeDirectory) PrimaryTarget(group seqno.GroupID) (targetstate.TargetID, bool) {
	d.mut.Lock()
	defer d.mut.Unlock()

	id, ok := d.groups[group]

	return id, ok
}

func (d *fakeDirectory) Pool(id targetstate.TargetID) (*nodeconn.Pool, bool) {
	d.mut.Lock()
	defer d.mut.Unlock()

	p, ok := d.pools[id]

	return p, ok
}

func (d *fakeDirectory) IsActive(id targetstate.TargetID) bool {
	d.mut.Lock()
	defer d.mut.Unlock()

	return !d.inactive[id]
}

// countingStates counts how many times the state of a target was read.
type countingStates struct {
	*targetstate.Store
	mut   sync.Mutex
	reads int
}

func (s *countingStates) State(id targetstate.TargetID) (targetstate.State, bool) {
	s.mut.Lock()
	s.reads++
	s.mut.Unlock()

	return s.Store.State(id)
}

func (s *countingStates) Reads() int {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.reads
}

type testEnv struct {
	peer      *fakePeer
	pool      *nodeconn.Pool
	dir       *fakeDirectory
	seqs      *seqno.Coordinator
	bufs      *BufStore
	messenger *Messenger

	sleepMut sync.Mutex
	sleeps   []time.Duration
}

func newTestEnv(handler func(req *netmsg.Message) *netmsg.Message) *testEnv {
	peer := &fakePeer{handler: handler}

	poolConf := nodeconn.DefaultConfig()
	poolConf.Dialer = peer
	poolConf.MaxConns = 2
	pool := nodeconn.NewPool("node1", []nodeconn.Endpoint{{Addr: "10.0.0.1:8003"}}, poolConf)

	dir := &fakeDirectory{
		pools:    map[targetstate.TargetID]*nodeconn.Pool{1: pool},
		groups:   map[seqno.GroupID]targetstate.TargetID{1: 1},
		inactive: make(map[targetstate.TargetID]bool),
	}

	env := &testEnv{
		peer: peer,
		pool: pool,
		dir:  dir,
		seqs: seqno.NewCoordinator(4),
		bufs: NewBufStore(4, 1024),
	}

	env.messenger = New(Config{
		Nodes:      dir,
		Sequences:  env.seqs,
		Engine:     NewEngine(EngineConfig{BufStore: env.bufs, RecvTimeout: 5 * time.Second}),
		NumRetries: 5,
	})

	env.messenger.sleep = func(ctx context.Context, d time.Duration) error {
		env.sleepMut.Lock()
		env.sleeps = append(env.sleeps, d)
		env.sleepMut.Unlock()

		return ctx.Err()
	}

	return env
}

func (e *testEnv) Sleeps() []time.Duration {
	e.sleepMut.Lock()
	defer e.sleepMut.Unlock()

	return append([]time.Duration(nil), e.sleeps...)
}

func ackReply(payload string) *netmsg.Message {
	return netmsg.New(netmsg.TypeAck, []byte(payload))
}

func genericReply(code netmsg.ControlCode) *netmsg.Message {
	return netmsg.NewGenericResponse(code, "test")
}

type failingPool struct {
	err error
}

func (p *failingPool) Acquire(ctx context.Context, wait bool) (*nodeconn.Conn, error) {
	return nil, p.err
}

func (p *failingPool) Release(c *nodeconn.Conn) {}

func (p *failingPool) Invalidate(c *nodeconn.Conn) {}
