package seqno

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// GroupID identifies a mirror group, a primary/secondary pair of targets
// addressed as one unit.
type GroupID uint32

// Group hands out sequence numbers for one mirror group. Base zero means the
// group has not learned its base from the peer yet.
type Group struct {
	id           GroupID
	selectiveAck atomic.Bool
	slots        *semaphore.Weighted

	mut      sync.Mutex
	base     uint64
	inFlight map[uint64]struct{}
}

func newGroup(id GroupID, selectiveAck bool, maxSlots int64) *Group {
	g := &Group{
		id:       id,
		slots:    semaphore.NewWeighted(maxSlots),
		inFlight: make(map[uint64]struct{}),
	}

	g.selectiveAck.Store(selectiveAck)

	return g
}

func (g *Group) ID() GroupID {
	return g.id
}

func (g *Group) SelectiveAck() bool {
	return g.selectiveAck.Load()
}

// SetSelectiveAck changes the acknowledgment mode. Leases already handed
// out keep the mode they were issued with.
func (g *Group) SetSelectiveAck(enabled bool) {
	g.selectiveAck.Store(enabled)
}

// Base returns the number the next lease will get.
func (g *Group) Base() uint64 {
	g.mut.Lock()
	defer g.mut.Unlock()

	return g.base
}

// Rebase sets the next sequence number to base. The peer is authoritative,
// so the base may move backwards, but never to a number that is still
// leased: the base stays above the highest outstanding lease.
func (g *Group) Rebase(base uint64) {
	g.mut.Lock()
	defer g.mut.Unlock()

	for n := range g.inFlight {
		if n >= base {
			base = n + 1
		}
	}

	g.base = base
}

// InFlight returns the number of leases that have not been released yet.
func (g *Group) InFlight() int {
	g.mut.Lock()
	defer g.mut.Unlock()

	return len(g.inFlight)
}

func (g *Group) acquire(ctx context.Context) (*Lease, error) {
	if !g.slots.TryAcquire(1) {
		if err := g.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	g.mut.Lock()
	defer g.mut.Unlock()

	// Without a base the request goes out unnumbered. The peer answers with
	// a new base, and the retry gets a real number.
	if g.base == 0 {
		g.slots.Release(1)

		lease := &Lease{group: g, SelectiveAck: g.selectiveAck.Load()}
		lease.released.Store(true)

		return lease, nil
	}

	seq := g.base
	g.base++
	g.inFlight[seq] = struct{}{}

	lowest := seq
	for n := range g.inFlight {
		if n < lowest {
			lowest = n
		}
	}

	return &Lease{
		Seq:          seq,
		Done:         lowest - 1,
		SelectiveAck: g.selectiveAck.Load(),
		group:        g,
	}, nil
}

func (g *Group) release(seq uint64) {
	g.mut.Lock()
	delete(g.inFlight, seq)
	g.mut.Unlock()

	g.slots.Release(1)
}

// Lease is a claim on one sequence number of a group. Done is the highest
// number of the group for which all lower numbers had been released when
// the lease was issued.
type Lease struct {
	Seq          uint64
	Done         uint64
	SelectiveAck bool

	group    *Group
	released atomic.Bool
}

func (l *Lease) Group() *Group {
	return l.group
}

// Release returns the number to the group. It never blocks and can be
// called any number of times.
func (l *Lease) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}

	l.group.release(l.Seq)
}
