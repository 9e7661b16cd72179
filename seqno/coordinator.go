package seqno

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const DefaultMaxSlots = 16

var (
	ErrUnknownGroup = errors.New("unknown mirror group")
	ErrInterrupted  = errors.New("interrupted while waiting for a sequence slot")
)

// Coordinator owns the mirror groups known to this node and is the only
// place sequence numbers are assigned, so that concurrent calls to the same
// group never share a number.
type Coordinator struct {
	mut      sync.RWMutex
	groups   map[GroupID]*Group
	maxSlots int64
}

// NewCoordinator creates a coordinator that allows at most maxSlots leases
// per group to be outstanding at the same time.
func NewCoordinator(maxSlots int) *Coordinator {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}

	return &Coordinator{
		groups:   make(map[GroupID]*Group),
		maxSlots: int64(maxSlots),
	}
}

// AddGroup registers a group. A group that is already known keeps its
// sequence state and switches to the given acknowledgment mode.
func (c *Coordinator) AddGroup(id GroupID, selectiveAck bool) *Group {
	c.mut.Lock()
	defer c.mut.Unlock()

	if g, ok := c.groups[id]; ok {
		g.SetSelectiveAck(selectiveAck)
		return g
	}

	g := newGroup(id, selectiveAck, c.maxSlots)
	c.groups[id] = g

	return g
}

func (c *Coordinator) RemoveGroup(id GroupID) {
	c.mut.Lock()
	delete(c.groups, id)
	c.mut.Unlock()
}

func (c *Coordinator) Group(id GroupID) (*Group, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()

	g, ok := c.groups[id]

	return g, ok
}

// Acquire returns a lease on the next sequence number of the group. It waits
// while all slots of the group are taken, and gives up when ctx is done.
func (c *Coordinator) Acquire(ctx context.Context, id GroupID) (*Lease, error) {
	g, ok := c.Group(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}

	lease, err := g.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}

	return lease, nil
}

// Rebase sets the next sequence number of the group, as instructed by a peer.
func (c *Coordinator) Rebase(id GroupID, base uint64) error {
	g, ok := c.Group(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}

	g.Rebase(base)

	return nil
}
