package messaging

import (
	"context"

	"github.com/maxpoletaev/peerrpc/nodeconn"
	"github.com/maxpoletaev/peerrpc/seqno"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

// NodeDirectory knows which nodes exist and how to reach them.
type NodeDirectory interface {
	PrimaryTarget(group seqno.GroupID) (targetstate.TargetID, bool)
	Pool(id targetstate.TargetID) (*nodeconn.Pool, bool)
	IsActive(id targetstate.TargetID) bool
}

// SequenceCoordinator assigns sequence numbers for mirror groups.
type SequenceCoordinator interface {
	Acquire(ctx context.Context, group seqno.GroupID) (*seqno.Lease, error)
}

// TargetStates reports the last known health of a target.
type TargetStates interface {
	State(id targetstate.TargetID) (targetstate.State, bool)
}

type connPool interface {
	Acquire(ctx context.Context, wait bool) (*nodeconn.Conn, error)
	Release(c *nodeconn.Conn)
	Invalidate(c *nodeconn.Conn)
}
