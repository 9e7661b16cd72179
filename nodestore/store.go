// Package nodestore is the directory of remote nodes the messaging layer
// talks to. Each node owns a connection pool, and mirror groups are mapped
// to the node that currently acts as their primary.
package nodestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sasha-s/go-deadlock"

	"github.com/maxpoletaev/peerrpc/internal/generic"
	"github.com/maxpoletaev/peerrpc/internal/multierror"
	"github.com/maxpoletaev/peerrpc/nodeconn"
	"github.com/maxpoletaev/peerrpc/seqno"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

var (
	ErrUnknownNode  = errors.New("unknown node")
	ErrUnknownGroup = errors.New("unknown mirror group")
)

type Node struct {
	ID    targetstate.TargetID
	Alias string

	pool   *nodeconn.Pool
	active atomic.Bool
}

func (n *Node) Pool() *nodeconn.Pool {
	return n.pool
}

func (n *Node) IsActive() bool {
	return n.active.Load()
}

func (n *Node) String() string {
	return fmt.Sprintf("%s [ID: %d]", n.Alias, n.ID)
}

type MirrorGroup struct {
	ID        seqno.GroupID
	Primary   targetstate.TargetID
	Secondary targetstate.TargetID
}

type Store struct {
	nodes    generic.SyncMap[targetstate.TargetID, *Node]
	poolConf nodeconn.Config
	logger   log.Logger

	mut    deadlock.RWMutex
	groups map[seqno.GroupID]MirrorGroup
}

// New creates an empty directory. Pools of all nodes are created with
// poolConf.
func New(poolConf nodeconn.Config, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	if poolConf.Logger == nil {
		poolConf.Logger = logger
	}

	return &Store{
		poolConf: poolConf,
		logger:   logger,
		groups:   make(map[seqno.GroupID]MirrorGroup),
	}
}

// AddNode registers a node. If the node is already known, its endpoints are
// updated instead.
func (s *Store) AddNode(id targetstate.TargetID, alias string, endpoints []nodeconn.Endpoint) *Node {
	if n, ok := s.nodes.Load(id); ok {
		n.pool.UpdateEndpoints(endpoints)
		return n
	}

	n := &Node{ID: id, Alias: alias}
	n.pool = nodeconn.NewPool(n.String(), endpoints, s.poolConf)
	n.active.Store(true)

	if existing, loaded := s.nodes.LoadOrStore(id, n); loaded {
		_ = n.pool.Close()
		existing.pool.UpdateEndpoints(endpoints)

		return existing
	}

	level.Info(s.logger).Log("msg", "node added", "node", n, "endpoints", len(endpoints))

	return n
}

// RemoveNode deactivates the node and closes its connections. Calls that
// are still running against the node fail with an unknown node error.
func (s *Store) RemoveNode(id targetstate.TargetID) error {
	n, ok := s.nodes.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}

	n.active.Store(false)
	level.Info(s.logger).Log("msg", "node removed", "node", n)

	return n.pool.Close()
}

func (s *Store) Node(id targetstate.TargetID) (*Node, bool) {
	return s.nodes.Load(id)
}

// Nodes returns the known nodes ordered by ID.
func (s *Store) Nodes() []*Node {
	return s.nodes.Values()
}

func (s *Store) Pool(id targetstate.TargetID) (*nodeconn.Pool, bool) {
	n, ok := s.nodes.Load(id)
	if !ok {
		return nil, false
	}

	return n.pool, true
}

func (s *Store) IsActive(id targetstate.TargetID) bool {
	n, ok := s.nodes.Load(id)
	return ok && n.IsActive()
}

// DropIdleConnections closes the connections of the node that have not been
// used since the previous call and returns their number.
func (s *Store) DropIdleConnections(id targetstate.TargetID) (int, error) {
	n, ok := s.nodes.Load(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}

	return n.pool.SweepIdle(), nil
}

// UpdateEndpoints replaces the endpoint list of the node.
func (s *Store) UpdateEndpoints(id targetstate.TargetID, endpoints []nodeconn.Endpoint) error {
	n, ok := s.nodes.Load(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}

	if n.pool.UpdateEndpoints(endpoints) {
		level.Info(s.logger).Log("msg", "node endpoints updated", "node", n, "endpoints", len(endpoints))
	}

	return nil
}

func (s *Store) SetMirrorGroup(g MirrorGroup) {
	s.mut.Lock()
	s.groups[g.ID] = g
	s.mut.Unlock()
}

func (s *Store) RemoveMirrorGroup(id seqno.GroupID) {
	s.mut.Lock()
	delete(s.groups, id)
	s.mut.Unlock()
}

func (s *Store) MirrorGroup(id seqno.GroupID) (MirrorGroup, bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	g, ok := s.groups[id]

	return g, ok
}

// PrimaryTarget returns the target that currently serves as the group primary.
func (s *Store) PrimaryTarget(id seqno.GroupID) (targetstate.TargetID, bool) {
	g, ok := s.MirrorGroup(id)
	if !ok || g.Primary == 0 {
		return 0, false
	}

	return g.Primary, true
}

// SwitchPrimary swaps the primary and the secondary of the group, which is
// what happens on a mirror failover.
func (s *Store) SwitchPrimary(id seqno.GroupID) (targetstate.TargetID, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}

	g.Primary, g.Secondary = g.Secondary, g.Primary
	s.groups[id] = g

	level.Warn(s.logger).Log("msg", "mirror group switched primary", "group", id, "primary", g.Primary)

	return g.Primary, nil
}

// SweepIdle drops idle connections of all nodes and returns their number.
func (s *Store) SweepIdle() int {
	total := 0

	s.nodes.Range(func(_ targetstate.TargetID, n *Node) bool {
		total += n.pool.SweepIdle()
		return true
	})

	return total
}

// RunIdleSweep drops idle connections periodically until ctx is done.
func (s *Store) RunIdleSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepIdle(); n > 0 {
				level.Debug(s.logger).Log("msg", "dropped idle connections", "count", n)
			}
		}
	}
}

// Close removes all nodes and closes their pools.
func (s *Store) Close() error {
	errs := multierror.New[targetstate.TargetID]()

	for _, n := range s.Nodes() {
		errs.Add(n.ID, s.RemoveNode(n.ID))
	}

	return errs.Combined()
}
