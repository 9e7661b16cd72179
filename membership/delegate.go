package membership

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/memberlist"

	"github.com/maxpoletaev/peerrpc/nodeconn"
	"github.com/maxpoletaev/peerrpc/nodestore"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

// Directory receives the nodes discovered through gossip.
type Directory interface {
	AddNode(id targetstate.TargetID, alias string, endpoints []nodeconn.Endpoint) *nodestore.Node
	RemoveNode(id targetstate.TargetID) error
}

// StateStore receives reachability changes of the discovered nodes.
type StateStore interface {
	State(id targetstate.TargetID) (targetstate.State, bool)
	Set(id targetstate.TargetID, st targetstate.State)
}

type eventDelegate struct {
	localID targetstate.TargetID
	nodes   Directory
	states  StateStore
	logger  log.Logger
}

func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	meta, ok := d.decode(node)
	if !ok {
		return
	}

	d.nodes.AddNode(meta.NodeID, meta.Alias, meta.Endpoints)
	d.setReachability(meta.NodeID, targetstate.Online)

	level.Info(d.logger).Log("msg", "node joined", "id", meta.NodeID, "alias", meta.Alias, "endpoints", len(meta.Endpoints))
}

func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	meta, ok := d.decode(node)
	if !ok {
		return
	}

	d.nodes.AddNode(meta.NodeID, meta.Alias, meta.Endpoints)

	level.Debug(d.logger).Log("msg", "node updated", "id", meta.NodeID)
}

func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	meta, ok := d.decode(node)
	if !ok {
		return
	}

	d.setReachability(meta.NodeID, targetstate.Offline)

	if err := d.nodes.RemoveNode(meta.NodeID); err != nil {
		level.Warn(d.logger).Log("msg", "failed to remove node", "id", meta.NodeID, "err", err)
	}

	level.Info(d.logger).Log("msg", "node left", "id", meta.NodeID, "alias", meta.Alias)
}

// decode extracts the node metadata. Events about the local node and nodes
// with unreadable metadata are ignored.
func (d *eventDelegate) decode(node *memberlist.Node) (Meta, bool) {
	meta, err := DecodeMeta(node.Meta)
	if err != nil {
		level.Warn(d.logger).Log("msg", "ignoring gossip member", "name", node.Name, "err", err)
		return Meta{}, false
	}

	return meta, meta.NodeID != d.localID
}

func (d *eventDelegate) setReachability(id targetstate.TargetID, r targetstate.Reachability) {
	if d.states == nil {
		return
	}

	st, ok := d.states.State(id)
	if !ok {
		st.Consistency = targetstate.Good
	}

	st.Reachability = r
	d.states.Set(id, st)
}

// metaDelegate advertises the local node metadata. No user messages or
// state are exchanged.
type metaDelegate struct {
	meta   []byte
	logger log.Logger
}

func (d *metaDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		level.Error(d.logger).Log("msg", "node metadata exceeds gossip limit", "size", len(d.meta), "limit", limit)
		return nil
	}

	return d.meta
}

func (d *metaDelegate) NotifyMsg([]byte) {}

func (d *metaDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

func (d *metaDelegate) LocalState(join bool) []byte {
	return nil
}

func (d *metaDelegate) MergeRemoteState(buf []byte, join bool) {}
