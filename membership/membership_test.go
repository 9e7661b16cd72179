package membership

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/maxpoletaev/peerrpc/nodeconn"
	"github.com/maxpoletaev/peerrpc/nodestore"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

func testMeta() Meta {
	return Meta{
		NodeID:   7,
		NodeType: 2,
		Alias:    "storage7",
		Endpoints: []nodeconn.Endpoint{
			{Protocol: nodeconn.ProtocolRDMA, Addr: "10.1.0.7:8003"},
			{Protocol: nodeconn.ProtocolTCP, Addr: "192.168.0.7:8003", Fallback: true},
		},
	}
}

func TestMeta_EncodeDecode(t *testing.T) {
	meta := testMeta()

	decoded, err := DecodeMeta(EncodeMeta(meta))
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)
}

func TestMeta_SkipsUnknownFields(t *testing.T) {
	b := EncodeMeta(testMeta())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "from the future")

	decoded, err := DecodeMeta(b)
	require.NoError(t, err)
	assert.Equal(t, testMeta(), decoded)
}

func TestMeta_DecodeErrors(t *testing.T) {
	_, err := DecodeMeta(nil)
	require.ErrorIs(t, err, ErrBadMeta)

	b := EncodeMeta(testMeta())
	_, err = DecodeMeta(b[:len(b)-3])
	require.ErrorIs(t, err, ErrBadMeta)
}

func newTestDelegate() (*eventDelegate, *nodestore.Store, *targetstate.Store) {
	nodes := nodestore.New(nodeconn.DefaultConfig(), nil)
	states := targetstate.NewStore()

	d := &eventDelegate{
		localID: 1,
		nodes:   nodes,
		states:  states,
		logger:  log.NewNopLogger(),
	}

	return d, nodes, states
}

func TestEventDelegate_JoinLeave(t *testing.T) {
	d, nodes, states := newTestDelegate()
	member := &memberlist.Node{Name: "node-7", Meta: EncodeMeta(testMeta())}

	d.NotifyJoin(member)

	n, ok := nodes.Node(7)
	require.True(t, ok)
	assert.Equal(t, "storage7", n.Alias)
	assert.Equal(t, testMeta().Endpoints, n.Pool().Endpoints())

	st, ok := states.State(7)
	require.True(t, ok)
	assert.Equal(t, targetstate.State{Reachability: targetstate.Online, Consistency: targetstate.Good}, st)

	d.NotifyLeave(member)

	require.False(t, nodes.IsActive(7))
	st, _ = states.State(7)
	assert.Equal(t, targetstate.Offline, st.Reachability)
}

func TestEventDelegate_UpdateEndpoints(t *testing.T) {
	d, nodes, _ := newTestDelegate()

	meta := testMeta()
	d.NotifyJoin(&memberlist.Node{Name: "node-7", Meta: EncodeMeta(meta)})

	meta.Endpoints = meta.Endpoints[:1]
	d.NotifyUpdate(&memberlist.Node{Name: "node-7", Meta: EncodeMeta(meta)})

	pool, ok := nodes.Pool(7)
	require.True(t, ok)
	assert.Equal(t, meta.Endpoints, pool.Endpoints())
}

func TestEventDelegate_IgnoresLocalAndBadMeta(t *testing.T) {
	d, nodes, _ := newTestDelegate()

	local := testMeta()
	local.NodeID = 1

	d.NotifyJoin(&memberlist.Node{Name: "node-1", Meta: EncodeMeta(local)})
	d.NotifyJoin(&memberlist.Node{Name: "garbage", Meta: []byte{0xff}})

	assert.Empty(t, nodes.Nodes())
}

func TestMetaDelegate_Limit(t *testing.T) {
	d := &metaDelegate{meta: EncodeMeta(testMeta()), logger: log.NewNopLogger()}

	assert.Equal(t, d.meta, d.NodeMeta(512))
	assert.Nil(t, d.NodeMeta(4))
}
