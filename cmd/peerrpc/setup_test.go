package main

import (
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/peerrpc/config"
	"github.com/maxpoletaev/peerrpc/messaging"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

func testConfig() config.Config {
	conf := config.Default()
	conf.Nodes = []config.NodeConfig{
		{ID: 1, Alias: "meta1", Endpoints: []config.EndpointConfig{{Protocol: "tcp", Addr: "10.0.0.1:8005"}}},
		{ID: 2, Alias: "meta2", Endpoints: []config.EndpointConfig{{Protocol: "tcp", Addr: "10.0.0.2:8005"}}},
	}
	conf.MirrorGroups = []config.MirrorGroupConfig{
		{ID: 100, Primary: 1, Secondary: 2},
	}

	return conf
}

func TestSetupRuntime(t *testing.T) {
	conf := testConfig()

	rt, err := setupRuntime(&conf, kitlog.NewNopLogger())
	require.NoError(t, err)

	defer rt.close()

	require.True(t, rt.nodes.IsActive(1))
	require.True(t, rt.nodes.IsActive(2))

	primary, ok := rt.nodes.PrimaryTarget(100)
	require.True(t, ok)
	assert.Equal(t, targetstate.TargetID(1), primary)

	_, ok = rt.sequences.Group(100)
	require.True(t, ok)

	st, ok := rt.states.State(1)
	require.True(t, ok)
	assert.Equal(t, targetstate.Online, st.Reachability)
}

func TestApplyTopology_Reload(t *testing.T) {
	conf := testConfig()

	rt, err := setupRuntime(&conf, kitlog.NewNopLogger())
	require.NoError(t, err)

	defer rt.close()

	// A node discovered through gossip must survive reloads.
	rt.nodes.AddNode(9, "gossip9", nil)

	conf.Nodes = conf.Nodes[:1]
	conf.Nodes[0].Endpoints = []config.EndpointConfig{{Protocol: "tcp", Addr: "10.0.1.1:8005"}}
	conf.MirrorGroups = nil

	require.NoError(t, rt.applyTopology(&conf))

	require.True(t, rt.nodes.IsActive(1))
	require.False(t, rt.nodes.IsActive(2))
	require.True(t, rt.nodes.IsActive(9))

	pool, ok := rt.nodes.Pool(1)
	require.True(t, ok)
	assert.Equal(t, "10.0.1.1:8005", pool.Endpoints()[0].Addr)

	_, ok = rt.nodes.PrimaryTarget(100)
	require.False(t, ok)

	_, ok = rt.sequences.Group(100)
	require.False(t, ok)
}

func TestApplyTopology_SelectiveAckChange(t *testing.T) {
	conf := testConfig()

	rt, err := setupRuntime(&conf, kitlog.NewNopLogger())
	require.NoError(t, err)

	defer rt.close()

	group, ok := rt.sequences.Group(100)
	require.True(t, ok)
	require.False(t, group.SelectiveAck())

	conf.MirrorGroups[0].SelectiveAck = true
	require.NoError(t, rt.applyTopology(&conf))

	reloaded, ok := rt.sequences.Group(100)
	require.True(t, ok)
	require.Same(t, group, reloaded)
	require.True(t, reloaded.SelectiveAck())
}

func TestParsePreset(t *testing.T) {
	preset, err := parsePreset("state-sleep")
	require.NoError(t, err)
	assert.Equal(t, messaging.PresetStateSleep, preset)

	_, err = parsePreset("forever")
	require.Error(t, err)
}
