package nodeconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpoint_Host(t *testing.T) {
	require.Equal(t, "10.0.0.1", Endpoint{Addr: "10.0.0.1:8003"}.Host())
	require.Equal(t, "::1", Endpoint{Addr: "[::1]:8003"}.Host())
	require.Equal(t, "/run/peer.sock", Endpoint{Protocol: ProtocolLocal, Addr: "/run/peer.sock"}.Host())
}

func TestFingerprint(t *testing.T) {
	a := []Endpoint{{Addr: "10.0.0.1:8003"}, {Addr: "10.0.0.2:8003", Fallback: true}}
	b := []Endpoint{{Addr: "10.0.0.1:8003"}, {Addr: "10.0.0.2:8003"}}
	c := []Endpoint{{Addr: "10.0.0.2:8003", Fallback: true}, {Addr: "10.0.0.1:8003"}}

	require.Equal(t, fingerprint(a), fingerprint(append([]Endpoint(nil), a...)))
	require.NotEqual(t, fingerprint(a), fingerprint(b))
	require.NotEqual(t, fingerprint(a), fingerprint(c))
}

func TestNetFilter(t *testing.T) {
	f, err := NewNetFilter([]string{"10.0.0.0/8", "fd00::/8"})
	require.NoError(t, err)

	require.True(t, f.Contains("10.1.2.3"))
	require.True(t, f.Contains("::ffff:10.1.2.3"))
	require.True(t, f.Contains("fd00::1"))
	require.False(t, f.Contains("192.168.0.1"))
	require.True(t, f.Allows("storage01.local"))
	require.False(t, f.Allows("192.168.0.1"))

	var empty *NetFilter
	require.True(t, empty.Allows("192.168.0.1"))
	require.False(t, empty.Contains("192.168.0.1"))

	_, err = NewNetFilter([]string{"not-a-network"})
	require.Error(t, err)
}

func TestErrState_LogDedup(t *testing.T) {
	s := &errState{}

	// First attempt ever: log both outcomes.
	require.True(t, s.shouldLogConnected("10.0.0.1", ProtocolTCP))
	require.True(t, s.shouldLogConnectFailed("10.0.0.1", ProtocolTCP))

	s.setSuccess("10.0.0.1", ProtocolTCP)
	require.False(t, s.shouldLogConnected("10.0.0.1", ProtocolTCP))
	require.True(t, s.shouldLogConnected("10.0.0.2", ProtocolTCP))
	require.True(t, s.shouldLogConnected("10.0.0.1", ProtocolRDMA))
	require.True(t, s.shouldLogConnectFailed("10.0.0.1", ProtocolTCP))
	require.False(t, s.shouldLogConnectFailed("10.0.0.2", ProtocolTCP))

	s.setCompleteFail()
	require.True(t, s.shouldLogConnected("10.0.0.1", ProtocolTCP))
	require.False(t, s.shouldLogConnectFailed("10.0.0.1", ProtocolTCP))
}
