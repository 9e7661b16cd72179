package targetstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore()

	_, ok := s.State(1)
	require.False(t, ok)

	s.Set(1, State{Reachability: ProbablyOffline, Consistency: NeedsResync})
	st, ok := s.State(1)
	require.True(t, ok)
	require.Equal(t, ProbablyOffline, st.Reachability)
	require.Equal(t, "needs-resync", st.Consistency.String())

	s.Remove(1)
	_, ok = s.State(1)
	require.False(t, ok)
}
