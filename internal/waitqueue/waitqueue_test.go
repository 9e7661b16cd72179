package waitqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func isClosed(c chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func TestQueue_SignalIsFIFO(t *testing.T) {
	q := &Queue{}
	w1 := q.Add()
	w2 := q.Add()

	q.Signal()
	require.True(t, isClosed(w1.C))
	require.False(t, isClosed(w2.C))
	require.Equal(t, 1, q.Len())

	q.Signal()
	require.True(t, isClosed(w2.C))
	require.Equal(t, 0, q.Len())

	q.Signal() // no waiters, no-op
}

func TestQueue_RemoveUnsignaled(t *testing.T) {
	q := &Queue{}
	w1 := q.Add()
	w2 := q.Add()

	q.Remove(w1)
	require.Equal(t, 1, q.Len())

	q.Signal()
	require.False(t, isClosed(w1.C))
	require.True(t, isClosed(w2.C))
}

func TestQueue_RemoveSignaledPassesWakeup(t *testing.T) {
	q := &Queue{}
	w1 := q.Add()
	w2 := q.Add()

	q.Signal()
	q.Remove(w1)

	require.True(t, isClosed(w2.C))
	require.Equal(t, 0, q.Len())
}
