package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMap(t *testing.T) {
	var m SyncMap[int, string]

	_, ok := m.Load(1)
	require.False(t, ok)

	v, loaded := m.LoadOrStore(2, "two")
	require.False(t, loaded)
	assert.Equal(t, "two", v)

	v, loaded = m.LoadOrStore(2, "other")
	require.True(t, loaded)
	assert.Equal(t, "two", v)

	m.LoadOrStore(1, "one")
	m.LoadOrStore(3, "three")
	assert.Equal(t, []string{"one", "two", "three"}, m.Values())

	v, ok = m.LoadAndDelete(2)
	require.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = m.LoadAndDelete(2)
	require.False(t, ok)
	assert.Equal(t, []string{"one", "three"}, m.Values())
}
