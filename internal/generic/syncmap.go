package generic

import (
	"sort"
	"sync"

	"golang.org/x/exp/constraints"
)

// SyncMap is a typed sync.Map. It fits maps that are read on every call and
// written rarely, such as the node directory.
type SyncMap[K constraints.Ordered, V any] struct {
	m sync.Map
}

func (m *SyncMap[K, V]) Load(key K) (V, bool) {
	if v, ok := m.m.Load(key); ok {
		return v.(V), true
	}

	var zero V

	return zero, false
}

// LoadOrStore stores value unless the key is already present, in which case
// the existing value is returned and loaded is true.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.m.LoadOrStore(key, value)
	return v.(V), loaded
}

func (m *SyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	if v, loaded := m.m.LoadAndDelete(key); loaded {
		return v.(V), true
	}

	var zero V

	return zero, false
}

func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Values returns a snapshot of the values ordered by key.
func (m *SyncMap[K, V]) Values() []V {
	var (
		keys   []K
		values = make(map[K]V)
	)

	m.Range(func(k K, v V) bool {
		keys = append(keys, k)
		values[k] = v

		return true
	})

	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})

	res := make([]V, 0, len(keys))
	for _, k := range keys {
		res = append(res, values[k])
	}

	return res
}
