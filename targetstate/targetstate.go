// Package targetstate keeps the last known health of remote targets. The
// states are computed elsewhere (by whoever talks to the management
// service); this package only stores them for the messaging layer to read.
package targetstate

import "sync"

// TargetID identifies a remote target. A target is served by exactly one
// node, and the messaging layer addresses nodes by their target id.
type TargetID uint32

type Reachability uint8

const (
	Online Reachability = iota
	ProbablyOffline
	Offline
)

func (r Reachability) String() string {
	switch r {
	case Online:
		return "online"
	case ProbablyOffline:
		return "probably-offline"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

type Consistency uint8

const (
	Good Consistency = iota
	NeedsResync
	Bad
)

func (c Consistency) String() string {
	switch c {
	case Good:
		return "good"
	case NeedsResync:
		return "needs-resync"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

type State struct {
	Reachability Reachability
	Consistency  Consistency
}

// Store is an in-memory, concurrency-safe map of target states.
type Store struct {
	mut    sync.RWMutex
	states map[TargetID]State
}

func NewStore() *Store {
	return &Store{
		states: make(map[TargetID]State),
	}
}

// State returns the state of the target, or false if nothing is known about it.
func (s *Store) State(id TargetID) (State, bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	st, ok := s.states[id]

	return st, ok
}

func (s *Store) Set(id TargetID, st State) {
	s.mut.Lock()
	s.states[id] = st
	s.mut.Unlock()
}

func (s *Store) Remove(id TargetID) {
	s.mut.Lock()
	delete(s.states, id)
	s.mut.Unlock()
}
