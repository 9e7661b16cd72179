package messaging

import (
	"errors"
	"fmt"
)

// Every error returned by Messenger.Call is one of these, possibly wrapped.
var (
	ErrCommunication = errors.New("communication error")
	ErrInterrupted   = errors.New("interrupted")
	ErrUnknownNode   = errors.New("unknown node")
	ErrWouldBlock    = errors.New("no connection immediately available")
	ErrPeerTryAgain  = errors.New("peer asked to try again")
	ErrInternal      = errors.New("internal error")
	ErrOutOfMemory   = errors.New("out of memory")
)

// errIndirectComm means a mirror failover raced the request. It is a
// communication error that also requires a new sequence number.
var errIndirectComm = fmt.Errorf("%w: indirect communication error", ErrCommunication)

type Kind uint8

const (
	KindNone Kind = iota
	KindCommunication
	KindInterrupted
	KindUnknownNode
	KindWouldBlock
	KindPeerTryAgain
	KindInternal
	KindOutOfMemory
)

var kindNames = [...]string{
	KindNone:          "none",
	KindCommunication: "communication",
	KindInterrupted:   "interrupted",
	KindUnknownNode:   "unknown_node",
	KindWouldBlock:    "would_block",
	KindPeerTryAgain:  "peer_try_again",
	KindInternal:      "internal",
	KindOutOfMemory:   "out_of_memory",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "unknown"
}

// KindOf classifies an error returned by this package.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCommunication):
		return KindCommunication
	case errors.Is(err, ErrInterrupted):
		return KindInterrupted
	case errors.Is(err, ErrUnknownNode):
		return KindUnknownNode
	case errors.Is(err, ErrWouldBlock):
		return KindWouldBlock
	case errors.Is(err, ErrPeerTryAgain):
		return KindPeerTryAgain
	case errors.Is(err, ErrOutOfMemory):
		return KindOutOfMemory
	default:
		return KindInternal
	}
}
