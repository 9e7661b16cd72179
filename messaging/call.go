package messaging

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/maxpoletaev/peerrpc/netmsg"
	"github.com/maxpoletaev/peerrpc/seqno"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

// Peer is the destination of a call: either a single target, or a mirror
// group whose current primary target receives the request.
type Peer struct {
	Target   targetstate.TargetID
	Group    seqno.GroupID
	Mirrored bool
}

func Target(id targetstate.TargetID) Peer {
	return Peer{Target: id}
}

func MirrorGroup(id seqno.GroupID) Peer {
	return Peer{Group: id, Mirrored: true}
}

func (p Peer) String() string {
	if p.Mirrored {
		return fmt.Sprintf("group:%d", p.Group)
	}

	return fmt.Sprintf("target:%d", p.Target)
}

// BufStrategy selects where the send/receive buffer of a call comes from.
type BufStrategy uint8

const (
	// BufPool takes a fixed-size buffer from the shared BufStore.
	BufPool BufStrategy = iota

	// BufAdHoc allocates a buffer sized for the request.
	BufAdHoc
)

// Preset is a common combination of retry settings.
type Preset uint8

const (
	// PresetSingleRetry tolerates one broken pooled connection. It is meant
	// for callers that already know the node is there.
	PresetSingleRetry Preset = iota

	// PresetConfigRetry retries as many times as configured.
	PresetConfigRetry

	// PresetStateSleep retries as many times as configured and waits out
	// transitional target states. It is only interrupted by cancellation.
	PresetStateSleep
)

type logFlags uint8

const (
	logConnectFailed logFlags = 1 << iota
	logCommErr
	logPeerTryAgain
	logPeerIndirectComm
	logRetry
)

// Call holds the request and the retry state of one logical RPC. A Call
// must not be shared between goroutines.
type Call struct {
	Peer     Peer
	Request  *netmsg.Message
	RespType netmsg.Type

	// Ordered requests carry a mirror group sequence number.
	Ordered bool

	// Retries is the number of communication retries. UnlimitedRetries
	// retries until the context is done.
	Retries int

	// AllowStateSleep makes the call wait while the target is in a
	// transitional state instead of failing.
	AllowStateSleep bool

	// NoWait fails with ErrWouldBlock instead of waiting for a connection.
	NoWait bool

	BufStrategy BufStrategy

	id     ulid.ULID
	logged logFlags
	lease  *seqno.Lease
	group  *seqno.Group
	target targetstate.TargetID
}

type CallOption func(*Call)

// WithOrdering attaches a sequence number when the call goes to a mirror group.
func WithOrdering() CallOption {
	return func(c *Call) {
		c.Ordered = true
	}
}

// WithAdHocBuffer makes the call allocate its own buffer.
func WithAdHocBuffer() CallOption {
	return func(c *Call) {
		c.BufStrategy = BufAdHoc
	}
}

// WithNoWait makes the call fail instead of waiting for a free connection.
func WithNoWait() CallOption {
	return func(c *Call) {
		c.NoWait = true
	}
}

// logOnce reports whether a message of the given class has not been logged
// for this call yet, and marks it as logged.
func (c *Call) logOnce(flag logFlags) bool {
	if c.logged&flag != 0 {
		return false
	}

	c.logged |= flag

	return true
}

func (c *Call) releaseLease() {
	c.lease.Release()
	c.lease = nil
}

// Response is a successful reply. Release must be called once the message
// is no longer used, since the payload may live in a shared buffer.
type Response struct {
	Msg *netmsg.Message

	once    sync.Once
	release func()
}

func (r *Response) Release() {
	r.once.Do(func() {
		if r.release != nil {
			r.release()
		}
	})
}
