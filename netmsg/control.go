package netmsg

import (
	"bytes"

	"github.com/maxpoletaev/peerrpc/internal/binario"
)

// NewAuthenticateChannel proves to the peer that we know the shared secret.
func NewAuthenticateChannel(authHash uint64) *Message {
	buf := &bytes.Buffer{}
	_ = binario.NewWriter(buf).WriteUint64(authHash)

	return New(TypeAuthenticateChannel, buf.Bytes())
}

// NewSetChannelDirect tells the peer whether replies on this channel may be
// forwarded through another node. Zero marks the channel as indirect.
func NewSetChannelDirect(value int32) *Message {
	buf := &bytes.Buffer{}
	_ = binario.NewWriter(buf).WriteInt32(value)

	return New(TypeSetChannelDirect, buf.Bytes())
}

// NewPeerInfo announces the local node type and id on a fresh channel.
func NewPeerInfo(nodeType, nodeID uint32) *Message {
	buf := &bytes.Buffer{}
	w := binario.NewWriter(buf)
	_ = w.WriteUint32(nodeType)
	_ = w.WriteUint32(nodeID)

	return New(TypePeerInfo, buf.Bytes())
}

// IsChannelControl reports whether t is one of the fire-and-forget messages
// sent right after a connection is established.
func IsChannelControl(t Type) bool {
	switch t {
	case TypeAuthenticateChannel, TypeSetChannelDirect, TypePeerInfo:
		return true
	default:
		return false
	}
}
