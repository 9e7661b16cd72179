package netmsg

import "strconv"

// Type is the message type tag carried in the header.
type Type uint16

const (
	TypeInvalid             Type = 0
	TypeAckNotify           Type = 3031
	TypeAckNotifyResp       Type = 3032
	TypeSetChannelDirect    Type = 4001
	TypeAck                 Type = 4003
	TypeDummy               Type = 4005
	TypeAuthenticateChannel Type = 4007
	TypeGenericResponse     Type = 4009
	TypePeerInfo            Type = 4011
)

var typeNames = map[Type]string{
	TypeInvalid:             "Invalid",
	TypeAckNotify:           "AckNotify",
	TypeAckNotifyResp:       "AckNotifyResp",
	TypeSetChannelDirect:    "SetChannelDirect",
	TypeAck:                 "Ack",
	TypeDummy:               "Dummy",
	TypeAuthenticateChannel: "AuthenticateChannel",
	TypeGenericResponse:     "GenericResponse",
	TypePeerInfo:            "PeerInfo",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	return strconv.Itoa(int(t))
}
