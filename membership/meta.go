package membership

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/maxpoletaev/peerrpc/nodeconn"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

var ErrBadMeta = errors.New("malformed node metadata")

// Meta is what a node advertises about itself through gossip.
type Meta struct {
	NodeID    targetstate.TargetID
	NodeType  uint32
	Alias     string
	Endpoints []nodeconn.Endpoint
}

const (
	fieldNodeID   protowire.Number = 1
	fieldNodeType protowire.Number = 2
	fieldAlias    protowire.Number = 3
	fieldEndpoint protowire.Number = 4

	fieldEndpointProtocol protowire.Number = 1
	fieldEndpointAddr     protowire.Number = 2
	fieldEndpointFallback protowire.Number = 3
)

// EncodeMeta serializes the metadata using the protobuf wire format, so that
// unknown fields added later are skipped by older nodes.
func EncodeMeta(m Meta) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldNodeID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NodeID))
	b = protowire.AppendTag(b, fieldNodeType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NodeType))

	if m.Alias != "" {
		b = protowire.AppendTag(b, fieldAlias, protowire.BytesType)
		b = protowire.AppendString(b, m.Alias)
	}

	for _, ep := range m.Endpoints {
		b = protowire.AppendTag(b, fieldEndpoint, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeEndpoint(ep))
	}

	return b
}

func encodeEndpoint(ep nodeconn.Endpoint) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldEndpointProtocol, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ep.Protocol))
	b = protowire.AppendTag(b, fieldEndpointAddr, protowire.BytesType)
	b = protowire.AppendString(b, ep.Addr)

	if ep.Fallback {
		b = protowire.AppendTag(b, fieldEndpointFallback, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}

	return b
}

func DecodeMeta(b []byte) (Meta, error) {
	var m Meta

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldNodeID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.NodeID = targetstate.TargetID(v)

			return n, nil

		case num == fieldNodeType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.NodeType = uint32(v)

			return n, nil

		case num == fieldAlias && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Alias = v

			return n, nil

		case num == fieldEndpoint && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}

			ep, err := decodeEndpoint(v)
			if err != nil {
				return 0, err
			}

			m.Endpoints = append(m.Endpoints, ep)

			return n, nil
		}

		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return Meta{}, err
	}

	if m.NodeID == 0 {
		return Meta{}, fmt.Errorf("%w: missing node id", ErrBadMeta)
	}

	return m, nil
}

func decodeEndpoint(b []byte) (nodeconn.Endpoint, error) {
	var ep nodeconn.Endpoint

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldEndpointProtocol && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			ep.Protocol = nodeconn.Protocol(v)

			return n, nil

		case num == fieldEndpointAddr && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			ep.Addr = v

			return n, nil

		case num == fieldEndpointFallback && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			ep.Fallback = protowire.DecodeBool(v)

			return n, nil
		}

		return protowire.ConsumeFieldValue(num, typ, b), nil
	})

	return ep, err
}

// consumeFields walks over the fields in b. The callback consumes the value
// of a single field and returns its length, or a negative protowire code.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrBadMeta, protowire.ParseError(n))
		}

		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return err
		}

		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrBadMeta, num, protowire.ParseError(n))
		}

		b = b[n:]
	}

	return nil
}
