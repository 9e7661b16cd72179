package nodeconn

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/twmb/murmur3"
)

// Protocol is the transport kind of an endpoint.
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolRDMA
	ProtocolLocal
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolRDMA:
		return "rdma"
	case ProtocolLocal:
		return "local"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "tcp", "":
		return ProtocolTCP, nil
	case "rdma":
		return ProtocolRDMA, nil
	case "local", "unix":
		return ProtocolLocal, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

// Endpoint is one network address of a node. Fallback endpoints are only
// used when every primary endpoint failed, and connections made through
// them expire after a while.
type Endpoint struct {
	Protocol Protocol
	Addr     string
	Fallback bool
}

func (e Endpoint) String() string {
	return e.Protocol.String() + "://" + e.Addr
}

// Host returns the address without the port. Local endpoints are file system
// paths and are returned unchanged.
func (e Endpoint) Host() string {
	if e.Protocol == ProtocolLocal {
		return e.Addr
	}

	host, _, err := net.SplitHostPort(e.Addr)
	if err != nil {
		return e.Addr
	}

	return host
}

// orderEndpoints returns primary endpoints first, then fallback endpoints,
// keeping the relative order within each group.
func orderEndpoints(endpoints []Endpoint) []Endpoint {
	ordered := make([]Endpoint, 0, len(endpoints))

	for _, ep := range endpoints {
		if !ep.Fallback {
			ordered = append(ordered, ep)
		}
	}

	for _, ep := range endpoints {
		if ep.Fallback {
			ordered = append(ordered, ep)
		}
	}

	return ordered
}

// fingerprint hashes the routing-relevant parts of an endpoint list, so that
// an update with the same endpoints does not disturb the pool.
func fingerprint(endpoints []Endpoint) uint32 {
	h := murmur3.New32()

	for _, ep := range endpoints {
		fallback := byte(0)
		if ep.Fallback {
			fallback = 1
		}

		_, _ = h.Write([]byte{byte(ep.Protocol), fallback})
		_, _ = h.Write([]byte(ep.Addr))
		_, _ = h.Write([]byte{0})
	}

	return h.Sum32()
}

// Capabilities lists the protocols the local side can speak. TCP is always
// supported.
type Capabilities struct {
	RDMA  bool
	Local bool
}

func (c Capabilities) Supports(p Protocol) bool {
	switch p {
	case ProtocolTCP:
		return true
	case ProtocolRDMA:
		return c.RDMA
	case ProtocolLocal:
		return c.Local
	default:
		return false
	}
}

// NetFilter is a list of network prefixes.
type NetFilter struct {
	prefixes []netip.Prefix
}

func NewNetFilter(cidrs []string) (*NetFilter, error) {
	f := &NetFilter{}

	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", cidr, err)
		}

		f.prefixes = append(f.prefixes, prefix.Masked())
	}

	return f, nil
}

func (f *NetFilter) Empty() bool {
	return f == nil || len(f.prefixes) == 0
}

// Contains reports whether host is an IP address inside one of the prefixes.
func (f *NetFilter) Contains(host string) bool {
	if f.Empty() {
		return false
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}

	addr = addr.Unmap()

	for _, prefix := range f.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}

// Allows reports whether a connection to host passes the filter. An empty
// filter allows everything, and so do host names, which are not resolved.
func (f *NetFilter) Allows(host string) bool {
	if f.Empty() {
		return true
	}

	if _, err := netip.ParseAddr(host); err != nil {
		return true
	}

	return f.Contains(host)
}
