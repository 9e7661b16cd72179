// Package config loads the settings of the peer messaging layer from a YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/maxpoletaev/peerrpc/nodeconn"
)

const DefaultEnvPrefix = "PEERRPC_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Local        LocalConfig         `koanf:"local"`
	Conn         ConnConfig          `koanf:"conn"`
	MsgBuf       MsgBufConfig        `koanf:"msgbuf"`
	Seq          SeqConfig           `koanf:"seq"`
	Nodes        []NodeConfig        `koanf:"nodes"`
	MirrorGroups []MirrorGroupConfig `koanf:"mirror_groups"`
	Gossip       GossipConfig        `koanf:"gossip"`
	MetricsAddr  string              `koanf:"metrics_addr"`
	Verbose      bool                `koanf:"verbose"`
}

type LocalConfig struct {
	NodeID   uint32 `koanf:"node_id"`
	NodeType string `koanf:"node_type"`
	Alias    string `koanf:"alias"`

	// Endpoints are advertised to other nodes through gossip.
	Endpoints []EndpointConfig `koanf:"endpoints"`
}

type ConnConfig struct {
	MaxInternodeNum       int           `koanf:"max_internode_num"`
	FallbackExpiration    time.Duration `koanf:"fallback_expiration"`
	MaxConcurrentAttempts int           `koanf:"max_concurrent_attempts"`
	NumCommRetries        int           `koanf:"num_comm_retries"`
	RetriesEnabled        bool          `koanf:"retries_enabled"`
	AuthHash              uint64        `koanf:"auth_hash"`
	ConnectTimeout        time.Duration `koanf:"connect_timeout"`
	RecvTimeout           time.Duration `koanf:"recv_timeout"`
	TCPRcvBuf             int           `koanf:"tcp_rcv_buf"`
	RDMAEnabled           bool          `koanf:"rdma_enabled"`
	LocalEnabled          bool          `koanf:"local_enabled"`
	NetFilter             []string      `koanf:"net_filter"`
	TCPOnlyFilter         []string      `koanf:"tcp_only_filter"`
	IdleSweepInterval     time.Duration `koanf:"idle_sweep_interval"`
}

type MsgBufConfig struct {
	Size     int `koanf:"size"`
	Count    int `koanf:"count"`
	MaxAdHoc int `koanf:"max_adhoc"`
}

type SeqConfig struct {
	MaxSlots int `koanf:"max_slots"`
}

type EndpointConfig struct {
	Protocol string `koanf:"protocol"`
	Addr     string `koanf:"addr"`
	Fallback bool   `koanf:"fallback"`
}

type NodeConfig struct {
	ID        uint32           `koanf:"id"`
	Alias     string           `koanf:"alias"`
	Endpoints []EndpointConfig `koanf:"endpoints"`
}

type MirrorGroupConfig struct {
	ID           uint32 `koanf:"id"`
	Primary      uint32 `koanf:"primary"`
	Secondary    uint32 `koanf:"secondary"`
	SelectiveAck bool   `koanf:"selective_ack"`
}

type GossipConfig struct {
	BindAddr string   `koanf:"bind_addr"`
	BindPort int      `koanf:"bind_port"`
	Join     []string `koanf:"join"`
}

func (g GossipConfig) Enabled() bool {
	return g.BindPort != 0 || len(g.Join) > 0
}

func Default() Config {
	return Config{
		Local: LocalConfig{
			NodeType: "client",
		},
		Conn: ConnConfig{
			MaxInternodeNum:    nodeconn.DefaultMaxConns,
			FallbackExpiration: nodeconn.DefaultFallbackExpiration,
			NumCommRetries:     10,
			RetriesEnabled:     true,
			ConnectTimeout:     5 * time.Second,
			RecvTimeout:        10 * time.Minute,
			LocalEnabled:       true,
			IdleSweepInterval:  70 * time.Minute,
		},
		MsgBuf: MsgBufConfig{
			Size:     65536,
			Count:    64,
			MaxAdHoc: 4 << 20,
		},
		Seq: SeqConfig{
			MaxSlots: 16,
		},
		Gossip: GossipConfig{
			BindAddr: "0.0.0.0",
		},
	}
}

// Load reads the configuration file at path, if not empty, and applies
// environment overrides on top of it. Nested keys are separated with a
// double underscore in variable names: PEERRPC_CONN__AUTH_HASH sets
// conn.auth_hash.
func Load(path, envPrefix string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	transform := func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)

		return strings.ReplaceAll(s, "__", ".")
	}

	if err := k.Load(env.Provider(envPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	conf := Default()
	if err := k.Unmarshal("", &conf); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}

	return conf, nil
}

func (c *Config) Validate() error {
	if _, err := ParseNodeType(c.Local.NodeType); err != nil {
		return err
	}

	if c.MsgBuf.Size <= 0 || c.MsgBuf.Count <= 0 {
		return fmt.Errorf("%w: msgbuf size and count must be positive", ErrInvalid)
	}

	if c.Seq.MaxSlots <= 0 {
		return fmt.Errorf("%w: seq.max_slots must be positive", ErrInvalid)
	}

	nodes := make(map[uint32]struct{}, len(c.Nodes))

	for _, n := range c.Nodes {
		if n.ID == 0 {
			return fmt.Errorf("%w: node %q has no id", ErrInvalid, n.Alias)
		}

		if _, ok := nodes[n.ID]; ok {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalid, n.ID)
		}

		nodes[n.ID] = struct{}{}

		if _, err := n.ParseEndpoints(); err != nil {
			return err
		}
	}

	for _, g := range c.MirrorGroups {
		if g.ID == 0 || g.Primary == 0 {
			return fmt.Errorf("%w: mirror group %d needs an id and a primary", ErrInvalid, g.ID)
		}
	}

	return nil
}

func (n NodeConfig) ParseEndpoints() ([]nodeconn.Endpoint, error) {
	endpoints := make([]nodeconn.Endpoint, 0, len(n.Endpoints))

	for _, ep := range n.Endpoints {
		proto, err := nodeconn.ParseProtocol(ep.Protocol)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrInvalid, n.ID, err)
		}

		if ep.Addr == "" {
			return nil, fmt.Errorf("%w: node %d: empty endpoint address", ErrInvalid, n.ID)
		}

		endpoints = append(endpoints, nodeconn.Endpoint{
			Protocol: proto,
			Addr:     ep.Addr,
			Fallback: ep.Fallback,
		})
	}

	return endpoints, nil
}

var nodeTypes = map[string]uint32{
	"meta":    1,
	"storage": 2,
	"client":  3,
	"mgmt":    4,
}

// ParseNodeType converts a node type name to the number announced in the
// channel handshake.
func ParseNodeType(s string) (uint32, error) {
	t, ok := nodeTypes[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown node type %q", ErrInvalid, s)
	}

	return t, nil
}

// PoolConfig builds the connection pool settings. The logger and metrics are
// left for the caller to fill in.
func (c *Config) PoolConfig() (nodeconn.Config, error) {
	netFilter, err := nodeconn.NewNetFilter(c.Conn.NetFilter)
	if err != nil {
		return nodeconn.Config{}, fmt.Errorf("%w: net_filter: %v", ErrInvalid, err)
	}

	tcpOnly, err := nodeconn.NewNetFilter(c.Conn.TCPOnlyFilter)
	if err != nil {
		return nodeconn.Config{}, fmt.Errorf("%w: tcp_only_filter: %v", ErrInvalid, err)
	}

	nodeType, err := ParseNodeType(c.Local.NodeType)
	if err != nil {
		return nodeconn.Config{}, err
	}

	pc := nodeconn.DefaultConfig()
	pc.MaxConns = c.Conn.MaxInternodeNum
	pc.FallbackExpiration = c.Conn.FallbackExpiration
	pc.MaxConcurrentAttempts = c.Conn.MaxConcurrentAttempts
	pc.NetFilter = netFilter
	pc.TCPOnlyFilter = tcpOnly
	pc.AuthHash = c.Conn.AuthHash
	pc.LocalNodeType = nodeType
	pc.LocalNodeID = c.Local.NodeID
	pc.HandshakeTimeout = c.Conn.ConnectTimeout

	pc.Capabilities = nodeconn.Capabilities{
		RDMA:  c.Conn.RDMAEnabled,
		Local: c.Conn.LocalEnabled,
	}

	pc.Dialer = &nodeconn.NetDialer{
		Timeout:     c.Conn.ConnectTimeout,
		RecvBufSize: c.Conn.TCPRcvBuf,
	}

	return pc, nil
}
