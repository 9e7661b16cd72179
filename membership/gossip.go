// Package membership discovers peer nodes through gossip and feeds them to
// the node directory.
package membership

import (
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/memberlist"
)

type Config struct {
	BindAddr string
	BindPort int
	Join     []string
	Local    Meta
	Logger   log.Logger
}

type Gossip struct {
	list   *memberlist.Memberlist
	logger log.Logger
}

// Start creates the gossip member and joins the given seed nodes, if any.
func Start(conf Config, nodes Directory, states StateStore) (*Gossip, error) {
	logger := conf.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	mlconf := memberlist.DefaultLANConfig()
	mlconf.Name = fmt.Sprintf("node-%d", conf.Local.NodeID)
	mlconf.BindAddr = conf.BindAddr
	mlconf.BindPort = conf.BindPort
	mlconf.LogOutput = log.NewStdlibAdapter(level.Debug(logger))

	mlconf.Delegate = &metaDelegate{
		meta:   EncodeMeta(conf.Local),
		logger: logger,
	}

	mlconf.Events = &eventDelegate{
		localID: conf.Local.NodeID,
		nodes:   nodes,
		states:  states,
		logger:  logger,
	}

	list, err := memberlist.Create(mlconf)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}

	if len(conf.Join) > 0 {
		n, err := list.Join(conf.Join)
		if err != nil {
			_ = list.Shutdown()
			return nil, fmt.Errorf("join cluster: %w", err)
		}

		level.Info(logger).Log("msg", "joined cluster", "contacted", n)
	}

	return &Gossip{
		list:   list,
		logger: logger,
	}, nil
}

func (g *Gossip) NumMembers() int {
	return g.list.NumMembers()
}

// Leave announces the departure to the cluster and stops gossiping.
func (g *Gossip) Leave(timeout time.Duration) error {
	if err := g.list.Leave(timeout); err != nil {
		level.Warn(g.logger).Log("msg", "failed to leave cluster", "err", err)
	}

	return g.list.Shutdown()
}
