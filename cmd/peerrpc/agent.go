package main

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/urfave/cli/v2"

	"github.com/maxpoletaev/peerrpc/config"
	"github.com/maxpoletaev/peerrpc/membership"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

var agentCommand = &cli.Command{
	Name:  "agent",
	Usage: "keep connections to the configured nodes and follow topology changes",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "watch", Usage: "reload node endpoints when the config file changes", Value: true},
	},
	Action: runAgent,
}

func runAgent(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := setupLogger(conf.Verbose || c.Bool("verbose"))

	rt, err := setupRuntime(&conf, logger)
	if err != nil {
		return err
	}

	ctx := c.Context
	wg := sync.WaitGroup{}

	wg.Add(1)

	go func() {
		defer wg.Done()
		rt.nodes.RunIdleSweep(ctx, conf.Conn.IdleSweepInterval)
	}()

	if path := c.Path("config"); path != "" && c.Bool("watch") {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := watchFile(ctx, path, logger, func() {
				reloaded, err := config.Load(path, config.DefaultEnvPrefix)
				if err != nil {
					level.Error(logger).Log("msg", "failed to reload config", "err", err)
					return
				}

				if err := rt.applyTopology(&reloaded); err != nil {
					level.Error(logger).Log("msg", "failed to apply topology", "err", err)
					return
				}

				rt.messenger.SetRetriesEnabled(reloaded.Conn.RetriesEnabled)
				level.Info(logger).Log("msg", "config reloaded", "nodes", len(reloaded.Nodes))
			})
			if err != nil {
				level.Error(logger).Log("msg", "config watcher stopped", "err", err)
			}
		}()
	}

	var gossip *membership.Gossip

	if conf.Gossip.Enabled() {
		nodeConf := config.NodeConfig{ID: conf.Local.NodeID, Endpoints: conf.Local.Endpoints}

		endpoints, err := nodeConf.ParseEndpoints()
		if err != nil {
			return err
		}

		nodeType, _ := config.ParseNodeType(conf.Local.NodeType)

		gossip, err = membership.Start(membership.Config{
			BindAddr: conf.Gossip.BindAddr,
			BindPort: conf.Gossip.BindPort,
			Join:     conf.Gossip.Join,
			Logger:   logger,
			Local: membership.Meta{
				NodeID:    targetstate.TargetID(conf.Local.NodeID),
				NodeType:  nodeType,
				Alias:     conf.Local.Alias,
				Endpoints: endpoints,
			},
		}, rt.nodes, rt.states)
		if err != nil {
			return err
		}

		level.Info(logger).Log("msg", "gossip started", "members", gossip.NumMembers())
	}

	stopMetrics := setupMetricsServer(&wg, conf.MetricsAddr, rt)

	level.Info(logger).Log("msg", "agent started", "nodes", len(rt.nodes.Nodes()))
	<-ctx.Done()
	level.Info(logger).Log("msg", "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if gossip != nil {
		if err := gossip.Leave(5 * time.Second); err != nil {
			level.Warn(logger).Log("msg", "failed to stop gossip", "err", err)
		}
	}

	if err := stopMetrics(shutdownCtx); err != nil {
		level.Warn(logger).Log("msg", "failed to stop metrics server", "err", err)
	}

	wg.Wait()

	return rt.close()
}
