package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxpoletaev/peerrpc/config"
	"github.com/maxpoletaev/peerrpc/messaging"
	"github.com/maxpoletaev/peerrpc/nodeconn"
	"github.com/maxpoletaev/peerrpc/nodestore"
	"github.com/maxpoletaev/peerrpc/seqno"
	"github.com/maxpoletaev/peerrpc/targetstate"
)

type shutdownFunc func(ctx context.Context) error

var noopShutdown = func(ctx context.Context) error { return nil }

func setupLogger(verbose bool) kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	if !verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger
}

// runtime holds everything a call needs: the node directory, the sequence
// coordinator and the messenger on top of them.
type runtime struct {
	nodes     *nodestore.Store
	sequences *seqno.Coordinator
	states    *targetstate.Store
	messenger *messaging.Messenger
	registry  *prometheus.Registry
	logger    kitlog.Logger

	mut        sync.Mutex
	configured map[targetstate.TargetID]struct{}
	groups     map[seqno.GroupID]struct{}
}

func setupRuntime(conf *config.Config, logger kitlog.Logger) (*runtime, error) {
	poolConf, err := conf.PoolConfig()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	poolConf.Logger = logger
	poolConf.Metrics = nodeconn.NewMetrics(registry)

	msgMetrics := messaging.NewMetrics(registry)

	rt := &runtime{
		nodes:      nodestore.New(poolConf, logger),
		sequences:  seqno.NewCoordinator(conf.Seq.MaxSlots),
		states:     targetstate.NewStore(),
		registry:   registry,
		logger:     logger,
		configured: make(map[targetstate.TargetID]struct{}),
		groups:     make(map[seqno.GroupID]struct{}),
	}

	engine := messaging.NewEngine(messaging.EngineConfig{
		BufStore:    messaging.NewBufStore(conf.MsgBuf.Count, conf.MsgBuf.Size),
		RecvTimeout: conf.Conn.RecvTimeout,
		MaxAdHocLen: conf.MsgBuf.MaxAdHoc,
		Logger:      logger,
		Metrics:     msgMetrics,
	})

	rt.messenger = messaging.New(messaging.Config{
		Nodes:           rt.nodes,
		Sequences:       rt.sequences,
		States:          rt.states,
		Engine:          engine,
		NumRetries:      conf.Conn.NumCommRetries,
		RetriesDisabled: !conf.Conn.RetriesEnabled,
		Logger:          logger,
		Metrics:         msgMetrics,
	})

	if err := rt.applyTopology(conf); err != nil {
		return nil, err
	}

	return rt, nil
}

// applyTopology brings the directory in line with the nodes and mirror
// groups of the configuration. Nodes that were added by an earlier version
// of the configuration and are gone from it are removed, nodes discovered
// through gossip are left alone.
func (rt *runtime) applyTopology(conf *config.Config) error {
	rt.mut.Lock()
	defer rt.mut.Unlock()

	seen := make(map[targetstate.TargetID]struct{}, len(conf.Nodes))

	for _, nc := range conf.Nodes {
		endpoints, err := nc.ParseEndpoints()
		if err != nil {
			return err
		}

		id := targetstate.TargetID(nc.ID)
		rt.nodes.AddNode(id, nc.Alias, endpoints)
		seen[id] = struct{}{}

		if _, ok := rt.states.State(id); !ok {
			rt.states.Set(id, targetstate.State{
				Reachability: targetstate.Online,
				Consistency:  targetstate.Good,
			})
		}
	}

	for id := range rt.configured {
		if _, ok := seen[id]; ok {
			continue
		}

		if err := rt.nodes.RemoveNode(id); err != nil && !errors.Is(err, nodestore.ErrUnknownNode) {
			level.Warn(rt.logger).Log("msg", "failed to remove node", "id", id, "err", err)
		}

		rt.states.Remove(id)
	}

	rt.configured = seen

	groups := make(map[seqno.GroupID]struct{}, len(conf.MirrorGroups))

	for _, gc := range conf.MirrorGroups {
		id := seqno.GroupID(gc.ID)
		groups[id] = struct{}{}

		rt.nodes.SetMirrorGroup(nodestore.MirrorGroup{
			ID:        id,
			Primary:   targetstate.TargetID(gc.Primary),
			Secondary: targetstate.TargetID(gc.Secondary),
		})

		rt.sequences.AddGroup(id, gc.SelectiveAck)
	}

	for id := range rt.groups {
		if _, ok := groups[id]; !ok {
			rt.nodes.RemoveMirrorGroup(id)
			rt.sequences.RemoveGroup(id)
		}
	}

	rt.groups = groups

	return nil
}

func (rt *runtime) close() error {
	return rt.nodes.Close()
}

func setupMetricsServer(wg *sync.WaitGroup, addr string, rt *runtime) shutdownFunc {
	if addr == "" {
		return noopShutdown
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		level.Info(rt.logger).Log("msg", "serving metrics", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(rt.logger).Log("msg", "metrics server failed", "err", err)
		}
	}()

	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}

		return nil
	}
}
