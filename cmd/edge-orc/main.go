// Command edge-orc is one federation node: it loads its configuration
// and initial request backlog, connects to the bus, and runs every
// orchestrator activity (state monitor, request monitor, placement
// engine, sporadic server controller and task, WASM host) until
// terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/config"
	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/migration"
	"github.com/edgeorc/edgeorc/internal/placement"
	"github.com/edgeorc/edgeorc/internal/reqmon"
	"github.com/edgeorc/edgeorc/internal/schedtime"
	"github.com/edgeorc/edgeorc/internal/sporadic"
	"github.com/edgeorc/edgeorc/internal/statemon"
	"github.com/edgeorc/edgeorc/internal/syncutil"
	"github.com/edgeorc/edgeorc/internal/telemetry"
	"github.com/edgeorc/edgeorc/internal/wasmhost"
)

func main() {
	configPath := flag.String("config", "config.txt", "path to the node configuration file")
	requestsPath := flag.String("requests", config.DefaultRequestsFile, "path to the initial requests file")
	topologyFlag := flag.String("topology", "distributed", "placement topology: distributed or centralized")
	serverBudget := flag.Duration("server-budget", 50*time.Millisecond, "sporadic server budget")
	serverPeriod := flag.Duration("server-period", 500*time.Millisecond, "sporadic server period")
	serverPriority := flag.Int("server-priority", 80, "sporadic server SCHED_FIFO priority")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log := telemetry.New(telemetry.Config{Level: parseLevel(*logLevel), Component: "edge-orc"})

	if err := run(*configPath, *requestsPath, *topologyFlag, *metricsAddr, *serverBudget, *serverPeriod, *serverPriority, log); err != nil {
		log.Fatal("fatal startup error", telemetry.Err(err))
	}
}

func parseLevel(s string) telemetry.Level {
	switch s {
	case "debug":
		return telemetry.Debug
	case "warn":
		return telemetry.Warn
	case "error":
		return telemetry.Error
	default:
		return telemetry.Info
	}
}

func parseTopology(s string) (placement.Topology, error) {
	switch s {
	case "distributed":
		return placement.Distributed, nil
	case "centralized":
		return placement.Centralized, nil
	default:
		return 0, fmt.Errorf("edge-orc: unknown topology %q", s)
	}
}

func run(configPath, requestsPath, topologyFlag, metricsAddr string, serverBudget, serverPeriod time.Duration, serverPriorityRaw int, log *telemetry.Logger) error {
	nodeCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("edge-orc: load config: %w", err)
	}
	topology, err := parseTopology(topologyFlag)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry, "edge_orc")
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Warn("metrics server exited", telemetry.Err(err))
			}
		}()
	}

	// A fresh client ID per process start, rather than a stable one
	// derived solely from node index, avoids the broker rejecting a
	// second connection as a duplicate session during a quick restart.
	clientID := fmt.Sprintf("edge-orc-%d-%s", nodeCfg.NodeIndex, uuid.NewString())
	b, err := bus.Dial(bus.Config{BrokerAddress: nodeCfg.BrokerAddress, ClientID: clientID}, log.With("bus"))
	if err != nil {
		return fmt.Errorf("edge-orc: dial bus: %w", err)
	}
	defer b.Close()

	const assignedMemoryKB = 1 << 20 // 1GiB; refined once a per-node capacity source exists
	const periodMS, budgetMS = 500, 50
	state := coord.NewApplicationState(nodeCfg.NodeState, periodMS, budgetMS, assignedMemoryKB)

	pending := syncutil.NewSemaphore(0)
	running := syncutil.NewFlag(false)
	barrier := syncutil.NewBarrier()

	requestCount, err := config.LoadRequests(requestsPath, state, pending)
	if err != nil {
		log.Warn("load initial requests failed, starting with an empty backlog",
			telemetry.String("path", requestsPath), telemetry.Err(err))
	} else {
		log.Info("loaded initial requests", telemetry.Int("count", requestCount))
	}

	sm := statemon.New(nodeCfg.NodeIndex, b, state, log.With("statemon"))
	if err := sm.Start(); err != nil {
		return fmt.Errorf("edge-orc: start state monitor: %w", err)
	}

	// A single config-file affinity value gives this node one base core;
	// the request monitor and placement engine claim it and the next
	// one, since the source this config grammar is based on assigns
	// each pinned activity its own independent core with no formula for
	// deriving several cores from one shared value.
	scheduler := schedtime.NewLinuxScheduler()
	reqmonAffinity := nodeCfg.Affinity
	placementAffinity := nodeCfg.Affinity + 1

	placementEngine := placement.New(placement.Config{
		NodeIndex:        nodeCfg.NodeIndex,
		ApplicationIndex: nodeCfg.ApplicationIndex,
		NumberOfNodes:    nodeCfg.NodeNumber,
		Topology:         topology,
		IsController:     nodeCfg.IsController,
		ListenHost:       hostOnly(nodeCfg.NodeAddress),
		Scheduler:        scheduler,
		Priority:         placement.DefaultPriority,
		Affinity:         placementAffinity,
	}, state, b, pending, log.With("placement"))
	placementEngine.SetMetrics(metrics)
	if err := placementEngine.Start(); err != nil {
		return fmt.Errorf("edge-orc: start placement engine: %w", err)
	}

	requestMonitor := reqmon.New(nodeCfg.NodeIndex, state, b, log.With("reqmon"))
	requestMonitor.Scheduler = scheduler
	requestMonitor.Affinity = reqmonAffinity

	controller := sporadic.NewController(pending, running, scheduler, schedtime.MonotonicSleeper{}, log.With("sporadic"))
	controller.SetMetrics(metrics)

	host := wasmhost.New(state, barrier, wasmhost.NewWasmerExecutor(state), log.With("wasmhost"))
	host.Metrics = metrics
	server := sporadic.Server{Budget: serverBudget, Period: serverPeriod, Priority: schedtime.Priority(serverPriorityRaw)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- requestMonitor.Run(ctx) }()
	go func() { errCh <- controller.Run(ctx) }()
	go func() {
		errCh <- controller.RunServerTask(ctx, server, func() {
			runOneRequest(ctx, host, state, nodeCfg.ApplicationIndex)
		})
	}()

	log.Info("edge-orc node started",
		telemetry.Int("node_index", nodeCfg.NodeIndex),
		telemetry.Int("application_index", nodeCfg.ApplicationIndex))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", telemetry.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("activity exited unexpectedly", telemetry.Err(err))
		}
	}

	cancel()
	return nil
}

// runOneRequest is the sporadic server task's workload: peek the next
// pending request (a benign empty read just loops back to waiting for
// the next activation) and run its module to completion, checkpoint, or
// failure.
func runOneRequest(ctx context.Context, host *wasmhost.Host, state *coord.ApplicationState, applicationIndex int) {
	req := state.Peek()
	if req == nil {
		return
	}

	dir := migration.StagingDir(applicationIndex, req.Index)
	_, _ = host.RunRequest(ctx, wasmhost.ExecutionRequest{RequestIndex: req.Index, Dir: dir})
}

// hostOnly strips a "host:port" node address down to its host component,
// the value the placement engine's hand-off listener binds to; an
// address with no port (or a malformed one) is used verbatim.
func hostOnly(nodeAddress string) string {
	for i := len(nodeAddress) - 1; i >= 0; i-- {
		if nodeAddress[i] == ':' {
			return nodeAddress[:i]
		}
	}
	return nodeAddress
}
