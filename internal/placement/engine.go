// Package placement runs the ADMM consensus round that elects a
// destination node for a migration candidate, in both its peer-symmetric
// and controller-mediated topologies, and drives the resulting src/dst
// hand-off over the migration transport.
package placement

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/edgeorc/edgeorc/internal/admm"
	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/schedtime"
	"github.com/edgeorc/edgeorc/internal/syncutil"
	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// DefaultPriority is this activity's SCHED_FIFO priority: medium, below
// the Request Monitor's reqmon.DefaultPriority.
const DefaultPriority schedtime.Priority = 50

// Topology selects which of the two ADMM variants a node runs.
type Topology int

const (
	// Distributed is the peer-symmetric topology: every node performs
	// its own z-update once it has collected a local sum from every
	// distinct source.
	Distributed Topology = iota
	// Centralized is the controller-mediated topology: one distinguished
	// node aggregates and broadcasts the z-update and destination.
	Centralized
)

// Config configures one node's placement engine.
type Config struct {
	NodeIndex        int
	ApplicationIndex int
	NumberOfNodes    int
	Topology         Topology
	IsController     bool
	// ListenHost is the address new hand-off listeners bind to; the port
	// is always left to the OS.
	ListenHost string

	// Scheduler, Priority, and Affinity pin the goroutine that first
	// handles ADMM traffic to a real-time priority and CPU core, for its
	// whole lifetime. Scheduler is nil by default, which disables
	// pinning (the portable, non-Linux fallback).
	Scheduler schedtime.Scheduler
	Priority  schedtime.Priority
	Affinity  int
}

// Engine is the per-node placement activity. One Engine instance runs
// continuously, reacting to bus messages; ApplicationState is the
// record it reads coordinates and memory from and splices accepted
// requests into. Bus callbacks may run concurrently on different
// topics, so every access to round state holds mu — but mu is always
// released before a publish, since a synchronous bus delivers a publish
// back into this engine's own handlers on the calling goroutine.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	state   *coord.ApplicationState
	bus     bus.Bus
	pending *syncutil.Semaphore
	log     *telemetry.Logger
	metrics *telemetry.Metrics

	round    roundState
	srcAckCh chan string

	pinOnce sync.Once
}

// SetMetrics attaches a metric set the engine reports ADMM round counts,
// iteration counts, and round durations to. Nil (the default) disables
// metric reporting.
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// New creates a placement Engine. Call Start to subscribe its bus
// topics before any federation/migration traffic is expected.
func New(cfg Config, state *coord.ApplicationState, b bus.Bus, pending *syncutil.Semaphore, log *telemetry.Logger) *Engine {
	if log == nil {
		log = telemetry.Default("placement")
	}
	if cfg.ListenHost == "" {
		cfg.ListenHost = "127.0.0.1"
	}
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	e := &Engine{cfg: cfg, state: state, bus: b, pending: pending, log: log.With("placement")}
	e.round.reset()
	return e
}

// Start subscribes every topic this node's role requires.
func (e *Engine) Start() error {
	if err := e.bus.Subscribe(bus.MigrationTopic, e.handleMigration); err != nil {
		return err
	}
	if err := e.bus.Subscribe(bus.LocalUpdateTopic, e.handleLocalUpdate); err != nil {
		return err
	}
	if e.cfg.Topology == Centralized {
		if err := e.bus.Subscribe(bus.GlobalUpdateTopic(e.cfg.NodeIndex), e.handleGlobalUpdate); err != nil {
			return err
		}
	}
	if err := e.bus.Subscribe(bus.SrcTopic(e.cfg.NodeIndex), e.handleSrcAck); err != nil {
		return err
	}
	if err := e.bus.Subscribe(bus.DstTopic(e.cfg.NodeIndex), e.handleDstNotice); err != nil {
		return err
	}
	return nil
}

// roundState is the single incoming_request slot plus the solver state
// for the round in progress. Exactly one round is in flight at a time;
// a second federation/migration notice arriving mid-round is ignored.
type roundState struct {
	active bool
	req    *coord.Request
	src    int

	local      *admm.LocalSolver
	global     *admm.GlobalSolver // unused by centralized-mode workers
	startedAt  time.Time
	iterations int
}

func (r *roundState) reset() {
	r.active = false
	r.req = nil
	r.src = 0
	r.local = nil
	r.global = nil
	r.startedAt = time.Time{}
	r.iterations = 0
}

// outbound is a bus message to send once round state has been
// released, so a synchronous bus never re-enters a handler while mu is
// held.
type outbound struct {
	topic   string
	payload []byte
}

// pin locks whichever goroutine first delivers ADMM traffic to its
// current OS thread and pins that thread's priority and core, once, for
// the engine's entire lifetime — mirroring the original's one-shot
// set_priority call at the start of this activity's dedicated thread.
// A synchronous bus delivers every subscription's callbacks on one
// goroutine per subscriber loop, so the first handler invocation is
// enough to pin the activity as a whole.
func (e *Engine) pin() {
	e.pinOnce.Do(func() {
		if e.cfg.Scheduler == nil {
			return
		}
		runtime.LockOSThread()
		if err := e.cfg.Scheduler.SetAffinity(e.cfg.Affinity); err != nil {
			e.log.Warn("set placement engine affinity failed", telemetry.Err(err))
		}
		if err := e.cfg.Scheduler.SetPriority(e.cfg.Priority); err != nil {
			e.log.Warn("set placement engine priority failed", telemetry.Err(err))
		}
	})
}

func (e *Engine) publishAll(msgs []outbound) {
	for _, m := range msgs {
		if err := e.bus.Publish(m.topic, m.payload); err != nil {
			e.log.Warn("publish failed", telemetry.String("topic", m.topic), telemetry.Err(err))
		}
	}
}

// handleMigration starts a new round on the first notice seen while no
// round is active, and silently drops any further notice until the
// round's incoming_request slot is cleared.
func (e *Engine) handleMigration(_ string, payload []byte) {
	e.pin()
	msg, err := coord.ParseMessageRequest(string(payload))
	if err != nil {
		e.log.Warn("malformed migration notice", telemetry.Err(err))
		return
	}

	e.mu.Lock()
	if e.round.active {
		e.mu.Unlock()
		return
	}
	out := e.startRoundLocked(msg.SrcNodeIndex, msg.Request)
	e.mu.Unlock()

	e.publishAll(out)
}

func (e *Engine) startRoundLocked(src int, req *coord.Request) []outbound {
	here := e.state.NodeState().Coord
	requestETC := e.state.GetExpectedCompletionTime(req.ExecutionTimeMS)

	e.round.active = true
	e.round.req = req
	e.round.src = src
	e.round.local = admm.NewLocalSolver(e.cfg.NumberOfNodes, admm.DefaultPenalty, 1.0, here, requestETC)
	if e.cfg.Topology == Distributed || e.cfg.IsController {
		e.round.global = admm.NewGlobalSolver(e.cfg.NumberOfNodes, admm.DefaultIterationCap)
	}
	e.round.startedAt = time.Now()

	if e.metrics != nil {
		e.metrics.ADMMRounds.Inc()
	}

	e.log.Info("placement round started",
		telemetry.Int("request_index", req.Index), telemetry.Int("src", src))

	return e.localIterationLocked(req)
}

// localIterationLocked performs this node's x-update and dual-update for
// the current iteration and returns the local_sum publish it requires.
func (e *Engine) localIterationLocked(req *coord.Request) []outbound {
	e.round.iterations++

	local := e.round.local
	if e.state.CouldHostComputation(req.RequiredMemoryKB) {
		local.LocalXUpdate(req.DesiredCoord)
	} else {
		local.ShortCircuitToZero()
	}
	local.LocalDualUpdate()

	msg := coord.MessageLocal{SrcNodeIndex: e.cfg.NodeIndex, LocalSum: local.LocalSum()}
	return []outbound{{topic: bus.LocalUpdateTopic, payload: []byte(msg.String())}}
}

// handleLocalUpdate collects local sums. In distributed mode every node
// runs its own GlobalSolver; in centralized mode only the controller
// does, then broadcasts the result.
func (e *Engine) handleLocalUpdate(_ string, payload []byte) {
	e.pin()
	msg, err := coord.ParseMessageLocal(string(payload))
	if err != nil {
		e.log.Warn("malformed local update", telemetry.Err(err))
		return
	}

	e.mu.Lock()
	out := e.handleLocalUpdateLocked(msg)
	e.mu.Unlock()

	e.publishAll(out)
}

func (e *Engine) handleLocalUpdateLocked(msg coord.MessageLocal) []outbound {
	if !e.round.active {
		return nil
	}
	if e.cfg.Topology == Centralized && !e.cfg.IsController {
		return nil
	}

	global := e.round.global
	global.AddLocalSum(msg.SrcNodeIndex, msg.LocalSum)
	if !global.HasReceivedFromAll() {
		return nil
	}

	global.GlobalZUpdate()

	if e.cfg.Topology == Distributed {
		e.round.local.SetGlobal(global.GlobalAt(e.cfg.NodeIndex))
		if global.Terminated() {
			e.completeRoundLocked(global.MaxGlobalIndex())
			return nil
		}
		return e.localIterationLocked(e.round.req)
	}

	// Centralized: controller broadcasts either the next update-<z> round
	// or the final dest-<d> decision to every worker (including itself);
	// the controller's own round completes when its dest-<d> arrives.
	if global.Terminated() {
		dest := global.MaxGlobalIndex()
		out := make([]outbound, 0, e.cfg.NumberOfNodes)
		for i := 0; i < e.cfg.NumberOfNodes; i++ {
			out = append(out, outbound{
				topic:   bus.GlobalUpdateTopic(i),
				payload: []byte(fmt.Sprintf("dest-%d", dest)),
			})
		}
		return out
	}
	out := make([]outbound, 0, e.cfg.NumberOfNodes)
	for i := 0; i < e.cfg.NumberOfNodes; i++ {
		out = append(out, outbound{
			topic:   bus.GlobalUpdateTopic(i),
			payload: []byte(fmt.Sprintf("update-%s", formatFloat(global.GlobalAt(i)))),
		})
	}
	return out
}

// handleGlobalUpdate is the centralized-mode path of every node, the
// controller included: react to the controller's update-<z> or dest-<d>
// broadcasts.
func (e *Engine) handleGlobalUpdate(_ string, payload []byte) {
	e.pin()
	z, dest, isDest, err := bus.ParseGlobalUpdatePayload(string(payload))
	if err != nil {
		e.log.Warn("malformed global update", telemetry.Err(err))
		return
	}

	e.mu.Lock()
	out := e.handleGlobalUpdateLocked(z, dest, isDest)
	e.mu.Unlock()

	e.publishAll(out)
}

func (e *Engine) handleGlobalUpdateLocked(z float64, dest int, isDest bool) []outbound {
	if !e.round.active {
		return nil
	}
	if isDest {
		e.completeRoundLocked(dest)
		return nil
	}
	e.round.local.SetGlobal(z)
	return e.localIterationLocked(e.round.req)
}

// completeRoundLocked applies the round's outcome. The src and dst roles
// clear the slot asynchronously, once their side of the hand-off
// finishes; every other node (including a self-elected source) clears it
// immediately.
func (e *Engine) completeRoundLocked(dest int) {
	req, src := e.round.req, e.round.src

	if e.metrics != nil {
		e.metrics.ADMMIterations.Observe(float64(e.round.iterations))
		e.metrics.ADMMRoundDuration.Observe(time.Since(e.round.startedAt).Seconds())
	}

	e.log.Info("placement round converged",
		telemetry.Int("request_index", req.Index), telemetry.Int("src", src), telemetry.Int("dest", dest))

	switch {
	case dest == src:
		// When the winner is the source itself, explicitly clear the
		// slot here rather than leaving it set: the source takes no
		// hand-off action, so nothing else will ever clear it.
		e.round.reset()

	case e.cfg.NodeIndex == src:
		e.srcAckCh = make(chan string, 1)
		go e.runSrcRole(req, dest)

	case e.cfg.NodeIndex == dest:
		go e.runDstRole(req, src)

	default:
		e.round.reset()
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
