// Package reqmon implements the Request Monitor: a fixed-period task
// that watches every pending request not yet flagged for migration and,
// once the hosting node has drifted within that request's migration
// threshold of its desired coordinate, flags it and announces it to the
// rest of the federation.
package reqmon

import (
	"context"
	"runtime"
	"time"

	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/schedtime"
	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// DefaultPeriod is the monitor's polling period.
const DefaultPeriod = time.Millisecond

// DefaultPriority is this activity's SCHED_FIFO priority: medium-high,
// above the Placement Engine's DefaultPriority but below the
// sporadic-server roles.
const DefaultPriority schedtime.Priority = 60

// Monitor periodically scans ApplicationState for requests that have
// become eligible for migration.
type Monitor struct {
	NodeIndex int
	State     *coord.ApplicationState
	Bus       bus.Bus
	Sleeper   schedtime.AbsoluteSleeper
	Period    time.Duration
	Log       *telemetry.Logger

	// Scheduler, Priority, and Affinity pin this activity's dedicated
	// goroutine to a real-time priority and CPU core for its whole
	// lifetime. Scheduler is nil by default, which disables pinning
	// (the portable, non-Linux fallback).
	Scheduler schedtime.Scheduler
	Priority  schedtime.Priority
	Affinity  int
}

// New creates a monitor with DefaultPeriod, a portable sleeper, and
// pinning disabled (Scheduler left nil); callers wire a Linux scheduler
// and cores explicitly once one is available.
func New(nodeIndex int, state *coord.ApplicationState, b bus.Bus, log *telemetry.Logger) *Monitor {
	if log == nil {
		log = telemetry.Default("reqmon")
	}
	return &Monitor{
		NodeIndex: nodeIndex,
		State:     state,
		Bus:       b,
		Sleeper:   schedtime.MonotonicSleeper{},
		Period:    DefaultPeriod,
		Log:       log,
		Priority:  DefaultPriority,
	}
}

// Run polls at a fixed period, sleeping on the absolute monotonic clock
// so polling jitter never accumulates, until ctx is cancelled. This
// goroutine is the monitor's dedicated OS thread for its entire
// lifetime: on the first call it locks to the current OS thread and, if
// a Scheduler is set, pins that thread's priority and core once before
// entering the poll loop, mirroring the original's one-shot
// set_priority call at thread start.
func (m *Monitor) Run(ctx context.Context) error {
	runtime.LockOSThread()
	if m.Scheduler != nil {
		if err := m.Scheduler.SetAffinity(m.Affinity); err != nil {
			m.Log.Warn("set request monitor affinity failed", telemetry.Err(err))
		}
		if err := m.Scheduler.SetPriority(m.Priority); err != nil {
			m.Log.Warn("set request monitor priority failed", telemetry.Err(err))
		}
	}

	period := m.Period
	if period <= 0 {
		period = DefaultPeriod
	}

	next := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Sleeper.SleepUntil(next)
		next = schedtime.NextActivation(next, period)

		m.scanOnce()
	}
}

// scanOnce evaluates every request with ShouldMigrate == false once.
func (m *Monitor) scanOnce() {
	here := m.State.NodeState().Coord

	var candidates []*coord.Request
	m.State.ForEachRequest(func(r *coord.Request) {
		if !r.ShouldMigrate {
			candidates = append(candidates, r.Clone())
		}
	})

	for _, r := range candidates {
		distance := here.Distance(r.DesiredCoord)
		if distance >= r.MigrationThreshold {
			continue
		}
		if !m.State.SetShouldMigrateOfRequest(r.Index, true) {
			continue
		}

		msg := coord.MessageRequest{SrcNodeIndex: m.NodeIndex, Request: r}
		if err := m.Bus.Publish(bus.MigrationTopic, []byte(msg.String())); err != nil {
			m.Log.Warn("publish migration notice failed",
				telemetry.Int("request_index", r.Index),
				telemetry.Err(err))
		}
	}
}
