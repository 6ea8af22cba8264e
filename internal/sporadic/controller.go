// Package sporadic implements bandwidth-preserving sporadic-server
// scheduling for the node's request dispatch loop: a budget/period pair
// that is replenished on release and drained while the server task runs,
// with SCHED_FIFO priority raised only while budget remains.
package sporadic

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/edgeorc/edgeorc/internal/schedtime"
	"github.com/edgeorc/edgeorc/internal/syncutil"
	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// Server is the budget/period/priority triple of a registered sporadic
// task.
type Server struct {
	Budget   time.Duration
	Period   time.Duration
	Priority schedtime.Priority
}

// LowPriority is the SCHED_FIFO priority the server task runs at once its
// budget is exhausted, between activations.
const LowPriority schedtime.Priority = 1

// controllerPriorityBoost and controllerMinPriority compute the
// controller event loop's own priority from the server task's
// configured priority: the controller must always be able to preempt
// the task whose priority it is raising and lowering, so it runs at
// max(server_priority+15, 89).
const (
	controllerPriorityBoost schedtime.Priority = 15
	controllerMinPriority   schedtime.Priority = 89
)

func controllerPriority(server schedtime.Priority) schedtime.Priority {
	p := server + controllerPriorityBoost
	if p < controllerMinPriority {
		return controllerMinPriority
	}
	return p
}

// Controller runs the sporadic-server event loop: it tracks release and
// budget-exhaustion events for one registered server task and raises or
// lowers that task's priority accordingly. It also gates the server
// task's activations behind a pending-work semaphore, so the server only
// wakes when there is a migrating request to host.
type Controller struct {
	mu sync.Mutex

	rQueue  eventQueue
	beQueue eventQueue

	server     Server
	registered bool

	startBudget time.Duration
	releaseTime time.Time

	isExecuting bool
	hasExpired  bool

	pending   *syncutil.Semaphore
	running   *syncutil.Flag
	scheduler schedtime.Scheduler
	sleeper   schedtime.AbsoluteSleeper
	log       *telemetry.Logger
	events    *EventLog
	metrics   *telemetry.Metrics
}

// SetMetrics attaches a metric set the controller reports consumed
// per-activation budget to. Nil (the default) disables metric
// reporting.
func (c *Controller) SetMetrics(m *telemetry.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// NewController creates a controller. pending is the semaphore the
// placement engine increments when a migration completes; running is the
// flag the event loop toggles so it only runs while the server task is
// executing.
func NewController(pending *syncutil.Semaphore, running *syncutil.Flag, scheduler schedtime.Scheduler, sleeper schedtime.AbsoluteSleeper, log *telemetry.Logger) *Controller {
	return &Controller{
		pending:     pending,
		running:     running,
		scheduler:   scheduler,
		sleeper:     sleeper,
		log:         log,
		events:      NewEventLog(),
		releaseTime: time.Now(),
	}
}

// Register attaches the server task this controller schedules.
func (c *Controller) Register(s Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server = s
	c.startBudget = s.Budget
	c.registered = true
}

func (c *Controller) budgetConsumedLocked() time.Duration {
	return time.Since(c.releaseTime)
}

// budgetRemainingLocked over-approximates remaining budget under
// interference, exactly like the controller it is modeled on: it is a
// safe upper bound, never a safe lower bound.
func (c *Controller) budgetRemainingLocked() time.Duration {
	remaining := c.startBudget - time.Since(c.releaseTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// WaitNextActivation is called by the server task before executing the
// next migrating request. It schedules the task's next release and
// budget-exhaustion events, marks the server not running, blocks until a
// migrating request is available, then raises the task's priority and
// marks it running again.
func (c *Controller) WaitNextActivation() {
	c.mu.Lock()
	remaining := c.budgetRemainingLocked()
	consumed := c.budgetConsumedLocked()

	c.beQueue.pushBack(event{kind: BudgetExhausted, at: c.releaseTime.Add(remaining)})

	capped := consumed
	if c.server.Budget < capped {
		capped = c.server.Budget
	}
	c.rQueue.pushBack(event{kind: ReleaseEvent, at: c.releaseTime.Add(c.server.Period), budget: capped})

	c.isExecuting = false
	server := c.server
	metrics := c.metrics
	c.mu.Unlock()

	if metrics != nil {
		metrics.SporadicBudgetMS.Observe(float64(consumed.Milliseconds()))
	}

	c.running.Set(false)

	c.pending.Wait()

	c.mu.Lock()
	if !c.hasExpired {
		c.releaseTime = time.Now()
		c.startBudget = remaining
		if err := c.scheduler.SetPriority(server.Priority); err != nil && c.log != nil {
			c.log.Warn("raise server priority failed", telemetry.Err(err))
		}
	}
	c.isExecuting = true
	c.mu.Unlock()

	c.running.Set(true)
}

// ReleaseSporadic broadcasts on the pending-work semaphore without
// changing its count: a WaitNextActivation blocked there returns only if
// the count is non-zero. The controller event loop, which waits on the
// running flag, is not woken.
func (c *Controller) ReleaseSporadic() {
	c.pending.NotifyAll()
}

// nextEventLocked pops whichever of the two queues' front events is
// earlier, preferring the budget-exhaustion queue on an exact tie.
func (c *Controller) nextEventLocked() (event, bool) {
	r, rok := c.rQueue.front()
	be, beok := c.beQueue.front()
	switch {
	case !rok && !beok:
		return event{}, false
	case rok && !beok:
		c.rQueue.popFront()
		return r, true
	case !rok && beok:
		c.beQueue.popFront()
		return be, true
	default:
		if !r.at.Before(be.at) {
			c.beQueue.popFront()
			return be, true
		}
		c.rQueue.popFront()
		return r, true
	}
}

// timingEventHandlerLocked processes a release event while the server
// task is executing: if the budget had already expired, it starts a
// fresh budget window at the replenished amount; otherwise it extends
// the current budget-exhaustion event by the replenishment. A release
// event that arrives while the server task is not executing changes
// nothing.
func (c *Controller) timingEventHandlerLocked(e event) {
	server := c.server

	switch {
	case c.hasExpired && c.isExecuting:
		if err := c.scheduler.SetPriority(server.Priority); err != nil && c.log != nil {
			c.log.Warn("raise server priority failed", telemetry.Err(err))
		}
		c.releaseTime = time.Now()
		c.startBudget = e.budget
		c.hasExpired = false

		c.beQueue.clear()
		c.beQueue.pushBack(event{kind: BudgetExhausted, at: c.releaseTime.Add(c.startBudget)})

	case !c.hasExpired && c.isExecuting:
		c.startBudget += e.budget
		if updated, ok := c.beQueue.popFront(); ok {
			updated.at = updated.at.Add(e.budget)
			updated.budget += e.budget
			c.beQueue.pushBack(updated)
		}
	}
}

// budgetExpiredHandlerLocked processes a budget-exhaustion event: it
// lowers the server task's priority and schedules its next release.
func (c *Controller) budgetExpiredHandlerLocked() {
	c.hasExpired = true

	capped := c.startBudget
	if c.server.Budget < capped {
		capped = c.server.Budget
	}
	c.rQueue.pushBack(event{kind: ReleaseEvent, at: c.releaseTime.Add(c.server.Period), budget: capped})

	if err := c.scheduler.SetPriority(LowPriority); err != nil && c.log != nil {
		c.log.Warn("lower server priority failed", telemetry.Err(err))
	}
	c.startBudget = 0
}

// Run drives the controller's timing-event loop until ctx is cancelled.
// It only processes events while the server task is marked running, so
// it idles entirely when there is no migrating request in flight. This
// goroutine is the controller's own dedicated OS thread for its entire
// lifetime; once the server task is registered and running for the
// first time, it pins itself to a priority above the task it schedules
// (see controllerPriority), so it can always preempt that task to raise
// or lower its priority.
func (c *Controller) Run(ctx context.Context) error {
	runtime.LockOSThread()
	var pinned bool

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.running.WaitUntil(true)

		if !pinned {
			c.mu.Lock()
			server := c.server
			c.mu.Unlock()
			if err := c.scheduler.SetPriority(controllerPriority(server.Priority)); err != nil && c.log != nil {
				c.log.Warn("set controller priority failed", telemetry.Err(err))
			}
			pinned = true
		}

		c.mu.Lock()
		ev, ok := c.nextEventLocked()
		c.mu.Unlock()
		if !ok {
			continue
		}

		c.sleeper.SleepUntil(ev.at)

		c.mu.Lock()
		switch ev.kind {
		case ReleaseEvent:
			c.timingEventHandlerLocked(ev)
		case BudgetExhausted:
			c.budgetExpiredHandlerLocked()
		}
		c.mu.Unlock()

		c.events.Add(ev.kind, ev.at)
	}
}

// RunServerTask runs the registered server task's activation loop:
// wait for the next activation, then execute workload. It returns when
// ctx is cancelled.
func (c *Controller) RunServerTask(ctx context.Context, server Server, workload func()) error {
	c.Register(server)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.WaitNextActivation()
		workload()
	}
}
