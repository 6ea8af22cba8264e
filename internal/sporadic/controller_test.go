package sporadic

import (
	"context"
	"testing"
	"time"

	"github.com/edgeorc/edgeorc/internal/schedtime"
	"github.com/edgeorc/edgeorc/internal/syncutil"
	"github.com/edgeorc/edgeorc/internal/telemetry"
)

type fakeScheduler struct {
	priorities []schedtime.Priority
}

func (f *fakeScheduler) SetAffinity(core int) error { return nil }
func (f *fakeScheduler) SetPriority(p schedtime.Priority) error {
	f.priorities = append(f.priorities, p)
	return nil
}

func newTestController() (*Controller, *syncutil.Semaphore, *syncutil.Flag, *fakeScheduler) {
	pending := syncutil.NewSemaphore(0)
	running := syncutil.NewFlag(false)
	sched := &fakeScheduler{}
	c := NewController(pending, running, sched, schedtime.MonotonicSleeper{}, telemetry.Default("test"))
	return c, pending, running, sched
}

func TestWaitNextActivationBlocksUntilPending(t *testing.T) {
	c, pending, running, sched := newTestController()
	c.Register(Server{Budget: 20 * time.Millisecond, Period: 100 * time.Millisecond, Priority: 80})

	done := make(chan struct{})
	go func() {
		c.WaitNextActivation()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitNextActivation returned before a request was pending")
	case <-time.After(20 * time.Millisecond):
	}

	if running.Value() {
		t.Fatal("running flag should be false while waiting")
	}

	pending.Increment()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitNextActivation did not return after pending.Increment")
	}

	if !running.Value() {
		t.Fatal("running flag should be true after activation")
	}
	if len(sched.priorities) != 1 || sched.priorities[0] != 80 {
		t.Fatalf("priorities = %v, want [80]", sched.priorities)
	}
}

func TestNextEventPrefersBudgetExhaustedOnTie(t *testing.T) {
	c, _, _, _ := newTestController()
	now := time.Now()
	c.rQueue.pushBack(event{kind: ReleaseEvent, at: now})
	c.beQueue.pushBack(event{kind: BudgetExhausted, at: now})

	ev, ok := c.nextEventLocked()
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.kind != BudgetExhausted {
		t.Fatalf("kind = %v, want BudgetExhausted on a tie", ev.kind)
	}
}

func TestBudgetExpiredHandlerLowersPriorityAndSchedulesRelease(t *testing.T) {
	c, _, _, sched := newTestController()
	c.Register(Server{Budget: 20 * time.Millisecond, Period: 100 * time.Millisecond, Priority: 80})
	c.releaseTime = time.Now()
	c.startBudget = 20 * time.Millisecond

	c.budgetExpiredHandlerLocked()

	if !c.hasExpired {
		t.Fatal("expected hasExpired true")
	}
	if c.startBudget != 0 {
		t.Fatalf("startBudget = %v, want 0", c.startBudget)
	}
	if r, ok := c.rQueue.front(); !ok || r.kind != ReleaseEvent {
		t.Fatal("expected a release event queued")
	}
	if len(sched.priorities) != 1 || sched.priorities[0] != LowPriority {
		t.Fatalf("priorities = %v, want [%v]", sched.priorities, LowPriority)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, _, running, _ := newTestController()
	c.Register(Server{Budget: time.Millisecond, Period: 5 * time.Millisecond, Priority: 10})
	running.Set(true)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context.Canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestEventLogRecordsEvents(t *testing.T) {
	log := NewEventLog()
	log.Add(ReleaseEvent, time.Now())
	log.Add(BudgetExhausted, time.Now())
	if log.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", log.Len())
	}
	drained := log.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d events, want 2", len(drained))
	}
	if log.Len() != 0 {
		t.Fatal("expected log to be empty after Drain")
	}
}
