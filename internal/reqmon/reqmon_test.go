package reqmon

import (
	"context"
	"testing"
	"time"

	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/coord"
)

func newState(here coord.Coord) *coord.ApplicationState {
	return coord.NewApplicationState(coord.NodeState{Coord: here, SpeedupFactor: 1}, 100, 20, 4096)
}

func TestScanOnceFlagsAndPublishesWithinThreshold(t *testing.T) {
	state := newState(coord.Coord{X: 0, Y: 0})
	state.AddRequest(&coord.Request{
		Index:              1,
		RequiredMemoryKB:   10,
		DesiredCoord:       coord.Coord{X: 1, Y: 0},
		MigrationThreshold: 5,
	})

	b := bus.NewMemoryBus()
	var published []string
	b.Subscribe(bus.MigrationTopic, func(_ string, payload []byte) {
		published = append(published, string(payload))
	})

	m := New(7, state, b, nil)
	m.scanOnce()

	migrate, ok := state.GetShouldMigrateOfRequest(1)
	if !ok || !migrate {
		t.Fatal("expected request 1 to be flagged for migration")
	}
	if len(published) != 1 {
		t.Fatalf("published %d messages, want 1", len(published))
	}

	got, err := coord.ParseMessageRequest(published[0])
	if err != nil {
		t.Fatalf("ParseMessageRequest: %v", err)
	}
	if got.SrcNodeIndex != 7 || got.Request.Index != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestScanOnceSkipsBeyondThreshold(t *testing.T) {
	state := newState(coord.Coord{X: 0, Y: 0})
	state.AddRequest(&coord.Request{
		Index:              2,
		RequiredMemoryKB:   10,
		DesiredCoord:       coord.Coord{X: 1000, Y: 1000},
		MigrationThreshold: 1,
	})

	b := bus.NewMemoryBus()
	m := New(0, state, b, nil)
	m.scanOnce()

	migrate, ok := state.GetShouldMigrateOfRequest(2)
	if !ok || migrate {
		t.Fatal("expected request 2 to remain unflagged")
	}
}

func TestScanOnceSkipsAlreadyFlagged(t *testing.T) {
	state := newState(coord.Coord{X: 0, Y: 0})
	state.AddRequest(&coord.Request{
		Index:              3,
		RequiredMemoryKB:   10,
		DesiredCoord:       coord.Coord{X: 0, Y: 0},
		MigrationThreshold: 5,
	})
	state.SetShouldMigrateOfRequest(3, true)

	b := bus.NewMemoryBus()
	var published int
	b.Subscribe(bus.MigrationTopic, func(_ string, _ []byte) { published++ })

	m := New(0, state, b, nil)
	m.scanOnce()

	if published != 0 {
		t.Fatalf("published = %d, want 0 for an already-flagged request", published)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	state := newState(coord.Coord{})
	b := bus.NewMemoryBus()
	m := New(0, state, b, nil)
	m.Period = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
