package statemon

import (
	"testing"

	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/coord"
)

func TestMonitorAppliesValidUpdate(t *testing.T) {
	b := bus.NewMemoryBus()
	state := coord.NewApplicationState(coord.NodeState{}, 100, 20, 1024)
	m := New(3, b, state, nil)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ns := coord.NodeState{Coord: coord.Coord{X: 5, Y: 6}, SpeedupFactor: 2}
	if err := b.Publish(bus.NodeStateTopic(3), []byte(ns.String())); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := state.NodeState()
	if got != ns {
		t.Fatalf("NodeState() = %+v, want %+v", got, ns)
	}
}

func TestMonitorSkipsMalformedPayload(t *testing.T) {
	b := bus.NewMemoryBus()
	initial := coord.NodeState{Coord: coord.Coord{X: 1, Y: 1}, SpeedupFactor: 1}
	state := coord.NewApplicationState(initial, 100, 20, 1024)
	m := New(0, b, state, nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.Publish(bus.NodeStateTopic(0), []byte("not-a-node-state")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := state.NodeState(); got != initial {
		t.Fatalf("NodeState() = %+v, want unchanged %+v", got, initial)
	}
}
