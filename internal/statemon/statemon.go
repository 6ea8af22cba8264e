// Package statemon implements the State Monitor: it subscribes to the
// node's own node_state topic and applies every inbound update to the
// shared ApplicationState, so the placement solver always sees a
// reasonably fresh coordinate.
package statemon

import (
	"fmt"

	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// Monitor subscribes to a node's state topic and applies updates to
// state. Parse failures are logged and skipped; they never stop the
// subscription.
type Monitor struct {
	nodeIndex int
	bus       bus.Bus
	state     *coord.ApplicationState
	log       *telemetry.Logger
}

// New creates a monitor for the given node index.
func New(nodeIndex int, b bus.Bus, state *coord.ApplicationState, log *telemetry.Logger) *Monitor {
	if log == nil {
		log = telemetry.Default("statemon")
	}
	return &Monitor{nodeIndex: nodeIndex, bus: b, state: state, log: log}
}

// Start subscribes to the node's state topic. It returns once the
// subscription is registered; updates are then applied asynchronously by
// the bus's own delivery goroutine.
func (m *Monitor) Start() error {
	topic := bus.NodeStateTopic(m.nodeIndex)
	if err := m.bus.Subscribe(topic, m.handle); err != nil {
		return fmt.Errorf("statemon: subscribe to %s: %w", topic, err)
	}
	return nil
}

func (m *Monitor) handle(topic string, payload []byte) {
	ns, err := coord.ParseNodeState(string(payload))
	if err != nil {
		m.log.Warn("malformed node state payload, skipping",
			telemetry.String("topic", topic),
			telemetry.Err(err))
		return
	}
	m.state.UpdateNodeState(ns)
}
