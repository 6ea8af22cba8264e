// Package bus wraps the federation pub/sub bus. The broker itself is an external collaborator; this package is
// the MQTT client the core calls into, using
// github.com/eclipse/paho.mqtt.golang — the one dependency in this
// module not grounded in the retrieval pack (see DESIGN.md).
package bus

import "fmt"

// QoS levels used on the federation bus. Every topic on the bus is
// published "at least once", i.e. QoS 1.
const AtLeastOnce byte = 1

// NodeStateTopic returns the per-node topic the State Monitor subscribes
// to: "node_state_<i>".
func NodeStateTopic(nodeIndex int) string {
	return fmt.Sprintf("node_state_%d", nodeIndex)
}

// MigrationTopic is the topic carrying MessageRequest notices.
const MigrationTopic = "federation/migration"

// LocalUpdateTopic is the topic carrying MessageLocal local sums.
const LocalUpdateTopic = "federation/local_update"

// GlobalUpdateTopic returns the per-node topic each node, the controller
// included, subscribes to in the controller-mediated variant:
// "federation/global_update/<i>".
func GlobalUpdateTopic(nodeIndex int) string {
	return fmt.Sprintf("federation/global_update/%d", nodeIndex)
}

// SrcTopic returns "federation/src/<i>", where the elected destination
// publishes two messages in sequence to node i (the request's source):
// first its readiness acknowledgement (its own listening address, so the
// source knows where to stream the archive), then — once the transfer
// has been received, verified, and integrated — a HandoffAckPayload the
// source gates its own cleanup on.
func SrcTopic(nodeIndex int) string {
	return fmt.Sprintf("federation/src/%d", nodeIndex)
}

// DstTopic returns "federation/dst/<i>", where the source notifies node
// i that the round elected it as destination, naming the request index.
func DstTopic(nodeIndex int) string {
	return fmt.Sprintf("federation/dst/%d", nodeIndex)
}

// DisconnectTopic is the last-will channel.
const DisconnectTopic = "disconnect"

// UpdatePayload formats a centralized-mode "update-<z>" global_update payload.
func UpdatePayload(z float64) string {
	return fmt.Sprintf("update-%g", z)
}

// DestPayload formats a centralized-mode "dest-<d>" global_update payload.
func DestPayload(dest int) string {
	return fmt.Sprintf("dest-%d", dest)
}

// HandoffAckPayload formats the destination's post-transfer
// acknowledgement on SrcTopic: "ack-ok-<index>" once the archive has
// verified and been integrated into the destination's state, or
// "ack-fail-<index>" if the transfer or verification failed.
func HandoffAckPayload(requestIndex int, ok bool) string {
	if ok {
		return fmt.Sprintf("ack-ok-%d", requestIndex)
	}
	return fmt.Sprintf("ack-fail-%d", requestIndex)
}

// ParseHandoffAck parses a HandoffAckPayload.
func ParseHandoffAck(payload string) (requestIndex int, ok bool, err error) {
	const okPrefix = "ack-ok-"
	const failPrefix = "ack-fail-"
	switch {
	case len(payload) > len(okPrefix) && payload[:len(okPrefix)] == okPrefix:
		_, err = fmt.Sscanf(payload[len(okPrefix):], "%d", &requestIndex)
		return requestIndex, true, err
	case len(payload) > len(failPrefix) && payload[:len(failPrefix)] == failPrefix:
		_, err = fmt.Sscanf(payload[len(failPrefix):], "%d", &requestIndex)
		return requestIndex, false, err
	default:
		return 0, false, fmt.Errorf("bus: malformed handoff ack payload %q", payload)
	}
}

// ParseGlobalUpdatePayload parses a "update-<z>" or "dest-<d>" payload.
// Exactly one of the two return values is meaningful, indicated by isDest.
func ParseGlobalUpdatePayload(payload string) (z float64, dest int, isDest bool, err error) {
	const updatePrefix = "update-"
	const destPrefix = "dest-"
	switch {
	case len(payload) > len(updatePrefix) && payload[:len(updatePrefix)] == updatePrefix:
		_, err = fmt.Sscanf(payload[len(updatePrefix):], "%g", &z)
		return z, 0, false, err
	case len(payload) > len(destPrefix) && payload[:len(destPrefix)] == destPrefix:
		_, err = fmt.Sscanf(payload[len(destPrefix):], "%d", &dest)
		return 0, dest, true, err
	default:
		return 0, 0, false, fmt.Errorf("bus: malformed global_update payload %q", payload)
	}
}
