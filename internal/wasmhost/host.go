// Package wasmhost runs a migrated computation's compiled module under
// wasmer-go and mediates its cooperative checkpoint protocol: two host
// functions, should_migrate and restore_memory, let the module itself
// decide when to yield.
package wasmhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/syncutil"
	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// Outcome classifies how a module run ended.
type Outcome int

const (
	// Completed means _start returned normally: the request is done.
	Completed Outcome = iota
	// Checkpointed means _start hit the cooperative checkpoint trap: the
	// request's memory was captured and it is ready to migrate.
	Checkpointed
	// Failed means _start trapped for any other reason: the request is
	// terminally lost.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Checkpointed:
		return "checkpointed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// checkpointTrapSubstring is the distinguishing text wasmer-go's runtime
// error carries for an "unreachable code reached" trap, the toolchain's
// agreed-upon signal that a module wants to checkpoint rather than fail.
const checkpointTrapSubstring = "unreachable"

// isCheckpointTrap reports whether err is the module's cooperative
// checkpoint signal rather than a genuine failure.
func isCheckpointTrap(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), checkpointTrapSubstring)
}

// ExecutionRequest names the on-disk inputs for one module run.
type ExecutionRequest struct {
	RequestIndex int
	// Dir is the staging directory containing module.wasm and, if
	// present, main_memory.b and checkpoint_memory.b.
	Dir string
}

func (r ExecutionRequest) modulePath() string     { return filepath.Join(r.Dir, "module.wasm") }
func (r ExecutionRequest) mainMemoryPath() string { return filepath.Join(r.Dir, "main_memory.b") }
func (r ExecutionRequest) checkpointMemoryPath() string {
	return filepath.Join(r.Dir, "checkpoint_memory.b")
}

// Executor runs one request's module to completion, checkpoint, or
// failure. It is an interface so the sporadic server and placement
// engine can be exercised in tests without a real wasmer-go engine.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (Outcome, error)
}

// Host wires an Executor to the shared ApplicationState and checkpoint
// barrier: on a normal or terminal-failure outcome it removes the
// request directory and the request itself; on a checkpoint outcome it
// preserves the directory, marks the checkpoint ready, and wakes every
// waiter on the barrier.
type Host struct {
	State     *coord.ApplicationState
	Barrier   *syncutil.Barrier
	Executor  Executor
	Log       *telemetry.Logger
	RemoveAll func(path string) error
	// Metrics, if set, receives checkpoint-trap counts. Nil disables
	// metric reporting.
	Metrics *telemetry.Metrics
}

// New creates a Host with os.RemoveAll as its directory-removal
// function.
func New(state *coord.ApplicationState, barrier *syncutil.Barrier, exec Executor, log *telemetry.Logger) *Host {
	if log == nil {
		log = telemetry.Default("wasmhost")
	}
	return &Host{State: state, Barrier: barrier, Executor: exec, Log: log, RemoveAll: os.RemoveAll}
}

// RunRequest executes one request and applies the resulting outcome to
// ApplicationState.
func (h *Host) RunRequest(ctx context.Context, req ExecutionRequest) (Outcome, error) {
	outcome, err := h.Executor.Run(ctx, req)

	switch outcome {
	case Checkpointed:
		h.State.SetCheckpointReady(true)
		h.Barrier.Signal()
		if h.Metrics != nil {
			h.Metrics.CheckpointEvents.Inc()
		}
		h.Log.Info("request checkpointed", telemetry.Int("request_index", req.RequestIndex))
		return outcome, nil

	case Completed:
		h.finishRequest(req)
		return outcome, nil

	default:
		if err != nil {
			h.Log.Warn("request failed", telemetry.Int("request_index", req.RequestIndex), telemetry.Err(err))
		}
		h.finishRequest(req)
		return Failed, err
	}
}

func (h *Host) finishRequest(req ExecutionRequest) {
	if err := h.RemoveAll(req.Dir); err != nil {
		h.Log.Warn("remove request directory failed",
			telemetry.String("dir", req.Dir), telemetry.Err(err))
	}
	h.State.RemoveRequest(req.RequestIndex)
}

// readIfExists reads path's contents, returning nil (not an error) if it
// does not exist — main_memory.b and checkpoint_memory.b are both
// optional.
func readIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wasmhost: read %s: %w", path, err)
	}
	return data, nil
}
