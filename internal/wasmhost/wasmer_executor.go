package wasmhost

import (
	"context"
	"fmt"
	"os"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/edgeorc/edgeorc/internal/coord"
)

// WasmerExecutor runs a request's module.wasm under wasmer-go, wiring
// should_migrate and restore_memory as host imports under the "host"
// namespace.
type WasmerExecutor struct {
	State *coord.ApplicationState
}

// NewWasmerExecutor creates an Executor backed by wasmer-go.
func NewWasmerExecutor(state *coord.ApplicationState) *WasmerExecutor {
	return &WasmerExecutor{State: state}
}

// hostEnv is closed over by the imported host functions. instance is
// filled in after wasmer.NewInstance returns, before _start is invoked,
// since wasmer-go host functions are registered before an Instance
// exists to call back into.
type hostEnv struct {
	state    *coord.ApplicationState
	req      ExecutionRequest
	instance *wasmer.Instance
}

func (h *WasmerExecutor) Run(ctx context.Context, req ExecutionRequest) (Outcome, error) {
	wasmBytes, err := readIfExists(req.modulePath())
	if err != nil {
		return Failed, err
	}
	if wasmBytes == nil {
		return Failed, fmt.Errorf("wasmhost: %s not found", req.modulePath())
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return Failed, fmt.Errorf("wasmhost: compile module: %w", err)
	}

	env := &hostEnv{state: h.State, req: req}
	importObject := wasmer.NewImportObject()
	importObject.Register("host", map[string]wasmer.IntoExtern{
		"should_migrate": wasmer.NewFunction(
			store,
			wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I32)),
			env.shouldMigrate,
		),
		"restore_memory": wasmer.NewFunction(
			store,
			wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes()),
			env.restoreMemory,
		),
	})

	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return Failed, fmt.Errorf("wasmhost: instantiate module: %w", err)
	}
	env.instance = instance

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return Failed, fmt.Errorf("wasmhost: module has no _start: %w", err)
	}

	if _, callErr := start(); callErr != nil {
		if isCheckpointTrap(callErr) {
			if err := env.captureMemory(); err != nil {
				return Failed, err
			}
			return Checkpointed, nil
		}
		return Failed, callErr
	}

	return Completed, nil
}

// shouldMigrate advances the request's current region and reports
// whether the host wants this module to checkpoint now: the
// should_migrate flag must be set and the request must still be within
// its migratable region range.
func (e *hostEnv) shouldMigrate(args []wasmer.Value) ([]wasmer.Value, error) {
	e.state.AdvanceCurRegionOfRequest(e.req.RequestIndex)

	wantsMigrate, _ := e.state.GetShouldMigrateOfRequest(e.req.RequestIndex)
	migratable, _ := e.state.IsRequestMigratable(e.req.RequestIndex)

	var result int32
	if wantsMigrate && migratable {
		result = 1
	}
	return []wasmer.Value{wasmer.NewI32(result)}, nil
}

// restoreMemory copies any persisted main_memory.b and
// checkpoint_memory.b content into the module's exported linear
// memories of the same name. Either file may be absent, meaning the
// module is starting fresh rather than resuming.
func (e *hostEnv) restoreMemory(args []wasmer.Value) ([]wasmer.Value, error) {
	if err := e.restoreOne(e.req.mainMemoryPath(), "memory"); err != nil {
		return nil, err
	}
	if err := e.restoreOne(e.req.checkpointMemoryPath(), "checkpoint_memory"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (e *hostEnv) restoreOne(path, exportName string) error {
	data, err := readIfExists(path)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	mem, err := e.instance.Exports.GetMemory(exportName)
	if err != nil {
		return fmt.Errorf("wasmhost: module has no %q memory export: %w", exportName, err)
	}
	dst := mem.Data()
	if len(data) > len(dst) {
		return fmt.Errorf("wasmhost: %s (%d bytes) exceeds %q capacity (%d bytes)", path, len(data), exportName, len(dst))
	}
	copy(dst, data)
	return nil
}

// captureMemory writes the module's exported "memory" and, if present,
// "checkpoint_memory" back to main_memory.b/checkpoint_memory.b. The
// unreachable trap unwinds only the current call's Wasm stack; the
// Instance and its exported memories are untouched and still readable
// through the same Data() view restoreOne reads from.
func (e *hostEnv) captureMemory() error {
	if err := e.captureOne(e.req.mainMemoryPath(), "memory"); err != nil {
		return err
	}
	if err := e.captureOne(e.req.checkpointMemoryPath(), "checkpoint_memory"); err != nil {
		return err
	}
	return nil
}

func (e *hostEnv) captureOne(path, exportName string) error {
	mem, err := e.instance.Exports.GetMemory(exportName)
	if err != nil {
		// checkpoint_memory is optional; a module with no such export
		// simply has nothing beyond its main memory to capture.
		if exportName == "checkpoint_memory" {
			return nil
		}
		return fmt.Errorf("wasmhost: module has no %q memory export: %w", exportName, err)
	}
	if err := os.WriteFile(path, mem.Data(), 0o644); err != nil {
		return fmt.Errorf("wasmhost: write %s: %w", path, err)
	}
	return nil
}
