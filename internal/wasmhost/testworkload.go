package wasmhost

import "context"

// FuncExecutor adapts a plain function to the Executor interface, for
// tests that want to exercise a Host's bookkeeping without a real
// wasmer-go engine or a compiled module on disk.
type FuncExecutor func(ctx context.Context, req ExecutionRequest) (Outcome, error)

func (f FuncExecutor) Run(ctx context.Context, req ExecutionRequest) (Outcome, error) {
	return f(ctx, req)
}

// AlwaysComplete is a FuncExecutor that reports every request as
// completed without touching the filesystem.
func AlwaysComplete(ctx context.Context, req ExecutionRequest) (Outcome, error) {
	return Completed, nil
}

// AlwaysCheckpoint is a FuncExecutor that reports every request as
// checkpointed.
func AlwaysCheckpoint(ctx context.Context, req ExecutionRequest) (Outcome, error) {
	return Checkpointed, nil
}
