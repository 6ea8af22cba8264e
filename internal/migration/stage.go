package migration

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadPackage reads a request's staged module and linear memories from
// dir, the directory named by StagingDir. main_memory.b and
// checkpoint_memory.b are optional; module.wasm is required.
func LoadPackage(dir string) (Package, error) {
	wasmBytes, err := os.ReadFile(filepath.Join(dir, moduleWasmEntry))
	if err != nil {
		return Package{}, fmt.Errorf("migration: read %s: %w", moduleWasmEntry, err)
	}

	mainMem, err := readOptional(filepath.Join(dir, mainMemoryEntry))
	if err != nil {
		return Package{}, err
	}
	checkpointMem, err := readOptional(filepath.Join(dir, checkpointMemoryEntry))
	if err != nil {
		return Package{}, err
	}

	return Package{ModuleWasm: wasmBytes, MainMemory: mainMem, CheckpointMemory: checkpointMem}, nil
}

// SavePackage writes pkg's module and memory files into dir, creating it
// if necessary. Empty memory snapshots are not written, matching the
// optional-file convention LoadPackage expects on the other side.
func SavePackage(dir string, pkg Package) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("migration: mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, moduleWasmEntry), pkg.ModuleWasm, 0o644); err != nil {
		return fmt.Errorf("migration: write %s: %w", moduleWasmEntry, err)
	}
	if len(pkg.MainMemory) > 0 {
		if err := os.WriteFile(filepath.Join(dir, mainMemoryEntry), pkg.MainMemory, 0o644); err != nil {
			return fmt.Errorf("migration: write %s: %w", mainMemoryEntry, err)
		}
	}
	if len(pkg.CheckpointMemory) > 0 {
		if err := os.WriteFile(filepath.Join(dir, checkpointMemoryEntry), pkg.CheckpointMemory, 0o644); err != nil {
			return fmt.Errorf("migration: write %s: %w", checkpointMemoryEntry, err)
		}
	}
	return nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("migration: read %s: %w", path, err)
	}
	return data, nil
}
