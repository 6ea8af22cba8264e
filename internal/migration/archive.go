package migration

import (
	"archive/zip"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/edgeorc/edgeorc/internal/telemetry"
)

const (
	moduleWasmEntry       = "module.wasm"
	mainMemoryEntry       = "main_memory.b"
	checkpointMemoryEntry = "checkpoint_memory.b"
	manifestEntry         = "manifest.pb"
)

// Package is an in-memory migration payload: the compiled module and its
// two linear memory snapshots.
type Package struct {
	ModuleWasm       []byte
	MainMemory       []byte
	CheckpointMemory []byte
}

// BuildManifest computes the checksums of pkg for the given request and
// source node.
func BuildManifest(requestIndex, sourceNodeIndex int, pkg Package) Manifest {
	return Manifest{
		RequestIndex:          int32(requestIndex),
		SourceNodeIndex:       int32(sourceNodeIndex),
		ModuleWasmCRC32:       crc32.ChecksumIEEE(pkg.ModuleWasm),
		MainMemoryCRC32:       crc32.ChecksumIEEE(pkg.MainMemory),
		CheckpointMemoryCRC32: crc32.ChecksumIEEE(pkg.CheckpointMemory),
	}
}

// WriteArchive writes pkg and its manifest as a zip archive to w.
func WriteArchive(w io.Writer, manifest Manifest, pkg Package) error {
	zw := zip.NewWriter(w)

	entries := []struct {
		name string
		data []byte
	}{
		{moduleWasmEntry, pkg.ModuleWasm},
		{mainMemoryEntry, pkg.MainMemory},
		{checkpointMemoryEntry, pkg.CheckpointMemory},
		{manifestEntry, manifest.Marshal()},
	}
	for _, e := range entries {
		f, err := zw.Create(e.name)
		if err != nil {
			return fmt.Errorf("migration: create %s: %w", e.name, err)
		}
		if _, err := f.Write(e.data); err != nil {
			return fmt.Errorf("migration: write %s: %w", e.name, err)
		}
	}

	return zw.Close()
}

// ReadArchive reads a zip archive of exactly size bytes from r, unpacks
// its package, and verifies the embedded manifest's checksums against
// the unpacked content.
func ReadArchive(r io.Reader, size int64) (Package, Manifest, error) {
	buf, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return Package{}, Manifest{}, fmt.Errorf("migration: read archive: %w", err)
	}
	if int64(len(buf)) != size {
		return Package{}, Manifest{}, fmt.Errorf("migration: short archive: got %d bytes, want %d", len(buf), size)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf), size)
	if err != nil {
		return Package{}, Manifest{}, fmt.Errorf("migration: open archive: %w", err)
	}

	contents := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return Package{}, Manifest{}, fmt.Errorf("migration: open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Package{}, Manifest{}, fmt.Errorf("migration: read %s: %w", f.Name, err)
		}
		contents[f.Name] = data
	}

	manifestBytes, ok := contents[manifestEntry]
	if !ok {
		return Package{}, Manifest{}, telemetry.NewError(fmt.Sprintf("migration: archive missing %s", manifestEntry))
	}
	manifest, err := UnmarshalManifest(manifestBytes)
	if err != nil {
		return Package{}, Manifest{}, fmt.Errorf("migration: %w", err)
	}

	pkg := Package{
		ModuleWasm:       contents[moduleWasmEntry],
		MainMemory:       contents[mainMemoryEntry],
		CheckpointMemory: contents[checkpointMemoryEntry],
	}

	if err := verifyManifest(pkg, manifest); err != nil {
		return Package{}, Manifest{}, err
	}

	return pkg, manifest, nil
}

// verifyManifest reports a mismatch between pkg's actual checksums and
// the ones recorded in manifest. A mismatch means the archive was
// corrupted or truncated in transit.
func verifyManifest(pkg Package, manifest Manifest) error {
	got := BuildManifest(int(manifest.RequestIndex), int(manifest.SourceNodeIndex), pkg)
	switch {
	case got.ModuleWasmCRC32 != manifest.ModuleWasmCRC32:
		return fmt.Errorf("migration: %s checksum mismatch", moduleWasmEntry)
	case got.MainMemoryCRC32 != manifest.MainMemoryCRC32:
		return fmt.Errorf("migration: %s checksum mismatch", mainMemoryEntry)
	case got.CheckpointMemoryCRC32 != manifest.CheckpointMemoryCRC32:
		return fmt.Errorf("migration: %s checksum mismatch", checkpointMemoryEntry)
	}
	return nil
}
