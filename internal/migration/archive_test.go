package migration

import (
	"archive/zip"
	"bytes"
	"testing"
)

func samplePackage() Package {
	return Package{
		ModuleWasm:       []byte{0x00, 0x61, 0x73, 0x6d},
		MainMemory:       bytes.Repeat([]byte{0x7}, 128),
		CheckpointMemory: bytes.Repeat([]byte{0x9}, 64),
	}
}

func TestWriteReadArchiveRoundTrip(t *testing.T) {
	pkg := samplePackage()
	manifest := BuildManifest(3, 1, pkg)

	var buf bytes.Buffer
	if err := WriteArchive(&buf, manifest, pkg); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	got, gotManifest, err := ReadArchive(&buf, int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if !bytes.Equal(got.ModuleWasm, pkg.ModuleWasm) {
		t.Error("ModuleWasm mismatch")
	}
	if !bytes.Equal(got.MainMemory, pkg.MainMemory) {
		t.Error("MainMemory mismatch")
	}
	if !bytes.Equal(got.CheckpointMemory, pkg.CheckpointMemory) {
		t.Error("CheckpointMemory mismatch")
	}
	if gotManifest != manifest {
		t.Fatalf("manifest = %+v, want %+v", gotManifest, manifest)
	}
}

func TestReadArchiveDetectsCorruption(t *testing.T) {
	pkg := samplePackage()
	manifest := BuildManifest(0, 0, pkg)

	var buf bytes.Buffer
	if err := WriteArchive(&buf, manifest, pkg); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	corrupted := buf.Bytes()
	// Flip the first byte of the first entry's stored data to corrupt
	// payload content without invalidating the zip's central directory.
	zr, err := zip.NewReader(bytes.NewReader(corrupted), int64(len(corrupted)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	idx, err := zr.File[0].DataOffset()
	if err != nil {
		t.Fatalf("DataOffset: %v", err)
	}
	corrupted[idx] ^= 0xFF

	if _, _, err := ReadArchive(bytes.NewReader(corrupted), int64(len(corrupted))); err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
}

func TestManifestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := Manifest{
		RequestIndex:          5,
		SourceNodeIndex:       2,
		ModuleWasmCRC32:       0xdeadbeef,
		MainMemoryCRC32:       0x1,
		CheckpointMemoryCRC32: 0xffffffff,
	}
	got, err := UnmarshalManifest(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalManifest: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}
