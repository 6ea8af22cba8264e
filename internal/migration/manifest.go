// Package migration implements the wire transport that moves a
// checkpointed computation between nodes: a small zip archive carrying
// the WASM module and its two memory snapshots, shipped over a plain TCP
// connection and verified against a protobuf-encoded manifest before the
// source node discards its copy.
package migration

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Manifest carries the CRC32 checksums of an archive's three payload
// files, plus the request and source node it belongs to. It is encoded
// directly with protowire rather than generated code: it is a flat,
// append-only record with no need for the full message-reflection
// machinery protoc-gen-go produces.
type Manifest struct {
	RequestIndex          int32
	SourceNodeIndex       int32
	ModuleWasmCRC32       uint32
	MainMemoryCRC32       uint32
	CheckpointMemoryCRC32 uint32
}

const (
	fieldRequestIndex          = 1
	fieldSourceNodeIndex       = 2
	fieldModuleWasmCRC32       = 3
	fieldMainMemoryCRC32       = 4
	fieldCheckpointMemoryCRC32 = 5
)

// Marshal encodes the manifest using the protobuf wire format.
func (m Manifest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRequestIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.RequestIndex)))
	b = protowire.AppendTag(b, fieldSourceNodeIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.SourceNodeIndex)))
	b = protowire.AppendTag(b, fieldModuleWasmCRC32, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ModuleWasmCRC32))
	b = protowire.AppendTag(b, fieldMainMemoryCRC32, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MainMemoryCRC32))
	b = protowire.AppendTag(b, fieldCheckpointMemoryCRC32, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CheckpointMemoryCRC32))
	return b
}

// UnmarshalManifest decodes a manifest previously produced by Marshal.
// Unknown fields are skipped, so the format can grow new fields without
// breaking old readers.
func UnmarshalManifest(b []byte) (Manifest, error) {
	var m Manifest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Manifest{}, fmt.Errorf("migration: bad manifest tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType {
			skip := protowire.ConsumeFieldValue(num, typ, b)
			if skip < 0 {
				return Manifest{}, fmt.Errorf("migration: bad manifest field %d: %w", num, protowire.ParseError(skip))
			}
			b = b[skip:]
			continue
		}

		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return Manifest{}, fmt.Errorf("migration: bad manifest varint for field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldRequestIndex:
			m.RequestIndex = int32(uint32(v))
		case fieldSourceNodeIndex:
			m.SourceNodeIndex = int32(uint32(v))
		case fieldModuleWasmCRC32:
			m.ModuleWasmCRC32 = uint32(v)
		case fieldMainMemoryCRC32:
			m.MainMemoryCRC32 = uint32(v)
		case fieldCheckpointMemoryCRC32:
			m.CheckpointMemoryCRC32 = uint32(v)
		}
	}
	return m, nil
}
