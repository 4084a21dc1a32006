/*
Copyright 2024 The FlintDB Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package block

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/flintdb/flint/pkg/ferrors"
)

// variants returns a fresh Storage of every non-compressed variant, so
// conformance tests run once per variant instead of being duplicated.
func variants(t *testing.T) map[string]Storage {
	mem, err := NewMemory(64)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	file, err := NewFile(filepath.Join(t.TempDir(), "blocks.db"), 64, 1<<16)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	mmap, err := NewMMap(filepath.Join(t.TempDir(), "blocks.mmap"), 64, 1<<16)
	if err != nil {
		t.Fatalf("NewMMap: %v", err)
	}
	return map[string]Storage{"memory": mem, "file": file, "mmap": mmap}
}

func TestWriteRead(t *testing.T) {
	for name, sto := range variants(t) {
		sto := sto
		t.Run(name, func(t *testing.T) {
			payload := []byte("hello flintdb")
			idx, err := sto.Write(payload)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := sto.Read(idx)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("Read = %q, want %q", got, payload)
			}
		})
	}
}

func TestWriteReadMultiBlock(t *testing.T) {
	for name, sto := range variants(t) {
		sto := sto
		t.Run(name, func(t *testing.T) {
			payload := bytes.Repeat([]byte("abcdefgh"), 100) // spans many 64-byte blocks
			idx, err := sto.Write(payload)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := sto.Read(idx)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("Read mismatch: got %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestWriteAtShrinkAndGrow(t *testing.T) {
	for name, sto := range variants(t) {
		sto := sto
		t.Run(name, func(t *testing.T) {
			big := bytes.Repeat([]byte("x"), 500)
			idx, err := sto.Write(big)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			small := []byte("tiny")
			if err := sto.WriteAt(idx, small); err != nil {
				t.Fatalf("WriteAt shrink: %v", err)
			}
			got, err := sto.Read(idx)
			if err != nil {
				t.Fatalf("Read after shrink: %v", err)
			}
			if !bytes.Equal(got, small) {
				t.Fatalf("Read after shrink = %q, want %q", got, small)
			}

			grown := bytes.Repeat([]byte("y"), 1000)
			if err := sto.WriteAt(idx, grown); err != nil {
				t.Fatalf("WriteAt grow: %v", err)
			}
			got, err = sto.Read(idx)
			if err != nil {
				t.Fatalf("Read after grow: %v", err)
			}
			if !bytes.Equal(got, grown) {
				t.Fatalf("Read after grow mismatch: got %d bytes, want %d", len(got), len(grown))
			}
		})
	}
}

func TestDeleteAndReuse(t *testing.T) {
	for name, sto := range variants(t) {
		sto := sto
		t.Run(name, func(t *testing.T) {
			idx, err := sto.Write([]byte("to be deleted"))
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			before := sto.LiveCount()
			if err := sto.Delete(idx); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if got, want := sto.LiveCount(), before-1; got != want {
				t.Fatalf("LiveCount after delete = %d, want %d", got, want)
			}
			if _, err := sto.Read(idx); !ferrors.Is(err, ferrors.NotFound) {
				t.Fatalf("Read after delete = %v, want NotFound", err)
			}

			idx2, err := sto.Write([]byte("reused block"))
			if err != nil {
				t.Fatalf("Write after delete: %v", err)
			}
			if idx2 != idx {
				t.Errorf("free-list not reused: new alloc at %d, want reuse of freed %d", idx2, idx)
			}
		})
	}
}

func TestExtraHeaderRoundTrip(t *testing.T) {
	for name, sto := range variants(t) {
		sto := sto
		t.Run(name, func(t *testing.T) {
			payload := []byte("ROOT12345678")
			if err := sto.WriteExtraHeader(0, payload); err != nil {
				t.Fatalf("WriteExtraHeader: %v", err)
			}
			got, err := sto.ReadExtraHeader(0, len(payload))
			if err != nil {
				t.Fatalf("ReadExtraHeader: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("ReadExtraHeader = %q, want %q", got, payload)
			}
		})
	}
}

func TestCompressedCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("flintdb compresses rows "), 50)
	for _, bt := range []BlockType{BlockTypeZ, BlockTypeLZ4, BlockTypeZSTD, BlockTypeSnappy} {
		bt := bt
		t.Run(codecName(bt), func(t *testing.T) {
			codec, err := NewCodec(bt)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}
			mem, err := NewMemory(256)
			if err != nil {
				t.Fatalf("NewMemory: %v", err)
			}
			sto := NewCompressed(mem, codec)

			idx, err := sto.Write(payload)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := sto.Read(idx)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("Read mismatch after round trip through %s", codecName(bt))
			}
		})
	}
}

func TestCompressedCodecDetectsCorruption(t *testing.T) {
	codec, err := NewCodec(BlockTypeSnappy)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	compressed, err := codec.Compress([]byte("not a drill"))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	compressed[len(compressed)-1] ^= 0xFF
	if _, err := codec.Decompress(compressed); err == nil {
		t.Fatalf("Decompress of corrupted payload succeeded, want error")
	}
}

func codecName(bt BlockType) string {
	switch bt {
	case BlockTypeZ:
		return "flate"
	case BlockTypeLZ4:
		return "lz4"
	case BlockTypeZSTD:
		return "zstd"
	case BlockTypeSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}
