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

package table

import (
	"strings"

	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/rowcodec"
)

const defaultBlockSize = 4096

// openHeapStorage opens the row heap's base Storage variant per the
// schema's storage options. Compressed variants (Z/LZ4/ZSTD/SNAPPY) wrap a
// plain disk-backed base, since packing compressed row images is only
// meaningful for the heap -- tree files always use openTreeStorage below.
func openHeapStorage(path string, opts rowcodec.StorageOptions) (block.Storage, error) {
	blockSize := opts.Compact
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	increment := opts.Increment
	if increment <= 0 {
		increment = int64(blockSize) * 256
	}

	switch strings.ToUpper(strings.TrimSpace(opts.BlockType)) {
	case "", "MMAP":
		return block.NewMMap(path, blockSize, increment)
	case "MEMORY":
		return block.NewMemory(blockSize)
	case "Z", "LZ4", "ZSTD", "SNAPPY":
		base, err := block.NewFile(path, blockSize, increment)
		if err != nil {
			return nil, err
		}
		codec, err := newCodecFor(opts.BlockType)
		if err != nil {
			return nil, err
		}
		return block.NewCompressed(base, codec), nil
	default:
		return nil, ferrors.New(ferrors.InvalidOperation, "table: unknown storage block type %q", opts.BlockType)
	}
}

// openTreeStorage opens a B+Tree-backed file (a Sorter's own storage).
// Compressed packing applies only to heap files, never to tree files, so
// this never wraps a Codec regardless of the schema's declared heap block
// type.
func openTreeStorage(path string, opts rowcodec.StorageOptions) (block.Storage, error) {
	blockSize := opts.Compact
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	increment := opts.Increment
	if increment <= 0 {
		increment = int64(blockSize) * 256
	}
	switch strings.ToUpper(strings.TrimSpace(opts.BlockType)) {
	case "MEMORY":
		return block.NewMemory(blockSize)
	default:
		return block.NewMMap(path, blockSize, increment)
	}
}

func newCodecFor(blockType string) (block.Codec, error) {
	switch strings.ToUpper(strings.TrimSpace(blockType)) {
	case "Z":
		return block.NewCodec(block.BlockTypeZ)
	case "LZ4":
		return block.NewCodec(block.BlockTypeLZ4)
	case "ZSTD":
		return block.NewCodec(block.BlockTypeZSTD)
	case "SNAPPY":
		return block.NewCodec(block.BlockTypeSnappy)
	default:
		return nil, ferrors.New(ferrors.InvalidOperation, "table: unknown compression block type %q", blockType)
	}
}
