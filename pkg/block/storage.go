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

// Package block implements FlintDB's Block Storage: a random-access file of
// fixed-size blocks with a custom header, a free-list of deleted blocks,
// and chained overflow for payloads larger than one block.
package block

import (
	"encoding/binary"

	"github.com/flintdb/flint/pkg/ferrors"
)

// HeaderBytes is the size of the reserved custom header area at the start
// of every Block Storage file.
const HeaderBytes = 4096

// Byte offsets of the common header fields, the portion of HeaderBytes with
// fixed meaning; the remainder (from extraHeaderOffset to HeaderBytes) is
// free for engine-specific use (e.g. the B+Tree's root slot).
const (
	offReservedBlockCount = 0
	offFreeListFront      = 8
	offFreeListTail       = 16
	offFormatVersion      = 24
	offReserved           = 26
	offBlockPayloadSize   = 54
	offLiveDataCount      = 56
	extraHeaderOffset     = 64
)

// BlockHeaderBytes is the fixed size of the per-block header:
// status(1) mark(1) data_len(2) total_len(4) next(8).
const BlockHeaderBytes = 16

const (
	statusFree byte = 0
	statusLive byte = 1
)

const (
	markFirst        byte = 0
	markContinuation byte = 1
)

// sentinelNext marks the end of a block chain or an empty free-list.
const sentinelNext int64 = -1

// FormatVersion values recorded in the common header: 0 or 1 identify
// MMAP, others are per storage variant.
const (
	FormatMMAP    uint16 = 1
	FormatMemory  uint16 = 2
	FormatDeflate uint16 = 3
	FormatLZ4     uint16 = 4
	FormatZSTD    uint16 = 5
	FormatSnappy  uint16 = 6
)

// Storage is the Block Storage contract.
type Storage interface {
	// Write allocates one or more blocks, writes payload into them, and
	// returns the index (byte offset) of the first block.
	Write(payload []byte) (int64, error)

	// WriteAt overwrites the chain rooted at index with payload, growing
	// or shrinking the chain as needed.
	WriteAt(index int64, payload []byte) error

	// Read follows the chain rooted at index and returns its payload.
	// Reading a freed index returns ferrors.NotFound; an index past the end
	// of the device returns ferrors.StorageReadError.
	Read(index int64) ([]byte, error)

	// Delete frees every block in the chain rooted at index.
	Delete(index int64) error

	// LiveCount returns the number of currently-live top-of-chain blocks.
	LiveCount() int64

	// ReadExtraHeader reads length bytes from the engine-specific region
	// of the custom header, starting at off bytes past the common header.
	ReadExtraHeader(off int, length int) ([]byte, error)

	// WriteExtraHeader writes data into the engine-specific region of the
	// custom header, starting at off bytes past the common header.
	WriteExtraHeader(off int, data []byte) error

	// BlockPayloadSize returns the configured per-block payload capacity.
	BlockPayloadSize() int

	Sync() error
	Close() error
}

// device is the minimal raw I/O surface a Storage variant must provide; the
// chain/free-list/header bookkeeping in engine is shared across variants.
type device interface {
	// ReadAt reads len(buf) bytes starting at byte offset off.
	ReadAt(off int64, buf []byte) error
	// WriteAt writes buf starting at byte offset off. Whether a write past
	// the current extent extends the device depends on the variant (the
	// mmap device rejects it); engine always Grows the device first.
	WriteAt(off int64, buf []byte) error
	// Size returns the current extent of the device in bytes.
	Size() (int64, error)
	// Grow extends the device by at least by bytes and returns the byte
	// offset at which the new space begins.
	Grow(by int64) (int64, error)
	Sync() error
	Close() error
}

// engine implements the Storage contract's block-chain and free-list logic
// against any device. Concrete variants (mmap, memory) are thin device
// implementations plumbed through newEngine.
type engine struct {
	dev         device
	blockSize   int // payload bytes per block
	blockStride int64 // BlockHeaderBytes + blockSize
	increment   int64
}

// newEngine opens or initializes the shared block-chain logic over dev.
// blockSize is only consulted when the device is freshly created (smaller
// than HeaderBytes); an existing device's header is authoritative for it.
// increment is not persisted and applies to every open.
func newEngine(dev device, blockSize int, increment int64, format uint16) (*engine, error) {
	if blockSize <= 0 {
		blockSize = 4096 - BlockHeaderBytes
	}
	if increment <= 0 {
		increment = 1 << 20
	}
	size, err := dev.Size()
	if err != nil {
		return nil, ferrors.Wrap(ferrors.StorageReadError, err, "block: stat device")
	}
	e := &engine{dev: dev, blockSize: blockSize, increment: increment}
	if size < HeaderBytes {
		if err := e.initHeader(format); err != nil {
			return nil, err
		}
	} else {
		hdr := make([]byte, HeaderBytes)
		if err := dev.ReadAt(0, hdr); err != nil {
			return nil, ferrors.Wrap(ferrors.StorageReadError, err, "block: read header")
		}
		e.blockSize = int(binary.LittleEndian.Uint16(hdr[offBlockPayloadSize:]))
		e.blockStride = int64(BlockHeaderBytes + e.blockSize)
	}
	return e, nil
}

func (e *engine) initHeader(format uint16) error {
	e.blockStride = int64(BlockHeaderBytes + e.blockSize)
	hdr := make([]byte, HeaderBytes)
	binary.LittleEndian.PutUint64(hdr[offFreeListFront:], uint64(sentinelNext))
	binary.LittleEndian.PutUint64(hdr[offFreeListTail:], uint64(sentinelNext))
	binary.LittleEndian.PutUint16(hdr[offFormatVersion:], format)
	binary.LittleEndian.PutUint16(hdr[offBlockPayloadSize:], uint16(e.blockSize))
	binary.LittleEndian.PutUint64(hdr[offLiveDataCount:], 0)
	if _, err := e.dev.Grow(HeaderBytes); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "block: allocate header")
	}
	if err := e.dev.WriteAt(0, hdr); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "block: write header")
	}
	return nil
}

func (e *engine) BlockPayloadSize() int { return e.blockSize }

func (e *engine) readHeaderField(off int) (int64, error) {
	buf := make([]byte, 8)
	if err := e.dev.ReadAt(int64(off), buf); err != nil {
		return 0, ferrors.Wrap(ferrors.StorageReadError, err, "block: read header field")
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (e *engine) writeHeaderField(off int, v int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	if err := e.dev.WriteAt(int64(off), buf); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "block: write header field")
	}
	return nil
}

func (e *engine) freeListFront() (int64, error) { return e.readHeaderField(offFreeListFront) }
func (e *engine) setFreeListFront(v int64) error { return e.writeHeaderField(offFreeListFront, v) }

func (e *engine) liveCount() (int64, error) { return e.readHeaderField(offLiveDataCount) }
func (e *engine) addLiveCount(delta int64) error {
	n, err := e.liveCount()
	if err != nil {
		return err
	}
	return e.writeHeaderField(offLiveDataCount, n+delta)
}

func (e *engine) LiveCount() int64 {
	n, _ := e.liveCount()
	return n
}

func (e *engine) ReadExtraHeader(off, length int) ([]byte, error) {
	if extraHeaderOffset+off+length > HeaderBytes {
		return nil, ferrors.New(ferrors.InternalError, "block: extra header range exceeds header area")
	}
	buf := make([]byte, length)
	if err := e.dev.ReadAt(int64(extraHeaderOffset+off), buf); err != nil {
		return nil, ferrors.Wrap(ferrors.StorageReadError, err, "block: read extra header")
	}
	return buf, nil
}

func (e *engine) WriteExtraHeader(off int, data []byte) error {
	if extraHeaderOffset+off+len(data) > HeaderBytes {
		return ferrors.New(ferrors.InternalError, "block: extra header range exceeds header area")
	}
	if err := e.dev.WriteAt(int64(extraHeaderOffset+off), data); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "block: write extra header")
	}
	return nil
}

func (e *engine) Sync() error  { return e.dev.Sync() }
func (e *engine) Close() error { return e.dev.Close() }

// blockHeader is the decoded form of a block's 16-byte header.
type blockHeader struct {
	status  byte
	mark    byte
	dataLen uint16
	total   uint32
	next    int64
}

func decodeBlockHeader(buf []byte) blockHeader {
	return blockHeader{
		status:  buf[0],
		mark:    buf[1],
		dataLen: binary.LittleEndian.Uint16(buf[2:4]),
		total:   binary.LittleEndian.Uint32(buf[4:8]),
		next:    int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

func encodeBlockHeader(h blockHeader, buf []byte) {
	buf[0] = h.status
	buf[1] = h.mark
	binary.LittleEndian.PutUint16(buf[2:4], h.dataLen)
	binary.LittleEndian.PutUint32(buf[4:8], h.total)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.next))
}

func (e *engine) readBlock(off int64) (blockHeader, []byte, error) {
	buf := make([]byte, e.blockStride)
	if err := e.dev.ReadAt(off, buf); err != nil {
		return blockHeader{}, nil, ferrors.Wrap(ferrors.StorageReadError, err, "block: read block at %d", off)
	}
	h := decodeBlockHeader(buf[:BlockHeaderBytes])
	return h, buf[BlockHeaderBytes:], nil
}

func (e *engine) writeBlock(off int64, h blockHeader, payload []byte) error {
	buf := make([]byte, e.blockStride)
	encodeBlockHeader(h, buf[:BlockHeaderBytes])
	copy(buf[BlockHeaderBytes:], payload)
	if err := e.dev.WriteAt(off, buf); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "block: write block at %d", off)
	}
	return nil
}

// allocBlock pops the free-list front if non-empty, else hands out the next
// block past the last one ever allocated (counted in the header's reserved
// block count), extending the device by `increment` bytes at a time only
// when that block does not fit in the current extent.
func (e *engine) allocBlock() (int64, error) {
	front, err := e.freeListFront()
	if err != nil {
		return 0, err
	}
	if front != sentinelNext {
		h, _, err := e.readBlock(front)
		if err != nil {
			return 0, err
		}
		if err := e.setFreeListFront(h.next); err != nil {
			return 0, err
		}
		return front, nil
	}
	allocated, err := e.readHeaderField(offReservedBlockCount)
	if err != nil {
		return 0, err
	}
	size, err := e.dev.Size()
	if err != nil {
		return 0, ferrors.Wrap(ferrors.StorageReadError, err, "block: stat device")
	}
	tail := HeaderBytes + allocated*e.blockStride
	if tail+e.blockStride > size {
		grown := e.increment
		if grown < e.blockStride {
			grown = e.blockStride
		}
		if _, err := e.dev.Grow(grown); err != nil {
			return 0, ferrors.Wrap(ferrors.StorageWriteError, err, "block: grow device")
		}
	}
	if err := e.writeHeaderField(offReservedBlockCount, allocated+1); err != nil {
		return 0, err
	}
	return tail, nil
}

func (e *engine) freeBlock(off int64, newFront int64) error {
	h := blockHeader{status: statusFree, next: newFront}
	return e.writeBlock(off, h, nil)
}

// Write allocates a chain of blocks for payload and returns the first
// block's offset.
func (e *engine) Write(payload []byte) (int64, error) {
	first, err := e.writeChain(sentinelNext, payload, true)
	if err != nil {
		return 0, err
	}
	if err := e.addLiveCount(1); err != nil {
		return 0, err
	}
	return first, nil
}

// WriteAt overwrites the chain rooted at index. If the new payload fits
// within the existing chain's block count, blocks are reused in place and
// any surplus tail blocks are freed; otherwise the first block is
// overwritten and additional blocks are chained for the overflow.
func (e *engine) WriteAt(index int64, payload []byte) error {
	if _, err := e.writeChain(index, payload, false); err != nil {
		return err
	}
	return nil
}

// writeChain writes payload across one or more blocks. If root is
// sentinelNext (or fresh==true), a brand-new chain is allocated; otherwise
// the existing chain rooted at root is reused/extended/truncated in place.
func (e *engine) writeChain(root int64, payload []byte, fresh bool) (int64, error) {
	need := chainLength(len(payload), e.blockSize)
	var existing []int64
	if !fresh {
		var err error
		existing, err = e.chainOffsets(root)
		if err != nil {
			return 0, err
		}
	}

	offsets := make([]int64, 0, need)
	if !fresh {
		for i := 0; i < need && i < len(existing); i++ {
			offsets = append(offsets, existing[i])
		}
	}
	for len(offsets) < need {
		off, err := e.allocBlock()
		if err != nil {
			return 0, err
		}
		offsets = append(offsets, off)
	}

	// Free any surplus tail blocks from the existing chain.
	if !fresh && len(existing) > need {
		front, err := e.freeListFront()
		if err != nil {
			return 0, err
		}
		for i := len(existing) - 1; i >= need; i-- {
			if err := e.freeBlock(existing[i], front); err != nil {
				return 0, err
			}
			front = existing[i]
		}
		if err := e.setFreeListFront(front); err != nil {
			return 0, err
		}
	}

	remaining := payload
	total := uint32(len(payload))
	for i, off := range offsets {
		n := len(remaining)
		if n > e.blockSize {
			n = e.blockSize
		}
		chunk := remaining[:n]
		remaining = remaining[n:]
		mark := markContinuation
		if i == 0 {
			mark = markFirst
		}
		next := sentinelNext
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}
		h := blockHeader{status: statusLive, mark: mark, dataLen: uint16(n), next: next}
		if i == 0 {
			h.total = total
		}
		if err := e.writeBlock(off, h, chunk); err != nil {
			return 0, err
		}
	}
	return offsets[0], nil
}

// chainOffsets walks the chain rooted at root and returns every block
// offset in order.
func (e *engine) chainOffsets(root int64) ([]int64, error) {
	var offs []int64
	off := root
	for off != sentinelNext {
		h, _, err := e.readBlock(off)
		if err != nil {
			return nil, err
		}
		if h.status != statusLive {
			return nil, ferrors.New(ferrors.NotFound, "block: read of freed block %d", root)
		}
		offs = append(offs, off)
		off = h.next
	}
	return offs, nil
}

// chainLength returns the number of blocks needed to hold n payload bytes
// in blocks of the given payload capacity (minimum one block, even for an
// empty payload).
func chainLength(n, blockSize int) int {
	if n == 0 {
		return 1
	}
	return (n + blockSize - 1) / blockSize
}

// Read follows the chain rooted at index and returns its full payload.
func (e *engine) Read(index int64) ([]byte, error) {
	h, first, err := e.readBlock(index)
	if err != nil {
		return nil, err
	}
	if h.status != statusLive {
		return nil, ferrors.New(ferrors.NotFound, "block: read of freed block %d", index)
	}
	out := make([]byte, 0, h.total)
	out = append(out, first[:h.dataLen]...)
	next := h.next
	for next != sentinelNext {
		nh, payload, err := e.readBlock(next)
		if err != nil {
			return nil, err
		}
		if nh.status != statusLive {
			return nil, ferrors.New(ferrors.InternalError, "block: chain references freed block %d", next)
		}
		out = append(out, payload[:nh.dataLen]...)
		next = nh.next
	}
	return out, nil
}

// Delete frees every block in the chain rooted at index.
func (e *engine) Delete(index int64) error {
	offs, err := e.chainOffsets(index)
	if err != nil {
		return err
	}
	front, err := e.freeListFront()
	if err != nil {
		return err
	}
	for i := len(offs) - 1; i >= 0; i-- {
		if err := e.freeBlock(offs[i], front); err != nil {
			return err
		}
		front = offs[i]
	}
	if err := e.setFreeListFront(front); err != nil {
		return err
	}
	return e.addLiveCount(-1)
}
