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

// Package wal implements FlintDB's write-ahead log: atomic durability for
// sequences of Storage mutations, with batched appends, checkpointing, and
// open-time replay.
package wal

import (
	"bytes"
	"encoding/binary"
	"log"
	"os"
	"sync"

	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/bufpool"
	"github.com/flintdb/flint/pkg/ferrors"
)

// HeaderBytes is the size of the WAL's fixed file header.
const HeaderBytes = 4096

const (
	walMagic   = "WAL!"
	walVersion = uint16(1)
)

const (
	offMagic                = 0
	offVersion              = 4
	offHeaderSize            = 6
	offCreatedAt             = 10
	offLastTxID              = 18
	offLastCommittedOffset   = 26
	offLastCheckpointOffset  = 34
	offTotalCount            = 42
	offProcessedCount        = 50
)

type header struct {
	version              uint16
	headerSize           uint32
	createdAt            int64
	lastTxID             uint64
	lastCommittedOffset  int64
	lastCheckpointOffset int64
	totalCount           uint64
	processedCount       uint64
}

func (h header) encode() []byte {
	buf := make([]byte, HeaderBytes)
	copy(buf[offMagic:], walMagic)
	binary.LittleEndian.PutUint16(buf[offVersion:], h.version)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], h.headerSize)
	binary.LittleEndian.PutUint64(buf[offCreatedAt:], uint64(h.createdAt))
	binary.LittleEndian.PutUint64(buf[offLastTxID:], h.lastTxID)
	binary.LittleEndian.PutUint64(buf[offLastCommittedOffset:], uint64(h.lastCommittedOffset))
	binary.LittleEndian.PutUint64(buf[offLastCheckpointOffset:], uint64(h.lastCheckpointOffset))
	binary.LittleEndian.PutUint64(buf[offTotalCount:], h.totalCount)
	binary.LittleEndian.PutUint64(buf[offProcessedCount:], h.processedCount)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderBytes || string(buf[offMagic:offMagic+4]) != walMagic {
		return header{}, ferrors.New(ferrors.StorageReadError, "wal: bad header magic")
	}
	return header{
		version:              binary.LittleEndian.Uint16(buf[offVersion:]),
		headerSize:           binary.LittleEndian.Uint32(buf[offHeaderSize:]),
		createdAt:            int64(binary.LittleEndian.Uint64(buf[offCreatedAt:])),
		lastTxID:             binary.LittleEndian.Uint64(buf[offLastTxID:]),
		lastCommittedOffset:  int64(binary.LittleEndian.Uint64(buf[offLastCommittedOffset:])),
		lastCheckpointOffset: int64(binary.LittleEndian.Uint64(buf[offLastCheckpointOffset:])),
		totalCount:           binary.LittleEndian.Uint64(buf[offTotalCount:]),
		processedCount:       binary.LittleEndian.Uint64(buf[offProcessedCount:]),
	}, nil
}

// headerWrite is a buffered write to a Storage's custom header region.
type headerWrite struct {
	offset int
	data   []byte
}

// txn is the in-memory buffered state of one open transaction, spanning
// however many WalStorages it touches.
type txn struct {
	id       uint64
	touched  []uint32 // fileIDs, insertion order
	dirty    map[uint32]map[int64][]byte
	tomb     map[uint32]map[int64]bool
	headers  map[uint32][]headerWrite
}

func newTxn(id uint64) *txn {
	return &txn{
		id:      id,
		dirty:   make(map[uint32]map[int64][]byte),
		tomb:    make(map[uint32]map[int64]bool),
		headers: make(map[uint32][]headerWrite),
	}
}

func (t *txn) touch(fileID uint32) {
	if _, ok := t.dirty[fileID]; ok {
		return
	}
	t.touched = append(t.touched, fileID)
	t.dirty[fileID] = make(map[int64][]byte)
	t.tomb[fileID] = make(map[int64]bool)
}

// WAL is a single write-ahead log shared by every Storage a Table Engine
// wraps (row heap plus each Sorter).
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	opts Options

	hdr          header
	appendOffset int64

	stage       bytes.Buffer
	storages    map[uint32]*WalStorage
	active      *txn
	sinceCheck  int
	pageCodec   block.Codec
}

// Open opens or creates the WAL file at path. Recovery is not run here;
// call Recover after every origin Storage has been Wrap-ped, so the
// replay can resolve file-ids to WalStorages.
func Open(path string, opts Options) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.StorageReadError, err, "wal: open %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ferrors.Wrap(ferrors.StorageReadError, err, "wal: stat %s", path)
	}
	pageCodec, err := block.NewCodec(block.BlockTypeSnappy)
	if err != nil {
		f.Close()
		return nil, err
	}
	w := &WAL{f: f, opts: opts, storages: make(map[uint32]*WalStorage), pageCodec: pageCodec}
	if fi.Size() < HeaderBytes {
		w.hdr = header{
			version:              walVersion,
			headerSize:           HeaderBytes,
			lastCommittedOffset:  HeaderBytes,
			lastCheckpointOffset: HeaderBytes,
		}
		if err := f.Truncate(HeaderBytes); err != nil {
			f.Close()
			return nil, ferrors.Wrap(ferrors.StorageWriteError, err, "wal: allocate header")
		}
		if _, err := f.WriteAt(w.hdr.encode(), 0); err != nil {
			f.Close()
			return nil, ferrors.Wrap(ferrors.StorageWriteError, err, "wal: write header")
		}
		w.appendOffset = HeaderBytes
	} else {
		buf := make([]byte, HeaderBytes)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, ferrors.Wrap(ferrors.StorageReadError, err, "wal: read header")
		}
		hdr, err := decodeHeader(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		w.hdr = hdr
		w.appendOffset = fi.Size()
	}
	return w, nil
}

// Wrap returns a WalStorage intercepting origin's mutations. fileID
// identifies origin for recovery replay; rootIndex is
// the block index treated as the commit-order root for this Storage, or
// -1 if this Storage has no such index (e.g. it is only ever touched
// through its custom header). invalidate is called whenever a page is
// deleted so the owner can evict its cache entry.
func (w *WAL) Wrap(origin block.Storage, fileID uint32, rootIndex int64, invalidate func(idx int64)) *WalStorage {
	ws := &WalStorage{
		origin:     origin,
		wal:        w,
		fileID:     fileID,
		rootIndex:  rootIndex,
		invalidate: invalidate,
	}
	w.mu.Lock()
	w.storages[fileID] = ws
	w.mu.Unlock()
	return ws
}

// Begin starts a new transaction and returns its monotonically increasing
// id. Only one transaction may be open at a time: the writer latch above
// this layer serializes mutating calls.
func (w *WAL) Begin() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active != nil {
		return 0, ferrors.New(ferrors.TransactionFailed, "wal: transaction %d already open", w.active.id)
	}
	id := w.hdr.lastTxID + 1
	w.active = newTxn(id)
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, id)
	if err := w.appendRecord(record{op: OpBegin, txnID: id, payload: payload, metaOnly: true}); err != nil {
		w.active = nil
		return 0, err
	}
	return id, nil
}

// Commit applies a transaction's buffered writes to their origin Storages,
// writing each Storage's root index (and custom header region) last so a
// crash mid-commit never leaves a root pointing at data that wasn't
// actually written, then logs COMMIT and syncs.
func (w *WAL) Commit(id uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.activeTxn(id)
	if err != nil {
		return err
	}
	for _, fileID := range t.touched {
		ws := w.storages[fileID]
		if ws == nil {
			return ferrors.New(ferrors.InternalError, "wal: commit references unknown file-id %d", fileID)
		}
		dirty := t.dirty[fileID]
		tomb := t.tomb[fileID]
		for idx, data := range dirty {
			if idx == ws.rootIndex {
				continue
			}
			if err := ws.origin.WriteAt(idx, data); err != nil {
				return err
			}
		}
		for idx := range tomb {
			if idx == ws.rootIndex {
				continue
			}
			if err := ws.origin.Delete(idx); err != nil {
				return err
			}
			if ws.invalidate != nil {
				ws.invalidate(idx)
			}
		}
		if ws.rootIndex >= 0 {
			if data, ok := dirty[ws.rootIndex]; ok {
				if err := ws.origin.WriteAt(ws.rootIndex, data); err != nil {
					return err
				}
			}
			if tomb[ws.rootIndex] {
				if err := ws.origin.Delete(ws.rootIndex); err != nil {
					return err
				}
				if ws.invalidate != nil {
					ws.invalidate(ws.rootIndex)
				}
			}
		}
		for _, hw := range t.headers[fileID] {
			if err := ws.origin.WriteExtraHeader(hw.offset, hw.data); err != nil {
				return err
			}
		}
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, id)
	if err := w.appendRecord(record{op: OpCommit, txnID: id, payload: payload, metaOnly: true}); err != nil {
		return err
	}
	if err := w.flushStage(); err != nil {
		return err
	}
	w.hdr.lastTxID = id
	w.hdr.lastCommittedOffset = w.appendOffset
	if err := w.syncHeader(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: fsync after commit")
	}
	w.active = nil
	w.sinceCheck++
	if w.opts.CheckpointInterval > 0 && w.sinceCheck >= w.opts.CheckpointInterval {
		if err := w.checkpointLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards a transaction's buffered mutations and logs a
// ROLLBACK marker; the origin Storages are left untouched.
func (w *WAL) Rollback(id uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.activeTxn(id); err != nil {
		return err
	}
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, id)
	if err := w.appendRecord(record{op: OpRollback, txnID: id, payload: payload, metaOnly: true}); err != nil {
		return err
	}
	if err := w.flushStage(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: fsync after rollback")
	}
	w.hdr.lastTxID = id
	w.active = nil
	return nil
}

func (w *WAL) activeTxn(id uint64) (*txn, error) {
	if w.active == nil || w.active.id != id {
		return nil, ferrors.New(ferrors.TransactionNotStarted, "wal: transaction %d not open", id)
	}
	return w.active, nil
}

// Checkpoint flushes staged records, appends a CHECKPOINT marker, and in
// TRUNCATE mode truncates the log back to the header.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkpointLocked()
}

func (w *WAL) checkpointLocked() error {
	if err := w.flushStage(); err != nil {
		return err
	}
	if err := w.appendRecord(record{op: OpCheckpoint, metaOnly: true}); err != nil {
		return err
	}
	if err := w.flushStage(); err != nil {
		return err
	}
	w.hdr.lastCheckpointOffset = w.appendOffset
	checkpointAtTail := w.hdr.lastCheckpointOffset >= w.appendOffset
	if w.opts.Mode == ModeTruncate && checkpointAtTail {
		if err := w.f.Truncate(HeaderBytes); err != nil {
			return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: truncate checkpoint")
		}
		w.appendOffset = HeaderBytes
		w.hdr.lastCheckpointOffset = HeaderBytes
		w.hdr.lastCommittedOffset = HeaderBytes
		w.hdr.totalCount = 0
		w.hdr.processedCount = 0
	}
	w.sinceCheck = 0
	if err := w.syncHeader(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: fsync after checkpoint")
	}
	return nil
}

func (w *WAL) syncHeader() error {
	if _, err := w.f.WriteAt(w.hdr.encode(), 0); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: write header")
	}
	return nil
}

// appendRecord stages (or direct-writes) one encoded record and updates
// header counters. Caller must hold w.mu.
func (w *WAL) appendRecord(r record) error {
	encoded := r.encode(w.opts.PageData)
	defer bufpool.Put(encoded)
	w.hdr.totalCount++
	if len(encoded) > w.opts.DirectWriteThreshold {
		if err := w.flushStage(); err != nil {
			return err
		}
		if _, err := w.f.WriteAt(encoded, w.appendOffset); err != nil {
			return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: direct write record")
		}
		w.appendOffset += int64(len(encoded))
		return nil
	}
	if w.stage.Len()+len(encoded) > w.opts.BatchSize {
		if err := w.flushStage(); err != nil {
			return err
		}
	}
	w.stage.Write(encoded)
	return nil
}

// flushStage writes any buffered records to the file. Caller must hold
// w.mu.
func (w *WAL) flushStage() error {
	if w.stage.Len() == 0 {
		return nil
	}
	if _, err := w.f.WriteAt(w.stage.Bytes(), w.appendOffset); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: flush stage")
	}
	w.appendOffset += int64(w.stage.Len())
	w.stage.Reset()
	return nil
}

// Close flushes and syncs the log, then closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushStage(); err != nil {
		return err
	}
	if err := w.syncHeader(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: fsync on close")
	}
	return w.f.Close()
}

// Recover replays every committed transaction found between
// max(HeaderBytes, last checkpoint offset) and min(file size, last
// committed offset). Every Storage a transaction touched must already be
// registered via Wrap before calling Recover.
func (w *WAL) Recover() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fi, err := w.f.Stat()
	if err != nil {
		return ferrors.Wrap(ferrors.StorageReadError, err, "wal: stat for recovery")
	}
	start := w.hdr.lastCheckpointOffset
	if start < HeaderBytes {
		start = HeaderBytes
	}
	end := w.hdr.lastCommittedOffset
	if fi.Size() < end {
		end = fi.Size()
	}
	if start >= end {
		return nil
	}

	buf := make([]byte, end-start)
	if _, err := w.f.ReadAt(buf, start); err != nil {
		return ferrors.Wrap(ferrors.StorageReadError, err, "wal: read recovery range")
	}

	committed := make(map[uint64]bool)
	pending := make(map[uint64][]record)

	pos := 0
	for pos < len(buf) {
		r, consumed, ok := decodeRecordAt(buf[pos:], w.opts.PageData)
		if !ok {
			log.Printf("wal: stopping recovery scan at corrupt tail, offset %d", start+int64(pos))
			break
		}
		switch r.op {
		case OpCheckpoint:
			committed = make(map[uint64]bool)
			pending = make(map[uint64][]record)
		case OpCommit:
			committed[r.txnID] = true
		case OpRollback:
			committed[r.txnID] = false
			delete(pending, r.txnID)
		case OpBegin:
			// no-op; transaction tracked implicitly by pending map entries.
		case OpWrite, OpUpdate, OpDelete:
			pending[r.txnID] = append(pending[r.txnID], r)
		}
		pos += consumed
	}

	for id, ok := range committed {
		if !ok {
			continue
		}
		for _, r := range pending[id] {
			ws := w.storages[r.fileID]
			if ws == nil {
				log.Printf("wal: recovery: unknown file-id %d for committed tx %d, skipping", r.fileID, id)
				continue
			}
			switch r.op {
			case OpUpdate:
				if len(r.payload) == 0 {
					continue // metadata-only: page already reflects post-commit state.
				}
				if r.pageOffset == -1 {
					// A buffered WriteExtraHeader: payload is a 4-byte
					// offset followed by the header bytes written.
					off := int(binary.LittleEndian.Uint32(r.payload))
					if err := ws.origin.WriteExtraHeader(off, r.payload[4:]); err != nil {
						return err
					}
					continue
				}
				payload := r.payload
				if r.compressed {
					decoded, err := w.pageCodec.Decompress(payload)
					if err != nil {
						return ferrors.Wrap(ferrors.StorageReadError, err, "wal: decompress page image during recovery")
					}
					payload = decoded
				}
				if err := ws.origin.WriteAt(r.pageOffset, payload); err != nil {
					return err
				}
			case OpDelete:
				if err := ws.origin.Delete(r.pageOffset); err != nil {
					return err
				}
				if ws.invalidate != nil {
					ws.invalidate(r.pageOffset)
				}
			case OpWrite:
				// already present in origin; nothing to do.
			}
			w.hdr.processedCount++
		}
	}
	return w.syncHeader()
}

// decodeRecordAt decodes one record at the start of buf, returning it, the
// number of bytes consumed, and whether decoding succeeded. A false ok
// means buf's head is a corrupt or truncated record.
func decodeRecordAt(buf []byte, pageChecksum bool) (record, int, bool) {
	r, headerLen, err := decodeRecordHeader(buf)
	if err != nil {
		return record{}, 0, false
	}
	payloadLen := int(r.originalSize)
	if r.compressed {
		payloadLen = int(r.compressedSize)
	}
	trailerLen := 0
	if pageChecksum && payloadLen > 0 {
		trailerLen = 8
	}
	total := headerLen + payloadLen + trailerLen
	if total > len(buf) {
		return record{}, 0, false
	}
	r.payload = append([]byte(nil), buf[headerLen:headerLen+payloadLen]...)
	if !verifyPayload(buf[:headerLen], r.payload) {
		return record{}, 0, false
	}
	if trailerLen > 0 {
		trailer := binary.LittleEndian.Uint64(buf[headerLen+payloadLen:])
		if trailer != hashPayload(r.payload) {
			return record{}, 0, false
		}
	}
	return r, total, true
}
