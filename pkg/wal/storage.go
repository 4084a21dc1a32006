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

package wal

import (
	"encoding/binary"

	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/ferrors"
)

// WalStorage decorates a block.Storage so that, within a transaction,
// mutations are buffered and replayed on commit in root-last order.
// Outside a transaction, calls pass straight through.
type WalStorage struct {
	origin     block.Storage
	wal        *WAL
	fileID     uint32
	rootIndex  int64
	invalidate func(idx int64)
}

// Write allocates and writes a brand new page immediately (append-only
// heap pages are safe to materialize eagerly: a rollback never reuses an
// index it never committed), and logs a metadata-only WRITE record.
func (ws *WalStorage) Write(payload []byte) (int64, error) {
	idx, err := ws.origin.Write(payload)
	if err != nil {
		return 0, err
	}
	ws.wal.mu.Lock()
	defer ws.wal.mu.Unlock()
	rec := record{op: OpWrite, fileID: ws.fileID, pageOffset: idx, metaOnly: true}
	if ws.wal.active != nil {
		rec.txnID = ws.wal.active.id
	}
	if err := ws.wal.appendRecord(rec); err != nil {
		return 0, err
	}
	return idx, nil
}

// WriteAt buffers the new page image for idx within the active
// transaction (logging an UPDATE record immediately), or passes through
// directly if no transaction is open.
func (ws *WalStorage) WriteAt(idx int64, payload []byte) error {
	ws.wal.mu.Lock()

	if ws.wal.active == nil {
		ws.wal.mu.Unlock()
		return ws.origin.WriteAt(idx, payload)
	}
	defer ws.wal.mu.Unlock()

	t := ws.wal.active
	t.touch(ws.fileID)
	t.dirty[ws.fileID][idx] = append([]byte(nil), payload...)
	delete(t.tomb[ws.fileID], idx)

	rec := record{op: OpUpdate, txnID: t.id, fileID: ws.fileID, pageOffset: idx}
	if ws.wal.opts.PageData {
		rec.originalSize = uint32(len(payload))
		body := payload
		threshold := ws.wal.opts.CompressionThreshold
		if threshold > 0 && len(payload) > threshold {
			compressed, err := ws.wal.pageCodec.Compress(payload)
			if err != nil {
				return ferrors.Wrap(ferrors.StorageWriteError, err, "wal: compress page image")
			}
			rec.compressed = true
			rec.compressedSize = uint32(len(compressed))
			body = compressed
		}
		rec.payload = body
	} else {
		rec.metaOnly = true
	}
	return ws.wal.appendRecord(rec)
}

// Delete tombstones idx within the active transaction (logging a DELETE
// record immediately), or passes through and fires the invalidation
// callback directly if no transaction is open.
func (ws *WalStorage) Delete(idx int64) error {
	ws.wal.mu.Lock()

	if ws.wal.active == nil {
		ws.wal.mu.Unlock()
		if err := ws.origin.Delete(idx); err != nil {
			return err
		}
		if ws.invalidate != nil {
			ws.invalidate(idx)
		}
		return nil
	}
	defer ws.wal.mu.Unlock()

	t := ws.wal.active
	t.touch(ws.fileID)
	t.tomb[ws.fileID][idx] = true
	delete(t.dirty[ws.fileID], idx)

	rec := record{op: OpDelete, txnID: t.id, fileID: ws.fileID, pageOffset: idx, metaOnly: true}
	return ws.wal.appendRecord(rec)
}

// Read serves read-your-own-writes within a transaction: the dirty-pages
// map first, then a tombstone check, then origin.
func (ws *WalStorage) Read(idx int64) ([]byte, error) {
	ws.wal.mu.Lock()
	if ws.wal.active != nil {
		t := ws.wal.active
		if dirty, ok := t.dirty[ws.fileID]; ok {
			if data, ok := dirty[idx]; ok {
				ws.wal.mu.Unlock()
				return data, nil
			}
		}
		if tomb, ok := t.tomb[ws.fileID]; ok && tomb[idx] {
			ws.wal.mu.Unlock()
			return nil, ferrors.New(ferrors.NotFound, "wal: page %d deleted in open transaction", idx)
		}
	}
	ws.wal.mu.Unlock()
	return ws.origin.Read(idx)
}

// WalStorage satisfies block.Storage itself, so it can stand in for the
// origin it wraps.
var _ block.Storage = (*WalStorage)(nil)

func (ws *WalStorage) LiveCount() int64 { return ws.origin.LiveCount() }

// ReadExtraHeader reads straight from origin; the custom header region is
// never buffered for reads (only writes are transaction-scoped, per the
// root-last commit rule).
func (ws *WalStorage) ReadExtraHeader(off, length int) ([]byte, error) {
	return ws.origin.ReadExtraHeader(off, length)
}

// WriteExtraHeader buffers a write to the custom header region as the
// transaction's root write, applied strictly last on commit.
func (ws *WalStorage) WriteExtraHeader(off int, data []byte) error {
	ws.wal.mu.Lock()

	if ws.wal.active == nil {
		ws.wal.mu.Unlock()
		return ws.origin.WriteExtraHeader(off, data)
	}
	defer ws.wal.mu.Unlock()

	t := ws.wal.active
	t.touch(ws.fileID)
	t.headers[ws.fileID] = append(t.headers[ws.fileID], headerWrite{offset: off, data: append([]byte(nil), data...)})

	payload := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(payload, uint32(off))
	copy(payload[4:], data)
	rec := record{op: OpUpdate, txnID: t.id, fileID: ws.fileID, pageOffset: -1, payload: payload, originalSize: uint32(len(payload))}
	return ws.wal.appendRecord(rec)
}

func (ws *WalStorage) BlockPayloadSize() int { return ws.origin.BlockPayloadSize() }
func (ws *WalStorage) Sync() error           { return ws.origin.Sync() }
func (ws *WalStorage) Close() error          { return ws.origin.Close() }
