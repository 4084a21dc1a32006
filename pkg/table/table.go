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

// Package table implements FlintDB's Table Engine: the single public
// surface for row operations, binding a Block Storage row heap, one Sorter
// per declared Index, the row codec, the row cache, and the WAL.
//
// Control flow for a mutating call is always the same: acquire the writer
// latch (pkg/synclatch.Latch), begin a WAL transaction, mutate the row heap
// and every Sorter, commit, release the latch.
package table

import (
	"path/filepath"
	"strings"

	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/lru"
	"github.com/flintdb/flint/pkg/rowcodec"
	"github.com/flintdb/flint/pkg/sorted"
	"github.com/flintdb/flint/pkg/synclatch"
	"github.com/flintdb/flint/pkg/wal"
)

// Mode selects whether Open allows mutating calls.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

const defaultCacheSize = 1024

// indexBinding pairs a declared Index with the Sorter built for it.
type indexBinding struct {
	desc   rowcodec.Index
	sorter *sorted.Sorter
}

// Table is FlintDB's single public surface for row operations.
type Table struct {
	path string
	mode Mode
	meta *rowcodec.Meta

	latch synclatch.Latch

	heap block.Storage
	w    *wal.WAL

	cache *lru.Cache

	indexes []indexBinding // [0] is always the primary index
}

func stem(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext)
}

func indexPath(tablePath, indexName string) string {
	return stem(tablePath) + ".i." + indexName
}

func walPath(tablePath string) string {
	return stem(tablePath) + ".wal"
}

// Open reads the schema descriptor, opens the row heap, opens the WAL (if
// writable and enabled), opens one Sorter per declared Index, runs WAL
// recovery, and returns the ready Table.
func Open(path string, mode Mode) (t *Table, err error) {
	meta, err := rowcodec.LoadMeta(rowcodec.DescriptorPath(path))
	if err != nil {
		return nil, err
	}

	t = &Table{
		path: path,
		mode: mode,
		meta: meta,
	}
	cacheSize := meta.Storage.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	t.cache = lru.New(cacheSize, nil)

	defer func() {
		if err != nil {
			t.closeBestEffort()
		}
	}()

	heapOrigin, err := openHeapStorage(path, meta.Storage)
	if err != nil {
		return nil, err
	}
	t.heap = heapOrigin

	useWAL := mode == ReadWrite && meta.WAL.Enabled
	if useWAL {
		opts := wal.Options{
			Mode:                 walModeOf(meta.WAL.Mode),
			Enabled:              meta.WAL.Enabled,
			CheckpointInterval:   meta.WAL.CheckpointInterval,
			BatchSize:            meta.WAL.BatchSize,
			CompressionThreshold: meta.WAL.CompressionThreshold,
			PageData:             meta.WAL.PageData,
			DirectWriteThreshold: meta.WAL.DirectWriteThreshold,
		}
		w, err := wal.Open(walPath(path), opts)
		if err != nil {
			return nil, err
		}
		t.w = w
		t.heap = w.Wrap(heapOrigin, 0, -1, func(rowID int64) { t.cache.Remove(rowID) })
	}

	for i, idxDesc := range meta.Indexes {
		origin, err := openTreeStorage(indexPath(path, idxDesc.Name), meta.Storage)
		if err != nil {
			return nil, err
		}
		storage := block.Storage(origin)
		if useWAL {
			fileID := uint32(i + 1)
			storage = t.w.Wrap(origin, fileID, -1, nil)
		}
		kind := sorted.Secondary
		if idxDesc.Kind == rowcodec.PrimaryIndex {
			kind = sorted.Primary
		}
		reader := newIndexReader(t, idxDesc)
		sorter, err := sorted.Open(storage, reader, sorted.CompareValues, kind)
		if err != nil {
			return nil, err
		}
		t.indexes = append(t.indexes, indexBinding{desc: idxDesc, sorter: sorter})
	}

	if useWAL {
		if err := t.w.Recover(); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func walModeOf(s string) wal.Mode {
	if strings.EqualFold(strings.TrimSpace(s), "LOG") {
		return wal.ModeLog
	}
	return wal.ModeTruncate
}

// primary returns the Sorter bound to the schema's primary index.
func (t *Table) primary() *sorted.Sorter { return t.indexes[0].sorter }

// secondaries returns every non-primary Sorter.
func (t *Table) secondaries() []*sorted.Sorter {
	out := make([]*sorted.Sorter, 0, len(t.indexes)-1)
	for _, ib := range t.indexes[1:] {
		out = append(out, ib.sorter)
	}
	return out
}

// decodeRow reads rowID's row image (cache-first) and decodes it. It never
// touches t.latch, so index readers may call it from inside an
// already-latched Sorter operation.
func (t *Table) decodeRow(rowID int64) ([]interface{}, error) {
	buf, err := t.readRowImage(rowID)
	if err != nil {
		return nil, err
	}
	return rowcodec.Decode(t.meta, buf)
}

func (t *Table) readRowImage(rowID int64) ([]byte, error) {
	if buf, ok := t.cache.Get(rowID); ok {
		return buf, nil
	}
	buf, err := t.heap.Read(rowID)
	if err != nil {
		return nil, err
	}
	t.cache.Add(rowID, buf)
	return buf, nil
}

// Close flushes every Sorter, the row cache, the WAL (performing a
// checkpoint in TRUNCATE mode), then the row heap.
func (t *Table) Close() error {
	var first error
	note := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, ib := range t.indexes {
		note(ib.sorter.Sync())
		note(ib.sorter.Close())
	}
	t.cache.Purge()
	if t.w != nil {
		note(t.w.Checkpoint())
		note(t.w.Close())
	}
	note(t.heap.Sync())
	note(t.heap.Close())
	return first
}

// closeBestEffort releases whatever partially-opened resources exist after
// a failed Open, ignoring further errors -- the original error already
// describes what went wrong.
func (t *Table) closeBestEffort() {
	for _, ib := range t.indexes {
		ib.sorter.Close()
	}
	if t.w != nil {
		t.w.Close()
	}
	if t.heap != nil {
		t.heap.Close()
	}
}

// Meta returns the table's schema descriptor.
func (t *Table) Meta() *rowcodec.Meta { return t.meta }

// writable returns an InvalidOperation error if the table was opened
// ReadOnly; every mutating entry point checks this before touching the
// latch.
func (t *Table) writable() error {
	if t.mode != ReadWrite {
		return ferrors.New(ferrors.InvalidOperation, "table %q is read-only", t.meta.Table)
	}
	return nil
}
