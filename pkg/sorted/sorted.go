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

// Package sorted implements FlintDB's Index Sorter: an adapter that turns a
// B+Tree of row-ids into an ordered index under a row-level comparator
// derived from the schema.
package sorted

import (
	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/btree"
)

// Reader resolves a row-id to the key-column values of its row, consulting
// the owning Table's row cache. pkg/table supplies one per Sorter at Open
// time, closing over its row codec and cache.
type Reader interface {
	KeyColumns(rowID int64) ([]any, error)
}

// RowComparator orders two key-column tuples the way the schema's column
// types require. pkg/table opens every index with CompareValues
// (compare.go), which orders every column type a decoded row holds; the
// tests use it as well.
type RowComparator func(a, b []any) int

// Kind distinguishes a table's primary index (unique by key tuple) from a
// secondary index (duplicates permitted, disambiguated by row-id).
type Kind int

const (
	Primary Kind = iota
	Secondary
)

// Sorter presents a row-id ordered set under a schema-derived comparator.
// The B+Tree key is the row-id; ordering is never the row-id's own numeric
// value.
type Sorter struct {
	tree    *btree.Tree
	storage block.Storage
	reader  Reader
	compare RowComparator
	kind    Kind
}

// Open builds a Sorter over storage (one sibling B+Tree file per index,
// named `<table>.i.<index-name>` -- the caller is responsible for opening
// that file and handing it in already positioned).
func Open(storage block.Storage, reader Reader, compare RowComparator, kind Kind) (*Sorter, error) {
	tree, err := btree.Open(storage)
	if err != nil {
		return nil, err
	}
	return &Sorter{tree: tree, storage: storage, reader: reader, compare: compare, kind: kind}, nil
}

// lookupFailure wraps a Reader error so it can cross btree's Comparator
// boundary (Compare has no error return) via panic/recover at the Sorter
// call site, the same way a sort.Interface implementation that can fail
// mid-comparison has no choice but to panic and let the caller recover.
type lookupFailure struct{ err error }

func (s *Sorter) comparator(key []any, rowID int64, tieBreak bool) btree.Comparator {
	return &rowComparator{s: s, key: key, rowID: rowID, tieBreak: tieBreak}
}

type rowComparator struct {
	s        *Sorter
	key      []any
	rowID    int64
	tieBreak bool
}

func (c *rowComparator) Compare(candidate int64) int {
	ck, err := c.s.reader.KeyColumns(candidate)
	if err != nil {
		panic(lookupFailure{err})
	}
	cmp := c.s.compare(c.key, ck)
	if cmp != 0 || !c.tieBreak {
		return cmp
	}
	switch {
	case c.rowID < candidate:
		return -1
	case c.rowID > candidate:
		return 1
	default:
		return 0
	}
}

// recoverLookup converts a lookupFailure panic raised by a rowComparator
// mid-descent back into a normal error return.
func recoverLookup(errp *error) {
	if r := recover(); r != nil {
		if lf, ok := r.(lookupFailure); ok {
			*errp = lf.err
			return
		}
		panic(r)
	}
}

// Create inserts rowID (spec's `create(row_id)`). For a Primary sorter this
// is a no-op (and reports false) if a row with the same key tuple is
// already present; for a Secondary sorter the row-id tie-break makes every
// insert unique, so duplicates of the same key tuple are retained side by
// side.
func (s *Sorter) Create(rowID int64) (inserted bool, err error) {
	defer recoverLookup(&err)
	key, err := s.reader.KeyColumns(rowID)
	if err != nil {
		return false, err
	}
	cmp := s.comparator(key, rowID, s.kind == Secondary)
	return s.tree.InsertCmp(rowID, cmp)
}

// Delete removes rowID (spec's `delete(row_id)`).
func (s *Sorter) Delete(rowID int64) (deleted bool, err error) {
	defer recoverLookup(&err)
	key, err := s.reader.KeyColumns(rowID)
	if err != nil {
		return false, err
	}
	cmp := s.comparator(key, rowID, s.kind == Secondary)
	return s.tree.DeleteCmp(rowID, cmp)
}

// Find looks up the row-id whose key tuple equals key (spec's
// `find(row) → row_id | −1`), reporting (-1, false) if absent. When
// several row-ids share key (always a Secondary sorter), the smallest
// row-id is returned.
func (s *Sorter) Find(key []any) (rowID int64, found bool, err error) {
	defer recoverLookup(&err)
	cmp := s.comparator(key, 0, false)
	cur, err := s.tree.Find(btree.Ascending, cmp)
	if err != nil {
		return -1, false, err
	}
	defer cur.Close()
	v, ok := cur.Next()
	if !ok {
		return -1, false, nil
	}
	return v, true, nil
}

// Range returns a cursor over every row-id in the index from dir's end of
// the key ordering onward (spec's `find(direction, row_filter) → cursor`),
// without the bound a key-tuple equal-range search would apply.
func (s *Sorter) Range(dir btree.Direction) (*btree.ScanCursor, error) {
	return s.tree.Scan(dir)
}

// Seek returns a cursor over every row-id whose key tuple is >= key
// (ascending) or <= key (descending), used to serve a bounded WHERE clause
// over this index.
func (s *Sorter) Seek(dir btree.Direction, key []any) (cur *btree.ScanCursor, err error) {
	defer recoverLookup(&err)
	cmp := s.comparator(key, 0, false)
	return s.tree.Seek(dir, cmp)
}

// Count reports the number of row-ids in the index.
func (s *Sorter) Count() (int64, error) { return s.tree.Count() }

// Height reports the index's B+Tree height.
func (s *Sorter) Height() (int, error) { return s.tree.Height() }

// Bytes reports the on-disk size of the index's backing storage.
func (s *Sorter) Bytes() int64 {
	return s.storage.LiveCount() * int64(s.storage.BlockPayloadSize()+block.BlockHeaderBytes)
}

// Close releases the Sorter's backing storage.
func (s *Sorter) Close() error { return s.storage.Close() }

// Sync flushes the Sorter's backing storage to stable storage.
func (s *Sorter) Sync() error { return s.storage.Sync() }
