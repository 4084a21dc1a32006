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
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/rowcodec"
	"github.com/flintdb/flint/pkg/sorted"
)

// beginTxn starts a WAL transaction if the table was opened with a WAL,
// returning a no-op id (0) otherwise (e.g. WAL disabled in the schema).
func (t *Table) beginTxn() (uint64, error) {
	if t.w == nil {
		return 0, nil
	}
	return t.w.Begin()
}

func (t *Table) commitTxn(id uint64) error {
	if t.w == nil {
		return nil
	}
	return t.w.Commit(id)
}

func (t *Table) rollbackTxn(id uint64) {
	if t.w == nil {
		return
	}
	t.w.Rollback(id)
}

// Apply inserts row, or -- when upsert is true and a row with the same
// primary key tuple already exists -- overwrites it in place. When upsert is
// false and a row with the same primary key tuple already exists, it returns
// a ferrors.DuplicateKey error instead of overwriting. It returns the row-id
// the row was written at.
func (t *Table) Apply(row []interface{}, upsert bool) (rowID int64, err error) {
	if err := t.writable(); err != nil {
		return -1, err
	}
	image, err := rowcodec.Encode(t.meta, row)
	if err != nil {
		return -1, err
	}

	t.latch.Lock()
	defer t.latch.Unlock()

	txn, err := t.beginTxn()
	if err != nil {
		return -1, err
	}
	rowID, err = t.applyLocked(txn, image, upsert)
	if err != nil {
		t.rollbackTxn(txn)
		return -1, err
	}
	if err := t.commitTxn(txn); err != nil {
		return -1, err
	}
	return rowID, nil
}

func (t *Table) applyLocked(txn uint64, image []byte, upsert bool) (int64, error) {
	primaryKey, err := t.primaryKeyOf(image)
	if err != nil {
		return -1, err
	}

	existing, found, err := t.primary().Find(primaryKey)
	if err != nil {
		return -1, err
	}

	if !found {
		rowID, err := t.heap.Write(image)
		if err != nil {
			return -1, ferrors.Wrap(ferrors.StorageWriteError, err, "writing new row")
		}
		for _, ib := range t.indexes {
			if _, err := ib.sorter.Create(rowID); err != nil {
				return -1, err
			}
		}
		t.cache.Add(rowID, image)
		return rowID, nil
	}

	// A row with this primary key already exists.
	if !upsert {
		return -1, ferrors.New(ferrors.DuplicateKey, "apply: row with this primary key already exists at row %d", existing)
	}
	return existing, t.overwriteLocked(existing, image)
}

// overwriteLocked rewrites the row image at rowID, rebuilding every
// non-primary Sorter entry (the primary entry is untouched -- its key
// tuple, by construction of applyLocked, is unchanged).
func (t *Table) overwriteLocked(rowID int64, image []byte) error {
	for _, s := range t.secondaries() {
		if _, err := s.Delete(rowID); err != nil {
			return err
		}
	}
	if err := t.heap.WriteAt(rowID, image); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "overwriting row %d", rowID)
	}
	t.cache.Add(rowID, image)
	for _, s := range t.secondaries() {
		if _, err := s.Create(rowID); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAt rewrites the row at rowID in place. The primary key columns of row
// must match the stored row's primary key columns; changing them is
// rejected rather than silently diverging the primary index from the heap.
func (t *Table) ApplyAt(rowID int64, row []interface{}) error {
	if err := t.writable(); err != nil {
		return err
	}
	image, err := rowcodec.Encode(t.meta, row)
	if err != nil {
		return err
	}

	t.latch.Lock()
	defer t.latch.Unlock()

	txn, err := t.beginTxn()
	if err != nil {
		return err
	}
	if err := t.applyAtLocked(rowID, image); err != nil {
		t.rollbackTxn(txn)
		return err
	}
	return t.commitTxn(txn)
}

func (t *Table) applyAtLocked(rowID int64, image []byte) error {
	oldBuf, err := t.readRowImage(rowID)
	if err != nil {
		return err
	}
	newKey, err := t.primaryKeyOf(image)
	if err != nil {
		return err
	}
	oldKey, err := t.primaryKeyOf(oldBuf)
	if err != nil {
		return err
	}
	if sorted.CompareValues(oldKey, newKey) != 0 {
		return ferrors.New(ferrors.InvalidOperation, "apply(row_id, row): primary key must not change for row %d", rowID)
	}
	return t.overwriteLocked(rowID, image)
}

// primaryKeyOf decodes image and projects the schema's primary key
// columns, without going through the cache (the image may not be the
// cached one yet, e.g. during an in-flight overwrite).
func (t *Table) primaryKeyOf(image []byte) ([]interface{}, error) {
	row, err := rowcodec.Decode(t.meta, image)
	if err != nil {
		return nil, err
	}
	pk := t.meta.PrimaryIndexDescriptor()
	key := make([]interface{}, len(pk.Keys))
	for i, k := range pk.Keys {
		key[i] = row[t.meta.ColumnIndex(k)]
	}
	return key, nil
}
