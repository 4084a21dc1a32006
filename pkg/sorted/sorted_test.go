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

package sorted

import (
	"testing"

	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/btree"
)

// fakeRows is a minimal Reader backed by a plain map, standing in for the
// Table's row cache.
type fakeRows struct {
	rows map[int64][]any
}

func (f *fakeRows) KeyColumns(rowID int64) ([]any, error) {
	return f.rows[rowID], nil
}

func newTestSorter(t *testing.T, kind Kind) (*Sorter, *fakeRows) {
	t.Helper()
	storage, err := block.NewMemory(64)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	rows := &fakeRows{rows: make(map[int64][]any)}
	sorter, err := Open(storage, rows, CompareValues, kind)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sorter, rows
}

func TestPrimaryCreateRejectsDuplicateKey(t *testing.T) {
	sorter, rows := newTestSorter(t, Primary)
	rows.rows[4096] = []any{int64(7)}
	rows.rows[8192] = []any{int64(7)} // same key tuple, different row-id

	inserted, err := sorter.Create(4096)
	if err != nil || !inserted {
		t.Fatalf("Create(4096) = (%v, %v), want (true, nil)", inserted, err)
	}

	// find(row) detects the existing key tuple before a second physical
	// insert, exactly as the Table uses it to decide exists -> upsert.
	existing, found, err := sorter.Find([]any{int64(7)})
	if err != nil || !found || existing != 4096 {
		t.Fatalf("Find({7}) = (%d, %v, %v), want (4096, true, nil)", existing, found, err)
	}

	inserted, err = sorter.Create(8192)
	if err != nil || inserted {
		t.Fatalf("Create(8192) with duplicate key = (%v, %v), want (false, nil)", inserted, err)
	}
}

func TestSecondaryAllowsDuplicateKeyTuples(t *testing.T) {
	sorter, rows := newTestSorter(t, Secondary)
	rows.rows[4096] = []any{int64(42)}
	rows.rows[8192] = []any{int64(42)}
	rows.rows[12288] = []any{int64(42)}

	for _, id := range []int64{4096, 8192, 12288} {
		inserted, err := sorter.Create(id)
		if err != nil || !inserted {
			t.Fatalf("Create(%d) = (%v, %v), want (true, nil)", id, inserted, err)
		}
	}

	count, err := sorter.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("Count = %d, want 3 (duplicates retained)", count)
	}

	deleted, err := sorter.Delete(8192)
	if err != nil || !deleted {
		t.Fatalf("Delete(8192) = (%v, %v), want (true, nil)", deleted, err)
	}
	count, err = sorter.Count()
	if err != nil {
		t.Fatalf("Count after delete: %v", err)
	}
	if count != 2 {
		t.Fatalf("Count after delete = %d, want 2", count)
	}
}

func TestRangeOrdersByKeyNotRowID(t *testing.T) {
	sorter, rows := newTestSorter(t, Primary)
	// Insert row-ids out of key order -- the index must still yield them
	// sorted by key tuple, not by row-id (the whole point of a
	// schema-derived comparator).
	rows.rows[4096] = []any{int64(30)}
	rows.rows[8192] = []any{int64(10)}
	rows.rows[12288] = []any{int64(20)}

	for id := range rows.rows {
		if _, err := sorter.Create(id); err != nil {
			t.Fatalf("Create(%d): %v", id, err)
		}
	}

	cur, err := sorter.Range(btree.Ascending)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	defer cur.Close()

	want := []int64{8192, 12288, 4096} // keys 10, 20, 30
	var got []int64
	for cur.Next() {
		got = append(got, cur.Key())
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Range yielded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Range[%d] = %d, want %d (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestSeekBoundsByKey(t *testing.T) {
	sorter, rows := newTestSorter(t, Primary)
	rows.rows[4096] = []any{int64(10)}
	rows.rows[8192] = []any{int64(20)}
	rows.rows[12288] = []any{int64(30)}
	for id := range rows.rows {
		if _, err := sorter.Create(id); err != nil {
			t.Fatalf("Create(%d): %v", id, err)
		}
	}

	cur, err := sorter.Seek(btree.Ascending, []any{int64(20)})
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	defer cur.Close()
	var got []int64
	for cur.Next() {
		got = append(got, cur.Key())
	}
	if len(got) != 2 || got[0] != 8192 || got[1] != 12288 {
		t.Fatalf("Seek(>=20) = %v, want [8192 12288]", got)
	}
}
