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

package btree

import (
	"testing"

	"github.com/flintdb/flint/pkg/block"
)

// newTestTree returns a Tree over an in-memory Storage small enough that a
// handful of inserts forces splits -- block payload 64 gives LEAF_MAX=6,
// INTERNAL_MAX=3.
func newTestTree(t *testing.T) *Tree {
	t.Helper()
	storage, err := block.NewMemory(64)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	tree, err := Open(storage)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tree
}

func TestInsertGetRoundTrip(t *testing.T) {
	tree := newTestTree(t)
	for _, k := range []int64{4096, 8192, 12288, 16384} {
		inserted, err := tree.Insert(k)
		if err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
		if !inserted {
			t.Fatalf("Insert(%d) = false, want true", k)
		}
	}
	for _, k := range []int64{4096, 8192, 12288, 16384} {
		found, err := tree.Get(k)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if !found {
			t.Fatalf("Get(%d) = false, want true", k)
		}
	}
	found, err := tree.Get(99999)
	if err != nil {
		t.Fatalf("Get(missing): %v", err)
	}
	if found {
		t.Fatalf("Get(99999) = true, want false")
	}
}

func TestInsertDuplicateIsNoop(t *testing.T) {
	tree := newTestTree(t)
	if _, err := tree.Insert(4096); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	inserted, err := tree.Insert(4096)
	if err != nil {
		t.Fatalf("Insert dup: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate Insert reported true, want false (no-op)")
	}
	n, err := tree.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count after duplicate insert = %d, want 1", n)
	}
}

// TestSplitChain inserts a long run of ascending keys into a small-fanout
// tree, then confirms the count and height, that every key is still found,
// and that an ascending Find of the first key yields exactly that key.
func TestSplitChain(t *testing.T) {
	tree := newTestTree(t)
	const n = 400
	for i := 1; i <= n; i++ {
		key := int64(i) * 4096
		inserted, err := tree.Insert(key)
		if err != nil {
			t.Fatalf("Insert(%d): %v", key, err)
		}
		if !inserted {
			t.Fatalf("Insert(%d) reported duplicate", key)
		}
	}

	count, err := tree.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Fatalf("Count = %d, want %d", count, n)
	}

	height, err := tree.Height()
	if err != nil {
		t.Fatalf("Height: %v", err)
	}
	if height < 3 {
		t.Fatalf("Height = %d, want >= 3 for %d keys at this fanout", height, n)
	}

	for i := 1; i <= n; i++ {
		key := int64(i) * 4096
		found, err := tree.Get(key)
		if err != nil {
			t.Fatalf("Get(%d): %v", key, err)
		}
		if !found {
			t.Fatalf("Get(%d) = false after bulk insert", key)
		}
	}

	asc, err := tree.Find(Ascending, KeyComparator(4096))
	if err != nil {
		t.Fatalf("Find ascending: %v", err)
	}
	v, ok := asc.Next()
	if !ok || v != 4096 {
		t.Fatalf("ascending Find(4096) = (%d, %v), want (4096, true)", v, ok)
	}
	if _, ok := asc.Next(); ok {
		t.Fatalf("ascending Find(4096) yielded a second value, want exactly one match")
	}
}

func TestDeleteThenMissing(t *testing.T) {
	tree := newTestTree(t)
	keys := []int64{4096, 8192, 12288, 16384, 20480, 24576, 28672}
	for _, k := range keys {
		if _, err := tree.Insert(k); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	deleted, err := tree.Delete(12288)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatalf("Delete(12288) = false, want true")
	}

	found, err := tree.Get(12288)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if found {
		t.Fatalf("Get(12288) after delete = true, want false")
	}

	deleted, err = tree.Delete(12288)
	if err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if deleted {
		t.Fatalf("Delete(12288) second time = true, want false")
	}

	remaining := []int64{4096, 8192, 16384, 20480, 24576, 28672}
	for _, k := range remaining {
		found, err := tree.Get(k)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if !found {
			t.Fatalf("Get(%d) = false, want true (untouched by delete)", k)
		}
	}
	n, err := tree.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != int64(len(remaining)) {
		t.Fatalf("Count = %d, want %d", n, len(remaining))
	}
}

// TestDeleteAllEmptiesTree drives enough deletes through split/merge/borrow
// paths that the tree collapses all the way back to an empty root slot.
func TestDeleteAllEmptiesTree(t *testing.T) {
	tree := newTestTree(t)
	const n = 200
	var keys []int64
	for i := 1; i <= n; i++ {
		key := int64(i) * 4096
		keys = append(keys, key)
		if _, err := tree.Insert(key); err != nil {
			t.Fatalf("Insert(%d): %v", key, err)
		}
	}

	for _, k := range keys {
		deleted, err := tree.Delete(k)
		if err != nil {
			t.Fatalf("Delete(%d): %v", k, err)
		}
		if !deleted {
			t.Fatalf("Delete(%d) = false, want true", k)
		}
	}

	n2, err := tree.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("Count after deleting everything = %d, want 0", n2)
	}
	height, err := tree.Height()
	if err != nil {
		t.Fatalf("Height: %v", err)
	}
	if height != 0 {
		t.Fatalf("Height of empty tree = %d, want 0", height)
	}

	// The tree must still accept inserts after being emptied.
	inserted, err := tree.Insert(4096)
	if err != nil {
		t.Fatalf("Insert after empty: %v", err)
	}
	if !inserted {
		t.Fatalf("Insert after empty reported duplicate")
	}
}

func TestFindDescendingAndMiss(t *testing.T) {
	tree := newTestTree(t)
	// Distinct keys with an exact-key Comparator: a descending Find yields
	// the one matching key, and a Find for an absent key yields nothing.
	for _, k := range []int64{4096, 8192, 12288} {
		if _, err := tree.Insert(k); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	desc, err := tree.Find(Descending, KeyComparator(8192))
	if err != nil {
		t.Fatalf("Find descending: %v", err)
	}
	v, ok := desc.Next()
	if !ok || v != 8192 {
		t.Fatalf("descending Find(8192) = (%d, %v), want (8192, true)", v, ok)
	}
	if _, ok := desc.Next(); ok {
		t.Fatalf("descending Find(8192) yielded a second value")
	}

	miss, err := tree.Find(Ascending, KeyComparator(999))
	if err != nil {
		t.Fatalf("Find miss: %v", err)
	}
	if _, ok := miss.Next(); ok {
		t.Fatalf("Find(999) on absent key yielded a value")
	}
}

// rankComparator orders a tree's stored int64 values (opaque ids here, not
// meant to be compared numerically) by a caller-supplied rank table,
// mirroring how pkg/sorted orders row-ids by a schema-derived key instead
// of by the row-id's own numeric value.
type rankComparator struct {
	rank       map[int64]int
	targetRank int
}

func (c rankComparator) Compare(candidate int64) int {
	cr := c.rank[candidate]
	switch {
	case c.targetRank < cr:
		return -1
	case c.targetRank > cr:
		return 1
	default:
		return 0
	}
}

func TestInsertCmpOrdersByComparatorNotValue(t *testing.T) {
	tree := newTestTree(t)
	// ids are deliberately descending while their intended rank is
	// ascending, so a bug that fell back to numeric id ordering would
	// produce the wrong Scan order.
	ids := []int64{40960, 32768, 24576, 16384, 8192}
	rank := map[int64]int{40960: 0, 32768: 1, 24576: 2, 16384: 3, 8192: 4}

	for _, id := range ids {
		inserted, err := tree.InsertCmp(id, rankComparator{rank: rank, targetRank: rank[id]})
		if err != nil {
			t.Fatalf("InsertCmp(%d): %v", id, err)
		}
		if !inserted {
			t.Fatalf("InsertCmp(%d) reported duplicate", id)
		}
	}

	cur, err := tree.Scan(Ascending)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []int64{40960, 32768, 24576, 16384, 8192}
	var got []int64
	for cur.Next() {
		got = append(got, cur.Key())
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Scan ascending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Scan[%d] = %d, want %d (order must follow rank, not id value): %v", i, got[i], want[i], got)
		}
	}

	deleted, err := tree.DeleteCmp(24576, rankComparator{rank: rank, targetRank: rank[24576]})
	if err != nil {
		t.Fatalf("DeleteCmp: %v", err)
	}
	if !deleted {
		t.Fatalf("DeleteCmp(24576) = false, want true")
	}
	found, err := tree.GetCmp(rankComparator{rank: rank, targetRank: rank[24576]})
	if err != nil {
		t.Fatalf("GetCmp: %v", err)
	}
	if found {
		t.Fatalf("GetCmp after DeleteCmp = true, want false")
	}
}

func TestScanDescendingAndSeek(t *testing.T) {
	tree := newTestTree(t)
	for i := 1; i <= 50; i++ {
		if _, err := tree.Insert(int64(i) * 4096); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	desc, err := tree.Scan(Descending)
	if err != nil {
		t.Fatalf("Scan descending: %v", err)
	}
	v, ok := desc.Next()
	if !ok || v != 50*4096 {
		t.Fatalf("first descending Scan value = (%d, %v), want (%d, true)", v, ok, 50*4096)
	}
	if err := desc.Close(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}

	seek, err := tree.Seek(Ascending, KeyComparator(25*4096))
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	var count int
	for seek.Next() {
		count++
	}
	if err := seek.Close(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	if count != 26 { // 25*4096 .. 50*4096 inclusive
		t.Fatalf("Seek(>=25*4096) yielded %d values, want 26", count)
	}
}
