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
	"path/filepath"
	"testing"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/rowcodec"
)

// testSchema returns a two-column schema (id INT64 primary, name
// STRING(16)) with a secondary index on name.
func testSchema(wal bool) *rowcodec.Meta {
	return &rowcodec.Meta{
		Table: "widgets",
		Columns: []rowcodec.Column{
			{Name: "id", Type: rowcodec.INT64},
			{Name: "name", Type: rowcodec.STRING, Bytes: 16},
		},
		Indexes: []rowcodec.Index{
			{Name: "primary", Kind: rowcodec.PrimaryIndex, Keys: []string{"id"}},
			{Name: "by_name", Kind: rowcodec.SortIndex, Keys: []string{"name"}},
		},
		Storage: rowcodec.StorageOptions{BlockType: "MEMORY", CacheSize: 64},
		WAL: rowcodec.WALOptions{
			Enabled:              wal,
			CheckpointInterval:   1000,
			BatchSize:            4 << 20,
			CompressionThreshold: 4096,
			DirectWriteThreshold: 1 << 20,
		},
	}
}

func openTestTable(t *testing.T, meta *rowcodec.Meta) *Table {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets")
	if err := rowcodec.SaveMeta(rowcodec.DescriptorPath(path), meta); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	tbl, err := Open(path, ReadWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestApplyInsertThenReadBack(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	id1, err := tbl.Apply([]interface{}{int64(1), "a"}, false)
	if err != nil {
		t.Fatalf("Apply(1,a): %v", err)
	}
	id2, err := tbl.Apply([]interface{}{int64(2), "b"}, false)
	if err != nil {
		t.Fatalf("Apply(2,b): %v", err)
	}

	row, err := tbl.Read(id1)
	if err != nil {
		t.Fatalf("Read(%d): %v", id1, err)
	}
	if row[0].(int64) != 1 || row[1].(string) != "a" {
		t.Fatalf("Read(%d) = %v, want (1,a)", id1, row)
	}

	count, err := tbl.primary().Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("primary Count() = %d, want 2", count)
	}
	_ = id2
}

func TestApplyRejectsDuplicateKeyWithoutUpsert(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	firstID, err := tbl.Apply([]interface{}{int64(1), "a"}, false)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	_, err = tbl.Apply([]interface{}{int64(1), "b"}, false)
	if err == nil {
		t.Fatalf("second Apply(upsert=false) with duplicate key succeeded, want error")
	}
	if !ferrors.Is(err, ferrors.DuplicateKey) {
		t.Fatalf("second Apply(upsert=false) returned %v, want ferrors.DuplicateKey", err)
	}
	if row, readErr := tbl.Read(firstID); readErr != nil || row[1].(string) != "a" {
		t.Fatalf("duplicate-key rejection must not overwrite the existing row: row=%v err=%v", row, readErr)
	}
}

func TestApplyUpsertOverwritesAndUpdatesSecondaryIndex(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	id, err := tbl.Apply([]interface{}{int64(1), "a"}, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := tbl.Apply([]interface{}{int64(1), "z"}, true); err != nil {
		t.Fatalf("upsert Apply: %v", err)
	}

	row, err := tbl.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if row[1].(string) != "z" {
		t.Fatalf("Read(%d) after upsert = %v, want name=z", id, row)
	}

	rows, err := tbl.Find("name = 'z'")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 || rows[0].RowID != id {
		t.Fatalf("Find(name=z) = %v, want one row at %d", rows, id)
	}
	if rows, err := tbl.Find("name = 'a'"); err != nil || len(rows) != 0 {
		t.Fatalf("Find(name=a) after upsert = (%v, %v), want (empty, nil)", rows, err)
	}
}

func TestApplyAtRejectsPrimaryKeyDrift(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	id, err := tbl.Apply([]interface{}{int64(1), "a"}, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tbl.ApplyAt(id, []interface{}{int64(2), "a"}); err == nil {
		t.Fatalf("ApplyAt with changed primary key succeeded, want error")
	}
	if err := tbl.ApplyAt(id, []interface{}{int64(1), "changed"}); err != nil {
		t.Fatalf("ApplyAt with unchanged primary key: %v", err)
	}
	row, err := tbl.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if row[1].(string) != "changed" {
		t.Fatalf("Read after ApplyAt = %v, want name=changed", row)
	}
}

func TestDeleteRemovesFromEveryIndex(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	id, err := tbl.Apply([]interface{}{int64(1), "a"}, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	n, err := tbl.Delete(id)
	if err != nil || n != 1 {
		t.Fatalf("Delete(%d) = (%d, %v), want (1, nil)", id, n, err)
	}

	if n, err := tbl.Delete(id); err != nil || n != -1 {
		t.Fatalf("Delete(%d) again = (%d, %v), want (-1, nil)", id, n, err)
	}

	count, err := tbl.primary().Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("primary Count() after delete = %d, want 0", count)
	}
	secCount, err := tbl.indexes[1].sorter.Count()
	if err != nil {
		t.Fatalf("secondary Count: %v", err)
	}
	if secCount != 0 {
		t.Fatalf("secondary Count() after delete = %d, want 0", secCount)
	}
}

func TestTraverseVisitsInPrimaryOrder(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	for i, name := range []string{"c", "a", "b"} {
		if _, err := tbl.Apply([]interface{}{int64(i + 1), name}, false); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	var ids []int64
	err := tbl.Traverse(func(r Row) (bool, error) {
		ids = append(ids, r.Values[0].(int64))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("Traverse order = %v, want [1 2 3] (primary key order)", ids)
	}
}

func TestFindHonorsLimitAndOffset(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))
	for i := int64(1); i <= 5; i++ {
		if _, err := tbl.Apply([]interface{}{i, "x"}, false); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	q, err := ParseQuery(tbl, "")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	q.Limit(2).Offset(1)
	rows, err := tbl.FindQuery(q)
	if err != nil {
		t.Fatalf("FindQuery: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("FindQuery limit/offset returned %d rows, want 2", len(rows))
	}
	if rows[0].Values[0].(int64) != 2 || rows[1].Values[0].(int64) != 3 {
		t.Fatalf("FindQuery rows = %v, want ids [2 3]", rows)
	}
}

func TestFindLimitZeroYieldsNothing(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))
	for i := int64(1); i <= 5; i++ {
		if _, err := tbl.Apply([]interface{}{i, "x"}, false); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	q, err := ParseQuery(tbl, "")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	q.Limit(0)
	rows, err := tbl.FindQuery(q)
	if err != nil {
		t.Fatalf("FindQuery: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("FindQuery with Limit(0) returned %d rows, want 0", len(rows))
	}
}

func TestFindUseIndexHint(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))
	if _, err := tbl.Apply([]interface{}{int64(1), "a"}, false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	rows, err := tbl.Find("USE INDEX(by_name) name = 'a'")
	if err != nil {
		t.Fatalf("Find with USE INDEX: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Find(USE INDEX(by_name)) = %v, want one row", rows)
	}
}

func TestBulkLoadPopulatesEveryIndex(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	var rows [][]interface{}
	for i := int64(1); i <= 10; i++ {
		rows = append(rows, []interface{}{i, "row"})
	}
	tbl.meta.BulkInsertCommitInterval = 3

	n, err := tbl.BulkLoad(rows)
	if err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}
	if n != 10 {
		t.Fatalf("BulkLoad wrote %d rows, want 10", n)
	}

	count, err := tbl.primary().Count()
	if err != nil {
		t.Fatalf("primary Count: %v", err)
	}
	if count != 10 {
		t.Fatalf("primary Count() = %d, want 10", count)
	}
	secCount, err := tbl.indexes[1].sorter.Count()
	if err != nil {
		t.Fatalf("secondary Count: %v", err)
	}
	if secCount != 10 {
		t.Fatalf("secondary Count() = %d, want 10", secCount)
	}
}

func TestVerifyReportsIndexDriftAndReindexRepairsIt(t *testing.T) {
	tbl := openTestTable(t, testSchema(false))

	id, err := tbl.Apply([]interface{}{int64(1), "a"}, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Directly sabotage the secondary index, bypassing Table, to simulate
	// drift Verify should catch.
	if _, err := tbl.indexes[1].sorter.Delete(id); err != nil {
		t.Fatalf("sabotage delete: %v", err)
	}

	mismatches, err := tbl.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(mismatches) == 0 {
		t.Fatalf("Verify found no mismatches after sabotaging the secondary index")
	}

	if err := tbl.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	mismatches, err = tbl.Verify()
	if err != nil {
		t.Fatalf("Verify after Reindex: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("Verify after Reindex = %v, want no mismatches", mismatches)
	}
}

func TestReadOnlyTableRejectsMutation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets")
	meta := testSchema(false)
	if err := rowcodec.SaveMeta(rowcodec.DescriptorPath(path), meta); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	tbl, err := Open(path, ReadOnly)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close()

	if _, err := tbl.Apply([]interface{}{int64(1), "a"}, false); err == nil {
		t.Fatalf("Apply on a ReadOnly table succeeded, want error")
	}
}

func TestOpenRunsWALRecoveryAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets")
	meta := testSchema(true)
	// A clean Close() checkpoints (and in TRUNCATE mode, truncates) the
	// WAL log, so surviving a reopen here exercises the row heap and
	// indexes actually being persisted to disk, not WAL replay -- hence a
	// real on-disk block type rather than MEMORY.
	meta.Storage.BlockType = "MMAP"
	if err := rowcodec.SaveMeta(rowcodec.DescriptorPath(path), meta); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}

	tbl, err := Open(path, ReadWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := tbl.Apply([]interface{}{int64(1), "a"}, false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tbl2, err := Open(path, ReadWrite)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tbl2.Close()
	rowID, found, err := tbl2.primary().Find([]interface{}{int64(1)})
	if err != nil || !found {
		t.Fatalf("Find after reopen = (%d, %v, %v), want found", rowID, found, err)
	}
}
