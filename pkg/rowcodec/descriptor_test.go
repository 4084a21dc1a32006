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

package rowcodec

import (
	"path/filepath"
	"testing"
)

func TestDescriptorPathSwapsExtension(t *testing.T) {
	got := DescriptorPath("/data/orders.tbl")
	want := "/data/orders.desc"
	if got != want {
		t.Fatalf("DescriptorPath = %q, want %q", got, want)
	}
}

func TestSaveLoadMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.desc")

	meta := testMeta()
	meta.Storage = StorageOptions{BlockType: "MMAP", Increment: 4096, CacheSize: 1024}
	meta.WAL = WALOptions{Mode: "TRUNCATE", Enabled: true, CheckpointInterval: 500, PageData: true}
	meta.BulkInsertCommitInterval = 1000

	if err := SaveMeta(path, meta); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}

	loaded, err := LoadMeta(path)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if loaded.Table != meta.Table {
		t.Fatalf("Table = %q, want %q", loaded.Table, meta.Table)
	}
	if len(loaded.Columns) != len(meta.Columns) {
		t.Fatalf("Columns = %d, want %d", len(loaded.Columns), len(meta.Columns))
	}
	for i, c := range meta.Columns {
		if loaded.Columns[i].Type != c.Type {
			t.Fatalf("Columns[%d].Type = %v, want %v", i, loaded.Columns[i].Type, c.Type)
		}
	}
	if loaded.Indexes[0].Kind != PrimaryIndex {
		t.Fatalf("Indexes[0].Kind = %v, want PrimaryIndex", loaded.Indexes[0].Kind)
	}
	if loaded.Storage.BlockType != "MMAP" {
		t.Fatalf("Storage.BlockType = %q, want MMAP", loaded.Storage.BlockType)
	}
	if loaded.WAL.Mode != "TRUNCATE" || !loaded.WAL.Enabled {
		t.Fatalf("WAL = %+v, unexpected", loaded.WAL)
	}
	if loaded.BulkInsertCommitInterval != 1000 {
		t.Fatalf("BulkInsertCommitInterval = %d, want 1000", loaded.BulkInsertCommitInterval)
	}

	// No leftover temp files: SaveMeta must not litter the directory.
	entries, err := filepathGlobDesc(dir)
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory entries after SaveMeta = %v, want exactly the one .desc file", entries)
	}
}

func filepathGlobDesc(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"))
}

func TestLoadMetaMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadMeta(filepath.Join(dir, "missing.desc"))
	if err == nil {
		t.Fatalf("LoadMeta on missing file returned nil error")
	}
}

func TestSaveMetaRejectsInvalidSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.desc")
	meta := &Meta{Table: "bad"} // no columns, no indexes
	if err := SaveMeta(path, meta); err == nil {
		t.Fatalf("SaveMeta with invalid schema returned nil error")
	}
}
