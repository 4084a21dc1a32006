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
	"fmt"

	"github.com/flintdb/flint/pkg/btree"
)

// Mismatch describes one inconsistency Verify found between an index and
// the row heap: a row-id must be present in every sorter iff its heap
// block is live.
type Mismatch struct {
	Index string
	RowID int64
	Note  string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: row %d: %s", m.Index, m.RowID, m.Note)
}

// Verify cross-checks every declared index's row-id set against the
// primary index's row-id set, and confirms every row-id the primary index
// names still decodes to a row of the schema's column count.
//
// block.Storage has no independent walk of raw blocks, so the primary
// Sorter's row-id set stands in as the authoritative set (it is filled and
// drained in lock-step with the heap by every mutating operation), and
// each non-primary index is checked for set-equality against it rather
// than against the heap directly.
func (t *Table) Verify() ([]Mismatch, error) {
	t.latch.Lock()
	defer t.latch.Unlock()

	primaryIDs, err := collectRowIDs(t.primary())
	if err != nil {
		return nil, err
	}
	primarySet := make(map[int64]bool, len(primaryIDs))
	for _, id := range primaryIDs {
		primarySet[id] = true
	}

	var mismatches []Mismatch

	for _, id := range primaryIDs {
		row, err := t.decodeRow(id)
		if err != nil {
			mismatches = append(mismatches, Mismatch{Index: t.indexes[0].desc.Name, RowID: id, Note: "cannot decode: " + err.Error()})
			continue
		}
		if len(row) != len(t.meta.Columns) {
			mismatches = append(mismatches, Mismatch{Index: t.indexes[0].desc.Name, RowID: id, Note: "decoded column count mismatch"})
		}
	}

	for _, ib := range t.indexes[1:] {
		ids, err := collectRowIDs(ib.sorter)
		if err != nil {
			return nil, err
		}
		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
			if !primarySet[id] {
				mismatches = append(mismatches, Mismatch{Index: ib.desc.Name, RowID: id, Note: "present in index but not in primary index"})
			}
		}
		for id := range primarySet {
			if !seen[id] {
				mismatches = append(mismatches, Mismatch{Index: ib.desc.Name, RowID: id, Note: "missing from index"})
			}
		}
	}

	return mismatches, nil
}

// Reindex rebuilds every non-primary index from scratch against the
// primary index's row-id set, discarding whatever entries it held before.
// Used to repair the mismatches Verify reports.
func (t *Table) Reindex() error {
	if err := t.writable(); err != nil {
		return err
	}

	t.latch.Lock()
	defer t.latch.Unlock()

	primaryIDs, err := collectRowIDs(t.primary())
	if err != nil {
		return err
	}

	for _, ib := range t.indexes[1:] {
		existing, err := collectRowIDs(ib.sorter)
		if err != nil {
			return err
		}
		for _, id := range existing {
			if _, err := ib.sorter.Delete(id); err != nil {
				return err
			}
		}
		for _, id := range primaryIDs {
			if _, err := ib.sorter.Create(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func collectRowIDs(s interface {
	Range(btree.Direction) (*btree.ScanCursor, error)
}) ([]int64, error) {
	cur, err := s.Range(btree.Ascending)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var ids []int64
	for cur.Next() {
		ids = append(ids, cur.Key())
	}
	return ids, cur.Close()
}
