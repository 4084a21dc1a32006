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
	"github.com/flintdb/flint/pkg/btree"
	"github.com/flintdb/flint/pkg/ferrors"
)

// Row is a decoded row paired with the row-id it lives at.
type Row struct {
	RowID  int64
	Values []interface{}
}

// Read decodes the row at rowID.
func (t *Table) Read(rowID int64) ([]interface{}, error) {
	t.latch.Lock()
	defer t.latch.Unlock()
	return t.decodeRow(rowID)
}

// Visitor is called once per row during a Traverse, in primary-index
// order. Returning false stops the traversal early.
type Visitor func(Row) (more bool, err error)

// Traverse walks every row in primary-key order, decoding each one and
// calling visit.
func (t *Table) Traverse(visit Visitor) error {
	t.latch.Lock()
	defer t.latch.Unlock()

	cur, err := t.primary().Range(btree.Ascending)
	if err != nil {
		return err
	}
	defer cur.Close()

	for cur.Next() {
		rowID := cur.Key()
		row, err := t.decodeRow(rowID)
		if err != nil {
			return err
		}
		more, err := visit(Row{RowID: rowID, Values: row})
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return cur.Close()
}

// indexByName resolves a declared Index by name, defaulting to the
// primary index when name is empty.
func (t *Table) indexByName(name string) (*indexBinding, error) {
	if name == "" {
		return &t.indexes[0], nil
	}
	for i := range t.indexes {
		if t.indexes[i].desc.Name == name {
			return &t.indexes[i], nil
		}
	}
	return nil, ferrors.New(ferrors.IndexNotFound, "no such index %q", name)
}
