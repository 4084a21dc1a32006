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

import "github.com/flintdb/flint/pkg/rowcodec"

// indexReader implements sorted.Reader for one declared Index: given a
// row-id, it decodes the row (through the Table's cache) and projects the
// index's key columns, in key order. Each index gets its own reader
// because each index's key tuple is a different projection of the same
// underlying row.
type indexReader struct {
	t            *Table
	keyPositions []int // meta.Columns index for each entry of the Index's Keys list
}

func newIndexReader(t *Table, idx rowcodec.Index) *indexReader {
	positions := make([]int, len(idx.Keys))
	for i, k := range idx.Keys {
		positions[i] = t.meta.ColumnIndex(k)
	}
	return &indexReader{t: t, keyPositions: positions}
}

// KeyColumns decodes rowID's row and returns its key tuple for this index.
// It must not acquire t.latch: callers reach this from inside a Sorter
// operation that the Table already invoked while holding the latch.
func (r *indexReader) KeyColumns(rowID int64) ([]interface{}, error) {
	row, err := r.t.decodeRow(rowID)
	if err != nil {
		return nil, err
	}
	key := make([]interface{}, len(r.keyPositions))
	for i, pos := range r.keyPositions {
		key[i] = row[pos]
	}
	return key, nil
}
