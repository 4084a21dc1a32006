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
	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/rowcodec"
	"github.com/flintdb/flint/pkg/sorted"
	"github.com/flintdb/flint/pkg/sorted/stage"
)

const defaultBulkStageBlockSize = 4096

// BulkLoad inserts rows in order, buffering each index's writes through a
// pkg/sorted/stage.Stage and committing a WAL transaction every
// meta.BulkInsertCommitInterval rows instead of once per row. It returns the
// number of rows written before the first error, if any.
func (t *Table) BulkLoad(rows [][]interface{}) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}

	interval := t.meta.BulkInsertCommitInterval
	if interval <= 0 {
		interval = 1
	}

	t.latch.Lock()
	defer t.latch.Unlock()

	stages, err := t.openBulkStages()
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, st := range stages {
			st.Close()
		}
	}()

	txn, err := t.beginTxn()
	if err != nil {
		return 0, err
	}

	written := 0
	sinceCommit := 0
	for _, row := range rows {
		image, err := rowcodec.Encode(t.meta, row)
		if err != nil {
			t.rollbackTxn(txn)
			return written, err
		}
		rowID, err := t.heap.Write(image)
		if err != nil {
			t.rollbackTxn(txn)
			return written, ferrors.Wrap(ferrors.StorageWriteError, err, "bulk load: writing row %d", written)
		}
		t.cache.Add(rowID, image)
		for _, st := range stages {
			if _, err := st.Create(rowID); err != nil {
				t.rollbackTxn(txn)
				return written, err
			}
		}
		written++
		sinceCommit++

		if sinceCommit >= interval {
			if err := t.commitTxn(txn); err != nil {
				return written, err
			}
			txn, err = t.beginTxn()
			if err != nil {
				return written, err
			}
			sinceCommit = 0
		}
	}

	for _, st := range stages {
		if err := st.Flush(); err != nil {
			t.rollbackTxn(txn)
			return written, err
		}
	}
	if err := t.commitTxn(txn); err != nil {
		return written, err
	}
	return written, nil
}

// openBulkStages builds one stage.Stage per declared index, each buffering
// in front of the index's real Sorter.
func (t *Table) openBulkStages() ([]*stage.Stage, error) {
	out := make([]*stage.Stage, 0, len(t.indexes))
	for _, ib := range t.indexes {
		bufStorage, err := block.NewMemory(defaultBulkStageBlockSize)
		if err != nil {
			return nil, err
		}
		reader := newIndexReader(t, ib.desc)
		kind := sorted.Secondary
		if ib.desc.Kind == rowcodec.PrimaryIndex {
			kind = sorted.Primary
		}
		buf, err := sorted.Open(bufStorage, reader, sorted.CompareValues, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, stage.New(buf, ib.sorter, t.meta.BulkInsertCommitInterval))
	}
	return out, nil
}
