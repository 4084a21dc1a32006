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

import "github.com/flintdb/flint/pkg/ferrors"

// Delete removes rowID from the heap and from every index. It returns 1 if
// the row existed and was removed, -1 if rowID was unknown.
func (t *Table) Delete(rowID int64) (int, error) {
	if err := t.writable(); err != nil {
		return -1, err
	}

	t.latch.Lock()
	defer t.latch.Unlock()

	// Confirm the row exists before touching anything: reading through the
	// heap also doubles as the "unknown row-id" check.
	if _, err := t.readRowImage(rowID); err != nil {
		if ferrors.Is(err, ferrors.NotFound) {
			return -1, nil
		}
		return -1, err
	}

	txn, err := t.beginTxn()
	if err != nil {
		return -1, err
	}
	if err := t.deleteLocked(rowID); err != nil {
		t.rollbackTxn(txn)
		return -1, err
	}
	if err := t.commitTxn(txn); err != nil {
		return -1, err
	}
	return 1, nil
}

// deleteLocked removes rowID from every non-primary Sorter first, the
// primary Sorter last, then frees the heap block and invalidates the
// cache entry.
func (t *Table) deleteLocked(rowID int64) error {
	for _, s := range t.secondaries() {
		if _, err := s.Delete(rowID); err != nil {
			return err
		}
	}
	if _, err := t.primary().Delete(rowID); err != nil {
		return err
	}
	if err := t.heap.Delete(rowID); err != nil {
		return err
	}
	t.cache.Remove(rowID)
	return nil
}
