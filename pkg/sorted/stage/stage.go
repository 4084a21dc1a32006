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

// Package stage buffers row-ids in a pkg/block MEMORY-backed Sorter in
// front of a real B+Tree-backed one, flushing a batch into the backing
// Sorter every N creates instead of paying a WAL transaction per row. This
// implements the bulk_insert.commit.interval configuration key.
package stage

import (
	"sync"

	"github.com/flintdb/flint/pkg/btree"
	"github.com/flintdb/flint/pkg/sorted"
)

// Stage is a sorted.Sorter-shaped staging buffer: inserts accumulate in buf
// and are only applied to back in a batch, once every threshold creates or
// on an explicit Flush/Close. Create looks for an existing key tuple in buf
// only, not in back; a staged row-id that back's Create declines during a
// flush is removed from buf without being added to back.
type Stage struct {
	mu        sync.Mutex
	buf, back *sorted.Sorter
	threshold int
	buffered  int
}

// New returns a Stage that flushes buf into back every threshold creates.
// threshold <= 0 disables automatic flushing; only Flush/Close drain buf.
func New(buf, back *sorted.Sorter, threshold int) *Stage {
	return &Stage{buf: buf, back: back, threshold: threshold}
}

// Create stages rowID, flushing to the backing Sorter once threshold rows
// have accumulated.
func (s *Stage) Create(rowID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, err := s.buf.Create(rowID)
	if err != nil || !inserted {
		return inserted, err
	}
	s.buffered++
	if s.threshold > 0 && s.buffered >= s.threshold {
		if err := s.flushLocked(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Delete removes rowID from whichever side currently holds it. This
// touches the backing Sorter synchronously, which isn't the most efficient
// path, but bulk loaders create rows and very rarely retract one mid-load.
func (s *Stage) Delete(rowID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deletedBuf, err := s.buf.Delete(rowID)
	if err != nil {
		return false, err
	}
	deletedBack, err := s.back.Delete(rowID)
	if err != nil {
		return false, err
	}
	return deletedBuf || deletedBack, nil
}

// Flush drains every staged row-id into the backing Sorter.
func (s *Stage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Stage) flushLocked() error {
	cur, err := s.buf.Range(btree.Ascending)
	if err != nil {
		return err
	}
	var ids []int64
	for cur.Next() {
		ids = append(ids, cur.Key())
	}
	if err := cur.Close(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.back.Create(id); err != nil {
			return err
		}
		if _, err := s.buf.Delete(id); err != nil {
			return err
		}
	}
	s.buffered = 0
	return nil
}

// Close flushes any remaining staged rows and releases buf's backing
// storage (the caller owns back's lifecycle, since it likely outlives any
// one bulk load).
func (s *Stage) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.buf.Close()
}
