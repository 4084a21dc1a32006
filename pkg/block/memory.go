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

package block

import "sync"

// memDevice is a pure in-process device backed by a growable byte slice,
// used by the MEMORY storage variant and by pkg/sorted/stage's bulk-insert
// staging buffer.
type memDevice struct {
	mu  sync.Mutex
	buf []byte
}

func newMemDevice() *memDevice {
	return &memDevice{}
}

func (d *memDevice) ReadAt(off int64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off+int64(len(buf)) > int64(len(d.buf)) {
		return errShortDevice
	}
	copy(buf, d.buf[off:off+int64(len(buf))])
	return nil
}

func (d *memDevice) WriteAt(off int64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := off + int64(len(buf))
	if end > int64(len(d.buf)) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	copy(d.buf[off:end], buf)
	return nil
}

func (d *memDevice) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.buf)), nil
}

func (d *memDevice) Grow(by int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := int64(len(d.buf))
	d.buf = append(d.buf, make([]byte, by)...)
	return at, nil
}

func (d *memDevice) Sync() error  { return nil }
func (d *memDevice) Close() error { return nil }

// NewMemory opens a MEMORY-variant Block Storage: no file, no mmap, pure
// in-process buffer. blockSize is the payload
// capacity per block; the buffer grows in fixed 64 KiB increments.
func NewMemory(blockSize int) (Storage, error) {
	e, err := newEngine(newMemDevice(), blockSize, 1<<16, FormatMemory)
	if err != nil {
		return nil, err
	}
	return e, nil
}
