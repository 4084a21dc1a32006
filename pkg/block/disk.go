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

import (
	"errors"
	"os"
)

// errShortDevice is returned internally by a device's ReadAt when the
// requested range runs past the device's current extent; engine always
// wraps this in a ferrors.StorageReadError before it reaches a caller.
var errShortDevice = errors.New("block: read past end of device")

// diskDevice is a plain *os.File-backed device, used on platforms where
// the mmap variant isn't available.
type diskDevice struct {
	f *os.File
}

func openDiskDevice(path string) (*diskDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &diskDevice{f: f}, nil
}

func (d *diskDevice) ReadAt(off int64, buf []byte) error {
	n, err := d.f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err != nil {
		return err
	}
	return errShortDevice
}

func (d *diskDevice) WriteAt(off int64, buf []byte) error {
	_, err := d.f.WriteAt(buf, off)
	return err
}

func (d *diskDevice) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *diskDevice) Grow(by int64) (int64, error) {
	at, err := d.Size()
	if err != nil {
		return 0, err
	}
	if err := d.f.Truncate(at + by); err != nil {
		return 0, err
	}
	return at, nil
}

func (d *diskDevice) Sync() error  { return d.f.Sync() }
func (d *diskDevice) Close() error { return d.f.Close() }

// NewFile opens a plain file-backed Block Storage, the non-mmap fallback
// for platforms mmap_linux.go doesn't cover; the on-disk layout is
// identical either way.
func NewFile(path string, blockSize int, increment int64) (Storage, error) {
	dev, err := openDiskDevice(path)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(dev, blockSize, increment, FormatMMAP)
	if err != nil {
		return nil, err
	}
	return e, nil
}
