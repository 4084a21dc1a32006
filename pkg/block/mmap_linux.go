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

//go:build linux

package block

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// mmapDevice is the Linux MMAP storage variant: the backing file is mapped
// into process memory and grown by remapping, rather than read/written
// through the os.File read/write syscalls. This is a Linux-only syscall
// path with a portable fallback in mmap_other.go.
type mmapDevice struct {
	mu   sync.Mutex
	f    *os.File
	data []byte
}

func openMmapDevice(path string) (*mmapDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	d := &mmapDevice{f: f}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() > 0 {
		if err := d.mapTo(fi.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *mmapDevice) mapTo(size int64) error {
	if d.data != nil {
		if err := unix.Munmap(d.data); err != nil {
			return err
		}
		d.data = nil
	}
	data, err := unix.Mmap(int(d.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	d.data = data
	return nil
}

func (d *mmapDevice) ReadAt(off int64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off+int64(len(buf)) > int64(len(d.data)) {
		return errShortDevice
	}
	copy(buf, d.data[off:off+int64(len(buf))])
	return nil
}

func (d *mmapDevice) WriteAt(off int64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off+int64(len(buf)) > int64(len(d.data)) {
		return errShortDevice
	}
	copy(d.data[off:off+int64(len(buf))], buf)
	return nil
}

func (d *mmapDevice) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data)), nil
}

func (d *mmapDevice) Grow(by int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := int64(len(d.data))
	newSize := at + by
	if err := d.f.Truncate(newSize); err != nil {
		return 0, err
	}
	if err := d.mapTo(newSize); err != nil {
		return 0, err
	}
	return at, nil
}

func (d *mmapDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data != nil {
		if err := unix.Msync(d.data, unix.MS_SYNC); err != nil {
			return err
		}
	}
	return d.f.Sync()
}

func (d *mmapDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data != nil {
		if err := unix.Munmap(d.data); err != nil {
			return err
		}
		d.data = nil
	}
	return d.f.Close()
}

// NewMMap opens the MMAP-variant Block Storage on Linux.
func NewMMap(path string, blockSize int, increment int64) (Storage, error) {
	dev, err := openMmapDevice(path)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(dev, blockSize, increment, FormatMMAP)
	if err != nil {
		return nil, err
	}
	return e, nil
}
