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

// Package synclatch provides the Table Engine's writer latch: a plain
// mutex, without the debug stack-trace logging goroutine some lock
// wrappers carry for deadlock diagnosis, since that machinery allocates a
// 16MB stack buffer per latch for a diagnostic this engine doesn't need.
package synclatch

import "sync"

// Latch is the single mutual-exclusion lock a Table holds for the full
// duration of every mutating public call (apply, delete, and any read path
// that must observe a consistent row image across every Sorter).
type Latch struct {
	mu sync.Mutex
}

// Lock acquires the latch, blocking until it is available.
func (l *Latch) Lock() { l.mu.Lock() }

// Unlock releases the latch.
func (l *Latch) Unlock() { l.mu.Unlock() }

// TryLock attempts to acquire the latch without blocking.
func (l *Latch) TryLock() bool { return l.mu.TryLock() }
