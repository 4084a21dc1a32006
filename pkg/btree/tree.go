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

// Package btree implements FlintDB's B+Tree: a sorted set of 64-bit keys
// backed by Block Storage, one node per block, with leaf sibling links for
// ordered cursors and a root slot living in the storage's custom header.
package btree

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/flintdb/flint/pkg/block"
	"github.com/flintdb/flint/pkg/ferrors"
)

const (
	rootMagic     = "ROOT"
	rootSlotBytes = 12 // 4-byte magic + 8-byte block index
)

// Direction selects the order a Cursor walks matching keys in.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Comparator compares an implicit target value against a candidate key, in
// the same sense as Java's Comparable<Long>.compareTo: negative means the
// target sorts before key, zero means key matches the target, positive means
// the target sorts after key. Find and Cursor use a Comparator so a caller
// (typically a Sorter resolving a schema-derived ordering) can drive descent
// and range matching without the tree itself knowing about row content.
type Comparator interface {
	Compare(key int64) int
}

// natural compares a literal int64 target, used internally by Insert/Delete
// which always operate on a concrete key rather than a derived ordering.
type natural int64

func (n natural) Compare(key int64) int {
	switch {
	case int64(n) < key:
		return -1
	case int64(n) > key:
		return 1
	default:
		return 0
	}
}

// Tree is a single B+Tree over one block.Storage.
type Tree struct {
	mu          sync.Mutex
	storage     block.Storage
	leafMax     int
	internalMax int
}

// Open derives LEAF_MAX/INTERNAL_MAX from storage's configured block
// payload size and reads the existing root slot, if any.
func Open(storage block.Storage) (*Tree, error) {
	payload := storage.BlockPayloadSize()
	leafMax := (payload - 16) / 8
	internalMax := (payload - 16) / 16
	if leafMax < 3 || internalMax < 3 {
		return nil, ferrors.New(ferrors.InvalidOperation, "btree: block payload %d too small for a usable node", payload)
	}
	return &Tree{storage: storage, leafMax: leafMax, internalMax: internalMax}, nil
}

func (t *Tree) readRoot() (int64, error) {
	buf, err := t.storage.ReadExtraHeader(0, rootSlotBytes)
	if err != nil {
		return 0, err
	}
	if string(buf[:4]) != rootMagic {
		return nilLink, nil
	}
	return int64(binary.LittleEndian.Uint64(buf[4:12])), nil
}

func (t *Tree) writeRoot(idx int64) error {
	buf := make([]byte, rootSlotBytes)
	copy(buf[:4], rootMagic)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(idx))
	return t.storage.WriteExtraHeader(0, buf)
}

func (t *Tree) readLeaf(off int64) (*leafNode, error) {
	buf, err := t.storage.Read(off)
	if err != nil {
		return nil, err
	}
	return decodeLeaf(buf, t.leafMax), nil
}

func (t *Tree) readInternal(off int64) (*internalNode, error) {
	buf, err := t.storage.Read(off)
	if err != nil {
		return nil, err
	}
	return decodeInternal(buf, t.internalMax), nil
}

func (t *Tree) writeLeaf(off int64, n *leafNode) error {
	return t.storage.WriteAt(off, encodeLeaf(n, t.storage.BlockPayloadSize(), t.leafMax))
}

func (t *Tree) writeInternal(off int64, n *internalNode) error {
	return t.storage.WriteAt(off, encodeInternal(n, t.storage.BlockPayloadSize(), t.internalMax))
}

func (t *Tree) allocLeaf(n *leafNode) (int64, error) {
	return t.storage.Write(encodeLeaf(n, t.storage.BlockPayloadSize(), t.leafMax))
}

func (t *Tree) allocInternal(n *internalNode) (int64, error) {
	return t.storage.Write(encodeInternal(n, t.storage.BlockPayloadSize(), t.internalMax))
}

// frame is one level of the descent path from root to a leaf: the internal
// node read at that level, its storage offset, and which child index was
// followed onward.
type frame struct {
	offset int64
	node   *internalNode
	idx    int
}

// descend walks from root to the leaf that could hold cmp's target,
// returning the path of internal frames traversed and the leaf's own
// offset.
func (t *Tree) descend(root int64, cmp Comparator) ([]frame, int64, error) {
	var path []frame
	off := root
	for {
		buf, err := t.storage.Read(off)
		if err != nil {
			return nil, 0, err
		}
		if !isInternalBuf(buf) {
			return path, off, nil
		}
		n := decodeInternal(buf, t.internalMax)
		idx := n.childFor(cmp)
		path = append(path, frame{offset: off, node: n, idx: idx})
		off = n.childOffset(idx)
	}
}

func isEmpty(root int64) bool { return root == nilLink }

// Get reports whether key is present.
func (t *Tree) Get(key int64) (bool, error) {
	return t.GetCmp(natural(key))
}

// GetCmp reports whether the tree holds a key for which cmp.Compare(key)
// == 0, descending under cmp's ordering rather than key's own numeric
// value (used by Sorter, whose tree orders row-ids by a schema-derived
// key rather than by row-id).
func (t *Tree) GetCmp(cmp Comparator) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.readRoot()
	if err != nil {
		return false, err
	}
	if isEmpty(root) {
		return false, nil
	}
	_, leafOff, err := t.descend(root, cmp)
	if err != nil {
		return false, err
	}
	leaf, err := t.readLeaf(leafOff)
	if err != nil {
		return false, err
	}
	i := sort.Search(len(leaf.keys), func(i int) bool { return cmp.Compare(leaf.keys[i]) <= 0 })
	return i < len(leaf.keys) && cmp.Compare(leaf.keys[i]) == 0, nil
}

// Count walks every leaf via sibling links and sums key counts. It is a
// full scan by design -- the tree keeps no running total of its own -- and
// is meant for Sorter.Count(), not a hot path.
func (t *Tree) Count() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.readRoot()
	if err != nil {
		return 0, err
	}
	if isEmpty(root) {
		return 0, nil
	}
	off, err := t.leftmostLeaf(root)
	if err != nil {
		return 0, err
	}
	var n int64
	for off != nilLink {
		leaf, err := t.readLeaf(off)
		if err != nil {
			return 0, err
		}
		n += int64(len(leaf.keys))
		off = leaf.right
	}
	return n, nil
}

// Height returns the number of levels from root to leaf, inclusive (a tree
// with only a root leaf has height 1).
func (t *Tree) Height() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.readRoot()
	if err != nil {
		return 0, err
	}
	if isEmpty(root) {
		return 0, nil
	}
	h := 1
	off := root
	for {
		buf, err := t.storage.Read(off)
		if err != nil {
			return 0, err
		}
		if !isInternalBuf(buf) {
			return h, nil
		}
		n := decodeInternal(buf, t.internalMax)
		off = n.leftmost
		h++
	}
}

func (t *Tree) leftmostLeaf(root int64) (int64, error) {
	off := root
	for {
		buf, err := t.storage.Read(off)
		if err != nil {
			return 0, err
		}
		if !isInternalBuf(buf) {
			return off, nil
		}
		n := decodeInternal(buf, t.internalMax)
		off = n.leftmost
	}
}

func (t *Tree) rightmostLeaf(root int64) (int64, error) {
	off := root
	for {
		buf, err := t.storage.Read(off)
		if err != nil {
			return 0, err
		}
		if !isInternalBuf(buf) {
			return off, nil
		}
		n := decodeInternal(buf, t.internalMax)
		if len(n.children) == 0 {
			off = n.leftmost
		} else {
			off = n.children[len(n.children)-1]
		}
	}
}
