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

package btree

import "sort"

// ScanCursor walks an open-ended run of the tree's keys one leaf at a time,
// releasing each leaf as it moves past it. It never materializes more than
// the current leaf's worth of keys, unlike Find's Cursor (which eagerly
// collects a bounded equal-range) -- a full-table or open-range scan can be
// arbitrarily large. Next reports whether a value is available, and any
// storage error encountered along the way is held back and returned by
// Close, not Next.
type ScanCursor struct {
	t    *Tree
	asc  bool
	cur  *leafNode
	idx  int
	val  int64
	err  error
	done bool
}

// Scan returns a cursor over every key in the tree, in the direction
// requested.
func (t *Tree) Scan(dir Direction) (*ScanCursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	if isEmpty(root) {
		return &ScanCursor{done: true}, nil
	}

	var off int64
	if dir == Ascending {
		off, err = t.leftmostLeaf(root)
	} else {
		off, err = t.rightmostLeaf(root)
	}
	if err != nil {
		return nil, err
	}
	leaf, err := t.readLeaf(off)
	if err != nil {
		return nil, err
	}
	idx := 0
	if dir == Descending {
		idx = len(leaf.keys) - 1
	}
	return &ScanCursor{t: t, asc: dir == Ascending, cur: leaf, idx: idx}, nil
}

// Seek returns a cursor starting at the first key (ascending) or last key
// (descending) satisfying cmp.Compare(key) <= 0 / >= 0 respectively, and
// continuing to the end of the tree rather than stopping at the first
// mismatch -- this is the open-ended counterpart to Find's bounded
// equal-range, used for range predicates like "key >= X".
func (t *Tree) Seek(dir Direction, cmp Comparator) (*ScanCursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	if isEmpty(root) {
		return &ScanCursor{done: true}, nil
	}
	_, leafOff, err := t.descend(root, cmp)
	if err != nil {
		return nil, err
	}
	leaf, err := t.readLeaf(leafOff)
	if err != nil {
		return nil, err
	}
	if dir == Ascending {
		// descend follows a separator equal to the target into its right
		// subtree, so keys equal to the target may end earlier leaves.
		for leaf.left != nilLink {
			prev, err := t.readLeaf(leaf.left)
			if err != nil {
				return nil, err
			}
			if len(prev.keys) == 0 || cmp.Compare(prev.keys[len(prev.keys)-1]) != 0 {
				break
			}
			leaf = prev
		}
		idx := sort.Search(len(leaf.keys), func(i int) bool { return cmp.Compare(leaf.keys[i]) <= 0 })
		return &ScanCursor{t: t, asc: true, cur: leaf, idx: idx}, nil
	}
	idx := sort.Search(len(leaf.keys), func(i int) bool { return cmp.Compare(leaf.keys[i]) < 0 }) - 1
	return &ScanCursor{t: t, asc: false, cur: leaf, idx: idx}, nil
}

// Next advances the cursor and reports whether a value is available.
func (c *ScanCursor) Next() bool {
	if c == nil || c.done {
		return false
	}
	for {
		if c.asc {
			if c.idx >= len(c.cur.keys) {
				if c.cur.right == nilLink {
					c.done = true
					return false
				}
				nxt, err := c.t.readLeaf(c.cur.right)
				if err != nil {
					c.err, c.done = err, true
					return false
				}
				c.cur, c.idx = nxt, 0
				continue
			}
			c.val = c.cur.keys[c.idx]
			c.idx++
			return true
		}
		if c.idx < 0 {
			if c.cur.left == nilLink {
				c.done = true
				return false
			}
			prev, err := c.t.readLeaf(c.cur.left)
			if err != nil {
				c.err, c.done = err, true
				return false
			}
			c.cur, c.idx = prev, len(prev.keys)-1
			continue
		}
		c.val = c.cur.keys[c.idx]
		c.idx--
		return true
	}
}

// Key returns the value Next just produced.
func (c *ScanCursor) Key() int64 { return c.val }

// Close releases the cursor and returns any error encountered while
// advancing it. Safe to call multiple times.
func (c *ScanCursor) Close() error {
	if c == nil {
		return nil
	}
	err := c.err
	c.done, c.err = true, nil
	return err
}
