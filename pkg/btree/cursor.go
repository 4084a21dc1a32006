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

// Cursor walks the keys a Find call matched, in the direction requested.
// It is single-shot: once exhausted (or Close is called) it yields nothing
// further. The equal-range it walks is materialized up front rather than
// streamed leaf-by-leaf -- Find is used for equality groups (e.g. every
// row-id sharing one key tuple in a non-primary index), which are small, so
// eagerly collecting them keeps both directions served by one descent
// instead of needing a separate backward-walking implementation.
type Cursor struct {
	values []int64
	pos    int
}

// Next returns the next key and true, or (0, false) once exhausted.
func (c *Cursor) Next() (int64, bool) {
	if c == nil || c.pos >= len(c.values) {
		return 0, false
	}
	v := c.values[c.pos]
	c.pos++
	return v, true
}

// Close releases the cursor's held slice. Safe to call multiple times.
func (c *Cursor) Close() error {
	if c != nil {
		c.values = nil
		c.pos = 0
	}
	return nil
}

// KeyComparator adapts a literal key into a Comparator, for callers that
// want Find's equal-range semantics against one concrete int64 (e.g. a
// non-unique row-id already known, rather than a schema-derived ordering).
func KeyComparator(key int64) Comparator { return natural(key) }

// Find locates every key in the tree for which cmp.Compare(key) == 0: it
// descends toward the target, steps back over left siblings whose last key
// still matches so it starts at the first leaf of the equal-range,
// binary-searches the first matching index, then walks sibling links
// collecting matches until the comparator reports a mismatch or the chain
// ends. dir only controls the order values are served in.
func (t *Tree) Find(dir Direction, cmp Comparator) (*Cursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	if isEmpty(root) {
		return &Cursor{}, nil
	}

	_, leafOff, err := t.descend(root, cmp)
	if err != nil {
		return nil, err
	}
	cur, err := t.readLeaf(leafOff)
	if err != nil {
		return nil, err
	}
	// descend follows a separator equal to the target into its right
	// subtree, so the equal-range may begin in earlier leaves.
	for cur.left != nilLink {
		prev, err := t.readLeaf(cur.left)
		if err != nil {
			return nil, err
		}
		if len(prev.keys) == 0 || cmp.Compare(prev.keys[len(prev.keys)-1]) != 0 {
			break
		}
		cur = prev
	}

	i := sort.Search(len(cur.keys), func(i int) bool { return cmp.Compare(cur.keys[i]) <= 0 })
	var values []int64
	for {
		if i >= len(cur.keys) {
			if cur.right == nilLink {
				break
			}
			cur, err = t.readLeaf(cur.right)
			if err != nil {
				return nil, err
			}
			i = 0
			continue
		}
		if cmp.Compare(cur.keys[i]) != 0 {
			break
		}
		values = append(values, cur.keys[i])
		i++
	}

	if dir == Descending {
		for l, r := 0, len(values)-1; l < r; l, r = l+1, r-1 {
			values[l], values[r] = values[r], values[l]
		}
	}
	return &Cursor{values: values}, nil
}
