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

// Delete removes key if present, reporting whether it was found. Deleting
// a missing key returns false rather than an error.
func (t *Tree) Delete(key int64) (bool, error) {
	return t.DeleteCmp(key, natural(key))
}

// DeleteCmp removes the key for which cmp.Compare(key) == 0, descending
// under cmp's ordering rather than key's own numeric value. key itself is
// not consulted; the match and removal are driven entirely by cmp. Sorter uses this
// to remove a row-id from a tree ordered by a schema-derived key.
func (t *Tree) DeleteCmp(key int64, cmp Comparator) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.readRoot()
	if err != nil {
		return false, err
	}
	if isEmpty(root) {
		return false, nil
	}

	path, leafOff, err := t.descend(root, cmp)
	if err != nil {
		return false, err
	}
	leaf, err := t.readLeaf(leafOff)
	if err != nil {
		return false, err
	}

	pos := sort.Search(len(leaf.keys), func(i int) bool { return cmp.Compare(leaf.keys[i]) <= 0 })
	if pos >= len(leaf.keys) || cmp.Compare(leaf.keys[pos]) != 0 {
		return false, nil
	}
	leaf.keys = append(leaf.keys[:pos], leaf.keys[pos+1:]...)

	if len(leaf.keys) > 0 {
		if err := t.writeLeaf(leafOff, leaf); err != nil {
			return false, err
		}
		if pos == 0 {
			if err := t.propagateMinUpdate(path, leaf.keys[0]); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	// The leaf is now empty: unlink it from the sibling chain and free its
	// block.
	if leaf.left != nilLink {
		l, err := t.readLeaf(leaf.left)
		if err != nil {
			return false, err
		}
		l.right = leaf.right
		if err := t.writeLeaf(leaf.left, l); err != nil {
			return false, err
		}
	}
	if leaf.right != nilLink {
		r, err := t.readLeaf(leaf.right)
		if err != nil {
			return false, err
		}
		r.left = leaf.left
		if err := t.writeLeaf(leaf.right, r); err != nil {
			return false, err
		}
	}
	if err := t.storage.Delete(leafOff); err != nil {
		return false, err
	}

	if len(path) == 0 {
		// The leaf was the entire tree: reset the root slot to the sentinel.
		return true, t.writeRoot(nilLink)
	}
	return true, t.rebalanceAfterChildRemoval(path, path[len(path)-1].idx)
}

// removeChild deletes the child at slot idx from n. idx == 0 removes the
// leftmost link, promoting what was the first separator's child to take
// its place; idx > 0 removes the separator/child pair at idx-1.
func removeChild(n *internalNode, idx int) {
	if idx == 0 {
		n.leftmost = n.childOffset(1)
		n.seps = removeAt(n.seps, 0)
		n.children = removeAt(n.children, 0)
		return
	}
	n.seps = removeAt(n.seps, idx-1)
	n.children = removeAt(n.children, idx-1)
}

func removeAt(s []int64, i int) []int64 {
	return append(s[:i], s[i+1:]...)
}

// rebalanceAfterChildRemoval removes the child at slot idx from the node at
// path's last frame, then restores the B+Tree's shape if that node
// collapses to holding only its leftmost link: borrow a child from an
// immediate sibling with a spare separator to lend, else merge into the
// left sibling, else the right, recursing upward. A root that degenerates
// to a single child is replaced by that child.
func (t *Tree) rebalanceAfterChildRemoval(path []frame, idx int) error {
	f := &path[len(path)-1]
	removeChild(f.node, idx)

	if len(f.node.seps) > 0 {
		return t.writeInternal(f.offset, f.node)
	}

	if len(path) == 1 {
		if err := t.storage.Delete(f.offset); err != nil {
			return err
		}
		return t.writeRoot(f.node.leftmost)
	}

	parent := &path[len(path)-2]

	if parent.idx+1 <= len(parent.node.seps) {
		rightOff := parent.node.childOffset(parent.idx + 1)
		right, err := t.readInternal(rightOff)
		if err != nil {
			return err
		}
		if len(right.seps) >= 2 {
			boundary := parent.node.seps[parent.idx]
			f.node.seps = []int64{boundary}
			f.node.children = []int64{right.leftmost}
			newBoundary := right.seps[0]
			right.leftmost = right.childOffset(1)
			right.seps = removeAt(right.seps, 0)
			right.children = removeAt(right.children, 0)
			parent.node.seps[parent.idx] = newBoundary
			if err := t.writeInternal(f.offset, f.node); err != nil {
				return err
			}
			if err := t.writeInternal(rightOff, right); err != nil {
				return err
			}
			return t.writeInternal(parent.offset, parent.node)
		}
	}

	if parent.idx > 0 {
		leftOff := parent.node.childOffset(parent.idx - 1)
		left, err := t.readInternal(leftOff)
		if err != nil {
			return err
		}
		if len(left.seps) >= 2 {
			oldLeftmost := f.node.leftmost
			boundary := parent.node.seps[parent.idx-1]
			last := len(left.seps) - 1
			borrowed := left.children[last]
			newBoundary := left.seps[last]
			left.seps = left.seps[:last]
			left.children = left.children[:last]
			f.node.leftmost = borrowed
			f.node.seps = []int64{boundary}
			f.node.children = []int64{oldLeftmost}
			parent.node.seps[parent.idx-1] = newBoundary
			if err := t.writeInternal(leftOff, left); err != nil {
				return err
			}
			if err := t.writeInternal(f.offset, f.node); err != nil {
				return err
			}
			return t.writeInternal(parent.offset, parent.node)
		}
	}

	// Neither sibling can spare a child: merge. Prefer the left sibling
	// (spec: "merge into the left sibling when possible, otherwise into the
	// right").
	if parent.idx > 0 {
		leftOff := parent.node.childOffset(parent.idx - 1)
		left, err := t.readInternal(leftOff)
		if err != nil {
			return err
		}
		boundary := parent.node.seps[parent.idx-1]
		left.seps = append(left.seps, boundary)
		left.children = append(left.children, f.node.leftmost)
		if err := t.writeInternal(leftOff, left); err != nil {
			return err
		}
		if err := t.storage.Delete(f.offset); err != nil {
			return err
		}
		return t.rebalanceAfterChildRemoval(path[:len(path)-1], parent.idx)
	}

	rightOff := parent.node.childOffset(parent.idx + 1)
	right, err := t.readInternal(rightOff)
	if err != nil {
		return err
	}
	boundary := parent.node.seps[parent.idx]
	merged := &internalNode{
		leftmost: f.node.leftmost,
		seps:     append([]int64{boundary}, right.seps...),
		children: append([]int64{right.leftmost}, right.children...),
	}
	if err := t.writeInternal(f.offset, merged); err != nil {
		return err
	}
	if err := t.storage.Delete(rightOff); err != nil {
		return err
	}
	return t.rebalanceAfterChildRemoval(path[:len(path)-1], parent.idx+1)
}
