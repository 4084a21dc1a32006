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

import "encoding/binary"

// internalMark is the sentinel value a node's first 8 bytes carry when it
// is an internal node. A leaf's first
// 8 bytes hold its left-sibling link instead, which is always either a real
// block offset (>= block.HeaderBytes, hence positive) or nilLink -- never
// internalMark -- so the two node kinds are unambiguous on read.
const internalMark int64 = -2

// nilLink marks an absent sibling, child, or key slot. Every real row-id
// stored as a B+Tree key is a block offset past the header region, so it is
// always >= 4096 and can never collide with -1.
const nilLink int64 = -1

type leafNode struct {
	left, right int64
	keys        []int64
}

type internalNode struct {
	leftmost int64
	seps     []int64
	children []int64
}

func isInternalBuf(buf []byte) bool {
	return int64(binary.LittleEndian.Uint64(buf[0:8])) == internalMark
}

func decodeLeaf(buf []byte, leafMax int) *leafNode {
	n := &leafNode{
		left:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		right: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
	off := 16
	for i := 0; i < leafMax; i++ {
		k := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
		if k == nilLink {
			break
		}
		n.keys = append(n.keys, k)
	}
	return n
}

func encodeLeaf(n *leafNode, blockPayload, leafMax int) []byte {
	buf := make([]byte, blockPayload)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(n.left))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n.right))
	off := 16
	for i := 0; i < leafMax; i++ {
		v := nilLink
		if i < len(n.keys) {
			v = n.keys[i]
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(v))
		off += 8
	}
	return buf
}

func decodeInternal(buf []byte, internalMax int) *internalNode {
	n := &internalNode{leftmost: int64(binary.LittleEndian.Uint64(buf[8:16]))}
	off := 16
	for i := 0; i < internalMax; i++ {
		sep := int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		child := int64(binary.LittleEndian.Uint64(buf[off+8 : off+16]))
		off += 16
		if sep == nilLink {
			break
		}
		n.seps = append(n.seps, sep)
		n.children = append(n.children, child)
	}
	return n
}

func encodeInternal(n *internalNode, blockPayload, internalMax int) []byte {
	buf := make([]byte, blockPayload)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(internalMark))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n.leftmost))
	off := 16
	for i := 0; i < internalMax; i++ {
		sep, child := int64(nilLink), int64(nilLink)
		if i < len(n.seps) {
			sep = n.seps[i]
			child = n.children[i]
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(sep))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(child))
		off += 16
	}
	return buf
}

// childFor returns the child slot (as taken by childOffset: slot 0 is
// n.leftmost, slot i > 0 is n.children[i-1]) that owns cmp's implicit
// target, per spec's "choose the child whose range contains the key":
// slot 0 covers everything below seps[0], slot i covers
// [seps[i-1], seps[i]) for 0 < i < len(seps), and the last slot covers
// everything >= the final separator. Every descent -- Insert, Delete, Get,
// and Find alike -- goes through a Comparator so the tree never assumes its
// stored int64 values sort in their own numeric order (pkg/sorted relies on
// this to order row-ids by a schema-derived key instead).
func (n *internalNode) childFor(cmp Comparator) int {
	for i, sep := range n.seps {
		if cmp.Compare(sep) < 0 {
			return i
		}
	}
	return len(n.seps)
}

func (n *internalNode) childOffset(idx int) int64 {
	if idx == 0 {
		return n.leftmost
	}
	return n.children[idx-1]
}
