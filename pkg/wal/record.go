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

package wal

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/flintdb/flint/pkg/bufpool"
	"github.com/flintdb/flint/pkg/ferrors"
)

// Op is a WAL record's operation tag.
type Op byte

const (
	OpBegin      Op = 0x00
	OpWrite      Op = 0x01
	OpDelete     Op = 0x02
	OpUpdate     Op = 0x03
	OpCommit     Op = 0x10
	OpRollback   Op = 0x11
	OpCheckpoint Op = 0x20
)

// Flags bits on a record.
const (
	flagCompressed  byte = 1 << 0
	flagMetaOnly    byte = 1 << 1
)

// recordFixedBytes is the record header up to, but not including, the
// optional 4-byte compressed-size field: op(1) txn(8) checksum(2)
// file-id(4) page-offset(8) flags(1) original-size(4).
const recordFixedBytes = 1 + 8 + 2 + 4 + 8 + 1 + 4

// record is the decoded form of one WAL record.
type record struct {
	op             Op
	txnID          uint64
	fileID         uint32
	pageOffset     int64
	compressed     bool
	metaOnly       bool
	originalSize   uint32
	compressedSize uint32
	payload        []byte
}

// encode serializes r, computing a 16-bit truncated xxhash64 checksum over
// the payload. When wal.page.data is enabled, a full 8-byte xxhash64
// trailer follows the payload so a full-page UPDATE image can be verified
// independently on replay.
//
// The returned slice comes from pkg/bufpool: every record gets built and
// consumed (staged or direct-written) within appendRecord, so the caller
// returns it with bufpool.Put once it's done, instead of letting one
// allocation per WAL record churn the GC on a hot commit path.
func (r record) encode(pageChecksum bool) []byte {
	var flags byte
	if r.compressed {
		flags |= flagCompressed
	}
	if r.metaOnly {
		flags |= flagMetaOnly
	}
	headerLen := recordFixedBytes
	if r.compressed {
		headerLen += 4
	}
	trailerLen := 0
	if pageChecksum && len(r.payload) > 0 {
		trailerLen = 8
	}
	// originalSize/compressedSize always reflect the bytes actually
	// written after the header: for an uncompressed record that's just
	// len(payload); for a compressed one the caller is expected to have
	// set originalSize to the pre-compression length, and payload already
	// holds the compressed bytes.
	originalSize := r.originalSize
	if !r.compressed {
		originalSize = uint32(len(r.payload))
	}
	compressedSize := uint32(len(r.payload))

	buf := bufpool.Get(headerLen + len(r.payload) + trailerLen)
	buf[0] = byte(r.op)
	binary.LittleEndian.PutUint64(buf[1:9], r.txnID)
	sum16 := uint16(xxhash.Sum64(r.payload))
	binary.LittleEndian.PutUint16(buf[9:11], sum16)
	binary.LittleEndian.PutUint32(buf[11:15], r.fileID)
	binary.LittleEndian.PutUint64(buf[15:23], uint64(r.pageOffset))
	buf[23] = flags
	binary.LittleEndian.PutUint32(buf[24:28], originalSize)
	off := 28
	if r.compressed {
		binary.LittleEndian.PutUint32(buf[28:32], compressedSize)
		off = 32
	}
	copy(buf[off:], r.payload)
	if trailerLen > 0 {
		binary.LittleEndian.PutUint64(buf[off+len(r.payload):], xxhash.Sum64(r.payload))
	}
	return buf
}

// byteLen returns the total on-disk length of r once encoded, including
// any page checksum trailer.
func (r record) byteLen(pageChecksum bool) int {
	headerLen := recordFixedBytes
	if r.compressed {
		headerLen += 4
	}
	trailerLen := 0
	if pageChecksum && len(r.payload) > 0 {
		trailerLen = 8
	}
	return headerLen + len(r.payload) + trailerLen
}

// decodeRecordHeader parses the fixed portion of a record (everything
// before the payload). It returns the parsed fields and the number of
// header bytes consumed (28, or 32 if the compressed flag is set).
func decodeRecordHeader(buf []byte) (record, int, error) {
	if len(buf) < recordFixedBytes {
		return record{}, 0, ferrors.New(ferrors.StorageReadError, "wal: truncated record header")
	}
	r := record{
		op:           Op(buf[0]),
		txnID:        binary.LittleEndian.Uint64(buf[1:9]),
		fileID:       binary.LittleEndian.Uint32(buf[11:15]),
		pageOffset:   int64(binary.LittleEndian.Uint64(buf[15:23])),
		originalSize: binary.LittleEndian.Uint32(buf[24:28]),
	}
	flags := buf[23]
	r.compressed = flags&flagCompressed != 0
	r.metaOnly = flags&flagMetaOnly != 0
	n := recordFixedBytes
	if r.compressed {
		if len(buf) < recordFixedBytes+4 {
			return record{}, 0, ferrors.New(ferrors.StorageReadError, "wal: truncated record header")
		}
		r.compressedSize = binary.LittleEndian.Uint32(buf[recordFixedBytes : recordFixedBytes+4])
		n += 4
	}
	return r, n, nil
}

// payloadChecksum returns the truncated checksum stored in buf's fixed
// header region (bytes 9:11), independent of decodeRecordHeader, so a
// caller can verify a payload it has already sliced out.
func payloadChecksum(buf []byte) uint16 {
	return binary.LittleEndian.Uint16(buf[9:11])
}

func verifyPayload(buf []byte, payload []byte) bool {
	return payloadChecksum(buf) == uint16(xxhash.Sum64(payload))
}

// hashPayload is the full (untruncated) checksum used for the optional
// per-record page-data trailer.
func hashPayload(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}
