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

package rowcodec

import (
	"encoding/binary"
	"math"

	"github.com/flintdb/flint/pkg/ferrors"
)

// Date is a column value for the DATE type: a 24-bit packed form,
// year:14|month:4|day:5.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) pack() uint32 {
	return uint32(d.Year&0x3FFF)<<9 | uint32(d.Month&0xF)<<5 | uint32(d.Day&0x1F)
}

// CompareTo orders two Date values chronologically, letting pkg/sorted's
// CompareValues order DATE-typed key columns via its comparer escape hatch
// without needing a DATE case of its own.
func (d Date) CompareTo(other interface{}) int {
	o := other.(Date)
	switch {
	case d.Year != o.Year:
		return d.Year - o.Year
	case d.Month != o.Month:
		return d.Month - o.Month
	default:
		return d.Day - o.Day
	}
}

func unpackDate(v uint32) Date {
	return Date{
		Year:  int(v>>9) & 0x3FFF,
		Month: int(v>>5) & 0xF,
		Day:   int(v) & 0x1F,
	}
}

// decimalScale returns 10^precision as the fixed-point scale factor a
// DECIMAL column's float64 value is multiplied by before rounding to an
// 8-byte precision-aware fixed-point integer.
func decimalScale(precision int) float64 {
	return math.Pow10(precision)
}

// Encode packs values (one per column, in schema order) into a fixed-width
// row image of exactly meta.RowBytes() bytes. A nil entry means SQL NULL
// and is only accepted for nullable columns.
func Encode(meta *Meta, values []interface{}) ([]byte, error) {
	if len(values) != len(meta.Columns) {
		return nil, ferrors.New(ferrors.ColumnMismatch, "row has %d values, schema %q declares %d columns", len(values), meta.Table, len(meta.Columns))
	}
	buf := make([]byte, meta.RowBytes())
	off := 0
	for i, col := range meta.Columns {
		v := values[i]
		footprint := col.footprint()
		cell := buf[off : off+footprint]
		if col.Nullable {
			if v == nil {
				// Leave the value bytes zeroed; only the marker matters.
				cell[0] = 0
				off += footprint
				continue
			}
			cell[0] = 1
			cell = cell[1:]
		} else if v == nil {
			return nil, ferrors.New(ferrors.InvalidDataType, "column %q is not nullable", col.Name)
		}
		if err := encodeValue(col, cell, v); err != nil {
			return nil, err
		}
		off += footprint
	}
	return buf, nil
}

// Decode unpacks a row image previously produced by Encode back into one
// value per column, in schema order. A nullable column whose marker byte is
// 0 decodes to nil.
func Decode(meta *Meta, row []byte) ([]interface{}, error) {
	if len(row) != meta.RowBytes() {
		return nil, ferrors.New(ferrors.ColumnMismatch, "row image is %d bytes, schema %q expects %d", len(row), meta.Table, meta.RowBytes())
	}
	values := make([]interface{}, len(meta.Columns))
	off := 0
	for i, col := range meta.Columns {
		footprint := col.footprint()
		cell := row[off : off+footprint]
		off += footprint
		if col.Nullable {
			if cell[0] == 0 {
				values[i] = nil
				continue
			}
			cell = cell[1:]
		}
		v, err := decodeValue(col, cell)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func encodeValue(col Column, dst []byte, v interface{}) error {
	switch col.Type {
	case INT16:
		n, ok := asInt64(v)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want INT16, got %T", col.Name, v)
		}
		binary.LittleEndian.PutUint16(dst, uint16(int16(n)))
	case INT32:
		n, ok := asInt64(v)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want INT32, got %T", col.Name, v)
		}
		binary.LittleEndian.PutUint32(dst, uint32(int32(n)))
	case INT64:
		n, ok := asInt64(v)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want INT64, got %T", col.Name, v)
		}
		binary.LittleEndian.PutUint64(dst, uint64(n))
	case DECIMAL:
		f, ok := asFloat64(v)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want DECIMAL, got %T", col.Name, v)
		}
		scaled := int64(math.Round(f * decimalScale(col.Precision)))
		binary.LittleEndian.PutUint64(dst, uint64(scaled))
	case STRING:
		s, ok := v.(string)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want STRING, got %T", col.Name, v)
		}
		if len(s) > col.Bytes {
			return ferrors.New(ferrors.RowBytesExceeded, "column %q: value %d bytes exceeds capacity %d", col.Name, len(s), col.Bytes)
		}
		binary.LittleEndian.PutUint16(dst, uint16(len(s)))
		copy(dst[lengthPrefixBytes:], s)
	case BYTES:
		b, ok := v.([]byte)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want BYTES, got %T", col.Name, v)
		}
		if len(b) > col.Bytes {
			return ferrors.New(ferrors.RowBytesExceeded, "column %q: value %d bytes exceeds capacity %d", col.Name, len(b), col.Bytes)
		}
		binary.LittleEndian.PutUint16(dst, uint16(len(b)))
		copy(dst[lengthPrefixBytes:], b)
	case DATE:
		d, ok := v.(Date)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want Date, got %T", col.Name, v)
		}
		packed := d.pack()
		dst[0] = byte(packed)
		dst[1] = byte(packed >> 8)
		dst[2] = byte(packed >> 16)
	case TIME:
		ms, ok := asInt64(v)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want TIME (epoch ms), got %T", col.Name, v)
		}
		binary.LittleEndian.PutUint64(dst, uint64(ms))
	case BIT:
		b, ok := v.(bool)
		if !ok {
			return ferrors.New(ferrors.InvalidDataType, "column %q: want BIT (bool), got %T", col.Name, v)
		}
		if b {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	default:
		return ferrors.New(ferrors.InvalidDataType, "column %q: unknown column type %v", col.Name, col.Type)
	}
	return nil
}

func decodeValue(col Column, src []byte) (interface{}, error) {
	switch col.Type {
	case INT16:
		return int64(int16(binary.LittleEndian.Uint16(src))), nil
	case INT32:
		return int64(int32(binary.LittleEndian.Uint32(src))), nil
	case INT64:
		return int64(binary.LittleEndian.Uint64(src)), nil
	case DECIMAL:
		scaled := int64(binary.LittleEndian.Uint64(src))
		return float64(scaled) / decimalScale(col.Precision), nil
	case STRING:
		n := binary.LittleEndian.Uint16(src)
		if int(n) > col.Bytes {
			return nil, ferrors.New(ferrors.InternalError, "column %q: decoded length %d exceeds capacity %d", col.Name, n, col.Bytes)
		}
		return string(src[lengthPrefixBytes : lengthPrefixBytes+int(n)]), nil
	case BYTES:
		n := binary.LittleEndian.Uint16(src)
		if int(n) > col.Bytes {
			return nil, ferrors.New(ferrors.InternalError, "column %q: decoded length %d exceeds capacity %d", col.Name, n, col.Bytes)
		}
		out := make([]byte, n)
		copy(out, src[lengthPrefixBytes:lengthPrefixBytes+int(n)])
		return out, nil
	case DATE:
		packed := uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16
		return unpackDate(packed), nil
	case TIME:
		return int64(binary.LittleEndian.Uint64(src)), nil
	case BIT:
		return src[0] != 0, nil
	default:
		return nil, ferrors.New(ferrors.InvalidDataType, "column %q: unknown column type %v", col.Name, col.Type)
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
