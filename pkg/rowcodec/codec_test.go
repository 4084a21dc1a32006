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
	"reflect"
	"testing"

	"github.com/flintdb/flint/pkg/ferrors"
)

func testMeta() *Meta {
	return &Meta{
		Table: "orders",
		Columns: []Column{
			{Name: "id", Type: INT64},
			{Name: "qty", Type: INT16, Nullable: true},
			{Name: "price", Type: DECIMAL, Precision: 2},
			{Name: "name", Type: STRING, Bytes: 16},
			{Name: "blob", Type: BYTES, Bytes: 8, Nullable: true},
			{Name: "placed", Type: DATE},
			{Name: "updated", Type: TIME},
			{Name: "active", Type: BIT},
		},
		Indexes: []Index{
			{Name: "pk", Algorithm: "bptree", Kind: PrimaryIndex, Keys: []string{"id"}},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	meta := testMeta()
	row := []interface{}{
		int64(7),
		nil, // qty: nullable, absent
		19.99,
		"widget",
		[]byte{0xde, 0xad},
		Date{Year: 2024, Month: 3, Day: 15},
		int64(1_700_000_000_000),
		true,
	}

	buf, err := Encode(meta, row)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != meta.RowBytes() {
		t.Fatalf("Encode produced %d bytes, want %d", len(buf), meta.RowBytes())
	}

	got, err := Decode(meta, buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got[0].(int64) != 7 {
		t.Fatalf("id = %v, want 7", got[0])
	}
	if got[1] != nil {
		t.Fatalf("qty = %v, want nil", got[1])
	}
	if f := got[2].(float64); f < 19.985 || f > 19.995 {
		t.Fatalf("price = %v, want ~19.99", f)
	}
	if got[3].(string) != "widget" {
		t.Fatalf("name = %v, want widget", got[3])
	}
	if !reflect.DeepEqual(got[4].([]byte), []byte{0xde, 0xad}) {
		t.Fatalf("blob = %v, want [de ad]", got[4])
	}
	if got[5].(Date) != (Date{Year: 2024, Month: 3, Day: 15}) {
		t.Fatalf("placed = %v, want 2024-03-15", got[5])
	}
	if got[6].(int64) != 1_700_000_000_000 {
		t.Fatalf("updated = %v, want 1700000000000", got[6])
	}
	if got[7].(bool) != true {
		t.Fatalf("active = %v, want true", got[7])
	}
}

func TestEncodeRejectsOversizeString(t *testing.T) {
	meta := testMeta()
	row := []interface{}{
		int64(1), int64(0), 1.0, "this name is far too long for 16 bytes",
		nil, Date{}, int64(0), false,
	}
	_, err := Encode(meta, row)
	if !ferrors.Is(err, ferrors.RowBytesExceeded) {
		t.Fatalf("Encode oversize string: err = %v, want RowBytesExceeded", err)
	}
}

func TestEncodeRejectsNonNullableNull(t *testing.T) {
	meta := testMeta()
	row := []interface{}{
		nil, int64(0), 1.0, "x", nil, Date{}, int64(0), false,
	}
	_, err := Encode(meta, row)
	if !ferrors.Is(err, ferrors.InvalidDataType) {
		t.Fatalf("Encode null into non-nullable id: err = %v, want InvalidDataType", err)
	}
}

func TestEncodeRejectsColumnCountMismatch(t *testing.T) {
	meta := testMeta()
	_, err := Encode(meta, []interface{}{int64(1)})
	if !ferrors.Is(err, ferrors.ColumnMismatch) {
		t.Fatalf("Encode short row: err = %v, want ColumnMismatch", err)
	}
}

func TestDateCompareTo(t *testing.T) {
	older := Date{Year: 2023, Month: 12, Day: 31}
	newer := Date{Year: 2024, Month: 1, Day: 1}
	if older.CompareTo(newer) >= 0 {
		t.Fatalf("older.CompareTo(newer) >= 0, want < 0")
	}
	if newer.CompareTo(older) <= 0 {
		t.Fatalf("newer.CompareTo(older) <= 0, want > 0")
	}
	if older.CompareTo(older) != 0 {
		t.Fatalf("older.CompareTo(older) != 0")
	}
}

func TestRowBytesExactCapacity(t *testing.T) {
	meta := &Meta{
		Table:   "t",
		Columns: []Column{{Name: "s", Type: STRING, Bytes: 4}},
		Indexes: []Index{{Name: "pk", Kind: PrimaryIndex, Keys: []string{"s"}}},
	}
	// exactly at capacity succeeds
	if _, err := Encode(meta, []interface{}{"abcd"}); err != nil {
		t.Fatalf("Encode at exact capacity: %v", err)
	}
	// capacity+1 fails
	if _, err := Encode(meta, []interface{}{"abcde"}); !ferrors.Is(err, ferrors.RowBytesExceeded) {
		t.Fatalf("Encode over capacity: err = %v, want RowBytesExceeded", err)
	}
}
