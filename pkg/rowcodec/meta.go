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

// Package rowcodec implements FlintDB's fixed-width row encoding and the
// schema descriptor that describes it: the closed column type set,
// per-column byte footprints, and the sidecar ".desc" document a Table
// persists at create-table time and reads back at open.
package rowcodec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flintdb/flint/pkg/ferrors"
)

// ColumnType enumerates the engine's closed column type set.
type ColumnType int

const (
	INT16 ColumnType = iota
	INT32
	INT64
	DECIMAL
	STRING
	BYTES
	DATE
	TIME
	BIT
)

func (t ColumnType) String() string {
	switch t {
	case INT16:
		return "INT16"
	case INT32:
		return "INT32"
	case INT64:
		return "INT64"
	case DECIMAL:
		return "DECIMAL"
	case STRING:
		return "STRING"
	case BYTES:
		return "BYTES"
	case DATE:
		return "DATE"
	case TIME:
		return "TIME"
	case BIT:
		return "BIT"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders a ColumnType by name, so the ".desc" file reads as
// "INT64" rather than a bare integer.
func (t ColumnType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ColumnType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ct, ok := parseColumnType(s)
	if !ok {
		return fmt.Errorf("rowcodec: unknown column type %q", s)
	}
	*t = ct
	return nil
}

func parseColumnType(s string) (ColumnType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INT16":
		return INT16, true
	case "INT32":
		return INT32, true
	case "INT64":
		return INT64, true
	case "DECIMAL":
		return DECIMAL, true
	case "STRING":
		return STRING, true
	case "BYTES":
		return BYTES, true
	case "DATE":
		return DATE, true
	case "TIME":
		return TIME, true
	case "BIT":
		return BIT, true
	default:
		return 0, false
	}
}

// NormalizeName applies the engine's column-name normalization:
// case-insensitive, whitespace-trimmed. Used for both sorting keys and row
// field access, so two
// columns named " Id " and "ID" collide at schema-creation time rather than
// silently aliasing each other later.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Column describes one attribute of a row, immutable after schema creation.
type Column struct {
	Name       string
	Type       ColumnType
	Bytes      int         // capacity for STRING/BYTES; ignored otherwise
	Precision  int         // fractional digits for DECIMAL; ignored otherwise
	Nullable   bool
	Default    interface{} `json:",omitempty"`
	Expression string      `json:",omitempty"` // computed-column expression, if any
}

// lengthPrefixBytes is the width of the length prefix written ahead of a
// STRING or BYTES column's payload.
const lengthPrefixBytes = 2

// width returns the fixed on-disk footprint of one value of this column's
// type, not counting the nullable marker byte.
func (c Column) width() int {
	switch c.Type {
	case INT16:
		return 2
	case INT32:
		return 4
	case INT64:
		return 8
	case DECIMAL:
		return 8 // fixed-point, stored as a scaled int64
	case STRING, BYTES:
		return lengthPrefixBytes + c.Bytes
	case DATE:
		return 3 // year:14|month:4|day:5 packed into 24 bits
	case TIME:
		return 8 // epoch milliseconds
	case BIT:
		return 1
	default:
		return 0
	}
}

// footprint returns width() plus the null marker byte, if nullable.
func (c Column) footprint() int {
	n := c.width()
	if c.Nullable {
		n++
	}
	return n
}

// IndexKind distinguishes the primary index (index[0], its keys unique and
// non-nullable) from secondary "sort" indexes, which may carry duplicate
// key tuples.
type IndexKind int

const (
	PrimaryIndex IndexKind = iota
	SortIndex
)

func (k IndexKind) String() string {
	if k == PrimaryIndex {
		return "primary"
	}
	return "sort"
}

// MarshalJSON renders an IndexKind as "primary" or "sort".
func (k IndexKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *IndexKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ik, ok := parseIndexKind(s)
	if !ok {
		return fmt.Errorf("rowcodec: unknown index kind %q", s)
	}
	*k = ik
	return nil
}

func parseIndexKind(s string) (IndexKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return PrimaryIndex, true
	case "sort":
		return SortIndex, true
	default:
		return 0, false
	}
}

// Index describes one declared B+Tree index over a subset of the table's
// columns.
type Index struct {
	Name      string
	Algorithm string // always "bptree" today; kept as a string for forward compatibility
	Kind      IndexKind
	Keys      []string // normalized column names, in key order
}

// StorageOptions mirrors the schema descriptor's storage sub-object: block
// type, and the knobs pkg/block.Storage variants accept.
type StorageOptions struct {
	BlockType   string // MMAP | MEMORY | Z | LZ4 | ZSTD | SNAPPY
	Compact     int
	Increment   int64
	CacheSize   int
}

// WALOptions mirrors the schema descriptor's wal sub-object.
type WALOptions struct {
	Mode                  string // TRUNCATE | LOG
	Enabled               bool
	CheckpointInterval    int
	BatchSize             int
	CompressionThreshold  int
	PageData              bool
	DirectWriteThreshold  int
}

// Meta is the schema descriptor persisted as a table's sidecar ".desc"
// document: table name, columns, indexes, storage and WAL options. Meta is
// written atomically at create-table and read at open; it is never mutated
// by insert/update/delete.
type Meta struct {
	Table   string
	Columns []Column
	Indexes []Index
	Storage StorageOptions
	WAL     WALOptions

	// BulkInsertCommitInterval is bulk_insert.commit.interval: how many
	// staged rows pkg/sorted/stage accumulates before flushing into the
	// backing Sorter during a bulk load.
	BulkInsertCommitInterval int
}

// Validate checks the schema's invariants: at least one column, no column
// name declared twice, at least one index, index[0] primary, primary key
// columns non-nullable, and every index's key list non-empty and resolving
// to declared columns. Uniqueness of primary key values is not checked here.
func (m *Meta) Validate() error {
	if len(m.Columns) == 0 {
		return ferrors.New(ferrors.ColumnMismatch, "schema %q declares no columns", m.Table)
	}
	byName := make(map[string]Column, len(m.Columns))
	for _, c := range m.Columns {
		norm := NormalizeName(c.Name)
		if _, dup := byName[norm]; dup {
			return ferrors.New(ferrors.ColumnMismatch, "schema %q declares column %q twice", m.Table, c.Name)
		}
		byName[norm] = c
	}
	if len(m.Indexes) == 0 {
		return ferrors.New(ferrors.IndexNotFound, "schema %q declares no indexes", m.Table)
	}
	if m.Indexes[0].Kind != PrimaryIndex {
		return ferrors.New(ferrors.InvalidOperation, "schema %q: index[0] must be primary", m.Table)
	}
	for _, idx := range m.Indexes {
		if len(idx.Keys) == 0 {
			return ferrors.New(ferrors.IndexNotFound, "index %q declares no key columns", idx.Name)
		}
		for _, k := range idx.Keys {
			col, ok := byName[NormalizeName(k)]
			if !ok {
				return ferrors.New(ferrors.ColumnMismatch, "index %q references unknown column %q", idx.Name, k)
			}
			if idx.Kind == PrimaryIndex && col.Nullable {
				return ferrors.New(ferrors.ColumnMismatch, "primary index %q references nullable column %q", idx.Name, k)
			}
		}
	}
	return nil
}

// RowBytes returns the fixed width of one encoded row under this schema.
func (m *Meta) RowBytes() int {
	n := 0
	for _, c := range m.Columns {
		n += c.footprint()
	}
	return n
}

// ColumnIndex returns the position of the normalized column name, or -1.
func (m *Meta) ColumnIndex(name string) int {
	norm := NormalizeName(name)
	for i, c := range m.Columns {
		if NormalizeName(c.Name) == norm {
			return i
		}
	}
	return -1
}

// PrimaryIndexDescriptor returns the schema's primary index (index[0]).
func (m *Meta) PrimaryIndexDescriptor() Index {
	return m.Indexes[0]
}
