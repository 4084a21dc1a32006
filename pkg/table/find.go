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

package table

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flintdb/flint/pkg/btree"
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/sorted"
)

// op is one comparison operator a predicate clause may use.
type op int

const (
	opEQ op = iota
	opNE
	opLT
	opLE
	opGT
	opGE
)

// clause is one `column OP value` term of a lexed where-string.
type clause struct {
	column   string
	pos      int // meta.ColumnIndex(column), resolved at compile time
	operator op
	value    interface{}
}

// Query is a compiled find(where_string) predicate: its clauses are used
// both to bound the index descent and -- every clause, always -- re-applied
// against each decoded row for correctness regardless of how tight the
// descent bound was.
type Query struct {
	index   string
	clauses []clause
	limit   int
	offset  int
}

// ParseQuery lexes a where-string of the form
// `[USE INDEX(name)] column OP value [AND column OP value]*`, OP in
// {=, !=, <, <=, >, >=}, into a compiled Query. An empty whereString
// matches every row.
func ParseQuery(t *Table, whereString string) (*Query, error) {
	s := strings.TrimSpace(whereString)
	q := &Query{limit: -1}

	if strings.HasPrefix(strings.ToUpper(s), "USE INDEX(") {
		end := strings.Index(s, ")")
		if end < 0 {
			return nil, ferrors.New(ferrors.InvalidOperation, "find: unterminated USE INDEX(...) hint")
		}
		q.index = strings.TrimSpace(s[len("USE INDEX(") : end])
		s = strings.TrimSpace(s[end+1:])
	}

	if s == "" {
		return q, nil
	}

	for _, part := range strings.Split(s, " AND ") {
		c, err := parseClause(t, strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		q.clauses = append(q.clauses, c)
	}
	return q, nil
}

// Limit sets the cursor's row limit (-1, the default, means unbounded).
func (q *Query) Limit(n int) *Query { q.limit = n; return q }

// Offset sets the number of matching rows to skip before yielding.
func (q *Query) Offset(n int) *Query { q.offset = n; return q }

var operators = []struct {
	text string
	op   op
}{
	{"!=", opNE},
	{"<=", opLE},
	{">=", opGE},
	{"=", opEQ},
	{"<", opLT},
	{">", opGT},
}

func parseClause(t *Table, part string) (clause, error) {
	for _, o := range operators {
		idx := strings.Index(part, o.text)
		if idx < 0 {
			continue
		}
		col := strings.TrimSpace(part[:idx])
		valText := strings.TrimSpace(part[idx+len(o.text):])
		pos := t.meta.ColumnIndex(col)
		if pos < 0 {
			return clause{}, ferrors.New(ferrors.ColumnMismatch, "find: unknown column %q", col)
		}
		val, err := parseLiteral(valText)
		if err != nil {
			return clause{}, err
		}
		return clause{column: col, pos: pos, operator: o.op, value: val}, nil
	}
	return clause{}, ferrors.New(ferrors.InvalidOperation, "find: cannot parse clause %q", part)
}

func parseLiteral(s string) (interface{}, error) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return nil, fmt.Errorf("find: cannot parse literal %q", s)
}

// matches reports whether row (as decoded column values) satisfies every
// clause of q -- applied regardless of how the index descent bounded the
// scan, so a partial-prefix bound never produces a false positive.
func (q *Query) matches(row []interface{}) bool {
	for _, c := range q.clauses {
		cmp := sorted.CompareValues([]interface{}{row[c.pos]}, []interface{}{c.value})
		ok := false
		switch c.operator {
		case opEQ:
			ok = cmp == 0
		case opNE:
			ok = cmp != 0
		case opLT:
			ok = cmp < 0
		case opLE:
			ok = cmp <= 0
		case opGT:
			ok = cmp > 0
		case opGE:
			ok = cmp >= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// Find compiles and runs a where-string against the table, returning
// matching rows in the chosen index's order (descending when the leading
// clause is < or <= on the index's first key column), honoring q's
// limit/offset.
func (t *Table) Find(whereString string) ([]Row, error) {
	q, err := ParseQuery(t, whereString)
	if err != nil {
		return nil, err
	}
	return t.FindQuery(q)
}

// FindQuery runs a pre-compiled Query (use ParseQuery to build one, then
// Limit/Offset it before calling).
func (t *Table) FindQuery(q *Query) ([]Row, error) {
	t.latch.Lock()
	defer t.latch.Unlock()

	ib, err := t.indexByName(q.index)
	if err != nil {
		return nil, err
	}

	cur, err := t.descendCursor(ib, q)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	if q.limit == 0 {
		return nil, cur.Close()
	}

	var out []Row
	skipped := 0
	for cur.Next() {
		rowID := cur.Key()
		row, err := t.decodeRow(rowID)
		if err != nil {
			return nil, err
		}
		if !q.matches(row) {
			continue
		}
		if skipped < q.offset {
			skipped++
			continue
		}
		out = append(out, Row{RowID: rowID, Values: row})
		if q.limit >= 0 && len(out) >= q.limit {
			break
		}
	}
	return out, cur.Close()
}

// descendCursor bounds the scan using the leading clause against the
// chosen index's first key column when possible: an equality clause seeks
// to it directly, an inequality clause seeks to its boundary, and anything
// else (no clauses, or the leading column isn't the index's first key
// column) falls back to a full Range over the index -- matches() still
// re-checks every clause against each decoded row, so this bound only
// affects how much of the index is walked, never correctness.
func (t *Table) descendCursor(ib *indexBinding, q *Query) (*btree.ScanCursor, error) {
	if len(ib.desc.Keys) > 0 && len(q.clauses) > 0 {
		lead := q.clauses[0]
		if lead.column == ib.desc.Keys[0] {
			switch lead.operator {
			case opEQ, opGE, opGT:
				return ib.sorter.Seek(btree.Ascending, []interface{}{lead.value})
			case opLE, opLT:
				return ib.sorter.Seek(btree.Descending, []interface{}{lead.value})
			}
		}
	}
	return ib.sorter.Range(btree.Ascending)
}
