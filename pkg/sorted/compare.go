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

package sorted

import "bytes"

// CompareValues orders two key-column tuples element by element, stopping
// at the first column that differs. It understands the comparable Go
// kinds a decoded row column naturally takes: pkg/rowcodec decodes INT16/
// INT32/INT64 and TIME to int64, DECIMAL to float64, STRING to string,
// BYTES to []byte, BIT to bool, and DATE to a Date value that supplies its
// own ordering through the comparer escape hatch below -- so this one
// comparator serves every column type in the closed set without needing a
// per-type variant.
func CompareValues(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareOne(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// comparer lets a column value supply its own ordering against another
// value of the same dynamic type, for column types CompareValues doesn't
// know natively.
type comparer interface {
	CompareTo(other any) int
}

func compareOne(a, b any) int {
	if ca, ok := a.(comparer); ok {
		return ca.CompareTo(b)
	}
	switch av := a.(type) {
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return bytes.Compare([]byte(av), []byte(b.(string)))
	case []byte:
		return bytes.Compare(av, b.([]byte))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case bv:
			return -1
		default:
			return 1
		}
	default:
		panic("sorted: CompareValues: unsupported column value type")
	}
}
