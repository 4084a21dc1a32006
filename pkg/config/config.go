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

// Package config provides a validated-accessor JSON configuration object.
// It backs the flat configuration surface recognized by the storage and WAL
// layers (wal.mode, wal.checkpoint.interval, storage.increment, and so on):
// a map decoded from the schema descriptor's "storage" and "wal"
// sub-objects.
package config

import (
	"fmt"
	"strings"
)

// Obj is a JSON-shaped configuration map with typed, validated accessors.
// Every lookup records the key it touched; Validate reports any key that
// was never looked up (a typo in a config file) and any error accumulated
// by a typed accessor along the way.
type Obj map[string]interface{}

func (o Obj) noteKnownKey(key string) {
	if o == nil {
		return
	}
	kk, ok := o["_knownkeys"].(map[string]bool)
	if !ok {
		kk = make(map[string]bool)
		o["_knownkeys"] = kk
	}
	kk[key] = true
}

func (o Obj) appendError(err error) {
	if ei, ok := o["_errors"]; ok {
		o["_errors"] = append(ei.([]error), err)
	} else {
		o["_errors"] = []error{err}
	}
}

func (o Obj) RequiredString(key string) string { return o.string(key, nil) }
func (o Obj) OptionalString(key, def string) string { return o.string(key, &def) }

func (o Obj) string(key string, def *string) string {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("config: missing required key %q (string)", key))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		o.appendError(fmt.Errorf("config: key %q should be a string, got %T", key, v))
		return ""
	}
	return s
}

func (o Obj) RequiredInt(key string) int     { return o.int(key, nil) }
func (o Obj) OptionalInt(key string, def int) int { return o.int(key, &def) }

func (o Obj) int(key string, def *int) int {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("config: missing required key %q (int)", key))
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		o.appendError(fmt.Errorf("config: key %q should be a number, got %T", key, v))
		return 0
	}
}

func (o Obj) OptionalBool(key string, def bool) bool {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		o.appendError(fmt.Errorf("config: key %q should be a bool, got %T", key, v))
		return def
	}
	return b
}

func (o Obj) OptionalInt64(key string, def int64) int64 {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		o.appendError(fmt.Errorf("config: key %q should be a number, got %T", key, v))
		return def
	}
}

// lookForUnknownKeys appends an error for every key that was never read
// through one of the typed accessors above (excluding the bookkeeping keys
// this package adds itself, and any key starting with "_", a permitted
// comment convention).
func (o Obj) lookForUnknownKeys() {
	known, _ := o["_knownkeys"].(map[string]bool)
	for k := range o {
		if known != nil && known[k] {
			continue
		}
		if strings.HasPrefix(k, "_") {
			continue
		}
		o.appendError(fmt.Errorf("config: unknown key %q", k))
	}
}

// Validate checks for unread keys and returns the first accumulated error,
// or a combined error message when there is more than one.
func (o Obj) Validate() error {
	o.lookForUnknownKeys()
	ei, ok := o["_errors"]
	if !ok {
		return nil
	}
	errs := ei.([]error)
	if len(errs) == 1 {
		return errs[0]
	}
	strs := make([]string, len(errs))
	for i, e := range errs {
		strs[i] = e.Error()
	}
	return fmt.Errorf("config: multiple errors: %s", strings.Join(strs, "; "))
}
