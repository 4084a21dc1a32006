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
	"github.com/flintdb/flint/pkg/config"
	"github.com/flintdb/flint/pkg/ferrors"
)

// Mode selects what checkpoint() does to the log file.
type Mode int

const (
	ModeTruncate Mode = iota
	ModeLog
)

func parseMode(s string) (Mode, error) {
	switch s {
	case "", "TRUNCATE":
		return ModeTruncate, nil
	case "LOG":
		return ModeLog, nil
	default:
		return 0, ferrors.New(ferrors.InvalidOperation, "wal: unknown mode %q", s)
	}
}

// Options is the WAL's flat configuration surface: every key is read
// directly off the schema descriptor's wal sub-object, using the same
// dotted-flat-key convention as pkg/config.Obj.
type Options struct {
	Mode                 Mode
	Enabled              bool
	CheckpointInterval   int
	BatchSize            int
	CompressionThreshold int
	PageData             bool
	DirectWriteThreshold int
}

// NewOptions decodes Options from cfg, applying the defaults a table with
// no wal.* keys configured should get.
func NewOptions(cfg config.Obj) (Options, error) {
	modeStr := cfg.OptionalString("wal.mode", "TRUNCATE")
	mode, err := parseMode(modeStr)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Mode:                 mode,
		Enabled:              cfg.OptionalBool("wal.enabled", true),
		CheckpointInterval:   cfg.OptionalInt("wal.checkpoint.interval", 1000),
		BatchSize:            cfg.OptionalInt("wal.batch.size", 4<<20),
		CompressionThreshold: cfg.OptionalInt("wal.compression.threshold", 4096),
		PageData:             cfg.OptionalBool("wal.page.data", false),
		DirectWriteThreshold: cfg.OptionalInt("wal.direct.write.threshold", 1<<20),
	}
	if err := cfg.Validate(); err != nil {
		return Options{}, ferrors.Wrap(ferrors.InvalidOperation, err, "wal: invalid options")
	}
	return opts, nil
}
