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
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/flintdb/flint/pkg/ferrors"
)

// DescriptorSuffix is the sidecar file extension reserved for the schema
// descriptor.
const DescriptorSuffix = ".desc"

// DescriptorPath returns the sidecar descriptor path for a table whose row
// heap lives at tablePath (e.g. "orders.tbl" -> "orders.desc").
func DescriptorPath(tablePath string) string {
	ext := filepath.Ext(tablePath)
	return tablePath[:len(tablePath)-len(ext)] + DescriptorSuffix
}

// LoadMeta reads and validates a schema descriptor previously written by
// SaveMeta.
func LoadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.Wrap(ferrors.TableNotFound, err, "schema descriptor %q not found", path)
		}
		return nil, ferrors.Wrap(ferrors.StorageReadError, err, "reading schema descriptor %q", path)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, ferrors.Wrap(ferrors.InternalError, err, "decoding schema descriptor %q", path)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SaveMeta writes meta to path atomically: the document is serialized to a
// temp file in the same directory, synced, then renamed over the final
// path, so a crash mid-write never leaves a half-written descriptor behind.
func SaveMeta(path string, meta *Meta) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return ferrors.Wrap(ferrors.InternalError, err, "encoding schema descriptor")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "creating temp descriptor in %q", dir)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ferrors.Wrap(ferrors.StorageWriteError, err, "writing temp descriptor %q", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ferrors.Wrap(ferrors.StorageWriteError, err, "syncing temp descriptor %q", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "closing temp descriptor %q", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return ferrors.Wrap(ferrors.StorageWriteError, err, "renaming descriptor into place at %q", path)
	}
	success = true
	return nil
}
