// Shoal is a Redfish aggregator service.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package atomicfile writes files so that readers never observe a
// partially written result: content lands in a temp file beside the
// destination, is synced, then renamed into place.
package atomicfile

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Write creates (or replaces) path with content, atomically with respect
// to any reader racing to open path. perm is applied to the final file
// before rename, matching the temp-file-then-rename discipline the cache
// and spool both rely on.
func Write(path string, content []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmpName := filepath.Join(dir, ".tmp-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteFrom applies perm to a temp file the caller has already written
// (via NewTemp) and renames it to its final destination. Used by the
// artifact cache, where the
// content is streamed from an HTTP body rather than held in memory.
func WriteFrom(tmpPath, path string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// NewTemp creates a temp file in dir whose name carries a uuid suffix so
// concurrent callers (and log correlation) never collide. The caller owns
// the returned file and must Close it before WriteFrom renames it.
func NewTemp(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "tmp-"+uuid.NewString()), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
}
