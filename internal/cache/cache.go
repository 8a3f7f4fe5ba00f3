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

// Package cache implements the content-addressed local store for task
// artifacts: a file with hash H and name N lives at C/H/N, and a cached
// entry is valid only when directory, file, size, and hash all agree.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"taskagent/internal/atomicfile"
	"taskagent/internal/logging"
	"taskagent/internal/metrics"
	"taskagent/internal/transport"
	"taskagent/pkg/task"
)

const (
	dirPerm  = 0o750
	filePerm = 0o750

	downloadAttempts = 2
	retryPause       = 100 * time.Millisecond
)

// Cache is the content-addressed artifact store rooted at Dir.
type Cache struct {
	Dir    string
	Getter transport.Getter
	Logger *slog.Logger

	// sleep is overridden in tests to avoid real waits between retries.
	sleep func(time.Duration)
}

// New constructs a Cache rooted at dir, using getter for downloads.
func New(dir string, getter transport.Getter, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.New("info")
	}
	return &Cache{Dir: dir, Getter: getter, Logger: logger, sleep: time.Sleep}
}

// blobDir returns C/H for hash H.
func (c *Cache) blobDir(hash string) string {
	return filepath.Join(c.Dir, hash)
}

// blobPath returns C/H/N for hash H and filename N.
func (c *Cache) blobPath(hash, filename string) string {
	return filepath.Join(c.blobDir(hash), filename)
}

// Path returns the on-disk location f would occupy once cached,
// regardless of whether it currently is. Callers that have already
// confirmed IsCached(f) use this to build an argv or stdin payload that
// references the cached copy.
func (c *Cache) Path(f task.File) string {
	return c.blobPath(f.SHA256, f.Filename)
}

// IsCached reports whether f is present and byte-for-byte valid: its
// directory and file exist, the file's size matches, and its SHA-256
// matches. It re-hashes on every call — integrity is checked on read,
// not only at write time — so tampering or an interrupted previous
// download is never silently accepted.
func (c *Cache) IsCached(f task.File) bool {
	ok := c.isCachedLocked(f)
	metrics.ObserveCacheLookup(ok)
	return ok
}

func (c *Cache) isCachedLocked(f task.File) bool {
	dir := c.blobDir(f.SHA256)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}

	path := c.blobPath(f.SHA256, f.Filename)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	if fi.Size() != f.SizeBytes {
		return false
	}

	sum, err := sha256File(path)
	if err != nil {
		return false
	}
	return sum == f.SHA256
}

// EnsureCached guarantees every entry in files is cached, downloading
// whatever is missing. Each file gets up to two download attempts with a
// 100ms pause between; if a file still fails after both, the error from
// the final attempt is returned and the whole batch fails.
func (c *Cache) EnsureCached(ctx context.Context, files []task.File) error {
	for _, f := range files {
		if c.IsCached(f) {
			continue
		}

		var lastErr error
		for attempt := 1; attempt <= downloadAttempts; attempt++ {
			if err := c.Download(ctx, f); err != nil {
				lastErr = err
				metrics.ObserveDownloadAttempt("error")
				c.Logger.Warn("download attempt failed",
					slog.String("sha256", f.SHA256),
					slog.String("filename", f.Filename),
					slog.Int("attempt", attempt),
					slog.Any("err", err))
				if attempt < downloadAttempts {
					c.sleep(retryPause)
				}
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("cache: ensure %s (%s): %w", f.Filename, f.SHA256, lastErr)
		}
	}
	return nil
}

// Download fetches a single file into the cache. The URL is composed as
// uri.path + "?" + urlencode(uri.params): if uri.path already carries a
// query string, its parameters and the file's params are merged rather
// than concatenated with a second unconditional "?", which would produce
// a malformed URL (spec.md §9, Open Question).
func (c *Cache) Download(ctx context.Context, f task.File) error {
	composed, err := composeURL(f.URI.Path, f.URI.Params)
	if err != nil {
		return fmt.Errorf("cache: compose url: %w", err)
	}

	resp, err := c.Getter.Get(ctx, composed, map[string]string{"Accept": "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("cache: get %s: %w", composed, err)
	}
	defer resp.Close()

	if resp.Code != http.StatusOK {
		return fmt.Errorf("cache: get %s: unexpected status %d", composed, resp.Code)
	}

	tmp, err := atomicfile.NewTemp(c.Dir)
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		_ = tmp.Close()
		if removeTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(tmp, io.TeeReader(resp.Body, hasher))
	if err != nil {
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp file: %w", err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if sum != f.SHA256 {
		return fmt.Errorf("cache: digest mismatch for %s: expected %s, got %s", f.Filename, f.SHA256, sum)
	}
	if written != f.SizeBytes {
		return fmt.Errorf("cache: size mismatch for %s: expected %d, got %d", f.Filename, f.SizeBytes, written)
	}

	dest := c.blobPath(f.SHA256, f.Filename)
	if err := atomicfile.WriteFrom(tmpPath, dest, filePerm); err != nil {
		return fmt.Errorf("cache: install %s: %w", f.Filename, err)
	}
	removeTmp = false

	metrics.ObserveDownloadAttempt("ok")
	metrics.AddDownloadBytes(written)
	c.Logger.Info("cached file",
		slog.String("sha256", f.SHA256),
		slog.String("filename", f.Filename),
		slog.String("size", humanize.Bytes(uint64(written))))
	return nil
}

// composeURL merges path's own query string (if any) with params,
// params winning on key collision, and returns the combined URL.
func composeURL(path string, params map[string]string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}

	q := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, params[k])
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = true
	return u.String(), nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stat returns size/mtime for a cached blob without doing a full
// re-hash. It is diagnostic only: callers must never use it in place of
// IsCached to decide whether a file is safe to use.
type Entry struct {
	Size  int64
	MTime time.Time
}

func (c *Cache) Stat(hash, filename string) (Entry, bool) {
	fi, err := os.Stat(c.blobPath(hash, filename))
	if err != nil {
		return Entry{}, false
	}
	return Entry{Size: fi.Size(), MTime: fi.ModTime()}, true
}

