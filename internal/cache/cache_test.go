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

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskagent/internal/transport"
	"taskagent/pkg/task"
)

// fakeGetter serves fixed bodies per URL and can be told to fail the
// first N calls for a given URL before succeeding, to exercise the
// retry path.
type fakeGetter struct {
	mu        sync.Mutex
	bodies    map[string][]byte
	failFirst map[string]int
	calls     map[string]int
}

func newFakeGetter() *fakeGetter {
	return &fakeGetter{
		bodies:    map[string][]byte{},
		failFirst: map[string]int{},
		calls:     map[string]int{},
	}
}

func (f *fakeGetter) Get(_ context.Context, url string, _ map[string]string) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[url]++
	if n := f.failFirst[url]; n >= f.calls[url] {
		return &transport.Response{Code: http.StatusInternalServerError, Body: io.NopCloser(strings.NewReader("boom"))}, nil
	}

	body, ok := f.bodies[url]
	if !ok {
		return &transport.Response{Code: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("not found"))}, nil
	}
	return &transport.Response{Code: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}

func fileOf(t *testing.T, name string, content []byte) task.File {
	t.Helper()
	sum := sha256.Sum256(content)
	return task.File{
		Filename:  name,
		SHA256:    hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(content)),
		URI:       task.URI{Path: "https://server/files/" + name},
	}
}

func TestIsCached_BoundaryBehaviors(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, newFakeGetter(), nil)

	content := []byte("#!/bin/sh\necho hello\n")
	f := fileOf(t, "hello.sh", content)

	if c.IsCached(f) {
		t.Fatal("expected not cached before any write")
	}

	blobDir := filepath.Join(dir, f.SHA256)
	if err := os.MkdirAll(blobDir, 0o750); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(blobDir, f.Filename)

	// Directory exists but file missing.
	if c.IsCached(f) {
		t.Fatal("expected not cached when file missing")
	}

	if err := os.WriteFile(path, content, 0o750); err != nil {
		t.Fatal(err)
	}
	if !c.IsCached(f) {
		t.Fatal("expected cached once directory, file, size, and hash all agree")
	}

	// Size off by one.
	if err := os.WriteFile(path, content[:len(content)-1], 0o750); err != nil {
		t.Fatal(err)
	}
	if c.IsCached(f) {
		t.Fatal("expected not cached when size is off by one")
	}

	// Single-byte corruption, same size.
	corrupted := append([]byte(nil), content...)
	corrupted[0] ^= 0xFF
	if err := os.WriteFile(path, corrupted, 0o750); err != nil {
		t.Fatal(err)
	}
	if c.IsCached(f) {
		t.Fatal("expected not cached when a single byte is corrupted")
	}

	// Directory itself missing.
	if err := os.RemoveAll(blobDir); err != nil {
		t.Fatal(err)
	}
	if c.IsCached(f) {
		t.Fatal("expected not cached when directory is missing")
	}
}

func TestDownload_SucceedsOnSecondAttempt(t *testing.T) {
	dir := t.TempDir()
	getter := newFakeGetter()
	content := []byte("puppet task payload")
	f := fileOf(t, "task.sh", content)
	url := f.URI.Path + "?"

	getter.bodies[f.URI.Path+"?"] = content
	getter.failFirst[f.URI.Path+"?"] = 1

	c := New(dir, getter, nil)
	c.sleep = func(time.Duration) {}

	if err := c.EnsureCached(context.Background(), []task.File{f}); err != nil {
		t.Fatalf("expected success on second attempt, got %v", err)
	}
	if getter.calls[url] != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", getter.calls[url])
	}
	if !c.IsCached(f) {
		t.Fatal("expected file to be cached after EnsureCached succeeds")
	}
}

func TestDownload_SurfacesErrorAfterBothAttemptsFail(t *testing.T) {
	dir := t.TempDir()
	getter := newFakeGetter()
	content := []byte("payload")
	f := fileOf(t, "task.sh", content)
	url := f.URI.Path + "?"

	getter.failFirst[url] = 99 // always fail

	c := New(dir, getter, nil)
	c.sleep = func(time.Duration) {}

	err := c.EnsureCached(context.Background(), []task.File{f})
	if err == nil {
		t.Fatal("expected error when both attempts fail")
	}
	if getter.calls[url] != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", getter.calls[url])
	}
	if c.IsCached(f) {
		t.Fatal("file must not appear cached after both attempts fail")
	}
}

func TestDownload_DigestMismatchNeverInstalled(t *testing.T) {
	dir := t.TempDir()
	getter := newFakeGetter()
	content := []byte("expected content")
	f := fileOf(t, "task.sh", content)
	url := f.URI.Path + "?"

	// Serve different bytes than the hash promises.
	getter.bodies[url] = []byte("different content!!")

	c := New(dir, getter, nil)
	err := c.Download(context.Background(), f)
	if err == nil {
		t.Fatal("expected digest mismatch error")
	}
	if c.IsCached(f) {
		t.Fatal("a digest mismatch must never be visible as cached")
	}
}

func TestConcurrentEnsureCached_NoShortFileEverVisible(t *testing.T) {
	dir := t.TempDir()
	getter := newFakeGetter()
	content := make([]byte, 256*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	f := fileOf(t, "bigtask.sh", content)
	getter.bodies[f.URI.Path+"?"] = content

	c := New(dir, getter, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.EnsureCached(context.Background(), []task.File{f}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent EnsureCached failed: %v", err)
	}

	if !c.IsCached(f) {
		t.Fatal("expected file cached after concurrent downloads")
	}
	fi, err := os.Stat(filepath.Join(dir, f.SHA256, f.Filename))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != int64(len(content)) {
		t.Fatalf("final file must be full size, got %d", fi.Size())
	}
}
