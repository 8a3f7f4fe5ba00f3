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

package taskdescriptor

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"taskagent/internal/transport"
)

func TestParseName(t *testing.T) {
	cases := []struct {
		name       string
		qname      string
		wantModule string
		wantTask   string
	}{
		{"single segment defaults to init", "mymodule", "mymodule", "init"},
		{"two segments", "mymodule::hello", "mymodule", "hello"},
		{"excess segments ignored", "a::b::c", "a", "b"},
		{"deeply excess segments still ignored", "a::b::c::d::e", "a", "b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			module, task := ParseName(tc.qname)
			if module != tc.wantModule || task != tc.wantTask {
				t.Errorf("ParseName(%q) = (%q, %q), want (%q, %q)", tc.qname, module, task, tc.wantModule, tc.wantTask)
			}
		})
	}
}

// fakeGetter records the last URL it was asked to GET and serves a fixed
// body and status for it.
type fakeGetter struct {
	lastURL string
	code    int
	body    string
}

func (f *fakeGetter) Get(_ context.Context, u string, _ map[string]string) (*transport.Response, error) {
	f.lastURL = u
	return &transport.Response{Code: f.code, Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestMetadata_BuildsURLAndDecodesBody(t *testing.T) {
	getter := &fakeGetter{code: http.StatusOK, body: `{"files":[{"filename":"hello.sh","sha256":"abc","size_bytes":3}]}`}
	r := New("https://puppet:8140", getter)

	meta, err := r.Metadata(context.Background(), "mymodule::hello", "production")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meta.Files) != 1 || meta.Files[0].Filename != "hello.sh" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	wantURL := "https://puppet:8140/puppet/v3/tasks/mymodule/hello?environment=production"
	if getter.lastURL != wantURL {
		t.Errorf("got url %q, want %q", getter.lastURL, wantURL)
	}
}

func TestMetadata_EscapesQueryParameter(t *testing.T) {
	getter := &fakeGetter{code: http.StatusOK, body: `{"files":[]}`}
	r := New("https://puppet:8140", getter)

	if _, err := r.Metadata(context.Background(), "mymodule::hello", "dev & test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := url.Parse(getter.lastURL)
	if err != nil {
		t.Fatalf("requested url did not parse: %v", err)
	}
	if got := parsed.Query().Get("environment"); got != "dev & test" {
		t.Errorf("expected environment to round-trip through urlencoding, got %q", got)
	}
}

func TestMetadata_NonOKStatusReturnsHTTPError(t *testing.T) {
	getter := &fakeGetter{code: http.StatusNotFound, body: "not found"}
	r := New("https://puppet:8140", getter)

	_, err := r.Metadata(context.Background(), "mymodule::hello", "production")
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected code 404, got %d", httpErr.Code)
	}
}

func TestList_DecodesAndSortsByName(t *testing.T) {
	getter := &fakeGetter{code: http.StatusOK, body: `[{"name":"zzz"},{"name":"aaa"},{"name":"mmm"}]`}
	r := New("https://puppet:8140", getter)

	entries, err := r.List(context.Background(), "production")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Name != "aaa" || entries[1].Name != "mmm" || entries[2].Name != "zzz" {
		t.Errorf("expected ascending sort, got %+v", entries)
	}

	wantURL := "https://puppet:8140/puppet/v3/tasks?environment=production"
	if getter.lastURL != wantURL {
		t.Errorf("got url %q, want %q", getter.lastURL, wantURL)
	}
}

func TestList_NonOKStatusReturnsHTTPError(t *testing.T) {
	getter := &fakeGetter{code: http.StatusInternalServerError, body: "boom"}
	r := New("https://puppet:8140", getter)

	_, err := r.List(context.Background(), "production")
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if _, ok := err.(*HTTPError); !ok {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
}
