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

// Package transport defines the HTTP collaborator boundary: certificate
// handling and server discovery belong to the surrounding agent
// framework (spec.md §1, "out of scope"), so this package exposes only
// the narrow Getter contract the cache and the task descriptor resolver
// need, plus a default implementation good enough to exercise both in
// tests and in a standalone binary.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is the minimal shape components here need from an HTTP
// response: a status code and a readable body.
type Response struct {
	Code int
	Body io.ReadCloser
}

// Close releases the underlying body. Safe to call on a zero Response.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Getter issues a GET request and returns a streaming response. It is
// the "opaque HttpGet(path, headers) -> Response" capability from
// spec.md §6; implementations own TLS, hostnames, and retries below the
// single-attempt granularity this package calls with.
type Getter interface {
	Get(ctx context.Context, url string, headers map[string]string) (*Response, error)
}

// Default is a Getter backed by net/http with a bounded timeout. It does
// no certificate pinning or discovery of its own — that remains the
// surrounding agent's responsibility — but it is a real implementation,
// not a stub, so the rest of this module can run standalone.
type Default struct {
	Client *http.Client
}

// NewDefault builds a Default Getter with the given per-request timeout.
func NewDefault(timeout time.Duration) *Default {
	return &Default{Client: &http.Client{Timeout: timeout}}
}

// Get performs a single GET request with the given headers.
func (d *Default) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	return &Response{Code: resp.StatusCode, Body: resp.Body}, nil
}
