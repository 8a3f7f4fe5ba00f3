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

// Package taskdescriptor resolves a qualified task name against the
// Puppet Server v3 tasks API: parsing "module::task" names, fetching a
// single task's metadata, and enumerating the task catalog.
package taskdescriptor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"taskagent/internal/transport"
	"taskagent/pkg/task"
)

// Resolver fetches task descriptors and the task catalog from a Puppet
// Server v3-compatible endpoint.
type Resolver struct {
	BaseURL string
	Getter  transport.Getter
}

// New constructs a Resolver against baseURL (e.g. "https://puppet:8140").
func New(baseURL string, getter transport.Getter) *Resolver {
	return &Resolver{BaseURL: strings.TrimRight(baseURL, "/"), Getter: getter}
}

// ParseName splits a qualified task name on "::". A single segment
// names the module's default task, "init". Only the first two segments
// are significant: module is segment 0, task is segment 1. Additional
// segments are accepted but ignored, matching how Puppet task names are
// conventionally written ("module::task") — there is no third level in
// the naming scheme, so excess segments carry no meaning to resolve.
func ParseName(qname string) (module, taskName string) {
	parts := strings.Split(qname, "::")
	if len(parts) == 1 {
		return parts[0], "init"
	}
	return parts[0], parts[1]
}

// HTTPError is returned when the server responds with a non-200 status.
type HTTPError struct {
	URL  string
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("taskdescriptor: %s: unexpected status %d", e.URL, e.Code)
}

// Metadata fetches and parses a single task's descriptor.
func (r *Resolver) Metadata(ctx context.Context, qname, environment string) (task.Metadata, error) {
	module, taskName := ParseName(qname)

	u := fmt.Sprintf("%s/puppet/v3/tasks/%s/%s?environment=%s",
		r.BaseURL, url.PathEscape(module), url.PathEscape(taskName), url.QueryEscape(environment))

	resp, err := r.Getter.Get(ctx, u, nil)
	if err != nil {
		return task.Metadata{}, fmt.Errorf("taskdescriptor: metadata %s: %w", qname, err)
	}
	defer resp.Close()

	if resp.Code != http.StatusOK {
		return task.Metadata{}, &HTTPError{URL: u, Code: resp.Code}
	}

	var meta task.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return task.Metadata{}, fmt.Errorf("taskdescriptor: decode metadata %s: %w", qname, err)
	}
	return meta, nil
}

// List enumerates the task catalog for environment, sorted by name
// ascending (lexicographic).
func (r *Resolver) List(ctx context.Context, environment string) ([]task.ListEntry, error) {
	u := fmt.Sprintf("%s/puppet/v3/tasks?environment=%s", r.BaseURL, url.QueryEscape(environment))

	resp, err := r.Getter.Get(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("taskdescriptor: list: %w", err)
	}
	defer resp.Close()

	if resp.Code != http.StatusOK {
		return nil, &HTTPError{URL: u, Code: resp.Code}
	}

	var entries []task.ListEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("taskdescriptor: decode list: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
