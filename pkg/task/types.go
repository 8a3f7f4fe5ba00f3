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

// Package task contains the shared data models passed between the
// descriptor resolver, the command planner, the spool manager, and the
// wrapper launcher.
package task

import "encoding/json"

// InputMethod is the convention by which task parameters reach the task.
type InputMethod string

const (
	InputMethodStdin       InputMethod = "stdin"
	InputMethodEnvironment InputMethod = "environment"
	InputMethodBoth        InputMethod = "both"
	InputMethodPowerShell  InputMethod = "powershell"
)

// Valid reports whether m is one of the four recognized input methods.
func (m InputMethod) Valid() bool {
	switch m {
	case InputMethodStdin, InputMethodEnvironment, InputMethodBoth, InputMethodPowerShell:
		return true
	default:
		return false
	}
}

// URI is the location a File's bytes are fetched from.
type URI struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
}

// File is one artifact a task needs on disk before it can run.
// Identity is the SHA256 field: two files with the same hash are the
// same cached object regardless of name or origin.
type File struct {
	Filename  string `json:"filename"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	URI       URI    `json:"uri"`
}

// Descriptor is the task invocation request as received over the message
// bus: the task name, its files, and the input payload to deliver to it.
type Descriptor struct {
	Task        string      `json:"task"`
	Files       []File      `json:"files"`
	Input       string      `json:"input"`
	InputMethod InputMethod `json:"input_method,omitempty"`
}

// Metadata is the server-provided description of a task (the response
// body of GET /puppet/v3/tasks/{module}/{task}), trimmed to the fields
// this module cares about. The response's "metadata" object is kept
// undecoded in Metadata; any other fields are dropped.
type Metadata struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Files    []File          `json:"files"`
}

// ListEntry is one row of GET /puppet/v3/tasks.
type ListEntry struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}
