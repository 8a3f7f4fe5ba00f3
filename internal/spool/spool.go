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

// Package spool owns the per-request directory layout that the rest of
// this module treats as a filesystem state machine: presence and size
// of well-known files, not any in-memory record, is what "running" or
// "complete" means.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const dirPerm = 0o750

// Well-known file names within a request's spool directory.
const (
	WrapperStdin  = "wrapper_stdin"
	WrapperStdout = "wrapper_stdout"
	WrapperStderr = "wrapper_stderr"
	WrapperPID    = "wrapper_pid"
	Stdout        = "stdout"
	Stderr        = "stderr"
	ExitCode      = "exitcode"
)

// requestIDPattern is the allow-list for caller-supplied request IDs.
// It is deliberately narrow: the ID becomes a directory name directly
// under Root, so anything containing a path separator or "." could
// otherwise escape the spool root.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Manager lays out per-request spool directories under Root, the
// directory the host provides via choria.tasks_spool_dir.
type Manager struct {
	Root string
}

// New constructs a Manager rooted at root.
func New(root string) *Manager {
	return &Manager{Root: root}
}

// ValidateID rejects request IDs that are not a single safe path
// segment, so a malicious or malformed ID can never address a path
// outside Root.
func ValidateID(requestID string) error {
	if !requestIDPattern.MatchString(requestID) {
		return fmt.Errorf("spool: invalid request id %q", requestID)
	}
	return nil
}

// Path returns root/requestid. Callers must validate requestID first.
func (m *Manager) Path(requestID string) string {
	return filepath.Join(m.Root, requestID)
}

// Create makes the spool directory for requestID, mode 0o750. It does
// not pre-create any of the well-known state files — their absence is
// itself meaningful.
func (m *Manager) Create(requestID string) error {
	if err := ValidateID(requestID); err != nil {
		return err
	}
	if err := os.MkdirAll(m.Path(requestID), dirPerm); err != nil {
		return fmt.Errorf("spool: create %s: %w", requestID, err)
	}
	return nil
}

// Exists reports whether requestID's spool directory already exists,
// the signal used to detect and reject reruns.
func (m *Manager) Exists(requestID string) bool {
	if err := ValidateID(requestID); err != nil {
		return false
	}
	info, err := os.Stat(m.Path(requestID))
	return err == nil && info.IsDir()
}

// File returns the path to one of the well-known files within
// requestID's spool directory.
func (m *Manager) File(requestID, name string) string {
	return filepath.Join(m.Path(requestID), name)
}
