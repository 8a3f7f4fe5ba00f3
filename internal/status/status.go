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

// Package status answers "ran?", "complete?", "runtime", and "result"
// purely by reading the spool filesystem. It never writes to the
// spool: progress is reported by the wrapper process and the launcher,
// this package only observes it.
package status

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"taskagent/internal/spool"
)

// defaultExitCode is what Status reports when the exitcode file is
// absent.
const defaultExitCode = 127

// Record is the full lifecycle snapshot for one request.
type Record struct {
	Spool          string
	Stdout         string
	Stderr         string
	ExitCode       int
	Runtime        time.Duration
	StartTime      time.Time
	WrapperSpawned bool
	WrapperError   string
	WrapperPID     int
	HasWrapperPID  bool
	Completed      bool
}

// Observer reads a Manager's spool directories to report task status.
type Observer struct {
	Spool *spool.Manager

	// now is overridden in tests so Runtime's "still running" branch is
	// deterministic.
	now func() time.Time
}

// New constructs an Observer over m.
func New(m *spool.Manager) *Observer {
	return &Observer{Spool: m, now: time.Now}
}

func nonEmptyFile(path string) (exists bool, size int64) {
	info, err := os.Stat(path)
	if err != nil {
		return false, 0
	}
	return true, info.Size()
}

// IsComplete reports whether requestID's task has finished, per spec:
// true iff wrapper_stderr exists with non-zero size, or exitcode
// exists with non-zero size. Either is terminal and both may hold.
func (o *Observer) IsComplete(requestID string) bool {
	if _, size := nonEmptyFile(o.Spool.File(requestID, spool.WrapperStderr)); size > 0 {
		return true
	}
	if _, size := nonEmptyFile(o.Spool.File(requestID, spool.ExitCode)); size > 0 {
		return true
	}
	return false
}

// Runtime reports how long requestID has been (or was) running.
func (o *Observer) Runtime(requestID string) time.Duration {
	pidInfo, pidErr := os.Stat(o.Spool.File(requestID, spool.WrapperPID))

	complete := o.IsComplete(requestID)
	if complete {
		if exitInfo, err := os.Stat(o.Spool.File(requestID, spool.ExitCode)); err == nil && exitInfo.Size() > 0 {
			if pidErr != nil {
				return 0
			}
			return exitInfo.ModTime().Sub(pidInfo.ModTime())
		}
		// Wrapper-level failure only: no meaningful start-to-finish span.
		return 0
	}

	if pidErr != nil {
		return 0
	}
	return o.now().Sub(pidInfo.ModTime())
}

// Status populates a full Record for requestID. The spool must already
// exist; callers that have not launched requestID get an error.
func (o *Observer) Status(requestID string) (Record, error) {
	if !o.Spool.Exists(requestID) {
		return Record{}, fmt.Errorf("task has not been requested")
	}

	rec := Record{Spool: o.Spool.Path(requestID)}

	if b, err := os.ReadFile(o.Spool.File(requestID, spool.Stdout)); err == nil {
		rec.Stdout = string(b)
	}
	if b, err := os.ReadFile(o.Spool.File(requestID, spool.Stderr)); err == nil {
		rec.Stderr = string(b)
	}

	rec.ExitCode = defaultExitCode
	if b, err := os.ReadFile(o.Spool.File(requestID, spool.ExitCode)); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil {
			rec.ExitCode = n
		}
	}

	rec.Runtime = o.Runtime(requestID)

	if pidInfo, err := os.Stat(o.Spool.File(requestID, spool.WrapperPID)); err == nil {
		rec.StartTime = pidInfo.ModTime().UTC()
	} else {
		rec.StartTime = time.Unix(0, 0).UTC()
	}

	stderrExists, stderrSize := nonEmptyFile(o.Spool.File(requestID, spool.WrapperStderr))
	rec.WrapperSpawned = stderrExists && stderrSize == 0
	if stderrSize > 0 {
		if b, err := os.ReadFile(o.Spool.File(requestID, spool.WrapperStderr)); err == nil {
			rec.WrapperError = string(b)
		}
	}

	if b, err := os.ReadFile(o.Spool.File(requestID, spool.WrapperPID)); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil {
			rec.WrapperPID = n
			rec.HasWrapperPID = true
		}
	}

	rec.Completed = o.IsComplete(requestID)
	if rec.WrapperError != "" {
		rec.Completed = true
	}

	return rec, nil
}
