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

// Package launcher spawns the detached task_wrapper process, carries it
// through the spawn handshake, and optionally waits for completion. It
// is the only component that writes wrapper_pid and wrapper_stdin; the
// wrapper process owns everything else in the spool.
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"taskagent/internal/atomicfile"
	"taskagent/internal/cache"
	"taskagent/internal/logging"
	"taskagent/internal/metrics"
	"taskagent/internal/planner"
	"taskagent/internal/spool"
	"taskagent/internal/status"
	"taskagent/pkg/task"
)

// Error codes for CodedError, matching the precondition / filesystem
// distinctions in spec.md §7.
const (
	CodeMissingWrapper = iota + 1
	CodeNotCached
	CodeRerun
	CodeSpoolCreate
	CodeSpawn
)

// CodedError wraps a launcher failure with a classification code, the
// way the teacher's dispatcher.Error pairs an exit code with the
// underlying error.
type CodedError struct {
	Code int
	Err  error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("launcher: %v", e.Err)
}

func (e *CodedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const (
	handshakePause   = 100 * time.Millisecond
	completionPause  = 100 * time.Millisecond
	wrapperFilePerm  = 0o640
	envWrapperStdout = "TASK_WRAPPER_STDOUT"
	envWrapperStderr = "TASK_WRAPPER_STDERR"
)

// wrapperPayload is the JSON object fed to task_wrapper on stdin.
type wrapperPayload struct {
	Executable string   `json:"executable"`
	Arguments  []string `json:"arguments"`
	Input      *string  `json:"input"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	ExitCode   string   `json:"exitcode"`
}

// HistoryRecorder is the narrow audit-trail contract the launcher
// writes through; internal/history implements it. Nil means no audit
// trail is recorded.
type HistoryRecorder interface {
	RecordSpawn(ctx context.Context, requestID, taskName string, spawnedAt time.Time) error
	RecordCompletion(ctx context.Context, requestID string, completedAt time.Time, exitCode int) error
}

// Launcher spawns the platform wrapper for planned task runs.
type Launcher struct {
	Cache       *cache.Cache
	Spool       *spool.Manager
	Status      *status.Observer
	WrapperPath string
	Platform    planner.Platform
	History     HistoryRecorder
	Logger      *slog.Logger

	sleep func(time.Duration)
}

// New constructs a Launcher. Any of cache/spool/status/history may be
// wired independently; wrapperPath is the absolute path to
// task_wrapper(.exe).
func New(c *cache.Cache, sp *spool.Manager, st *status.Observer, wrapperPath string, platform planner.Platform, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = logging.New("info")
	}
	return &Launcher{
		Cache:       c,
		Spool:       sp,
		Status:      st,
		WrapperPath: wrapperPath,
		Platform:    platform,
		Logger:      logger,
		sleep:       time.Sleep,
	}
}

// Run plans, spawns, and (optionally) waits on requestID's execution of
// descriptor, returning the final (or in-flight) status record.
func (l *Launcher) Run(ctx context.Context, requestID string, d task.Descriptor, wait bool) (status.Record, error) {
	if _, err := os.Stat(l.WrapperPath); err != nil {
		metrics.ObserveSpawn("precondition")
		return status.Record{}, &CodedError{Code: CodeMissingWrapper, Err: fmt.Errorf("wrapper executable not found: %w", err)}
	}

	if !allCached(l.Cache, d.Files) {
		metrics.ObserveSpawn("precondition")
		return status.Record{}, &CodedError{Code: CodeNotCached, Err: fmt.Errorf("task files are not fully cached")}
	}

	if l.Spool.Exists(requestID) {
		metrics.ObserveSpawn("precondition")
		return status.Record{}, &CodedError{Code: CodeRerun, Err: fmt.Errorf("request %s has already been launched", requestID)}
	}

	cachedPaths := make([]string, len(d.Files))
	for i, f := range d.Files {
		cachedPaths[i] = l.Cache.Path(f)
	}

	plan, err := planner.Plan(d, cachedPaths, l.Platform)
	if err != nil {
		metrics.ObserveSpawn("precondition")
		return status.Record{}, &CodedError{Code: CodeNotCached, Err: err}
	}

	if err := l.Spool.Create(requestID); err != nil {
		metrics.ObserveSpawn("filesystem")
		return status.Record{}, &CodedError{Code: CodeSpoolCreate, Err: err}
	}

	stdoutPath := l.Spool.File(requestID, spool.Stdout)
	stderrPath := l.Spool.File(requestID, spool.Stderr)
	exitCodePath := l.Spool.File(requestID, spool.ExitCode)
	wrapperStdoutPath := l.Spool.File(requestID, spool.WrapperStdout)
	wrapperStderrPath := l.Spool.File(requestID, spool.WrapperStderr)

	payload := wrapperPayload{
		Executable: plan.Command.Program,
		Arguments:  plan.Command.Args,
		Stdout:     stdoutPath,
		Stderr:     stderrPath,
		ExitCode:   exitCodePath,
	}
	if plan.HasStdin {
		payload.Input = &plan.Stdin
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return status.Record{}, &CodedError{Code: CodeSpawn, Err: fmt.Errorf("encode wrapper payload: %w", err)}
	}

	wrapperStdinPath := l.Spool.File(requestID, spool.WrapperStdin)
	if err := atomicfile.Write(wrapperStdinPath, body, wrapperFilePerm); err != nil {
		metrics.ObserveSpawn("filesystem")
		return status.Record{}, &CodedError{Code: CodeSpawn, Err: fmt.Errorf("write wrapper stdin: %w", err)}
	}

	stdinFile, err := os.Open(wrapperStdinPath)
	if err != nil {
		metrics.ObserveSpawn("filesystem")
		return status.Record{}, &CodedError{Code: CodeSpawn, Err: fmt.Errorf("open wrapper stdin: %w", err)}
	}
	defer stdinFile.Close()

	// A detached child must outlive this call and any context
	// cancellation, so it is spawned with exec.Command, not
	// exec.CommandContext.
	cmd := exec.Command(l.WrapperPath)
	cmd.Stdin = stdinFile
	cmd.Dir = wrapperWorkingDir()
	cmd.Env = append(append([]string{}, os.Environ()...), plan.Environment...)
	cmd.Env = append(cmd.Env, envWrapperStdout+"="+wrapperStdoutPath, envWrapperStderr+"="+wrapperStderrPath)
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		metrics.ObserveSpawn("error")
		return status.Record{}, &CodedError{Code: CodeSpawn, Err: fmt.Errorf("spawn wrapper: %w", err)}
	}

	handshakeStart := time.Now()
	for {
		if _, err := os.Stat(wrapperStdoutPath); err == nil {
			break
		}
		l.sleepFn()(handshakePause)
	}
	metrics.ObservePoll("handshake", time.Since(handshakeStart))

	pid := cmd.Process.Pid
	if err := atomicfile.Write(l.Spool.File(requestID, spool.WrapperPID), []byte(strconv.Itoa(pid)), wrapperFilePerm); err != nil {
		metrics.ObserveSpawn("filesystem")
		return status.Record{}, &CodedError{Code: CodeSpawn, Err: fmt.Errorf("write wrapper pid: %w", err)}
	}

	if err := cmd.Process.Release(); err != nil {
		l.Logger.Warn("failed to release wrapper process", slog.String("requestid", requestID), slog.Any("err", err))
	}

	metrics.ObserveSpawn("ok")
	if l.History != nil {
		if err := l.History.RecordSpawn(ctx, requestID, d.Task, time.Now()); err != nil {
			l.Logger.Warn("history record failed", slog.String("requestid", requestID), slog.Any("err", err))
		}
	}

	if wait {
		waitStart := time.Now()
		for !l.Status.IsComplete(requestID) {
			l.sleepFn()(completionPause)
		}
		metrics.ObservePoll("completion", time.Since(waitStart))
	}

	rec, err := l.Status.Status(requestID)
	if err != nil {
		return rec, err
	}

	if wait && l.History != nil && rec.Completed {
		if err := l.History.RecordCompletion(ctx, requestID, time.Now(), rec.ExitCode); err != nil {
			l.Logger.Warn("history completion record failed", slog.String("requestid", requestID), slog.Any("err", err))
		}
	}

	return rec, nil
}

func (l *Launcher) sleepFn() func(time.Duration) {
	if l.sleep != nil {
		return l.sleep
	}
	return time.Sleep
}

func allCached(c *cache.Cache, files []task.File) bool {
	for _, f := range files {
		if !c.IsCached(f) {
			return false
		}
	}
	return true
}
