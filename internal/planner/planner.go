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

// Package planner decides, for a task descriptor and a target platform,
// which executable to run, with what argv, environment, and stdin
// payload.
package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"taskagent/pkg/task"
)

// ErrInvalidInput is returned when a task's input payload must parse as
// a JSON object of string to string (input methods "both" and
// "environment") but does not.
var ErrInvalidInput = errors.New("planner: task input is not a JSON object of strings")

// Command is a fully planned invocation: a program, its arguments, and a
// human-readable description (following the shape the rest of this
// codebase already uses for planned OS-level commands).
type Command struct {
	Program     string
	Args        []string
	Description string
}

// Shell renders the command as a shell-ready string, quoting arguments
// that need it.
func (c Command) Shell() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Program)
	for _, arg := range c.Args {
		parts = append(parts, Quote(arg))
	}
	return strings.Join(parts, " ")
}

// Quote returns arg surrounded by single quotes if it contains shell
// metacharacters, unquoted otherwise.
func Quote(arg string) string {
	if arg == "" {
		return "''"
	}
	if strings.IndexFunc(arg, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\'', '"', '$', '`', '\\', '|', '&', ';', '<', '>', '(', ')':
			return true
		default:
			return false
		}
	}) == -1 {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
}

// Result is the full result of planning a task run: the command to spawn,
// the environment to give it, and the stdin payload (if any).
type Result struct {
	Command     Command
	Environment []string
	Stdin       string
	HasStdin    bool
}

// Platform carries the pieces of host information planning needs,
// injectable so tests never depend on the real OS or file layout.
type Platform struct {
	// Windows is true when planning for a Windows target.
	Windows bool

	// WrapperShimPath is the fixed path to PowershellShim.ps1, installed
	// beside the wrapper binary.
	WrapperShimPath string
}

// HostPlatform detects the real host platform. It exists only so
// callers outside this package's tests don't need to reach into
// runtime.GOOS themselves; tests construct Platform{} literals directly
// so Windows argv construction can be exercised from any host.
func HostPlatform(wrapperShimPath string) Platform {
	return Platform{Windows: runtime.GOOS == "windows", WrapperShimPath: wrapperShimPath}
}

// ResolveInputMethod implements the resolution rule: an explicit method
// wins; otherwise a ".ps1" first file means "powershell"; otherwise
// "both".
func ResolveInputMethod(d task.Descriptor) task.InputMethod {
	if d.InputMethod.Valid() {
		return d.InputMethod
	}
	if len(d.Files) > 0 && strings.EqualFold(filepath.Ext(d.Files[0].Filename), ".ps1") {
		return task.InputMethodPowerShell
	}
	return task.InputMethodBoth
}

// argvPrefix returns the Windows extension-based argv prefix, or nil on
// Unix or for an unrecognized extension (meaning "run the path
// directly").
func argvPrefix(windows bool, ext string) []string {
	if !windows {
		return nil
	}
	switch strings.ToLower(ext) {
	case ".rb":
		return []string{"ruby"}
	case ".pp":
		return []string{"puppet", "apply"}
	case ".ps1":
		return []string{"powershell", "-NoProfile", "-NonInteractive", "-NoLogo", "-ExecutionPolicy", "Bypass", "-File"}
	default:
		return nil
	}
}

// Plan builds the full invocation plan for descriptor d, whose files
// have already been cached at cachedPaths (one path per d.Files entry,
// same order).
func Plan(d task.Descriptor, cachedPaths []string, platform Platform) (Result, error) {
	if len(d.Files) == 0 {
		return Result{}, fmt.Errorf("planner: descriptor has no files")
	}
	if len(cachedPaths) != len(d.Files) {
		return Result{}, fmt.Errorf("planner: %d cached paths for %d files", len(cachedPaths), len(d.Files))
	}

	path := cachedPaths[0]
	method := ResolveInputMethod(d)

	var argv []string
	if method == task.InputMethodPowerShell {
		argv = append(argv, platform.WrapperShimPath)
		argv = append(argv, argvPrefix(true, ".ps1")...)
		argv = append(argv, path)
	} else {
		prefix := argvPrefix(platform.Windows, filepath.Ext(d.Files[0].Filename))
		argv = append(argv, prefix...)
		argv = append(argv, path)
	}

	env, err := buildEnvironment(d, method)
	if err != nil {
		return Result{}, err
	}

	plan := Result{
		Command: Command{
			Program:     argv[0],
			Args:        argv[1:],
			Description: fmt.Sprintf("run task %s", d.Task),
		},
		Environment: env,
	}

	switch method {
	case task.InputMethodBoth, task.InputMethodStdin, task.InputMethodPowerShell:
		plan.Stdin = d.Input
		plan.HasStdin = true
	}

	return plan, nil
}

// buildEnvironment emits PT_<key>=<value> for every key in d.Input when
// method requires it; d.Input must then parse as a JSON object of
// string to string.
func buildEnvironment(d task.Descriptor, method task.InputMethod) ([]string, error) {
	if method != task.InputMethodBoth && method != task.InputMethodEnvironment {
		return nil, nil
	}
	if strings.TrimSpace(d.Input) == "" {
		return nil, nil
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(d.Input), &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	env := make([]string, 0, len(values))
	for k, v := range values {
		env = append(env, fmt.Sprintf("PT_%s=%s", k, v))
	}
	return env, nil
}
