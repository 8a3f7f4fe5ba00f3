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

// task_wrapper is the detached child internal/launcher spawns for every
// task run. It reads its own log paths from TASK_WRAPPER_STDOUT and
// TASK_WRAPPER_STDERR, opens them first (the launcher's spawn handshake
// busy-waits on TASK_WRAPPER_STDOUT's existence, so opening it late
// would make that handshake meaningless), then reads the invocation
// payload from stdin, runs the named executable, and records its
// outcome into the files the payload names.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const wrapperFilePerm = 0o640

type payload struct {
	Executable string   `json:"executable"`
	Arguments  []string `json:"arguments"`
	Input      *string  `json:"input"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	ExitCode   string   `json:"exitcode"`
}

func main() {
	wrapperStdout, err := openLog(os.Getenv("TASK_WRAPPER_STDOUT"))
	if err != nil {
		// No log file to report into yet; this is the one failure mode
		// with nowhere safe to write.
		os.Exit(1)
	}
	defer wrapperStdout.Close()

	wrapperStderr, err := openLog(os.Getenv("TASK_WRAPPER_STDERR"))
	if err != nil {
		fmt.Fprintf(wrapperStdout, "task_wrapper: open wrapper stderr: %v\n", err)
		os.Exit(1)
	}
	defer wrapperStderr.Close()

	if err := run(wrapperStderr); err != nil {
		fmt.Fprintf(wrapperStderr, "task_wrapper: %v\n", err)
		os.Exit(1)
	}
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("log path not set")
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, wrapperFilePerm)
}

func run(wrapperStderr io.Writer) error {
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	taskStdout, err := os.OpenFile(p.Stdout, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, wrapperFilePerm)
	if err != nil {
		return fmt.Errorf("open task stdout: %w", err)
	}
	defer taskStdout.Close()

	taskStderr, err := os.OpenFile(p.Stderr, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, wrapperFilePerm)
	if err != nil {
		return fmt.Errorf("open task stderr: %w", err)
	}
	defer taskStderr.Close()

	cmd := exec.Command(p.Executable, p.Arguments...)
	cmd.Stdout = taskStdout
	cmd.Stderr = taskStderr
	if p.Input != nil {
		cmd.Stdin = strings.NewReader(*p.Input)
	}

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			fmt.Fprintf(wrapperStderr, "task_wrapper: run %s: %v\n", p.Executable, runErr)
			return nil
		}
	}

	if err := os.WriteFile(p.ExitCode, []byte(strconv.Itoa(exitCode)), wrapperFilePerm); err != nil {
		return fmt.Errorf("write exitcode: %w", err)
	}
	return nil
}
