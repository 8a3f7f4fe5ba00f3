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

// task-agent is the CLI harness around this module's components: the
// bus/RPC layer a real orchestration agent would sit behind is out of
// scope, but "run", "status", and "list-tasks" exercise the full A-F
// pipeline end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"taskagent/internal/cache"
	"taskagent/internal/config"
	"taskagent/internal/history"
	"taskagent/internal/launcher"
	"taskagent/internal/logging"
	"taskagent/internal/planner"
	"taskagent/internal/spool"
	"taskagent/internal/status"
	"taskagent/internal/taskdescriptor"
	"taskagent/internal/transport"
	"taskagent/pkg/task"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "task-agent:", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel).With(slog.String("component", "task-agent"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch os.Args[1] {
	case "run":
		runErr = runCommand(ctx, cfg, logger, os.Args[2:])
	case "status":
		runErr = statusCommand(cfg, os.Args[2:])
	case "list-tasks":
		runErr = listTasksCommand(ctx, cfg, os.Args[2:])
	case "history":
		runErr = historyCommand(ctx, cfg, os.Args[2:])
	case "version":
		fmt.Println(version)
		return
	default:
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		if coded, ok := runErr.(*launcher.CodedError); ok {
			logger.Error("command failed", slog.Int("code", coded.Code), slog.Any("err", coded.Err))
			os.Exit(coded.Code)
		}
		logger.Error("command failed", slog.Any("err", runErr))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: task-agent <run|status|list-tasks|history|version> [flags]")
}

func runCommand(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	requestID := fs.String("request-id", "", "request id for the spool directory (required)")
	taskName := fs.String("task", "", "qualified task name, e.g. mymodule::hello (required)")
	inputJSON := fs.String("input", "{}", "JSON task input")
	inputMethod := fs.String("input-method", "", "stdin|environment|both|powershell (default: resolved automatically)")
	wait := fs.Bool("wait", false, "block until the task completes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *requestID == "" || *taskName == "" {
		return fmt.Errorf("run: -request-id and -task are required")
	}

	getter := transport.NewDefault(cfg.HTTPTimeout)
	resolver := taskdescriptor.New(cfg.ServerBaseURL, getter)
	meta, err := resolver.Metadata(ctx, *taskName, cfg.Environment)
	if err != nil {
		return fmt.Errorf("run: resolve %s: %w", *taskName, err)
	}

	d := task.Descriptor{
		Task:        *taskName,
		Files:       meta.Files,
		Input:       *inputJSON,
		InputMethod: task.InputMethod(*inputMethod),
	}

	c := cache.New(cfg.CacheDir, getter, logger)
	if err := c.EnsureCached(ctx, d.Files); err != nil {
		return fmt.Errorf("run: ensure cached: %w", err)
	}

	sp := spool.New(cfg.SpoolDir)
	st := status.New(sp)
	hist, err := history.Open(ctx, filepath.Join(cfg.CacheDir, "history.db"))
	if err != nil {
		logger.Warn("history unavailable, continuing without an audit trail", slog.Any("err", err))
		hist = nil
	} else {
		defer hist.Close()
	}

	wrapperPath := filepath.Join(cfg.BinaryRoot(), wrapperBinaryName())
	shimPath := filepath.Join(cfg.BinaryRoot(), "PowershellShim.ps1")
	l := launcher.New(c, sp, st, wrapperPath, planner.HostPlatform(shimPath), logger)
	if hist != nil {
		l.History = hist
	}

	rec, err := l.Run(ctx, *requestID, d, *wait)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func statusCommand(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	requestID := fs.String("request-id", "", "request id to inspect (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *requestID == "" {
		return fmt.Errorf("status: -request-id is required")
	}

	sp := spool.New(cfg.SpoolDir)
	st := status.New(sp)
	rec, err := st.Status(*requestID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return printJSON(rec)
}

func listTasksCommand(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("list-tasks", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	getter := transport.NewDefault(cfg.HTTPTimeout)
	resolver := taskdescriptor.New(cfg.ServerBaseURL, getter)
	entries, err := resolver.List(ctx, cfg.Environment)
	if err != nil {
		return fmt.Errorf("list-tasks: %w", err)
	}
	return printJSON(entries)
}

func historyCommand(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum number of recent launches to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hist, err := history.Open(ctx, filepath.Join(cfg.CacheDir, "history.db"))
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer hist.Close()

	entries, err := hist.Recent(ctx, *limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return printJSON(entries)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wrapperBinaryName() string {
	if runtime.GOOS == "windows" {
		return "task_wrapper.exe"
	}
	return "task_wrapper"
}
