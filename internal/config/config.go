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

// Package config loads the agent's runtime configuration from the
// environment, the way the surrounding agent framework would inject it
// (this module never reads a config file of its own; spec.md treats
// configuration loading as a collaborator concern).
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// Config controls where the Artifact Cache, Spool Manager, and Wrapper
// Launcher look on disk, and how they reach the task server.
type Config struct {
	// CacheDir is the root of the content-addressed artifact cache (C in spec.md §3).
	CacheDir string

	// SpoolDir is choria.tasks_spool_dir: the root under which per-request
	// spool directories are created.
	SpoolDir string

	// BinRoot overrides the platform-default Puppet bin directory
	// (/opt/puppetlabs/puppet/bin on Unix, "C:\Program Files\Puppet
	// Labs\Puppet\bin" on Windows). Empty means use the platform default.
	BinRoot string

	// ServerBaseURL is the Puppet Server v3 tasks API base, e.g.
	// "https://puppet:8140".
	ServerBaseURL string

	// Environment is the Puppet environment used for metadata/list lookups.
	Environment string

	// HTTPTimeout bounds each metadata/list/download HTTP round trip.
	HTTPTimeout time.Duration

	// LogLevel is passed straight to internal/logging.New.
	LogLevel string
}

// Default returns the configuration an agent would run with if every
// environment variable below were unset.
func Default() Config {
	return Config{
		CacheDir:      "/opt/puppetlabs/puppet/cache/task-agent",
		SpoolDir:      "/opt/puppetlabs/puppet/cache/task-agent/spool",
		BinRoot:       "",
		ServerBaseURL: "https://localhost:8140",
		Environment:   "production",
		HTTPTimeout:   2 * time.Minute,
		LogLevel:      "info",
	}
}

// FromEnv loads Config from environment variables, falling back to
// Default for anything unset. Recognized variables:
//
//	TASK_AGENT_CACHE_DIR
//	TASK_AGENT_SPOOL_DIR
//	TASK_AGENT_BIN_ROOT
//	TASK_AGENT_SERVER_URL
//	TASK_AGENT_ENVIRONMENT
//	TASK_AGENT_HTTP_TIMEOUT (Go duration string, e.g. "90s")
//	TASK_AGENT_LOG_LEVEL
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("TASK_AGENT_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("TASK_AGENT_SPOOL_DIR"); v != "" {
		cfg.SpoolDir = v
	}
	if v := os.Getenv("TASK_AGENT_BIN_ROOT"); v != "" {
		cfg.BinRoot = v
	}
	if v := os.Getenv("TASK_AGENT_SERVER_URL"); v != "" {
		cfg.ServerBaseURL = v
	}
	if v := os.Getenv("TASK_AGENT_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("TASK_AGENT_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid TASK_AGENT_HTTP_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("TASK_AGENT_HTTP_TIMEOUT must be positive")
		}
		cfg.HTTPTimeout = d
	}
	if v := os.Getenv("TASK_AGENT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants that defaults already satisfy but an
// environment override could break.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache dir cannot be empty")
	}
	if c.SpoolDir == "" {
		return fmt.Errorf("spool dir cannot be empty")
	}
	if c.ServerBaseURL == "" {
		return fmt.Errorf("server base url cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	return nil
}

// BinaryRoot returns c.BinRoot if set, otherwise the platform default
// Puppet bin directory per spec.md §4.C.
func (c Config) BinaryRoot() string {
	if c.BinRoot != "" {
		return c.BinRoot
	}
	if runtime.GOOS == "windows" {
		return `C:\Program Files\Puppet Labs\Puppet\bin`
	}
	return "/opt/puppetlabs/puppet/bin"
}

