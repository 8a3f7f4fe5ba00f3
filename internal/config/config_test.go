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

package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.CacheDir == "" {
		t.Error("expected a non-empty default cache dir")
	}
	if cfg.ServerBaseURL != "https://localhost:8140" {
		t.Errorf("unexpected default server url: %s", cfg.ServerBaseURL)
	}
	if cfg.HTTPTimeout != 2*time.Minute {
		t.Errorf("unexpected default http timeout: %v", cfg.HTTPTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(*testing.T, Config)
		wantErr bool
	}{
		{
			name:    "defaults when nothing set",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg Config) {
				if cfg.Environment != "production" {
					t.Errorf("unexpected environment: %s", cfg.Environment)
				}
			},
		},
		{
			name: "overrides applied",
			envVars: map[string]string{
				"TASK_AGENT_CACHE_DIR":    "/tmp/cache",
				"TASK_AGENT_SPOOL_DIR":    "/tmp/spool",
				"TASK_AGENT_SERVER_URL":   "https://puppet.example:8140",
				"TASK_AGENT_ENVIRONMENT":  "staging",
				"TASK_AGENT_HTTP_TIMEOUT": "45s",
				"TASK_AGENT_LOG_LEVEL":    "debug",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.CacheDir != "/tmp/cache" {
					t.Errorf("unexpected cache dir: %s", cfg.CacheDir)
				}
				if cfg.HTTPTimeout != 45*time.Second {
					t.Errorf("unexpected http timeout: %v", cfg.HTTPTimeout)
				}
				if cfg.LogLevel != "debug" {
					t.Errorf("unexpected log level: %s", cfg.LogLevel)
				}
			},
		},
		{
			name: "invalid duration errors",
			envVars: map[string]string{
				"TASK_AGENT_HTTP_TIMEOUT": "not-a-duration",
			},
			wantErr: true,
		},
		{
			name: "zero duration errors",
			envVars: map[string]string{
				"TASK_AGENT_HTTP_TIMEOUT": "0s",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := FromEnv()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestBinaryRoot(t *testing.T) {
	cfg := Default()
	cfg.BinRoot = "/custom/bin"
	if got := cfg.BinaryRoot(); got != "/custom/bin" {
		t.Errorf("expected override to win, got %s", got)
	}

	cfg.BinRoot = ""
	if got := cfg.BinaryRoot(); got == "" {
		t.Error("expected a non-empty platform default")
	}
}
