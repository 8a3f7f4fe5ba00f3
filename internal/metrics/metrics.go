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

// Package metrics exposes Prometheus instrumentation for the artifact
// cache and the wrapper launcher.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec
	cacheDownloadAttempt *prometheus.CounterVec
	cacheDownloadBytes   prometheus.Counter
	launcherSpawns       *prometheus.CounterVec
	launcherPollSeconds  *prometheus.HistogramVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Primarily used by tests
// to ensure clean state between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus
// exposition format, for a caller that wants to serve /metrics.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveCacheLookup records a single IsCached check.
func ObserveCacheLookup(hit bool) {
	mu.RLock()
	defer mu.RUnlock()
	if hit {
		cacheHits.WithLabelValues().Inc()
	} else {
		cacheMisses.WithLabelValues().Inc()
	}
}

// ObserveDownloadAttempt records one Download attempt (of up to two) and
// its outcome.
func ObserveDownloadAttempt(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	cacheDownloadAttempt.WithLabelValues(sanitizeLabel(outcome, "unknown")).Inc()
}

// AddDownloadBytes accumulates bytes streamed into the cache across all
// downloads.
func AddDownloadBytes(n int64) {
	if n <= 0 {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	cacheDownloadBytes.Add(float64(n))
}

// ObserveSpawn records the terminal outcome of a single wrapper launch.
func ObserveSpawn(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	launcherSpawns.WithLabelValues(sanitizeLabel(outcome, "unknown")).Inc()
}

// ObservePoll records how long a busy-wait poll loop (spawn handshake or
// completion wait) ran before it returned.
func ObservePoll(loop string, d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	launcherPollSeconds.WithLabelValues(sanitizeLabel(loop, "unknown")).Observe(d.Seconds())
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskagent",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total IsCached checks that found a valid cache entry.",
	}, []string{})

	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskagent",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total IsCached checks that did not find a valid cache entry.",
	}, []string{})

	downloadAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskagent",
		Subsystem: "cache",
		Name:      "download_attempts_total",
		Help:      "Total Download attempts grouped by outcome (ok, error).",
	}, []string{"outcome"})

	downloadBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskagent",
		Subsystem: "cache",
		Name:      "download_bytes_total",
		Help:      "Total bytes streamed from the server into the cache.",
	})

	spawns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskagent",
		Subsystem: "launcher",
		Name:      "spawns_total",
		Help:      "Total wrapper launches grouped by terminal outcome.",
	}, []string{"outcome"})

	pollSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskagent",
		Subsystem: "launcher",
		Name:      "poll_seconds",
		Help:      "Duration of the launcher's busy-wait poll loops.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"loop"})

	registry.MustRegister(hits, misses, downloadAttempts, downloadBytes, spawns, pollSeconds)

	reg = registry
	cacheHits = hits
	cacheMisses = misses
	cacheDownloadAttempt = downloadAttempts
	cacheDownloadBytes = downloadBytes
	launcherSpawns = spawns
	launcherPollSeconds = pollSeconds
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}
