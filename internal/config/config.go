// Package config reads the environment inputs §6 of the core design
// recognises: VELO_IO_POLICY (worker-priority hints the orchestrator and
// downloader scale their concurrency by) and the VELO_API_TIMEOUT /
// VELO_DOWNLOAD_TIMEOUT / VELO_TAP_UPDATE_TIMEOUT overrides used by the
// downloader and tap manager. VELO_LOG_LEVEL is handled directly by
// internal/log, and VELO_PREFIX by internal/layout; this package only owns
// the knobs that don't belong to one specific subsystem.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// EnvIOPolicy selects a worker-priority hint (§6).
	EnvIOPolicy = "VELO_IO_POLICY"

	// EnvAPITimeout overrides the downloader's per-request timeout.
	EnvAPITimeout = "VELO_API_TIMEOUT"

	// EnvTapUpdateTimeout overrides the tap manager's VCS update timeout.
	EnvTapUpdateTimeout = "VELO_TAP_UPDATE_TIMEOUT"

	// EnvDownloadTimeout overrides the downloader's per-resource timeout.
	EnvDownloadTimeout = "VELO_DOWNLOAD_TIMEOUT"

	// DefaultAPITimeout is the downloader's fixed per-request timeout (§4.5).
	DefaultAPITimeout = 30 * time.Second

	// DefaultTapUpdateTimeout is the tap manager's total update timeout (§9).
	DefaultTapUpdateTimeout = 120 * time.Second

	// DefaultDownloadTimeout is the downloader's fixed per-resource timeout,
	// bounding an entire bottle fetch regardless of how many chunk requests
	// it takes (§4.5).
	DefaultDownloadTimeout = 300 * time.Second
)

// IOPolicy hints how aggressively concurrent workers (download segments,
// parallel package fetches) should be scheduled. It does not change
// correctness, only throughput/resource tradeoffs.
type IOPolicy int

const (
	// IOPolicyDefault uses the downloader and orchestrator's built-in
	// concurrency caps unmodified.
	IOPolicyDefault IOPolicy = iota
	// IOPolicyPerformance doubles the default concurrency caps.
	IOPolicyPerformance
	// IOPolicyEfficiency halves the default concurrency caps (minimum 1).
	IOPolicyEfficiency
)

func (p IOPolicy) String() string {
	switch p {
	case IOPolicyPerformance:
		return "performance"
	case IOPolicyEfficiency:
		return "efficiency"
	default:
		return "default"
	}
}

// IOPolicyFromEnv reads VELO_IO_POLICY. An unset or unrecognised value
// resolves to IOPolicyDefault; a warning is printed for the latter so a
// typo'd env var doesn't silently do nothing.
func IOPolicyFromEnv() IOPolicy {
	switch strings.ToLower(os.Getenv(EnvIOPolicy)) {
	case "", "default":
		return IOPolicyDefault
	case "performance":
		return IOPolicyPerformance
	case "efficiency":
		return IOPolicyEfficiency
	default:
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default\n", EnvIOPolicy, os.Getenv(EnvIOPolicy))
		return IOPolicyDefault
	}
}

// ScaleConcurrency applies the policy to a base worker count, never
// returning less than 1.
func (p IOPolicy) ScaleConcurrency(base int) int {
	switch p {
	case IOPolicyPerformance:
		return base * 2
	case IOPolicyEfficiency:
		if base/2 < 1 {
			return 1
		}
		return base / 2
	default:
		return base
	}
}

// APITimeout returns the configured per-request timeout from
// VELO_API_TIMEOUT, or DefaultAPITimeout if unset or invalid. Accepts
// duration strings like "30s", "1m".
func APITimeout() time.Duration {
	return parseDurationEnv(EnvAPITimeout, DefaultAPITimeout, 1*time.Second, 10*time.Minute)
}

// TapUpdateTimeout returns the configured tap-update timeout from
// VELO_TAP_UPDATE_TIMEOUT, or DefaultTapUpdateTimeout if unset or invalid.
func TapUpdateTimeout() time.Duration {
	return parseDurationEnv(EnvTapUpdateTimeout, DefaultTapUpdateTimeout, 10*time.Second, 30*time.Minute)
}

// DownloadTimeout returns the configured per-resource download timeout from
// VELO_DOWNLOAD_TIMEOUT, or DefaultDownloadTimeout if unset or invalid. This
// bounds a single bottle's entire fetch (all chunks, or the single stream),
// distinct from APITimeout's per-request bound.
func DownloadTimeout() time.Duration {
	return parseDurationEnv(EnvDownloadTimeout, DefaultDownloadTimeout, 5*time.Second, 30*time.Minute)
}

func parseDurationEnv(envVar string, def, min, max time.Duration) time.Duration {
	raw := os.Getenv(envVar)
	if raw == "" {
		return def
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n", envVar, raw, def)
		return def
	}

	if d < min {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum %v\n", envVar, d, min)
		return min
	}
	if d > max {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum %v\n", envVar, d, max)
		return max
	}
	return d
}
