package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"family-gallery/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit given to the Go heap.
// The remainder is left for ffmpeg children, libvips and decode buffers.
const DefaultMemoryRatio = 0.85

// ConfigResult describes what ConfigureFromEnv did.
type ConfigResult struct {
	Configured     bool
	Source         string // "GOMEMLIMIT", "MEMORY_LIMIT" or "none"
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// ConfigureFromEnv sets the Go memory limit from MEMORY_LIMIT (bytes, usually
// from the Kubernetes Downward API) scaled by MEMORY_RATIO. An explicit
// GOMEMLIMIT is left alone. Call it early in main.
func ConfigureFromEnv() ConfigResult {
	return configure(os.Getenv, debug.SetMemoryLimit)
}

func configure(getenv func(string) string, setLimit func(int64) int64) ConfigResult {
	if v := getenv("GOMEMLIMIT"); v != "" {
		result := ConfigResult{Source: "GOMEMLIMIT"}
		if limit := setLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", v)
		return result
	}

	raw := getenv("MEMORY_LIMIT")
	if raw == "" {
		logging.Debug("MEMORY_LIMIT not set, GOMEMLIMIT will not be configured automatically")
		return ConfigResult{Source: "none"}
	}

	containerLimit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || containerLimit <= 0 {
		logging.Warn("Ignoring invalid MEMORY_LIMIT %q", raw)
		return ConfigResult{Source: "none"}
	}

	ratio := DefaultMemoryRatio
	if rs := getenv("MEMORY_RATIO"); rs != "" {
		parsed, err := strconv.ParseFloat(rs, 64)
		switch {
		case err != nil:
			logging.Warn("Failed to parse MEMORY_RATIO %q: %v, using default %.2f", rs, err, DefaultMemoryRatio)
		case parsed <= 0 || parsed > 1:
			logging.Warn("MEMORY_RATIO %q out of range (0.0-1.0), using default %.2f", rs, DefaultMemoryRatio)
		default:
			ratio = parsed
		}
	}

	goLimit := int64(float64(containerLimit) * ratio)
	setLimit(goLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s container limit)",
		formatBytes(goLimit), ratio*100, formatBytes(containerLimit))

	return ConfigResult{
		Configured:     true,
		Source:         "MEMORY_LIMIT",
		ContainerLimit: containerLimit,
		GoMemLimit:     goLimit,
		Ratio:          ratio,
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
