package workers

import (
	"runtime"
)

// Count returns the number of workers for a task type, scaled from
// GOMAXPROCS (which follows the container CPU limit).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks such as image decoding
//   - 2.0 for I/O-bound tasks such as object uploads
//
// A positive override (PROCESS_WORKERS) replaces the computed value. The
// limit caps the result; 0 means no cap.
func Count(multiplier float64, limit, override int) int {
	workers := override
	if workers <= 0 {
		workers = int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	}

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit, override int) int {
	return Count(1.0, limit, override)
}
