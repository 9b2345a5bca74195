// Package memory configures GOMEMLIMIT for containerized deployments and
// provides the backpressure monitor used by the queue consumer.
//
// [ConfigureFromEnv] derives the Go memory limit from MEMORY_LIMIT and
// MEMORY_RATIO unless GOMEMLIMIT is already set. [Monitor] samples heap usage
// and, above the pause ratio, makes [Monitor.Wait] block until usage drops
// below the resume ratio, so that workers stop pulling new media while
// large images are being decoded.
package memory
