// Package logging provides the leveled, printf-style logging used across the
// gallery, backed by zerolog.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The level comes from DEBUG or LOG_LEVEL. LOG_FORMAT=json switches from the
// console writer to one JSON object per line.
package logging
