// Package main provides gallery-worker, the processing side of the NATS
// dispatch mode.
//
// The worker binds the durable JetStream pull consumer named by
// NATS_DURABLE and runs every processing request through the same pipeline
// the server uses inline: images are decoded, oriented, resized and stored
// as JPEG; videos get a thumbnail from the frame one second in. It needs
// access to the same database and storage backend as the server.
//
// Requests are acknowledged after processing. A request for an item that is
// missing or no longer processing is acknowledged without work, so
// redelivery is harmless. Fetching pauses while the memory monitor reports
// pressure. On SIGINT/SIGTERM in-flight items are interrupted, stay in the
// processing state, and their messages are redelivered.
//
// Run as many workers as needed; PROCESS_WORKERS sets the fetch loops per
// process (default: one per CPU).
package main
