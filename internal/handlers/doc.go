// Package handlers provides the HTTP API of the family gallery.
//
// It includes handlers for:
//   - Password login and cookie sessions
//   - Multipart uploads into the ingestion service
//   - Feed listing, item details, deletion and favorites
//   - File and thumbnail delivery, by redirect or by streaming
//   - Health, readiness and version probes
//
// [NewRouter] assembles the routes on a gorilla/mux router.
package handlers
