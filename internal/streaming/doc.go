// Package streaming copies object bodies to HTTP clients with per-write and
// idle timeouts.
//
// The gallery server has no global write timeout because originals can be
// large. Seekable local files go through http.ServeContent; bodies that can
// only be read forward (for example an S3 object when redirects are not
// available) are copied with [Copy], which cuts off clients that stop
// reading:
//
//	n, err := streaming.Copy(r.Context(), w, obj.Body, streaming.DefaultConfig())
//
// Errors distinguish a client that went away ([ErrClientGone]) from one that
// stalled ([ErrWriteTimeout], [ErrIdle]).
package streaming
