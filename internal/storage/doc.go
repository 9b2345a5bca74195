// Package storage abstracts where media bytes live.
//
// A [Backend] stores objects under slash-separated keys such as
// "galleries/2024/05/cat.jpg". Two implementations exist: [LocalBackend],
// which keeps files under a root directory and is served by the application
// itself, and [S3Backend], which targets any S3-compatible bucket and gives
// clients presigned URLs. [New] picks one from [Config] at startup and wraps
// it with metrics; callers never branch on the concrete type. The only
// observable difference is whether [Backend.SignedURL] returns
// [ErrSignedURLUnsupported].
//
// Deleting a missing object succeeds, and Open reports a missing object as
// [ErrNotFound].
package storage
