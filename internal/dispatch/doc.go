// Package dispatch decides where processing runs after an upload.
//
// In [ModeInline] the upload request itself runs the processing worker
// before responding. In [ModeNATS] a [ProcessRequest] is published to a
// JetStream work-queue stream, and one or more gallery-worker processes run
// a [Consumer] that pulls requests, processes them and acknowledges them
// afterwards. A crashed worker's message is redelivered once its ack wait
// expires. The mode is chosen once at startup by [New].
package dispatch
