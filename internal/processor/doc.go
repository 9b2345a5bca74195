// Package processor implements the background step that turns an uploaded
// asset into a displayable one.
//
// [Worker.Process] loads a media item still in the processing state, copies
// its object into a private scratch directory and branches on kind. Images
// are decoded with orientation applied, bounded to 1920 pixels on the long
// edge, re-encoded as JPEG and, when the key was not already a .jpg, moved
// to a new collision-free .jpg key. Videos get a single-frame thumbnail
// stored beside them under thumbs/. The item then becomes ready in a single
// registry update, or error if anything failed. Process never returns an
// error; dispatchers only need to call it.
package processor
