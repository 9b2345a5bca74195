// Package media holds the pixel-level work done on uploaded assets.
//
// A [Decoder] reads an image with EXIF orientation applied, falling back from
// the pure-Go decoders to libvips and then ffmpeg for formats such as HEIC.
// [Normalize] bounds the long edge to [MaxEdge] without upscaling and
// flattens transparency onto white, and [EncodeJPEG] writes the result.
// [CaptureTime] extracts the EXIF capture date. For videos, a
// [FrameExtractor] produces the thumbnail frame; [FFmpegExtractor] is the
// production implementation.
package media
