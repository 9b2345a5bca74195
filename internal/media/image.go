package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"path/filepath"

	"family-gallery/internal/logging"
	"family-gallery/internal/metrics"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// MaxEdge is the longest side, in pixels, of a normalized image.
	MaxEdge = 1920

	// JPEGQuality is the quality used when re-encoding images.
	JPEGQuality = 85
)

// ErrUndecodable is returned when no decoder could read an image.
var ErrUndecodable = errors.New("image could not be decoded")

// Decoder turns an image file into pixels with EXIF orientation applied.
// It tries the pure-Go decoders first, then libvips when it has been
// initialized, then ffmpeg.
type Decoder struct {
	ffmpegPath string
}

// NewDecoder creates a Decoder. An empty ffmpegPath disables the ffmpeg fallback.
func NewDecoder(ffmpegPath string) *Decoder {
	return &Decoder{ffmpegPath: ffmpegPath}
}

// Decode reads the image at path.
func (d *Decoder) Decode(ctx context.Context, path string) (image.Image, error) {
	name := filepath.Base(path)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		metrics.ImageDecodeTotal.WithLabelValues("imaging", "success").Inc()
		return img, nil
	}
	metrics.ImageDecodeTotal.WithLabelValues("imaging", "error").Inc()
	logging.Debug("imaging could not decode %s: %v, trying fallback decoders", name, err)

	if IsVipsAvailable() {
		img, err = decodeWithVips(path)
		if err == nil {
			metrics.ImageDecodeTotal.WithLabelValues("vips", "success").Inc()
			return img, nil
		}
		metrics.ImageDecodeTotal.WithLabelValues("vips", "error").Inc()
		logging.Debug("vips could not decode %s: %v", name, err)
	}

	if d.ffmpegPath != "" {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		img, err = decodeWithFFmpeg(ctx, d.ffmpegPath, path)
		if err == nil {
			metrics.ImageDecodeTotal.WithLabelValues("ffmpeg", "success").Inc()
			return img, nil
		}
		metrics.ImageDecodeTotal.WithLabelValues("ffmpeg", "error").Inc()
		logging.Debug("ffmpeg could not decode %s: %v", name, err)
	}

	return nil, fmt.Errorf("%w: %s", ErrUndecodable, name)
}

// FitDimensions scales w x h so that neither side exceeds maxEdge, keeping
// the aspect ratio. Images already within bounds are returned unchanged.
func FitDimensions(w, h, maxEdge int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		return maxEdge, max(1, h*maxEdge/w)
	}
	return max(1, w*maxEdge/h), maxEdge
}

// Normalize downscales img to fit within maxEdge and composites any
// transparency onto white, ready for JPEG encoding.
func Normalize(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := FitDimensions(b.Dx(), b.Dy(), maxEdge)
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	return flatten(img)
}

func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// EncodeJPEG writes img as a baseline JPEG.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return nil
}
