package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"family-gallery/internal/logging"
)

// FrameSeek is how far into a video the representative frame is taken.
const FrameSeek = "00:00:01"

// ErrEmptyFrame is returned when ffmpeg exits cleanly without writing a frame.
var ErrEmptyFrame = errors.New("ffmpeg produced no frame")

// FrameExtractor writes a single JPEG frame of the video at src to dst.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, src, dst string) error
}

// FFmpegExtractor extracts frames with the ffmpeg binary.
type FFmpegExtractor struct {
	path string
}

// NewFFmpegExtractor returns an extractor that runs the ffmpeg binary at
// path (or looked up on PATH when path is a bare name).
func NewFFmpegExtractor(path string) *FFmpegExtractor {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegExtractor{path: path}
}

// ExtractFrame grabs the frame one second in. Clips shorter than that have
// no frame at the seek point and fail with ErrEmptyFrame.
func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, src, dst string) error {
	args := []string{"-y", "-ss", FrameSeek, "-i", src, "-vframes", "1", "-q:v", "5", dst}

	cmd := exec.CommandContext(ctx, e.path, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Debug("ffmpeg output for %s:\n%s", filepath.Base(src), output.String())
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, lastLine(output.String()))
	}

	info, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrEmptyFrame
		}
		return err
	}
	if info.Size() == 0 {
		return ErrEmptyFrame
	}
	return nil
}

// decodeWithFFmpeg asks ffmpeg to transcode a still image to PNG on stdout.
func decodeWithFFmpeg(ctx context.Context, ffmpegPath, path string) (image.Image, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", path,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, lastLine(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", filepath.Base(path))
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

// lastLine keeps error messages short; ffmpeg prints its banner first.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
