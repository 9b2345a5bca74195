package media

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"family-gallery/internal/filesystem"
	"family-gallery/internal/logging"
)

const (
	exifDateLayout   = "2006:01:02 15:04:05"
	CapturedAtLayout = "2006-01-02T15:04:05"
)

// captureTags are consulted in order; the first parseable value wins.
var captureTags = []exif.FieldName{
	exif.DateTimeOriginal,
	exif.DateTimeDigitized,
	exif.DateTime,
}

// CaptureTime returns the EXIF capture timestamp of the image in r formatted
// as CapturedAtLayout. ok is false when the image carries no usable date.
func CaptureTime(r io.Reader) (string, bool) {
	x, err := exif.Decode(r)
	if err != nil {
		return "", false
	}
	for _, name := range captureTags {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		if v, ok := ParseExifDateTime(raw); ok {
			return v, true
		}
	}
	return "", false
}

// CaptureTimeFile reads the capture timestamp of the image file at path.
// HEIF containers are read through their Exif item; other formats go to the
// EXIF decoder directly, then to libvips when it is initialized.
func CaptureTimeFile(path string) (string, bool) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", false
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		raw, err := HEIFExif(f, info.Size())
		switch {
		case err == nil:
			return CaptureTime(bytes.NewReader(raw))
		case !errors.Is(err, errNotHEIF):
			logging.Debug("No EXIF in HEIF container %s: %v", path, err)
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if v, ok := CaptureTime(f); ok {
			return v, true
		}
	}

	if IsVipsAvailable() {
		return captureTimeWithVips(path)
	}
	return "", false
}

// ParseExifDateTime converts an EXIF "YYYY:MM:DD HH:MM:SS" value. Cameras
// pad the field with NULs or spaces; unset fields are all zeros or blank.
func ParseExifDateTime(raw string) (string, bool) {
	s := strings.Trim(raw, "\x00 ")
	t, err := time.Parse(exifDateLayout, s)
	if err != nil {
		return "", false
	}
	return t.Format(CapturedAtLayout), true
}
