package mediatypes

import (
	"path"
	"strings"
)

// Kind is the coarse media category of an item.
type Kind string

const (
	// KindImage represents a still image.
	KindImage Kind = "image"
	// KindVideo represents a video clip.
	KindVideo Kind = "video"
	// KindOther represents anything the gallery does not accept.
	KindOther Kind = "other"
)

// Filter selects a subset of the feed.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterImages    Filter = "image"
	FilterVideos    Filter = "video"
	FilterMine      Filter = "mine"
	FilterFavorites Filter = "favorites"
)

// Sort specifies the feed ordering.
type Sort string

const (
	// SortCreatedDesc orders by upload time, newest first. This is the default.
	SortCreatedDesc Sort = "created_desc"
	// SortCreatedAsc orders by upload time, oldest first.
	SortCreatedAsc Sort = "created_asc"
	// SortCapturedDesc orders by EXIF capture time, newest first, undated items last.
	SortCapturedDesc Sort = "captured_desc"
	// SortCapturedAsc orders by EXIF capture time, oldest first, undated items last.
	SortCapturedAsc Sort = "captured_asc"
)

// ImageExtensions lists the image formats accepted for upload.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
}

// VideoExtensions lists the video formats accepted for upload.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
	".3gp":  true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",

	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".3gp":  "video/3gpp",
}

// Ext returns the lowercased extension of a filename or storage key,
// including the leading dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
}

// KindOfExt returns the Kind for an extension such as ".jpg".
func KindOfExt(ext string) Kind {
	ext = strings.ToLower(ext)
	switch {
	case ImageExtensions[ext]:
		return KindImage
	case VideoExtensions[ext]:
		return KindVideo
	default:
		return KindOther
	}
}

// KindOfMIME classifies a sniffed content type by its top-level type.
func KindOfMIME(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindOther
	}
}

// IsAllowed reports whether a filename carries an accepted extension.
func IsAllowed(filename string) bool {
	return KindOfExt(Ext(filename)) != KindOther
}

// IsJPEG reports whether a key or filename already ends in .jpg or .jpeg.
func IsJPEG(name string) bool {
	ext := Ext(name)
	return ext == ".jpg" || ext == ".jpeg"
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[strings.ToLower(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// ParseFilter maps a query value onto a Filter, defaulting to FilterAll.
func ParseFilter(s string) Filter {
	switch f := Filter(strings.ToLower(s)); f {
	case FilterImages, FilterVideos, FilterMine, FilterFavorites:
		return f
	default:
		return FilterAll
	}
}

// ParseSort maps a query value onto a Sort, defaulting to SortCreatedDesc.
func ParseSort(s string) Sort {
	switch o := Sort(strings.ToLower(s)); o {
	case SortCreatedAsc, SortCapturedDesc, SortCapturedAsc:
		return o
	default:
		return SortCreatedDesc
	}
}
