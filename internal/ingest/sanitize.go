package ingest

import (
	"path"
	"strings"
	"unicode"

	"family-gallery/internal/mediatypes"
)

// maxStemLength caps the sanitized base name, leaving room for collision
// suffixes and the extension.
const maxStemLength = 120

// SanitizeFilename reduces a client-supplied filename to a safe storage
// name: directory components are dropped, whitespace becomes '_', anything
// outside [A-Za-z0-9._-] is removed, leading dots are stripped and the
// extension is lowercased. An empty stem becomes "upload".
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r < unicode.MaxASCII && (isAlnum(r) || r == '.' || r == '_' || r == '-'):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}

	clean := strings.TrimLeft(b.String(), ".")
	if len(clean) > maxStemLength {
		clean = clean[:maxStemLength]
	}
	if clean == "" {
		clean = "upload"
	}
	return clean + sanitizeExt(ext)
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(ext)
	var b strings.Builder
	for _, r := range ext {
		if r == '.' || (r < unicode.MaxASCII && isAlnum(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() <= 1 {
		return ""
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Validate reports ErrInvalidFileKind for filenames whose extension is not
// an accepted image or video type.
func Validate(filename string) error {
	if !mediatypes.IsAllowed(filename) {
		return ErrInvalidFileKind
	}
	return nil
}
