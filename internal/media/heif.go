package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxHEIFMetaSize = 16 << 20
	maxHEIFExifSize = 4 << 20
	maxILocExtents  = 64
)

var (
	errNotHEIF    = errors.New("not an ISO BMFF file")
	errNoHEIFExif = errors.New("no Exif item")
	errTruncated  = errors.New("truncated box")
)

// HEIFExif returns the EXIF block of a HEIF/HEIC file, starting at its TIFF
// header. The block lives in an item of type "Exif" located through the
// meta box's iinf and iloc entries.
func HEIFExif(r io.ReaderAt, size int64) ([]byte, error) {
	meta, err := topLevelBox(r, size, "meta")
	if err != nil {
		return nil, err
	}
	if len(meta) < 4 {
		return nil, errTruncated
	}
	children, err := parseBoxes(meta[4:])
	if err != nil {
		return nil, err
	}

	var iinf, iloc []byte
	for _, b := range children {
		switch b.typ {
		case "iinf":
			iinf = b.data
		case "iloc":
			iloc = b.data
		}
	}
	if iinf == nil || iloc == nil {
		return nil, errNoHEIFExif
	}

	id, err := exifItemID(iinf)
	if err != nil {
		return nil, err
	}
	extents, err := itemExtents(iloc, id)
	if err != nil {
		return nil, err
	}

	var payload []byte
	for _, e := range extents {
		if e.length == 0 || e.length > maxHEIFExifSize || uint64(len(payload))+e.length > maxHEIFExifSize {
			return nil, fmt.Errorf("exif item extent of %d bytes out of range", e.length)
		}
		if e.offset+e.length > uint64(size) {
			return nil, errTruncated
		}
		buf := make([]byte, e.length)
		if _, err := r.ReadAt(buf, int64(e.offset)); err != nil {
			return nil, fmt.Errorf("failed to read exif item: %w", err)
		}
		payload = append(payload, buf...)
	}
	return exifTIFF(payload)
}

type bmffBox struct {
	typ  string
	data []byte
}

// topLevelBox walks the file's top-level boxes without reading media data
// and returns the payload of the first box of type typ.
func topLevelBox(r io.ReaderAt, size int64, typ string) ([]byte, error) {
	var hdr [16]byte
	for off := int64(0); off+8 <= size; {
		if _, err := r.ReadAt(hdr[:8], off); err != nil {
			return nil, err
		}
		boxSize := int64(binary.BigEndian.Uint32(hdr[:4]))
		name := string(hdr[4:8])
		hdrLen := int64(8)
		switch boxSize {
		case 0:
			boxSize = size - off
		case 1:
			if _, err := r.ReadAt(hdr[8:16], off+8); err != nil {
				return nil, err
			}
			large := binary.BigEndian.Uint64(hdr[8:16])
			if large > uint64(size) {
				return nil, errTruncated
			}
			boxSize, hdrLen = int64(large), 16
		}
		if off == 0 && name != "ftyp" {
			return nil, errNotHEIF
		}
		if boxSize < hdrLen || boxSize > size-off {
			return nil, fmt.Errorf("invalid %q box size %d at offset %d", name, boxSize, off)
		}
		if name == typ {
			n := boxSize - hdrLen
			if n > maxHEIFMetaSize {
				return nil, fmt.Errorf("%q box too large: %d bytes", name, n)
			}
			buf := make([]byte, n)
			if _, err := r.ReadAt(buf, off+hdrLen); err != nil {
				return nil, err
			}
			return buf, nil
		}
		off += boxSize
	}
	if size < 8 {
		return nil, errNotHEIF
	}
	return nil, fmt.Errorf("no %q box", typ)
}

func parseBoxes(b []byte) ([]bmffBox, error) {
	var boxes []bmffBox
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, errTruncated
		}
		size := uint64(binary.BigEndian.Uint32(b))
		hdrLen := uint64(8)
		switch size {
		case 0:
			size = uint64(len(b))
		case 1:
			if len(b) < 16 {
				return nil, errTruncated
			}
			size, hdrLen = binary.BigEndian.Uint64(b[8:16]), 16
		}
		if size < hdrLen || size > uint64(len(b)) {
			return nil, errTruncated
		}
		boxes = append(boxes, bmffBox{typ: string(b[4:8]), data: b[hdrLen:size]})
		b = b[size:]
	}
	return boxes, nil
}

// fieldReader reads big-endian integers of variable width.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) uint(n int) uint64 {
	if r.err != nil || n == 0 {
		return 0
	}
	if len(r.b) < n {
		r.err = errTruncated
		return 0
	}
	var v uint64
	for _, c := range r.b[:n] {
		v = v<<8 | uint64(c)
	}
	r.b = r.b[n:]
	return v
}

func exifItemID(iinf []byte) (uint32, error) {
	r := &fieldReader{b: iinf}
	version := r.uint(1)
	r.uint(3)
	if version == 0 {
		r.uint(2)
	} else {
		r.uint(4)
	}
	if r.err != nil {
		return 0, r.err
	}
	entries, err := parseBoxes(r.b)
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if e.typ != "infe" {
			continue
		}
		er := &fieldReader{b: e.data}
		v := er.uint(1)
		er.uint(3)
		var id uint64
		switch v {
		case 2:
			id = er.uint(2)
		case 3:
			id = er.uint(4)
		default:
			continue
		}
		er.uint(2) // item_protection_index
		if er.err != nil || len(er.b) < 4 {
			continue
		}
		if string(er.b[:4]) == "Exif" {
			return uint32(id), nil
		}
	}
	return 0, errNoHEIFExif
}

type extent struct {
	offset, length uint64
}

func itemExtents(iloc []byte, want uint32) ([]extent, error) {
	r := &fieldReader{b: iloc}
	version := r.uint(1)
	r.uint(3)
	sizes := r.uint(1)
	offsetSize, lengthSize := int(sizes>>4), int(sizes&0x0f)
	sizes = r.uint(1)
	baseSize, indexSize := int(sizes>>4), 0
	if version == 1 || version == 2 {
		indexSize = int(sizes & 0x0f)
	}

	var count uint64
	if version < 2 {
		count = r.uint(2)
	} else {
		count = r.uint(4)
	}
	for i := uint64(0); i < count && r.err == nil; i++ {
		var id uint64
		if version < 2 {
			id = r.uint(2)
		} else {
			id = r.uint(4)
		}
		var method uint64
		if version == 1 || version == 2 {
			method = r.uint(2) & 0x0f
		}
		r.uint(2) // data_reference_index
		base := r.uint(baseSize)
		n := r.uint(2)
		if n > maxILocExtents {
			return nil, fmt.Errorf("item %d has %d extents", id, n)
		}

		extents := make([]extent, 0, n)
		for j := uint64(0); j < n; j++ {
			r.uint(indexSize)
			off := r.uint(offsetSize)
			length := r.uint(lengthSize)
			extents = append(extents, extent{offset: base + off, length: length})
		}
		if r.err == nil && uint32(id) == want {
			if method != 0 {
				return nil, fmt.Errorf("exif item uses unsupported construction method %d", method)
			}
			return extents, nil
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return nil, fmt.Errorf("no location for exif item %d", want)
}

// exifTIFF strips the item's 4-byte header offset. Some encoders point it
// at "Exif\0\0", others straight at the TIFF header.
func exifTIFF(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, errTruncated
	}
	skip := uint64(binary.BigEndian.Uint32(payload))
	rest := payload[4:]
	if skip < uint64(len(rest)) {
		if b := rest[skip:]; hasTIFFHeader(b) {
			return b, nil
		}
	}
	for _, magic := range [][]byte{[]byte("II*\x00"), []byte("MM\x00*")} {
		if i := bytes.Index(rest, magic); i >= 0 {
			return rest[i:], nil
		}
	}
	return nil, errors.New("exif item has no TIFF header")
}

func hasTIFFHeader(b []byte) bool {
	return bytes.HasPrefix(b, []byte("II*\x00")) ||
		bytes.HasPrefix(b, []byte("MM\x00*")) ||
		bytes.HasPrefix(b, []byte("Exif\x00\x00"))
}
