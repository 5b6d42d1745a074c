// Package imagetype classifies image containers by their leading bytes and
// describes what each container supports.
package imagetype

import (
	"bytes"
	"errors"
	"io"
	"os"
)

type Type int

const (
	Unknown Type = iota
	JPEG
	PNG
	WebP
	JP2
	TIFF
	GIF
	SVG
	HEIF
	PDF
	Magick
	OpenSlide
	PPM
	FITS
	EXR
	JXL
	Rad
	DCRaw
	VIPS
	Raw
	Missing
)

var typeIDs = map[Type]string{
	Unknown:   "unknown",
	JPEG:      "jpeg",
	PNG:       "png",
	WebP:      "webp",
	JP2:       "jp2",
	TIFF:      "tiff",
	GIF:       "gif",
	SVG:       "svg",
	HEIF:      "heif",
	PDF:       "pdf",
	Magick:    "magick",
	OpenSlide: "openslide",
	PPM:       "ppm",
	FITS:      "fits",
	EXR:       "exr",
	JXL:       "jxl",
	Rad:       "rad",
	DCRaw:     "dcraw",
	VIPS:      "vips",
	Raw:       "raw",
	Missing:   "missing",
}

var loaders = map[Type]string{
	JPEG:      "jpegload",
	PNG:       "pngload",
	WebP:      "webpload",
	JP2:       "jp2kload",
	TIFF:      "tiffload",
	GIF:       "gifload",
	SVG:       "svgload",
	HEIF:      "heifload",
	PDF:       "pdfload",
	Magick:    "magickload",
	OpenSlide: "openslideload",
	PPM:       "ppmload",
	FITS:      "fitsload",
	EXR:       "openexrload",
	JXL:       "jxlload",
	Rad:       "radload",
	DCRaw:     "dcrawload",
	VIPS:      "vipsload",
}

// All lists every concrete container type, sentinels excluded.
var All = []Type{JPEG, PNG, WebP, JP2, TIFF, GIF, SVG, HEIF, PDF, Magick, OpenSlide, PPM, FITS, EXR, JXL, Rad, DCRaw, VIPS}

func (t Type) String() string {
	if id, ok := typeIDs[t]; ok {
		return id
	}
	return "unknown"
}

// Loader is the name of the decode operation for t, used by the blocklist.
func (t Type) Loader() string {
	return loaders[t]
}

// SupportsPages reports whether the loader accepts page and n options.
func (t Type) SupportsPages() bool {
	switch t {
	case WebP, Magick, GIF, JP2, TIFF, HEIF, PDF:
		return true
	}
	return false
}

// SupportsUnlimited reports whether the loader can lift its decode safety limits.
func (t Type) SupportsUnlimited() bool {
	switch t {
	case JPEG, PNG, SVG, TIFF, HEIF:
		return true
	}
	return false
}

// IsVector reports whether the container is rendered at a density.
func (t Type) IsVector() bool {
	return t == SVG || t == PDF
}

// Detect sniffs the container type from the first bytes of buf.
func Detect(buf []byte) Type {
	switch {
	case len(buf) < 4:
		return Unknown
	case bytes.HasPrefix(buf, []byte{0xFF, 0xD8, 0xFF}):
		return JPEG
	case bytes.HasPrefix(buf, []byte{0x89, 'P', 'N', 'G'}):
		return PNG
	case bytes.HasPrefix(buf, []byte("GIF8")):
		return GIF
	case len(buf) >= 12 && bytes.Equal(buf[0:4], []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WEBP")):
		return WebP
	case bytes.HasPrefix(buf, []byte("II*\x00")), bytes.HasPrefix(buf, []byte("MM\x00*")):
		return TIFF
	case bytes.HasPrefix(buf, []byte("%PDF")):
		return PDF
	case bytes.HasPrefix(buf, []byte{0x00, 0x00, 0x00, 0x0C, 'j', 'P', ' ', ' '}), bytes.HasPrefix(buf, []byte{0xFF, 0x4F, 0xFF, 0x51}):
		return JP2
	case bytes.HasPrefix(buf, []byte{0xFF, 0x0A}), bytes.HasPrefix(buf, []byte{0x00, 0x00, 0x00, 0x0C, 'J', 'X', 'L', ' '}):
		return JXL
	case len(buf) >= 12 && bytes.Equal(buf[4:8], []byte("ftyp")) && isHeifBrand(buf[8:12]):
		return HEIF
	case bytes.HasPrefix(buf, []byte("BM")):
		return Magick
	case bytes.HasPrefix(buf, []byte{0x08, 0xF2, 0xA6, 0xB6}), bytes.HasPrefix(buf, []byte{0xB6, 0xA6, 0xF2, 0x08}):
		return VIPS
	case bytes.HasPrefix(buf, []byte{0x76, 0x2F, 0x31, 0x01}):
		return EXR
	case bytes.HasPrefix(buf, []byte("SIMPLE  =")):
		return FITS
	case bytes.HasPrefix(buf, []byte("#?RADIANCE")), bytes.HasPrefix(buf, []byte("#?RGBE")):
		return Rad
	case buf[0] == 'P' && buf[1] >= '1' && buf[1] <= '7' && isSpace(buf[2]):
		return PPM
	case looksLikeSVG(buf):
		return SVG
	}
	return Unknown
}

// DetectFile sniffs the file at path, reporting Missing when it does not exist.
func DetectFile(path string) (Type, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Missing, nil
		}
		return Unknown, err
	}
	defer f.Close()

	head := make([]byte, 4096)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Unknown, err
	}
	return Detect(head[:n]), nil
}

func isHeifBrand(brand []byte) bool {
	switch string(brand) {
	case "heic", "heix", "hevc", "hevx", "heim", "heis", "mif1", "msf1", "avif", "avis":
		return true
	}
	return false
}

func looksLikeSVG(buf []byte) bool {
	head := buf
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("<svg"))
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}
