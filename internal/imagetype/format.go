package imagetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/domain"
)

// Format is an output encoder. FormatInput is resolved into a concrete
// variant by Resolve before any encoding happens.
type Format int

const (
	FormatInput Format = iota
	FormatJPEG
	FormatPNG
	FormatWebP
	FormatGIF
	FormatTIFF
	FormatHEIF
	FormatAVIF
	FormatJP2
	FormatJXL
	FormatRaw
	FormatVIPS
)

var formatIDs = map[Format]string{
	FormatInput: "input",
	FormatJPEG:  "jpeg",
	FormatPNG:   "png",
	FormatWebP:  "webp",
	FormatGIF:   "gif",
	FormatTIFF:  "tiff",
	FormatHEIF:  "heif",
	FormatAVIF:  "avif",
	FormatJP2:   "jp2",
	FormatJXL:   "jxl",
	FormatRaw:   "raw",
	FormatVIPS:  "v",
}

var formatAliases = map[string]Format{
	"":      FormatInput,
	"input": FormatInput,
	"jpeg":  FormatJPEG,
	"jpg":   FormatJPEG,
	"png":   FormatPNG,
	"webp":  FormatWebP,
	"gif":   FormatGIF,
	"tiff":  FormatTIFF,
	"tif":   FormatTIFF,
	"heif":  FormatHEIF,
	"heic":  FormatHEIF,
	"avif":  FormatAVIF,
	"jp2":   FormatJP2,
	"jxl":   FormatJXL,
	"raw":   FormatRaw,
	"v":     FormatVIPS,
	"vips":  FormatVIPS,
}

var extensions = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".jpe":  FormatJPEG,
	".png":  FormatPNG,
	".webp": FormatWebP,
	".gif":  FormatGIF,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".heif": FormatHEIF,
	".heic": FormatHEIF,
	".avif": FormatAVIF,
	".jp2":  FormatJP2,
	".jpx":  FormatJP2,
	".j2k":  FormatJP2,
	".j2c":  FormatJP2,
	".jxl":  FormatJXL,
	".v":    FormatVIPS,
}

func (f Format) String() string {
	if id, ok := formatIDs[f]; ok {
		return id
	}
	return "unknown"
}

// ParseFormat maps a requested output identifier onto a Format.
func ParseFormat(s string) (Format, error) {
	f, ok := formatAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: Unsupported output format %s", domain.ErrUnsupportedOutputFormat, s)
	}
	return f, nil
}

// FromFilename infers a format from the extension of path.
func FromFilename(path string) (Format, bool) {
	f, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// FromType is the encoder that writes the same container as t.
func FromType(t Type) (Format, bool) {
	switch t {
	case JPEG:
		return FormatJPEG, true
	case PNG, SVG:
		return FormatPNG, true
	case WebP:
		return FormatWebP, true
	case GIF:
		return FormatGIF, true
	case TIFF:
		return FormatTIFF, true
	case HEIF:
		return FormatHEIF, true
	case JP2:
		return FormatJP2, true
	case JXL:
		return FormatJXL, true
	case Raw:
		return FormatRaw, true
	case VIPS:
		return FormatVIPS, true
	}
	return FormatInput, false
}

// Resolve turns a requested format into a concrete encoder. For file output a
// recognised extension wins over matching the input container.
func Resolve(requested Format, fileOut string, input Type) (Format, error) {
	if requested != FormatInput {
		return requested, nil
	}

	if strings.TrimSpace(fileOut) != "" {
		if f, ok := FromFilename(fileOut); ok {
			return f, nil
		}
		if f, ok := FromType(input); ok && f != FormatRaw {
			return f, nil
		}
		return FormatInput, fmt.Errorf("%w: Unsupported output format %s", domain.ErrUnsupportedOutputFormat, fileOut)
	}

	if f, ok := FromType(input); ok && f != FormatVIPS {
		return f, nil
	}
	return FormatInput, fmt.Errorf("%w: Unsupported output format %s", domain.ErrUnsupportedOutputFormat, input)
}

// DisplayName is the human name used in error messages.
func (f Format) DisplayName() string {
	switch f {
	case FormatJPEG:
		return "JPEG"
	case FormatWebP:
		return "WebP"
	case FormatGIF:
		return "GIF"
	case FormatHEIF, FormatAVIF:
		return "HEIF"
	case FormatPNG:
		return "PNG"
	case FormatTIFF:
		return "TIFF"
	}
	return strings.ToUpper(f.String())
}

// MaxDimension is the largest width or page height the container can hold,
// or 0 when there is no fixed cap.
func (f Format) MaxDimension() int {
	switch f {
	case FormatJPEG, FormatGIF:
		return 65535
	case FormatWebP:
		return 16383
	case FormatHEIF, FormatAVIF:
		return 16384
	}
	return 0
}

// ReportedID is the format id written into the result info.
func (f Format) ReportedID() string {
	if f == FormatAVIF {
		return "heif"
	}
	return f.String()
}

func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatAVIF:
		return "avif"
	case FormatVIPS:
		return "v"
	}
	return f.String()
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatHEIF:
		return "image/heif"
	case FormatAVIF:
		return "image/avif"
	case FormatJP2:
		return "image/jp2"
	case FormatJXL:
		return "image/jxl"
	}
	return "application/octet-stream"
}
