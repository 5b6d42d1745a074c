package imagetype

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encoded(t *testing.T, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, img))
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	jpg := encoded(t, func(b *bytes.Buffer, m image.Image) error { return jpeg.Encode(b, m, nil) })
	pngData := encoded(t, func(b *bytes.Buffer, m image.Image) error { return png.Encode(b, m) })
	gifData := encoded(t, func(b *bytes.Buffer, m image.Image) error { return gif.Encode(b, m, nil) })

	assert.Equal(t, JPEG, Detect(jpg))
	assert.Equal(t, PNG, Detect(pngData))
	assert.Equal(t, GIF, Detect(gifData))
	assert.Equal(t, WebP, Detect([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.Equal(t, TIFF, Detect([]byte("II*\x00\x08\x00\x00\x00")))
	assert.Equal(t, SVG, Detect([]byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`)))
	assert.Equal(t, PDF, Detect([]byte("%PDF-1.7\n")))
	assert.Equal(t, HEIF, Detect([]byte("\x00\x00\x00\x1cftypavif\x00\x00\x00\x00")))
	assert.Equal(t, PPM, Detect([]byte("P6\n4 4\n255\n")))
	assert.Equal(t, Unknown, Detect([]byte("hello world")))
	assert.Equal(t, Unknown, Detect(nil))
}

func TestDetectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.png")
	require.NoError(t, os.WriteFile(path, encoded(t, func(b *bytes.Buffer, m image.Image) error { return png.Encode(b, m) }), 0o644))

	got, err := DetectFile(path)
	require.NoError(t, err)
	assert.Equal(t, PNG, got)

	got, err = DetectFile(filepath.Join(dir, "absent.png"))
	require.NoError(t, err)
	assert.Equal(t, Missing, got)
}

func TestTypeIDsAndCapabilities(t *testing.T) {
	assert.Equal(t, "jpeg", JPEG.String())
	assert.Equal(t, "missing", Missing.String())
	assert.Equal(t, "magick", Magick.String())
	assert.True(t, GIF.SupportsPages())
	assert.False(t, JPEG.SupportsPages())
	assert.True(t, SVG.SupportsUnlimited())
	assert.False(t, GIF.SupportsUnlimited())
	assert.Equal(t, "svgload", SVG.Loader())
}

func TestResolveFormat(t *testing.T) {
	f, err := Resolve(FormatInput, "", JPEG)
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)

	f, err = Resolve(FormatInput, "", SVG)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)

	f, err = Resolve(FormatInput, "/tmp/out.webp", JPEG)
	require.NoError(t, err)
	assert.Equal(t, FormatWebP, f)

	f, err = Resolve(FormatInput, "/tmp/out.unknown", GIF)
	require.NoError(t, err)
	assert.Equal(t, FormatGIF, f)

	f, err = Resolve(FormatTIFF, "/tmp/out.png", JPEG)
	require.NoError(t, err)
	assert.Equal(t, FormatTIFF, f)

	_, err = Resolve(FormatInput, "", PDF)
	require.ErrorIs(t, err, domain.ErrUnsupportedOutputFormat)
	assert.Contains(t, err.Error(), "Unsupported output format pdf")

	_, err = Resolve(FormatInput, "/tmp/out.xyz", Magick)
	require.ErrorIs(t, err, domain.ErrUnsupportedOutputFormat)
	assert.Contains(t, err.Error(), "/tmp/out.xyz")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JPG")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatInput, f)

	_, err = ParseFormat("bmp")
	require.ErrorIs(t, err, domain.ErrUnsupportedOutputFormat)

	assert.Equal(t, 16383, FormatWebP.MaxDimension())
	assert.Equal(t, "heif", FormatAVIF.ReportedID())
}
