package encoder

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/engine/native"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects map[string][]byte

func (m memObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m[key+"|"+contentType] = data
	return nil
}

func solid(t *testing.T, eng *native.Engine, w, h, bands int) engine.Image {
	t.Helper()
	img, err := eng.FromRaw(bytes.Repeat([]byte{120}, w*h*bands), w, h, bands, domain.DepthUchar, "")
	require.NoError(t, err)
	return img
}

func TestResolve(t *testing.T) {
	f, err := Resolve(Request{Format: imagetype.FormatInput, InputType: imagetype.JPEG})
	require.NoError(t, err)
	assert.Equal(t, imagetype.FormatJPEG, f)

	f, err = Resolve(Request{Format: imagetype.FormatInput, InputType: imagetype.JPEG, FileOut: "out/thumb.png"})
	require.NoError(t, err)
	assert.Equal(t, imagetype.FormatPNG, f)

	f, err = Resolve(Request{Format: imagetype.FormatInput, InputType: imagetype.PNG, ObjectOut: "results/a.webp"})
	require.NoError(t, err)
	assert.Equal(t, imagetype.FormatWebP, f)

	_, err = Resolve(Request{Format: imagetype.FormatInput, InputType: imagetype.Magick})
	require.ErrorIs(t, err, domain.ErrUnsupportedOutputFormat)
}

func TestCheckDimensions(t *testing.T) {
	require.NoError(t, CheckDimensions(imagetype.FormatWebP, 16383, 16383))
	err := CheckDimensions(imagetype.FormatWebP, 16384, 10)
	require.ErrorIs(t, err, domain.ErrDimensionTooLarge)
	assert.Contains(t, err.Error(), "WebP")
	require.NoError(t, CheckDimensions(imagetype.FormatPNG, 100000, 100000))
}

func TestEncodeUsesLogicalPageHeight(t *testing.T) {
	eng := native.New()
	img := solid(t, eng, 4, 70000, 1)
	defer img.Close()
	paged, err := eng.SetMeta(img, func(m *engine.Meta) { m.PageHeight, m.Pages = 35000, 2 })
	require.NoError(t, err)
	defer paged.Close()

	_, err = New(eng, nil).Encode(context.Background(), img, imagetype.FormatGIF, Request{})
	require.ErrorIs(t, err, domain.ErrDimensionTooLarge)
	require.NoError(t, CheckDimensions(imagetype.FormatGIF, paged.Width(), paged.Meta().PageHeight))
}

func TestEncodeBuffer(t *testing.T) {
	eng := native.New()
	img := solid(t, eng, 5, 3, 3)
	defer img.Close()

	out, err := New(eng, nil).Encode(context.Background(), img, imagetype.FormatPNG, Request{Options: domain.DefaultFormatOptions()})
	require.NoError(t, err)
	assert.Equal(t, int64(len(out.Data)), out.Size)
	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 5, decoded.Bounds().Dx())
}

func TestEncodeFileReportsStatSize(t *testing.T) {
	eng := native.New()
	img := solid(t, eng, 5, 3, 3)
	defer img.Close()
	path := filepath.Join(t.TempDir(), "nested", "out.jpg")

	out, err := New(eng, nil).Encode(context.Background(), img, imagetype.FormatJPEG, Request{FileOut: path, Options: domain.DefaultFormatOptions()})
	require.NoError(t, err)
	assert.Nil(t, out.Data)
	assert.Equal(t, path, out.Path)
	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, stat.Size(), out.Size)
}

func TestEncodeObject(t *testing.T) {
	eng := native.New()
	img := solid(t, eng, 2, 2, 3)
	defer img.Close()
	objects := memObjects{}

	out, err := New(eng, objects).Encode(context.Background(), img, imagetype.FormatPNG, Request{ObjectOut: "results/x.png"})
	require.NoError(t, err)
	assert.Equal(t, "results/x.png", out.Key)
	assert.Contains(t, objects, "results/x.png|image/png")
}

func TestEncodeUnsupported(t *testing.T) {
	eng := native.New()
	img := solid(t, eng, 2, 2, 3)
	defer img.Close()

	_, err := New(eng, nil).Encode(context.Background(), img, imagetype.FormatHEIF, Request{})
	require.ErrorIs(t, err, domain.ErrUnsupportedOutputFormat)
	_, err = New(eng, nil).Encode(context.Background(), img, imagetype.FormatInput, Request{InputType: imagetype.Raw})
	require.ErrorIs(t, err, domain.ErrUnsupportedOutputFormat)
}
