package input

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
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

type fakeObjects map[string][]byte

func (f fakeObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	buf, ok := f[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return buf, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func newResolver(objects ObjectReader) (*Resolver, *native.Engine) {
	eng := native.New()
	return NewResolver(eng, objects), eng
}

func TestOpenMissingFile(t *testing.T) {
	r, _ := newResolver(nil)
	path := filepath.Join(t.TempDir(), "absent.png")

	_, err := r.Open(context.Background(), domain.FileInput(path))
	require.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Contains(t, err.Error(), path)
}

func TestOpenMissingFileLooksLikeSVG(t *testing.T) {
	r, _ := newResolver(nil)

	_, err := r.Open(context.Background(), domain.FileInput(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	require.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Contains(t, err.Error(), "passed as a buffer")
}

func TestOpenUnsupportedBuffer(t *testing.T) {
	r, _ := newResolver(nil)

	_, err := r.Open(context.Background(), domain.BufferInput([]byte("definitely not an image")))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestOpenCorruptHeader(t *testing.T) {
	r, _ := newResolver(nil)
	corrupt := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0xAB}, 64)...)

	_, err := r.Open(context.Background(), domain.BufferInput(corrupt))
	require.ErrorIs(t, err, domain.ErrCorruptHeader)
	assert.Contains(t, err.Error(), "input buffer has corrupt header")
}

func TestOpenFileDetectsType(t *testing.T) {
	r, _ := newResolver(nil)
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 12, 8), 0o600))

	opened, err := r.Open(context.Background(), domain.FileInput(path))
	require.NoError(t, err)
	defer opened.Image.Close()
	assert.Equal(t, imagetype.PNG, opened.Type)
	assert.Equal(t, 12, opened.Image.Width())
	assert.Equal(t, 8, opened.Image.Height())
	assert.Equal(t, 4, opened.Image.Bands())
}

func TestPixelLimitAppliesToEncodedInputsOnly(t *testing.T) {
	r, _ := newResolver(nil)

	spec := domain.BufferInput(pngBytes(t, 10, 10))
	spec.LimitInputPixels = 50
	_, err := r.Open(context.Background(), spec)
	require.ErrorIs(t, err, domain.ErrPixelLimitExceeded)

	raw := domain.NewInputSpec()
	raw.LimitInputPixels = 50
	raw.Raw = &domain.RawSource{Data: make([]byte, 10*10*3), Width: 10, Height: 10, Channels: 3}
	opened, err := r.Open(context.Background(), raw)
	require.NoError(t, err)
	opened.Image.Close()
}

func TestBlockedLoader(t *testing.T) {
	r, eng := newResolver(nil)
	eng.Blocklist().Set([]string{"pngload"}, true)

	_, err := r.Open(context.Background(), domain.BufferInput(pngBytes(t, 4, 4)))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "pngload")
}

func TestRawPremultipliedIsUnpremultiplied(t *testing.T) {
	r, eng := newResolver(nil)
	spec := domain.NewInputSpec()
	spec.Raw = &domain.RawSource{Data: []byte{64, 32, 0, 128}, Width: 1, Height: 1, Channels: 4, Premultiplied: true}

	opened, err := r.Open(context.Background(), spec)
	require.NoError(t, err)
	defer opened.Image.Close()
	assert.Equal(t, imagetype.Raw, opened.Type)
	px, err := eng.Pixels(opened.Image)
	require.NoError(t, err)
	assert.Equal(t, []byte{128, 64, 0, 128}, px)
}

func TestCreateCanvasWithPageHeight(t *testing.T) {
	r, eng := newResolver(nil)
	spec := domain.NewInputSpec()
	spec.Create = &domain.CreateSource{Width: 4, Height: 12, Channels: 3, Background: domain.Opaque(10, 20, 30), PageHeight: 4}

	opened, err := r.Open(context.Background(), spec)
	require.NoError(t, err)
	defer opened.Image.Close()
	meta := opened.Image.Meta()
	assert.Equal(t, 3, meta.Pages)
	assert.Equal(t, 4, meta.PageHeight)
	px, err := eng.Pixels(opened.Image)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30}, px[:3])
}

func TestObjectInput(t *testing.T) {
	r, _ := newResolver(fakeObjects{"uploads/a.png": pngBytes(t, 6, 5)})
	spec := domain.NewInputSpec()
	spec.Object = "uploads/a.png"

	opened, err := r.Open(context.Background(), spec)
	require.NoError(t, err)
	defer opened.Image.Close()
	assert.Equal(t, imagetype.PNG, opened.Type)
	assert.Equal(t, 6, opened.Image.Width())

	spec.Object = "uploads/missing.png"
	_, err = r.Open(context.Background(), spec)
	require.ErrorIs(t, err, domain.ErrMissingInput)
}

func TestObjectInputWithoutStorage(t *testing.T) {
	r, _ := newResolver(nil)
	spec := domain.NewInputSpec()
	spec.Object = "uploads/a.png"

	_, err := r.Open(context.Background(), spec)
	require.ErrorIs(t, err, domain.ErrInvalidInputSpec)
}

func TestOpenScaledJPEG(t *testing.T) {
	r, _ := newResolver(nil)

	opened, err := r.OpenScaled(context.Background(), domain.BufferInput(jpegBytes(t, 64, 48)), Scaling{Shrink: 2})
	require.NoError(t, err)
	defer opened.Image.Close()
	assert.Equal(t, 32, opened.Image.Width())
	assert.Equal(t, 24, opened.Image.Height())
}

func TestInterpretation(t *testing.T) {
	assert.Equal(t, engine.InterpretationBW, Interpretation(1, domain.DepthUchar))
	assert.Equal(t, engine.InterpretationBW, Interpretation(2, ""))
	assert.Equal(t, engine.InterpretationSRGB, Interpretation(4, domain.DepthUchar))
	assert.Equal(t, engine.InterpretationGrey16, Interpretation(1, domain.DepthUshort))
	assert.Equal(t, engine.InterpretationRGB16, Interpretation(3, domain.DepthUshort))
}
