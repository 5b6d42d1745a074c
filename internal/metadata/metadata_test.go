package metadata

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine/native"
	"github.com/dunamismax/pixelpipe/internal/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReader() *Reader {
	eng := native.New()
	return NewReader(input.NewResolver(eng, nil))
}

func TestReadPNGWithAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 30, 20))
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 100})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	md, err := newReader().Read(context.Background(), domain.BufferInput(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "png", md.Format)
	assert.Equal(t, 30, md.Width)
	assert.Equal(t, 20, md.Height)
	assert.Equal(t, 4, md.Channels)
	assert.True(t, md.HasAlpha)
	assert.Equal(t, "srgb", md.Space)
	assert.Equal(t, domain.DepthUchar, md.Depth)
	assert.Equal(t, int64(buf.Len()), md.Size)
	assert.Zero(t, md.Pages)
	assert.Nil(t, md.Loop)
}

func TestReadJPEGFile(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	path := filepath.Join(t.TempDir(), "in.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	md, err := newReader().Read(context.Background(), domain.FileInput(path))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", md.Format)
	assert.Equal(t, 64, md.Width)
	assert.Equal(t, 48, md.Height)
	assert.False(t, md.HasAlpha)
	assert.False(t, md.HasProfile)
	assert.Equal(t, int64(buf.Len()), md.Size)
}

func TestReadAnimatedGIF(t *testing.T) {
	anim := &gif.GIF{LoopCount: 0}
	for i := 0; i < 4; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 10, 8), palette.Plan9)
		frame.SetColorIndex(i, i, uint8(i+1))
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 5*(i+1))
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))

	md, err := newReader().Read(context.Background(), domain.BufferInput(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "gif", md.Format)
	assert.Equal(t, 4, md.Pages)
	assert.Equal(t, 8, md.PageHeight)
	assert.Equal(t, 8, md.Height)
	assert.Equal(t, []int{50, 100, 150, 200}, md.Delay)
	require.NotNil(t, md.Loop)
	assert.Equal(t, 0, *md.Loop)
}

func TestReadErrors(t *testing.T) {
	r := newReader()

	_, err := r.Read(context.Background(), domain.FileInput(filepath.Join(t.TempDir(), "missing.png")))
	require.ErrorIs(t, err, domain.ErrMissingInput)

	_, err = r.Read(context.Background(), domain.BufferInput([]byte("not an image at all")))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = r.Read(context.Background(), domain.NewInputSpec())
	require.ErrorIs(t, err, domain.ErrInvalidInputSpec)
}
