package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
	}
	return img
}

func compositeRun(t *testing.T, base image.Image, layers ...domain.Composite) *image.NRGBA {
	t.Helper()
	op := domain.NewOperation()
	op.Input = domain.BufferInput(encodePNG(t, base))
	op.Composite = layers

	res, err := newTestProcessor(t).Run(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, base.Bounds().Dx(), res.Info.Width)
	assert.Equal(t, base.Bounds().Dy(), res.Info.Height)
	assert.Equal(t, 4, res.Info.Channels)

	decoded, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	out := image.NewNRGBA(decoded.Bounds())
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			out.Set(x, y, decoded.At(x, y))
		}
	}
	return out
}

func layer(t *testing.T, img image.Image) domain.Composite {
	t.Helper()
	return domain.Composite{
		Input:   domain.BufferInput(encodePNG(t, img)),
		Blend:   "over",
		Gravity: geometry.GravityCentre,
		Left:    -1,
		Top:     -1,
	}
}

func TestRunCompositeTileCentresOddCount(t *testing.T) {
	// A 30px tile with a red first column: 100/30 rounds up to 4 tiles,
	// bumped to 5 so the middle tile sits on the centre of the frame.
	tileImg := solid(30, 30, blue)
	for y := 0; y < 30; y++ {
		tileImg.SetNRGBA(0, y, red)
	}
	c := layer(t, tileImg)
	c.Tile = true

	out := compositeRun(t, solid(100, 100, white), c)
	for _, x := range []int{5, 35, 65, 95} {
		assert.Equal(t, red, out.NRGBAAt(x, 50), "x=%d", x)
	}
	for _, x := range []int{0, 4, 6, 34, 36, 50, 99} {
		assert.Equal(t, blue, out.NRGBAAt(x, 50), "x=%d", x)
	}
	assert.Equal(t, blue, out.NRGBAAt(50, 0))
	assert.Equal(t, red, out.NRGBAAt(35, 99))
}

func TestRunCompositePlacement(t *testing.T) {
	offset := layer(t, solid(10, 10, red))
	offset.Left, offset.Top, offset.HasOffset = 20, 30, true

	corner := layer(t, solid(10, 10, blue))
	corner.Gravity = geometry.GravitySouthEast

	centred := layer(t, solid(10, 10, green))

	out := compositeRun(t, solid(100, 100, white), offset, corner, centred)

	assert.Equal(t, red, out.NRGBAAt(20, 30))
	assert.Equal(t, red, out.NRGBAAt(29, 39))
	assert.Equal(t, white, out.NRGBAAt(19, 30))
	assert.Equal(t, white, out.NRGBAAt(30, 40))

	assert.Equal(t, blue, out.NRGBAAt(90, 90))
	assert.Equal(t, blue, out.NRGBAAt(99, 99))
	assert.Equal(t, white, out.NRGBAAt(89, 89))

	assert.Equal(t, green, out.NRGBAAt(45, 45))
	assert.Equal(t, green, out.NRGBAAt(54, 54))
	assert.Equal(t, white, out.NRGBAAt(44, 44))
}

func TestRunCompositeLaterLayersWin(t *testing.T) {
	first := layer(t, solid(20, 20, red))
	second := layer(t, solid(10, 10, green))

	out := compositeRun(t, solid(40, 40, white), first, second)
	assert.Equal(t, green, out.NRGBAAt(20, 20))
	assert.Equal(t, red, out.NRGBAAt(11, 11))
	assert.Equal(t, white, out.NRGBAAt(5, 5))

	out = compositeRun(t, solid(40, 40, white), second, first)
	assert.Equal(t, red, out.NRGBAAt(20, 20))
}

func TestRunCompositeBlendModes(t *testing.T) {
	half := solid(10, 10, color.NRGBA{R: 255, A: 128})

	over := layer(t, half)
	out := compositeRun(t, solid(10, 10, blue), over)
	px := out.NRGBAAt(5, 5)
	assert.InDelta(t, 128, int(px.R), 2)
	assert.InDelta(t, 127, int(px.B), 2)
	assert.Equal(t, uint8(255), px.A)

	dest := layer(t, half)
	dest.Blend = "dest"
	out = compositeRun(t, solid(10, 10, blue), dest)
	assert.Equal(t, blue, out.NRGBAAt(5, 5))
}
