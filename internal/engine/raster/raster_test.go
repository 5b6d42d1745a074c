package raster

import (
	"testing"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanvasAndSamplesRoundTrip(t *testing.T) {
	data := Canvas(3, 2, 4, domain.Color{R: 10, G: 20, B: 30, A: 128})
	require.Len(t, data, 3*2*4)
	assert.Equal(t, []byte{10, 20, 30, 128}, data[:4])

	img := FromSamples(data, 3, 2, 4)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, data, ToSamples(img, 4))
}

func TestFromSamplesGrey(t *testing.T) {
	img := FromSamples([]byte{0, 255, 7, 9}, 2, 1, 2)
	assert.Equal(t, []byte{0, 0, 0, 255, 7, 7, 7, 9}, img.Pix)

	img = FromSamples([]byte{42}, 1, 1, 1)
	assert.Equal(t, []byte{42, 42, 42, 255}, img.Pix)
}

func TestNoiseStaysInRange(t *testing.T) {
	data := Noise(16, 16, 3, 128, 30)
	require.Len(t, data, 16*16*3)
	distinct := map[byte]bool{}
	for _, v := range data {
		distinct[v] = true
	}
	assert.Greater(t, len(distinct), 10)
}

func TestRenderTextAutofit(t *testing.T) {
	text, err := RenderText(domain.TextSource{Text: "pixelpipe", Width: 200, Height: 60})
	require.NoError(t, err)
	assert.Equal(t, 1, text.Bands)
	assert.Equal(t, 200, text.Width)
	assert.LessOrEqual(t, text.Height, 60)
	assert.Positive(t, text.AutofitDPI)
	assert.Len(t, text.Pixels, text.Width*text.Height)
}
