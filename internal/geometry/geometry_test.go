package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allGravities = []Gravity{
	GravityCentre, GravityNorth, GravityEast, GravitySouth, GravityWest,
	GravityNorthEast, GravitySouthEast, GravitySouthWest, GravityNorthWest,
}

func TestCalculateCropGravity(t *testing.T) {
	cases := []struct {
		gravity   Gravity
		left, top int
	}{
		{GravityCentre, 200, 150},
		{GravityNorth, 200, 0},
		{GravityEast, 400, 150},
		{GravitySouth, 200, 300},
		{GravityWest, 0, 150},
		{GravityNorthEast, 400, 0},
		{GravitySouthEast, 400, 300},
		{GravitySouthWest, 0, 300},
		{GravityNorthWest, 0, 0},
	}
	for _, tc := range cases {
		left, top := CalculateCrop(800, 600, 400, 300, tc.gravity)
		assert.Equal(t, tc.left, left, "gravity %d left", tc.gravity)
		assert.Equal(t, tc.top, top, "gravity %d top", tc.gravity)
	}
}

func TestCalculateCropCentreRoundsTowardsLaterPixel(t *testing.T) {
	left, top := CalculateCrop(5, 4, 2, 1, GravityCentre)
	assert.Equal(t, 2, left)
	assert.Equal(t, 2, top)
}

func TestCropAndEmbedOffsetsStayInBoundsAndMirror(t *testing.T) {
	sizes := [][4]int{
		{800, 600, 400, 300},
		{101, 99, 10, 33},
		{7, 7, 7, 7},
		{640, 480, 1, 479},
		{33, 1000, 32, 1},
	}
	for _, s := range sizes {
		inW, inH, outW, outH := s[0], s[1], s[2], s[3]
		for _, g := range allGravities {
			left, top := CalculateCrop(inW, inH, outW, outH, g)
			assert.GreaterOrEqual(t, left, 0)
			assert.GreaterOrEqual(t, top, 0)
			assert.LessOrEqual(t, left, inW-outW)
			assert.LessOrEqual(t, top, inH-outH)

			embedLeft, embedTop := CalculateEmbedPosition(outW, outH, inW, inH, g)
			assert.Equal(t, left, embedLeft, "mirror left %v gravity %d", s, g)
			assert.Equal(t, top, embedTop, "mirror top %v gravity %d", s, g)
		}
	}
}

func TestCalculateCropOffsetClamps(t *testing.T) {
	left, top := CalculateCropOffset(100, 80, 40, 30, 10, 20)
	assert.Equal(t, 10, left)
	assert.Equal(t, 20, top)

	left, top = CalculateCropOffset(100, 80, 40, 30, 90, 70)
	assert.Equal(t, 60, left)
	assert.Equal(t, 50, top)

	left, top = CalculateCropOffset(100, 80, 40, 30, -5, -1)
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, top)
}

func TestResolveShrinkCanvasModes(t *testing.T) {
	cases := []struct {
		canvas Canvas
		h, v   float64
	}{
		{CanvasCrop, 1.5, 1.5},
		{CanvasMin, 1.5, 1.5},
		{CanvasEmbed, 2, 2},
		{CanvasMax, 2, 2},
		{CanvasIgnoreAspect, 2, 1.5},
	}
	for _, tc := range cases {
		h, v := ResolveShrink(800, 600, 400, 400, tc.canvas, false, false)
		assert.InDelta(t, tc.h, h, 1e-9, "canvas %s", tc.canvas)
		assert.InDelta(t, tc.v, v, 1e-9, "canvas %s", tc.canvas)
	}
}

func TestResolveShrinkSingleDimension(t *testing.T) {
	h, v := ResolveShrink(800, 600, 200, -1, CanvasCrop, false, false)
	assert.InDelta(t, 4.0, h, 1e-9)
	assert.InDelta(t, 4.0, v, 1e-9)

	h, v = ResolveShrink(800, 600, -1, 300, CanvasMax, false, false)
	assert.InDelta(t, 2.0, h, 1e-9)
	assert.InDelta(t, 2.0, v, 1e-9)

	h, v = ResolveShrink(800, 600, 200, -1, CanvasIgnoreAspect, false, false)
	assert.InDelta(t, 4.0, h, 1e-9)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestResolveShrinkEnlargementPolicies(t *testing.T) {
	targets := [][2]int{{50, 50}, {1600, 1200}, {400, -1}, {-1, 2000}, {3000, 20}}
	for _, target := range targets {
		for _, canvas := range []Canvas{CanvasCrop, CanvasEmbed, CanvasMax, CanvasMin, CanvasIgnoreAspect} {
			h, v := ResolveShrink(800, 600, target[0], target[1], canvas, true, false)
			assert.GreaterOrEqual(t, h, 1.0)
			assert.GreaterOrEqual(t, v, 1.0)

			h, v = ResolveShrink(800, 600, target[0], target[1], canvas, false, true)
			assert.LessOrEqual(t, h, 1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestResolveShrinkNeverCollapsesAnAxis(t *testing.T) {
	h, v := ResolveShrink(10, 2000, 1, 1, CanvasIgnoreAspect, false, false)
	assert.LessOrEqual(t, h, 10.0)
	assert.LessOrEqual(t, v, 2000.0)

	h, _ = ResolveShrink(4, 4000, -1, 1, CanvasCrop, false, false)
	assert.InDelta(t, 4.0, h, 1e-9)
}

func TestResolveShrinkIsIdempotent(t *testing.T) {
	cases := []struct {
		w, h, tw, th int
		canvas       Canvas
	}{
		{800, 600, 400, 300, CanvasCrop},
		{800, 600, 400, 300, CanvasIgnoreAspect},
		{1024, 768, 256, -1, CanvasMax},
		{640, 480, -1, 120, CanvasEmbed},
		{300, 300, 150, 150, CanvasMin},
	}
	for _, tc := range cases {
		hs, vs := ResolveShrink(tc.w, tc.h, tc.tw, tc.th, tc.canvas, false, false)
		w := int(math.Round(float64(tc.w) / hs))
		h := int(math.Round(float64(tc.h) / vs))
		hs2, vs2 := ResolveShrink(w, h, tc.tw, tc.th, tc.canvas, false, false)
		assert.InDelta(t, 1.0, hs2, 1e-9, "%+v", tc)
		assert.InDelta(t, 1.0, vs2, 1e-9, "%+v", tc)
	}
}

func TestParseCanvasAndGravity(t *testing.T) {
	c, err := ParseCanvas("contain")
	require.NoError(t, err)
	assert.Equal(t, CanvasEmbed, c)

	_, err = ParseCanvas("stretch")
	require.Error(t, err)

	g, err := ParseGravity("NorthWest")
	require.NoError(t, err)
	assert.Equal(t, GravityNorthWest, g)

	g, err = ParseGravity("attention")
	require.NoError(t, err)
	assert.True(t, g.IsStrategy())
	assert.False(t, GravitySouthWest.IsStrategy())
}

func TestExifRotation(t *testing.T) {
	cases := []struct {
		orientation int
		angle       Angle
		flip, flop  bool
	}{
		{1, Angle0, false, false},
		{2, Angle0, false, true},
		{3, Angle180, false, false},
		{4, Angle180, false, true},
		{5, Angle270, true, false},
		{6, Angle90, false, false},
		{7, Angle90, true, false},
		{8, Angle270, false, false},
	}
	for _, tc := range cases {
		angle, flip, flop := ExifRotation(tc.orientation)
		assert.Equal(t, tc.angle, angle, "orientation %d", tc.orientation)
		assert.Equal(t, tc.flip, flip, "orientation %d", tc.orientation)
		assert.Equal(t, tc.flop, flop, "orientation %d", tc.orientation)
	}
}

func TestAngleRotation(t *testing.T) {
	assert.Equal(t, Angle90, AngleRotation(90))
	assert.Equal(t, Angle270, AngleRotation(-90))
	assert.Equal(t, Angle180, AngleRotation(540))
	assert.Equal(t, Angle0, AngleRotation(45))
	assert.True(t, Angle270.SwapsAxes())
	assert.False(t, Angle180.SwapsAxes())
}

func TestRotatedBounds(t *testing.T) {
	w, h := RotatedBounds(100, 50, 90)
	assert.Equal(t, 50, w)
	assert.Equal(t, 100, h)

	w, h = RotatedBounds(10, 10, 45)
	assert.Equal(t, 15, w)
	assert.Equal(t, 15, h)
}
