package native

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/geometry"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawImage(t *testing.T, e *Engine, w, h, bands int, px func(x, y int) []byte) engine.Image {
	t.Helper()
	data := make([]byte, 0, w*h*bands)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data = append(data, px(x, y)...)
		}
	}
	img, err := e.FromRaw(data, w, h, bands, domain.DepthUchar, "")
	require.NoError(t, err)
	return img
}

func pixelAt(t *testing.T, e *Engine, img engine.Image, x, y int) []byte {
	t.Helper()
	data, err := e.Pixels(img)
	require.NoError(t, err)
	b := img.Bands()
	i := (y*img.Width() + x) * b
	return data[i : i+b]
}

func TestFromRawRoundTrip(t *testing.T) {
	e := New()
	for _, bands := range []int{1, 2, 3, 4} {
		img := rawImage(t, e, 3, 2, bands, func(x, y int) []byte {
			out := make([]byte, bands)
			for c := range out {
				out[c] = byte(10*x + 50*y + c)
			}
			return out
		})
		assert.Equal(t, bands, img.Bands())
		assert.Equal(t, bands == 2 || bands == 4, img.HasAlpha())
		data, err := e.Pixels(img)
		require.NoError(t, err)
		assert.Len(t, data, 3*2*bands)
		assert.Equal(t, byte(10*2+50*1), data[(1*3+2)*bands])
	}
}

func TestFromRawRejectsShortBuffer(t *testing.T) {
	_, err := New().FromRaw(make([]byte, 5), 2, 2, 3, domain.DepthUchar, "")
	assert.Error(t, err)

	_, err = New().FromRaw(make([]byte, 24), 2, 2, 3, domain.DepthUshort, "")
	assert.ErrorIs(t, err, engine.ErrUnsupported)
}

func TestRotClockwise(t *testing.T) {
	e := New()
	// red top-left pixel on a 4x2 image
	img := rawImage(t, e, 4, 2, 3, func(x, y int) []byte {
		if x == 0 && y == 0 {
			return []byte{255, 0, 0}
		}
		return []byte{0, 0, 0}
	})
	rot, err := e.Rot(img, geometry.Angle90)
	require.NoError(t, err)
	assert.Equal(t, 2, rot.Width())
	assert.Equal(t, 4, rot.Height())
	// clockwise turn moves top-left to top-right
	assert.Equal(t, []byte{255, 0, 0}, pixelAt(t, e, rot, 1, 0))
}

func TestExtractAreaBounds(t *testing.T) {
	e := New()
	img := rawImage(t, e, 10, 10, 3, func(x, y int) []byte { return []byte{byte(x), byte(y), 0} })

	out, err := e.ExtractArea(img, 2, 3, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Width())
	assert.Equal(t, 5, out.Height())
	assert.Equal(t, []byte{2, 3, 0}, pixelAt(t, e, out, 0, 0))

	_, err = e.ExtractArea(img, 8, 0, 4, 4)
	assert.Error(t, err)
}

func TestEmbedExtendModes(t *testing.T) {
	e := New()
	img := rawImage(t, e, 2, 1, 1, func(x, y int) []byte { return []byte{byte(100 + x)} })

	tests := []struct {
		extend engine.Extend
		want   []byte
	}{
		{engine.ExtendBackground, []byte{7, 7, 100, 101, 7, 7}},
		{engine.ExtendCopy, []byte{100, 100, 100, 101, 101, 101}},
		{engine.ExtendRepeat, []byte{100, 101, 100, 101, 100, 101}},
		{engine.ExtendMirror, []byte{101, 100, 100, 101, 101, 100}},
	}
	for _, tt := range tests {
		t.Run(string(tt.extend), func(t *testing.T) {
			out, err := e.Embed(img, 2, 0, 6, 1, tt.extend, []float64{7})
			require.NoError(t, err)
			data, err := e.Pixels(out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestResizeScales(t *testing.T) {
	e := New()
	img := rawImage(t, e, 100, 50, 3, func(x, y int) []byte { return []byte{128, 128, 128} })
	for _, k := range []engine.Kernel{engine.KernelNearest, engine.KernelLinear, engine.KernelCubic, engine.KernelMitchell, engine.KernelLanczos2, engine.KernelLanczos3} {
		out, err := e.Resize(img, 0.5, 0.5, k)
		require.NoError(t, err)
		assert.Equal(t, 50, out.Width(), k)
		assert.Equal(t, 25, out.Height(), k)
		assert.InDelta(t, 128, int(pixelAt(t, e, out, 10, 10)[0]), 1, k)
	}
}

func TestResizePremultipliedKeepsTransparentEdgesDark(t *testing.T) {
	e := New()
	img := rawImage(t, e, 4, 4, 4, func(x, y int) []byte {
		if x < 2 {
			return []byte{255, 255, 255, 0}
		}
		return []byte{200, 0, 0, 255}
	})
	pre, err := e.Premultiply(img)
	require.NoError(t, err)
	out, err := e.Resize(pre, 0.5, 0.5, engine.KernelLinear)
	require.NoError(t, err)
	back, err := e.Unpremultiply(out)
	require.NoError(t, err)
	px := pixelAt(t, e, back, 1, 0)
	assert.Greater(t, int(px[0]), int(px[1]), "white from transparent pixels must not bleed in")
}

func TestPremultiplyRoundTrip(t *testing.T) {
	e := New()
	img := rawImage(t, e, 1, 1, 4, func(x, y int) []byte { return []byte{200, 100, 50, 255} })
	pre, err := e.Premultiply(img)
	require.NoError(t, err)
	back, err := e.Unpremultiply(pre)
	require.NoError(t, err)
	assert.Equal(t, []byte{200, 100, 50, 255}, pixelAt(t, e, back, 0, 0))
}

func TestCompositeOverTransparentBase(t *testing.T) {
	e := New()
	base := rawImage(t, e, 4, 4, 4, func(x, y int) []byte { return []byte{0, 0, 0, 0} })
	overlay := rawImage(t, e, 2, 2, 4, func(x, y int) []byte { return []byte{10, 20, 30, 255} })

	out, err := e.Composite(base, []engine.Overlay{{Image: overlay, Blend: "over", Left: 1, Top: 1}}, false)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Bands())
	assert.Equal(t, []byte{10, 20, 30, 255}, pixelAt(t, e, out, 1, 1))
	assert.Equal(t, []byte{0, 0, 0, 0}, pixelAt(t, e, out, 0, 0))

	_, err = e.Composite(base, []engine.Overlay{{Image: overlay, Blend: "no-such-mode"}}, false)
	assert.ErrorIs(t, err, engine.ErrUnsupported)
}

func TestCompositeMultiply(t *testing.T) {
	e := New()
	base := rawImage(t, e, 2, 2, 3, func(x, y int) []byte { return []byte{200, 200, 200} })
	overlay := rawImage(t, e, 2, 2, 4, func(x, y int) []byte { return []byte{0, 0, 0, 255} })
	out, err := e.Composite(base, []engine.Overlay{{Image: overlay, Blend: "multiply"}}, false)
	require.NoError(t, err)
	assert.Equal(t, byte(0), pixelAt(t, e, out, 0, 0)[0])
}

func TestBandPlumbing(t *testing.T) {
	e := New()
	rgb := rawImage(t, e, 2, 2, 3, func(x, y int) []byte { return []byte{1, 2, 3} })

	green, err := e.ExtractBand(rgb, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, green.Bands())
	assert.Equal(t, engine.InterpretationBW, green.Interpretation())
	assert.Equal(t, []byte{2}, pixelAt(t, e, green, 0, 0))

	_, err = e.ExtractBand(rgb, 3, 1)
	assert.Error(t, err)

	joined, err := e.BandJoin(rgb, green)
	require.NoError(t, err)
	assert.Equal(t, 4, joined.Bands())
	assert.Equal(t, []byte{1, 2, 3, 2}, pixelAt(t, e, joined, 1, 1))

	_, err = e.BandJoin(joined, green)
	assert.ErrorIs(t, err, engine.ErrUnsupported)

	withAlpha, err := e.AddAlpha(rgb, 255)
	require.NoError(t, err)
	assert.True(t, withAlpha.HasAlpha())
	noAlpha, err := e.RemoveAlpha(withAlpha)
	require.NoError(t, err)
	assert.Equal(t, 3, noAlpha.Bands())

	folded, err := e.BandBool(rgb, "or")
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, pixelAt(t, e, folded, 0, 0))
}

func TestThresholdGreyscale(t *testing.T) {
	e := New()
	img := rawImage(t, e, 2, 1, 3, func(x, y int) []byte {
		if x == 0 {
			return []byte{10, 10, 10}
		}
		return []byte{250, 250, 250}
	})
	out, err := e.Threshold(img, 128, true)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Bands())
	data, err := e.Pixels(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 255}, data)
}

func TestArrayJoinAndGrid(t *testing.T) {
	e := New()
	frames := make([]engine.Image, 3)
	for i := range frames {
		v := byte(i * 50)
		frames[i] = rawImage(t, e, 2, 2, 1, func(x, y int) []byte { return []byte{v} })
	}
	roll, err := e.ArrayJoin(frames, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, roll.Width())
	assert.Equal(t, 6, roll.Height())

	grid, err := e.Grid(roll, 2, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, grid.Width())
	assert.Equal(t, 2, grid.Height())
	assert.Equal(t, []byte{100}, pixelAt(t, e, grid, 4, 0))
}

func TestPNGRoundTrip(t *testing.T) {
	e := New()
	ctx := context.Background()
	for _, bands := range []int{1, 3, 4} {
		img := rawImage(t, e, 5, 4, bands, func(x, y int) []byte {
			px := []byte{byte(x * 40), byte(y * 40), 99, byte(50 + x)}
			if bands == 1 {
				return px[:1]
			}
			return px[:bands]
		})
		buf, err := e.Save(ctx, img, engine.SaveOptions{Format: imagetype.FormatPNG, Options: domain.DefaultFormatOptions()})
		require.NoError(t, err)
		assert.Equal(t, imagetype.PNG, imagetype.Detect(buf))

		back, err := e.Load(ctx, engine.Source{Buffer: buf}, engine.LoadOptions{Pages: 1})
		require.NoError(t, err)
		assert.Equal(t, 5, back.Width())
		assert.Equal(t, 4, back.Height())
		assert.Equal(t, bands, back.Bands())
	}
}

func TestJPEGKeepsOrientationAndDensity(t *testing.T) {
	e := New()
	ctx := context.Background()
	img := rawImage(t, e, 8, 8, 3, func(x, y int) []byte { return []byte{120, 60, 30} })
	img, err := e.SetMeta(img, func(m *engine.Meta) {
		m.Orientation = 6
		m.Density = 300
		m.ExifFields = map[string]string{"Copyright": "pixelpipe"}
	})
	require.NoError(t, err)

	buf, err := e.Save(ctx, img, engine.SaveOptions{
		Format:  imagetype.FormatJPEG,
		Options: domain.DefaultFormatOptions(),
		Keep:    domain.KeepExif,
	})
	require.NoError(t, err)

	back, err := e.Load(ctx, engine.Source{Buffer: buf}, engine.LoadOptions{Pages: 1})
	require.NoError(t, err)
	meta := back.Meta()
	assert.Equal(t, 6, meta.Orientation)
	assert.Equal(t, 300.0, meta.Density)
	assert.Equal(t, "pixelpipe", meta.ExifFields["Copyright"])
	assert.Equal(t, 3, back.Bands())
}

func TestJPEGShrinkOnLoad(t *testing.T) {
	e := New()
	ctx := context.Background()
	img := rawImage(t, e, 64, 48, 3, func(x, y int) []byte { return []byte{10, 20, 30} })
	buf, err := e.Save(ctx, img, engine.SaveOptions{Format: imagetype.FormatJPEG, Options: domain.DefaultFormatOptions()})
	require.NoError(t, err)

	back, err := e.Load(ctx, engine.Source{Buffer: buf}, engine.LoadOptions{Shrink: 4})
	require.NoError(t, err)
	assert.Equal(t, 16, back.Width())
	assert.Equal(t, 12, back.Height())
}

func animatedGIF(t *testing.T, pages, w, h int) []byte {
	t.Helper()
	pal := color.Palette{color.RGBA{0, 0, 0, 255}, color.RGBA{255, 0, 0, 255}, color.RGBA{0, 255, 0, 255}}
	anim := &gif.GIF{LoopCount: 0}
	for n := 0; n < pages; n++ {
		frame := image.NewPaletted(image.Rect(0, 0, w, h), pal)
		for i := range frame.Pix {
			frame.Pix[i] = uint8(n % len(pal))
		}
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 5)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	return buf.Bytes()
}

func TestGIFPagesAndRoundTrip(t *testing.T) {
	e := New()
	ctx := context.Background()
	buf := animatedGIF(t, 5, 20, 10)

	all, err := e.Load(ctx, engine.Source{Buffer: buf}, engine.LoadOptions{Pages: -1})
	require.NoError(t, err)
	assert.Equal(t, 50, all.Height())
	meta := all.Meta()
	assert.Equal(t, 5, meta.Pages)
	assert.Equal(t, 10, meta.PageHeight)
	assert.Equal(t, []int{50, 50, 50, 50, 50}, meta.Delay)
	assert.Equal(t, 0, meta.Loop)

	some, err := e.Load(ctx, engine.Source{Buffer: buf}, engine.LoadOptions{Page: 3, Pages: -1})
	require.NoError(t, err)
	assert.Equal(t, 20, some.Height())
	assert.Equal(t, []byte{0, 0, 0}, pixelAt(t, e, some, 0, 0))
	assert.Equal(t, []byte{255, 0, 0}, pixelAt(t, e, some, 0, 10))

	out, err := e.Save(ctx, all, engine.SaveOptions{Format: imagetype.FormatGIF, Options: domain.DefaultFormatOptions()})
	require.NoError(t, err)
	decoded, err := gif.DecodeAll(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, decoded.Image, 5)
	assert.Equal(t, 10, decoded.Config.Height)
}

func TestLoadBlockedAndUnsupported(t *testing.T) {
	e := New()
	ctx := context.Background()
	e.Blocklist().Set([]string{"gifload"}, true)
	_, err := e.Load(ctx, engine.Source{Buffer: animatedGIF(t, 1, 2, 2)}, engine.LoadOptions{})
	assert.ErrorIs(t, err, engine.ErrUnsupported)

	_, err = e.Load(ctx, engine.Source{Buffer: []byte("<svg xmlns='http://www.w3.org/2000/svg'/>")}, engine.LoadOptions{})
	assert.ErrorIs(t, err, engine.ErrUnsupported)
}

func TestExifWriterReader(t *testing.T) {
	exif := buildExif(3, map[string]string{"Artist": "someone", "Make": "abc"})
	orientation, fields := parseExif(exif)
	assert.Equal(t, 3, orientation)
	assert.Equal(t, "someone", fields["Artist"])
	assert.Equal(t, "abc", fields["Make"])

	assert.Nil(t, buildExif(0, nil))
}

func TestExifReaderBigEndianAndGarbage(t *testing.T) {
	block := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x06, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	orientation, fields := parseExif(block)
	assert.Equal(t, 6, orientation)
	assert.Nil(t, fields)

	orientation, fields = parseExif([]byte("not a tiff block"))
	assert.Zero(t, orientation)
	assert.Nil(t, fields)
}

func TestSmartCropFindsDetail(t *testing.T) {
	e := New()
	// flat grey with a busy patch on the right edge
	img := rawImage(t, e, 40, 10, 3, func(x, y int) []byte {
		if x >= 30 && (x+y)%2 == 0 {
			return []byte{255, 0, 0}
		}
		return []byte{128, 128, 128}
	})
	for _, strategy := range []engine.Interesting{engine.InterestingEntropy, engine.InterestingAttention} {
		out, res, err := e.SmartCrop(img, 10, 10, strategy, false)
		require.NoError(t, err)
		assert.Equal(t, 10, out.Width())
		assert.GreaterOrEqual(t, res.Left, 25, strategy)
	}
}
