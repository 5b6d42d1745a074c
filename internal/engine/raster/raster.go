// Package raster synthesises pixel data for inputs that are not decoded from
// a container: flat canvases, gaussian noise and rendered text. Every engine
// wraps the result with FromRaw.
package raster

import (
	"image"
	"math"
	"math/rand"

	"github.com/anthonynsimon/bild/noise"
	"github.com/dunamismax/pixelpipe/internal/domain"
)

// Canvas fills width x height with a flat colour of the given channel count.
func Canvas(width, height, channels int, bg domain.Color) []byte {
	px := []byte{clamp8(bg.R), clamp8(bg.G), clamp8(bg.B), clamp8(bg.A)}
	if channels < 4 {
		px = px[:channels]
	}
	out := make([]byte, width*height*channels)
	for i := 0; i < len(out); i += channels {
		copy(out[i:], px)
	}
	return out
}

// Noise fills each band independently with gaussian noise of the given
// mean and standard deviation.
func Noise(width, height, channels int, mean, sigma float64) []byte {
	gauss := noise.Fn(func() uint8 {
		return clamp8(rand.NormFloat64()*sigma + mean)
	})
	rgba := noise.Generate(width, height, &noise.Options{NoiseFn: gauss})

	out := make([]byte, width*height*channels)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := rgba.PixOffset(x, y)
			dst := (y*width + x) * channels
			for c := 0; c < channels; c++ {
				switch c {
				case 3:
					out[dst+c] = gauss()
				default:
					out[dst+c] = rgba.Pix[src+c]
				}
			}
		}
	}
	return out
}

// ToSamples flattens img into interleaved samples with the requested band
// count. Grey output takes the luma of colour input.
func ToSamples(img image.Image, bands int) []byte {
	b := img.Bounds()
	out := make([]byte, b.Dx()*b.Dy()*bands)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := unpremultiplied(img.At(x, y).RGBA())
			switch bands {
			case 1:
				out[i] = luma(r, g, bl)
			case 2:
				out[i], out[i+1] = luma(r, g, bl), a
			case 3:
				out[i], out[i+1], out[i+2] = r, g, bl
			default:
				out[i], out[i+1], out[i+2], out[i+3] = r, g, bl, a
			}
			i += bands
		}
	}
	return out
}

// FromSamples is the inverse of ToSamples: it wraps interleaved 8-bit
// samples of 1 to 4 bands as a straight-alpha image.
func FromSamples(data []byte, width, height, bands int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for p := 0; p < width*height && (p+1)*bands <= len(data); p++ {
		px, o := data[p*bands:(p+1)*bands], p*4
		switch bands {
		case 1:
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = px[0], px[0], px[0], 255
		case 2:
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = px[0], px[0], px[0], px[1]
		case 3:
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = px[0], px[1], px[2], 255
		default:
			copy(img.Pix[o:o+4], px[:4])
		}
	}
	return img
}

func unpremultiplied(r, g, b, a uint32) (uint8, uint8, uint8, uint8) {
	if a == 0 {
		return 0, 0, 0, 0
	}
	if a == 0xffff {
		return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255
	}
	return uint8(r * 0xffff / a >> 8), uint8(g * 0xffff / a >> 8), uint8(b * 0xffff / a >> 8), uint8(a >> 8)
}

func luma(r, g, b uint8) uint8 {
	return clamp8(0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b))
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
