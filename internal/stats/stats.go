// Package stats measures an input image without transforming it: per-band
// statistics, opacity, entropy, sharpness and the dominant colour.
package stats

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/engine/raster"
	"github.com/dunamismax/pixelpipe/internal/input"
	"github.com/lucasb-eyer/go-colorful"
)

// dominantBins is the number of histogram bins per colour axis.
const dominantBins = 16

type Channel struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Sum        float64 `json:"sum"`
	SquaresSum float64 `json:"squares_sum"`
	Mean       float64 `json:"mean"`
	Stdev      float64 `json:"stdev"`
	MinX       int     `json:"min_x"`
	MinY       int     `json:"min_y"`
	MaxX       int     `json:"max_x"`
	MaxY       int     `json:"max_y"`
}

type Dominant struct {
	R   int    `json:"r"`
	G   int    `json:"g"`
	B   int    `json:"b"`
	Hex string `json:"hex"`
}

type Stats struct {
	Channels  []Channel `json:"channels"`
	IsOpaque  bool      `json:"is_opaque"`
	Entropy   float64   `json:"entropy"`
	Sharpness float64   `json:"sharpness"`
	Dominant  Dominant  `json:"dominant"`
}

type Reader struct {
	engine engine.Engine
	inputs *input.Resolver
}

func NewReader(eng engine.Engine, inputs *input.Resolver) *Reader {
	return &Reader{engine: eng, inputs: inputs}
}

// Read opens spec and measures it.
func (r *Reader) Read(ctx context.Context, spec domain.InputSpec) (Stats, error) {
	if err := spec.Validate(); err != nil {
		return Stats{}, err
	}
	opened, err := r.inputs.Open(ctx, spec)
	if err != nil {
		return Stats{}, err
	}
	defer opened.Image.Close()

	img := opened.Image
	data, err := r.engine.Pixels(img)
	if err != nil {
		return Stats{}, fmt.Errorf("read pixels: %w", err)
	}
	return Measure(data, img.Width(), img.Height(), img.Bands()), nil
}

// Measure computes the statistics of interleaved 8-bit samples.
func Measure(data []byte, width, height, bands int) Stats {
	out := Stats{
		Channels: channels(data, width, bands),
		IsOpaque: opaque(data, bands),
	}
	rgba := raster.FromSamples(data, width, height, bands)
	grey := imaging.Grayscale(rgba)
	out.Entropy = entropy(grey)
	if width > 1 || height > 1 {
		out.Sharpness = sharpness(grey)
	}
	out.Dominant = dominant(rgba)
	return out
}

func channels(data []byte, width, bands int) []Channel {
	out := make([]Channel, bands)
	for c := range out {
		out[c].Min = math.Inf(1)
		out[c].Max = math.Inf(-1)
	}
	n := 0
	for p := 0; (p+1)*bands <= len(data); p++ {
		x, y := p%width, p/width
		for c := 0; c < bands; c++ {
			v := float64(data[p*bands+c])
			ch := &out[c]
			if v < ch.Min {
				ch.Min, ch.MinX, ch.MinY = v, x, y
			}
			if v > ch.Max {
				ch.Max, ch.MaxX, ch.MaxY = v, x, y
			}
			ch.Sum += v
			ch.SquaresSum += v * v
		}
		n++
	}
	for c := range out {
		ch := &out[c]
		if n == 0 {
			ch.Min, ch.Max = 0, 0
			continue
		}
		ch.Mean = ch.Sum / float64(n)
		if n > 1 {
			variance := (ch.SquaresSum - ch.Sum*ch.Sum/float64(n)) / float64(n-1)
			ch.Stdev = math.Sqrt(math.Max(0, variance))
		}
	}
	return out
}

// opaque reports whether every alpha sample is fully opaque. Images without
// an alpha band are opaque.
func opaque(data []byte, bands int) bool {
	if bands != 2 && bands != 4 {
		return true
	}
	for i := bands - 1; i < len(data); i += bands {
		if data[i] != 255 {
			return false
		}
	}
	return true
}

// entropy is the Shannon entropy in bits of the greyscale histogram.
func entropy(grey *image.NRGBA) float64 {
	var hist [256]float64
	total := 0.0
	for i := 0; i < len(grey.Pix); i += 4 {
		hist[grey.Pix[i]]++
		total++
	}
	if total == 0 {
		return 0
	}
	e := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / total
			e -= p * math.Log2(p)
		}
	}
	return e
}

// sharpness is the standard deviation of the greyscale Laplacian, in grey
// levels. The response is signed, so it is convolved at an eighth of its
// range around a mid-grey bias and rescaled afterwards.
func sharpness(grey *image.NRGBA) float64 {
	const (
		bias  = 128
		scale = 8
	)
	k := convolution.NewKernel(3, 3)
	copy(k.Matrix, []float64{0, 1, 0, 1, -4, 1, 0, 1, 0})
	for i := range k.Matrix {
		k.Matrix[i] /= scale
	}
	lap := convolution.Convolve(grey, k, &convolution.Options{Bias: bias, KeepAlpha: true})

	var sum, squares, n float64
	for i := 0; i < len(lap.Pix); i += 4 {
		v := (float64(lap.Pix[i]) - bias) * scale
		sum += v
		squares += v * v
		n++
	}
	if n < 2 {
		return 0
	}
	return math.Sqrt(math.Max(0, (squares-sum*sum/n)/(n-1)))
}

// dominant finds the most populated cell of a coarse RGB histogram and
// reports the centre of that cell. Fully transparent pixels are ignored.
func dominant(img *image.NRGBA) Dominant {
	const step = 256 / dominantBins
	var hist [dominantBins * dominantBins * dominantBins]int
	best, bestCount := 0, -1
	for i := 0; i+3 < len(img.Pix); i += 4 {
		if img.Pix[i+3] == 0 {
			continue
		}
		r, g, b := int(img.Pix[i])/step, int(img.Pix[i+1])/step, int(img.Pix[i+2])/step
		cell := (r*dominantBins+g)*dominantBins + b
		hist[cell]++
		if hist[cell] > bestCount {
			best, bestCount = cell, hist[cell]
		}
	}
	r := best / (dominantBins * dominantBins)
	g := best / dominantBins % dominantBins
	b := best % dominantBins
	d := Dominant{R: r*step + step/2, G: g*step + step/2, B: b*step + step/2}
	d.Hex = colorful.Color{R: float64(d.R) / 255, G: float64(d.G) / 255, B: float64(d.B) / 255}.Hex()
	return d
}
