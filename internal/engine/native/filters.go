package native

import (
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpipe/internal/engine"
)

// Median replaces each sample with the median of a size x size window.
func (e *Engine) Median(img engine.Image, size int) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("median: size must be positive")
	}
	out := effect.Median(h.image(), float64((size-1)/2))
	return derive(h, normalise(storage(out, h.premul), h.bands)), nil
}

// GaussBlur blurs with a gaussian of the given sigma. Premultiplied and
// approximate blurs run on the raw samples through bild; straight alpha goes
// through imaging, which weights colour by alpha itself.
func (e *Engine) GaussBlur(img engine.Image, sigma float64, precision string, minAmpl float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("gaussblur: sigma must be positive")
	}
	var out image.Image
	switch {
	case precision == "approximate":
		out = blur.Box(h.image(), sigma)
	case h.premul:
		out = blur.Gaussian(h.image(), sigma)
	default:
		out = imaging.Blur(h.pix, sigma)
	}
	return derive(h, normalise(storage(out, h.premul), h.bands)), nil
}

func (e *Engine) Convolve(img engine.Image, kernel engine.ConvolutionKernel) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if kernel.Width < 1 || kernel.Height < 1 || len(kernel.Values) != kernel.Width*kernel.Height {
		return nil, fmt.Errorf("conv: kernel must have width*height values")
	}
	scale := kernel.Scale
	if scale == 0 {
		scale = 1
	}
	k := convolution.NewKernel(kernel.Width, kernel.Height)
	for i, v := range kernel.Values {
		k.Matrix[i] = v / scale
	}
	out := convolution.Convolve(h.image(), k, &convolution.Options{Bias: kernel.Offset, KeepAlpha: true})
	return derive(h, normalise(storage(out, h.premul), h.bands)), nil
}

// Sharpen is an unsharp mask whose gain is m1 for differences up to x1 and m2
// above it, with brightening capped by y2 and darkening by y3 (both in
// lightness units of 0-100).
func (e *Engine) Sharpen(img engine.Image, opts engine.SharpenOptions) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if opts.Sigma <= 0 {
		return nil, fmt.Errorf("sharpen: sigma must be positive")
	}
	blurred := imaging.Blur(h.pix, opts.Sigma)
	out := clone(h.pix)
	flat := opts.X1 * 2.55
	up, down := opts.Y2*2.55, opts.Y3*2.55
	for i := 0; i+3 < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			d := float64(out.Pix[i+c]) - float64(blurred.Pix[i+c])
			gain := opts.M2
			if math.Abs(d) <= flat {
				gain = opts.M1
			}
			d = math.Max(-down, math.Min(up, d*gain))
			out.Pix[i+c] = clamp8(float64(out.Pix[i+c]) + d)
		}
	}
	return derive(h, normalise(out, h.bands)), nil
}

// entropyMap scores each pixel by the information content of its luma bin,
// so windows full of rare tones score highest.
func entropyMap(h *handle) []float64 {
	w, ht := h.Width(), h.Height()
	var hist [256]int
	lum := make([]uint8, w*ht)
	for p := range lum {
		i := p * 4
		lum[p] = luma(h.pix.Pix[i], h.pix.Pix[i+1], h.pix.Pix[i+2])
		hist[lum[p]]++
	}
	total := float64(w * ht)
	score := make([]float64, w*ht)
	for p, v := range lum {
		score[p] = -math.Log2(float64(hist[v]) / total)
	}
	return score
}

// attentionMap combines edge strength with saturation.
func attentionMap(h *handle) []float64 {
	edges := effect.Sobel(h.pix)
	w, ht := h.Width(), h.Height()
	score := make([]float64, w*ht)
	for p := range score {
		i := p * 4
		edge := float64(luma(edges.Pix[i], edges.Pix[i+1], edges.Pix[i+2])) / 255
		r, g, b := h.pix.Pix[i], h.pix.Pix[i+1], h.pix.Pix[i+2]
		sat := float64(max(r, g, b)-min(r, g, b)) / 255
		score[p] = edge + sat
	}
	return score
}
