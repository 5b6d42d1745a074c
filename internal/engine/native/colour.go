package native

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/lucasb-eyer/go-colorful"
)

func (e *Engine) Colourspace(img engine.Image, to engine.Interpretation) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	switch to {
	case h.interp:
		return derive(h, clone(h.pix)), nil
	case engine.InterpretationBW:
		out := derive(h, toGrey(h.pix))
		out.bands, out.interp = 1, engine.InterpretationBW
		if h.HasAlpha() {
			out.bands = 2
		}
		return out, nil
	case engine.InterpretationSRGB, engine.InterpretationRGB:
		out := derive(h, clone(h.pix))
		out.interp = to
		if h.grey() {
			out.bands += 2
		}
		return out, nil
	}
	return nil, engine.Unsupported(name, fmt.Sprintf("colourspace %s to %s", h.interp, to))
}

func toGrey(pix *image.NRGBA) *image.NRGBA {
	out := clone(pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		v := luma(out.Pix[i], out.Pix[i+1], out.Pix[i+2])
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
	}
	return out
}

func (e *Engine) ICCTransform(img engine.Image, opts engine.ICCOptions) (engine.Image, error) {
	return nil, engine.Unsupported(name, "icc_transform")
}

func (e *Engine) Flatten(img engine.Image, background []float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if !h.HasAlpha() {
		return derive(h, clone(h.pix)), nil
	}
	bg := fill(background, 3)
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		a := float64(out.Pix[i+3]) / 255
		for c := 0; c < 3; c++ {
			v := float64(out.Pix[i+c])
			if !h.premul {
				v *= a
			}
			out.Pix[i+c] = clamp8(v + float64(bg[c])*(1-a))
		}
		out.Pix[i+3] = 255
	}
	res := derive(h, out)
	res.bands--
	res.premul = false
	return res, nil
}

// Unflatten makes white pixels transparent.
func (e *Engine) Unflatten(img engine.Image) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		if out.Pix[i] == 255 && out.Pix[i+1] == 255 && out.Pix[i+2] == 255 {
			out.Pix[i+3] = 0
		}
	}
	res := derive(h, out)
	if !h.HasAlpha() {
		res.bands++
	}
	return res, nil
}

// Gamma raises every colour sample to 1/exponent, as libvips gamma does.
func (e *Engine) Gamma(img engine.Image, exponent float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if exponent <= 0 {
		return nil, fmt.Errorf("gamma: exponent must be positive")
	}
	return derive(h, imaging.AdjustGamma(h.pix, exponent)), nil
}

func (e *Engine) Premultiply(img engine.Image) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	out := clone(h.pix)
	if h.premul || !h.HasAlpha() {
		return derive(h, out), nil
	}
	for i := 0; i+3 < len(out.Pix); i += 4 {
		px := premultiplyPixel([4]uint8{out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3]})
		copy(out.Pix[i:i+4], px[:])
	}
	res := derive(h, out)
	res.premul = true
	return res, nil
}

func (e *Engine) Unpremultiply(img engine.Image) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	out := clone(h.pix)
	if !h.premul {
		return derive(h, out), nil
	}
	for i := 0; i+3 < len(out.Pix); i += 4 {
		a := out.Pix[i+3]
		switch a {
		case 0:
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = 0, 0, 0
		case 255:
		default:
			for c := 0; c < 3; c++ {
				out.Pix[i+c] = clamp8(float64(out.Pix[i+c]) * 255 / float64(a))
			}
		}
	}
	res := derive(h, out)
	res.premul = false
	return res, nil
}

func premultiplyPixel(px [4]uint8) [4]uint8 {
	a := float64(px[3]) / 255
	return [4]uint8{clamp8(float64(px[0]) * a), clamp8(float64(px[1]) * a), clamp8(float64(px[2]) * a), px[3]}
}

// Cast only accepts 8-bit targets; samples are already clamped to uchar.
func (e *Engine) Cast(img engine.Image, depth string) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if depth != "" && depth != domain.DepthUchar {
		return nil, engine.Unsupported(name, "cast to "+depth)
	}
	return derive(h, clone(h.pix)), nil
}

// Linear applies a*x+b per band. With one-element slices every colour band
// shares the coefficients; alpha is left alone unless a value is supplied
// for it explicitly.
func (e *Engine) Linear(img engine.Image, a, b []float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(a) != len(b) {
		return nil, fmt.Errorf("linear: a and b must be the same non-zero length")
	}
	colour := 3
	if h.grey() {
		colour = 1
	}
	coef := func(v []float64, band int) (float64, bool) {
		if len(v) == 1 {
			return v[0], band < colour
		}
		if band < len(v) {
			return v[band], true
		}
		return 0, false
	}
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		for band := 0; band < h.bands; band++ {
			ca, ok := coef(a, band)
			if !ok {
				continue
			}
			cb, _ := coef(b, band)
			idx := band
			if h.grey() && band == 1 {
				idx = 3
			}
			out.Pix[i+idx] = clamp8(ca*float64(out.Pix[i+idx]) + cb)
		}
	}
	return derive(h, normalise(out, h.bands)), nil
}

// Normalise stretches Lab lightness so the lower and upper percentiles map
// to the full range, keeping chroma and alpha.
func (e *Engine) Normalise(img engine.Image, lower, upper int) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	n := len(h.pix.Pix) / 4
	lightness := make([]float64, n)
	labs := make([][3]float64, n)
	for p := 0; p < n; p++ {
		i := p * 4
		l, a, b := rgbColor(h.pix.Pix[i:]).Lab()
		labs[p] = [3]float64{l, a, b}
		lightness[p] = l
	}
	sorted := append([]float64(nil), lightness...)
	sort.Float64s(sorted)
	lo := percentile(sorted, lower)
	hi := percentile(sorted, upper)
	out := clone(h.pix)
	if hi <= lo {
		return derive(h, out), nil
	}
	for p := 0; p < n; p++ {
		l := math.Min(1, math.Max(0, (labs[p][0]-lo)/(hi-lo)))
		r, g, b := colorful.Lab(l, labs[p][1], labs[p][2]).Clamped().RGB255()
		i := p * 4
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = r, g, b
	}
	return derive(h, normalise(out, h.bands)), nil
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(float64(pct) / 100 * float64(len(sorted)-1)))
	return sorted[clampInt(idx, 0, len(sorted)-1)]
}

func rgbColor(px []uint8) colorful.Color {
	return colorful.Color{R: float64(px[0]) / 255, G: float64(px[1]) / 255, B: float64(px[2]) / 255}
}

// CLAHE equalises Lab lightness per width x height tile, clipping each
// histogram at maxSlope times the uniform bin count, and blends the four
// nearest tile mappings bilinearly.
func (e *Engine) CLAHE(img engine.Image, width, height, maxSlope int) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("clahe: invalid tile %dx%d", width, height)
	}
	w, ht := h.Width(), h.Height()
	nx, ny := (w+width-1)/width, (ht+height-1)/height
	labs := make([][3]float64, w*ht)
	bins := make([]uint8, w*ht)
	for p := range labs {
		l, a, b := rgbColor(h.pix.Pix[p*4:]).Lab()
		labs[p] = [3]float64{l, a, b}
		bins[p] = clamp8(l * 255)
	}
	maps := make([][256]float64, nx*ny)
	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			var hist [256]float64
			x0, y0 := tx*width, ty*height
			x1, y1 := min(x0+width, w), min(y0+height, ht)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[bins[y*w+x]]++
				}
			}
			area := float64((x1 - x0) * (y1 - y0))
			if maxSlope > 0 {
				limit := float64(maxSlope) * area / 256
				excess := 0.0
				for i := range hist {
					if hist[i] > limit {
						excess += hist[i] - limit
						hist[i] = limit
					}
				}
				for i := range hist {
					hist[i] += excess / 256
				}
			}
			sum := 0.0
			for i := range hist {
				sum += hist[i]
				maps[ty*nx+tx][i] = sum / area
			}
		}
	}
	centre := func(v, size, n int) (int, int, float64) {
		f := (float64(v)+0.5)/float64(size) - 0.5
		i0 := int(math.Floor(f))
		frac := f - float64(i0)
		return clampInt(i0, 0, n-1), clampInt(i0+1, 0, n-1), frac
	}
	out := clone(h.pix)
	for y := 0; y < ht; y++ {
		ty0, ty1, fy := centre(y, height, ny)
		for x := 0; x < w; x++ {
			tx0, tx1, fx := centre(x, width, nx)
			p := y*w + x
			v := bins[p]
			top := maps[ty0*nx+tx0][v]*(1-fx) + maps[ty0*nx+tx1][v]*fx
			bottom := maps[ty1*nx+tx0][v]*(1-fx) + maps[ty1*nx+tx1][v]*fx
			l := top*(1-fy) + bottom*fy
			r, g, b := colorful.Lab(l, labs[p][1], labs[p][2]).Clamped().RGB255()
			out.Pix[p*4], out.Pix[p*4+1], out.Pix[p*4+2] = r, g, b
		}
	}
	return derive(h, normalise(out, h.bands)), nil
}

// Tint keeps each pixel's lightness and replaces its chroma with that of
// colour.
func (e *Engine) Tint(img engine.Image, colour domain.Color) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	_, ta, tb := colorful.Color{R: colour.R / 255, G: colour.G / 255, B: colour.B / 255}.Lab()
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		l, _, _ := rgbColor(out.Pix[i:]).Lab()
		r, g, b := colorful.Lab(l, ta, tb).Clamped().RGB255()
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = r, g, b
	}
	res := derive(h, out)
	if h.grey() {
		res.bands += 2
		res.interp = engine.InterpretationSRGB
	}
	return res, nil
}

// Modulate scales lightness, chroma and rotates hue in LCh space, then adds
// lightness.
func (e *Engine) Modulate(img engine.Image, brightness, saturation float64, hue int, lightness float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		hh, c, l := rgbColor(out.Pix[i:]).Hcl()
		l = l*brightness + lightness/100
		c *= saturation
		hh = math.Mod(hh+float64(hue)+360, 360)
		r, g, b := colorful.Hcl(hh, c, l).Clamped().RGB255()
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = r, g, b
	}
	return derive(h, normalise(out, h.bands)), nil
}

// Recomb multiplies the colour bands by a 3x3 (or 4x4 including alpha)
// matrix given in row-major order.
func (e *Engine) Recomb(img engine.Image, matrix []float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	size := 3
	switch len(matrix) {
	case 9:
	case 16:
		size = 4
	default:
		return nil, fmt.Errorf("recomb: matrix must have 9 or 16 values")
	}
	if h.grey() {
		return nil, engine.Unsupported(name, "recomb on single-band images")
	}
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		var in [4]float64
		for c := 0; c < 4; c++ {
			in[c] = float64(out.Pix[i+c])
		}
		for row := 0; row < size; row++ {
			v := 0.0
			for col := 0; col < size; col++ {
				v += matrix[row*size+col] * in[col]
			}
			out.Pix[i+row] = clamp8(v)
		}
	}
	return derive(h, normalise(out, h.bands)), nil
}

func (e *Engine) Negate(img engine.Image, alpha bool) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if alpha || !h.HasAlpha() {
		out := imaging.Invert(h.pix)
		if !alpha || !h.HasAlpha() {
			for i := 3; i < len(out.Pix); i += 4 {
				out.Pix[i] = h.pix.Pix[i]
			}
		}
		return derive(h, out), nil
	}
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = 255-out.Pix[i], 255-out.Pix[i+1], 255-out.Pix[i+2]
	}
	return derive(h, out), nil
}

// Threshold sets samples at or above level to 255 and the rest to 0. With
// greyscale the result is a single band computed from luma.
func (e *Engine) Threshold(img engine.Image, level int, greyscale bool) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if greyscale || h.grey() {
		grey := segment.Threshold(h.pix, uint8(clampInt(level, 0, 255)))
		out := newPix(h.Width(), h.Height())
		for p, v := range grey.Pix {
			i := p * 4
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = v, v, v, 255
		}
		res := derive(h, out)
		res.bands, res.interp = 1, engine.InterpretationBW
		if h.HasAlpha() {
			for p := range grey.Pix {
				out.Pix[p*4+3] = h.pix.Pix[p*4+3]
			}
			res.bands = 2
		}
		return res, nil
	}
	out := clone(h.pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			if int(out.Pix[i+c]) >= level {
				out.Pix[i+c] = 255
			} else {
				out.Pix[i+c] = 0
			}
		}
	}
	return derive(h, out), nil
}
