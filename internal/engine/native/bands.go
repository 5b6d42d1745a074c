package native

import (
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/fcolor"
	"github.com/dunamismax/pixelpipe/internal/engine"
)

// slot maps a logical band index onto its byte within an RGBA sample.
func slot(bands, band int) int {
	if bands <= 2 && band == 1 {
		return 3
	}
	return band
}

// samples unpacks the logical bands of one pixel.
func samples(h *handle, i int) []uint8 {
	out := make([]uint8, h.bands)
	for b := 0; b < h.bands; b++ {
		out[b] = h.pix.Pix[i+slot(h.bands, b)]
	}
	return out
}

// pack writes logical bands into an RGBA sample.
func pack(dst []uint8, vals []uint8) {
	switch len(vals) {
	case 1:
		dst[0], dst[1], dst[2], dst[3] = vals[0], vals[0], vals[0], 255
	case 2:
		dst[0], dst[1], dst[2], dst[3] = vals[0], vals[0], vals[0], vals[1]
	case 3:
		dst[0], dst[1], dst[2], dst[3] = vals[0], vals[1], vals[2], 255
	default:
		copy(dst[:4], vals)
	}
}

func (e *Engine) ExtractBand(img engine.Image, band, n int) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}
	if band < 0 || band+n > h.bands {
		return nil, fmt.Errorf("extract_band: bands %d-%d out of range for %d-band image", band, band+n-1, h.bands)
	}
	out := newPix(h.Width(), h.Height())
	for i := 0; i+3 < len(out.Pix); i += 4 {
		pack(out.Pix[i:], samples(h, i)[band:band+n])
	}
	res := derive(h, out)
	res.bands, res.interp = n, interpretationFor(n)
	res.premul = res.premul && (n == 2 || n == 4)
	return res, nil
}

func (e *Engine) BandJoin(img engine.Image, others ...engine.Image) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	all := []*handle{h}
	total := h.bands
	for _, o := range others {
		oh, err := asHandle(o)
		if err != nil {
			return nil, err
		}
		if oh.Width() != h.Width() || oh.Height() != h.Height() {
			return nil, fmt.Errorf("bandjoin: images must match in size, %dx%d vs %dx%d", h.Width(), h.Height(), oh.Width(), oh.Height())
		}
		all = append(all, oh)
		total += oh.bands
	}
	if total > 4 {
		return nil, engine.Unsupported(name, fmt.Sprintf("%d-band images", total))
	}
	out := newPix(h.Width(), h.Height())
	vals := make([]uint8, 0, total)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		vals = vals[:0]
		for _, src := range all {
			vals = append(vals, samples(src, i)...)
		}
		pack(out.Pix[i:], vals)
	}
	res := derive(h, out)
	res.bands, res.interp = total, interpretationFor(total)
	return res, nil
}

// AddAlpha appends an alpha band holding value (0-255). Images that already
// have alpha are returned unchanged.
func (e *Engine) AddAlpha(img engine.Image, value float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	out := clone(h.pix)
	if h.HasAlpha() {
		return derive(h, out), nil
	}
	a := clamp8(value)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = a
	}
	res := derive(h, out)
	res.bands++
	return res, nil
}

func (e *Engine) RemoveAlpha(img engine.Image) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if !h.HasAlpha() {
		return derive(h, clone(h.pix)), nil
	}
	src := h
	if h.premul {
		unp, err := e.Unpremultiply(h)
		if err != nil {
			return nil, err
		}
		src = unp.(*handle)
	}
	out := clone(src.pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	res := derive(h, out)
	res.bands--
	res.premul = false
	return res, nil
}

func (e *Engine) SetInterpretation(img engine.Image, interp engine.Interpretation) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	res := derive(h, clone(h.pix))
	res.interp = interp
	return res, nil
}

func boolOp(op string) (func(a, b uint8) uint8, error) {
	switch op {
	case "and":
		return func(a, b uint8) uint8 { return a & b }, nil
	case "or":
		return func(a, b uint8) uint8 { return a | b }, nil
	case "eor":
		return func(a, b uint8) uint8 { return a ^ b }, nil
	}
	return nil, fmt.Errorf("boolean: unknown operation %q", op)
}

// Boolean combines img with other band by band. A single-band other is
// applied to every band of img.
func (e *Engine) Boolean(img, other engine.Image, op string) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	oh, err := asHandle(other)
	if err != nil {
		return nil, err
	}
	fn, err := boolOp(op)
	if err != nil {
		return nil, err
	}
	if oh.Width() != h.Width() || oh.Height() != h.Height() {
		return nil, fmt.Errorf("boolean: images must match in size, %dx%d vs %dx%d", h.Width(), h.Height(), oh.Width(), oh.Height())
	}
	out := newPix(h.Width(), h.Height())
	for i := 0; i+3 < len(out.Pix); i += 4 {
		a, b := samples(h, i), samples(oh, i)
		for n := range a {
			v := b[0]
			if n < len(b) {
				v = b[n]
			}
			a[n] = fn(a[n], v)
		}
		pack(out.Pix[i:], a)
	}
	return derive(h, out), nil
}

// BandBool folds every band of each pixel with op into a single band.
func (e *Engine) BandBool(img engine.Image, op string) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	fn, err := boolOp(op)
	if err != nil {
		return nil, err
	}
	out := newPix(h.Width(), h.Height())
	for i := 0; i+3 < len(out.Pix); i += 4 {
		s := samples(h, i)
		v := s[0]
		for _, x := range s[1:] {
			v = fn(v, x)
		}
		pack(out.Pix[i:], []uint8{v})
	}
	res := derive(h, out)
	res.bands, res.interp, res.premul = 1, engine.InterpretationBW, false
	return res, nil
}

// porterDuff returns the source and destination factors for a compositing
// operator given source and destination alpha.
func porterDuff(mode string) (func(as, ab float64) (float64, float64), bool) {
	switch mode {
	case "clear":
		return func(_, _ float64) (float64, float64) { return 0, 0 }, true
	case "source":
		return func(_, _ float64) (float64, float64) { return 1, 0 }, true
	case "over", "":
		return func(as, _ float64) (float64, float64) { return 1, 1 - as }, true
	case "in":
		return func(_, ab float64) (float64, float64) { return ab, 0 }, true
	case "out":
		return func(_, ab float64) (float64, float64) { return 1 - ab, 0 }, true
	case "atop":
		return func(as, ab float64) (float64, float64) { return ab, 1 - as }, true
	case "dest":
		return func(_, _ float64) (float64, float64) { return 0, 1 }, true
	case "dest-over":
		return func(_, ab float64) (float64, float64) { return 1 - ab, 1 }, true
	case "dest-in":
		return func(as, _ float64) (float64, float64) { return 0, as }, true
	case "dest-out":
		return func(as, _ float64) (float64, float64) { return 0, 1 - as }, true
	case "dest-atop":
		return func(as, ab float64) (float64, float64) { return 1 - ab, as }, true
	case "xor":
		return func(as, ab float64) (float64, float64) { return 1 - ab, 1 - as }, true
	case "add":
		return func(_, _ float64) (float64, float64) { return 1, 1 }, true
	case "saturate":
		return func(as, ab float64) (float64, float64) {
			if as == 0 {
				return 0, 1
			}
			return math.Min(1, (1-ab)/as), 1
		}, true
	}
	return nil, false
}

// separable blend modes delegate to bild, which mixes straight-alpha colour
// and composites the result over the base.
func separable(mode string) (func(bg, fg image.Image) *image.RGBA, bool) {
	switch mode {
	case "multiply":
		return blend.Multiply, true
	case "screen":
		return blend.Screen, true
	case "overlay":
		return blend.Overlay, true
	case "darken":
		return blend.Darken, true
	case "lighten":
		return blend.Lighten, true
	case "colour-dodge", "color-dodge":
		return blend.ColorDodge, true
	case "colour-burn", "color-burn":
		return blend.ColorBurn, true
	case "soft-light":
		return blend.SoftLight, true
	case "difference":
		return blend.Difference, true
	case "exclusion":
		return blend.Exclusion, true
	case "hard-light":
		return func(bg, fg image.Image) *image.RGBA {
			return blend.Blend(bg, fg, func(b, s fcolor.RGBAF64) fcolor.RGBAF64 {
				mix := func(cb, cs float64) float64 {
					if cs <= 0.5 {
						return 2 * cb * cs
					}
					return 1 - 2*(1-cb)*(1-cs)
				}
				a := s.A
				return fcolor.RGBAF64{
					R: mix(b.R, s.R)*a + b.R*(1-a),
					G: mix(b.G, s.G)*a + b.G*(1-a),
					B: mix(b.B, s.B)*a + b.B*(1-a),
					A: b.A + a*(1-b.A),
				}
			})
		}, true
	}
	return nil, false
}

// Composite draws each overlay onto base at its offset. Inputs are straight
// alpha unless premultiplied is set; the result always carries alpha and is
// straight.
func (e *Engine) Composite(base engine.Image, overlays []engine.Overlay, premultiplied bool) (engine.Image, error) {
	bh, err := asHandle(base)
	if err != nil {
		return nil, err
	}
	if bh.premul || premultiplied {
		unp, err := e.Unpremultiply(bh)
		if err != nil {
			return nil, err
		}
		bh = unp.(*handle)
		bh.premul = false
	}
	dst := clone(bh.pix)
	for _, ov := range overlays {
		oh, err := asHandle(ov.Image)
		if err != nil {
			return nil, err
		}
		if oh.premul || premultiplied {
			unp, err := e.Unpremultiply(oh)
			if err != nil {
				return nil, err
			}
			oh = unp.(*handle)
		}
		area := image.Rect(ov.Left, ov.Top, ov.Left+oh.Width(), ov.Top+oh.Height()).Intersect(dst.Rect)
		if area.Empty() {
			continue
		}
		if fn, ok := separable(ov.Blend); ok {
			blendRegion(dst, oh.pix, area, ov.Left, ov.Top, fn)
			continue
		}
		factors, ok := porterDuff(ov.Blend)
		if !ok {
			return nil, engine.Unsupported(name, "blend mode "+ov.Blend)
		}
		for y := area.Min.Y; y < area.Max.Y; y++ {
			for x := area.Min.X; x < area.Max.X; x++ {
				d := dst.PixOffset(x, y)
				s := oh.pix.PixOffset(x-ov.Left, y-ov.Top)
				as, ab := float64(oh.pix.Pix[s+3])/255, float64(dst.Pix[d+3])/255
				fa, fb := factors(as, ab)
				ao := math.Min(1, as*fa+ab*fb)
				for c := 0; c < 3; c++ {
					co := float64(oh.pix.Pix[s+c])*as*fa + float64(dst.Pix[d+c])*ab*fb
					if ao > 0 {
						dst.Pix[d+c] = clamp8(co / ao)
					} else {
						dst.Pix[d+c] = 0
					}
				}
				dst.Pix[d+3] = clamp8(ao * 255)
			}
		}
	}
	res := derive(bh, dst)
	if !bh.HasAlpha() {
		res.bands++
	}
	res.pix = normalise(dst, res.bands)
	res.premul = false
	return res, nil
}

// rgbaView reinterprets straight samples as an RGBA image so bild reads the
// bytes without premultiplying them again.
func rgbaView(pix *image.NRGBA, r image.Rectangle) *image.RGBA {
	sub := pix.SubImage(r).(*image.NRGBA)
	return &image.RGBA{Pix: sub.Pix, Stride: sub.Stride, Rect: image.Rect(0, 0, r.Dx(), r.Dy())}
}

func blendRegion(dst, src *image.NRGBA, area image.Rectangle, left, top int, fn func(bg, fg image.Image) *image.RGBA) {
	bg := rgbaView(dst, area)
	fg := rgbaView(src, area.Sub(image.Pt(left, top)))
	mixed := fn(bg, fg)
	for y := 0; y < area.Dy(); y++ {
		d := dst.PixOffset(area.Min.X, area.Min.Y+y)
		copy(dst.Pix[d:d+area.Dx()*4], mixed.Pix[y*mixed.Stride:y*mixed.Stride+area.Dx()*4])
	}
}
