//go:build govips && cgo

package vips

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/geometry"
)

func rgba(bg []float64) *vips.ColorRGBA {
	c := domain.Transparent
	switch len(bg) {
	case 0:
	case 1:
		c = domain.Opaque(bg[0], bg[0], bg[0])
	case 2:
		c = domain.Color{R: bg[0], G: bg[0], B: bg[0], A: bg[1]}
	case 3:
		c = domain.Opaque(bg[0], bg[1], bg[2])
	default:
		c = domain.Color{R: bg[0], G: bg[1], B: bg[2], A: bg[3]}
	}
	return &vips.ColorRGBA{R: u8(c.R), G: u8(c.G), B: u8(c.B), A: u8(c.A)}
}

func u8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// Geometry

func (e *Engine) Rot(img engine.Image, angle geometry.Angle) (engine.Image, error) {
	var a vips.Angle
	switch angle {
	case geometry.Angle0:
		a = vips.Angle0
	case geometry.Angle90:
		a = vips.Angle90
	case geometry.Angle180:
		a = vips.Angle180
	case geometry.Angle270:
		a = vips.Angle270
	default:
		return nil, fmt.Errorf("rot: invalid angle %d", angle)
	}
	return mutate(img, "rot", func(ref *vips.ImageRef) error { return ref.Rotate(a) })
}

func (e *Engine) Flip(img engine.Image, horizontal bool) (engine.Image, error) {
	dir := vips.DirectionVertical
	if horizontal {
		dir = vips.DirectionHorizontal
	}
	return mutate(img, "flip", func(ref *vips.ImageRef) error { return ref.Flip(dir) })
}

func (e *Engine) Rotate(img engine.Image, degrees float64, background []float64) (engine.Image, error) {
	return mutate(img, "rotate", func(ref *vips.ImageRef) error {
		return ref.Similarity(1, degrees, rgba(background), 0, 0, 0, 0)
	})
}

func (e *Engine) Affine(img engine.Image, opts engine.AffineOptions) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Affine(in, opts)
	})
}

func (e *Engine) FindTrim(img engine.Image, opts engine.TrimOptions) (int, int, int, int, error) {
	src, err := asImage(img)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if opts.LineArt {
		in, err := e.toNative(img)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		defer in.Close()
		return e.fallback.FindTrim(in, opts)
	}
	var bg *vips.Color
	if len(opts.Background) > 0 {
		c := rgba(opts.Background)
		bg = &vips.Color{R: c.R, G: c.G, B: c.B}
	} else {
		px, err := src.ref.GetPoint(0, 0)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("find_trim: %w", err)
		}
		c := rgba(px)
		bg = &vips.Color{R: c.R, G: c.G, B: c.B}
	}
	left, top, width, height, err := src.ref.FindTrim(opts.Threshold, bg)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("find_trim: %w", err)
	}
	return left, top, width, height, nil
}

func (e *Engine) ExtractArea(img engine.Image, left, top, width, height int) (engine.Image, error) {
	if left < 0 || top < 0 || width <= 0 || height <= 0 ||
		left+width > img.Width() || top+height > img.Height() {
		return nil, fmt.Errorf("extract_area: bad extract area")
	}
	return mutate(img, "extract_area", func(ref *vips.ImageRef) error {
		return ref.ExtractArea(left, top, width, height)
	})
}

var extends = map[engine.Extend]vips.ExtendStrategy{
	engine.ExtendCopy:   vips.ExtendCopy,
	engine.ExtendRepeat: vips.ExtendRepeat,
	engine.ExtendMirror: vips.ExtendMirror,
}

func (e *Engine) Embed(img engine.Image, left, top, width, height int, extend engine.Extend, background []float64) (engine.Image, error) {
	return mutate(img, "embed", func(ref *vips.ImageRef) error {
		if strategy, ok := extends[extend]; ok {
			return ref.Embed(left, top, width, height, strategy)
		}
		return ref.EmbedBackgroundRGBA(left, top, width, height, rgba(background))
	})
}

var kernels = map[engine.Kernel]vips.Kernel{
	engine.KernelNearest:  vips.KernelNearest,
	engine.KernelLinear:   vips.KernelLinear,
	engine.KernelCubic:    vips.KernelCubic,
	engine.KernelMitchell: vips.KernelMitchell,
	engine.KernelLanczos2: vips.KernelLanczos2,
	engine.KernelLanczos3: vips.KernelLanczos3,
}

// Resize samples with alpha premultiplied when the handle was marked by
// Premultiply; govips keeps that state per reference.
func (e *Engine) Resize(img engine.Image, hscale, vscale float64, kernel engine.Kernel) (engine.Image, error) {
	k, ok := kernels[kernel]
	if !ok {
		k = vips.KernelLanczos3
	}
	premul := isPremultiplied(img)
	return mutate(img, "resize", func(ref *vips.ImageRef) error {
		if premul {
			if err := ref.PremultiplyAlpha(); err != nil {
				return err
			}
		}
		if err := ref.ResizeWithVScale(hscale, vscale, k); err != nil {
			return err
		}
		if premul {
			return ref.UnpremultiplyAlpha()
		}
		return nil
	})
}

func (e *Engine) SmartCrop(img engine.Image, width, height int, interesting engine.Interesting, premultiplied bool) (engine.Image, engine.SmartCropResult, error) {
	in, err := e.toNative(img)
	if err != nil {
		return nil, engine.SmartCropResult{}, err
	}
	defer in.Close()
	out, res, err := e.fallback.SmartCrop(in, width, height, interesting, premultiplied)
	if err != nil {
		return nil, res, err
	}
	defer out.Close()
	cropped, err := e.ExtractArea(img, res.Left, res.Top, width, height)
	if err != nil {
		return nil, res, err
	}
	cropped.(*image).left, cropped.(*image).top = res.Left, res.Top
	return cropped, res, nil
}

func (e *Engine) Replicate(img engine.Image, across, down int) (engine.Image, error) {
	return mutate(img, "replicate", func(ref *vips.ImageRef) error { return ref.Replicate(across, down) })
}

func (e *Engine) ArrayJoin(imgs []engine.Image, across int) (engine.Image, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("arrayjoin: no images")
	}
	refs := make([]*vips.ImageRef, 0, len(imgs)-1)
	for _, img := range imgs[1:] {
		src, err := asImage(img)
		if err != nil {
			return nil, err
		}
		refs = append(refs, src.ref)
	}
	return mutate(imgs[0], "arrayjoin", func(ref *vips.ImageRef) error { return ref.ArrayJoin(refs, across) })
}

func (e *Engine) Grid(img engine.Image, tileHeight, across, down int) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Grid(in, tileHeight, across, down)
	})
}

// Colour

func (e *Engine) Colourspace(img engine.Image, to engine.Interpretation) (engine.Image, error) {
	target, ok := toInterpretation(to)
	if !ok {
		return nil, engine.Unsupported(name, "colourspace "+string(to))
	}
	return mutate(img, "colourspace", func(ref *vips.ImageRef) error { return ref.ToColorSpace(target) })
}

func profilePath(profile string) string {
	switch profile {
	case "", "srgb", "p3":
		return vips.SRGBIEC6196621ICCProfilePath
	case "grey", "gray":
		return vips.GenericGrayGamma22ICCProfilePath
	}
	return profile
}

func (e *Engine) ICCTransform(img engine.Image, opts engine.ICCOptions) (engine.Image, error) {
	if opts.OutputProfile == "cmyk" {
		return nil, engine.Unsupported(name, "built-in cmyk output profile")
	}
	return mutate(img, "icc_transform", func(ref *vips.ImageRef) error {
		if !opts.Embedded && opts.InputProfile == "" && !ref.HasICCProfile() {
			return ref.ToColorSpace(vips.InterpretationSRGB)
		}
		return ref.TransformICCProfile(profilePath(opts.OutputProfile))
	})
}

func (e *Engine) Flatten(img engine.Image, background []float64) (engine.Image, error) {
	c := rgba(background)
	return mutate(img, "flatten", func(ref *vips.ImageRef) error {
		return ref.Flatten(&vips.Color{R: c.R, G: c.G, B: c.B})
	})
}

func (e *Engine) Unflatten(img engine.Image) (engine.Image, error) {
	return e.viaNative(img, e.fallback.Unflatten)
}

func (e *Engine) Gamma(img engine.Image, exponent float64) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Gamma(in, exponent)
	})
}

func isPremultiplied(img engine.Image) bool {
	i, ok := img.(*image)
	return ok && i.premul
}

// Premultiply marks the handle so the next resampling stages run on
// premultiplied samples. The stored pixels stay straight alpha.
func (e *Engine) Premultiply(img engine.Image) (engine.Image, error) {
	out, err := mutate(img, "premultiply", func(*vips.ImageRef) error { return nil })
	if err != nil {
		return nil, err
	}
	out.(*image).premul = img.HasAlpha()
	return out, nil
}

func (e *Engine) Unpremultiply(img engine.Image) (engine.Image, error) {
	return mutate(img, "unpremultiply", func(*vips.ImageRef) error { return nil })
}

var bandFormats = map[string]vips.BandFormat{
	domain.DepthUchar:  vips.BandFormatUchar,
	domain.DepthUshort: vips.BandFormatUshort,
	domain.DepthFloat:  vips.BandFormatFloat,
}

func (e *Engine) Cast(img engine.Image, depth string) (engine.Image, error) {
	format, ok := bandFormats[depth]
	if !ok {
		return nil, engine.Unsupported(name, "cast to "+depth)
	}
	return mutate(img, "cast", func(ref *vips.ImageRef) error { return ref.Cast(format) })
}

// perBand expands single coefficients to every colour band and leaves alpha
// untouched.
func perBand(img engine.Image, a, b []float64) ([]float64, []float64) {
	n := img.Bands()
	colour := n
	if img.HasAlpha() {
		colour--
	}
	outA, outB := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		outA[i], outB[i] = 1, 0
		if i >= colour && len(a) <= 1 {
			continue
		}
		switch {
		case len(a) == 1:
			outA[i] = a[0]
		case i < len(a):
			outA[i] = a[i]
		}
		switch {
		case len(b) == 1:
			outB[i] = b[0]
		case i < len(b):
			outB[i] = b[i]
		}
	}
	return outA, outB
}

func (e *Engine) Linear(img engine.Image, a, b []float64) (engine.Image, error) {
	pa, pb := perBand(img, a, b)
	return mutate(img, "linear", func(ref *vips.ImageRef) error {
		if err := ref.Linear(pa, pb); err != nil {
			return err
		}
		return ref.Cast(vips.BandFormatUchar)
	})
}

func (e *Engine) Normalise(img engine.Image, lower, upper int) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Normalise(in, lower, upper)
	})
}

func (e *Engine) CLAHE(img engine.Image, width, height, maxSlope int) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.CLAHE(in, width, height, maxSlope)
	})
}

func (e *Engine) Tint(img engine.Image, colour domain.Color) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Tint(in, colour)
	})
}

func (e *Engine) Modulate(img engine.Image, brightness, saturation float64, hue int, lightness float64) (engine.Image, error) {
	if lightness != 0 {
		return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
			return e.fallback.Modulate(in, brightness, saturation, hue, lightness)
		})
	}
	return mutate(img, "modulate", func(ref *vips.ImageRef) error {
		return ref.Modulate(brightness, saturation, float64(hue))
	})
}

func (e *Engine) Recomb(img engine.Image, matrix []float64) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Recomb(in, matrix)
	})
}

func (e *Engine) Negate(img engine.Image, alpha bool) (engine.Image, error) {
	if alpha || !img.HasAlpha() {
		return mutate(img, "invert", func(ref *vips.ImageRef) error { return ref.Invert() })
	}
	return e.Linear(img, []float64{-1}, []float64{255})
}

func (e *Engine) Threshold(img engine.Image, level int, greyscale bool) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Threshold(in, level, greyscale)
	})
}

// Filters

func (e *Engine) Median(img engine.Image, size int) (engine.Image, error) {
	return mutate(img, "median", func(ref *vips.ImageRef) error { return ref.Median(size) })
}

func (e *Engine) GaussBlur(img engine.Image, sigma float64, precision string, minAmpl float64) (engine.Image, error) {
	if precision == "approximate" {
		return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
			return e.fallback.GaussBlur(in, sigma, precision, minAmpl)
		})
	}
	premul := isPremultiplied(img)
	return mutate(img, "gaussblur", func(ref *vips.ImageRef) error {
		if premul {
			if err := ref.PremultiplyAlpha(); err != nil {
				return err
			}
		}
		if err := ref.GaussianBlur(sigma); err != nil {
			return err
		}
		if premul {
			return ref.UnpremultiplyAlpha()
		}
		return nil
	})
}

func (e *Engine) Convolve(img engine.Image, kernel engine.ConvolutionKernel) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Convolve(in, kernel)
	})
}

func (e *Engine) Sharpen(img engine.Image, opts engine.SharpenOptions) (engine.Image, error) {
	if opts.M1 != 1 || opts.Y2 != 10 || opts.Y3 != 20 {
		return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
			return e.fallback.Sharpen(in, opts)
		})
	}
	return mutate(img, "sharpen", func(ref *vips.ImageRef) error {
		return ref.Sharpen(opts.Sigma, opts.X1, opts.M2)
	})
}

// Bands

func (e *Engine) ExtractBand(img engine.Image, band, n int) (engine.Image, error) {
	if band < 0 || n <= 0 || band+n > img.Bands() {
		return nil, fmt.Errorf("extract_band: band %d out of range", band)
	}
	return mutate(img, "extract_band", func(ref *vips.ImageRef) error { return ref.ExtractBand(band, n) })
}

func (e *Engine) BandJoin(img engine.Image, others ...engine.Image) (engine.Image, error) {
	refs := make([]*vips.ImageRef, 0, len(others))
	for _, other := range others {
		src, err := asImage(other)
		if err != nil {
			return nil, err
		}
		refs = append(refs, src.ref)
	}
	return mutate(img, "bandjoin", func(ref *vips.ImageRef) error { return ref.BandJoin(refs...) })
}

func (e *Engine) AddAlpha(img engine.Image, value float64) (engine.Image, error) {
	if value < 255 {
		return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
			return e.fallback.AddAlpha(in, value)
		})
	}
	return mutate(img, "addalpha", func(ref *vips.ImageRef) error { return ref.AddAlpha() })
}

func (e *Engine) RemoveAlpha(img engine.Image) (engine.Image, error) {
	if !img.HasAlpha() {
		return mutate(img, "copy", func(*vips.ImageRef) error { return nil })
	}
	return e.ExtractBand(img, 0, img.Bands()-1)
}

func (e *Engine) SetInterpretation(img engine.Image, interp engine.Interpretation) (engine.Image, error) {
	if interp == img.Interpretation() {
		return mutate(img, "copy", func(*vips.ImageRef) error { return nil })
	}
	return e.Colourspace(img, interp)
}

func (e *Engine) Boolean(img, other engine.Image, op string) (engine.Image, error) {
	right, err := e.toNative(other)
	if err != nil {
		return nil, err
	}
	defer right.Close()
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.Boolean(in, right, op)
	})
}

func (e *Engine) BandBool(img engine.Image, op string) (engine.Image, error) {
	return e.viaNative(img, func(in engine.Image) (engine.Image, error) {
		return e.fallback.BandBool(in, op)
	})
}

var blendModes = map[string]vips.BlendMode{
	"clear":        vips.BlendModeClear,
	"source":       vips.BlendModeSource,
	"over":         vips.BlendModeOver,
	"in":           vips.BlendModeIn,
	"out":          vips.BlendModeOut,
	"atop":         vips.BlendModeAtop,
	"dest":         vips.BlendModeDest,
	"dest-over":    vips.BlendModeDestOver,
	"dest-in":      vips.BlendModeDestIn,
	"dest-out":     vips.BlendModeDestOut,
	"dest-atop":    vips.BlendModeDestAtop,
	"xor":          vips.BlendModeXOR,
	"add":          vips.BlendModeAdd,
	"saturate":     vips.BlendModeSaturate,
	"multiply":     vips.BlendModeMultiply,
	"screen":       vips.BlendModeScreen,
	"overlay":      vips.BlendModeOverlay,
	"darken":       vips.BlendModeDarken,
	"lighten":      vips.BlendModeLighten,
	"colour-dodge": vips.BlendModeColorDodge,
	"color-dodge":  vips.BlendModeColorDodge,
	"colour-burn":  vips.BlendModeColorBurn,
	"color-burn":   vips.BlendModeColorBurn,
	"hard-light":   vips.BlendModeHardLight,
	"soft-light":   vips.BlendModeSoftLight,
	"difference":   vips.BlendModeDifference,
	"exclusion":    vips.BlendModeExclusion,
}

func (e *Engine) Composite(base engine.Image, overlays []engine.Overlay, premultiplied bool) (engine.Image, error) {
	type layer struct {
		ref       *vips.ImageRef
		mode      vips.BlendMode
		left, top int
	}
	layers := make([]layer, 0, len(overlays))
	for _, ov := range overlays {
		mode, ok := blendModes[ov.Blend]
		if !ok {
			return nil, engine.Unsupported(name, "blend mode "+ov.Blend)
		}
		src, err := asImage(ov.Image)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer{ref: src.ref, mode: mode, left: ov.Left, top: ov.Top})
	}
	out, err := mutate(base, "composite", func(ref *vips.ImageRef) error {
		if !ref.HasAlpha() {
			if err := ref.AddAlpha(); err != nil {
				return err
			}
		}
		for _, l := range layers {
			if err := ref.Composite(l.ref, l.mode, l.left, l.top); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.(*image).premul = false
	return out, nil
}
