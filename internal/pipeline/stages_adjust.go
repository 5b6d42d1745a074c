package pipeline

import (
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
)

var (
	// boxBlur is the fast 3x3 mean used for the "fast" blur sigma.
	boxBlur = engine.ConvolutionKernel{
		Width: 3, Height: 3, Scale: 9,
		Values: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1},
	}
	// mildSharpen is the fast 3x3 sharpen used for the "fast" sharpen sigma.
	mildSharpen = engine.ConvolutionKernel{
		Width: 3, Height: 3, Scale: 24,
		Values: []float64{-1, -1, -1, -1, 32, -1, -1, -1, -1},
	}
)

func median(e env, s state) (state, error) {
	if e.op.MedianSize <= 0 {
		return s, nil
	}
	return s.with(e.engine.Median(s.img, e.op.MedianSize))
}

func threshold(e env, s state) (state, error) {
	if e.op.Threshold <= 0 {
		return s, nil
	}
	return s.with(e.engine.Threshold(s.img, e.op.Threshold, e.op.ThresholdGreyscale))
}

func blur(e env, s state) (state, error) {
	switch {
	case e.op.BlurSigma == domain.BlurFast:
		return s.with(e.engine.Convolve(s.img, boxBlur))
	case e.op.BlurSigma > 0:
		return s.with(e.engine.GaussBlur(s.img, e.op.BlurSigma, e.op.Precision, e.op.MinAmpl))
	}
	return s, nil
}

func unflatten(e env, s state) (state, error) {
	if !e.op.Unflatten {
		return s, nil
	}
	return s.with(e.engine.Unflatten(s.img))
}

func convolve(e env, s state) (state, error) {
	k := e.op.Convolution
	if k == nil {
		return s, nil
	}
	kernel := engine.ConvolutionKernel{Width: k.Width, Height: k.Height, Scale: k.Scale, Offset: k.Offset, Values: k.Values}
	if kernel.Scale == 0 {
		for _, v := range k.Values {
			kernel.Scale += v
		}
		if kernel.Scale == 0 {
			kernel.Scale = 1
		}
	}
	return s.with(e.engine.Convolve(s.img, kernel))
}

func recomb(e env, s state) (state, error) {
	if len(e.op.Recomb) == 0 {
		return s, nil
	}
	return s.with(e.engine.Recomb(s.img, e.op.Recomb))
}

func modulate(e env, s state) (state, error) {
	op := e.op
	if op.Brightness == 1 && op.Saturation == 1 && op.Hue == 0 && op.Lightness == 0 {
		return s, nil
	}
	return s.with(e.engine.Modulate(s.img, op.Brightness, op.Saturation, op.Hue, op.Lightness))
}

func sharpen(e env, s state) (state, error) {
	op := e.op
	switch {
	case op.SharpenSigma == domain.SharpenFast:
		return s.with(e.engine.Convolve(s.img, mildSharpen))
	case op.SharpenSigma > 0:
		return s.with(e.engine.Sharpen(s.img, engine.SharpenOptions{
			Sigma: op.SharpenSigma,
			M1:    op.SharpenM1,
			M2:    op.SharpenM2,
			X1:    op.SharpenX1,
			Y2:    op.SharpenY2,
			Y3:    op.SharpenY3,
		}))
	}
	return s, nil
}

// unpremultiply reverses premultiply and restores the sample format the
// image had before it.
func unpremultiply(e env, s state) (state, error) {
	if !s.premultiplied {
		return s, nil
	}
	if err := s.set(e.engine.Unpremultiply(s.img)); err != nil {
		return s, err
	}
	if s.premulDepth != "" && s.img.Depth() != s.premulDepth {
		return s.with(e.engine.Cast(s.img, s.premulDepth))
	}
	return s, nil
}

func gammaOut(e env, s state) (state, error) {
	if !gammaApplies(e.op) {
		return s, nil
	}
	exponent := e.op.GammaOut
	if exponent == 0 {
		exponent = e.op.Gamma
	}
	return s.with(e.engine.Gamma(s.img, exponent))
}

func linear(e env, s state) (state, error) {
	if len(e.op.LinearA) == 0 {
		return s, nil
	}
	return s.with(e.engine.Linear(s.img, e.op.LinearA, e.op.LinearB))
}

func normalise(e env, s state) (state, error) {
	if !e.op.Normalise {
		return s, nil
	}
	return s.with(e.engine.Normalise(s.img, e.op.NormaliseLower, e.op.NormaliseUpper))
}

func clahe(e env, s state) (state, error) {
	c := e.op.CLAHE
	if c == nil {
		return s, nil
	}
	return s.with(e.engine.CLAHE(s.img, c.Width, c.Height, c.MaxSlope))
}

func boolean(e env, s state) (state, error) {
	b := e.op.Boolean
	if b == nil {
		return s, nil
	}
	opened, err := e.inputs.Open(e.ctx, b.Input)
	if err != nil {
		return s, err
	}
	defer opened.Image.Close()
	return s.with(e.engine.Boolean(s.img, opened.Image, b.Op))
}

func bandbool(e env, s state) (state, error) {
	if e.op.BandBoolOp == "" {
		return s, nil
	}
	return s.with(e.engine.BandBool(s.img, e.op.BandBoolOp))
}

func tint(e env, s state) (state, error) {
	if e.op.Tint == nil {
		return s, nil
	}
	return s.with(e.engine.Tint(s.img, *e.op.Tint))
}

func alpha(e env, s state) (state, error) {
	op := e.op
	if op.RemoveAlpha && s.img.HasAlpha() {
		if err := s.set(e.engine.RemoveAlpha(s.img)); err != nil {
			return s, err
		}
	}
	if op.EnsureAlpha >= 0 && !s.img.HasAlpha() {
		return s.with(e.engine.AddAlpha(s.img, op.EnsureAlpha*255))
	}
	return s, nil
}
