package pipeline

import (
	"fmt"
	"math"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/encoder"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/frames"
	"github.com/dunamismax/pixelpipe/internal/geometry"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"github.com/dunamismax/pixelpipe/internal/input"
)

type stage struct {
	name  string
	apply func(env, state) (state, error)
}

// stages is the one processing order. Every entry is a no-op unless the
// operation asks for it. Median and threshold run before blur; unpremultiply
// mirrors premultiply and runs before compositing.
var stages = []stage{
	{"open", openInput},
	{"orientation", resolveOrientation},
	{"rotate-pre", rotateBefore},
	{"trim", trim},
	{"extract-pre", extractPre},
	{"shrink", resolveShrink},
	{"shrink-on-load", shrinkOnLoad},
	{"icc-import", importProfile},
	{"flatten", flatten},
	{"gamma", gamma},
	{"greyscale", greyscale},
	{"premultiply", premultiply},
	{"resize", resize},
	{"rotate-post", rotateAfter},
	{"join-channel", joinChannels},
	{"canvas", fitCanvas},
	{"rotate-angle", rotateAngle},
	{"extract-post", extractPost},
	{"affine", affine},
	{"extend", extend},
	{"median", median},
	{"threshold", threshold},
	{"blur", blur},
	{"unflatten", unflatten},
	{"convolve", convolve},
	{"recomb", recomb},
	{"modulate", modulate},
	{"sharpen", sharpen},
	{"unpremultiply", unpremultiply},
	{"composite", composite},
	{"gamma-out", gammaOut},
	{"linear", linear},
	{"normalise", normalise},
	{"clahe", clahe},
	{"boolean", boolean},
	{"bandbool", bandbool},
	{"tint", tint},
	{"alpha", alpha},
	{"colourspace", colourspace},
	{"extract-channel", extractChannel},
	{"icc-export", exportProfile},
	{"negate", negate},
	{"metadata", metadata},
	{"animation", animation},
	{"encode", encode},
}

// StageNames lists the stages in execution order.
func StageNames() []string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.name
	}
	return names
}

// maxSVGDimension is the largest width or height an SVG may render to.
const maxSVGDimension = 32767

func openInput(e env, s state) (state, error) {
	opened, err := e.inputs.Open(e.ctx, e.op.Input)
	if err != nil {
		return s, err
	}
	s.img, s.inputType, s.autofitDPI = opened.Image, opened.Type, opened.TextAutofitDPI
	s.resetFrames()
	if s.format, err = encoder.Resolve(e.encodeRequest(s.inputType)); err != nil {
		return s, err
	}
	return s, s.checkSVG()
}

// resetFrames reads the frame layout from the image metadata, falling back
// to a single page when the stamped height does not divide the image.
func (s *state) resetFrames() {
	s.pageHeight = s.img.Height()
	if ph := s.img.Meta().PageHeight; ph > 0 && ph < s.img.Height() && s.img.Height()%ph == 0 {
		s.pageHeight = ph
	}
	s.pages = frames.Pages(s.img, s.pageHeight)
}

func (s state) checkSVG() error {
	if s.inputType != imagetype.SVG {
		return nil
	}
	if s.img.Width() > maxSVGDimension || s.img.Height() > maxSVGDimension {
		return fmt.Errorf("%w: input SVG image exceeds %dx%d pixel limit", domain.ErrDimensionTooLarge, maxSVGDimension, maxSVGDimension)
	}
	return nil
}

func resolveOrientation(e env, s state) (state, error) {
	if e.op.UseExifOrientation {
		if o := s.img.Meta().Orientation; o > 1 {
			s.auto.rotate, s.auto.flip, s.auto.flop = geometry.ExifRotation(o)
			s.autoRotate = true
		}
	}
	s.rotate = geometry.AngleRotation(e.op.Angle)
	return s, nil
}

// orient applies the metadata orientation, then the explicit right-angle
// rotation and mirroring. Rotation and top-bottom mirroring run frame by
// frame so stacked pages keep their order.
func (s *state) orient(e env) error {
	steps := []orientation{s.auto, {rotate: s.rotate, flip: e.op.Flip, flop: e.op.Flop}}
	for _, o := range steps {
		if o.rotate != geometry.Angle0 {
			angle := o.rotate
			err := s.setPaged(frames.Map(e.engine, s.img, s.pageHeight, func(page engine.Image) (engine.Image, error) {
				return e.engine.Rot(page, angle)
			}))
			if err != nil {
				return err
			}
		}
		if o.flip {
			err := s.setPaged(frames.Map(e.engine, s.img, s.pageHeight, func(page engine.Image) (engine.Image, error) {
				return e.engine.Flip(page, false)
			}))
			if err != nil {
				return err
			}
		}
		if o.flop {
			if err := s.set(e.engine.Flip(s.img, true)); err != nil {
				return err
			}
		}
	}
	return nil
}

// rotateBy turns the image by the arbitrary rotation angle, growing the
// canvas and filling the corners.
func (s *state) rotateBy(e env) error {
	if e.op.RotationAngle == 0 {
		return nil
	}
	if s.multiPage() {
		return notForMultiPage("Rotate")
	}
	if err := s.alphaFor(e, e.op.RotationBackground); err != nil {
		return err
	}
	bg := background(s.img, e.op.RotationBackground, s.premultiplied)
	if err := s.set(e.engine.Rotate(s.img, e.op.RotationAngle, bg)); err != nil {
		return err
	}
	s.pageHeight = s.img.Height()
	return nil
}

func rotateBefore(e env, s state) (state, error) {
	if !e.op.RotateBeforePreExtract {
		return s, nil
	}
	if err := s.orient(e); err != nil {
		return s, err
	}
	if err := s.rotateBy(e); err != nil {
		return s, err
	}
	s.rotatedPre = true
	return s, nil
}

func trim(e env, s state) (state, error) {
	if e.op.TrimThreshold < 0 {
		return s, nil
	}
	if s.multiPage() {
		return s, notForMultiPage("Trim")
	}
	opts := engine.TrimOptions{Threshold: e.op.TrimThreshold, LineArt: e.op.TrimLineArt}
	if e.op.TrimBackground != nil {
		opts.Background = background(s.img, *e.op.TrimBackground, false)
	}
	left, top, width, height, err := e.engine.FindTrim(s.img, opts)
	if err != nil {
		return s, err
	}
	if width <= 0 || height <= 0 {
		// Nothing but background: keep the whole image.
		s.trimLeft, s.trimTop = intPtr(0), intPtr(0)
		return s, nil
	}
	s.trimLeft, s.trimTop = intPtr(left), intPtr(top)
	if width == s.img.Width() && height == s.img.Height() {
		return s, nil
	}
	if err := s.set(e.engine.ExtractArea(s.img, left, top, width, height)); err != nil {
		return s, err
	}
	s.pageHeight = height
	return s, nil
}

func extractPre(e env, s state) (state, error) {
	op := e.op
	err := s.extractRegion(e, op.LeftOffsetPre, op.TopOffsetPre, op.WidthPre, op.HeightPre)
	return s, err
}

func extractPost(e env, s state) (state, error) {
	op := e.op
	err := s.extractRegion(e, op.LeftOffsetPost, op.TopOffsetPost, op.WidthPost, op.HeightPost)
	return s, err
}

func (s *state) extractRegion(e env, left, top, width, height int) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	if left < 0 || top < 0 || left+width > s.img.Width() || top+height > s.pageHeight {
		return fmt.Errorf("%w: extract_area: bad extract area", domain.ErrInvalidInputSpec)
	}
	return s.setPaged(frames.Crop(e.engine, s.img, s.pageHeight, left, top, width, height))
}

// shrinkFactors resolves the resize against the current frame. When the
// image will still be turned a quarter, the target axes are swapped so the
// result matches rotating first.
func (s state) shrinkFactors(op domain.Operation) (float64, float64) {
	width, height := op.Width, op.Height
	if !s.rotatedPre && s.auto.rotate.SwapsAxes() != s.rotate.SwapsAxes() {
		width, height = height, width
	}
	return geometry.ResolveShrink(s.img.Width(), s.pageHeight, width, height, op.Canvas, op.WithoutEnlargement, op.WithoutReduction)
}

func resolveShrink(e env, s state) (state, error) {
	s.hshrink, s.vshrink = s.shrinkFactors(e.op)
	return s, nil
}

// jpegShrink picks the decoder shrink from {1, 2, 4, 8}, keeping a factor of
// two in reserve for the resampler unless fast is set. A factor equal to the
// whole shrink is halved to absorb the decoder's rounding.
func jpegShrink(shrink float64, fast bool) int {
	headroom := 2.0
	if fast {
		headroom = 1
	}
	factor := 1
	for _, f := range []int{8, 4, 2} {
		if shrink >= float64(f)*headroom {
			factor = f
			break
		}
	}
	if factor > 1 && int(shrink) == factor {
		factor /= 2
	}
	return factor
}

// preShrinkable reports whether the input may be reopened at reduced size.
// Gamma, trim, pre-extraction and a forced working colour space all need
// the full-resolution pixels.
func preShrinkable(op domain.Operation, s state) bool {
	return op.HasTarget() &&
		op.Input.IsCompressed() &&
		!s.multiPage() &&
		!op.RotateBeforePreExtract &&
		op.Gamma == 0 &&
		op.TrimThreshold < 0 &&
		op.WidthPre <= 0 &&
		op.ColourspacePipeline == ""
}

func shrinkOnLoad(e env, s state) (state, error) {
	if !preShrinkable(e.op, s) {
		return s, nil
	}
	shrink := math.Min(s.hshrink, s.vshrink)
	var scaling input.Scaling
	switch s.inputType {
	case imagetype.JPEG:
		if shrink >= 2 {
			if k := jpegShrink(shrink, e.op.FastShrinkOnLoad); k > 1 {
				scaling.Shrink = k
			}
		}
	case imagetype.WebP:
		if e.op.FastShrinkOnLoad && shrink > 1 {
			scaling.Scale = 1 / shrink
		}
	case imagetype.SVG, imagetype.PDF:
		scaling.Scale = 1 / shrink
	}
	if scaling.Shrink == 0 && scaling.Scale == 0 {
		return s, nil
	}

	opened, err := e.inputs.OpenScaled(e.ctx, e.op.Input, scaling)
	if err != nil {
		return s, err
	}
	if err := s.set(opened.Image, nil); err != nil {
		return s, err
	}
	s.loadShrink, s.loadScale = scaling.Shrink, scaling.Scale
	s.resetFrames()
	if err := s.checkSVG(); err != nil {
		return s, err
	}
	s.hshrink, s.vshrink = s.shrinkFactors(e.op)
	return s, nil
}

// loadFactor is the reduction applied at decode time.
func (s state) loadFactor() float64 {
	switch {
	case s.loadShrink > 1:
		return float64(s.loadShrink)
	case s.loadScale > 0:
		return 1 / s.loadScale
	}
	return 1
}

func flatten(e env, s state) (state, error) {
	if !e.op.Flatten || !s.img.HasAlpha() {
		return s, nil
	}
	return s.with(e.engine.Flatten(s.img, colour(s.img, e.op.FlattenBackground)))
}

func gammaApplies(op domain.Operation) bool {
	return op.Gamma >= 1 && op.Gamma <= 3
}

func gamma(e env, s state) (state, error) {
	if !gammaApplies(e.op) {
		return s, nil
	}
	return s.with(e.engine.Gamma(s.img, 1/e.op.Gamma))
}

func greyscale(e env, s state) (state, error) {
	if !e.op.Greyscale {
		return s, nil
	}
	return s.with(e.engine.Colourspace(s.img, engine.InterpretationBW))
}

func premultiply(e env, s state) (state, error) {
	op := e.op
	if len(op.Composite) > 0 && !s.img.HasAlpha() {
		if err := s.set(e.engine.AddAlpha(s.img, 255)); err != nil {
			return s, err
		}
	}
	needed := s.hshrink != 1 || s.vshrink != 1 ||
		op.BlurSigma != 0 ||
		op.Convolution != nil ||
		op.SharpenSigma != 0
	if !needed || !s.img.HasAlpha() {
		return s, nil
	}
	s.premulDepth = s.img.Depth()
	if err := s.set(e.engine.Premultiply(s.img)); err != nil {
		return s, err
	}
	s.premultiplied = true
	return s, nil
}

var kernels = map[string]engine.Kernel{
	"nearest":  engine.KernelNearest,
	"linear":   engine.KernelLinear,
	"cubic":    engine.KernelCubic,
	"mitchell": engine.KernelMitchell,
	"lanczos2": engine.KernelLanczos2,
	"lanczos3": engine.KernelLanczos3,
}

func resize(e env, s state) (state, error) {
	if s.hshrink == 1 && s.vshrink == 1 {
		return s, nil
	}
	kernel, ok := kernels[e.op.Kernel]
	if !ok {
		kernel = engine.KernelLanczos3
	}
	hscale, vscale := 1/s.hshrink, 1/s.vshrink
	pageHeight := 0
	if s.multiPage() {
		// Every frame must land on the same whole-pixel height.
		pageHeight = max(1, int(math.Round(float64(s.pageHeight)/s.vshrink)))
		vscale = float64(pageHeight*s.pages) / float64(s.img.Height())
	}
	if err := s.set(e.engine.Resize(s.img, hscale, vscale, kernel)); err != nil {
		return s, err
	}
	if pageHeight == 0 {
		pageHeight = s.img.Height()
	}
	s.pageHeight = pageHeight
	return s, nil
}

func rotateAfter(e env, s state) (state, error) {
	if s.rotatedPre {
		return s, nil
	}
	err := s.orient(e)
	return s, err
}

func joinChannels(e env, s state) (state, error) {
	if len(e.op.JoinChannel) == 0 {
		return s, nil
	}
	others := make([]engine.Image, 0, len(e.op.JoinChannel))
	defer func() { engine.CloseAll(others...) }()
	for _, in := range e.op.JoinChannel {
		opened, err := e.inputs.Open(e.ctx, in)
		if err != nil {
			return s, err
		}
		others = append(others, opened.Image)
	}
	if err := s.set(e.engine.BandJoin(s.img, others...)); err != nil {
		return s, err
	}
	interp := engine.InterpretationSRGB
	switch {
	case s.img.Bands() <= 2:
		interp = engine.InterpretationBW
	case s.img.Interpretation().Is16Bit():
		interp = engine.InterpretationRGB16
	}
	return s.with(e.engine.SetInterpretation(s.img, interp))
}

func fitCanvas(e env, s state) (state, error) {
	op := e.op
	width, height := s.img.Width(), s.pageHeight
	targetWidth, targetHeight := op.Width, op.Height
	if targetWidth <= 0 {
		targetWidth = width
	}
	if targetHeight <= 0 {
		targetHeight = height
	}
	if targetWidth == width && targetHeight == height {
		return s, nil
	}

	switch op.Canvas {
	case geometry.CanvasEmbed:
		targetWidth, targetHeight = max(targetWidth, width), max(targetHeight, height)
		if err := s.alphaFor(e, op.ResizeBackground); err != nil {
			return s, err
		}
		gravity := op.Position
		if gravity.IsStrategy() {
			gravity = geometry.GravityCentre
		}
		left, top := geometry.CalculateEmbedPosition(width, height, targetWidth, targetHeight, gravity)
		bg := background(s.img, op.ResizeBackground, s.premultiplied)
		return s.withPaged(frames.Embed(e.engine, s.img, s.pageHeight, left, top, targetWidth, targetHeight, engine.ExtendBackground, bg))

	case geometry.CanvasCrop:
		targetWidth, targetHeight = min(targetWidth, width), min(targetHeight, height)
		if targetWidth == width && targetHeight == height {
			return s, nil
		}
		if op.Position.IsStrategy() {
			err := s.smartCrop(e, targetWidth, targetHeight)
			return s, err
		}
		left, top := geometry.CalculateCrop(width, height, targetWidth, targetHeight, op.Position)
		return s.withPaged(frames.Crop(e.engine, s.img, s.pageHeight, left, top, targetWidth, targetHeight))
	}
	return s, nil
}

func (s *state) smartCrop(e env, width, height int) error {
	if s.multiPage() {
		return notForMultiPage("Resize strategy")
	}
	interesting := engine.InterestingEntropy
	if e.op.Position == geometry.StrategyAttention {
		interesting = engine.InterestingAttention
	}
	cropped, res, err := e.engine.SmartCrop(s.img, width, height, interesting, s.premultiplied)
	if err := s.set(cropped, err); err != nil {
		return err
	}
	s.pageHeight = s.img.Height()
	s.cropLeft, s.cropTop = intPtr(res.Left), intPtr(res.Top)
	if interesting == engine.InterestingAttention {
		// Report the point against the input as given, undoing both the
		// resize and any decode-time shrink.
		factor := s.loadFactor()
		s.attentionX = intPtr(int(math.Round(float64(res.AttentionX) * s.hshrink * factor)))
		s.attentionY = intPtr(int(math.Round(float64(res.AttentionY) * s.vshrink * factor)))
	}
	return nil
}

func rotateAngle(e env, s state) (state, error) {
	if s.rotatedPre {
		return s, nil
	}
	err := s.rotateBy(e)
	return s, err
}

func affine(e env, s state) (state, error) {
	op := e.op
	if len(op.Affine) != 4 {
		return s, nil
	}
	if s.multiPage() {
		return s, notForMultiPage("Affine")
	}
	if err := s.alphaFor(e, op.AffineBackground); err != nil {
		return s, err
	}
	opts := engine.AffineOptions{
		Matrix:       [4]float64{op.Affine[0], op.Affine[1], op.Affine[2], op.Affine[3]},
		Idx:          op.AffineIdx,
		Idy:          op.AffineIdy,
		Odx:          op.AffineOdx,
		Ody:          op.AffineOdy,
		Interpolator: op.AffineInterpolator,
		Background:   background(s.img, op.AffineBackground, s.premultiplied),
	}
	if err := s.set(e.engine.Affine(s.img, opts)); err != nil {
		return s, err
	}
	s.pageHeight = s.img.Height()
	return s, nil
}

func extend(e env, s state) (state, error) {
	op := e.op
	if op.ExtendTop == 0 && op.ExtendBottom == 0 && op.ExtendLeft == 0 && op.ExtendRight == 0 {
		return s, nil
	}
	mode := engine.Extend(op.ExtendWith)
	if mode == "" {
		mode = engine.ExtendBackground
	}
	var bg []float64
	if mode == engine.ExtendBackground {
		if err := s.alphaFor(e, op.ExtendBackground); err != nil {
			return s, err
		}
		bg = background(s.img, op.ExtendBackground, s.premultiplied)
	}
	width := s.img.Width() + op.ExtendLeft + op.ExtendRight
	height := s.pageHeight + op.ExtendTop + op.ExtendBottom
	return s.withPaged(frames.Embed(e.engine, s.img, s.pageHeight, op.ExtendLeft, op.ExtendTop, width, height, mode, bg))
}

// colour is c reduced to the colour bands of img: one luminance value for
// grey images, RGB otherwise.
func colour(img engine.Image, c domain.Color) []float64 {
	if img.Bands() <= 2 {
		return []float64{0.2126*c.R + 0.7152*c.G + 0.0722*c.B}
	}
	return []float64{c.R, c.G, c.B}
}

// background is the fill vector for img: its colour bands, premultiplied
// when the image is, plus alpha when the image has an alpha band.
func background(img engine.Image, c domain.Color, premultiplied bool) []float64 {
	out := colour(img, c)
	if !img.HasAlpha() {
		return out
	}
	if premultiplied {
		for i := range out {
			out[i] *= c.A / 255
		}
	}
	return append(out, c.A)
}

// alphaFor adds an opaque alpha band when a translucent fill is about to be
// used on an image without one.
func (s *state) alphaFor(e env, c domain.Color) error {
	if c.A >= 255 || s.img.HasAlpha() {
		return nil
	}
	return s.set(e.engine.AddAlpha(s.img, 255))
}
