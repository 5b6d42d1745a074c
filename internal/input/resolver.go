// Package input opens the image named by an InputSpec: encoded files,
// buffers and storage objects, raw samples, synthetic canvases and rendered
// text.
package input

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/engine/raster"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

// ObjectReader fetches the bytes of a storage object.
type ObjectReader interface {
	ReadObject(ctx context.Context, key string) ([]byte, error)
}

// Opened is the result of resolving one InputSpec.
type Opened struct {
	Image engine.Image
	Type  imagetype.Type
	// TextAutofitDPI is the DPI chosen to fit text into its box, or 0.
	TextAutofitDPI int
}

// Scaling asks the loader to decode at reduced size.
type Scaling struct {
	Shrink int
	Scale  float64
}

type Resolver struct {
	engine  engine.Engine
	objects ObjectReader
}

// NewResolver returns a resolver on eng. objects may be nil when storage
// inputs are not configured.
func NewResolver(eng engine.Engine, objects ObjectReader) *Resolver {
	return &Resolver{engine: eng, objects: objects}
}

func (r *Resolver) Open(ctx context.Context, spec domain.InputSpec) (Opened, error) {
	return r.OpenScaled(ctx, spec, Scaling{})
}

// OpenScaled opens spec, passing the shrink-on-load hints to loaders that
// support them.
func (r *Resolver) OpenScaled(ctx context.Context, spec domain.InputSpec, scaling Scaling) (Opened, error) {
	switch spec.Source() {
	case "raw":
		img, err := r.openRaw(spec.Raw)
		return Opened{Image: img, Type: imagetype.Raw}, err
	case "create":
		img, err := r.openCreate(spec.Create)
		return Opened{Image: img, Type: imagetype.Raw}, err
	case "text":
		return r.openText(spec.Text)
	case "file", "buffer", "object":
		return r.openEncoded(ctx, spec, scaling)
	}
	return Opened{}, fmt.Errorf("%w: no input source", domain.ErrInvalidInputSpec)
}

// Detect classifies spec without decoding pixels.
func (r *Resolver) Detect(ctx context.Context, spec domain.InputSpec) (imagetype.Type, error) {
	switch spec.Source() {
	case "raw", "create", "text":
		return imagetype.Raw, nil
	case "file":
		if _, err := os.Stat(spec.File); err != nil {
			return imagetype.Missing, missing(spec.File)
		}
		return imagetype.DetectFile(spec.File)
	case "buffer":
		return imagetype.Detect(spec.Buffer), nil
	case "object":
		buf, err := r.object(ctx, spec.Object)
		if err != nil {
			return imagetype.Unknown, err
		}
		return imagetype.Detect(buf), nil
	}
	return imagetype.Unknown, fmt.Errorf("%w: no input source", domain.ErrInvalidInputSpec)
}

func missing(path string) error {
	if looksLikeMarkup(path) {
		return fmt.Errorf("%w: %s (inline SVG markup must be passed as a buffer, not a file path)", domain.ErrMissingInput, path)
	}
	return fmt.Errorf("%w: %s", domain.ErrMissingInput, path)
}

func looksLikeMarkup(path string) bool {
	p := strings.TrimSpace(path)
	return strings.HasPrefix(p, "<") && strings.Contains(strings.ToLower(p), "<svg")
}

func (r *Resolver) object(ctx context.Context, key string) ([]byte, error) {
	if r.objects == nil {
		return nil, fmt.Errorf("%w: object input %q needs a storage client", domain.ErrInvalidInputSpec, key)
	}
	buf, err := r.objects.ReadObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: object %s: %v", domain.ErrMissingInput, key, err)
	}
	return buf, nil
}

func (r *Resolver) openEncoded(ctx context.Context, spec domain.InputSpec, scaling Scaling) (Opened, error) {
	var (
		src  engine.Source
		kind = "buffer"
		t    imagetype.Type
	)
	switch spec.Source() {
	case "file":
		kind = "file"
		if _, err := os.Stat(spec.File); err != nil {
			return Opened{}, missing(spec.File)
		}
		detected, err := imagetype.DetectFile(spec.File)
		if err != nil {
			return Opened{}, fmt.Errorf("%w: %s: %v", domain.ErrMissingInput, spec.File, err)
		}
		src, t = engine.Source{Path: spec.File}, detected
	case "object":
		buf, err := r.object(ctx, spec.Object)
		if err != nil {
			return Opened{}, err
		}
		src, t = engine.Source{Buffer: buf}, imagetype.Detect(buf)
	default:
		src, t = engine.Source{Buffer: spec.Buffer}, imagetype.Detect(spec.Buffer)
	}
	if t == imagetype.Unknown {
		return Opened{}, fmt.Errorf("%w: input %s contains unsupported image format", domain.ErrUnsupportedFormat, kind)
	}
	if r.engine.Blocklist().Blocked(t.Loader()) {
		return Opened{}, fmt.Errorf("%w: %s is blocked", domain.ErrUnsupportedFormat, t.Loader())
	}

	opts := LoadOptions(spec, t)
	opts.Shrink, opts.Scale = scaling.Shrink, scaling.Scale
	img, err := r.engine.Load(ctx, src, opts)
	if err != nil {
		if errors.Is(err, engine.ErrUnsupported) {
			return Opened{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Opened{}, ctxErr
		}
		return Opened{}, fmt.Errorf("%w: input %s has corrupt header: %v", domain.ErrCorruptHeader, kind, err)
	}
	if t.IsVector() {
		stamped, err := r.engine.SetMeta(img, func(m *engine.Meta) { m.Density = spec.Density })
		img.Close()
		if err != nil {
			return Opened{}, err
		}
		img = stamped
	}
	if err := checkPixelLimit(img, spec.LimitInputPixels); err != nil {
		img.Close()
		return Opened{}, err
	}
	return Opened{Image: img, Type: t}, nil
}

// LoadOptions maps the load-time fields of spec onto engine options for t.
func LoadOptions(spec domain.InputSpec, t imagetype.Type) engine.LoadOptions {
	opts := engine.LoadOptions{
		Type:       t,
		Level:      spec.Level,
		SubIFD:     spec.SubIFD,
		Sequential: spec.Sequential,
		FailOn:     spec.FailOn,
	}
	if t.SupportsPages() {
		opts.Page, opts.Pages = spec.Page, spec.Pages
	}
	if t.IsVector() {
		opts.Density = spec.Density
	}
	if t.SupportsUnlimited() {
		opts.Unlimited = spec.Unlimited
	}
	return opts
}

func checkPixelLimit(img engine.Image, limit int64) error {
	if limit <= 0 {
		return nil
	}
	if int64(img.Width())*int64(img.Height()) > limit {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrPixelLimitExceeded, img.Width(), img.Height(), limit)
	}
	return nil
}

// Interpretation infers the colour model of raw samples.
func Interpretation(channels int, depth string) engine.Interpretation {
	wide := depth == domain.DepthUshort
	switch {
	case channels <= 2 && wide:
		return engine.InterpretationGrey16
	case channels <= 2:
		return engine.InterpretationBW
	case wide:
		return engine.InterpretationRGB16
	}
	return engine.InterpretationSRGB
}

func (r *Resolver) openRaw(raw *domain.RawSource) (engine.Image, error) {
	data := raw.Data
	if raw.Premultiplied && (raw.Channels == 2 || raw.Channels == 4) && (raw.Depth == "" || raw.Depth == domain.DepthUchar) {
		data = unpremultiply(data, raw.Channels)
	}
	img, err := r.engine.FromRaw(data, raw.Width, raw.Height, raw.Channels, raw.Depth, Interpretation(raw.Channels, raw.Depth))
	if err != nil {
		return nil, fmt.Errorf("%w: raw input: %v", domain.ErrInvalidInputSpec, err)
	}
	return r.stampPages(img, raw.PageHeight)
}

// unpremultiply divides each colour sample by its alpha; the last band is
// alpha.
func unpremultiply(data []byte, channels int) []byte {
	out := append([]byte(nil), data...)
	for i := 0; i+channels <= len(out); i += channels {
		a := int(out[i+channels-1])
		for c := 0; c < channels-1; c++ {
			switch a {
			case 0:
				out[i+c] = 0
			case 255:
			default:
				out[i+c] = uint8(min(255, (int(out[i+c])*255+a/2)/a))
			}
		}
	}
	return out
}

func (r *Resolver) openCreate(c *domain.CreateSource) (engine.Image, error) {
	var data []byte
	if c.Noise != nil {
		data = raster.Noise(c.Width, c.Height, c.Channels, c.Noise.Mean, c.Noise.Sigma)
	} else {
		data = raster.Canvas(c.Width, c.Height, c.Channels, c.Background)
	}
	img, err := r.engine.FromRaw(data, c.Width, c.Height, c.Channels, domain.DepthUchar, Interpretation(c.Channels, domain.DepthUchar))
	if err != nil {
		return nil, fmt.Errorf("create input: %w", err)
	}
	return r.stampPages(img, c.PageHeight)
}

func (r *Resolver) openText(t *domain.TextSource) (Opened, error) {
	text, err := raster.RenderText(*t)
	if err != nil {
		return Opened{}, fmt.Errorf("%w: text input: %v", domain.ErrInvalidInputSpec, err)
	}
	img, err := r.engine.FromRaw(text.Pixels, text.Width, text.Height, text.Bands, domain.DepthUchar, Interpretation(text.Bands, domain.DepthUchar))
	if err != nil {
		return Opened{}, fmt.Errorf("text input: %w", err)
	}
	return Opened{Image: img, Type: imagetype.Raw, TextAutofitDPI: text.AutofitDPI}, nil
}

func (r *Resolver) stampPages(img engine.Image, pageHeight int) (engine.Image, error) {
	if pageHeight <= 0 || pageHeight >= img.Height() || img.Height()%pageHeight != 0 {
		return img, nil
	}
	pages := img.Height() / pageHeight
	out, err := r.engine.SetMeta(img, func(m *engine.Meta) {
		m.PageHeight, m.Pages = pageHeight, pages
	})
	img.Close()
	return out, err
}
