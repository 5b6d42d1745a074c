//go:build govips && cgo

package vips

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

func (e *Engine) Load(ctx context.Context, src engine.Source, opts engine.LoadOptions) (engine.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := opts.Type
	if t == imagetype.Unknown {
		if src.Path != "" {
			detected, err := imagetype.DetectFile(src.Path)
			if err != nil {
				return nil, err
			}
			t = detected
		} else {
			t = imagetype.Detect(src.Buffer)
		}
	}
	if e.blocklist.Blocked(t.Loader()) {
		return nil, engine.Unsupported(name, t.Loader()+" is blocked")
	}

	params := vips.NewImportParams()
	params.FailOnError.Set(opts.FailOn == "error" || opts.FailOn == "warning")
	if t.SupportsPages() {
		params.Page.Set(opts.Page)
		params.NumPages.Set(opts.Pages)
	}
	if t.IsVector() && opts.Density > 0 {
		// Vector sources scale at render time through the density.
		density := opts.Density
		if opts.Scale > 0 {
			density *= opts.Scale
		}
		params.Density.Set(max(1, int(math.Round(density))))
	}
	if t == imagetype.JPEG && opts.Shrink > 1 {
		params.JpegShrinkFactor.Set(opts.Shrink)
	}
	if t == imagetype.SVG && opts.Unlimited {
		params.SvgUnlimited.Set(true)
	}

	var (
		ref *vips.ImageRef
		err error
	)
	if src.Path != "" {
		if _, statErr := os.Stat(src.Path); statErr != nil {
			return nil, fmt.Errorf("%s: %w", t.Loader(), statErr)
		}
		ref, err = vips.LoadImageFromFile(src.Path, params)
	} else {
		ref, err = vips.LoadImageFromBuffer(src.Buffer, params)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Loader(), err)
	}
	if !t.IsVector() && opts.Scale > 0 && opts.Scale < 1 {
		if err := ref.Resize(opts.Scale, vips.KernelLanczos3); err != nil {
			ref.Close()
			return nil, fmt.Errorf("%s: scale: %w", t.Loader(), err)
		}
	}
	return &image{ref: ref, meta: readMeta(ref, opts)}, nil
}

func readMeta(ref *vips.ImageRef, opts engine.LoadOptions) engine.Meta {
	meta := engine.Meta{
		Pages:           ref.Pages(),
		PageHeight:      ref.PageHeight(),
		Orientation:     ref.Orientation(),
		Density:         ref.ResX() * 25.4,
		EmbeddedProfile: ref.HasICCProfile(),
	}
	if meta.Pages <= 0 {
		meta.Pages = 1
	}
	if meta.PageHeight <= 0 {
		meta.PageHeight = ref.Height()
	}
	if meta.Density <= 0 {
		meta.Density = 72
	}
	if opts.Density > 0 && opts.Type.IsVector() {
		meta.Density = opts.Density
	}
	return meta
}

func (e *Engine) FromRaw(data []byte, width, height, bands int, depth string, interp engine.Interpretation) (engine.Image, error) {
	if depth != "" && depth != domain.DepthUchar {
		return nil, engine.Unsupported(name, depth+" raw input")
	}
	img, err := e.fallback.FromRaw(data, width, height, bands, depth, interp)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return e.fromNative(img)
}
