// Package native implements the engine contract in pure Go on top of
// imaging, bild, go-colorful and x/image. It handles 8-bit images with up to
// four bands; formats and operations outside that envelope return
// engine.ErrUnsupported.
package native

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

const name = "native"

type Engine struct {
	mu          sync.RWMutex
	cache       engine.CacheLimits
	concurrency int
	blocklist   *engine.Blocklist
}

var _ engine.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{
		cache:       engine.CacheLimits{MemoryMB: 50, Files: 20, Items: 100},
		concurrency: runtime.NumCPU(),
		blocklist:   engine.NewBlocklist(),
	}
}

func (e *Engine) Name() string { return name }

func (e *Engine) Cache() engine.CacheLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache
}

func (e *Engine) SetCache(limits engine.CacheLimits) {
	e.mu.Lock()
	e.cache = limits
	e.mu.Unlock()
}

func (e *Engine) Concurrency() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.concurrency
}

func (e *Engine) SetConcurrency(n int) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	e.mu.Lock()
	e.concurrency = n
	e.mu.Unlock()
}

// Vector is always false: the pure-Go kernels have no SIMD path to toggle.
func (e *Engine) Vector() bool { return false }

func (e *Engine) SetVector(bool) bool { return false }

func (e *Engine) Blocklist() *engine.Blocklist { return e.blocklist }

func (e *Engine) Capabilities(t imagetype.Type) engine.FormatSupport {
	var s engine.FormatSupport
	switch t {
	case imagetype.JPEG, imagetype.PNG, imagetype.GIF, imagetype.WebP, imagetype.TIFF, imagetype.Magick:
		s.InputBuffer, s.InputFile = true, true
	}
	switch t {
	case imagetype.JPEG, imagetype.PNG, imagetype.GIF, imagetype.TIFF:
		s.OutputBuffer, s.OutputFile = true, true
	}
	return s
}

// handle is an immutable 8-bit image. Samples always live in a four-byte
// RGBA layout; bands says how many of them are meaningful. Grey images keep
// R=G=B, images without alpha keep A=255. When premul is set the colour
// samples are premultiplied by alpha.
type handle struct {
	pix    *image.NRGBA
	bands  int
	interp engine.Interpretation
	premul bool
	meta   engine.Meta
	left   int
	top    int
	closed atomic.Bool
}

func (h *handle) Width() int                            { return h.pix.Rect.Dx() }
func (h *handle) Height() int                           { return h.pix.Rect.Dy() }
func (h *handle) Bands() int                            { return h.bands }
func (h *handle) HasAlpha() bool                        { return h.bands == 2 || h.bands == 4 }
func (h *handle) Interpretation() engine.Interpretation { return h.interp }
func (h *handle) Depth() string                         { return domain.DepthUchar }
func (h *handle) Meta() engine.Meta                     { return h.meta.Clone() }
func (h *handle) Offset() (int, int)                    { return h.left, h.top }

func (h *handle) Close() {
	h.closed.Store(true)
}

func (h *handle) grey() bool {
	return h.bands <= 2
}

// image exposes the samples as a standard library image with the right
// colour model for the stored representation.
func (h *handle) image() image.Image {
	if h.premul {
		return &image.RGBA{Pix: h.pix.Pix, Stride: h.pix.Stride, Rect: h.pix.Rect}
	}
	return h.pix
}

func asHandle(img engine.Image) (*handle, error) {
	h, ok := img.(*handle)
	if !ok || h == nil {
		return nil, engine.Unsupported(name, "foreign image handle")
	}
	return h, nil
}

// derive wraps new samples with src's bands, interpretation, alpha
// representation and a private copy of its metadata.
func derive(src *handle, pix *image.NRGBA) *handle {
	return &handle{
		pix:    pix,
		bands:  src.bands,
		interp: src.interp,
		premul: src.premul,
		meta:   src.meta.Clone(),
	}
}

// storage converts the output of an imaging or bild call back into the
// layout described by premul.
func storage(img image.Image, premul bool) *image.NRGBA {
	if premul {
		rgba, ok := img.(*image.RGBA)
		if !ok || rgba.Rect.Min != (image.Point{}) {
			b := img.Bounds()
			rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
			for y := 0; y < b.Dy(); y++ {
				for x := 0; x < b.Dx(); x++ {
					rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
				}
			}
		}
		return &image.NRGBA{Pix: rgba.Pix, Stride: rgba.Stride, Rect: rgba.Rect}
	}
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// normalise re-establishes the grey and opaque invariants after a library
// call that may have disturbed them.
func normalise(pix *image.NRGBA, bands int) *image.NRGBA {
	grey := bands <= 2
	alpha := bands == 2 || bands == 4
	if !grey && alpha {
		return pix
	}
	for i := 0; i+3 < len(pix.Pix); i += 4 {
		if grey {
			v := pix.Pix[i]
			pix.Pix[i+1], pix.Pix[i+2] = v, v
		}
		if !alpha {
			pix.Pix[i+3] = 255
		}
	}
	return pix
}

func newPix(width, height int) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}

func clone(pix *image.NRGBA) *image.NRGBA {
	out := newPix(pix.Rect.Dx(), pix.Rect.Dy())
	for y := 0; y < pix.Rect.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+pix.Rect.Dx()*4], pix.Pix[pix.PixOffset(pix.Rect.Min.X, pix.Rect.Min.Y+y):])
	}
	return out
}

// fill returns the four storage bytes for a background vector of 1-4 values.
func fill(bg []float64, bands int) [4]uint8 {
	px := [4]uint8{0, 0, 0, 255}
	switch len(bg) {
	case 0:
	case 1:
		v := clamp8(bg[0])
		px = [4]uint8{v, v, v, 255}
	case 2:
		v := clamp8(bg[0])
		px = [4]uint8{v, v, v, clamp8(bg[1])}
	case 3:
		px = [4]uint8{clamp8(bg[0]), clamp8(bg[1]), clamp8(bg[2]), 255}
	default:
		px = [4]uint8{clamp8(bg[0]), clamp8(bg[1]), clamp8(bg[2]), clamp8(bg[3])}
	}
	if bands == 1 || bands == 3 {
		px[3] = 255
	}
	if bands <= 2 && len(bg) >= 3 {
		v := clamp8(0.2126*bg[0] + 0.7152*bg[1] + 0.0722*bg[2])
		px[0], px[1], px[2] = v, v, v
	}
	return px
}

func nrgba(px [4]uint8) color.NRGBA {
	return color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]}
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

func luma(r, g, b uint8) uint8 {
	return clamp8(0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b))
}

func interpretationFor(bands int) engine.Interpretation {
	if bands <= 2 {
		return engine.InterpretationBW
	}
	return engine.InterpretationSRGB
}
