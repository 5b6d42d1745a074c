//go:build govips && cgo

// Package vips implements the engine contract on libvips through govips.
// Operations govips does not bind are run by the native engine over a raw
// 8-bit pixel bridge.
package vips

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/engine/native"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

const name = "vips"

type Engine struct {
	mu          sync.RWMutex
	cache       engine.CacheLimits
	concurrency int
	vector      bool
	blocklist   *engine.Blocklist
	fallback    *native.Engine
}

var _ engine.Engine = (*Engine)(nil)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// New starts libvips once per process with the given limits and routes its
// warnings onto the engine warning queue.
func New(cache engine.CacheLimits, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	e := &Engine{
		cache:       cache,
		concurrency: concurrency,
		vector:      true,
		blocklist:   engine.NewBlocklist(),
		fallback:    native.New(),
	}
	startupOnce.Do(func() {
		vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
			if level <= vips.LogLevelWarning {
				engine.Warnings.Push(msg)
			}
		}, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: concurrency,
			MaxCacheFiles:    cache.Files,
			MaxCacheMem:      cache.MemoryMB * 1024 * 1024,
			MaxCacheSize:     cache.Items,
		})
		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return e
}

// Shutdown releases libvips. Safe to call more than once.
func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func (e *Engine) Name() string { return name }

func (e *Engine) Cache() engine.CacheLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache
}

// SetCache records new limits; libvips reads them at the next startup.
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

func (e *Engine) Vector() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vector
}

func (e *Engine) SetVector(enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vector = enabled
	return e.vector
}

func (e *Engine) Blocklist() *engine.Blocklist { return e.blocklist }

func (e *Engine) Capabilities(t imagetype.Type) engine.FormatSupport {
	var s engine.FormatSupport
	switch t {
	case imagetype.JPEG, imagetype.PNG, imagetype.WebP, imagetype.GIF, imagetype.TIFF,
		imagetype.SVG, imagetype.HEIF, imagetype.PDF, imagetype.JP2, imagetype.JXL, imagetype.Magick:
		s.InputBuffer, s.InputFile = true, true
	}
	switch t {
	case imagetype.JPEG, imagetype.PNG, imagetype.WebP, imagetype.GIF, imagetype.TIFF,
		imagetype.HEIF, imagetype.JP2, imagetype.JXL:
		s.OutputBuffer, s.OutputFile = true, true
	}
	return s
}

// image wraps a govips reference. govips mutates in place, so every
// operation copies the reference first.
type image struct {
	ref    *vips.ImageRef
	meta   engine.Meta
	left   int
	top    int
	premul bool
}

func (i *image) Width() int { return i.ref.Width() }
func (i *image) Height() int { return i.ref.Height() }
func (i *image) Bands() int { return i.ref.Bands() }
func (i *image) HasAlpha() bool { return i.ref.HasAlpha() }
func (i *image) Meta() engine.Meta { return i.meta.Clone() }
func (i *image) Offset() (int, int) {
	return i.left, i.top
}

func (i *image) Interpretation() engine.Interpretation {
	return fromInterpretation(i.ref.Interpretation())
}

func (i *image) Depth() string {
	switch i.ref.BandFormat() {
	case vips.BandFormatUshort:
		return domain.DepthUshort
	case vips.BandFormatFloat:
		return domain.DepthFloat
	}
	return domain.DepthUchar
}

func (i *image) Close() {
	if i.ref != nil {
		i.ref.Close()
	}
}

func asImage(img engine.Image) (*image, error) {
	i, ok := img.(*image)
	if !ok || i == nil {
		return nil, engine.Unsupported(name, "foreign image handle")
	}
	return i, nil
}

// mutate copies img, applies fn to the copy and returns it as a new handle.
func mutate(img engine.Image, op string, fn func(ref *vips.ImageRef) error) (engine.Image, error) {
	src, err := asImage(img)
	if err != nil {
		return nil, err
	}
	ref, err := src.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := fn(ref); err != nil {
		ref.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &image{ref: ref, meta: src.meta.Clone(), left: src.left, top: src.top, premul: src.premul}, nil
}

// toNative copies the pixels of an 8-bit image into a native handle.
func (e *Engine) toNative(img engine.Image) (engine.Image, error) {
	src, err := asImage(img)
	if err != nil {
		return nil, err
	}
	if src.ref.BandFormat() != vips.BandFormatUchar {
		return nil, engine.Unsupported(name, "native bridge for "+src.Depth()+" images")
	}
	data, err := src.ref.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("read pixels: %w", err)
	}
	out, err := e.fallback.FromRaw(data, src.Width(), src.Height(), src.Bands(), domain.DepthUchar, src.Interpretation())
	if err != nil {
		return nil, err
	}
	return e.fallback.SetMeta(out, func(m *engine.Meta) { *m = src.meta.Clone() })
}

// fromNative hands a native image back to libvips through a lossless PNG.
func (e *Engine) fromNative(img engine.Image) (engine.Image, error) {
	meta := img.Meta()
	buf, err := e.fallback.Save(context.Background(), img, engine.SaveOptions{
		Format:  imagetype.FormatPNG,
		Options: domain.FormatOptions{PNG: domain.PNGOptions{Compression: 1}},
	})
	if err != nil {
		return nil, err
	}
	ref, err := vips.NewImageFromBuffer(buf)
	if err != nil {
		return nil, fmt.Errorf("pngload: %w", err)
	}
	if img.Bands() <= 2 && ref.Bands() > 2 {
		if err := ref.ToColorSpace(vips.InterpretationBW); err != nil {
			ref.Close()
			return nil, err
		}
	}
	left, top := img.Offset()
	return &image{ref: ref, meta: meta, left: left, top: top}, nil
}

// viaNative runs op on the native engine.
func (e *Engine) viaNative(img engine.Image, op func(engine.Image) (engine.Image, error)) (engine.Image, error) {
	in, err := e.toNative(img)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out, err := op(in)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	return e.fromNative(out)
}

var interpretations = map[engine.Interpretation]vips.Interpretation{
	engine.InterpretationBW:        vips.InterpretationBW,
	engine.InterpretationSRGB:      vips.InterpretationSRGB,
	engine.InterpretationRGB16:     vips.InterpretationRGB16,
	engine.InterpretationGrey16:    vips.InterpretationGrey16,
	engine.InterpretationCMYK:      vips.InterpretationCMYK,
	engine.InterpretationLab:       vips.InterpretationLAB,
	engine.InterpretationLabS:      vips.InterpretationLABS,
	engine.InterpretationMultiband: vips.InterpretationMultiband,
	engine.InterpretationRGB:       vips.InterpretationRGB,
}

func toInterpretation(i engine.Interpretation) (vips.Interpretation, bool) {
	v, ok := interpretations[i]
	return v, ok
}

func fromInterpretation(v vips.Interpretation) engine.Interpretation {
	for k, candidate := range interpretations {
		if candidate == v {
			return k
		}
	}
	return engine.InterpretationMultiband
}
