// Package engine defines the image-processing capabilities the pipeline
// drives. Implementations live in engine/native (pure Go) and engine/vips
// (libvips through govips).
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/geometry"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

// ErrUnsupported marks an operation the selected engine cannot perform.
var ErrUnsupported = errors.New("not supported by this engine")

func Unsupported(engine, op string) error {
	return fmt.Errorf("%s %s: %w", engine, op, ErrUnsupported)
}

type Interpretation string

const (
	InterpretationBW        Interpretation = "b-w"
	InterpretationSRGB      Interpretation = "srgb"
	InterpretationRGB16     Interpretation = "rgb16"
	InterpretationGrey16    Interpretation = "grey16"
	InterpretationCMYK      Interpretation = "cmyk"
	InterpretationLab       Interpretation = "lab"
	InterpretationLabS      Interpretation = "labs"
	InterpretationMultiband Interpretation = "multiband"
	InterpretationRGB       Interpretation = "rgb"
)

// Is16Bit reports whether i stores 16 bits per sample.
func (i Interpretation) Is16Bit() bool {
	return i == InterpretationRGB16 || i == InterpretationGrey16
}

// Meta is the per-image metadata an engine reads at load time and writes at
// encode time.
type Meta struct {
	Pages           int
	PageHeight      int
	Delay           []int
	Loop            int
	Orientation     int
	Density         float64
	ICC             []byte
	// EmbeddedProfile is set by engines that can detect a profile without
	// exposing its bytes.
	EmbeddedProfile bool
	EXIF            []byte
	XMP             []byte
	IPTC            []byte
	Photoshop       []byte
	Comments        []string
	Progressive     bool
	Palette         bool
	Background      []float64
	Compression     string
	Levels          int
	SubIFDs         int
	ExifFields      map[string]string
}

// HasProfile reports whether the image carries an embedded ICC profile.
func (m Meta) HasProfile() bool {
	return m.EmbeddedProfile || len(m.ICC) > 0
}

// Clone returns a deep copy so a mutation never leaks into a shared handle.
func (m Meta) Clone() Meta {
	out := m
	out.Delay = append([]int(nil), m.Delay...)
	out.ICC = append([]byte(nil), m.ICC...)
	out.EXIF = append([]byte(nil), m.EXIF...)
	out.XMP = append([]byte(nil), m.XMP...)
	out.IPTC = append([]byte(nil), m.IPTC...)
	out.Photoshop = append([]byte(nil), m.Photoshop...)
	out.Comments = append([]string(nil), m.Comments...)
	out.Background = append([]float64(nil), m.Background...)
	if m.ExifFields != nil {
		out.ExifFields = make(map[string]string, len(m.ExifFields))
		for k, v := range m.ExifFields {
			out.ExifFields[k] = v
		}
	}
	return out
}

// Image is an immutable engine handle. Every operation returns a new handle;
// Close releases the receiver and is safe to call more than once.
type Image interface {
	Width() int
	Height() int
	Bands() int
	HasAlpha() bool
	Interpretation() Interpretation
	Depth() string
	Meta() Meta
	// Offset is the position of this image within its parent after a trim
	// or content-aware crop.
	Offset() (left, top int)
	Close()
}

type Source struct {
	Buffer []byte
	Path   string
}

type LoadOptions struct {
	Type       imagetype.Type
	Page       int
	Pages      int
	Density    float64
	Level      int
	SubIFD     int
	Shrink     int
	Scale      float64
	Unlimited  bool
	Sequential bool
	FailOn     string
}

type Kernel string

const (
	KernelNearest  Kernel = "nearest"
	KernelLinear   Kernel = "linear"
	KernelCubic    Kernel = "cubic"
	KernelMitchell Kernel = "mitchell"
	KernelLanczos2 Kernel = "lanczos2"
	KernelLanczos3 Kernel = "lanczos3"
)

type Extend string

const (
	ExtendBackground Extend = "background"
	ExtendCopy       Extend = "copy"
	ExtendRepeat     Extend = "repeat"
	ExtendMirror     Extend = "mirror"
)

type Interesting string

const (
	InterestingEntropy   Interesting = "entropy"
	InterestingAttention Interesting = "attention"
)

type SmartCropResult struct {
	Left       int
	Top        int
	AttentionX int
	AttentionY int
}

type ConvolutionKernel struct {
	Width  int
	Height int
	Scale  float64
	Offset float64
	Values []float64
}

type SharpenOptions struct {
	Sigma float64
	M1    float64
	M2    float64
	X1    float64
	Y2    float64
	Y3    float64
}

type AffineOptions struct {
	Matrix       [4]float64
	Idx, Idy     float64
	Odx, Ody     float64
	Interpolator string
	Background   []float64
}

type ICCOptions struct {
	OutputProfile string
	InputProfile  string
	Embedded      bool
	Depth         int
}

type Overlay struct {
	Image Image
	Blend string
	Left  int
	Top   int
}

type TrimOptions struct {
	Background []float64
	Threshold  float64
	LineArt    bool
}

type SaveOptions struct {
	Format  imagetype.Format
	Options domain.FormatOptions
	Keep    int
}

type CacheLimits struct {
	MemoryMB int `json:"memory"`
	Files    int `json:"files"`
	Items    int `json:"items"`
}

// Loaders opens images from encoded bytes or pixel data.
type Loaders interface {
	Load(ctx context.Context, src Source, opts LoadOptions) (Image, error)
	// FromRaw wraps interleaved samples as an image.
	FromRaw(data []byte, width, height, bands int, depth string, interp Interpretation) (Image, error)
}

// Geometry covers pixel-moving operations.
type Geometry interface {
	Rot(img Image, angle geometry.Angle) (Image, error)
	Flip(img Image, horizontal bool) (Image, error)
	Rotate(img Image, degrees float64, background []float64) (Image, error)
	Affine(img Image, opts AffineOptions) (Image, error)
	FindTrim(img Image, opts TrimOptions) (left, top, width, height int, err error)
	ExtractArea(img Image, left, top, width, height int) (Image, error)
	Embed(img Image, left, top, width, height int, extend Extend, background []float64) (Image, error)
	Resize(img Image, hscale, vscale float64, kernel Kernel) (Image, error)
	SmartCrop(img Image, width, height int, interesting Interesting, premultiplied bool) (Image, SmartCropResult, error)
	Replicate(img Image, across, down int) (Image, error)
	ArrayJoin(imgs []Image, across int) (Image, error)
	Grid(img Image, tileHeight, across, down int) (Image, error)
}

// Colour covers colour-space and per-pixel operations.
type Colour interface {
	Colourspace(img Image, to Interpretation) (Image, error)
	ICCTransform(img Image, opts ICCOptions) (Image, error)
	Flatten(img Image, background []float64) (Image, error)
	Unflatten(img Image) (Image, error)
	Gamma(img Image, exponent float64) (Image, error)
	Premultiply(img Image) (Image, error)
	Unpremultiply(img Image) (Image, error)
	Cast(img Image, depth string) (Image, error)
	Linear(img Image, a, b []float64) (Image, error)
	Normalise(img Image, lower, upper int) (Image, error)
	CLAHE(img Image, width, height, maxSlope int) (Image, error)
	Tint(img Image, colour domain.Color) (Image, error)
	Modulate(img Image, brightness, saturation float64, hue int, lightness float64) (Image, error)
	Recomb(img Image, matrix []float64) (Image, error)
	Negate(img Image, alpha bool) (Image, error)
	Threshold(img Image, level int, greyscale bool) (Image, error)
}

// Filters covers neighbourhood operations.
type Filters interface {
	Median(img Image, size int) (Image, error)
	GaussBlur(img Image, sigma float64, precision string, minAmpl float64) (Image, error)
	Convolve(img Image, kernel ConvolutionKernel) (Image, error)
	Sharpen(img Image, opts SharpenOptions) (Image, error)
}

// Bands covers channel plumbing and multi-image operations.
type Bands interface {
	ExtractBand(img Image, band, n int) (Image, error)
	BandJoin(img Image, others ...Image) (Image, error)
	AddAlpha(img Image, value float64) (Image, error)
	RemoveAlpha(img Image) (Image, error)
	SetInterpretation(img Image, interp Interpretation) (Image, error)
	Boolean(img, other Image, op string) (Image, error)
	BandBool(img Image, op string) (Image, error)
	Composite(base Image, overlays []Overlay, premultiplied bool) (Image, error)
}

// Output encodes images and exposes raw samples.
type Output interface {
	SetMeta(img Image, mutate func(*Meta)) (Image, error)
	Save(ctx context.Context, img Image, opts SaveOptions) ([]byte, error)
	// Pixels returns interleaved 8-bit samples, Bands() per pixel.
	Pixels(img Image) ([]byte, error)
}

// Settings are the process-wide knobs surfaced by diagnostics.
type Settings interface {
	Name() string
	Cache() CacheLimits
	SetCache(CacheLimits)
	Concurrency() int
	SetConcurrency(int)
	Vector() bool
	SetVector(bool) bool
	Blocklist() *Blocklist
	// Capabilities reports input and output support for t.
	Capabilities(t imagetype.Type) FormatSupport
}

type FormatSupport struct {
	InputBuffer  bool `json:"input_buffer"`
	InputFile    bool `json:"input_file"`
	OutputBuffer bool `json:"output_buffer"`
	OutputFile   bool `json:"output_file"`
}

// Engine is the full capability set the pipeline drives.
type Engine interface {
	Loaders
	Geometry
	Colour
	Filters
	Bands
	Output
	Settings
}

// CloseAll releases every non-nil handle.
func CloseAll(imgs ...Image) {
	for _, img := range imgs {
		if img != nil {
			img.Close()
		}
	}
}
