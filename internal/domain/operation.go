package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/geometry"
)

const (
	KeepExif = 1 << iota
	KeepICC
	KeepIPTC
	KeepXMP
	KeepOther

	KeepAll = KeepExif | KeepICC | KeepIPTC | KeepXMP | KeepOther
)

// BlurFast selects the 3x3 box blur instead of a gaussian.
const BlurFast = -1.0

// SharpenFast selects the 3x3 sharpen kernel instead of unsharp masking.
const SharpenFast = -1.0

type Composite struct {
	Input         InputSpec        `json:"input"`
	Blend         string           `json:"blend"`
	Gravity       geometry.Gravity `json:"gravity"`
	Left          int              `json:"left"`
	Top           int              `json:"top"`
	HasOffset     bool             `json:"has_offset"`
	Tile          bool             `json:"tile"`
	Premultiplied bool             `json:"premultiplied"`
}

func (c *Composite) UnmarshalJSON(data []byte) error {
	type plain Composite
	p := plain{Input: NewInputSpec(), Blend: "over", Left: -1, Top: -1}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Composite(p)
	return nil
}

type BooleanOperand struct {
	Input InputSpec `json:"input"`
	Op    string    `json:"op"`
}

type ConvolutionKernel struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Scale  float64   `json:"scale"`
	Offset float64   `json:"offset"`
	Values []float64 `json:"kernel"`
}

type CLAHE struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	MaxSlope int `json:"max_slope"`
}

// Operation is the full declarative request: one input, the optional
// adjustments in processing order and the output encoder selection.
// Geometry fields use -1 for "unset".
type Operation struct {
	Input       InputSpec       `json:"input"`
	Composite   []Composite     `json:"composite,omitempty"`
	JoinChannel []InputSpec     `json:"join_channel,omitempty"`
	Boolean     *BooleanOperand `json:"boolean,omitempty"`

	TopOffsetPre  int `json:"top_offset_pre"`
	LeftOffsetPre int `json:"left_offset_pre"`
	WidthPre      int `json:"width_pre"`
	HeightPre     int `json:"height_pre"`

	TopOffsetPost  int `json:"top_offset_post"`
	LeftOffsetPost int `json:"left_offset_post"`
	WidthPost      int `json:"width_post"`
	HeightPost     int `json:"height_post"`

	Width              int              `json:"width"`
	Height             int              `json:"height"`
	Canvas             geometry.Canvas  `json:"canvas"`
	Position           geometry.Gravity `json:"position"`
	Kernel             string           `json:"kernel"`
	FastShrinkOnLoad   bool             `json:"fast_shrink_on_load"`
	WithoutEnlargement bool             `json:"without_enlargement"`
	WithoutReduction   bool             `json:"without_reduction"`
	ResizeBackground   Color            `json:"resize_background"`

	TrimThreshold  float64 `json:"trim_threshold"`
	TrimBackground *Color  `json:"trim_background,omitempty"`
	TrimLineArt    bool    `json:"trim_line_art"`

	UseExifOrientation     bool    `json:"use_exif_orientation"`
	Angle                  int     `json:"angle"`
	RotationAngle          float64 `json:"rotation_angle"`
	RotationBackground     Color   `json:"rotation_background"`
	RotateBeforePreExtract bool    `json:"rotate_before_pre_extract"`
	Flip                   bool    `json:"flip"`
	Flop                   bool    `json:"flop"`

	Affine             []float64 `json:"affine,omitempty"`
	AffineIdx          float64   `json:"affine_idx"`
	AffineIdy          float64   `json:"affine_idy"`
	AffineOdx          float64   `json:"affine_odx"`
	AffineOdy          float64   `json:"affine_ody"`
	AffineInterpolator string    `json:"affine_interpolator"`
	AffineBackground   Color     `json:"affine_background"`

	ExtendTop        int    `json:"extend_top"`
	ExtendBottom     int    `json:"extend_bottom"`
	ExtendLeft       int    `json:"extend_left"`
	ExtendRight      int    `json:"extend_right"`
	ExtendWith       string `json:"extend_with"`
	ExtendBackground Color  `json:"extend_background"`

	Flatten           bool  `json:"flatten"`
	FlattenBackground Color `json:"flatten_background"`
	Unflatten         bool  `json:"unflatten"`

	Gamma     float64 `json:"gamma"`
	GammaOut  float64 `json:"gamma_out"`
	Greyscale bool    `json:"greyscale"`

	MedianSize         int     `json:"median_size"`
	Threshold          int     `json:"threshold"`
	ThresholdGreyscale bool    `json:"threshold_greyscale"`
	BlurSigma          float64 `json:"blur_sigma"`
	Precision          string  `json:"precision"`
	MinAmpl            float64 `json:"min_ampl"`

	Convolution *ConvolutionKernel `json:"convolution,omitempty"`
	Recomb      []float64          `json:"recomb,omitempty"`

	Brightness float64 `json:"brightness"`
	Saturation float64 `json:"saturation"`
	Hue        int     `json:"hue"`
	Lightness  float64 `json:"lightness"`

	SharpenSigma float64 `json:"sharpen_sigma"`
	SharpenM1    float64 `json:"sharpen_m1"`
	SharpenM2    float64 `json:"sharpen_m2"`
	SharpenX1    float64 `json:"sharpen_x1"`
	SharpenY2    float64 `json:"sharpen_y2"`
	SharpenY3    float64 `json:"sharpen_y3"`

	LinearA        []float64 `json:"linear_a,omitempty"`
	LinearB        []float64 `json:"linear_b,omitempty"`
	Normalise      bool      `json:"normalise"`
	NormaliseLower int       `json:"normalise_lower"`
	NormaliseUpper int       `json:"normalise_upper"`
	CLAHE          *CLAHE    `json:"clahe,omitempty"`
	BandBoolOp     string    `json:"bandbool_op,omitempty"`
	Tint           *Color    `json:"tint,omitempty"`

	RemoveAlpha bool    `json:"remove_alpha"`
	EnsureAlpha float64 `json:"ensure_alpha"`

	ColourspacePipeline string `json:"colourspace_pipeline"`
	Colourspace         string `json:"colourspace"`
	ExtractChannel      int    `json:"extract_channel"`

	Negate      bool `json:"negate"`
	NegateAlpha bool `json:"negate_alpha"`

	KeepMetadata            int               `json:"keep_metadata"`
	WithMetadataOrientation int               `json:"with_metadata_orientation"`
	WithMetadataDensity     float64           `json:"with_metadata_density"`
	WithExif                map[string]string `json:"with_exif,omitempty"`
	WithExifMerge           bool              `json:"with_exif_merge"`
	WithICCProfile          string            `json:"with_icc_profile,omitempty"`

	Delay []int `json:"delay,omitempty"`
	Loop  int   `json:"loop"`

	Format    string        `json:"format"`
	FileOut   string        `json:"file_out,omitempty"`
	ObjectOut string        `json:"object_out,omitempty"`
	Options   FormatOptions `json:"options"`

	TimeoutSeconds int `json:"timeout_seconds"`
}

// NewOperation returns an operation with every sentinel at its unset value.
func NewOperation() Operation {
	return Operation{
		Input:                   NewInputSpec(),
		TopOffsetPre:            -1,
		LeftOffsetPre:           -1,
		WidthPre:                -1,
		HeightPre:               -1,
		TopOffsetPost:           -1,
		LeftOffsetPost:          -1,
		WidthPost:               -1,
		HeightPost:              -1,
		Width:                   -1,
		Height:                  -1,
		Canvas:                  geometry.CanvasCrop,
		Position:                geometry.GravityCentre,
		Kernel:                  "lanczos3",
		ResizeBackground:        Opaque(0, 0, 0),
		TrimThreshold:           -1,
		RotationBackground:      Opaque(0, 0, 0),
		AffineInterpolator:      "bicubic",
		AffineBackground:        Opaque(0, 0, 0),
		ExtendWith:              "background",
		ExtendBackground:        Opaque(0, 0, 0),
		FlattenBackground:       Opaque(0, 0, 0),
		Precision:               "integer",
		MinAmpl:                 0.2,
		Brightness:              1,
		Saturation:              1,
		SharpenM1:               1,
		SharpenM2:               2,
		SharpenX1:               2,
		SharpenY2:               10,
		SharpenY3:               20,
		NormaliseLower:          1,
		NormaliseUpper:          99,
		EnsureAlpha:             -1,
		Colourspace:             "srgb",
		ExtractChannel:          -1,
		WithMetadataOrientation: -1,
		Loop:                    -1,
		Format:                  "input",
		Options:                 DefaultFormatOptions(),
	}
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	type plain Operation
	p := plain(NewOperation())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = Operation(p)
	return nil
}

// Normalize rewrites alias and mixed-case names to their canonical form so
// later stages can compare against the named constants.
func (o *Operation) Normalize() error {
	canvas, err := geometry.ParseCanvas(string(o.Canvas))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInputSpec, err)
	}
	o.Canvas = canvas
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = "input"
	}
	return nil
}

// HasTarget reports whether a resize target was requested on either axis.
func (o Operation) HasTarget() bool {
	return o.Width > 0 || o.Height > 0
}

func (o Operation) Validate() error {
	if err := o.Input.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	for i, c := range o.Composite {
		if err := c.Input.Validate(); err != nil {
			return fmt.Errorf("composite[%d]: %w", i, err)
		}
	}
	for i, in := range o.JoinChannel {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("join_channel[%d]: %w", i, err)
		}
	}
	if o.Boolean != nil {
		if err := o.Boolean.Input.Validate(); err != nil {
			return fmt.Errorf("boolean: %w", err)
		}
		if !validBooleanOp(o.Boolean.Op) {
			return fmt.Errorf("%w: unknown boolean op %q", ErrInvalidInputSpec, o.Boolean.Op)
		}
	}

	if err := validRegion("pre", o.LeftOffsetPre, o.TopOffsetPre, o.WidthPre, o.HeightPre); err != nil {
		return err
	}
	if err := validRegion("post", o.LeftOffsetPost, o.TopOffsetPost, o.WidthPost, o.HeightPost); err != nil {
		return err
	}
	if o.Width < -1 || o.Width == 0 || o.Height < -1 || o.Height == 0 {
		return fmt.Errorf("%w: width and height must be positive or -1", ErrInvalidInputSpec)
	}
	if _, err := geometry.ParseCanvas(string(o.Canvas)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInputSpec, err)
	}
	if o.Position < 0 || (o.Position > geometry.GravityNorthWest && !validStrategy(o.Position)) {
		return fmt.Errorf("%w: unknown position %d", ErrInvalidInputSpec, o.Position)
	}
	if o.WithoutEnlargement && o.WithoutReduction {
		return fmt.Errorf("%w: without_enlargement and without_reduction are mutually exclusive", ErrInvalidInputSpec)
	}
	if o.ExtendTop < 0 || o.ExtendBottom < 0 || o.ExtendLeft < 0 || o.ExtendRight < 0 {
		return fmt.Errorf("%w: extend values must be non-negative", ErrInvalidInputSpec)
	}
	if len(o.Affine) != 0 && len(o.Affine) != 4 {
		return fmt.Errorf("%w: affine matrix must have 4 values", ErrInvalidInputSpec)
	}
	if o.Convolution != nil {
		k := o.Convolution
		if k.Width <= 0 || k.Height <= 0 || len(k.Values) != k.Width*k.Height {
			return fmt.Errorf("%w: convolution kernel must have width*height values", ErrInvalidInputSpec)
		}
	}
	if len(o.Recomb) != 0 && len(o.Recomb) != 9 && len(o.Recomb) != 16 {
		return fmt.Errorf("%w: recomb matrix must be 3x3 or 4x4", ErrInvalidInputSpec)
	}
	if len(o.LinearA) != len(o.LinearB) {
		return fmt.Errorf("%w: linear a and b must have the same length", ErrInvalidInputSpec)
	}
	if o.BandBoolOp != "" && !validBooleanOp(o.BandBoolOp) {
		return fmt.Errorf("%w: unknown bandbool op %q", ErrInvalidInputSpec, o.BandBoolOp)
	}
	if o.MedianSize < 0 || o.Threshold < 0 || o.Threshold > 255 {
		return fmt.Errorf("%w: median size and threshold out of range", ErrInvalidInputSpec)
	}
	if o.NormaliseLower < 0 || o.NormaliseUpper > 100 || o.NormaliseLower >= o.NormaliseUpper {
		return fmt.Errorf("%w: normalise bounds must satisfy 0 <= lower < upper <= 100", ErrInvalidInputSpec)
	}
	if o.ExtractChannel < -1 {
		return fmt.Errorf("%w: extract_channel must be >= -1", ErrInvalidInputSpec)
	}
	if o.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout_seconds must be >= 0", ErrInvalidInputSpec)
	}
	if strings.TrimSpace(o.FileOut) != "" && strings.TrimSpace(o.ObjectOut) != "" {
		return fmt.Errorf("%w: file_out and object_out are mutually exclusive", ErrInvalidInputSpec)
	}
	return nil
}

func validRegion(name string, left, top, width, height int) error {
	if top == -1 && left == -1 && width == -1 && height == -1 {
		return nil
	}
	if top < 0 || left < 0 || width <= 0 || height <= 0 {
		return fmt.Errorf("%w: extract %s region must have non-negative offsets and positive size", ErrInvalidInputSpec, name)
	}
	return nil
}

func validStrategy(g geometry.Gravity) bool {
	return g == geometry.StrategyEntropy || g == geometry.StrategyAttention
}

func validBooleanOp(op string) bool {
	switch op {
	case "and", "or", "eor":
		return true
	}
	return false
}
