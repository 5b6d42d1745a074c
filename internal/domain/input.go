package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultLimitInputPixels mirrors the 0x3FFF x 0x3FFF decode ceiling.
const DefaultLimitInputPixels int64 = 0x3FFF * 0x3FFF

const (
	DepthUchar  = "uchar"
	DepthUshort = "ushort"
	DepthFloat  = "float"
)

// Color is an RGBA colour with every component in 0..255.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"alpha"`
}

func Opaque(r, g, b float64) Color {
	return Color{R: r, G: g, B: b, A: 255}
}

// Transparent black, the default background of most geometry stages.
var Transparent = Color{}

func (c Color) Slice() []float64 {
	return []float64{c.R, c.G, c.B, c.A}
}

type RawSource struct {
	Data          []byte `json:"data"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Channels      int    `json:"channels"`
	Depth         string `json:"depth,omitempty"`
	Premultiplied bool   `json:"premultiplied,omitempty"`
	PageHeight    int    `json:"page_height,omitempty"`
}

type Noise struct {
	Type  string  `json:"type"`
	Mean  float64 `json:"mean"`
	Sigma float64 `json:"sigma"`
}

type CreateSource struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Channels   int    `json:"channels"`
	Background Color  `json:"background"`
	Noise      *Noise `json:"noise,omitempty"`
	PageHeight int    `json:"page_height,omitempty"`
}

type TextSource struct {
	Text     string `json:"text"`
	Font     string `json:"font,omitempty"`
	FontFile string `json:"fontfile,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Align    string `json:"align,omitempty"`
	Justify  bool   `json:"justify,omitempty"`
	DPI      int    `json:"dpi,omitempty"`
	RGBA     bool   `json:"rgba,omitempty"`
	Spacing  int    `json:"spacing,omitempty"`
	Wrap     string `json:"wrap,omitempty"`
}

// InputSpec describes one image source plus its load-time options.
// Exactly one of File, Buffer, Object, Raw, Create or Text must be set.
type InputSpec struct {
	File   string        `json:"file,omitempty"`
	Buffer []byte        `json:"buffer,omitempty"`
	Object string        `json:"object,omitempty"`
	Raw    *RawSource    `json:"raw,omitempty"`
	Create *CreateSource `json:"create,omitempty"`
	Text   *TextSource   `json:"text,omitempty"`

	Page             int     `json:"page"`
	Pages            int     `json:"pages"`
	Level            int     `json:"level"`
	SubIFD           int     `json:"subifd"`
	Density          float64 `json:"density"`
	IgnoreICC        bool    `json:"ignore_icc"`
	LimitInputPixels int64   `json:"limit_input_pixels"`
	Unlimited        bool    `json:"unlimited"`
	Sequential       bool    `json:"sequential"`
	FailOn           string  `json:"fail_on"`
}

func NewInputSpec() InputSpec {
	return InputSpec{
		Pages:            1,
		SubIFD:           -1,
		Density:          72,
		LimitInputPixels: DefaultLimitInputPixels,
		FailOn:           "warning",
	}
}

func FileInput(path string) InputSpec {
	in := NewInputSpec()
	in.File = path
	return in
}

func BufferInput(data []byte) InputSpec {
	in := NewInputSpec()
	in.Buffer = data
	return in
}

func (in *InputSpec) UnmarshalJSON(data []byte) error {
	type plain InputSpec
	p := plain(NewInputSpec())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*in = InputSpec(p)
	return nil
}

// Source names the populated source field, or "" when none is.
func (in InputSpec) Source() string {
	switch {
	case strings.TrimSpace(in.File) != "":
		return "file"
	case len(in.Buffer) > 0:
		return "buffer"
	case strings.TrimSpace(in.Object) != "":
		return "object"
	case in.Raw != nil:
		return "raw"
	case in.Create != nil:
		return "create"
	case in.Text != nil:
		return "text"
	default:
		return ""
	}
}

func (in InputSpec) IsCompressed() bool {
	switch in.Source() {
	case "file", "buffer", "object":
		return true
	}
	return false
}

func (in InputSpec) Validate() error {
	sources := 0
	if strings.TrimSpace(in.File) != "" {
		sources++
	}
	if len(in.Buffer) > 0 {
		sources++
	}
	if strings.TrimSpace(in.Object) != "" {
		sources++
	}
	if in.Raw != nil {
		sources++
	}
	if in.Create != nil {
		sources++
	}
	if in.Text != nil {
		sources++
	}
	switch {
	case sources == 0:
		return fmt.Errorf("%w: one of file, buffer, object, raw, create or text is required", ErrInvalidInputSpec)
	case sources > 1:
		return fmt.Errorf("%w: file, buffer, object, raw, create and text are mutually exclusive", ErrInvalidInputSpec)
	}

	if in.Raw != nil {
		if in.Raw.Width <= 0 || in.Raw.Height <= 0 || in.Raw.Channels <= 0 {
			return fmt.Errorf("%w: raw input requires width, height and channels > 0", ErrInvalidInputSpec)
		}
		if in.Raw.Channels > 4 {
			return fmt.Errorf("%w: raw input channels must be between 1 and 4", ErrInvalidInputSpec)
		}
		want := in.Raw.Width * in.Raw.Height * in.Raw.Channels * bytesPerSample(in.Raw.Depth)
		if len(in.Raw.Data) != want {
			return fmt.Errorf("%w: raw input expects %d bytes, got %d", ErrInvalidInputSpec, want, len(in.Raw.Data))
		}
	}
	if in.Create != nil {
		if in.Create.Width <= 0 || in.Create.Height <= 0 {
			return fmt.Errorf("%w: create input requires width and height > 0", ErrInvalidInputSpec)
		}
		if in.Create.Channels != 3 && in.Create.Channels != 4 {
			return fmt.Errorf("%w: create input channels must be 3 or 4", ErrInvalidInputSpec)
		}
		if in.Create.Noise != nil && in.Create.Noise.Type != "gaussian" {
			return fmt.Errorf("%w: unsupported noise type %q", ErrInvalidInputSpec, in.Create.Noise.Type)
		}
	}
	if in.Text != nil {
		if strings.TrimSpace(in.Text.Text) == "" {
			return fmt.Errorf("%w: text input requires text", ErrInvalidInputSpec)
		}
		if in.Text.Width < 0 || in.Text.Height < 0 || in.Text.DPI < 0 {
			return fmt.Errorf("%w: text width, height and dpi must be non-negative", ErrInvalidInputSpec)
		}
	}

	if in.Page < 0 {
		return fmt.Errorf("%w: page must be >= 0", ErrInvalidInputSpec)
	}
	if in.Pages == 0 || in.Pages < -1 {
		return fmt.Errorf("%w: pages must be -1 or >= 1", ErrInvalidInputSpec)
	}
	if in.SubIFD < -1 {
		return fmt.Errorf("%w: subifd must be >= -1", ErrInvalidInputSpec)
	}
	if in.Density <= 0 || in.Density > 100000 {
		return fmt.Errorf("%w: density must be between 1 and 100000", ErrInvalidInputSpec)
	}
	if in.LimitInputPixels < 0 {
		return fmt.Errorf("%w: limit_input_pixels must be >= 0", ErrInvalidInputSpec)
	}
	return nil
}

func bytesPerSample(depth string) int {
	switch depth {
	case DepthUshort:
		return 2
	case DepthFloat:
		return 4
	default:
		return 1
	}
}
