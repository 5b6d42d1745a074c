package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/encoder"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/geometry"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"github.com/dunamismax/pixelpipe/internal/input"
)

// Warning is a recovered condition. It is reported with the result and
// never halts the run.
type Warning struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Result is a successful run: the encoded bytes (nil for file and object
// outputs), the output description and any recovered warnings.
type Result struct {
	Data     []byte
	Info     domain.Info
	Warnings []Warning
}

// env is everything a stage may read but never changes.
type env struct {
	ctx     context.Context
	engine  engine.Engine
	inputs  *input.Resolver
	encoder *encoder.Encoder
	op      domain.Operation
	// requested is the parsed output format, possibly FormatInput.
	requested imagetype.Format
}

func (e env) encodeRequest(inputType imagetype.Type) encoder.Request {
	return encoder.Request{
		Format:    e.requested,
		InputType: inputType,
		FileOut:   e.op.FileOut,
		ObjectOut: e.op.ObjectOut,
		Options:   e.op.Options,
		Keep:      e.op.KeepMetadata,
	}
}

type orientation struct {
	rotate     geometry.Angle
	flip, flop bool
}

// state is the value threaded through the stage list. Every stage receives
// the previous state and returns the next one.
type state struct {
	img        engine.Image
	inputType  imagetype.Type
	autofitDPI int

	// pageHeight is the logical frame height; pages frames of it make up
	// the image.
	pageHeight int
	pages      int

	auto       orientation
	autoRotate bool
	rotate     geometry.Angle
	rotatedPre bool

	hshrink, vshrink float64
	// loadShrink and loadScale record the decode-time reduction so content
	// coordinates can be mapped back to the original resolution.
	loadShrink int
	loadScale  float64

	// profile is the working ICC profile: "p3" for 16-bit input, else "srgb".
	profile      string
	inputProfile []byte

	premultiplied bool
	premulDepth   string

	cropLeft, cropTop *int
	attentionX        *int
	attentionY        *int
	trimLeft, trimTop *int

	// format is the concrete output format, resolved as soon as the input
	// type is known.
	format imagetype.Format
	output encoder.Output

	warnings []Warning
}

// set replaces the current image with next, releasing the old handle. The
// state is left untouched when err is non-nil.
func (s *state) set(next engine.Image, err error) error {
	if err != nil {
		return err
	}
	if s.img != nil && s.img != next {
		s.img.Close()
	}
	s.img = next
	return nil
}

// setPaged is set for page-aware helpers that also report the new frame
// height.
func (s *state) setPaged(next engine.Image, pageHeight int, err error) error {
	if err := s.set(next, err); err != nil {
		return err
	}
	s.pageHeight = pageHeight
	s.pages = max(1, next.Height()/max(1, pageHeight))
	return nil
}

// with is set on a copy of s, for stages that finish by replacing the
// image.
func (s state) with(next engine.Image, err error) (state, error) {
	err = s.set(next, err)
	return s, err
}

func (s state) withPaged(next engine.Image, pageHeight int, err error) (state, error) {
	err = s.setPaged(next, pageHeight, err)
	return s, err
}

func (s *state) warn(stage, format string, args ...any) {
	s.warnings = append(s.warnings, Warning{Stage: stage, Message: fmt.Sprintf(format, args...)})
}

func (s state) multiPage() bool {
	return s.pages > 1
}

// notForMultiPage is the fatal error raised by stages that cannot work on
// stacked frames.
func notForMultiPage(op string) error {
	return fmt.Errorf("%s is %w", op, domain.ErrMultiPageUnsupported)
}

func intPtr(v int) *int {
	return &v
}
