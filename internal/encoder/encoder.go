// Package encoder picks the output container for a finished image, checks
// its dimension limits and writes it to a buffer, a local file or object
// storage.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

// ObjectWriter stores encoded bytes under an object key.
type ObjectWriter interface {
	WriteObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Request selects the encoder and destination.
type Request struct {
	Format    imagetype.Format
	InputType imagetype.Type
	FileOut   string
	ObjectOut string
	Options   domain.FormatOptions
	Keep      int
}

// Output is the encoded image. Data is nil for file and object destinations.
type Output struct {
	Data   []byte
	Format imagetype.Format
	Size   int64
	Path   string
	Key    string
}

type Encoder struct {
	engine  engine.Engine
	objects ObjectWriter
}

// New returns an encoder on eng. objects may be nil when object outputs are
// not configured.
func New(eng engine.Engine, objects ObjectWriter) *Encoder {
	return &Encoder{engine: eng, objects: objects}
}

// Resolve turns the requested format into a concrete encoder for this
// request. Format names the requested id or the input container when the
// request matches the input.
func Resolve(req Request) (imagetype.Format, error) {
	out := req.FileOut
	if out == "" {
		out = req.ObjectOut
	}
	return imagetype.Resolve(req.Format, out, req.InputType)
}

// CheckDimensions enforces the container's size cap against the width and
// the logical page height.
func CheckDimensions(f imagetype.Format, width, pageHeight int) error {
	limit := f.MaxDimension()
	if limit == 0 {
		return nil
	}
	if width > limit || pageHeight > limit {
		return fmt.Errorf("%w for the %s format", domain.ErrDimensionTooLarge, f.DisplayName())
	}
	return nil
}

// Encode writes img. The format must already be resolved.
func (e *Encoder) Encode(ctx context.Context, img engine.Image, f imagetype.Format, req Request) (Output, error) {
	if f == imagetype.FormatInput {
		return Output{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedOutputFormat, req.InputType)
	}
	pageHeight := img.Height()
	if meta := img.Meta(); meta.PageHeight > 0 && meta.Pages > 1 {
		pageHeight = meta.PageHeight
	}
	if err := CheckDimensions(f, img.Width(), pageHeight); err != nil {
		return Output{}, err
	}
	if f == imagetype.FormatVIPS {
		return Output{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedOutputFormat, f)
	}

	data, err := e.engine.Save(ctx, img, engine.SaveOptions{Format: f, Options: req.Options, Keep: req.Keep})
	if errors.Is(err, engine.ErrUnsupported) {
		return Output{}, fmt.Errorf("%w: %s: %v", domain.ErrUnsupportedOutputFormat, f, err)
	}
	if err != nil {
		return Output{}, err
	}

	out := Output{Format: f, Size: int64(len(data))}
	switch {
	case strings.TrimSpace(req.FileOut) != "":
		if err := writeFile(req.FileOut, data); err != nil {
			return Output{}, err
		}
		stat, err := os.Stat(req.FileOut)
		if err != nil {
			return Output{}, fmt.Errorf("stat %s: %w", req.FileOut, err)
		}
		out.Path, out.Size = req.FileOut, stat.Size()
	case strings.TrimSpace(req.ObjectOut) != "":
		if e.objects == nil {
			return Output{}, fmt.Errorf("%w: object output %q needs a storage client", domain.ErrInvalidInputSpec, req.ObjectOut)
		}
		if err := e.objects.WriteObject(ctx, req.ObjectOut, data, f.ContentType()); err != nil {
			return Output{}, err
		}
		out.Key = req.ObjectOut
	default:
		out.Data = data
	}
	return out, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
