// Package metadata reports what an input contains without running any
// pipeline stage over it.
package metadata

import (
	"context"
	"os"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/input"
)

type Metadata struct {
	Format      string  `json:"format"`
	Size        int64   `json:"size,omitempty"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Space       string  `json:"space"`
	Channels    int     `json:"channels"`
	Depth       string  `json:"depth"`
	Density     float64 `json:"density,omitempty"`
	Progressive bool    `json:"is_progressive"`
	Palette     bool    `json:"is_palette"`
	Compression string  `json:"compression,omitempty"`

	Pages      int   `json:"pages,omitempty"`
	PageHeight int   `json:"page_height,omitempty"`
	Loop       *int  `json:"loop,omitempty"`
	Delay      []int `json:"delay,omitempty"`
	Levels     int   `json:"levels,omitempty"`
	SubIFDs    int   `json:"subifds,omitempty"`

	Background  []float64 `json:"background,omitempty"`
	HasProfile  bool      `json:"has_profile"`
	HasAlpha    bool      `json:"has_alpha"`
	Orientation int       `json:"orientation,omitempty"`

	EXIF      []byte   `json:"exif,omitempty"`
	ICC       []byte   `json:"icc,omitempty"`
	IPTC      []byte   `json:"iptc,omitempty"`
	XMP       []byte   `json:"xmp,omitempty"`
	Photoshop []byte   `json:"tifftag_photoshop,omitempty"`
	Comments  []string `json:"comments,omitempty"`
}

type Reader struct {
	inputs *input.Resolver
}

func NewReader(inputs *input.Resolver) *Reader {
	return &Reader{inputs: inputs}
}

// Read opens the first page of spec and describes the whole input.
func (r *Reader) Read(ctx context.Context, spec domain.InputSpec) (Metadata, error) {
	if err := spec.Validate(); err != nil {
		return Metadata{}, err
	}
	first := spec
	first.Pages = 1
	opened, err := r.inputs.Open(ctx, first)
	if err != nil {
		return Metadata{}, err
	}
	defer opened.Image.Close()

	out := describe(opened.Image)
	if out.Pages > 1 && len(out.Delay) < out.Pages && opened.Type.SupportsPages() {
		out.Delay = r.delays(ctx, spec)
	}
	out.Format = opened.Type.String()
	out.Size = sourceSize(spec)
	return out, nil
}

// delays decodes every page to collect the full frame timing.
func (r *Reader) delays(ctx context.Context, spec domain.InputSpec) []int {
	all := spec
	all.Page, all.Pages = 0, -1
	opened, err := r.inputs.Open(ctx, all)
	if err != nil {
		return nil
	}
	defer opened.Image.Close()
	return opened.Image.Meta().Delay
}

func describe(img engine.Image) Metadata {
	meta := img.Meta()
	out := Metadata{
		Width:       img.Width(),
		Height:      img.Height(),
		Space:       string(img.Interpretation()),
		Channels:    img.Bands(),
		Depth:       img.Depth(),
		Density:     meta.Density,
		Progressive: meta.Progressive,
		Palette:     meta.Palette,
		Compression: meta.Compression,
		Levels:      meta.Levels,
		SubIFDs:     meta.SubIFDs,
		Background:  meta.Background,
		HasProfile:  meta.HasProfile(),
		HasAlpha:    img.HasAlpha(),
		EXIF:        meta.EXIF,
		ICC:         meta.ICC,
		IPTC:        meta.IPTC,
		XMP:         meta.XMP,
		Photoshop:   meta.Photoshop,
		Comments:    meta.Comments,
	}
	if meta.Orientation > 1 {
		out.Orientation = meta.Orientation
	}
	if meta.Pages > 1 {
		out.Pages = meta.Pages
		out.PageHeight = meta.PageHeight
		out.Delay = meta.Delay
		loop := meta.Loop
		out.Loop = &loop
	}
	return out
}

func sourceSize(spec domain.InputSpec) int64 {
	switch spec.Source() {
	case "buffer":
		return int64(len(spec.Buffer))
	case "file":
		if fi, err := os.Stat(spec.File); err == nil {
			return fi.Size()
		}
	}
	return 0
}
