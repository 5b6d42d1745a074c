package pipeline

import (
	"math"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/frames"
	"github.com/dunamismax/pixelpipe/internal/geometry"
)

// composite lays every overlay over the image in the order given. Stacked
// frames each receive the overlay.
func composite(e env, s state) (state, error) {
	if len(e.op.Composite) == 0 {
		return s, nil
	}
	if s.img.Bands() <= 2 {
		if err := s.set(e.engine.Colourspace(s.img, engine.InterpretationSRGB)); err != nil {
			return s, err
		}
	}
	if !s.img.HasAlpha() {
		if err := s.set(e.engine.AddAlpha(s.img, 255)); err != nil {
			return s, err
		}
	}
	for _, c := range e.op.Composite {
		if err := s.overlay(e, c); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (s *state) overlay(e env, c domain.Composite) error {
	in := c.Input
	if c.Premultiplied && in.Raw != nil {
		raw := *in.Raw
		raw.Premultiplied = true
		in.Raw = &raw
	}
	opened, err := e.inputs.Open(e.ctx, in)
	if err != nil {
		return err
	}
	img := opened.Image
	defer func() { img.Close() }()

	replace := func(next engine.Image, err error) error {
		if err != nil {
			return err
		}
		img.Close()
		img = next
		return nil
	}
	if img.Bands() <= 2 {
		if err := replace(e.engine.Colourspace(img, engine.InterpretationSRGB)); err != nil {
			return err
		}
	}
	if !img.HasAlpha() {
		if err := replace(e.engine.AddAlpha(img, 255)); err != nil {
			return err
		}
	}

	width, height := s.img.Width(), s.pageHeight
	gravity := c.Gravity
	if c.Tile {
		tiled, err := tile(e.engine, img, width, height, c)
		if err := replace(tiled, err); err != nil {
			return err
		}
		gravity = geometry.GravityCentre
	}

	var left, top int
	switch {
	case c.HasOffset && c.Tile:
		left, top = geometry.CalculateCropOffset(width, height, img.Width(), img.Height(), c.Left, c.Top)
	case c.HasOffset:
		left, top = c.Left, c.Top
	default:
		left, top = geometry.CalculateCrop(width, height, img.Width(), img.Height(), gravity)
	}

	blend := c.Blend
	if blend == "" {
		blend = "over"
	}
	layer := []engine.Overlay{{Image: img, Blend: blend, Left: left, Top: top}}
	return s.setPaged(frames.Map(e.engine, s.img, s.pageHeight, func(page engine.Image) (engine.Image, error) {
		return e.engine.Composite(page, layer, false)
	}))
}

// tile replicates overlay to cover a width x height frame and trims the
// repeat so the pattern lines up with the gravity. Axes the gravity centres
// on get an odd tile count so a tile sits exactly in the middle.
func tile(eng engine.Engine, overlay engine.Image, width, height int, c domain.Composite) (engine.Image, error) {
	across, down := 0, 0
	if overlay.Width() <= width {
		across = int(math.Ceil(float64(width) / float64(overlay.Width())))
		switch c.Gravity {
		case geometry.GravityCentre, geometry.GravityNorth, geometry.GravitySouth:
			across |= 1
		}
	}
	if overlay.Height() <= height {
		down = int(math.Ceil(float64(height) / float64(overlay.Height())))
		switch c.Gravity {
		case geometry.GravityCentre, geometry.GravityEast, geometry.GravityWest:
			down |= 1
		}
	}
	if across == 0 && down == 0 {
		return eng.Replicate(overlay, 1, 1)
	}
	tiled, err := eng.Replicate(overlay, max(1, across), max(1, down))
	if err != nil {
		return nil, err
	}
	defer tiled.Close()

	var left, top int
	if c.HasOffset {
		left, top = geometry.CalculateCropOffset(tiled.Width(), tiled.Height(), width, height, c.Left, c.Top)
	} else {
		left, top = geometry.CalculateCrop(tiled.Width(), tiled.Height(), width, height, c.Gravity)
	}
	return eng.ExtractArea(tiled, left, top, tiled.Width()-left, tiled.Height()-top)
}
