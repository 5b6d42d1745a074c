// Package frames applies geometry to multi-page images stored as a single
// column of stacked pages. Every function returns the new page height and
// stamps it on the result's metadata.
package frames

import (
	"fmt"

	"github.com/dunamismax/pixelpipe/internal/engine"
)

// Pages is the number of pages of pageHeight in img, or 1 when the height is
// not an exact multiple.
func Pages(img engine.Image, pageHeight int) int {
	if pageHeight <= 0 || img.Height()%pageHeight != 0 {
		return 1
	}
	return img.Height() / pageHeight
}

// Split returns one image per page. The caller owns the frames.
func Split(eng engine.Engine, img engine.Image, pageHeight int) ([]engine.Image, error) {
	n := Pages(img, pageHeight)
	if n == 1 {
		pageHeight = img.Height()
	}
	out := make([]engine.Image, 0, n)
	for i := 0; i < n; i++ {
		frame, err := eng.ExtractArea(img, 0, i*pageHeight, img.Width(), pageHeight)
		if err != nil {
			engine.CloseAll(out...)
			return nil, fmt.Errorf("split page %d: %w", i, err)
		}
		out = append(out, frame)
	}
	return out, nil
}

// Join stacks frames into one column in order and records their height as
// the page height. All frames must share the same dimensions.
func Join(eng engine.Engine, frames []engine.Image) (engine.Image, int, error) {
	if len(frames) == 0 {
		return nil, 0, fmt.Errorf("join: no frames")
	}
	w, h := frames[0].Width(), frames[0].Height()
	for i, f := range frames[1:] {
		if f.Width() != w || f.Height() != h {
			return nil, 0, fmt.Errorf("join: frame %d is %dx%d, want %dx%d", i+1, f.Width(), f.Height(), w, h)
		}
	}
	joined, err := eng.ArrayJoin(frames, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("join: %w", err)
	}
	return stamp(eng, joined, h, len(frames))
}

// Map applies fn to every page independently and rejoins the results.
func Map(eng engine.Engine, img engine.Image, pageHeight int, fn func(engine.Image) (engine.Image, error)) (engine.Image, int, error) {
	if Pages(img, pageHeight) == 1 {
		out, err := fn(img)
		if err != nil {
			return nil, 0, err
		}
		return out, out.Height(), nil
	}
	pages, err := Split(eng, img, pageHeight)
	if err != nil {
		return nil, 0, err
	}
	defer engine.CloseAll(pages...)
	done := make([]engine.Image, 0, len(pages))
	defer func() { engine.CloseAll(done...) }()
	for _, page := range pages {
		out, err := fn(page)
		if err != nil {
			return nil, 0, err
		}
		done = append(done, out)
	}
	return Join(eng, done)
}

// Crop extracts the same rectangle from every page.
func Crop(eng engine.Engine, img engine.Image, pageHeight, left, top, width, height int) (engine.Image, int, error) {
	n := Pages(img, pageHeight)
	if n == 1 {
		out, err := eng.ExtractArea(img, left, top, width, height)
		if err != nil {
			return nil, 0, err
		}
		return out, height, nil
	}
	if top == 0 && height == pageHeight {
		out, err := eng.ExtractArea(img, left, 0, width, img.Height())
		if err != nil {
			return nil, 0, err
		}
		return stamp(eng, out, pageHeight, n)
	}
	return Map(eng, img, pageHeight, func(page engine.Image) (engine.Image, error) {
		return eng.ExtractArea(page, left, top, width, height)
	})
}

// Embed places every page at (left, top) on a width x height canvas.
func Embed(eng engine.Engine, img engine.Image, pageHeight, left, top, width, height int, extend engine.Extend, background []float64) (engine.Image, int, error) {
	n := Pages(img, pageHeight)
	if n == 1 {
		out, err := eng.Embed(img, left, top, width, height, extend, background)
		if err != nil {
			return nil, 0, err
		}
		return out, height, nil
	}
	if top == 0 && height == pageHeight {
		out, err := eng.Embed(img, left, 0, width, img.Height(), extend, background)
		if err != nil {
			return nil, 0, err
		}
		return stamp(eng, out, pageHeight, n)
	}
	if left == 0 && width == img.Width() {
		// Lay the pages side by side, grow the strip once, then cut it
		// back into pages.
		wide, err := eng.Grid(img, pageHeight, n, 1)
		if err != nil {
			return nil, 0, err
		}
		defer wide.Close()
		grown, err := eng.Embed(wide, 0, top, wide.Width(), height, extend, background)
		if err != nil {
			return nil, 0, err
		}
		defer grown.Close()
		pages := make([]engine.Image, 0, n)
		defer func() { engine.CloseAll(pages...) }()
		for i := 0; i < n; i++ {
			page, err := eng.ExtractArea(grown, width*i, 0, width, height)
			if err != nil {
				return nil, 0, err
			}
			pages = append(pages, page)
		}
		return Join(eng, pages)
	}
	return Map(eng, img, pageHeight, func(page engine.Image) (engine.Image, error) {
		return eng.Embed(page, left, top, width, height, extend, background)
	})
}

func stamp(eng engine.Engine, img engine.Image, pageHeight, pages int) (engine.Image, int, error) {
	out, err := eng.SetMeta(img, func(m *engine.Meta) {
		m.PageHeight, m.Pages = pageHeight, pages
	})
	img.Close()
	if err != nil {
		return nil, 0, err
	}
	return out, pageHeight, nil
}
