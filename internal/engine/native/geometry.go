package native

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/geometry"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// lanczos2 is not among imaging's built-in filters.
var lanczos2 = imaging.ResampleFilter{
	Support: 2.0,
	Kernel: func(x float64) float64 {
		x = math.Abs(x)
		if x < 2.0 {
			return sinc(x) * sinc(x/2.0)
		}
		return 0
	},
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func resampleFilter(k engine.Kernel) imaging.ResampleFilter {
	switch k {
	case engine.KernelNearest:
		return imaging.NearestNeighbor
	case engine.KernelLinear:
		return imaging.Linear
	case engine.KernelCubic:
		return imaging.CatmullRom
	case engine.KernelMitchell:
		return imaging.MitchellNetravali
	case engine.KernelLanczos2:
		return lanczos2
	}
	return imaging.Lanczos
}

func (e *Engine) Rot(img engine.Image, angle geometry.Angle) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	var out *image.NRGBA
	switch angle {
	case geometry.Angle0:
		return derive(h, clone(h.pix)), nil
	case geometry.Angle90:
		out = imaging.Rotate270(h.pix)
	case geometry.Angle180:
		out = imaging.Rotate180(h.pix)
	case geometry.Angle270:
		out = imaging.Rotate90(h.pix)
	default:
		return nil, fmt.Errorf("rot: invalid angle %d", angle)
	}
	return derive(h, out), nil
}

func (e *Engine) Flip(img engine.Image, horizontal bool) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if horizontal {
		return derive(h, imaging.FlipH(h.pix)), nil
	}
	return derive(h, imaging.FlipV(h.pix)), nil
}

// Rotate turns the image clockwise by an arbitrary angle, growing the canvas
// to hold the result and filling the corners with background.
func (e *Engine) Rotate(img engine.Image, degrees float64, background []float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	px := fill(background, h.bands)
	out := imaging.Rotate(h.pix, -degrees, nrgba(px))
	return derive(h, normalise(out, h.bands)), nil
}

func (e *Engine) Affine(img engine.Image, opts engine.AffineOptions) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	a, b, c, d := opts.Matrix[0], opts.Matrix[1], opts.Matrix[2], opts.Matrix[3]
	w, ht := float64(h.Width()), float64(h.Height())
	corners := [][2]float64{{0, 0}, {w, 0}, {0, ht}, {w, ht}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range corners {
		x := a*(p[0]+opts.Idx) + b*(p[1]+opts.Idy)
		y := c*(p[0]+opts.Idx) + d*(p[1]+opts.Idy)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	outW := max(1, int(math.Ceil(maxX-minX)))
	outH := max(1, int(math.Ceil(maxY-minY)))

	px := fill(opts.Background, h.bands)
	dst := newPix(outW, outH)
	draw.Draw(dst, dst.Bounds(), image.NewUniform(nrgba(px)), image.Point{}, draw.Src)
	m := f64.Aff3{
		a, b, a*opts.Idx + b*opts.Idy - minX + opts.Odx,
		c, d, c*opts.Idx + d*opts.Idy - minY + opts.Ody,
	}
	interpolator(opts.Interpolator).Transform(dst, m, h.pix, h.pix.Bounds(), xdraw.Over, nil)
	return derive(h, normalise(dst, h.bands)), nil
}

func interpolator(name string) xdraw.Transformer {
	switch name {
	case "nearest":
		return xdraw.NearestNeighbor
	case "bilinear":
		return xdraw.ApproxBiLinear
	case "bicubic", "lbb", "nohalo", "vsqbs":
		return xdraw.CatmullRom
	}
	return xdraw.BiLinear
}

// FindTrim returns the bounding box of pixels that differ from the
// background by more than the threshold on any band.
func (e *Engine) FindTrim(img engine.Image, opts engine.TrimOptions) (int, int, int, int, error) {
	h, err := asHandle(img)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	bg := [4]uint8{h.pix.Pix[0], h.pix.Pix[1], h.pix.Pix[2], h.pix.Pix[3]}
	if len(opts.Background) > 0 {
		bg = fill(opts.Background, h.bands)
	}
	threshold := opts.Threshold
	w, ht := h.Width(), h.Height()
	left, top, right, bottom := w, ht, -1, -1
	for y := 0; y < ht; y++ {
		for x := 0; x < w; x++ {
			i := h.pix.PixOffset(x, y)
			if !differs(h.pix.Pix[i:i+4], bg, threshold, opts.LineArt) {
				continue
			}
			left, right = min(left, x), max(right, x)
			top, bottom = min(top, y), max(bottom, y)
		}
	}
	if right < 0 {
		return 0, 0, w, ht, nil
	}
	return left, top, right - left + 1, bottom - top + 1, nil
}

func differs(px []uint8, bg [4]uint8, threshold float64, lineArt bool) bool {
	for c := 0; c < 4; c++ {
		d := float64(px[c]) - float64(bg[c])
		if lineArt && d > 0 {
			continue
		}
		if math.Abs(d) > threshold {
			return true
		}
	}
	return false
}

func (e *Engine) ExtractArea(img engine.Image, left, top, width, height int) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 || left < 0 || top < 0 || left+width > h.Width() || top+height > h.Height() {
		return nil, fmt.Errorf("extract_area: bad extract area %d,%d %dx%d in %dx%d", left, top, width, height, h.Width(), h.Height())
	}
	out := newPix(width, height)
	for y := 0; y < height; y++ {
		src := h.pix.PixOffset(left, top+y)
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], h.pix.Pix[src:src+width*4])
	}
	res := derive(h, out)
	res.left, res.top = h.left, h.top
	return res, nil
}

func (e *Engine) Embed(img engine.Image, left, top, width, height int, extend engine.Extend, background []float64) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("embed: bad size %dx%d", width, height)
	}
	sw, sh := h.Width(), h.Height()
	out := newPix(width, height)
	px := fill(background, h.bands)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy := x-left, y-top
			inside := sx >= 0 && sy >= 0 && sx < sw && sy < sh
			d := out.PixOffset(x, y)
			if !inside {
				switch extend {
				case engine.ExtendCopy:
					sx, sy = clampInt(sx, 0, sw-1), clampInt(sy, 0, sh-1)
				case engine.ExtendRepeat:
					sx, sy = wrap(sx, sw), wrap(sy, sh)
				case engine.ExtendMirror:
					sx, sy = mirror(sx, sw), mirror(sy, sh)
				default:
					copy(out.Pix[d:d+4], px[:])
					continue
				}
			}
			s := h.pix.PixOffset(sx, sy)
			copy(out.Pix[d:d+4], h.pix.Pix[s:s+4])
		}
	}
	return derive(h, out), nil
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

func mirror(v, n int) int {
	period := 2 * n
	v = wrap(v, period)
	if v >= n {
		v = period - 1 - v
	}
	return v
}

// Resize scales by the reciprocal shrink factors; hscale and vscale are
// output/input ratios.
func (e *Engine) Resize(img engine.Image, hscale, vscale float64, kernel engine.Kernel) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	w := max(1, int(math.Round(float64(h.Width())*hscale)))
	ht := max(1, int(math.Round(float64(h.Height())*vscale)))
	if w == h.Width() && ht == h.Height() {
		return derive(h, clone(h.pix)), nil
	}
	if h.premul {
		dst := image.NewRGBA(image.Rect(0, 0, w, ht))
		scaler(kernel).Scale(dst, dst.Bounds(), h.image(), h.pix.Bounds(), xdraw.Src, nil)
		return derive(h, normalise(storage(dst, true), h.bands)), nil
	}
	out := imaging.Resize(h.pix, w, ht, resampleFilter(kernel))
	return derive(h, normalise(out, h.bands)), nil
}

// scaler resamples premultiplied samples directly, without the alpha
// weighting imaging applies to straight alpha.
func scaler(k engine.Kernel) xdraw.Scaler {
	if k == engine.KernelNearest {
		return xdraw.NearestNeighbor
	}
	f := resampleFilter(k)
	return &xdraw.Kernel{Support: f.Support, At: f.Kernel}
}

func (e *Engine) SmartCrop(img engine.Image, width, height int, interesting engine.Interesting, premultiplied bool) (engine.Image, engine.SmartCropResult, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, engine.SmartCropResult{}, err
	}
	width, height = min(width, h.Width()), min(height, h.Height())
	score := entropyMap(h)
	if interesting == engine.InterestingAttention {
		score = attentionMap(h)
	}
	left, top := bestWindow(score, h.Width(), h.Height(), width, height)

	cropped, err := e.ExtractArea(h, left, top, width, height)
	if err != nil {
		return nil, engine.SmartCropResult{}, err
	}
	out := cropped.(*handle)
	out.left, out.top = left, top
	res := engine.SmartCropResult{Left: left, Top: top}
	if interesting == engine.InterestingAttention {
		res.AttentionX, res.AttentionY = centroid(score, h.Width(), h.Height())
	}
	return out, res, nil
}

// bestWindow slides a width x height window over score using a summed
// area table and returns the highest-scoring top-left corner. Ties keep the
// window closest to the centre.
func bestWindow(score []float64, w, h, cw, ch int) (int, int) {
	sat := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		row := 0.0
		for x := 0; x < w; x++ {
			row += score[y*w+x]
			sat[(y+1)*(w+1)+x+1] = sat[y*(w+1)+x+1] + row
		}
	}
	sum := func(x, y int) float64 {
		return sat[(y+ch)*(w+1)+x+cw] - sat[y*(w+1)+x+cw] - sat[(y+ch)*(w+1)+x] + sat[y*(w+1)+x]
	}
	cx, cy := (w-cw+1)/2, (h-ch+1)/2
	bestX, bestY := cx, cy
	best := sum(cx, cy)
	for y := 0; y <= h-ch; y++ {
		for x := 0; x <= w-cw; x++ {
			if s := sum(x, y); s > best+1e-9 {
				best, bestX, bestY = s, x, y
			}
		}
	}
	return bestX, bestY
}

func centroid(score []float64, w, h int) (int, int) {
	var total, sx, sy float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := score[y*w+x]
			total += s
			sx += s * float64(x)
			sy += s * float64(y)
		}
	}
	if total == 0 {
		return w / 2, h / 2
	}
	return int(math.Round(sx / total)), int(math.Round(sy / total))
}

func (e *Engine) Replicate(img engine.Image, across, down int) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if across < 1 || down < 1 {
		return nil, fmt.Errorf("replicate: bad tile count %dx%d", across, down)
	}
	w, ht := h.Width(), h.Height()
	out := newPix(w*across, ht*down)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			draw.Draw(out, image.Rect(tx*w, ty*ht, (tx+1)*w, (ty+1)*ht), h.pix, image.Point{}, draw.Src)
		}
	}
	return derive(h, out), nil
}

// ArrayJoin lays images out left to right, top to bottom, across per row.
// All images must share one size.
func (e *Engine) ArrayJoin(imgs []engine.Image, across int) (engine.Image, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("arrayjoin: no images")
	}
	first, err := asHandle(imgs[0])
	if err != nil {
		return nil, err
	}
	across = max(1, min(across, len(imgs)))
	down := (len(imgs) + across - 1) / across
	w, ht := first.Width(), first.Height()
	out := newPix(w*across, ht*down)
	for n, img := range imgs {
		h, err := asHandle(img)
		if err != nil {
			return nil, err
		}
		if h.Width() != w || h.Height() != ht {
			return nil, fmt.Errorf("arrayjoin: image %d is %dx%d, want %dx%d", n, h.Width(), h.Height(), w, ht)
		}
		x, y := (n%across)*w, (n/across)*ht
		draw.Draw(out, image.Rect(x, y, x+w, y+ht), h.pix, image.Point{}, draw.Src)
	}
	return derive(first, out), nil
}

// Grid rearranges a vertical strip of tileHeight frames into across x down.
func (e *Engine) Grid(img engine.Image, tileHeight, across, down int) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if tileHeight <= 0 || across < 1 || down < 1 || h.Height() != tileHeight*across*down {
		return nil, fmt.Errorf("grid: bad layout %d x %dx%d for height %d", tileHeight, across, down, h.Height())
	}
	w := h.Width()
	out := newPix(w*across, tileHeight*down)
	for n := 0; n < across*down; n++ {
		x, y := (n%across)*w, (n/across)*tileHeight
		draw.Draw(out, image.Rect(x, y, x+w, y+tileHeight), h.pix, image.Pt(0, n*tileHeight), draw.Src)
	}
	return derive(h, out), nil
}
