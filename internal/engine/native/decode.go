package native

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

func (e *Engine) Load(ctx context.Context, src engine.Source, opts engine.LoadOptions) (engine.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := src.Buffer
	if src.Path != "" {
		raw, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Path, err)
		}
		buf = raw
	}
	t := opts.Type
	if t == imagetype.Unknown {
		t = imagetype.Detect(buf)
	}
	if e.blocklist.Blocked(t.Loader()) {
		return nil, engine.Unsupported(name, t.Loader()+" is blocked")
	}

	switch t {
	case imagetype.JPEG:
		return loadJPEG(buf, opts)
	case imagetype.PNG:
		return loadPNG(buf)
	case imagetype.GIF:
		return loadGIF(buf, opts)
	case imagetype.WebP:
		img, err := webp.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("webpload: %w", err)
		}
		return fromDecoded(scaled(img, opts.Scale), engine.Meta{Pages: 1, Density: 72}, 0), nil
	case imagetype.TIFF:
		img, err := tiff.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("tiffload: %w", err)
		}
		return fromDecoded(img, engine.Meta{Pages: 1, Density: 72}, 0), nil
	case imagetype.Magick:
		img, err := bmp.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("magickload: %w", err)
		}
		return fromDecoded(img, engine.Meta{Pages: 1, Density: 72}, 0), nil
	}
	return nil, engine.Unsupported(name, t.Loader())
}

func loadJPEG(buf []byte, opts engine.LoadOptions) (engine.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("jpegload: %w", err)
	}
	bands := 3
	if img.ColorModel() == color.GrayModel {
		bands = 1
	}
	if opts.Shrink > 1 {
		b := img.Bounds()
		w := int(math.Ceil(float64(b.Dx()) / float64(opts.Shrink)))
		h := int(math.Ceil(float64(b.Dy()) / float64(opts.Shrink)))
		img = imaging.Resize(img, w, h, imaging.Box)
	}
	return fromDecoded(img, jpegMeta(buf), bands), nil
}

func loadPNG(buf []byte) (engine.Image, error) {
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("pngload: %w", err)
	}
	meta, bands := pngMeta(buf)
	return fromDecoded(img, meta, bands), nil
}

// loadGIF composes every frame onto a running canvas honouring disposal,
// then stacks the selected frames vertically.
func loadGIF(buf []byte, opts engine.LoadOptions) (engine.Image, error) {
	anim, err := gif.DecodeAll(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("gifload: %w", err)
	}
	total := len(anim.Image)
	if total == 0 {
		return nil, fmt.Errorf("gifload: no frames")
	}
	if opts.Page >= total {
		return nil, fmt.Errorf("gifload: page %d out of range (%d pages)", opts.Page, total)
	}
	count := opts.Pages
	if count < 0 || opts.Page+count > total {
		count = total - opts.Page
	}
	if count < 1 {
		count = 1
	}

	width, height := anim.Config.Width, anim.Config.Height
	if width == 0 || height == 0 {
		b := anim.Image[0].Bounds()
		width, height = b.Max.X, b.Max.Y
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	roll := newPix(width, height*count)
	alpha := false
	delays := make([]int, 0, count)

	for i, frame := range anim.Image {
		if i >= opts.Page+count {
			break
		}
		var previous *image.NRGBA
		disposal := byte(0)
		if i < len(anim.Disposal) {
			disposal = anim.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			previous = clone(canvas)
		}
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		if i >= opts.Page {
			n := i - opts.Page
			draw.Draw(roll, image.Rect(0, n*height, width, (n+1)*height), canvas, image.Point{}, draw.Src)
			delay := 0
			if i < len(anim.Delay) {
				delay = anim.Delay[i] * 10
			}
			delays = append(delays, delay)
		}
		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	for i := 3; i < len(roll.Pix); i += 4 {
		if roll.Pix[i] != 255 {
			alpha = true
			break
		}
	}

	meta := engine.Meta{
		Pages:      total,
		PageHeight: height,
		Delay:      delays,
		Loop:       gifLoop(anim.LoopCount),
		Density:    72,
	}
	bands := 3
	if alpha {
		bands = 4
	}
	return &handle{pix: normalise(roll, bands), bands: bands, interp: engine.InterpretationSRGB, meta: meta}, nil
}

// gifLoop maps the decoder's loop count onto "number of plays, 0 = forever".
func gifLoop(n int) int {
	switch {
	case n < 0:
		return 1
	case n == 0:
		return 0
	}
	return n + 1
}

func scaled(img image.Image, scale float64) image.Image {
	if scale <= 0 || scale >= 1 {
		return img
	}
	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// fromDecoded converts a decoded image into a handle. bands of zero means
// infer from the colour model and the alpha actually present.
func fromDecoded(img image.Image, meta engine.Meta, bands int) *handle {
	pix := imaging.Clone(img)
	if bands == 0 {
		grey := false
		switch img.ColorModel() {
		case color.GrayModel, color.Gray16Model:
			grey = true
		}
		alpha := false
		if o, ok := img.(interface{ Opaque() bool }); !ok || !o.Opaque() {
			for i := 3; i < len(pix.Pix); i += 4 {
				if pix.Pix[i] != 255 {
					alpha = true
					break
				}
			}
		}
		switch {
		case grey && alpha:
			bands = 2
		case grey:
			bands = 1
		case alpha:
			bands = 4
		default:
			bands = 3
		}
	}
	if bands <= 2 {
		for i := 0; i+3 < len(pix.Pix); i += 4 {
			v := luma(pix.Pix[i], pix.Pix[i+1], pix.Pix[i+2])
			pix.Pix[i], pix.Pix[i+1], pix.Pix[i+2] = v, v, v
		}
	}
	if meta.Pages == 0 {
		meta.Pages = 1
	}
	return &handle{pix: normalise(pix, bands), bands: bands, interp: interpretationFor(bands), meta: meta}
}

func (e *Engine) FromRaw(data []byte, width, height, bands int, depth string, interp engine.Interpretation) (engine.Image, error) {
	if depth != "" && depth != domain.DepthUchar {
		return nil, engine.Unsupported(name, depth+" samples")
	}
	if bands < 1 || bands > 4 {
		return nil, engine.Unsupported(name, fmt.Sprintf("%d-band images", bands))
	}
	if width <= 0 || height <= 0 || len(data) < width*height*bands {
		return nil, fmt.Errorf("raw data has %d bytes, need %d", len(data), width*height*bands)
	}
	pix := newPix(width, height)
	for i, j := 0, 0; j < width*height*bands; i, j = i+4, j+bands {
		switch bands {
		case 1:
			pix.Pix[i], pix.Pix[i+1], pix.Pix[i+2], pix.Pix[i+3] = data[j], data[j], data[j], 255
		case 2:
			pix.Pix[i], pix.Pix[i+1], pix.Pix[i+2], pix.Pix[i+3] = data[j], data[j], data[j], data[j+1]
		case 3:
			pix.Pix[i], pix.Pix[i+1], pix.Pix[i+2], pix.Pix[i+3] = data[j], data[j+1], data[j+2], 255
		default:
			copy(pix.Pix[i:i+4], data[j:j+4])
		}
	}
	if interp == "" {
		interp = interpretationFor(bands)
	}
	return &handle{pix: pix, bands: bands, interp: interp, meta: engine.Meta{Pages: 1, Density: 72}}, nil
}
