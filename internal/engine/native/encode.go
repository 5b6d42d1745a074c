package native

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"golang.org/x/image/tiff"
)

func (e *Engine) SetMeta(img engine.Image, mutate func(*engine.Meta)) (engine.Image, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	res := derive(h, h.pix)
	res.left, res.top = h.left, h.top
	mutate(&res.meta)
	return res, nil
}

func (e *Engine) Pixels(img engine.Image) ([]byte, error) {
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, h.Width()*h.Height()*h.bands)
	for i := 0; i+3 < len(h.pix.Pix); i += 4 {
		out = append(out, samples(h, i)...)
	}
	return out, nil
}

func (e *Engine) Save(ctx context.Context, img engine.Image, opts engine.SaveOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := asHandle(img)
	if err != nil {
		return nil, err
	}
	if h.premul {
		unp, err := e.Unpremultiply(h)
		if err != nil {
			return nil, err
		}
		h = unp.(*handle)
	}
	keepExif := opts.Keep&domain.KeepExif != 0
	keepICC := opts.Keep&domain.KeepICC != 0

	switch opts.Format {
	case imagetype.FormatJPEG:
		return saveJPEG(h, opts.Options.JPEG, keepICC, keepExif)
	case imagetype.FormatPNG:
		return savePNG(h, opts.Options.PNG, keepICC, keepExif)
	case imagetype.FormatGIF:
		return saveGIF(h, opts.Options.GIF)
	case imagetype.FormatTIFF:
		return saveTIFF(h, opts.Options.TIFF)
	case imagetype.FormatRaw:
		if d := opts.Options.Raw.Depth; d != "" && d != domain.DepthUchar {
			return nil, engine.Unsupported(name, "raw output depth "+d)
		}
		return e.Pixels(h)
	}
	return nil, engine.Unsupported(name, opts.Format.String()+"save")
}

func encodable(h *handle) image.Image {
	if h.bands == 1 {
		grey := image.NewGray(h.pix.Rect)
		for p := range grey.Pix {
			grey.Pix[p] = h.pix.Pix[p*4]
		}
		return grey
	}
	return h.pix
}

func saveJPEG(h *handle, opts domain.JPEGOptions, keepICC, keepExif bool) ([]byte, error) {
	var src image.Image = h.pix
	switch {
	case h.bands <= 2:
		src = encodable(&handle{pix: h.pix, bands: 1})
	case h.HasAlpha():
		// JPEG has no alpha; drop it the way the encoder would see an
		// opaque image.
		flat := clone(h.pix)
		for i := 3; i < len(flat.Pix); i += 4 {
			flat.Pix[i] = 255
		}
		src = flat
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpegsave: %w", err)
	}
	return injectJPEGSegments(buf.Bytes(), h.meta, keepICC, keepExif), nil
}

func pngLevel(compression int) png.CompressionLevel {
	switch {
	case compression <= 0:
		return png.NoCompression
	case compression <= 3:
		return png.BestSpeed
	case compression >= 8:
		return png.BestCompression
	}
	return png.DefaultCompression
}

func savePNG(h *handle, opts domain.PNGOptions, keepICC, keepExif bool) ([]byte, error) {
	var src image.Image = encodable(h)
	if opts.Palette {
		src = quantise(h, opts.Dither > 0)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: pngLevel(opts.Compression)}
	if err := enc.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("pngsave: %w", err)
	}
	return injectPNGChunks(buf.Bytes(), h.meta, keepICC, keepExif), nil
}

// gifPalette is the web-safe cube plus one fully transparent entry.
func gifPalette() color.Palette {
	p := append(color.Palette(nil), palette.WebSafe...)
	return append(p, color.NRGBA{})
}

func quantise(h *handle, dither bool) *image.Paletted {
	pal := gifPalette()
	transparent := len(pal) - 1
	out := image.NewPaletted(h.pix.Rect, pal)
	var drawer draw.Drawer = draw.Src
	if dither {
		drawer = draw.FloydSteinberg
	}
	drawer.Draw(out, out.Rect, opaqueView(h.pix), image.Point{})
	if h.HasAlpha() {
		for y := 0; y < h.Height(); y++ {
			for x := 0; x < h.Width(); x++ {
				if h.pix.Pix[h.pix.PixOffset(x, y)+3] < 128 {
					out.SetColorIndex(x, y, uint8(transparent))
				}
			}
		}
	}
	return out
}

// opaqueView drops alpha so the quantiser never picks the transparent entry.
func opaqueView(pix *image.NRGBA) *image.NRGBA {
	out := clone(pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out
}

// saveGIF splits the image into frames of meta.PageHeight and writes them as
// an animation when there is more than one.
func saveGIF(h *handle, opts domain.GIFOptions) ([]byte, error) {
	pageHeight := h.meta.PageHeight
	if pageHeight <= 0 || h.Height()%pageHeight != 0 {
		pageHeight = h.Height()
	}
	pages := h.Height() / pageHeight
	anim := &gif.GIF{
		Config: image.Config{Width: h.Width(), Height: pageHeight, ColorModel: gifPalette()},
	}
	for n := 0; n < pages; n++ {
		frame := &handle{pix: subPix(h.pix, image.Rect(0, n*pageHeight, h.Width(), (n+1)*pageHeight)), bands: h.bands}
		anim.Image = append(anim.Image, quantise(frame, opts.Dither > 0))
		delay := 0
		if n < len(h.meta.Delay) {
			delay = h.meta.Delay[n] / 10
		}
		anim.Delay = append(anim.Delay, delay)
		anim.Disposal = append(anim.Disposal, gif.DisposalBackground)
	}
	switch loop := h.meta.Loop; {
	case pages == 1:
	case loop == 0:
		anim.LoopCount = 0
	case loop == 1:
		anim.LoopCount = -1
	case loop > 1:
		anim.LoopCount = loop - 1
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("gifsave: %w", err)
	}
	return buf.Bytes(), nil
}

func subPix(pix *image.NRGBA, r image.Rectangle) *image.NRGBA {
	out := newPix(r.Dx(), r.Dy())
	draw.Draw(out, out.Rect, pix, r.Min, draw.Src)
	return out
}

func saveTIFF(h *handle, opts domain.TIFFOptions) ([]byte, error) {
	compression := tiff.Uncompressed
	switch opts.Compression {
	case "deflate", "lzw", "jpeg", "webp", "zstd", "jp2k":
		compression = tiff.Deflate
	}
	var buf bytes.Buffer
	err := tiff.Encode(&buf, encodable(h), &tiff.Options{
		Compression: compression,
		Predictor:   opts.Predictor == "horizontal",
	})
	if err != nil {
		return nil, fmt.Errorf("tiffsave: %w", err)
	}
	return buf.Bytes(), nil
}
