//go:build govips && cgo

package vips

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

func (e *Engine) SetMeta(img engine.Image, update func(*engine.Meta)) (engine.Image, error) {
	out, err := mutate(img, "copy", func(*vips.ImageRef) error { return nil })
	if err != nil {
		return nil, err
	}
	update(&out.(*image).meta)
	return out, nil
}

func (e *Engine) Pixels(img engine.Image) ([]byte, error) {
	src, err := asImage(img)
	if err != nil {
		return nil, err
	}
	if src.ref.BandFormat() == vips.BandFormatUchar {
		return src.ref.ToBytes()
	}
	cast, err := e.Cast(img, domain.DepthUchar)
	if err != nil {
		return nil, err
	}
	defer cast.Close()
	return cast.(*image).ref.ToBytes()
}

var subsampling = map[string]vips.SubsampleMode{
	"4:2:0": vips.VipsForeignSubsampleAuto,
	"4:4:4": vips.VipsForeignSubsampleOff,
}

var tiffCompressions = map[string]vips.TiffCompression{
	"none":      vips.TiffCompressionNone,
	"jpeg":      vips.TiffCompressionJpeg,
	"deflate":   vips.TiffCompressionDeflate,
	"packbits":  vips.TiffCompressionPackbits,
	"ccittfax4": vips.TiffCompressionCcittfax4,
	"lzw":       vips.TiffCompressionLzw,
	"webp":      vips.TiffCompressionWebp,
	"zstd":      vips.TiffCompressionZstd,
}

var tiffPredictors = map[string]vips.TiffPredictor{
	"none":       vips.TiffPredictorNone,
	"horizontal": vips.TiffPredictorHorizontal,
	"float":      vips.TiffPredictorFloat,
}

// Save encodes img. GIF goes through the native encoder because govips does
// not expose frame delay or loop count.
func (e *Engine) Save(ctx context.Context, img engine.Image, opts engine.SaveOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := asImage(img)
	if err != nil {
		return nil, err
	}
	if opts.Format == imagetype.FormatGIF {
		in, err := e.toNative(img)
		if err != nil {
			return nil, err
		}
		defer in.Close()
		return e.fallback.Save(ctx, in, opts)
	}
	if opts.Format == imagetype.FormatRaw {
		if d := opts.Options.Raw.Depth; d != "" && d != src.Depth() {
			cast, err := e.Cast(img, d)
			if err != nil {
				return nil, err
			}
			defer cast.Close()
			return cast.(*image).ref.ToBytes()
		}
		return src.ref.ToBytes()
	}

	ref, err := src.ref.Copy()
	if err != nil {
		return nil, err
	}
	defer ref.Close()
	if src.meta.PageHeight > 0 && src.meta.PageHeight < ref.Height() {
		if err := ref.SetPageHeight(src.meta.PageHeight); err != nil {
			return nil, err
		}
	}
	if opts.Keep&domain.KeepExif != 0 && src.meta.Orientation > 0 {
		if err := ref.SetOrientation(src.meta.Orientation); err != nil {
			return nil, err
		}
	}
	strip := opts.Keep == 0
	o := opts.Options

	var buf []byte
	switch opts.Format {
	case imagetype.FormatJPEG:
		p := vips.NewJpegExportParams()
		p.StripMetadata = strip
		p.Quality = o.JPEG.Quality
		p.Interlace = o.JPEG.Progressive
		p.OptimizeCoding = o.JPEG.OptimiseCoding
		p.TrellisQuant = o.JPEG.TrellisQuantisation
		p.OvershootDeringing = o.JPEG.OvershootDeringing
		p.OptimizeScans = o.JPEG.OptimiseScans
		p.QuantTable = o.JPEG.QuantisationTable
		if mode, ok := subsampling[o.JPEG.ChromaSubsampling]; ok {
			p.SubsampleMode = mode
		}
		buf, _, err = ref.ExportJpeg(p)
	case imagetype.FormatPNG:
		p := vips.NewPngExportParams()
		p.StripMetadata = strip
		p.Compression = o.PNG.Compression
		p.Interlace = o.PNG.Progressive
		p.Palette = o.PNG.Palette
		p.Quality = o.PNG.Quality
		p.Dither = o.PNG.Dither
		p.Bitdepth = o.PNG.Bitdepth
		buf, _, err = ref.ExportPng(p)
	case imagetype.FormatWebP:
		p := vips.NewWebpExportParams()
		p.StripMetadata = strip
		p.Quality = o.WebP.Quality
		p.Lossless = o.WebP.Lossless
		p.NearLossless = o.WebP.NearLossless
		p.ReductionEffort = o.WebP.Effort
		p.MinSize = o.WebP.MinSize
		buf, _, err = ref.ExportWebp(p)
	case imagetype.FormatTIFF:
		p := vips.NewTiffExportParams()
		p.StripMetadata = strip
		p.Quality = o.TIFF.Quality
		if c, ok := tiffCompressions[o.TIFF.Compression]; ok {
			p.Compression = c
		}
		if pr, ok := tiffPredictors[o.TIFF.Predictor]; ok {
			p.Predictor = pr
		}
		buf, _, err = ref.ExportTiff(p)
	case imagetype.FormatHEIF:
		p := vips.NewHeifExportParams()
		p.Quality = o.HEIF.Quality
		p.Lossless = o.HEIF.Lossless
		buf, _, err = ref.ExportHeif(p)
	case imagetype.FormatAVIF:
		p := vips.NewAvifExportParams()
		p.StripMetadata = strip
		p.Quality = o.HEIF.Quality
		p.Lossless = o.HEIF.Lossless
		p.Speed = 9 - o.HEIF.Effort
		buf, _, err = ref.ExportAvif(p)
	case imagetype.FormatJP2:
		p := vips.NewJp2kExportParams()
		p.Quality = o.JP2.Quality
		p.Lossless = o.JP2.Lossless
		p.TileWidth = o.JP2.TileWidth
		p.TileHeight = o.JP2.TileHeight
		buf, _, err = ref.ExportJp2k(p)
	case imagetype.FormatJXL:
		p := vips.NewJxlExportParams()
		p.Distance = o.JXL.Distance
		p.Lossless = o.JXL.Lossless
		p.Effort = o.JXL.Effort
		p.Tier = o.JXL.Decoding
		buf, _, err = ref.ExportJxl(p)
	default:
		return nil, engine.Unsupported(name, opts.Format.String()+"save")
	}
	if err != nil {
		return nil, fmt.Errorf("%ssave: %w", opts.Format, err)
	}
	return buf, nil
}
