package domain

type JPEGOptions struct {
	Quality             int    `json:"quality"`
	Progressive         bool   `json:"progressive"`
	ChromaSubsampling   string `json:"chroma_subsampling"`
	TrellisQuantisation bool   `json:"trellis_quantisation"`
	OvershootDeringing  bool   `json:"overshoot_deringing"`
	OptimiseScans       bool   `json:"optimise_scans"`
	OptimiseCoding      bool   `json:"optimise_coding"`
	QuantisationTable   int    `json:"quantisation_table"`
}

type PNGOptions struct {
	Progressive bool    `json:"progressive"`
	Compression int     `json:"compression"`
	Adaptive    bool    `json:"adaptive"`
	Palette     bool    `json:"palette"`
	Quality     int     `json:"quality"`
	Effort      int     `json:"effort"`
	Bitdepth    int     `json:"bitdepth"`
	Dither      float64 `json:"dither"`
}

type WebPOptions struct {
	Quality        int    `json:"quality"`
	AlphaQuality   int    `json:"alpha_quality"`
	Lossless       bool   `json:"lossless"`
	NearLossless   bool   `json:"near_lossless"`
	SmartSubsample bool   `json:"smart_subsample"`
	Preset         string `json:"preset"`
	Effort         int    `json:"effort"`
	MinSize        bool   `json:"min_size"`
	Mixed          bool   `json:"mixed"`
}

type GIFOptions struct {
	Bitdepth             int     `json:"bitdepth"`
	Effort               int     `json:"effort"`
	Dither               float64 `json:"dither"`
	InterFrameMaxError   float64 `json:"inter_frame_max_error"`
	InterPaletteMaxError float64 `json:"inter_palette_max_error"`
	Reuse                bool    `json:"reuse"`
	Progressive          bool    `json:"progressive"`
}

type TIFFOptions struct {
	Quality     int     `json:"quality"`
	Compression string  `json:"compression"`
	Predictor   string  `json:"predictor"`
	Pyramid     bool    `json:"pyramid"`
	Tile        bool    `json:"tile"`
	TileWidth   int     `json:"tile_width"`
	TileHeight  int     `json:"tile_height"`
	XRes        float64 `json:"xres"`
	YRes        float64 `json:"yres"`
	Bitdepth    int     `json:"bitdepth"`
	Miniswhite  bool    `json:"miniswhite"`
	ResUnit     string  `json:"resolution_unit"`
}

type HEIFOptions struct {
	Quality           int    `json:"quality"`
	Compression       string `json:"compression"`
	Lossless          bool   `json:"lossless"`
	Effort            int    `json:"effort"`
	ChromaSubsampling string `json:"chroma_subsampling"`
	Bitdepth          int    `json:"bitdepth"`
}

type JP2Options struct {
	Quality           int    `json:"quality"`
	Lossless          bool   `json:"lossless"`
	TileWidth         int    `json:"tile_width"`
	TileHeight        int    `json:"tile_height"`
	ChromaSubsampling string `json:"chroma_subsampling"`
}

type JXLOptions struct {
	Distance float64 `json:"distance"`
	Decoding int     `json:"decoding_tier"`
	Lossless bool    `json:"lossless"`
	Effort   int     `json:"effort"`
}

type RawOptions struct {
	Depth string `json:"depth"`
}

// FormatOptions carries the per-encoder settings; only the set matching the
// resolved output format is read.
type FormatOptions struct {
	JPEG JPEGOptions `json:"jpeg"`
	PNG  PNGOptions  `json:"png"`
	WebP WebPOptions `json:"webp"`
	GIF  GIFOptions  `json:"gif"`
	TIFF TIFFOptions `json:"tiff"`
	HEIF HEIFOptions `json:"heif"`
	JP2  JP2Options  `json:"jp2"`
	JXL  JXLOptions  `json:"jxl"`
	Raw  RawOptions  `json:"raw"`
}

func DefaultFormatOptions() FormatOptions {
	return FormatOptions{
		JPEG: JPEGOptions{Quality: 80, ChromaSubsampling: "4:2:0", OptimiseCoding: true},
		PNG:  PNGOptions{Compression: 6, Quality: 100, Effort: 7, Bitdepth: 8, Dither: 1},
		WebP: WebPOptions{Quality: 80, AlphaQuality: 100, Preset: "default", Effort: 4},
		GIF:  GIFOptions{Bitdepth: 8, Effort: 7, Dither: 1},
		TIFF: TIFFOptions{Quality: 80, Compression: "jpeg", Predictor: "horizontal", TileWidth: 256, TileHeight: 256, XRes: 1, YRes: 1, Bitdepth: 8, ResUnit: "inch"},
		HEIF: HEIFOptions{Quality: 50, Compression: "av1", Effort: 4, ChromaSubsampling: "4:4:4", Bitdepth: 8},
		JP2:  JP2Options{Quality: 80, TileWidth: 512, TileHeight: 512, ChromaSubsampling: "4:4:4"},
		JXL:  JXLOptions{Distance: 1, Effort: 7},
		Raw:  RawOptions{Depth: DepthUchar},
	}
}
