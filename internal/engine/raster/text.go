package raster

import (
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	defaultPoints = 12
	maxAutofitDPI = 2000
)

// Text is rendered text ready to be wrapped by FromRaw.
type Text struct {
	Pixels     []byte
	Width      int
	Height     int
	Bands      int
	AutofitDPI int
}

// RenderText draws src.Text. Without RGBA the result is a single band whose
// value is glyph coverage; with RGBA it is black ink on a transparent canvas.
func RenderText(src domain.TextSource) (Text, error) {
	ttf, points, err := loadFont(src)
	if err != nil {
		return Text{}, err
	}

	dpi := float64(src.DPI)
	autofit := 0
	if dpi == 0 {
		dpi = 72
		if src.Width > 0 && src.Height > 0 {
			dpi = float64(fitDPI(ttf, points, src))
			autofit = int(dpi)
		}
	}

	layout := newLayout(ttf, points, dpi, src)
	width := src.Width
	if width <= 0 {
		width = int(math.Ceil(layout.width))
	}
	height := int(math.Ceil(layout.height))
	if src.Height > 0 && height > src.Height {
		height = src.Height
	}
	width, height = max(1, width), max(1, height)

	dc := gg.NewContext(width, height)
	dc.SetFontFace(layout.face)
	if src.RGBA {
		dc.SetRGB(0, 0, 0)
	} else {
		dc.SetRGB(1, 1, 1)
	}
	layout.draw(dc, float64(width))

	rendered := dc.Image()
	out := Text{Width: width, Height: height, AutofitDPI: autofit}
	if src.RGBA {
		out.Bands = 4
		out.Pixels = ToSamples(rendered, 4)
	} else {
		out.Bands = 1
		out.Pixels = coverage(rendered)
	}
	return out, nil
}

func loadFont(src domain.TextSource) (*truetype.Font, float64, error) {
	data := goregular.TTF
	if path := strings.TrimSpace(src.FontFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("read font file: %w", err)
		}
		data = raw
	}
	ttf, err := truetype.Parse(data)
	if err != nil {
		return nil, 0, fmt.Errorf("parse font: %w", err)
	}
	return ttf, fontPoints(src.Font), nil
}

// fontPoints reads the trailing size from a description such as "sans 24".
func fontPoints(desc string) float64 {
	fields := strings.Fields(desc)
	if len(fields) == 0 {
		return defaultPoints
	}
	size, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil || size <= 0 {
		return defaultPoints
	}
	return size
}

// fitDPI finds the largest DPI whose layout fits inside Width x Height.
func fitDPI(ttf *truetype.Font, points float64, src domain.TextSource) int {
	lo, hi := 1, maxAutofitDPI
	for lo < hi {
		mid := (lo + hi + 1) / 2
		l := newLayout(ttf, points, float64(mid), src)
		if l.width <= float64(src.Width) && l.height <= float64(src.Height) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

type layout struct {
	face        font.Face
	lines       []line
	width       float64
	height      float64
	fontHeight  float64
	lineSpacing float64
	align       string
	justify     bool
	measure     *gg.Context
}

type line struct {
	text      string
	lastInPar bool
}

func newLayout(ttf *truetype.Font, points, dpi float64, src domain.TextSource) *layout {
	face := truetype.NewFace(ttf, &truetype.Options{Size: points, DPI: dpi})
	dc := gg.NewContext(1, 1)
	dc.SetFontFace(face)

	l := &layout{
		face:       face,
		fontHeight: dc.FontHeight(),
		align:      strings.ToLower(src.Align),
		justify:    src.Justify,
		measure:    dc,
	}
	l.lineSpacing = 1
	if src.Spacing > 0 && l.fontHeight > 0 {
		l.lineSpacing = 1 + float64(src.Spacing)/l.fontHeight
	}

	wrapWidth := float64(src.Width)
	for _, paragraph := range strings.Split(src.Text, "\n") {
		wrapped := wrapParagraph(dc, paragraph, wrapWidth, src.Wrap)
		for i, text := range wrapped {
			l.lines = append(l.lines, line{text: text, lastInPar: i == len(wrapped)-1})
			w, _ := dc.MeasureString(text)
			l.width = math.Max(l.width, w)
		}
	}
	n := float64(len(l.lines))
	l.height = n*l.fontHeight*l.lineSpacing - (l.lineSpacing-1)*l.fontHeight
	return l
}

func wrapParagraph(dc *gg.Context, paragraph string, width float64, mode string) []string {
	if width <= 0 || mode == "none" {
		return []string{paragraph}
	}
	switch mode {
	case "char":
		return charWrap(dc, paragraph, width)
	case "word-char":
		var out []string
		for _, l := range dc.WordWrap(paragraph, width) {
			out = append(out, charWrap(dc, l, width)...)
		}
		return out
	default:
		lines := dc.WordWrap(paragraph, width)
		if len(lines) == 0 {
			return []string{""}
		}
		return lines
	}
}

func charWrap(dc *gg.Context, s string, width float64) []string {
	var out []string
	var current []rune
	for _, r := range s {
		next := append(current, r)
		if w, _ := dc.MeasureString(string(next)); w > width && len(current) > 0 {
			out = append(out, string(current))
			current = []rune{r}
			continue
		}
		current = next
	}
	return append(out, string(current))
}

func (l *layout) draw(dc *gg.Context, width float64) {
	y := 0.0
	for _, ln := range l.lines {
		w, _ := l.measure.MeasureString(ln.text)
		words := strings.Fields(ln.text)
		switch {
		case l.justify && !ln.lastInPar && len(words) > 1:
			l.drawJustified(dc, words, y, width)
		case l.align == "centre" || l.align == "center":
			dc.DrawStringAnchored(ln.text, (width-w)/2, y, 0, 1)
		case l.align == "right":
			dc.DrawStringAnchored(ln.text, width-w, y, 0, 1)
		default:
			dc.DrawStringAnchored(ln.text, 0, y, 0, 1)
		}
		y += l.fontHeight * l.lineSpacing
	}
}

func (l *layout) drawJustified(dc *gg.Context, words []string, y, width float64) {
	total := 0.0
	widths := make([]float64, len(words))
	for i, word := range words {
		widths[i], _ = l.measure.MeasureString(word)
		total += widths[i]
	}
	gap := (width - total) / float64(len(words)-1)
	x := 0.0
	for i, word := range words {
		dc.DrawStringAnchored(word, x, y, 0, 1)
		x += widths[i] + gap
	}
}

func coverage(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			out = append(out, uint8(a>>8))
		}
	}
	return out
}
