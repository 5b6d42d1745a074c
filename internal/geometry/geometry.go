// Package geometry holds the pure integer and shrink-factor arithmetic used
// to place, crop and scale images. Nothing here touches pixels.
package geometry

import (
	"fmt"
	"math"
	"strings"
)

type Canvas string

const (
	CanvasCrop         Canvas = "crop"
	CanvasEmbed        Canvas = "embed"
	CanvasMax          Canvas = "max"
	CanvasMin          Canvas = "min"
	CanvasIgnoreAspect Canvas = "ignore_aspect"
)

func ParseCanvas(s string) (Canvas, error) {
	switch c := Canvas(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CanvasCrop:
		return CanvasCrop, nil
	case CanvasEmbed, CanvasMax, CanvasMin, CanvasIgnoreAspect:
		return c, nil
	case "fill":
		return CanvasIgnoreAspect, nil
	case "cover":
		return CanvasCrop, nil
	case "contain":
		return CanvasEmbed, nil
	case "inside":
		return CanvasMax, nil
	case "outside":
		return CanvasMin, nil
	default:
		return "", fmt.Errorf("unknown canvas mode %q", s)
	}
}

// UnmarshalText accepts any name ParseCanvas does and stores the canonical
// mode.
func (c *Canvas) UnmarshalText(text []byte) error {
	parsed, err := ParseCanvas(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Gravity is a compass anchor (0..8) or, from 9 upwards, a content-aware
// crop strategy.
type Gravity int

const (
	GravityCentre Gravity = iota
	GravityNorth
	GravityEast
	GravitySouth
	GravityWest
	GravityNorthEast
	GravitySouthEast
	GravitySouthWest
	GravityNorthWest
)

const (
	StrategyEntropy   Gravity = 16
	StrategyAttention Gravity = 17
)

var gravityNames = map[string]Gravity{
	"centre":    GravityCentre,
	"center":    GravityCentre,
	"north":     GravityNorth,
	"east":      GravityEast,
	"south":     GravitySouth,
	"west":      GravityWest,
	"northeast": GravityNorthEast,
	"southeast": GravitySouthEast,
	"southwest": GravitySouthWest,
	"northwest": GravityNorthWest,
	"entropy":   StrategyEntropy,
	"attention": StrategyAttention,
}

func ParseGravity(s string) (Gravity, error) {
	g, ok := gravityNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown gravity %q", s)
	}
	return g, nil
}

// IsStrategy reports whether g selects a content-aware crop rather than an anchor.
func (g Gravity) IsStrategy() bool {
	return g >= 9
}

// ResolveShrink returns the horizontal and vertical shrink factors that map an
// input of inWidth x inHeight onto the requested target. A target dimension
// <= 0 is unset.
func ResolveShrink(inWidth, inHeight, targetWidth, targetHeight int, canvas Canvas, withoutEnlargement, withoutReduction bool) (float64, float64) {
	hshrink, vshrink := 1.0, 1.0

	switch {
	case targetWidth > 0 && targetHeight > 0:
		hshrink = float64(inWidth) / float64(targetWidth)
		vshrink = float64(inHeight) / float64(targetHeight)

		switch canvas {
		case CanvasCrop, CanvasMin:
			if hshrink < vshrink {
				vshrink = hshrink
			} else {
				hshrink = vshrink
			}
		case CanvasEmbed, CanvasMax:
			if hshrink > vshrink {
				vshrink = hshrink
			} else {
				hshrink = vshrink
			}
		}
	case targetWidth > 0:
		hshrink = float64(inWidth) / float64(targetWidth)
		if canvas != CanvasIgnoreAspect {
			vshrink = hshrink
		}
	case targetHeight > 0:
		vshrink = float64(inHeight) / float64(targetHeight)
		if canvas != CanvasIgnoreAspect {
			hshrink = vshrink
		}
	}

	if withoutReduction {
		hshrink = math.Min(1, hshrink)
		vshrink = math.Min(1, vshrink)
	} else if withoutEnlargement {
		hshrink = math.Max(1, hshrink)
		vshrink = math.Max(1, vshrink)
	}

	// An axis shrunk beyond its own length would collapse to zero pixels.
	hshrink = math.Min(hshrink, float64(inWidth))
	vshrink = math.Min(vshrink, float64(inHeight))
	return hshrink, vshrink
}

// CalculateCrop returns the top-left corner of an outWidth x outHeight window
// anchored inside an inWidth x inHeight image by gravity. Centred axes round
// towards the later pixel.
func CalculateCrop(inWidth, inHeight, outWidth, outHeight int, gravity Gravity) (left, top int) {
	centreX := (inWidth - outWidth + 1) / 2
	centreY := (inHeight - outHeight + 1) / 2
	farX := inWidth - outWidth
	farY := inHeight - outHeight

	switch gravity {
	case GravityNorth:
		left = centreX
	case GravityEast:
		left, top = farX, centreY
	case GravitySouth:
		left, top = centreX, farY
	case GravityWest:
		top = centreY
	case GravityNorthEast:
		left = farX
	case GravitySouthEast:
		left, top = farX, farY
	case GravitySouthWest:
		top = farY
	case GravityNorthWest:
	default:
		left, top = centreX, centreY
	}
	return max(0, left), max(0, top)
}

// CalculateCropOffset clamps a requested (x, y) so the window stays inside
// the source.
func CalculateCropOffset(inWidth, inHeight, outWidth, outHeight, x, y int) (left, top int) {
	left = min(max(0, x), max(0, inWidth-outWidth))
	top = min(max(0, y), max(0, inHeight-outHeight))
	return left, top
}

// CalculateEmbedPosition places an inWidth x inHeight image within a larger
// outWidth x outHeight canvas. It mirrors CalculateCrop with the roles of the
// two rectangles swapped.
func CalculateEmbedPosition(inWidth, inHeight, outWidth, outHeight int, gravity Gravity) (left, top int) {
	return CalculateCrop(outWidth, outHeight, inWidth, inHeight, gravity)
}
