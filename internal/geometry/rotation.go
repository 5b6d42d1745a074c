package geometry

import "math"

// Angle is a clockwise rotation by a multiple of 90 degrees.
type Angle int

const (
	Angle0   Angle = 0
	Angle90  Angle = 90
	Angle180 Angle = 180
	Angle270 Angle = 270
)

// SwapsAxes reports whether rotating by a swaps width and height.
func (a Angle) SwapsAxes() bool {
	return a == Angle90 || a == Angle270
}

// AngleRotation maps an arbitrary integer angle onto a right-angle rotation.
// Angles that are not a multiple of 90 yield Angle0.
func AngleRotation(angle int) Angle {
	angle %= 360
	if angle < 0 {
		angle += 360
	}
	switch angle {
	case 90:
		return Angle90
	case 180:
		return Angle180
	case 270:
		return Angle270
	default:
		return Angle0
	}
}

// ExifRotation returns the rotation and mirroring that undo an EXIF
// orientation tag. flip mirrors top-bottom, flop mirrors left-right.
func ExifRotation(orientation int) (rotate Angle, flip, flop bool) {
	switch orientation {
	case 6:
		rotate = Angle90
	case 3:
		rotate = Angle180
	case 8:
		rotate = Angle270
	case 2:
		flop = true
	case 7:
		flip, rotate = true, Angle90
	case 4:
		flop, rotate = true, Angle180
	case 5:
		flip, rotate = true, Angle270
	}
	return rotate, flip, flop
}

// RotatedBounds is the size of the canvas needed to hold a width x height
// image rotated clockwise by degrees.
func RotatedBounds(width, height int, degrees float64) (int, int) {
	rad := degrees * math.Pi / 180
	sin, cos := math.Abs(math.Sin(rad)), math.Abs(math.Cos(rad))
	w := float64(width)*cos + float64(height)*sin
	h := float64(width)*sin + float64(height)*cos
	return int(math.Ceil(w - 1e-9)), int(math.Ceil(h - 1e-9))
}
