// Package angle computes joint angles from landmark triples and smooths the
// resulting signal.
package angle

import (
	"fmt"
	"math"

	"github.com/meltforce/rehabreps/internal/pose"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// degenerateEpsilon is the smallest |v1|·|v2| treated as a real joint.
const degenerateEpsilon = 1e-4

// Axes selects which landmark components feed the vector math.
type Axes uint8

const (
	AxisX Axes = 1 << iota
	AxisY
	AxisZ

	// AxesAuto uses all three axes when every landmark has depth and the
	// image plane otherwise.
	AxesAuto Axes = 0
	AxesXY        = AxisX | AxisY
	AxesXZ        = AxisX | AxisZ
	AxesYZ        = AxisY | AxisZ
	AxesXYZ       = AxisX | AxisY | AxisZ
)

// ParseAxes maps catalog spellings ("auto", "xy", "yz", "xyz", ...) to a mask.
func ParseAxes(s string) (Axes, bool) {
	switch s {
	case "", "auto":
		return AxesAuto, true
	case "xy":
		return AxesXY, true
	case "xz":
		return AxesXZ, true
	case "yz":
		return AxesYZ, true
	case "xyz":
		return AxesXYZ, true
	case "y":
		return AxisY, true
	case "x":
		return AxisX, true
	}
	return AxesAuto, false
}

func (a Axes) String() string {
	if a == AxesAuto {
		return "auto"
	}
	s := ""
	if a&AxisX != 0 {
		s += "x"
	}
	if a&AxisY != 0 {
		s += "y"
	}
	if a&AxisZ != 0 {
		s += "z"
	}
	return s
}

// MarshalText encodes the mask in its catalog spelling.
func (a Axes) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Axes) UnmarshalText(b []byte) error {
	v, ok := ParseAxes(string(b))
	if !ok {
		return fmt.Errorf("unknown axes %q", b)
	}
	*a = v
	return nil
}

// Between returns the angle at vertex between the rays vertex→a and vertex→b,
// in degrees within [0,180]. ok is false when the geometry is degenerate, in
// which case the angle is 0.
//
// With AxesAuto the 3D formula is used when all three landmarks carry depth and
// the 2D formula otherwise. Any other mask zeroes the unselected components;
// a mask without Z always uses the image-plane formula.
func Between(a, vertex, b pose.Landmark, axes Axes) (float64, bool) {
	if axes == AxesAuto {
		if a.HasDepth() && vertex.HasDepth() && b.HasDepth() {
			axes = AxesXYZ
		} else {
			axes = AxesXY
		}
	}
	if axes == AxesXY {
		return Between2D(planar(a), planar(vertex), planar(b))
	}
	return Between3D(spatial(a, axes), spatial(vertex, axes), spatial(b, axes))
}

// Between3D is the dot-product form: arccos(v1·v2 / |v1||v2|).
func Between3D(a, vertex, b r3.Vec) (float64, bool) {
	v1 := r3.Sub(a, vertex)
	v2 := r3.Sub(b, vertex)
	n1, n2 := r3.Norm(v1), r3.Norm(v2)
	if !finite(n1) || !finite(n2) || n1*n2 < degenerateEpsilon {
		return 0, false
	}
	// unit vectors keep the dot product finite for huge coordinates
	cos := r3.Dot(r3.Scale(1/n1, v1), r3.Scale(1/n2, v2))
	if math.IsNaN(cos) {
		return 0, false
	}
	return clamp(degrees(math.Acos(clamp(cos, -1, 1))), 0, 180), true
}

// Between2D is the atan2 form, reflected into [0,180].
func Between2D(a, vertex, b r2.Vec) (float64, bool) {
	v1 := r2.Sub(a, vertex)
	v2 := r2.Sub(b, vertex)
	n1, n2 := r2.Norm(v1), r2.Norm(v2)
	if !finite(n1) || !finite(n2) || n1*n2 < degenerateEpsilon {
		return 0, false
	}
	deg := math.Abs(degrees(math.Atan2(v2.Y, v2.X) - math.Atan2(v1.Y, v1.X)))
	if math.IsNaN(deg) {
		return 0, false
	}
	if deg > 180 {
		deg = 360 - deg
	}
	return clamp(deg, 0, 180), true
}

func planar(l pose.Landmark) r2.Vec {
	return r2.Vec{X: l.X, Y: l.Y}
}

func spatial(l pose.Landmark, axes Axes) r3.Vec {
	var v r3.Vec
	if axes&AxisX != 0 {
		v.X = l.X
	}
	if axes&AxisY != 0 {
		v.Y = l.Y
	}
	if axes&AxisZ != 0 {
		v.Z = l.Depth()
	}
	return v
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
