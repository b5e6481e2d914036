// Package geometry provides the small fixed-size vector types used for
// spatial metadata (origins, voxel sizes, orientation vectors) together with
// the fuzzy comparisons needed when those values come from floating point
// acquisition headers.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tolerances used by FuzzyEqual. Values read from acquisition headers are
// usually single precision, so anything tighter produces false warnings.
const (
	AbsTolerance = 1e-6
	RelTolerance = 1e-5
)

// Vec4 is a 4-component float vector. The fourth component is carried for
// completeness but spatial operations only look at the first three.
type Vec4 [4]float64

// IVec4 is a 4-component integer vector, typically a voxel count per axis.
type IVec4 [4]int64

// NewVec4 builds a vector from up to four components, zero-filling the rest.
func NewVec4(c ...float64) Vec4 {
	var v Vec4
	copy(v[:], c)
	return v
}

// Inf returns a vector with every component set to +Inf. It marks
// components that are still unknown.
func Inf() Vec4 {
	i := math.Inf(1)
	return Vec4{i, i, i, i}
}

// R3 drops the fourth component.
func (v Vec4) R3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// FromR3 lifts a 3D vector, leaving the fourth component zero.
func FromR3(r r3.Vec) Vec4 { return Vec4{r.X, r.Y, r.Z, 0} }

func (v Vec4) Add(o Vec4) Vec4 {
	return Vec4{v[0] + o[0], v[1] + o[1], v[2] + o[2], v[3] + o[3]}
}

func (v Vec4) Sub(o Vec4) Vec4 {
	return Vec4{v[0] - o[0], v[1] - o[1], v[2] - o[2], v[3] - o[3]}
}

func (v Vec4) Scale(f float64) Vec4 {
	return Vec4{v[0] * f, v[1] * f, v[2] * f, v[3] * f}
}

// Dot is the full 4-component dot product.
func (v Vec4) Dot(o Vec4) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] + v[3]*o[3]
}

// SqLen is the squared euclidean length over all four components.
func (v Vec4) SqLen() float64 { return v.Dot(v) }

// Len is the euclidean length over all four components.
func (v Vec4) Len() float64 { return math.Sqrt(v.SqLen()) }

// Norm returns v scaled to unit length. ok is false for the zero vector, in
// which case v is returned unchanged.
func (v Vec4) Norm() (n Vec4, ok bool) {
	l := v.Len()
	if l == 0 {
		return v, false
	}
	return v.Scale(1 / l), true
}

// Cross is the 3D cross product of the spatial components.
func (v Vec4) Cross(o Vec4) Vec4 {
	return FromR3(r3.Cross(v.R3(), o.R3()))
}

// Product multiplies all components.
func (v Vec4) Product() float64 { return v[0] * v[1] * v[2] * v[3] }

func (v Vec4) String() string {
	return fmt.Sprintf("<%g|%g|%g|%g>", v[0], v[1], v[2], v[3])
}

// FuzzyEqual reports whether every component of a and b is equal within
// AbsTolerance or RelTolerance.
func FuzzyEqual(a, b Vec4) bool {
	for i := range a {
		if !FuzzyEqualScalar(a[i], b[i]) {
			return false
		}
	}
	return true
}

// FuzzyEqualScalar compares two floats with the package tolerances.
// Infinities compare equal only to themselves.
func FuzzyEqualScalar(a, b float64) bool {
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return scalar.EqualWithinAbsOrRel(a, b, AbsTolerance, RelTolerance)
}

// CompareReverse orders vectors starting at the last component, so slices
// are ordered by their z position first, then y, then x. Components that
// are fuzzy-equal are treated as equal.
func CompareReverse(a, b Vec4) int {
	for i := len(a) - 1; i >= 0; i-- {
		if FuzzyEqualScalar(a[i], b[i]) {
			continue
		}
		if a[i] < b[i] {
			return -1
		}
		return 1
	}
	return 0
}

func (v IVec4) Product() int64 { return v[0] * v[1] * v[2] * v[3] }

func (v IVec4) String() string {
	return fmt.Sprintf("<%d|%d|%d|%d>", v[0], v[1], v[2], v[3])
}

// Float converts to a float vector.
func (v IVec4) Float() Vec4 {
	return Vec4{float64(v[0]), float64(v[1]), float64(v[2]), float64(v[3])}
}

// Round converts to an integer vector rounding half to even.
func (v Vec4) Round() IVec4 {
	return IVec4{
		int64(math.RoundToEven(v[0])), int64(math.RoundToEven(v[1])),
		int64(math.RoundToEven(v[2])), int64(math.RoundToEven(v[3])),
	}
}
