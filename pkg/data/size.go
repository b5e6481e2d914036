package data

import (
	"strconv"
	"strings"
)

// Dims is the number of axes of every chunk and image.
const Dims = 4

// Size is the extent of a dataset along each axis. Axis 0 varies fastest
// in linear order.
type Size [Dims]int

// Coords addresses one voxel.
type Coords [Dims]int

// NewSize fills the given extents and sets all remaining axes to 1.
func NewSize(extents ...int) Size {
	s := Size{1, 1, 1, 1}
	copy(s[:], extents)
	return s
}

// Volume is the number of voxels.
func (s Size) Volume() int {
	return s[0] * s[1] * s[2] * s[3]
}

// RelevantDims is the number of leading axes up to and including the last
// axis with an extent above 1.
func (s Size) RelevantDims() int {
	for i := Dims; i > 0; i-- {
		if s[i-1] > 1 {
			return i
		}
	}
	return 0
}

// Index returns the linear position of c, or false if c is outside s.
func (s Size) Index(c Coords) (int, bool) {
	idx := 0
	for i := Dims - 1; i >= 0; i-- {
		if c[i] < 0 || c[i] >= s[i] {
			return 0, false
		}
		idx = idx*s[i] + c[i]
	}
	return idx, true
}

// Coords is the inverse of Index.
func (s Size) Coords(idx int) Coords {
	var c Coords
	for i := 0; i < Dims; i++ {
		c[i] = idx % s[i]
		idx /= s[i]
	}
	return c
}

func (s Size) String() string {
	parts := make([]string, Dims)
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "x")
}
