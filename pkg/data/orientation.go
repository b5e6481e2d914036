package data

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"voxelcore/pkg/geometry"
)

// Orientation names the canonical axis closest to the slice normal.
type Orientation uint8

const (
	Axial Orientation = iota
	ReversedAxial
	Sagittal
	ReversedSagittal
	Coronal
	ReversedCoronal
)

var orientationNames = [...]string{
	"axial", "reversed axial", "sagittal", "reversed sagittal", "coronal", "reversed coronal",
}

func (o Orientation) String() string {
	if int(o) < len(orientationNames) {
		return orientationNames[o]
	}
	return "unknown"
}

// MainOrientation classifies the image by the angle between the cross
// product of readVec and phaseVec and the z, x and y axes, in that order.
// The first axis within 45 degrees, in either direction, wins.
func (img *Image) MainOrientation() (Orientation, error) {
	if !img.clean {
		img.log.Warn("computing the orientation of an unclean image, run reindex first")
	}
	read, okR := vecProp(img.Props, PropReadVec)
	phase, okP := vecProp(img.Props, PropPhaseVec)
	if !okR || !okP {
		return Axial, errors.New("image has no readVec or phaseVec")
	}
	read, _ = read.Norm()
	phase, _ = phase.Norm()
	if read.Dot(phase) > 0.01 {
		img.log.Warn("readVec and phaseVec are not orthogonal")
	}
	normal := read.Cross(phase)

	candidates := []struct {
		axis             geometry.Vec4
		normal, reversed Orientation
	}{
		{geometry.NewVec4(0, 0, 1), Axial, ReversedAxial},
		{geometry.NewVec4(1, 0, 0), Sagittal, ReversedSagittal},
		{geometry.NewVec4(0, 1, 0), Coronal, ReversedCoronal},
	}
	for _, c := range candidates {
		// angle as a fraction of pi
		a := math.Acos(math.Max(-1, math.Min(1, normal.Dot(c.axis)))) / math.Pi
		reversed := false
		if a > .5 {
			a = math.Abs(a - 1)
			reversed = true
		}
		img.log.Debug("angle to axis", zap.Stringer("axis", c.axis), zap.Float64("angle", a))
		if a <= .25 {
			if reversed {
				return c.reversed, nil
			}
			return c.normal, nil
		}
	}
	return Axial, errors.Errorf("slice normal %s is not close to any axis", normal)
}
