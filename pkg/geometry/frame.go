package geometry

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Frame is the spatial placement of a dataset: the index origin and the
// row, column and slice direction vectors.
type Frame struct {
	Origin Vec4
	Read   Vec4
	Phase  Vec4
	Slice  Vec4
}

// orientation returns the 3x3 matrix whose columns are Read, Phase, Slice.
func (f Frame) orientation() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		m.Set(i, 0, f.Read[i])
		m.Set(i, 1, f.Phase[i])
		m.Set(i, 2, f.Slice[i])
	}
	return m
}

// Transform applies t to the frame: the new orientation is O*T and the
// origin is carried into the new coordinate space as O_new * (O^T * o).
// O is assumed orthonormal, so its transpose is its inverse.
func (f Frame) Transform(t mat.Matrix) (Frame, error) {
	if r, c := t.Dims(); r != 3 || c != 3 {
		return f, errors.Errorf("transform must be 3x3, got %dx%d", r, c)
	}
	orient := f.orientation()

	var newOrient mat.Dense
	newOrient.Mul(orient, t)

	o := mat.NewVecDense(3, []float64{f.Origin[0], f.Origin[1], f.Origin[2]})
	var local, moved mat.VecDense
	local.MulVec(orient.T(), o)
	moved.MulVec(&newOrient, &local)

	out := f
	for i := 0; i < 3; i++ {
		out.Origin[i] = moved.AtVec(i)
		out.Read[i] = newOrient.At(i, 0)
		out.Phase[i] = newOrient.At(i, 1)
		out.Slice[i] = newOrient.At(i, 2)
	}
	return out, nil
}
