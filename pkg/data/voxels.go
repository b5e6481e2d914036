package data

import (
	"reflect"

	"voxelcore/pkg/numeric"
)

// Voxels is the typed storage behind a chunk, seen through a type-erased
// interface so chunks of different voxel types can share an image.
type Voxels interface {
	Len() int
	BytesPerVoxel() int
	TypeName() string
	// At returns element i converted to float64.
	At(i int) float64
	MinMax() (lo, hi float64)
	// CompareRange counts the elements in [start, end) that differ from
	// the elements of other starting at otherStart. Buffers of different
	// element types differ everywhere.
	CompareRange(start, end int, other Voxels, otherStart int) int
}

// Buffer holds voxels of one numeric type.
type Buffer[T numeric.Number] struct {
	data []T
}

// NewBuffer wraps data without copying it.
func NewBuffer[T numeric.Number](data []T) *Buffer[T] {
	return &Buffer[T]{data: data}
}

// MakeBuffer allocates a zeroed buffer of n voxels.
func MakeBuffer[T numeric.Number](n int) *Buffer[T] {
	return &Buffer[T]{data: make([]T, n)}
}

func (b *Buffer[T]) Data() []T { return b.data }

func (b *Buffer[T]) Len() int { return len(b.data) }

func (b *Buffer[T]) BytesPerVoxel() int { return int(reflect.TypeOf((*T)(nil)).Elem().Size()) }

func (b *Buffer[T]) TypeName() string { return reflect.TypeOf((*T)(nil)).Elem().String() }

func (b *Buffer[T]) At(i int) float64 { return float64(b.data[i]) }

func (b *Buffer[T]) MinMax() (lo, hi float64) { return numeric.Range(b.data) }

func (b *Buffer[T]) CompareRange(start, end int, other Voxels, otherStart int) int {
	o, ok := other.(*Buffer[T])
	if !ok {
		return end - start
	}
	n := 0
	for i := start; i < end; i++ {
		if b.data[i] != o.data[otherStart+i-start] {
			n++
		}
	}
	return n
}

// VoxelsOf returns the raw voxels of c if they are of type T.
func VoxelsOf[T numeric.Number](c *Chunk) ([]T, bool) {
	b, ok := c.voxels.(*Buffer[T])
	if !ok {
		return nil, false
	}
	return b.data, true
}
