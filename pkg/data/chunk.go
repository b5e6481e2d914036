// Package data assembles independently produced voxel chunks into images.
//
// A Chunk is a rectangular block of voxels with its own metadata tree. An
// Image collects chunks, orders them by position, infers its own shape and
// moves the metadata shared by all chunks into its own tree.
//
// Neither Chunk nor Image is safe for concurrent mutation.
package data

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"voxelcore/pkg/geometry"
	"voxelcore/pkg/property"
)

var (
	ErrSizeMismatch = errors.New("voxel count does not match chunk size")
	ErrEmptyImage   = errors.New("image has no chunks")
	ErrNotIndexed   = errors.New("image is not indexed")
	ErrOutOfRange   = errors.New("index out of range")
)

// Chunk is a block of voxels plus acquisition metadata. Chunks are shared
// by pointer between an image and the callers that inserted or requested
// them; the voxel storage is never copied implicitly.
type Chunk struct {
	Props *property.Tree

	size   Size
	voxels Voxels
}

// NewChunk wraps v as a chunk of the given size and flags the needed
// paths as mandatory.
func NewChunk(v Voxels, size Size, needed []string, log *zap.Logger) (*Chunk, error) {
	if size.Volume() != v.Len() {
		return nil, errors.Wrapf(ErrSizeMismatch, "size %s holds %d voxels, got %d", size, size.Volume(), v.Len())
	}
	c := &Chunk{Props: property.New(log), size: size, voxels: v}
	for _, n := range needed {
		if err := c.Props.AddNeeded(property.ParsePath(n)); err != nil {
			return nil, errors.Wrapf(err, "flag %s as needed", n)
		}
	}
	return c, nil
}

func (c *Chunk) Size() Size { return c.size }

func (c *Chunk) Voxels() Voxels { return c.voxels }

func (c *Chunk) Volume() int { return c.size.Volume() }

func (c *Chunk) RelevantDims() int { return c.size.RelevantDims() }

func (c *Chunk) BytesPerVoxel() int { return c.voxels.BytesPerVoxel() }

func (c *Chunk) TypeName() string { return c.voxels.TypeName() }

// IsValid reports whether every needed property is set.
func (c *Chunk) IsValid() bool { return c.Props.IsValid() }

func (c *Chunk) Missing() *property.PathSet { return c.Props.Missing() }

// VoxelAt returns the voxel at c converted to float64.
func (c *Chunk) VoxelAt(at Coords) (float64, error) {
	idx, ok := c.size.Index(at)
	if !ok {
		return 0, errors.Wrapf(ErrOutOfRange, "%v not in %s", at, c.size)
	}
	return c.voxels.At(idx), nil
}

// Origin returns the index origin of the chunk.
func (c *Chunk) Origin() (geometry.Vec4, bool) { return vecProp(c.Props, PropIndexOrigin) }

// copyOf returns a chunk with a cloned property tree sharing the voxels
// of c.
func (c *Chunk) copyOf() *Chunk {
	return &Chunk{Props: c.Props.Clone(), size: c.size, voxels: c.voxels}
}

// vecProp reads a vector property, converting from other representations
// if necessary.
func vecProp(t *property.Tree, name string) (geometry.Vec4, bool) {
	v, ok := t.QueryValue(property.ParsePath(name))
	if !ok || v.IsEmpty() {
		return geometry.Vec4{}, false
	}
	if vec, ok := property.As[geometry.Vec4](v); ok {
		return vec, true
	}
	conv, ok := v.Convert(property.TypeVec4)
	if !ok {
		return geometry.Vec4{}, false
	}
	return property.As[geometry.Vec4](conv)
}

func setVecProp(t *property.Tree, name string, v geometry.Vec4) error {
	return t.SetValue(property.ParsePath(name), property.NewValue(v))
}
