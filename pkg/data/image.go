package data

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"voxelcore/pkg/geometry"
	"voxelcore/pkg/property"
)

// Image is an ordered set of chunks forming one logically contiguous
// dataset. Props holds the metadata common to all chunks.
//
// The lookup table from linear chunk index to chunk is rebuilt by Reindex.
// Any insertion makes the image unclean until the next Reindex. Readers
// such as GetChunk and VoxelAt reindex on demand and only log when that
// fails; EnsureIndexed reports the failure instead.
type Image struct {
	Props *property.Tree

	set    *ChunkSet
	lookup []*Chunk
	size   Size
	clean  bool
	log    *zap.Logger
}

// NewImage returns an empty image whose validity is governed by
// opts.ImageNeeded.
func NewImage(opts Options, log *zap.Logger) *Image {
	if log == nil {
		log = zap.NewNop()
	}
	img := &Image{
		Props: property.New(log),
		set:   NewChunkSet(opts, log),
		log:   log,
	}
	for _, n := range opts.ImageNeeded {
		if err := img.Props.AddNeeded(property.ParsePath(n)); err != nil {
			log.Error("invalid needed property", zap.String("path", n), zap.Error(err))
		}
	}
	return img
}

// InsertChunk adds c to the image. Invalid chunks and chunks the set
// refuses are logged and dropped, leaving the image untouched.
func (img *Image) InsertChunk(c *Chunk) bool {
	if !c.IsValid() {
		img.log.Error("cannot insert invalid chunk", zap.Stringer("missing", c.Missing()))
		return false
	}
	if o, _ := c.Origin(); o[3] != 0 {
		img.log.Debug("inserting chunk with nonzero fourth origin component, use acquisitionTime for time",
			zap.Stringer("origin", o))
	}
	if !img.set.Insert(c) {
		return false
	}
	img.clean = false
	img.lookup = nil
	return true
}

func (img *Image) IsEmpty() bool { return img.set.IsEmpty() }

// IsClean reports whether the lookup table reflects the current chunk set
// and the last Reindex left the image valid.
func (img *Image) IsClean() bool { return img.clean }

func (img *Image) IsValid() bool { return img.Props.IsValid() }

func (img *Image) Missing() *property.PathSet { return img.Props.Missing() }

// Size is the extent computed by the last Reindex.
func (img *Image) Size() Size { return img.size }

// ChunkCount is the number of chunks in the lookup table.
func (img *Image) ChunkCount() int { return len(img.lookup) }

func (img *Image) origin(i int) geometry.Vec4 {
	o, _ := img.lookup[i].Origin()
	return o
}

// Reindex orders the chunks, infers the image size, moves the properties
// shared by all chunks into the image and reconstructs missing geometry.
// It returns whether the image is valid afterwards.
func (img *Image) Reindex() bool {
	img.clean = false
	if img.set.IsEmpty() {
		img.log.Warn("reindexing an empty image is useless")
		return false
	}
	if !img.set.IsRectangular() {
		img.log.Error("the image is incomplete, reindex will probably fail")
	}

	img.lookup = img.set.Lookup()
	first := img.lookup[0]
	chunkDims := first.RelevantDims()
	horizontal := img.set.HorizontalSize()

	if o, ok := first.Origin(); ok {
		if err := setVecProp(img.Props, PropIndexOrigin, o); err != nil {
			img.log.Error("cannot set index origin", zap.Error(err))
		}
	}

	// repeated acquisitions already occupy the last axis
	sortDims := Dims
	if horizontal > 1 {
		sortDims--
	}

	size := NewSize()
	if chunkDims >= Dims {
		if len(img.lookup) > 1 {
			img.log.Error("cannot combine chunks spanning all axes", zap.Int("chunks", len(img.lookup)))
			return false
		}
	} else {
		// geometry is detected on the positions of the first stack only
		positions := len(img.lookup) / horizontal
		used := positions
		img.log.Debug("computing strides", zap.Int("from", chunkDims), zap.Int("to", sortDims))
		for i := chunkDims; i < sortDims; i++ {
			base := size.Volume()
			var stride int
			stride, used = img.chunkStride(base, used)
			size[i] = stride / base
		}
		if used < positions {
			img.dropPositions(positions, used, horizontal)
		}
	}
	if sortDims < Dims {
		size[Dims-1] = horizontal
	}
	if v := size.Volume(); v != len(img.lookup) {
		if v > len(img.lookup) || horizontal > 1 {
			img.log.Error("detected layout does not match the chunk count",
				zap.Stringer("size", size), zap.Int("chunks", len(img.lookup)))
			return false
		}
		img.log.Warn("ignoring chunks not fitting the detected layout",
			zap.Int("chunks", len(img.lookup)), zap.Int("used", v))
		img.lookup = img.lookup[:v]
	}

	img.hoistCommon()

	for i := 0; i < chunkDims; i++ {
		size[i] = first.Size()[i]
	}
	img.size = size

	img.normalizeVectors()
	if chunkDims == 2 && size[2] > 1 {
		img.deriveSliceGeometry(size[2])
	}
	img.deriveSliceVec()
	img.deriveFoV()

	img.clean = img.Props.IsValid()
	if !img.clean {
		img.log.Warn("the image is not valid after reindexing", zap.Stringer("missing", img.Props.Missing()))
	}
	return img.clean
}

// chunkStride looks for the first dimensional break at a multiple of base
// among the first n lookup entries: the first chunk that is not farther
// from chunk 0 than from its predecessor starts a new block. Without a break
// the n entries are one block, truncated to a multiple of base if
// necessary. It returns the block size and how many entries remain in use.
func (img *Image) chunkStride(base, n int) (stride, used int) {
	if n >= 4*base {
		o0 := img.origin(0)
		if img.origin(base).Sub(o0).SqLen() == 0 {
			img.log.Debug("no geometric structure left, assuming no more breaks", zap.Int("stride", base))
			return base, n
		}
		for i := base; i < n-base; i += base {
			next := img.origin(i + base)
			if next.Sub(o0).SqLen() <= next.Sub(img.origin(i)).SqLen() {
				img.log.Debug("dimensional break", zap.Int("at", i+base))
				return i + base, n
			}
		}
	}
	if rem := n % base; rem != 0 {
		img.log.Warn("chunk count is not divisible by the block size, the image may be incomplete",
			zap.Int("chunks", n), zap.Int("block", base), zap.Int("ignored", rem))
		return n - rem, n - rem
	}
	return n, n
}

// dropPositions keeps the first used positions of every stack. The lookup
// holds horizontal stacks of positions entries each, one after the other.
func (img *Image) dropPositions(positions, used, horizontal int) {
	kept := make([]*Chunk, 0, used*horizontal)
	for s := 0; s < horizontal; s++ {
		kept = append(kept, img.lookup[s*positions:s*positions+used]...)
	}
	img.log.Warn("ignoring chunks not fitting the detected layout",
		zap.Int("chunks", len(img.lookup)), zap.Int("used", len(kept)))
	img.lookup = kept
}

// hoistCommon moves the properties equal in all chunks into the image.
// Needed properties stay in the chunks so they remain valid.
func (img *Image) hoistCommon() {
	common := img.lookup[0].Props.Clone()
	uniques := property.NewPathSet()
	for _, c := range img.lookup[1:] {
		c.Props.ToCommonUnique(common, uniques)
	}
	img.log.Debug("chunk-unique properties", zap.Int("count", uniques.Len()), zap.Stringer("paths", uniques))

	if rejects := img.Props.Join(common, false); rejects.Len() > 0 {
		img.log.Warn("image properties differ from the chunks, keeping the image's",
			zap.Stringer("paths", rejects))
	}
	for _, c := range img.lookup {
		c.Props.RemoveTree(common, true)
	}
}

func (img *Image) normalizeVectors() {
	for _, name := range []string{PropReadVec, PropPhaseVec, PropSliceVec} {
		v, ok := vecProp(img.Props, name)
		if !ok {
			continue
		}
		n, ok := v.Norm()
		if !ok {
			img.log.Error("orientation vector has length zero", zap.String("vector", name))
			continue
		}
		if err := setVecProp(img.Props, name, n); err != nil {
			img.log.Error("cannot store normalized vector", zap.String("vector", name), zap.Error(err))
		}
	}
}

// deriveSliceGeometry checks or synthesizes the slice direction from the
// first and last slice, and the slice gap from the first two.
func (img *Image) deriveSliceGeometry(n int) {
	o0 := img.origin(0)
	dist, ok := img.origin(n - 1).Sub(o0).Norm()
	if !ok {
		img.log.Error("first and last slice share their origin")
	} else if sv, has := vecProp(img.Props, PropSliceVec); has {
		if !geometry.FuzzyEqual(dist, sv) {
			img.log.Warn("existing sliceVec differs from the distance between first and last slice",
				zap.Stringer("sliceVec", sv), zap.Stringer("distance", dist))
		}
	} else {
		img.log.Debug("synthesized sliceVec from the slice distance", zap.Stringer("sliceVec", dist))
		img.setVec(PropSliceVec, dist)
	}

	voxelSize, ok := vecProp(img.Props, PropVoxelSize)
	if !ok {
		return
	}
	gap := img.origin(1).Sub(o0).Len() - voxelSize[2]
	if gap < 0 && !geometry.FuzzyEqualScalar(gap, 0) {
		img.log.Debug("slices overlap, not deriving a gap", zap.Float64("gap", gap))
		return
	}
	gap = math.Max(gap, 0)
	if existing, has := vecProp(img.Props, PropVoxelGap); has {
		if !geometry.FuzzyEqualScalar(existing[2], gap) {
			img.log.Warn("existing slice gap differs from the distance between first and second slice",
				zap.Float64("voxelGap", existing[2]), zap.Float64("distance", gap))
		}
		return
	}
	img.log.Debug("synthesized slice gap", zap.Float64("gap", gap))
	img.setVec(PropVoxelGap, geometry.NewVec4(0, 0, gap))
}

func (img *Image) deriveSliceVec() {
	read, okR := vecProp(img.Props, PropReadVec)
	phase, okP := vecProp(img.Props, PropPhaseVec)
	if !okR || !okP {
		return
	}
	if read.Dot(phase) > 0.01 {
		img.log.Warn("readVec and phaseVec are not orthogonal")
	}
	cross := read.Cross(phase)
	if sv, has := vecProp(img.Props, PropSliceVec); has {
		if !geometry.FuzzyEqual(cross, sv) {
			img.log.Warn("existing sliceVec differs from the cross product of readVec and phaseVec",
				zap.Stringer("sliceVec", sv), zap.Stringer("cross", cross))
		}
		return
	}
	img.log.Warn("used the cross product of readVec and phaseVec as sliceVec, that might be wrong",
		zap.Stringer("sliceVec", cross))
	img.setVec(PropSliceVec, cross)
}

// fov computes the field of view from voxel size and gap; unknown gap
// components count as zero.
func (img *Image) fov() (geometry.Vec4, bool) {
	voxelSize, ok := vecProp(img.Props, PropVoxelSize)
	if !ok {
		return geometry.Vec4{}, false
	}
	gap, _ := vecProp(img.Props, PropVoxelGap)
	var out geometry.Vec4
	for i := range out {
		g := gap[i]
		if math.IsInf(g, 0) || math.IsNaN(g) {
			g = 0
		}
		out[i] = float64(img.size[i])*voxelSize[i] + float64(img.size[i]-1)*g
	}
	return out, true
}

func (img *Image) deriveFoV() {
	calc, ok := img.fov()
	if !ok {
		return
	}
	if stored, has := vecProp(img.Props, PropFoV); has {
		if !geometry.FuzzyEqual(stored, calc) {
			img.log.Warn("stored field of view differs from the calculated one",
				zap.Stringer("stored", stored), zap.Stringer("calculated", calc))
		}
		return
	}
	img.setVec(PropFoV, calc)
}

func (img *Image) setVec(name string, v geometry.Vec4) {
	if err := setVecProp(img.Props, name, v); err != nil {
		img.log.Error("cannot store vector", zap.String("property", name), zap.Error(err))
	}
}

// EnsureIndexed reindexes the image if needed and reports why that failed.
func (img *Image) EnsureIndexed() error {
	if img.clean {
		return nil
	}
	if img.set.IsEmpty() {
		return ErrEmptyImage
	}
	if !img.Reindex() {
		return errors.Wrapf(ErrNotIndexed, "missing %s", img.Props.Missing())
	}
	return nil
}

func (img *Image) lazyIndex() {
	if img.clean {
		return
	}
	img.log.Debug("image is not clean, running reindex")
	if !img.Reindex() {
		img.log.Error("reindexing failed, results may be unreliable")
	}
}

// ChunkAt returns the chunk at linear index i of the lookup table. It does
// not reindex.
func (img *Image) ChunkAt(i int) (*Chunk, error) {
	if len(img.lookup) == 0 {
		return nil, ErrNotIndexed
	}
	if i < 0 || i >= len(img.lookup) {
		return nil, errors.Wrapf(ErrOutOfRange, "chunk %d of %d", i, len(img.lookup))
	}
	return img.lookup[i], nil
}

// ChunkList returns the lookup table, reindexing first if necessary.
func (img *Image) ChunkList() []*Chunk {
	img.lazyIndex()
	return slices.Clone(img.lookup)
}

// locate maps a linear voxel index to the chunk holding it and the offset
// inside that chunk.
func (img *Image) locate(idx int) (*Chunk, int, error) {
	if len(img.lookup) == 0 {
		return nil, 0, ErrNotIndexed
	}
	cv := img.lookup[0].Volume()
	c, err := img.ChunkAt(idx / cv)
	if err != nil {
		return nil, 0, err
	}
	return c, idx % cv, nil
}

// GetChunk returns a copy of the chunk holding the voxel at at. The copy
// has its own property tree but shares the voxels. With copyMetadata the
// image properties are joined into the copy.
func (img *Image) GetChunk(at Coords, copyMetadata bool) (*Chunk, error) {
	img.lazyIndex()
	idx, ok := img.size.Index(at)
	if !ok {
		return nil, errors.Wrapf(ErrOutOfRange, "%v not in %s", at, img.size)
	}
	c, _, err := img.locate(idx)
	if err != nil {
		return nil, err
	}
	out := c.copyOf()
	if copyMetadata {
		out.Props.Join(img.Props, false)
	}
	return out, nil
}

// VoxelAt returns the voxel at at converted to float64.
func (img *Image) VoxelAt(at Coords) (float64, error) {
	img.lazyIndex()
	idx, ok := img.size.Index(at)
	if !ok {
		return 0, errors.Wrapf(ErrOutOfRange, "%v not in %s", at, img.size)
	}
	c, off, err := img.locate(idx)
	if err != nil {
		return 0, err
	}
	return c.voxels.At(off), nil
}

// BytesPerVoxel is the largest voxel size of all chunks.
func (img *Image) BytesPerVoxel() int {
	img.lazyIndex()
	size := 0
	for i, c := range img.lookup {
		b := c.BytesPerVoxel()
		if i > 0 && b != size {
			img.log.Warn("not all voxels have the same byte size, using the biggest",
				zap.Int("have", size), zap.Int("chunk", b))
		}
		size = max(size, b)
	}
	return size
}

// TypeName is the voxel type of the chunk with the widest voxels.
func (img *Image) TypeName() string {
	img.lazyIndex()
	name, width := "", 0
	for _, c := range img.lookup {
		if b := c.BytesPerVoxel(); b > width {
			name, width = c.TypeName(), b
		}
	}
	return name
}

// MinMax returns the smallest and largest voxel of the image.
func (img *Image) MinMax() (lo, hi float64) {
	img.lazyIndex()
	for i, c := range img.lookup {
		clo, chi := c.voxels.MinMax()
		if i == 0 {
			lo, hi = clo, chi
			continue
		}
		lo, hi = math.Min(lo, clo), math.Max(hi, chi)
	}
	return lo, hi
}

// Stats returns mean and standard deviation of all voxels.
func (img *Image) Stats() (mean, std float64) {
	img.lazyIndex()
	values := make([]float64, 0, len(img.lookup)*max(1, img.lookupVolume()))
	for _, c := range img.lookup {
		for i := 0; i < c.voxels.Len(); i++ {
			values = append(values, c.voxels.At(i))
		}
	}
	if len(values) == 0 {
		return 0, 0
	}
	return stat.MeanStdDev(values, nil)
}

func (img *Image) lookupVolume() int {
	if len(img.lookup) == 0 {
		return 0
	}
	return img.lookup[0].Volume()
}

// ChunksProperties lists the value of path for every chunk in lookup
// order. With unique, empty values and values equal to their predecessor
// in the list are skipped. The image must be clean.
func (img *Image) ChunksProperties(path string, unique bool) []property.Value {
	if !img.clean {
		img.log.Error("cannot get chunk properties from an unclean image, run reindex first")
		return nil
	}
	p := property.ParsePath(path)
	var out []property.Value
	for _, c := range img.lookup {
		v, _ := c.Props.QueryValue(p)
		if unique {
			if v.IsEmpty() || (len(out) > 0 && out[len(out)-1].Equal(v)) {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

// FoV returns the stored field of view.
func (img *Image) FoV() (geometry.Vec4, bool) { return vecProp(img.Props, PropFoV) }

// Frame returns the spatial placement of the image.
func (img *Image) Frame() (geometry.Frame, error) {
	var f geometry.Frame
	for _, p := range []struct {
		name string
		dst  *geometry.Vec4
	}{
		{PropIndexOrigin, &f.Origin},
		{PropReadVec, &f.Read},
		{PropPhaseVec, &f.Phase},
		{PropSliceVec, &f.Slice},
	} {
		v, ok := vecProp(img.Props, p.name)
		if !ok {
			return f, errors.Errorf("image has no %s", p.name)
		}
		*p.dst = v
	}
	return f, nil
}

// TransformCoords rotates the orientation vectors by the 3x3 matrix t and
// carries the index origin into the new coordinate space.
func (img *Image) TransformCoords(t mat.Matrix) error {
	f, err := img.Frame()
	if err != nil {
		return err
	}
	out, err := f.Transform(t)
	if err != nil {
		return err
	}
	img.setVec(PropIndexOrigin, out.Origin)
	img.setVec(PropReadVec, out.Read)
	img.setVec(PropPhaseVec, out.Phase)
	img.setVec(PropSliceVec, out.Slice)
	return nil
}

// Cmp counts the voxels in which img and other differ. A difference in
// volume is counted in full; the overlapping range of linear indices is
// compared voxel by voxel.
func (img *Image) Cmp(other *Image) int {
	img.lazyIndex()
	other.lazyIndex()

	v1, v2 := img.size.Volume(), other.size.Volume()
	ret := 0
	if img.size != other.size {
		img.log.Warn("image sizes differ, adding the difference to the result",
			zap.Stringer("size", img.size), zap.Stringer("other", other.size))
		ret += abs(v1 - v2)
	}

	n := min(v1, v2)
	for i := 0; i < n; {
		c1, off1, err1 := img.locate(i)
		c2, off2, err2 := other.locate(i)
		if err1 != nil || err2 != nil {
			img.log.Error("cannot compare, lookup table is incomplete", zap.Int("voxel", i))
			return ret + n - i
		}
		if c1.TypeName() != c2.TypeName() {
			img.log.Debug("comparing chunks of different voxel types",
				zap.String("type", c1.TypeName()), zap.String("other", c2.TypeName()))
		}
		run := min(c1.Volume()-off1, c2.Volume()-off2, n-i)
		ret += c1.voxels.CompareRange(off1, off1+run, c2.voxels, off2)
		i += run
	}
	return ret
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
