package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/mat"

	"voxelcore/pkg/geometry"
	"voxelcore/pkg/property"
)

// chunkSpec describes a synthetic chunk for the tests below.
type chunkSpec struct {
	size      Size
	origin    geometry.Vec4
	voxelSize geometry.Vec4
	read      geometry.Vec4
	phase     geometry.Vec4
	acq       int64
	fill      uint16
}

func axial(size Size, origin geometry.Vec4, acq int64) chunkSpec {
	return chunkSpec{
		size:      size,
		origin:    origin,
		voxelSize: geometry.NewVec4(1, 1, 5),
		read:      geometry.NewVec4(1, 0, 0),
		phase:     geometry.NewVec4(0, 1, 0),
		acq:       acq,
		fill:      uint16(acq),
	}
}

func makeChunk(t *testing.T, log *zap.Logger, s chunkSpec) *Chunk {
	t.Helper()
	buf := MakeBuffer[uint16](s.size.Volume())
	for i := range buf.Data() {
		buf.Data()[i] = s.fill
	}
	c, err := NewChunk(buf, s.size, DefaultOptions().ChunkNeeded, log)
	require.NoError(t, err)
	require.NoError(t, property.Set(c.Props, PropIndexOrigin, s.origin))
	require.NoError(t, property.Set(c.Props, PropVoxelSize, s.voxelSize))
	require.NoError(t, property.Set(c.Props, PropReadVec, s.read))
	require.NoError(t, property.Set(c.Props, PropPhaseVec, s.phase))
	require.NoError(t, property.Set(c.Props, PropAcquisitionNumber, s.acq))
	require.NoError(t, property.Set(c.Props, "patient/name", "phantom"))
	return c
}

func buildImage(t *testing.T, log *zap.Logger, specs ...chunkSpec) *Image {
	t.Helper()
	img := NewImage(DefaultOptions(), log)
	for _, s := range specs {
		require.True(t, img.InsertChunk(makeChunk(t, log, s)))
	}
	return img
}

func vec(t *testing.T, img *Image, name string) geometry.Vec4 {
	t.Helper()
	v, ok := property.Get[geometry.Vec4](img.Props, name)
	require.True(t, ok, name)
	return v
}

func TestReindexTwoSlices(t *testing.T) {
	log := zaptest.NewLogger(t)
	img := buildImage(t, log,
		axial(NewSize(64, 64), geometry.NewVec4(0, 0, 5), 2),
		axial(NewSize(64, 64), geometry.NewVec4(0, 0, 0), 1),
	)

	require.True(t, img.Reindex())
	assert.True(t, img.IsClean())
	assert.Equal(t, NewSize(64, 64, 2, 1), img.Size())
	assert.True(t, geometry.FuzzyEqual(geometry.NewVec4(0, 0, 1), vec(t, img, PropSliceVec)))
	assert.Equal(t, 0.0, vec(t, img, PropVoxelGap)[2])
	assert.True(t, geometry.FuzzyEqual(geometry.NewVec4(64, 64, 10, 0), vec(t, img, PropFoV)))
	assert.Equal(t, geometry.NewVec4(0, 0, 0), vec(t, img, PropIndexOrigin))

	// common metadata moved up, needed properties stay
	assert.Equal(t, "phantom", property.GetOr(img.Props, "patient/name", ""))
	for _, c := range img.ChunkList() {
		assert.True(t, c.IsValid())
		assert.False(t, c.Props.HasProperty(property.ParsePath("patient/name")))
		assert.True(t, c.Props.HasProperty(property.ParsePath(PropReadVec)))
	}
	acq := img.ChunksProperties(PropAcquisitionNumber, true)
	require.Len(t, acq, 2)
	assert.Equal(t, "1", acq[0].String())
	assert.Equal(t, "2", acq[1].String())

	v, err := img.VoxelAt(Coords{3, 4, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	_, err = img.VoxelAt(Coords{64, 0, 0, 0})
	require.ErrorIs(t, err, ErrOutOfRange)

	c, err := img.GetChunk(Coords{0, 0, 1, 0}, true)
	require.NoError(t, err)
	assert.Equal(t, "phantom", property.GetOr(c.Props, "patient/name", ""))
	assert.EqualValues(t, 2, property.GetOr(c.Props, PropAcquisitionNumber, int64(0)))
	o, _ := c.Origin()
	assert.Equal(t, geometry.NewVec4(0, 0, 5), o)
	// the copy does not leak back
	require.NoError(t, property.Set(c.Props, "extra", int64(1)))
	orig, err := img.ChunkAt(1)
	require.NoError(t, err)
	assert.False(t, orig.Props.HasProperty(property.ParsePath("extra")))

	orient, err := img.MainOrientation()
	require.NoError(t, err)
	assert.Equal(t, Axial, orient)
}

func TestInsertRejectsChunkWithoutOrigin(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	log := zap.New(core)
	img := buildImage(t, log, axial(NewSize(4, 4), geometry.NewVec4(0, 0, 0), 1))

	bad := makeChunk(t, log, axial(NewSize(4, 4), geometry.NewVec4(0, 0, 5), 2))
	require.True(t, bad.Props.Remove(property.ParsePath(PropIndexOrigin)))
	require.NoError(t, bad.Props.AddNeeded(property.ParsePath(PropIndexOrigin)))

	assert.False(t, img.InsertChunk(bad))
	assert.Equal(t, 1, img.set.Len())
	assert.Equal(t, 1, logs.FilterMessage("cannot insert invalid chunk").Len())
}

func TestReindexTruncatesIncompleteVolume(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	img := NewImage(DefaultOptions(), log)
	n := 0
	for z := 0; z < 3; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				if x == 1 && y == 1 && z == 2 {
					continue
				}
				s := axial(NewSize(), geometry.NewVec4(float64(x), float64(y), float64(z)), int64(n))
				s.voxelSize = geometry.NewVec4(1, 1, 1)
				require.True(t, img.InsertChunk(makeChunk(t, log, s)))
				n++
			}
		}
	}
	require.Equal(t, 11, n)

	assert.True(t, img.Reindex())
	assert.Equal(t, NewSize(2, 2, 2, 1), img.Size())
	assert.Equal(t, 8, img.ChunkCount())
	assert.Equal(t, 1, logs.FilterMessage("chunk count is not divisible by the block size, the image may be incomplete").Len())

	for i := 0; i < 8; i++ {
		c, err := img.ChunkAt(i)
		require.NoError(t, err)
		o, _ := c.Origin()
		want := NewSize(2, 2, 2).Coords(i)
		assert.Equal(t, geometry.NewVec4(float64(want[0]), float64(want[1]), float64(want[2])), o)
	}
}

func TestReindexEmptyImage(t *testing.T) {
	img := NewImage(DefaultOptions(), zaptest.NewLogger(t))
	assert.False(t, img.Reindex())
	require.ErrorIs(t, img.EnsureIndexed(), ErrEmptyImage)
	_, err := img.ChunkAt(0)
	require.ErrorIs(t, err, ErrNotIndexed)
}

func TestEnsureIndexed(t *testing.T) {
	img := buildImage(t, zaptest.NewLogger(t),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 2),
	)
	_, err := img.ChunkAt(0)
	require.ErrorIs(t, err, ErrNotIndexed)

	require.NoError(t, img.EnsureIndexed())
	_, err = img.ChunkAt(2)
	require.ErrorIs(t, err, ErrOutOfRange)

	// a new chunk makes the image unclean again
	require.True(t, img.InsertChunk(makeChunk(t, zaptest.NewLogger(t), axial(NewSize(2, 2), geometry.NewVec4(0, 0, 10), 3))))
	assert.False(t, img.IsClean())
	assert.Len(t, img.ChunkList(), 3)
	assert.True(t, img.IsClean())
	assert.Equal(t, NewSize(2, 2, 3, 1), img.Size())
}

func TestOverDimensionedChunks(t *testing.T) {
	log := zaptest.NewLogger(t)
	full := NewSize(2, 2, 2, 2)
	img := buildImage(t, log, axial(full, geometry.NewVec4(0, 0, 0), 1))
	assert.True(t, img.Reindex())
	assert.Equal(t, full, img.Size())

	require.True(t, img.InsertChunk(makeChunk(t, log, axial(full, geometry.NewVec4(0, 0, 20), 2))))
	assert.False(t, img.Reindex())
	require.ErrorIs(t, img.EnsureIndexed(), ErrNotIndexed)
}

func TestHorizontalStack(t *testing.T) {
	log := zaptest.NewLogger(t)
	img := buildImage(t, log,
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 1),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 2),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 2),
	)
	// same position and acquisition number
	assert.False(t, img.InsertChunk(makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 2))))
	assert.Equal(t, 2, img.set.HorizontalSize())
	assert.True(t, img.set.IsRectangular())

	require.True(t, img.Reindex())
	assert.Equal(t, NewSize(2, 2, 2, 2), img.Size())

	v, err := img.VoxelAt(Coords{0, 0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	v, err = img.VoxelAt(Coords{0, 0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestHorizontalStackSinglePosition(t *testing.T) {
	img := buildImage(t, zaptest.NewLogger(t),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 2),
	)
	require.True(t, img.Reindex())
	assert.Equal(t, NewSize(2, 2, 1, 2), img.Size())
	assert.Equal(t, img.Size().Volume()/4, img.ChunkCount())

	v, err := img.VoxelAt(Coords{0, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestReindexFailsOnLayoutMismatch(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	img := buildImage(t, zap.New(core),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 2),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 3),
	)
	assert.False(t, img.Reindex())
	assert.False(t, img.IsClean())
	assert.Equal(t, 1, logs.FilterMessage("detected layout does not match the chunk count").Len())
}

func TestReindexKeepsDifferentlyTypedValues(t *testing.T) {
	log := zaptest.NewLogger(t)
	first := makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1))
	require.NoError(t, property.Set(first.Props, "echoTime", 5.0))
	second := makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 2))
	require.NoError(t, property.Set(second.Props, "echoTime", int64(7)))

	img := NewImage(DefaultOptions(), log)
	require.True(t, img.InsertChunk(first))
	require.True(t, img.InsertChunk(second))
	require.True(t, img.Reindex())

	c, err := img.ChunkAt(1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), property.GetOr(c.Props, "echoTime", int64(0)))
}

func TestBuildImages(t *testing.T) {
	log := zaptest.NewLogger(t)
	sagittal := func(x float64, acq int64) chunkSpec {
		s := axial(NewSize(2, 2), geometry.NewVec4(x, 0, 0), acq)
		s.read = geometry.NewVec4(0, 1, 0)
		s.phase = geometry.NewVec4(0, 0, 1)
		return s
	}
	invalid := makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 50), 9))
	require.True(t, invalid.Props.Remove(property.ParsePath(PropVoxelSize)))
	require.NoError(t, invalid.Props.AddNeeded(property.ParsePath(PropVoxelSize)))

	chunks := []*Chunk{
		makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1)),
		makeChunk(t, log, sagittal(0, 1)),
		makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 2)),
		makeChunk(t, log, sagittal(5, 2)),
		invalid,
	}
	images := BuildImages(chunks, DefaultOptions(), log)
	require.Len(t, images, 2)

	o, err := images[0].MainOrientation()
	require.NoError(t, err)
	assert.Equal(t, Axial, o)
	o, err = images[1].MainOrientation()
	require.NoError(t, err)
	assert.Equal(t, Sagittal, o)
	assert.Equal(t, NewSize(2, 2, 2, 1), images[1].Size())
}

func TestCmp(t *testing.T) {
	log := zaptest.NewLogger(t)
	two := []chunkSpec{
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1),
		axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 2),
	}
	a := buildImage(t, log, two...)
	b := buildImage(t, log, two...)
	assert.Zero(t, a.Cmp(b))

	data, ok := VoxelsOf[uint16](b.ChunkList()[1])
	require.True(t, ok)
	data[3] = 99
	assert.Equal(t, 1, a.Cmp(b))

	c := buildImage(t, log, append(two, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 10), 3))...)
	// four voxels of volume difference, no mismatch in the overlap
	assert.Equal(t, 4, a.Cmp(c))
}

func TestVoxelTypes(t *testing.T) {
	log := zaptest.NewLogger(t)
	img := NewImage(DefaultOptions(), log)

	narrow := makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 0), 1))
	narrow.voxels = NewBuffer([]uint8{0, 1, 2, 3})
	wide := makeChunk(t, log, axial(NewSize(2, 2), geometry.NewVec4(0, 0, 5), 2))
	wide.voxels = NewBuffer([]uint16{10, 20, 30, 400})
	require.True(t, img.InsertChunk(narrow))
	require.True(t, img.InsertChunk(wide))

	assert.Equal(t, 2, img.BytesPerVoxel())
	assert.Equal(t, "uint16", img.TypeName())
	lo, hi := img.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 400.0, hi)

	mean, std := img.Stats()
	assert.InDelta(t, 58.25, mean, 1e-9)
	assert.Positive(t, std)
}

func TestTransformCoords(t *testing.T) {
	img := buildImage(t, zaptest.NewLogger(t),
		axial(NewSize(2, 2), geometry.NewVec4(1, 2, 3), 1),
		axial(NewSize(2, 2), geometry.NewVec4(1, 2, 8), 2),
	)
	require.NoError(t, img.EnsureIndexed())

	swap := mat.NewDense(3, 3, []float64{0, 1, 0, 1, 0, 0, 0, 0, 1})
	require.NoError(t, img.TransformCoords(swap))
	assert.True(t, geometry.FuzzyEqual(geometry.NewVec4(0, 1, 0), vec(t, img, PropReadVec)))
	assert.True(t, geometry.FuzzyEqual(geometry.NewVec4(1, 0, 0), vec(t, img, PropPhaseVec)))
	assert.True(t, geometry.FuzzyEqual(geometry.NewVec4(2, 1, 3), vec(t, img, PropIndexOrigin)))

	o, err := img.MainOrientation()
	require.NoError(t, err)
	assert.Equal(t, ReversedAxial, o)
}

func TestNewChunkSizeMismatch(t *testing.T) {
	_, err := NewChunk(MakeBuffer[float32](3), NewSize(2, 2), nil, nil)
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSizeIndex(t *testing.T) {
	s := NewSize(3, 4, 5)
	assert.Equal(t, 60, s.Volume())
	assert.Equal(t, 3, s.RelevantDims())
	assert.Equal(t, 0, NewSize().RelevantDims())
	assert.Equal(t, "3x4x5x1", s.String())

	for i := 0; i < s.Volume(); i++ {
		idx, ok := s.Index(s.Coords(i))
		require.True(t, ok)
		require.Equal(t, i, idx)
	}
	_, ok := s.Index(Coords{0, 4, 0, 0})
	assert.False(t, ok)
}
