package data

import (
	"slices"

	"github.com/google/btree"
	"go.uber.org/zap"

	"voxelcore/pkg/geometry"
	"voxelcore/pkg/property"
)

const chunkSetDegree = 16

// position groups the chunks sharing one index origin. More than one chunk
// at a position means repeated acquisitions, ordered by the secondary sort
// keys.
type position struct {
	origin geometry.Vec4
	stack  []*Chunk
}

func lessPosition(a, b *position) bool {
	return geometry.CompareReverse(a.origin, b.origin) < 0
}

// ChunkSet keeps chunks ordered by position (slowest axis first compared,
// see geometry.CompareReverse) and by the secondary sort keys within a
// position.
type ChunkSet struct {
	tree       *btree.BTreeG[*position]
	equalProps []property.Path
	sortKeys   []property.Path
	count      int
	log        *zap.Logger
}

func NewChunkSet(opts Options, log *zap.Logger) *ChunkSet {
	if log == nil {
		log = zap.NewNop()
	}
	s := &ChunkSet{
		tree: btree.NewG(chunkSetDegree, lessPosition),
		log:  log,
	}
	for _, p := range opts.EqualProps {
		s.equalProps = append(s.equalProps, property.ParsePath(p))
	}
	for _, p := range opts.SecondarySort {
		s.sortKeys = append(s.sortKeys, property.ParsePath(p))
	}
	return s
}

func (s *ChunkSet) Len() int { return s.count }

func (s *ChunkSet) IsEmpty() bool { return s.count == 0 }

// first returns the chunk every other chunk is checked against.
func (s *ChunkSet) first() *Chunk {
	p, ok := s.tree.Min()
	if !ok {
		return nil
	}
	return p.stack[0]
}

// compareSecondary orders two chunks at the same position. Keys missing
// or incomparable on either side are skipped.
func (s *ChunkSet) compareSecondary(a, b *Chunk) int {
	for _, k := range s.sortKeys {
		va, _ := a.Props.QueryValue(k)
		vb, _ := b.Props.QueryValue(k)
		if c, ok := va.Compare(vb); ok && c != 0 {
			return c
		}
	}
	return 0
}

// Insert adds c unless it has no origin, one of its equal properties
// differs from the chunks already in the set, or an indistinguishable
// chunk is already stored at its position.
func (s *ChunkSet) Insert(c *Chunk) bool {
	origin, ok := c.Origin()
	if !ok {
		s.log.Error("cannot insert chunk without index origin")
		return false
	}
	if first := s.first(); first != nil {
		for _, p := range s.equalProps {
			a, _ := first.Props.QueryValue(p)
			b, _ := c.Props.QueryValue(p)
			if a.Differs(b) {
				s.log.Debug("refusing chunk, property differs from the first chunk",
					zap.Stringer("property", p), zap.Stringer("first", a), zap.Stringer("chunk", b))
				return false
			}
		}
	}

	pos, found := s.tree.Get(&position{origin: origin})
	if !found {
		s.tree.ReplaceOrInsert(&position{origin: origin, stack: []*Chunk{c}})
		s.count++
		return true
	}
	idx, dup := slices.BinarySearchFunc(pos.stack, c, s.compareSecondary)
	if dup {
		s.log.Debug("refusing chunk, there is already one at this position",
			zap.Stringer("origin", origin))
		return false
	}
	pos.stack = slices.Insert(pos.stack, idx, c)
	s.count++
	return true
}

// HorizontalSize is the number of chunks stacked at the first position.
func (s *ChunkSet) HorizontalSize() int {
	p, ok := s.tree.Min()
	if !ok {
		return 0
	}
	return len(p.stack)
}

// IsRectangular reports whether all positions hold the same number of
// chunks.
func (s *ChunkSet) IsRectangular() bool {
	want := s.HorizontalSize()
	ok := true
	s.tree.Ascend(func(p *position) bool {
		ok = len(p.stack) == want
		return ok
	})
	return ok
}

// Lookup flattens the set: the stack index varies slowest and positions
// fastest. Positions missing a stack entry are skipped.
func (s *ChunkSet) Lookup() []*Chunk {
	depth := 0
	s.tree.Ascend(func(p *position) bool {
		depth = max(depth, len(p.stack))
		return true
	})
	out := make([]*Chunk, 0, s.count)
	for h := 0; h < depth; h++ {
		s.tree.Ascend(func(p *position) bool {
			if h < len(p.stack) {
				out = append(out, p.stack[h])
			}
			return true
		})
	}
	return out
}
