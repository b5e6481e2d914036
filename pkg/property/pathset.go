package property

import (
	"strings"

	"github.com/google/btree"
)

const pathSetDegree = 8

// PathSet is an ordered set of paths without duplicates. The zero value is
// not usable; create one with NewPathSet.
type PathSet struct {
	t *btree.BTreeG[Path]
}

func lessPath(a, b Path) bool { return a.Compare(b) < 0 }

// NewPathSet returns a set holding paths.
func NewPathSet(paths ...Path) *PathSet {
	s := &PathSet{t: btree.NewG(pathSetDegree, lessPath)}
	for _, p := range paths {
		s.Insert(p)
	}
	return s
}

// ParsePathSet builds a set from textual paths.
func ParsePathSet(paths ...string) *PathSet {
	s := NewPathSet()
	for _, p := range paths {
		s.Insert(ParsePath(p))
	}
	return s
}

// Insert adds p and reports whether it was new.
func (s *PathSet) Insert(p Path) bool {
	_, replaced := s.t.ReplaceOrInsert(append(Path(nil), p...))
	return !replaced
}

func (s *PathSet) Has(p Path) bool { return s.t.Has(p) }

func (s *PathSet) Delete(p Path) { s.t.Delete(p) }

func (s *PathSet) Len() int { return s.t.Len() }

// Each calls fn for every path in order until fn returns false.
func (s *PathSet) Each(fn func(Path) bool) { s.t.Ascend(fn) }

// Slice returns the paths in order.
func (s *PathSet) Slice() []Path {
	out := make([]Path, 0, s.t.Len())
	s.t.Ascend(func(p Path) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Strings returns the paths in order as text.
func (s *PathSet) Strings() []string {
	out := make([]string, 0, s.t.Len())
	s.Each(func(p Path) bool {
		out = append(out, p.String())
		return true
	})
	return out
}

func (s *PathSet) String() string { return strings.Join(s.Strings(), ", ") }
