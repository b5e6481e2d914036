package property

import (
	"strings"
	"unicode/utf8"
)

// Separator splits a textual path into segments.
const Separator = '/'

// Path addresses an entry in a Tree. Each element is one segment; a nested
// entry "a/b/c" is Path{"a", "b", "c"}.
type Path []string

// ParsePath splits s at Separator. Empty segments are dropped, so "a//b/"
// and "a/b" are the same path.
func ParsePath(s string) Path {
	return Path(strings.FieldsFunc(s, func(r rune) bool { return r == Separator }))
}

// Append returns a new path with segs appended. p is never modified.
func (p Path) Append(segs ...string) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// Join returns p followed by o.
func (p Path) Join(o Path) Path { return p.Append(o...) }

// Last returns the final segment, or "" for the empty path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Length is the number of runes the path occupies when printed:
// all segment lengths plus one separator between each pair.
func (p Path) Length() int {
	if len(p) == 0 {
		return 0
	}
	n := len(p) - 1
	for _, s := range p {
		n += utf8.RuneCountInString(s)
	}
	return n
}

func (p Path) String() string { return strings.Join(p, string(Separator)) }

// Compare orders paths segment by segment using the case-insensitive key
// order of tree nodes. A proper prefix sorts first.
func (p Path) Compare(o Path) int {
	for i := 0; i < len(p) && i < len(o); i++ {
		if c := compareKeys(p[i], o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(o):
		return -1
	case len(p) > len(o):
		return 1
	}
	return 0
}

// Equal reports whether both paths address the same entry.
func (p Path) Equal(o Path) bool { return len(p) == len(o) && p.Compare(o) == 0 }

// compareKeys is the ordering of keys within one tree node. Keys are
// case-insensitive; "VoxelSize" and "voxelSize" address the same slot.
func compareKeys(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
