package property

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Get returns the first element of the value at path as T.
func Get[T Scalar](t *Tree, path string) (T, bool) {
	v, ok := t.QueryValue(ParsePath(path))
	if !ok {
		var zero T
		return zero, false
	}
	return As[T](v)
}

// GetOr is Get with a fallback for missing or mistyped values.
func GetOr[T Scalar](t *Tree, path string, def T) T {
	if v, ok := Get[T](t, path); ok {
		return v
	}
	return def
}

// Set stores elems at path, creating parent branches as needed.
func Set[T Scalar](t *Tree, path string, elems ...T) error {
	if err := t.SetValue(ParsePath(path), NewValue(elems...)); err != nil {
		return errors.Wrapf(err, "set %s", path)
	}
	return nil
}

// Print writes one "path: value" line per value of t, aligning the colons.
// With label each value is followed by its type name.
func (t *Tree) Print(w io.Writer, label bool) error {
	type line struct {
		p Path
		v Value
	}
	var lines []line
	width := 0
	t.walk(nil, func(p Path, v Value) bool {
		lines = append(lines, line{p, v})
		width = max(width, p.Length())
		return true
	})
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.p.String())
		b.WriteString(strings.Repeat(" ", width-l.p.Length()))
		b.WriteString(": ")
		b.WriteString(l.v.Format(label))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Tree) String() string {
	var b strings.Builder
	_ = t.Print(&b, false)
	return b.String()
}
