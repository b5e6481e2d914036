package property

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"voxelcore/pkg/geometry"
)

// TypeID tags the element type held by a Value.
type TypeID uint8

const (
	TypeNone TypeID = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeVec4
	TypeIVec4
	TypeTime
)

var typeNames = [...]string{
	TypeNone:   "none",
	TypeBool:   "bool",
	TypeInt:    "int",
	TypeFloat:  "float",
	TypeString: "string",
	TypeVec4:   "vec4",
	TypeIVec4:  "ivec4",
	TypeTime:   "time",
}

func (t TypeID) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "TypeID(" + strconv.Itoa(int(t)) + ")"
}

// ParseTypeID is the inverse of TypeID.String.
func ParseTypeID(s string) (TypeID, bool) {
	for i, n := range typeNames {
		if n == s {
			return TypeID(i), true
		}
	}
	return TypeNone, false
}

// Scalar lists the element types a Value can hold.
type Scalar interface {
	bool | int64 | float64 | string | geometry.Vec4 | geometry.IVec4 | time.Time
}

func typeOf[T Scalar]() TypeID {
	var zero T
	switch any(zero).(type) {
	case bool:
		return TypeBool
	case int64:
		return TypeInt
	case float64:
		return TypeFloat
	case string:
		return TypeString
	case geometry.Vec4:
		return TypeVec4
	case geometry.IVec4:
		return TypeIVec4
	case time.Time:
		return TypeTime
	}
	return TypeNone
}

// Value is a typed leaf of a Tree: zero or more elements of a single type.
// A Value with no elements is empty. Needed marks a value that must be set
// for the owning tree to be valid; it is independent of emptiness.
type Value struct {
	typ    TypeID
	elems  []any
	needed bool
}

// NewValue builds a value from one or more elements.
func NewValue[T Scalar](elems ...T) Value {
	if len(elems) == 0 {
		return Value{}
	}
	v := Value{typ: typeOf[T](), elems: make([]any, len(elems))}
	for i, e := range elems {
		v.elems[i] = e
	}
	return v
}

func Int(i int) Value        { return NewValue(int64(i)) }
func Float(f float64) Value  { return NewValue(f) }
func String(s string) Value  { return NewValue(s) }
func Bool(b bool) Value      { return NewValue(b) }
func Vec(c ...float64) Value { return NewValue(geometry.NewVec4(c...)) }
func Time(t time.Time) Value { return NewValue(t) }

// Needed returns an empty value flagged as mandatory.
func Needed() Value { return Value{needed: true} }

func (v Value) Type() TypeID { return v.typ }

// IsEmpty reports whether v holds no elements.
func (v Value) IsEmpty() bool { return len(v.elems) == 0 }

// Len is the number of elements.
func (v Value) Len() int { return len(v.elems) }

func (v Value) IsNeeded() bool { return v.needed }

func (v *Value) SetNeeded(n bool) { v.needed = n }

// At returns element i.
func (v Value) At(i int) any { return v.elems[i] }

// Elems returns a copy of the element list.
func (v Value) Elems() []any { return append([]any(nil), v.elems...) }

// WithNeeded returns a copy of v flagged as mandatory.
func (v Value) WithNeeded() Value {
	v.needed = true
	return v
}

// Clone returns a copy that shares nothing mutable with v.
func (v Value) Clone() Value {
	v.elems = append([]any(nil), v.elems...)
	return v
}

func (v Value) invalid() bool { return v.needed && v.IsEmpty() }

// Assign replaces the content of v by o. The needed flag survives the
// assignment: a slot that was mandatory stays mandatory.
func (v *Value) Assign(o Value) {
	needed := v.needed || o.needed
	*v = o.Clone()
	v.needed = needed
}

// Clear drops all elements but keeps the type tag and needed flag.
func (v *Value) Clear() { v.elems = nil }

// As returns the first element of v as T.
func As[T Scalar](v Value) (T, bool) {
	var zero T
	if v.IsEmpty() {
		return zero, false
	}
	t, ok := v.elems[0].(T)
	return t, ok
}

// AsSlice returns all elements of v as T.
func AsSlice[T Scalar](v Value) ([]T, bool) {
	out := make([]T, 0, len(v.elems))
	for _, e := range v.elems {
		t, ok := e.(T)
		if !ok {
			return nil, false
		}
		out = append(out, t)
	}
	return out, true
}

func (v Value) comparable(o Value) bool {
	return !v.IsEmpty() && !o.IsEmpty() && v.typ == o.typ
}

func (v Value) sameElems(o Value) bool {
	if len(v.elems) != len(o.elems) {
		return false
	}
	for i := range v.elems {
		if !elemEqual(v.elems[i], o.elems[i]) {
			return false
		}
	}
	return true
}

// Equal is true only if both values are non-empty, of the same type and
// hold equal elements. Note that !Equal does not imply Differs.
func (v Value) Equal(o Value) bool { return v.comparable(o) && v.sameElems(o) }

// Differs is true only if both values are non-empty, of the same type and
// hold different elements. Empty or differently typed values neither Equal
// nor Differ.
func (v Value) Differs(o Value) bool { return v.comparable(o) && !v.sameElems(o) }

func elemEqual(a, b any) bool {
	switch x := a.(type) {
	case float64:
		return geometry.FuzzyEqualScalar(x, b.(float64))
	case geometry.Vec4:
		return geometry.FuzzyEqual(x, b.(geometry.Vec4))
	case time.Time:
		return x.Equal(b.(time.Time))
	}
	return a == b
}

// Compare orders the first elements of v and o. Integers and floats are
// mutually comparable; otherwise both must share a type. ok is false if
// the values cannot be ordered.
func (v Value) Compare(o Value) (c int, ok bool) {
	if v.IsEmpty() || o.IsEmpty() {
		return 0, false
	}
	a, b := v.elems[0], o.elems[0]
	if fa, aok := asFloat(a); aok {
		if fb, bok := asFloat(b); bok {
			switch {
			case geometry.FuzzyEqualScalar(fa, fb):
				return 0, true
			case fa < fb:
				return -1, true
			}
			return 1, true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func asFloat(e any) (float64, bool) {
	switch x := e.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Convert returns v with every element converted to dst. The needed flag is
// kept. ok is false if v is empty or any element cannot be converted.
func (v Value) Convert(dst TypeID) (Value, bool) {
	if v.IsEmpty() {
		return v, false
	}
	if v.typ == dst {
		return v.Clone(), true
	}
	out := make([]any, len(v.elems))
	for i, e := range v.elems {
		c, ok := convertElem(e, dst)
		if !ok {
			return Value{}, false
		}
		out[i] = c
	}
	return Value{typ: dst, elems: out, needed: v.needed}, true
}

func convertElem(e any, dst TypeID) (any, bool) {
	switch dst {
	case TypeString:
		return elemString(e), true
	case TypeFloat:
		switch x := e.(type) {
		case bool:
			if x {
				return 1.0, true
			}
			return 0.0, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			return f, err == nil
		}
		return asFloat(e)
	case TypeInt:
		switch x := e.(type) {
		case int64:
			return x, true
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt64 {
				return nil, false
			}
			return int64(math.RoundToEven(x)), true
		case bool:
			if x {
				return int64(1), true
			}
			return int64(0), true
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			return i, err == nil
		}
	case TypeBool:
		switch x := e.(type) {
		case int64:
			return x != 0, true
		case float64:
			return x != 0, true
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			return b, err == nil
		}
	case TypeVec4:
		switch x := e.(type) {
		case geometry.IVec4:
			return x.Float(), true
		case string:
			return parseVec(x)
		}
	case TypeIVec4:
		switch x := e.(type) {
		case geometry.Vec4:
			return x.Round(), true
		case string:
			f, ok := parseVec(x)
			if !ok {
				return nil, false
			}
			return f.Round(), true
		}
	case TypeTime:
		switch x := e.(type) {
		case int64:
			return time.Unix(x, 0).UTC(), true
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
					return t, true
				}
			}
		}
	}
	return nil, false
}

// parseVec accepts the String form "<a|b|c|d>" as well as plain comma or
// space separated lists of up to four numbers.
func parseVec(s string) (geometry.Vec4, bool) {
	var v geometry.Vec4
	fields := strings.FieldsFunc(strings.Trim(s, "<>[]() "), func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	})
	if len(fields) == 0 || len(fields) > 4 {
		return v, false
	}
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return v, false
		}
		v[i] = x
	}
	return v, true
}

func elemString(e any) string {
	switch x := e.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(e)
}

// Format renders the value; with label the type name is appended.
func (v Value) Format(label bool) string {
	var b strings.Builder
	switch len(v.elems) {
	case 0:
		if v.needed {
			b.WriteString("[needed]")
		}
	case 1:
		b.WriteString(elemString(v.elems[0]))
	default:
		b.WriteByte('[')
		for i, e := range v.elems {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(elemString(e))
		}
		b.WriteByte(']')
	}
	if label && !v.IsEmpty() {
		b.WriteString("(" + v.typ.String() + ")")
	}
	return b.String()
}

func (v Value) String() string { return v.Format(false) }
