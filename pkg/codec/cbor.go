// Package codec stores property trees as CBOR snapshots.
//
// Snapshots use Core Deterministic Encoding (RFC 8949 §4.2), so equal trees
// always produce identical bytes. Decoding rebuilds the tree through its
// public mutation API, so a decoded tree keeps every invariant of one built
// in memory.
package codec

import (
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"voxelcore/pkg/geometry"
	"voxelcore/pkg/property"
)

// Version is written into every snapshot.
const Version = 1

var (
	ErrVersion     = errors.New("unsupported snapshot version")
	ErrUnknownType = errors.New("unknown value type")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// acquisition times keep their sub-second part
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TimeTag = cbor.EncTagRequired
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxNestedLevels: 256,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type snapshot struct {
	Version int     `cbor:"v"`
	Entries []entry `cbor:"e"`
}

// entry is one slot of a tree. Branches carry Children, values carry Type
// and Elems.
type entry struct {
	Key      string            `cbor:"k"`
	Branch   bool              `cbor:"b,omitempty"`
	Children []entry           `cbor:"c,omitempty"`
	Type     string            `cbor:"t,omitempty"`
	Needed   bool              `cbor:"n,omitempty"`
	Elems    []cbor.RawMessage `cbor:"x,omitempty"`
}

func encodeEntries(t *property.Tree) ([]entry, error) {
	var (
		out []entry
		err error
	)
	t.Each(func(key string, n property.Node) bool {
		e := entry{Key: key}
		if n.IsBranch() {
			e.Branch = true
			e.Children, err = encodeEntries(n.Branch)
		} else {
			e.Needed = n.Value.IsNeeded()
			if !n.Value.IsEmpty() {
				e.Type = n.Value.Type().String()
			}
			for _, el := range n.Value.Elems() {
				var raw []byte
				if raw, err = encMode.Marshal(el); err != nil {
					break
				}
				e.Elems = append(e.Elems, raw)
			}
		}
		if err != nil {
			err = errors.Wrapf(err, "encode %q", key)
			return false
		}
		out = append(out, e)
		return true
	})
	return out, err
}

// Marshal encodes t as a CBOR snapshot.
func Marshal(t *property.Tree) ([]byte, error) {
	entries, err := encodeEntries(t)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(snapshot{Version: Version, Entries: entries})
}

// Unmarshal decodes a snapshot into a new tree logging to log.
func Unmarshal(data []byte, log *zap.Logger) (*property.Tree, error) {
	var s snapshot
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return build(s, log)
}

// WriteTree streams a snapshot of t to w.
func WriteTree(w io.Writer, t *property.Tree) error {
	entries, err := encodeEntries(t)
	if err != nil {
		return err
	}
	return encMode.NewEncoder(w).Encode(snapshot{Version: Version, Entries: entries})
}

// ReadTree reads one snapshot from r.
func ReadTree(r io.Reader, log *zap.Logger) (*property.Tree, error) {
	var s snapshot
	if err := decMode.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return build(s, log)
}

func build(s snapshot, log *zap.Logger) (*property.Tree, error) {
	if s.Version != Version {
		return nil, errors.Wrapf(ErrVersion, "got %d", s.Version)
	}
	t := property.New(log)
	if err := decodeEntries(t, nil, s.Entries); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeEntries(t *property.Tree, prefix property.Path, entries []entry) error {
	for _, e := range entries {
		p := prefix.Append(e.Key)
		if e.Branch {
			if _, err := t.FetchBranch(p); err != nil {
				return errors.Wrapf(err, "create %s", p)
			}
			if err := decodeEntries(t, p, e.Children); err != nil {
				return err
			}
			continue
		}
		v, err := decodeValue(e)
		if err != nil {
			return errors.Wrapf(err, "decode %s", p)
		}
		if err := t.SetValue(p, v); err != nil {
			return errors.Wrapf(err, "store %s", p)
		}
	}
	return nil
}

func decodeValue(e entry) (property.Value, error) {
	var (
		v   property.Value
		err error
	)
	if len(e.Elems) > 0 {
		typ, ok := property.ParseTypeID(e.Type)
		if !ok {
			return v, errors.Wrapf(ErrUnknownType, "%q", e.Type)
		}
		switch typ {
		case property.TypeBool:
			v, err = decodeAll[bool](e.Elems)
		case property.TypeInt:
			v, err = decodeAll[int64](e.Elems)
		case property.TypeFloat:
			v, err = decodeAll[float64](e.Elems)
		case property.TypeString:
			v, err = decodeAll[string](e.Elems)
		case property.TypeVec4:
			v, err = decodeAll[geometry.Vec4](e.Elems)
		case property.TypeIVec4:
			v, err = decodeAll[geometry.IVec4](e.Elems)
		case property.TypeTime:
			v, err = decodeAll[time.Time](e.Elems)
		default:
			return v, errors.Wrapf(ErrUnknownType, "%q", e.Type)
		}
		if err != nil {
			return v, err
		}
	}
	if e.Needed {
		v = v.WithNeeded()
	}
	return v, nil
}

func decodeAll[T property.Scalar](raw []cbor.RawMessage) (property.Value, error) {
	out := make([]T, len(raw))
	for i, r := range raw {
		if err := decMode.Unmarshal(r, &out[i]); err != nil {
			return property.Value{}, errors.Wrapf(err, "element %d", i)
		}
	}
	return property.NewValue(out...), nil
}

// Diagnose renders a snapshot in CBOR diagnostic notation.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
