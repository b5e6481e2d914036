// Package property implements the hierarchical metadata store shared by
// chunks and images: an ordered tree of typed values addressed by
// slash-separated paths.
//
// Every node keeps its keys unique and sorted (case-insensitively), so the
// merge, diff and subtraction operations are each a single parallel scan of
// two sorted sequences.
//
// A Tree is not safe for concurrent mutation. Readers may share a tree only
// while no writer is active.
package property

import (
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrEmptyPath = errors.New("empty property path")
	ErrNotBranch = errors.New("entry is a value, not a branch")
	ErrNotValue  = errors.New("entry is a branch, not a value")
	ErrNotFound  = errors.New("no such entry")
)

var nopLogger = zap.NewNop()

// Kind tells which side of a Node is in use.
type Kind uint8

const (
	KindValue Kind = iota
	KindBranch
)

func (k Kind) String() string {
	if k == KindBranch {
		return "branch"
	}
	return "value"
}

// Node is one slot of a tree: either a Value or a nested Tree, selected by
// Kind. Exactly one side is meaningful.
type Node struct {
	Kind   Kind
	Value  Value
	Branch *Tree
}

func (n Node) IsBranch() bool { return n.Kind == KindBranch }

// IsEmpty reports whether the slot holds an empty value or an empty branch.
func (n Node) IsEmpty() bool {
	if n.IsBranch() {
		return n.Branch.IsEmpty()
	}
	return n.Value.IsEmpty()
}

// summary returns the node as a value; branches are replaced by a short
// description so they can be shown next to a leaf.
func (n Node) summary() Value {
	if n.IsBranch() {
		return String("[[branch with " + strconv.Itoa(n.Branch.Len()) + " entries]]")
	}
	return n.Value
}

func (n Node) clone(log *zap.Logger) Node {
	if n.IsBranch() {
		return Node{Kind: KindBranch, Branch: n.Branch.cloneWith(log)}
	}
	return Node{Kind: KindValue, Value: n.Value.Clone()}
}

type entry struct {
	key  string
	node Node
}

// Tree is an ordered map from one path segment to a Node. The zero value is
// an empty tree that logs nowhere.
type Tree struct {
	entries []entry
	log     *zap.Logger
}

// New returns an empty tree reporting diagnostics to log. A nil log
// discards them.
func New(log *zap.Logger) *Tree { return &Tree{log: log} }

// SetLogger changes the logger of t and every branch below it.
func (t *Tree) SetLogger(log *zap.Logger) {
	t.log = log
	for i := range t.entries {
		if n := t.entries[i].node; n.IsBranch() {
			n.Branch.SetLogger(log)
		}
	}
}

func (t *Tree) logger() *zap.Logger {
	if t.log == nil {
		return nopLogger
	}
	return t.log
}

func (t *Tree) child() *Tree { return &Tree{log: t.log} }

// Len is the number of direct entries.
func (t *Tree) Len() int { return len(t.entries) }

// IsEmpty reports whether t has no entries.
func (t *Tree) IsEmpty() bool { return t == nil || len(t.entries) == 0 }

// Each calls fn for the direct entries of t in key order until fn returns
// false.
func (t *Tree) Each(fn func(key string, n Node) bool) {
	for _, e := range t.entries {
		if !fn(e.key, e.node) {
			return
		}
	}
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree { return t.cloneWith(t.log) }

func (t *Tree) cloneWith(log *zap.Logger) *Tree {
	out := &Tree{log: log, entries: make([]entry, len(t.entries))}
	for i, e := range t.entries {
		out.entries[i] = entry{key: e.key, node: e.node.clone(log)}
	}
	return out
}

// seek searches key in t.entries[from:]. It returns the index of the first
// entry not less than key and whether that entry matches.
func (t *Tree) seek(from int, key string) (int, bool) {
	i, found := slices.BinarySearchFunc(t.entries[from:], key, func(e entry, k string) int {
		return compareKeys(e.key, k)
	})
	return from + i, found
}

func (t *Tree) search(key string) (int, bool) { return t.seek(0, key) }

func (t *Tree) insertAt(i int, e entry) { t.entries = slices.Insert(t.entries, i, e) }

func (t *Tree) removeAt(i int) { t.entries = slices.Delete(t.entries, i, i+1) }

// fetch walks to path, creating missing branches on the way. A missing
// final slot is created with kind create. If strict is set an existing
// final slot must have that kind too.
func (t *Tree) fetch(path Path, create Kind, strict bool) (*Node, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	cur := t
	for i, seg := range path[:len(path)-1] {
		idx, found := cur.search(seg)
		if !found {
			t.logger().Debug("creating an empty branch through fetching",
				zap.Stringer("path", path[:i+1]))
			sub := cur.child()
			cur.insertAt(idx, entry{key: seg, node: Node{Kind: KindBranch, Branch: sub}})
			cur = sub
			continue
		}
		n := cur.entries[idx].node
		if !n.IsBranch() {
			return nil, errors.Wrapf(ErrNotBranch, "cannot descend into %q", path[:i+1].String())
		}
		cur = n.Branch
	}
	last := path.Last()
	idx, found := cur.search(last)
	if !found {
		n := Node{Kind: create}
		if create == KindBranch {
			n.Branch = cur.child()
		}
		cur.insertAt(idx, entry{key: last, node: n})
	}
	n := &cur.entries[idx].node
	if strict && n.Kind != create {
		if create == KindBranch {
			return nil, errors.Wrapf(ErrNotBranch, "%q", path.String())
		}
		return nil, errors.Wrapf(ErrNotValue, "%q", path.String())
	}
	return n, nil
}

// Fetch returns the slot at path, creating it and any missing parent
// branches. A newly created slot holds an empty value. It fails if a parent
// segment already holds a value. The returned pointer is valid until the
// next insertion or removal in the same branch.
func (t *Tree) Fetch(path Path) (*Node, error) { return t.fetch(path, KindValue, false) }

// FetchValue is Fetch restricted to values.
func (t *Tree) FetchValue(path Path) (*Value, error) {
	n, err := t.fetch(path, KindValue, true)
	if err != nil {
		return nil, err
	}
	return &n.Value, nil
}

// FetchBranch is Fetch restricted to branches; a missing slot is created as
// an empty branch.
func (t *Tree) FetchBranch(path Path) (*Tree, error) {
	n, err := t.fetch(path, KindBranch, true)
	if err != nil {
		return nil, err
	}
	return n.Branch, nil
}

// SetValue stores v at path, keeping the needed flag of an existing slot.
func (t *Tree) SetValue(path Path, v Value) error {
	dst, err := t.FetchValue(path)
	if err != nil {
		return err
	}
	dst.Assign(v)
	return nil
}

// Find returns the slot at path without creating anything. ok is false if
// any segment is missing or a parent segment is a value.
func (t *Tree) Find(path Path) (n Node, ok bool) {
	if len(path) == 0 {
		return Node{}, false
	}
	cur := t
	for _, seg := range path[:len(path)-1] {
		idx, found := cur.search(seg)
		if !found || !cur.entries[idx].node.IsBranch() {
			return Node{}, false
		}
		cur = cur.entries[idx].node.Branch
	}
	idx, found := cur.search(path.Last())
	if !found {
		return Node{}, false
	}
	return cur.entries[idx].node, true
}

// QueryValue returns the value at path, which may be empty.
func (t *Tree) QueryValue(path Path) (Value, bool) {
	n, ok := t.Find(path)
	if !ok || n.IsBranch() {
		return Value{}, false
	}
	return n.Value, true
}

// HasProperty reports whether a non-empty value is stored at path.
func (t *Tree) HasProperty(path Path) bool {
	v, ok := t.QueryValue(path)
	return ok && !v.IsEmpty()
}

// HasBranch returns the branch at path.
func (t *Tree) HasBranch(path Path) (*Tree, bool) {
	n, ok := t.Find(path)
	if !ok || !n.IsBranch() {
		return nil, false
	}
	return n.Branch, true
}

// AddNeeded flags the value at path as mandatory, creating it if missing.
func (t *Tree) AddNeeded(path Path) error {
	v, err := t.FetchValue(path)
	if err != nil {
		return err
	}
	v.SetNeeded(true)
	return nil
}

// Remove deletes the entry at path, whatever it holds, and prunes parent
// branches left empty. A type mismatch on the way is logged and nothing is
// removed.
func (t *Tree) Remove(path Path) bool {
	if len(path) == 0 {
		t.logger().Error("refusing to remove an empty path")
		return false
	}
	ok, err := t.removePath(path)
	if err != nil {
		t.logger().Error("aborting the removal", zap.Stringer("path", path), zap.Error(err))
		return false
	}
	return ok
}

func (t *Tree) removePath(path Path) (bool, error) {
	idx, found := t.search(path[0])
	if !found {
		t.logger().Warn("ignoring unknown entry", zap.String("key", path[0]))
		return false, nil
	}
	n := t.entries[idx].node
	if len(path) > 1 {
		if !n.IsBranch() {
			return false, errors.Wrapf(ErrNotBranch, "%q", path[0])
		}
		ok, err := n.Branch.removePath(path[1:])
		if n.Branch.IsEmpty() {
			t.removeAt(idx)
		}
		return ok, err
	}
	if n.IsBranch() && !n.Branch.IsEmpty() {
		t.logger().Debug("deleting non-empty branch", zap.String("key", t.entries[idx].key))
	}
	t.removeAt(idx)
	return true, nil
}

// RemovePaths removes every non-empty value named in paths. With keepNeeded
// values flagged as needed are left alone. It returns false if any removal
// failed.
func (t *Tree) RemovePaths(paths *PathSet, keepNeeded bool) bool {
	ret := true
	paths.Each(func(p Path) bool {
		v, ok := t.QueryValue(p)
		if !ok || v.IsEmpty() {
			t.logger().Debug("can't remove property as it's not there", zap.Stringer("path", p))
			return true
		}
		if !(v.IsNeeded() && keepNeeded) {
			ret = t.Remove(p) && ret
		}
		return true
	})
	return ret
}

// RemoveTree subtracts other from t. For every key present on both sides:
// value pairs that are equal or both empty are deleted (unless needed and
// keepNeeded is set), branch pairs are subtracted recursively and the branch
// is dropped once empty, and mixed pairs are left alone. A set value facing
// an empty or differently typed one survives. It returns false if any mixed
// pair was met.
func (t *Tree) RemoveTree(other *Tree, keepNeeded bool) bool {
	ret := true
	i := 0
	for _, oe := range other.entries {
		idx, found := t.seek(i, oe.key)
		i = idx
		if !found {
			continue
		}
		n := &t.entries[idx].node
		switch {
		case n.IsBranch() && oe.node.IsBranch():
			ret = n.Branch.RemoveTree(oe.node.Branch, keepNeeded) && ret
			if n.Branch.IsEmpty() {
				t.removeAt(idx)
			}
		case !n.IsBranch() && !oe.node.IsBranch():
			same := n.Value.Equal(oe.node.Value) || (n.Value.IsEmpty() && oe.node.Value.IsEmpty())
			if same && !(keepNeeded && n.Value.IsNeeded()) {
				t.removeAt(idx)
			}
		default:
			t.logger().Warn("not deleting entry because it is no subtree on one side",
				zap.String("key", t.entries[idx].key))
			ret = false
		}
	}
	return ret
}

// Join merges other into t and returns the paths that conflicted.
//
// Overlapping values are replaced by other's only if ours is empty or
// overwrite is set; otherwise a differing pair is recorded as rejected and
// ours kept. Overlapping branches are joined recursively. Entries only in
// other are copied in.
func (t *Tree) Join(other *Tree, overwrite bool) *PathSet {
	rejects := NewPathSet()
	t.joinTree(other, overwrite, nil, rejects)
	return rejects
}

func (t *Tree) joinTree(other *Tree, overwrite bool, prefix Path, rejects *PathSet) {
	i := 0
	for _, oe := range other.entries {
		idx, found := t.seek(i, oe.key)
		i = idx
		if !found {
			t.insertAt(idx, entry{key: oe.key, node: oe.node.clone(t.log)})
			t.logger().Debug("inserted property", zap.Stringer("path", prefix.Append(oe.key)))
			continue
		}
		n := &t.entries[idx].node
		switch {
		case !n.IsBranch() && !oe.node.IsBranch():
			if n.Value.IsEmpty() || overwrite {
				n.Value.Assign(oe.node.Value)
			} else if n.Value.Differs(oe.node.Value) {
				rejects.Insert(prefix.Append(t.entries[idx].key))
			}
		case n.IsBranch() && oe.node.IsBranch():
			n.Branch.joinTree(oe.node.Branch, overwrite, prefix.Append(t.entries[idx].key), rejects)
		}
	}
}

// Diff is one entry of a DiffMap. A side that has no entry is an empty
// Value; a side holding a branch where the other holds a value is replaced
// by a short textual summary.
type Diff struct {
	Path        Path
	Left, Right Value
}

// DiffMap maps the textual form of a path to its difference.
type DiffMap map[string]Diff

// Sorted returns the differences in path order.
func (d DiffMap) Sorted() []Diff {
	out := make([]Diff, 0, len(d))
	for _, v := range d {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b Diff) int { return a.Path.Compare(b.Path) })
	return out
}

// Difference reports every path where t and other disagree: values that
// differ, entries present on one side only, and value/branch mismatches.
func (t *Tree) Difference(other *Tree) DiffMap {
	ret := DiffMap{}
	t.diffTree(other, ret, nil)
	return ret
}

func (t *Tree) diffTree(other *Tree, ret DiffMap, prefix Path) {
	add := func(p Path, l, r Value) { ret[p.String()] = Diff{Path: p, Left: l, Right: r} }

	oi := 0
	for _, e := range t.entries {
		idx, found := other.seek(oi, e.key)
		oi = idx
		p := prefix.Append(e.key)
		if !found {
			add(p, e.node.summary(), Value{})
			continue
		}
		on := other.entries[idx].node
		switch {
		case e.node.IsBranch() && on.IsBranch():
			e.node.Branch.diffTree(on.Branch, ret, p)
		case !e.node.IsBranch() && !on.IsBranch():
			if e.node.Value.Differs(on.Value) {
				add(p, e.node.Value, on.Value)
			}
		default:
			add(p, e.node.summary(), on.summary())
		}
	}

	ti := 0
	for _, oe := range other.entries {
		idx, found := t.seek(ti, oe.key)
		ti = idx
		if !found {
			add(prefix.Append(oe.key), Value{}, oe.node.summary())
		}
	}
}

// RemoveEqual deletes every value of t that equals the value at the same
// path in other, or is empty where other's is empty too. With keepNeeded, needed values survive. Branch
// pairs are handled recursively, but a branch emptied that way stays in
// place.
func (t *Tree) RemoveEqual(other *Tree, keepNeeded bool) {
	i := 0
	for _, oe := range other.entries {
		idx, found := t.seek(i, oe.key)
		i = idx
		if !found {
			continue
		}
		n := t.entries[idx].node
		switch {
		case !n.IsBranch() && !oe.node.IsBranch():
			same := n.Value.Equal(oe.node.Value) || (n.Value.IsEmpty() && oe.node.Value.IsEmpty())
			if same && !(keepNeeded && n.Value.IsNeeded()) {
				t.removeAt(idx)
			}
		case n.IsBranch() && oe.node.IsBranch():
			n.Branch.RemoveEqual(oe.node.Branch, keepNeeded)
		}
	}
}

// walk calls fn for every value below t with its full path, in order.
// It stops early if fn returns false.
func (t *Tree) walk(prefix Path, fn func(Path, Value) bool) bool {
	for _, e := range t.entries {
		p := prefix.Append(e.key)
		if e.node.IsBranch() {
			if !e.node.Branch.walk(p, fn) {
				return false
			}
		} else if !fn(p, e.node.Value) {
			return false
		}
	}
	return true
}

// FlatMap maps the textual form of a path to the value stored there.
type FlatMap map[string]Value

// Flatten returns every value of the tree keyed by its full path. Branches
// are expanded, never emitted themselves.
func (t *Tree) Flatten() FlatMap {
	out := FlatMap{}
	t.walk(nil, func(p Path, v Value) bool {
		out[p.String()] = v
		return true
	})
	return out
}

func (t *Tree) collect(pred func(Value) bool) *PathSet {
	out := NewPathSet()
	t.walk(nil, func(p Path, v Value) bool {
		if pred(v) {
			out.Insert(p)
		}
		return true
	})
	return out
}

// Keys returns the paths of all values.
func (t *Tree) Keys() *PathSet { return t.collect(func(Value) bool { return true }) }

// Missing returns the paths of values flagged as needed but empty.
func (t *Tree) Missing() *PathSet { return t.collect(Value.invalid) }

// Lists returns the paths of values holding more than one element.
func (t *Tree) Lists() *PathSet { return t.collect(func(v Value) bool { return v.Len() > 1 }) }

// IsValid reports whether no value anywhere is needed but empty.
func (t *Tree) IsValid() bool {
	return t.walk(nil, func(_ Path, v Value) bool { return !v.invalid() })
}

// FindSegment searches for an entry named like the last segment of name:
// first in t itself, then depth-first in its branches. It returns the full
// path of the first match of an allowed kind, or nil.
func (t *Tree) FindSegment(name Path, allowValue, allowBranch bool) Path {
	if len(name) == 0 {
		t.logger().Error("search key is invalid, won't search")
		return nil
	}
	if len(name) > 1 {
		t.logger().Warn("stripping search key to its last segment",
			zap.Stringer("key", name), zap.String("segment", name.Last()))
	}
	key := name.Last()
	if idx, found := t.search(key); found {
		e := t.entries[idx]
		if (e.node.IsBranch() && allowBranch) || (!e.node.IsBranch() && allowValue) {
			return Path{e.key}
		}
	}
	for _, e := range t.entries {
		if !e.node.IsBranch() {
			continue
		}
		if found := e.node.Branch.FindSegment(Path{key}, allowValue, allowBranch); len(found) > 0 {
			return Path{e.key}.Join(found)
		}
	}
	return nil
}

// Rename moves the entry at oldPath to newPath. It fails if oldPath does not
// exist or both paths are the same. A non-empty entry at newPath is
// overwritten with a warning.
func (t *Tree) Rename(oldPath, newPath Path) bool {
	if oldPath.Equal(newPath) {
		return false
	}
	old, ok := t.Find(oldPath)
	if !ok {
		t.logger().Warn("cannot rename, it does not exist", zap.Stringer("path", oldPath))
		return false
	}
	if existing, ok := t.Find(newPath); ok && !existing.IsEmpty() {
		t.logger().Warn("overwriting entry by rename",
			zap.Stringer("path", newPath), zap.Stringer("from", oldPath))
	}
	slot, err := t.Fetch(newPath)
	if err != nil {
		t.logger().Error("cannot rename", zap.Stringer("path", oldPath), zap.Error(err))
		return false
	}
	*slot = old.clone(t.log)
	return t.Remove(oldPath)
}

// ToCommonUnique compares common against t. Every path where they differ is
// added to uniques and, if common has something there, removed from common.
// Applied over a series of trees, common shrinks to their intersection.
func (t *Tree) ToCommonUnique(common *Tree, uniques *PathSet) {
	for _, d := range common.Difference(t).Sorted() {
		uniques.Insert(d.Path)
		if !d.Left.IsEmpty() {
			t.logger().Debug("detected difference, removing from common", zap.Stringer("path", d.Path))
			common.Remove(d.Path)
		}
	}
}

// Transform converts the value at from into type dst and stores it at to.
// Unless from equals to, the source is removed when deleteSource is set.
// Converting a value into its own type at the same place is a no-op.
func (t *Tree) Transform(from, to Path, dst TypeID, deleteSource bool) bool {
	found, ok := t.QueryValue(from)
	if !ok || found.IsEmpty() {
		return false
	}
	ret := false
	if found.Type() == dst {
		if from.Equal(to) {
			t.logger().Debug("not transforming into same type at same place", zap.Stringer("path", from))
		} else if err := t.SetValue(to, found); err != nil {
			t.logger().Error("cannot store transformed value", zap.Stringer("path", to), zap.Error(err))
		} else {
			ret = true
		}
	} else {
		conv, ok := found.Convert(dst)
		if !ok {
			t.logger().Warn("conversion failed",
				zap.Stringer("path", from), zap.Stringer("type", dst))
		} else if err := t.SetValue(to, conv); err != nil {
			t.logger().Error("cannot store transformed value", zap.Stringer("path", to), zap.Error(err))
		} else {
			ret = true
		}
		deleteSource = deleteSource && !from.Equal(to)
	}
	if ret && deleteSource {
		t.Remove(from)
	}
	return ret
}
