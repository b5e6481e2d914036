// Package numeric maps values of one numeric type into the domain of
// another, computing a scale and offset so that a known source range fits
// the destination without overflow.
package numeric

import (
	"math"
	"reflect"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/constraints"
)

// Number is any Go integer or floating point type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Policy selects how aggressively values are scaled.
type Policy uint8

const (
	// Autoscale scales both ways for floating point sources and never
	// upscales integer sources.
	Autoscale Policy = iota
	// NoUpscale never scales by more than 1.
	NoUpscale
	// Upscale scales up even integer sources.
	Upscale
	// NoScale keeps scale 1 and offset 0.
	NoScale
)

var policyNames = [...]string{"autoscale", "noupscale", "upscale", "noscale"}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return "unknown"
}

var ErrUnknownPolicy = errors.New("unknown scaling policy")

// ParsePolicy reads the String form of a policy.
func ParsePolicy(s string) (Policy, error) {
	for i, n := range policyNames {
		if n == s {
			return Policy(i), nil
		}
	}
	return Autoscale, errors.Wrapf(ErrUnknownPolicy, "%q", s)
}

// Scaling is applied as dst = src*Scale + Offset.
type Scaling struct {
	Scale  float64
	Offset float64
}

// Identity is the scaling that changes nothing.
var Identity = Scaling{Scale: 1}

func (s Scaling) IsIdentity() bool { return s.Scale == 1 && s.Offset == 0 }

// Mapper computes and applies scalings under a fixed policy.
type Mapper struct {
	policy Policy
	log    *zap.Logger
}

func NewMapper(policy Policy, log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mapper{policy: policy, log: log}
}

func (m *Mapper) Policy() Policy { return m.policy }

type domain struct {
	lo, hi  float64
	integer bool
}

func domainOf[T Number]() domain {
	switch reflect.TypeOf((*T)(nil)).Elem().Kind() {
	case reflect.Int8:
		return domain{math.MinInt8, math.MaxInt8, true}
	case reflect.Int16:
		return domain{math.MinInt16, math.MaxInt16, true}
	case reflect.Int32:
		return domain{math.MinInt32, math.MaxInt32, true}
	case reflect.Int, reflect.Int64:
		return domain{math.MinInt64, math.MaxInt64, true}
	case reflect.Uint8:
		return domain{0, math.MaxUint8, true}
	case reflect.Uint16:
		return domain{0, math.MaxUint16, true}
	case reflect.Uint32:
		return domain{0, math.MaxUint32, true}
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return domain{0, math.MaxUint64, true}
	case reflect.Float32:
		return domain{-math.MaxFloat32, math.MaxFloat32, false}
	}
	return domain{-math.MaxFloat64, math.MaxFloat64, false}
}

// noConstraint turns a zero or undefined ratio into "any scale will do".
func noConstraint(num, den float64) float64 {
	if den == 0 {
		return math.MaxFloat64
	}
	if r := num / den; r != 0 {
		return r
	}
	return math.MaxFloat64
}

// ComputeScaling returns the scale and offset that fit values in
// [min, max] of type S into the domain of D.
//
// Floating point destinations and the NoScale policy always get the
// identity. A range containing zero is scaled around zero; otherwise it is
// first shifted towards zero if it does not fit. The result is the smaller
// of the scales imposed by either edge of the destination domain.
func ComputeScaling[S, D Number](m *Mapper, min, max float64) (Scaling, error) {
	if min > max {
		return Scaling{}, errors.Errorf("invalid source range [%g, %g]", min, max)
	}
	dst := domainOf[D]()
	if m.policy == NoScale || !dst.integer {
		return Identity, nil
	}
	policy := m.policy
	if policy == Autoscale && domainOf[S]().integer {
		m.log.Debug("won't upscale, source type is discrete",
			zap.Stringer("type", reflect.TypeOf((*S)(nil)).Elem()))
		policy = NoUpscale
	}

	var offset float64
	switch {
	case min > 0 || dst.lo == 0:
		if max-dst.hi > 0 {
			offset = -min
		}
	case max < 0 || dst.hi == 0:
		if dst.lo-min > 0 {
			offset = -max
		}
	}

	scale := math.Min(noConstraint(dst.hi, max+offset), noConstraint(dst.lo, min+offset))
	if scale < 1 {
		m.log.Warn("downscaling values, information may be lost", zap.Float64("scale", scale))
	} else if policy == NoUpscale && scale > 1 {
		m.log.Debug("upscale not allowed, clamping scale to 1", zap.Float64("scale", scale))
		scale = 1
	}
	return Scaling{Scale: scale, Offset: offset * scale}, nil
}

// Convert writes src scaled by sc into dst and returns the number of
// converted elements, which is the length of the shorter slice. Integer
// results are rounded half to even; all results saturate at the limits of
// D.
func Convert[S, D Number](m *Mapper, src []S, dst []D, sc Scaling) int {
	switch {
	case len(src) > len(dst):
		m.log.Error("source won't fit into destination, converting only part of it",
			zap.Int("src", len(src)), zap.Int("dst", len(dst)))
	case len(src) < len(dst):
		m.log.Warn("source is shorter than destination",
			zap.Int("src", len(src)), zap.Int("dst", len(dst)))
	}
	n := min(len(src), len(dst))
	dom := domainOf[D]()
	for i := 0; i < n; i++ {
		x := float64(src[i])*sc.Scale + sc.Offset
		if dom.integer {
			x = math.RoundToEven(x)
		}
		dst[i] = saturate[D](x, dom)
	}
	return n
}

func saturate[D Number](x float64, dom domain) D {
	switch {
	case math.IsNaN(x):
		if dom.integer {
			return 0
		}
		return D(x)
	case x <= dom.lo:
		return D(dom.lo)
	case x >= dom.hi:
		// 64 bit limits are not exactly representable as float64
		if dom.hi > 1<<53 {
			return D(math.Nextafter(dom.hi, 0))
		}
		return D(dom.hi)
	}
	return D(x)
}

// Range returns the smallest and largest element of values. Both are 0
// for an empty slice.
func Range[S Number](values []S) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi = float64(values[0]), float64(values[0])
	for _, v := range values[1:] {
		f := float64(v)
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	return lo, hi
}

// Map converts src into dst using the scaling computed from the range of
// src itself.
func Map[S, D Number](m *Mapper, src []S, dst []D) (Scaling, error) {
	lo, hi := Range(src)
	sc, err := ComputeScaling[S, D](m, lo, hi)
	if err != nil {
		return Scaling{}, err
	}
	Convert(m, src, dst, sc)
	return sc, nil
}
