package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestAutoscaleFloatIntoInt8(t *testing.T) {
	m := NewMapper(Autoscale, zaptest.NewLogger(t))
	sc, err := ComputeScaling[float64, int8](m, -100, 100)
	require.NoError(t, err)
	assert.InDelta(t, 1.27, sc.Scale, 1e-9)
	assert.InDelta(t, 0, sc.Offset, 1e-9)

	dst := make([]int8, 3)
	n := Convert(m, []float64{-100, 0, 100}, dst, sc)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int8{-127, 0, 127}, dst)
}

func TestScalingPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		run    func(*Mapper) (Scaling, error)
		scale  float64
		offset float64
	}{
		{
			name:   "integer source is never upscaled by autoscale",
			policy: Autoscale,
			run:    func(m *Mapper) (Scaling, error) { return ComputeScaling[int16, uint8](m, 10, 20) },
			scale:  1,
		},
		{
			name:   "upscale forces scaling of integer source",
			policy: Upscale,
			run:    func(m *Mapper) (Scaling, error) { return ComputeScaling[int16, uint8](m, 10, 20) },
			scale:  12.75,
		},
		{
			name:   "downscale into unsigned",
			policy: NoUpscale,
			run:    func(m *Mapper) (Scaling, error) { return ComputeScaling[uint16, uint8](m, 0, 4095) },
			scale:  255.0 / 4095,
		},
		{
			name:   "positive range is shifted towards zero",
			policy: Upscale,
			run:    func(m *Mapper) (Scaling, error) { return ComputeScaling[float32, int8](m, 1000, 1100) },
			scale:  1.27,
			offset: -1270,
		},
		{
			name:   "float destination is never scaled",
			policy: Autoscale,
			run:    func(m *Mapper) (Scaling, error) { return ComputeScaling[int32, float32](m, -1e9, 1e9) },
			scale:  1,
		},
		{
			name:   "noscale",
			policy: NoScale,
			run:    func(m *Mapper) (Scaling, error) { return ComputeScaling[float64, uint8](m, 0, 1e6) },
			scale:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := tt.run(NewMapper(tt.policy, zaptest.NewLogger(t)))
			require.NoError(t, err)
			assert.InDelta(t, tt.scale, sc.Scale, 1e-9)
			assert.InDelta(t, tt.offset, sc.Offset, 1e-9)
		})
	}
}

func TestInvalidRange(t *testing.T) {
	_, err := ComputeScaling[float64, int8](NewMapper(Autoscale, nil), 2, 1)
	require.Error(t, err)
}

func TestConvertRoundsAndSaturates(t *testing.T) {
	m := NewMapper(NoScale, nil)

	dst := make([]int8, 6)
	Convert(m, []float64{2.5, 3.5, -2.5, 1000, -1000, math.NaN()}, dst, Identity)
	assert.Equal(t, []int8{2, 4, -2, 127, -128, 0}, dst)

	big := make([]int64, 1)
	Convert(m, []float64{1e30}, big, Identity)
	assert.Positive(t, big[0])

	f := make([]float32, 1)
	Convert(m, []float64{1e300}, f, Identity)
	assert.Equal(t, float32(math.MaxFloat32), f[0])
}

func TestConvertLengthMismatch(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := NewMapper(NoScale, zap.New(core))

	dst := make([]uint8, 4)
	n := Convert(m, []int{1, 2}, dst, Identity)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint8{1, 2, 0, 0}, dst)
	assert.Equal(t, 1, logs.FilterMessage("source is shorter than destination").Len())

	n = Convert(m, []int{1, 2, 3}, dst[:1], Identity)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestMap(t *testing.T) {
	m := NewMapper(Autoscale, nil)
	src := []float64{0, 0.5, 1}
	dst := make([]uint16, len(src))
	sc, err := Map(m, src, dst)
	require.NoError(t, err)
	assert.InDelta(t, 65535, sc.Scale, 1e-9)
	assert.Equal(t, []uint16{0, 32768, 65535}, dst)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("noupscale")
	require.NoError(t, err)
	assert.Equal(t, NoUpscale, p)
	assert.Equal(t, "noupscale", p.String())

	_, err = ParsePolicy("sideways")
	require.ErrorIs(t, err, ErrUnknownPolicy)
}
