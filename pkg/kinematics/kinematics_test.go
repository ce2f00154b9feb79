package kinematics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvalice/tvroll/pkg/spool"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	m, err := spool.New(41, 0.1)
	require.NoError(t, err)
	tr, err := New(m, 1500, 0, DefaultStepsPerRevolution)
	require.NoError(t, err)
	return tr
}

func TestNewValidation(t *testing.T) {
	m, err := spool.New(41, 0.1)
	require.NoError(t, err)

	_, err = New(m, 0, 0, 200)
	var ce *spool.ConfigurationError
	assert.True(t, errors.As(err, &ce))

	_, err = New(m, 1500, 0, 0)
	assert.True(t, errors.As(err, &ce))

	_, err = New(m, 1500, 1600, 200)
	assert.Error(t, err)
}

func TestStepsForMove(t *testing.T) {
	steps, err := StepsForMove(100, 41, 200)
	require.NoError(t, err)
	assert.InDelta(t, 155.2731, steps, 1e-4)

	// One perimeter is exactly one revolution.
	steps, err = StepsForMove(math.Pi*50, 50, 200)
	require.NoError(t, err)
	assert.InDelta(t, 200, steps, 1e-9)

	for _, d := range []float64{0, -1} {
		_, err = StepsForMove(10, d, 200)
		var de *DomainError
		assert.True(t, errors.As(err, &de), "diameter %g", d)
	}
}

func TestSynchronizeScenario(t *testing.T) {
	tr := newTestTransport(t)
	p := tr.Reset()

	plan, err := tr.Synchronize(p, 100, Forward)
	require.NoError(t, err)

	assert.InDelta(t, 41, plan.SourceDiameter, 1e-9)
	assert.InDelta(t, 43.329096, plan.SinkDiameter, 1e-5)
	assert.InDelta(t, 155.2731, plan.StepsSource, 1e-3)
	assert.InDelta(t, 146.9266, plan.StepsSink, 1e-3)
	// Ratio equals d_source/d_sink at the pre-move diameters.
	assert.InDelta(t, 41/43.329096, plan.Ratio, 1e-6)
	assert.Less(t, plan.Ratio, 1.0)
}

func TestSynchronizeZeroLength(t *testing.T) {
	tr := newTestTransport(t)
	plan, err := tr.Synchronize(tr.Reset(), 0, Forward)
	require.NoError(t, err)
	assert.Zero(t, plan.StepsSource)
	assert.Zero(t, plan.Ratio)
}

func TestSynchronizeRejectsNegative(t *testing.T) {
	tr := newTestTransport(t)
	_, err := tr.Synchronize(tr.Reset(), -5, Forward)
	var de *DomainError
	assert.True(t, errors.As(err, &de))
}

func TestSynchronizeEqualSpools(t *testing.T) {
	tr := newTestTransport(t)
	plan, err := tr.Synchronize(Pair{Source: 0, Sink: 0, Total: 1500}, 100, Forward)
	require.NoError(t, err)
	assert.Equal(t, plan.StepsSource, plan.StepsSink)
	assert.Equal(t, 1.0, plan.Ratio)
}

func TestApplyMove(t *testing.T) {
	tr := newTestTransport(t)

	tests := []struct {
		name       string
		start      float64
		length     float64
		dir        Direction
		wantSource float64
		wantAchv   float64
		clamped    bool
	}{
		{"forward from rest", 0, 100, Forward, 100, 100, false},
		{"backward", 500, 200, Backward, 300, 200, false},
		{"backward clamps at empty", 50, 200, Backward, 0, 50, true},
		{"forward clamps at full", 1450, 200, Forward, 1500, 50, true},
		{"zero move", 700, 0, Forward, 700, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Pair{Source: tt.start, Sink: 1500 - tt.start, Total: 1500}
			next, mv, err := tr.ApplyMove(p, tt.length, tt.dir)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantSource, next.Source, 1e-9)
			assert.InDelta(t, 1500-tt.wantSource, next.Sink, 1e-9)
			assert.InDelta(t, tt.wantAchv, mv.Achieved, 1e-9)
			assert.Equal(t, tt.clamped, mv.Clamped)
			assert.True(t, next.Conserved())
		})
	}
}

func TestApplyMoveScenario(t *testing.T) {
	tr := newTestTransport(t)
	next, _, err := tr.ApplyMove(tr.Reset(), CmToMm(10), Forward)
	require.NoError(t, err)

	assert.InDelta(t, 100, next.Source, 1e-9)
	assert.InDelta(t, 1400, next.Sink, 1e-9)

	dSrc, dSink := tr.Diameters(next)
	assert.InDelta(t, 41.155273, dSrc, 1e-5)
	assert.InDelta(t, 43.173823, dSink, 1e-5)

	plan, err := tr.Synchronize(next, 100, Forward)
	require.NoError(t, err)
	assert.InDelta(t, 0.953246, plan.Ratio, 1e-5)
}

func TestApplyMoveFailureKeepsPair(t *testing.T) {
	tr := newTestTransport(t)
	p := Pair{Source: 300, Sink: 1200, Total: 1500}
	got, _, err := tr.ApplyMove(p, math.NaN(), Forward)
	assert.Error(t, err)
	assert.Equal(t, p, got)
}

func TestApplyMoveRoundTrip(t *testing.T) {
	tr := newTestTransport(t)

	tests := []struct {
		start  float64
		length float64
	}{
		{0, 100},
		{0, 1500},
		{250, 33.3},
		{700, 800},
		{1499.5, 0.5},
		{1000, 0},
	}
	for _, tt := range tests {
		p := Pair{Source: tt.start, Sink: 1500 - tt.start, Total: 1500}
		fwd, mv, err := tr.ApplyMove(p, tt.length, Forward)
		require.NoError(t, err)
		require.False(t, mv.Clamped, "start %g length %g", tt.start, tt.length)

		back, mv, err := tr.ApplyMove(fwd, tt.length, Backward)
		require.NoError(t, err)
		require.False(t, mv.Clamped, "start %g length %g", tt.start, tt.length)
		assert.InDelta(t, p.Source, back.Source, 1e-9, "start %g length %g", tt.start, tt.length)
		assert.InDelta(t, p.Sink, back.Sink, 1e-9, "start %g length %g", tt.start, tt.length)
	}
}

func TestConservationUnderRandomMoves(t *testing.T) {
	tr := newTestTransport(t)
	p := tr.Reset()
	lengths := []float64{120, -40, 900, 700, -2000, 33.3, -0.7, 1500}
	for _, l := range lengths {
		var err error
		p, _, err = tr.ApplyMove(p, math.Abs(l), DirectionOf(l))
		require.NoError(t, err)
		assert.True(t, p.Conserved(), "after %g: %+v", l, p)
	}

	assert.Equal(t, Pair{Source: 0, Sink: 1500, Total: 1500}, tr.Reset())
}

func TestUnits(t *testing.T) {
	assert.Equal(t, 150.0, CmToMm(15))
	assert.Equal(t, 2.5, MmToCm(25))
}
