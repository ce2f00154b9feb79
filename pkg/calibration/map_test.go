package calibration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func markAll(t *testing.T, m *Map, marks map[int]int64) {
	t.Helper()
	for page, steps := range marks {
		_, err := m.Mark(page, steps)
		require.NoError(t, err)
	}
}

func TestMarkKeepsOrder(t *testing.T) {
	m := NewMap(PolicyAccept)
	markAll(t, m, map[int]int64{3: 3000, 1: 1000, 2: 2000})

	entries := m.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Page)
		assert.True(t, e.Defined)
	}
	assert.Equal(t, 3, m.DefinedCount())
}

func TestMarkUpdatesExisting(t *testing.T) {
	m := NewMap(PolicyAccept)
	markAll(t, m, map[int]int64{1: 1000})
	_, err := m.Mark(1, 1100)
	require.NoError(t, err)

	e, ok := m.Entry(1)
	require.True(t, ok)
	assert.Equal(t, int64(1100), e.Steps)
	assert.Len(t, m.Entries(), 1)
}

func TestMarkRange(t *testing.T) {
	m := NewMap(PolicyAccept)
	var re *RangeError

	_, err := m.Mark(-1, 10)
	assert.True(t, errors.As(err, &re))
	_, err = m.Mark(1, -10)
	assert.True(t, errors.As(err, &re))
	assert.Empty(t, m.Entries())
}

func TestMarkConsistencyAccept(t *testing.T) {
	m := NewMap(PolicyAccept)
	markAll(t, m, map[int]int64{1: 1000, 3: 3000})

	warn, err := m.Mark(2, 3500)
	require.NoError(t, err)
	require.NotNil(t, warn)
	assert.Equal(t, 3, warn.NeighborPage)
	assert.False(t, warn.Rejected)

	e, ok := m.Entry(2)
	require.True(t, ok)
	assert.Equal(t, int64(3500), e.Steps)
	assert.Len(t, m.Check(), 1)
}

func TestMarkConsistencyReject(t *testing.T) {
	m := NewMap(PolicyReject)
	markAll(t, m, map[int]int64{1: 1000, 3: 3000})

	warn, err := m.Mark(2, 500)
	assert.Nil(t, warn)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Rejected)
	assert.Equal(t, 1, ce.NeighborPage)

	_, ok := m.Entry(2)
	assert.False(t, ok)
}

func TestMarkCurrent(t *testing.T) {
	m := NewMap(PolicyAccept)
	m.SetPosition(4200)
	_, err := m.MarkCurrent(4)
	require.NoError(t, err)

	e, _ := m.Entry(4)
	assert.Equal(t, int64(4200), e.Steps)
	assert.Equal(t, 4, m.CurrentPage())
}

func TestCurrentPage(t *testing.T) {
	m := NewMap(PolicyAccept)
	assert.Equal(t, 0, m.CurrentPage())

	markAll(t, m, map[int]int64{1: 0, 2: 1000, 3: 2000})

	tests := []struct {
		position int64
		want     int
	}{
		{-5, 0},
		{0, 1},
		{999, 1},
		{1000, 2},
		{1500, 2},
		{2000, 3},
		{99999, 3},
	}
	for _, tt := range tests {
		m.SetPosition(tt.position)
		assert.Equal(t, tt.want, m.CurrentPage(), "position %d", tt.position)
	}
}

func TestNavigationDeltas(t *testing.T) {
	m := NewMap(PolicyAccept)
	markAll(t, m, map[int]int64{1: 0, 2: 1000, 3: 2000, 4: 3000})
	m.SetPosition(2000)

	d, err := m.GotoDelta(1)
	require.NoError(t, err)
	assert.Equal(t, -2, d)

	d, err = m.GotoDelta(3)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = m.GotoDelta(-1)
	assert.Error(t, err)

	assert.Equal(t, 1, m.Next())
	assert.Equal(t, -1, m.Prev())

	delta, ok := m.StepsTo(4)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), delta)
	_, ok = m.StepsTo(9)
	assert.False(t, ok)
}

func TestResetAndClear(t *testing.T) {
	m := NewMap(PolicyAccept)
	markAll(t, m, map[int]int64{1: 100, 2: 200})
	m.SetPosition(250)

	m.Reset()
	assert.Zero(t, m.Position())
	assert.Len(t, m.Entries(), 2)

	m.SetPosition(250)
	m.Clear()
	assert.Empty(t, m.Entries())
	assert.Equal(t, int64(250), m.Position())
	assert.Zero(t, m.CurrentPage())
}

func TestPageLength(t *testing.T) {
	m := NewMap(PolicyAccept)
	markAll(t, m, map[int]int64{1: 0, 2: 1200, 4: 3000})

	l, ok := m.PageLength(2)
	assert.True(t, ok)
	assert.Equal(t, int64(1200), l)

	_, ok = m.PageLength(1)
	assert.False(t, ok)
	_, ok = m.PageLength(4)
	assert.False(t, ok)

	assert.Equal(t, "1200", m.FormatPageLength(2))
	assert.Equal(t, "-", m.FormatPageLength(4))
	assert.Equal(t, "-", m.FormatPageLength(7))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAccept, p)

	p, err = ParsePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}

func TestNextPageNumberAndClone(t *testing.T) {
	m := NewMap(PolicyReject)
	assert.Equal(t, 1, m.NextPageNumber())

	_, err := m.Mark(1, 0)
	require.NoError(t, err)
	_, err = m.Mark(4, 900)
	require.NoError(t, err)
	assert.Equal(t, 5, m.NextPageNumber())

	c := m.Clone()
	c.SetPosition(50)
	_, err = c.Mark(5, 1200)
	require.NoError(t, err)

	assert.Equal(t, int64(0), m.Position())
	assert.Len(t, m.Entries(), 2)
	assert.Len(t, c.Entries(), 3)
	assert.Equal(t, PolicyReject, c.Policy())
}
