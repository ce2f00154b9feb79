package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/spool"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		args    []string
		want    float64
		wantErr bool
	}{
		{[]string{"12.5"}, 12.5, false},
		{[]string{"-3"}, -3, false},
		{[]string{"abc"}, 0, true},
		{[]string{}, 0, true},
		{[]string{"1", "2"}, 0, true},
	}
	for _, tt := range tests {
		got, err := parseFloatArg(tt.args, "length")
		if tt.wantErr {
			assert.Error(t, err, tt.args)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	n, err := parseIntArg([]string{"7"}, "page")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestFormatFlag(t *testing.T) {
	f, err := formatFlag("", "pages.yml")
	require.NoError(t, err)
	assert.Equal(t, calibration.FormatYAML, f)

	f, err = formatFlag("", "-")
	require.NoError(t, err)
	assert.Equal(t, calibration.FormatJSON, f)

	f, err = formatFlag("yaml", "pages.json")
	require.NoError(t, err)
	assert.Equal(t, calibration.FormatYAML, f)

	_, err = formatFlag("toml", "")
	assert.Error(t, err)
}

func TestRunSimulation(t *testing.T) {
	m, err := spool.New(41, 0.1)
	require.NoError(t, err)
	tr, err := kinematics.New(m, 1500, 0, 200)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runSimulation(&out, tr, 20, defaultSimulation))

	s := out.String()
	assert.Contains(t, s, "Move 10 cm forward:")
	assert.Contains(t, s, "Move 30 cm backward:")
	// 10 + 20 + 50 - 30 leaves 50 cm on the source spool.
	assert.Contains(t, s, "Source spool: 50.0 cm wound")
	assert.Contains(t, s, "Sink spool: 100.0 cm wound")
	assert.Contains(t, s, "Page: 3 of 7")

	out.Reset()
	require.NoError(t, runSimulation(&out, tr, 20, []float64{200}))
	assert.Contains(t, out.String(), "The paper ran out after 150.0 cm.")
	assert.Contains(t, out.String(), "Page: 7 of 7")

	assert.Error(t, runSimulation(&out, tr, 0, nil))
}

func TestCommandTree(t *testing.T) {
	cmd := NewCommand()
	for _, name := range []string{"goto", "move", "mark", "autosave", "history", "simulate", "install"} {
		c, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}
