package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/session"
	"github.com/tvalice/tvroll/pkg/spool"
	"github.com/tvalice/tvroll/pkg/utils/ptr"
)

func TestDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 9600, f.BaudRate())
	assert.Equal(t, 41.0, f.BaseDiameterMm())
	assert.Equal(t, 0.1, f.MaterialThicknessMm())
	assert.Equal(t, 150.0, f.TotalLengthCm())
	assert.Equal(t, 200, f.StepsPerRevolution())
	assert.Equal(t, time.Second, f.CommandTimeout())
	assert.Equal(t, 2*time.Second, f.StatusTimeout())
	assert.Equal(t, 300*time.Millisecond, f.Settle())
	assert.Equal(t, 30*time.Second, f.PollInterval())
	assert.Equal(t, calibration.PolicyAccept, f.MarkPolicy())
	assert.Equal(t, session.NavigationRelative, f.Navigation())
	assert.NoError(t, Validate(f))
}

func TestEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tvroll.json")
	require.NoError(t, os.WriteFile(p, []byte("  \n"), 0644))

	f, err := NewFile(p)
	require.NoError(t, err)
	assert.Equal(t, 20.0, f.PageLengthCm())
}

func TestSaveAndLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tvroll.json")
	f := NewFileFromConfig(&RawFileConfig{TotalLengthCm: ptr.To(90.0)}, p)
	f.SetSpeedMicros(1500)
	f.SetMarkPolicy(calibration.PolicyReject)
	require.NoError(t, f.Save())

	g, err := NewFile(p)
	require.NoError(t, err)
	assert.Equal(t, 90.0, g.TotalLengthCm())
	assert.Equal(t, 1500, g.SpeedMicros())
	assert.Equal(t, calibration.PolicyReject, g.MarkPolicy())
	assert.Nil(t, g.Raw().BaudRate)
}

func TestLoadInvalidJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tvroll.json")
	require.NoError(t, os.WriteFile(p, []byte("{"), 0644))

	_, err := NewFile(p)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	env := map[string]string{
		"TVROLL_SERIAL_PORT":    " /dev/ttyACM3 ",
		"TVROLL_SIMULATE":       "true",
		"TVROLL_PAGE_LENGTH_CM": "12.5",
		"TVROLL_POLL_SECONDS":   "0",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	require.NoError(t, f.ApplyEnv(lookup))
	assert.Equal(t, "/dev/ttyACM3", f.SerialPort())
	assert.True(t, f.Simulate())
	assert.Equal(t, 12.5, f.PageLengthCm())
	assert.Zero(t, f.PollInterval())

	env["TVROLL_BAUD_RATE"] = "fast"
	assert.Error(t, f.ApplyEnv(lookup))
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("TVROLL_TEST_ONLY_KEY=hello\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("TVROLL_TEST_ONLY_KEY") })

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, "missing.env"), p))
	assert.Equal(t, "hello", os.Getenv("TVROLL_TEST_ONLY_KEY"))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		raw  RawFileConfig
		ok   bool
	}{
		{"defaults", RawFileConfig{}, true},
		{"zero diameter", RawFileConfig{BaseDiameterMm: ptr.To(0.0)}, false},
		{"negative thickness", RawFileConfig{MaterialThicknessMm: ptr.To(-1.0)}, false},
		{"initial beyond total", RawFileConfig{InitialSourceCm: ptr.To(200.0)}, false},
		{"bad policy", RawFileConfig{MarkPolicy: ptr.To("maybe")}, false},
		{"bad navigation", RawFileConfig{Navigation: ptr.To("sideways")}, false},
		{"slow speed", RawFileConfig{SpeedMicros: ptr.To(50000)}, false},
		{"bad cron", RawFileConfig{AutosaveCron: ptr.To("every now and then")}, false},
		{"no autosave", RawFileConfig{AutosaveCron: ptr.To("")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := tc.raw
			err := Validate(NewFileFromConfig(&raw, ""))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	err := Validate(NewFileFromConfig(&RawFileConfig{BaseDiameterMm: ptr.To(-3.0)}, ""))
	var ce *spool.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestFramings(t *testing.T) {
	f := NewFileFromConfig(&RawFileConfig{QuiescenceMs: ptr.To(50)}, "")
	cmd, status := Framings(f)
	assert.Equal(t, 50*time.Millisecond, cmd.Quiescence)
	assert.Empty(t, cmd.Terminator)
	assert.Equal(t, 500*time.Millisecond, status.Settle)
	assert.NotEmpty(t, status.Terminator)
}
