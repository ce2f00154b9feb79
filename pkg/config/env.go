package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TVROLL_"

// LoadEnvFiles loads KEY=VALUE files into the process environment. Missing
// files are skipped and variables already set are not overwritten.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			logrus.WithField("path", p).Debug("loaded env file")
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return pkgerrors.Wrapf(err, "failed to load env file %s", p)
	}
	return nil
}

type envField struct {
	key   string
	apply func(c *RawFileConfig, v string) error
}

func envString(key string, field func(*RawFileConfig) **string) envField {
	return envField{key, func(c *RawFileConfig, v string) error {
		*field(c) = &v
		return nil
	}}
}

func envInt(key string, field func(*RawFileConfig) **int) envField {
	return envField{key, func(c *RawFileConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = &n
		return nil
	}}
}

func envFloat(key string, field func(*RawFileConfig) **float64) envField {
	return envField{key, func(c *RawFileConfig, v string) error {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = &n
		return nil
	}}
}

func envBool(key string, field func(*RawFileConfig) **bool) envField {
	return envField{key, func(c *RawFileConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = &b
		return nil
	}}
}

var envFields = []envField{
	envString("SERIAL_PORT", func(c *RawFileConfig) **string { return &c.SerialPort }),
	envInt("BAUD_RATE", func(c *RawFileConfig) **int { return &c.BaudRate }),
	envBool("SIMULATE", func(c *RawFileConfig) **bool { return &c.Simulate }),
	envFloat("BASE_DIAMETER_MM", func(c *RawFileConfig) **float64 { return &c.BaseDiameterMm }),
	envFloat("MATERIAL_THICKNESS_MM", func(c *RawFileConfig) **float64 { return &c.MaterialThicknessMm }),
	envFloat("TOTAL_LENGTH_CM", func(c *RawFileConfig) **float64 { return &c.TotalLengthCm }),
	envFloat("INITIAL_SOURCE_CM", func(c *RawFileConfig) **float64 { return &c.InitialSourceCm }),
	envInt("STEPS_PER_REVOLUTION", func(c *RawFileConfig) **int { return &c.StepsPerRevolution }),
	envFloat("PAGE_LENGTH_CM", func(c *RawFileConfig) **float64 { return &c.PageLengthCm }),
	envInt("SPEED_MICROS", func(c *RawFileConfig) **int { return &c.SpeedMicros }),
	envInt("COMMAND_TIMEOUT_MS", func(c *RawFileConfig) **int { return &c.CommandTimeoutMs }),
	envInt("STATUS_TIMEOUT_MS", func(c *RawFileConfig) **int { return &c.StatusTimeoutMs }),
	envInt("QUIESCENCE_MS", func(c *RawFileConfig) **int { return &c.QuiescenceMs }),
	envInt("SETTLE_MS", func(c *RawFileConfig) **int { return &c.SettleMs }),
	envInt("STATUS_SETTLE_MS", func(c *RawFileConfig) **int { return &c.StatusSettleMs }),
	envString("CALIBRATION_PATH", func(c *RawFileConfig) **string { return &c.CalibrationPath }),
	envString("HISTORY_PATH", func(c *RawFileConfig) **string { return &c.HistoryPath }),
	envString("AUTOSAVE_CRON", func(c *RawFileConfig) **string { return &c.AutosaveCron }),
	envInt("POLL_SECONDS", func(c *RawFileConfig) **int { return &c.PollSeconds }),
	envString("MARK_POLICY", func(c *RawFileConfig) **string { return &c.MarkPolicy }),
	envString("NAVIGATION", func(c *RawFileConfig) **string { return &c.Navigation }),
	envBool("ALLOW_NON_ROOT_ACCESS", func(c *RawFileConfig) **bool { return &c.AllowNonRootAccess }),
	envString("OTEL_ENDPOINT", func(c *RawFileConfig) **string { return &c.OtelEndpoint }),
}

// ApplyEnv overrides fields from TVROLL_* variables found through lookup,
// usually os.LookupEnv. Overrides are not written back by Save unless the
// caller saves after applying them.
func (f *File) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c == nil {
		f.c = &RawFileConfig{}
	}
	for _, e := range envFields {
		v, ok := lookup(EnvPrefix + e.key)
		if !ok {
			continue
		}
		if err := e.apply(f.c, strings.TrimSpace(v)); err != nil {
			return pkgerrors.Wrapf(err, "invalid value for %s%s", EnvPrefix, e.key)
		}
		logrus.WithField("key", EnvPrefix+e.key).Debug("config overridden from environment")
	}
	return nil
}
