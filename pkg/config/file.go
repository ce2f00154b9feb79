package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/session"
	"github.com/tvalice/tvroll/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		SerialPort:          ptr.To(""),
		BaudRate:            ptr.To(9600),
		Simulate:            ptr.To(false),
		BaseDiameterMm:      ptr.To(41.0),
		MaterialThicknessMm: ptr.To(0.1),
		TotalLengthCm:       ptr.To(150.0),
		InitialSourceCm:     ptr.To(0.0),
		StepsPerRevolution:  ptr.To(200),
		PageLengthCm:        ptr.To(20.0),
		SpeedMicros:         ptr.To(2000),
		CommandTimeoutMs:    ptr.To(1000),
		StatusTimeoutMs:     ptr.To(2000),
		QuiescenceMs:        ptr.To(100),
		SettleMs:            ptr.To(300),
		StatusSettleMs:      ptr.To(500),
		CalibrationPath:     ptr.To("/var/lib/tvroll/calibration.json"),
		HistoryPath:         ptr.To("/var/lib/tvroll/history.db"),
		// Autosave only writes the local file and history, never the
		// firmware EEPROM.
		AutosaveCron:       ptr.To("@every 15m"),
		PollSeconds:        ptr.To(30),
		MarkPolicy:         ptr.To(string(calibration.PolicyAccept)),
		Navigation:         ptr.To(string(session.NavigationRelative)),
		AllowNonRootAccess: ptr.To(false),
		OtelEndpoint:       ptr.To(""),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Nil fields take their default.
type RawFileConfig struct {
	SerialPort          *string  `json:"serialPort,omitempty"`
	BaudRate            *int     `json:"baudRate,omitempty"`
	Simulate            *bool    `json:"simulate,omitempty"`
	BaseDiameterMm      *float64 `json:"baseDiameterMm,omitempty"`
	MaterialThicknessMm *float64 `json:"materialThicknessMm,omitempty"`
	TotalLengthCm       *float64 `json:"totalLengthCm,omitempty"`
	InitialSourceCm     *float64 `json:"initialSourceCm,omitempty"`
	StepsPerRevolution  *int     `json:"stepsPerRevolution,omitempty"`
	PageLengthCm        *float64 `json:"pageLengthCm,omitempty"`
	SpeedMicros         *int     `json:"speedMicros,omitempty"`
	CommandTimeoutMs    *int     `json:"commandTimeoutMs,omitempty"`
	StatusTimeoutMs     *int     `json:"statusTimeoutMs,omitempty"`
	QuiescenceMs        *int     `json:"quiescenceMs,omitempty"`
	SettleMs            *int     `json:"settleMs,omitempty"`
	StatusSettleMs      *int     `json:"statusSettleMs,omitempty"`
	CalibrationPath     *string  `json:"calibrationPath,omitempty"`
	HistoryPath         *string  `json:"historyPath,omitempty"`
	AutosaveCron        *string  `json:"autosaveCron,omitempty"`
	PollSeconds         *int     `json:"pollSeconds,omitempty"`
	MarkPolicy          *string  `json:"markPolicy,omitempty"`
	Navigation          *string  `json:"navigation,omitempty"`
	AllowNonRootAccess  *bool    `json:"allowNonRootAccess,omitempty"`
	OtelEndpoint        *string  `json:"otelEndpoint,omitempty"`
}

// get reads one field under the read lock, falling back to the default.
func get[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(field(f.c), *field(defaultFileConfig))
}

func set[T any](f *File, field func(*RawFileConfig) **T, v T) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	*field(f.c) = &v
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (f *File) SerialPort() string {
	return get(f, func(c *RawFileConfig) *string { return c.SerialPort })
}

func (f *File) BaudRate() int {
	return get(f, func(c *RawFileConfig) *int { return c.BaudRate })
}

func (f *File) Simulate() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.Simulate })
}

func (f *File) BaseDiameterMm() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.BaseDiameterMm })
}

func (f *File) MaterialThicknessMm() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.MaterialThicknessMm })
}

func (f *File) TotalLengthCm() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.TotalLengthCm })
}

func (f *File) InitialSourceCm() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.InitialSourceCm })
}

func (f *File) StepsPerRevolution() int {
	return get(f, func(c *RawFileConfig) *int { return c.StepsPerRevolution })
}

func (f *File) PageLengthCm() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.PageLengthCm })
}

func (f *File) SpeedMicros() int {
	return get(f, func(c *RawFileConfig) *int { return c.SpeedMicros })
}

func (f *File) CommandTimeout() time.Duration {
	return ms(get(f, func(c *RawFileConfig) *int { return c.CommandTimeoutMs }))
}

func (f *File) StatusTimeout() time.Duration {
	return ms(get(f, func(c *RawFileConfig) *int { return c.StatusTimeoutMs }))
}

func (f *File) Quiescence() time.Duration {
	return ms(get(f, func(c *RawFileConfig) *int { return c.QuiescenceMs }))
}

func (f *File) Settle() time.Duration {
	return ms(get(f, func(c *RawFileConfig) *int { return c.SettleMs }))
}

func (f *File) StatusSettle() time.Duration {
	return ms(get(f, func(c *RawFileConfig) *int { return c.StatusSettleMs }))
}

func (f *File) CalibrationPath() string {
	return get(f, func(c *RawFileConfig) *string { return c.CalibrationPath })
}

func (f *File) HistoryPath() string {
	return get(f, func(c *RawFileConfig) *string { return c.HistoryPath })
}

func (f *File) AutosaveCron() string {
	return get(f, func(c *RawFileConfig) *string { return c.AutosaveCron })
}

// PollInterval is zero when polling is disabled.
func (f *File) PollInterval() time.Duration {
	n := get(f, func(c *RawFileConfig) *int { return c.PollSeconds })
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func (f *File) MarkPolicy() calibration.Policy {
	return calibration.Policy(get(f, func(c *RawFileConfig) *string { return c.MarkPolicy }))
}

func (f *File) Navigation() session.Navigation {
	return session.Navigation(get(f, func(c *RawFileConfig) *string { return c.Navigation }))
}

func (f *File) AllowNonRootAccess() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) OtelEndpoint() string {
	return get(f, func(c *RawFileConfig) *string { return c.OtelEndpoint })
}

func (f *File) SetPageLengthCm(cm float64) {
	set(f, func(c *RawFileConfig) **float64 { return &c.PageLengthCm }, cm)
}

func (f *File) SetSpeedMicros(us int) {
	set(f, func(c *RawFileConfig) **int { return &c.SpeedMicros }, us)
}

func (f *File) SetMarkPolicy(p calibration.Policy) {
	set(f, func(c *RawFileConfig) **string { return &c.MarkPolicy }, string(p))
}

func (f *File) SetNavigation(n session.Navigation) {
	set(f, func(c *RawFileConfig) **string { return &c.Navigation }, string(n))
}

func (f *File) SetAllowNonRootAccess(b bool) {
	set(f, func(c *RawFileConfig) **bool { return &c.AllowNonRootAccess }, b)
}

func (f *File) SetAutosaveCron(expr string) {
	set(f, func(c *RawFileConfig) **string { return &c.AutosaveCron }, expr)
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

// Raw returns a copy of the stored (not defaulted) values.
func (f *File) Raw() RawFileConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c == nil {
		return RawFileConfig{}
	}
	return *f.c
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"serialPort":         f.SerialPort(),
		"baudRate":           f.BaudRate(),
		"simulate":           f.Simulate(),
		"baseDiameterMm":     f.BaseDiameterMm(),
		"thicknessMm":        f.MaterialThicknessMm(),
		"totalLengthCm":      f.TotalLengthCm(),
		"pageLengthCm":       f.PageLengthCm(),
		"speedMicros":        f.SpeedMicros(),
		"markPolicy":         f.MarkPolicy(),
		"navigation":         f.Navigation(),
		"autosaveCron":       f.AutosaveCron(),
		"pollInterval":       f.PollInterval(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
