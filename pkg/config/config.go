package config

import (
	"time"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/session"
)

type Config interface {
	SerialPort() string
	BaudRate() int
	Simulate() bool

	BaseDiameterMm() float64
	MaterialThicknessMm() float64
	TotalLengthCm() float64
	InitialSourceCm() float64
	StepsPerRevolution() int

	PageLengthCm() float64
	SpeedMicros() int

	CommandTimeout() time.Duration
	StatusTimeout() time.Duration
	Quiescence() time.Duration
	Settle() time.Duration
	StatusSettle() time.Duration

	CalibrationPath() string
	HistoryPath() string
	AutosaveCron() string
	PollInterval() time.Duration

	MarkPolicy() calibration.Policy
	Navigation() session.Navigation
	AllowNonRootAccess() bool
	OtelEndpoint() string

	SetPageLengthCm(float64)
	SetSpeedMicros(int)
	SetMarkPolicy(calibration.Policy)
	SetNavigation(session.Navigation)
	SetAllowNonRootAccess(bool)
	SetAutosaveCron(string)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
