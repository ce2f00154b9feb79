package config

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/channel"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/protocol"
	"github.com/tvalice/tvroll/pkg/session"
	"github.com/tvalice/tvroll/pkg/spool"
)

// Transport builds the transport geometry. Bad physical parameters come back
// as *spool.ConfigurationError.
func Transport(c Config) (*kinematics.Transport, error) {
	m, err := spool.New(c.BaseDiameterMm(), c.MaterialThicknessMm())
	if err != nil {
		return nil, err
	}
	return kinematics.New(m,
		kinematics.CmToMm(c.TotalLengthCm()),
		kinematics.CmToMm(c.InitialSourceCm()),
		c.StepsPerRevolution())
}

// Framings returns the command and status framings.
func Framings(c Config) (command, status channel.Framing) {
	command = channel.Framing{
		Settle:     c.Settle(),
		Timeout:    c.CommandTimeout(),
		Quiescence: c.Quiescence(),
	}
	status = channel.Framing{
		Settle:     c.StatusSettle(),
		Timeout:    c.StatusTimeout(),
		Terminator: protocol.Terminator,
	}
	return command, status
}

// Validate checks that the configuration can drive a transport.
func Validate(c Config) error {
	if _, err := Transport(c); err != nil {
		return err
	}
	if _, err := calibration.ParsePolicy(string(c.MarkPolicy())); err != nil {
		return err
	}
	if _, err := session.ParseNavigation(string(c.Navigation())); err != nil {
		return err
	}
	if c.BaudRate() <= 0 {
		return &spool.ConfigurationError{Field: "baud rate", Value: float64(c.BaudRate())}
	}
	if !(c.PageLengthCm() > 0) {
		return &spool.ConfigurationError{Field: "page length", Value: c.PageLengthCm()}
	}
	if us := c.SpeedMicros(); us < session.MinSpeedMicros || us > session.MaxSpeedMicros {
		return fmt.Errorf("speed %dus outside [%d, %d]", us, session.MinSpeedMicros, session.MaxSpeedMicros)
	}
	for name, d := range map[string]int64{
		"command timeout": int64(c.CommandTimeout()),
		"status timeout":  int64(c.StatusTimeout()),
	} {
		if d <= 0 {
			return &spool.ConfigurationError{Field: name, Value: float64(d)}
		}
	}
	if expr := c.AutosaveCron(); expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			return pkgerrors.Wrapf(err, "invalid autosave schedule %q", expr)
		}
	}
	return nil
}
