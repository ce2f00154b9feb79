package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/session"
)

func logMove(res session.MoveResult) {
	logResponse(res.Response)
	if res.Move.Clamped {
		logrus.Warnf("the paper ran out: moved %.1f cm of the requested %.1f cm",
			kinematics.MmToCm(res.Move.Achieved), kinematics.MmToCm(res.Move.Requested))
	}
	logrus.WithFields(logrus.Fields{
		"steps":    res.Steps,
		"position": res.Position,
		"page":     res.Page,
	}).Infof("moved %.1f cm %s", kinematics.MmToCm(res.Move.Achieved), res.Move.Direction)
	if res.Plan != nil {
		logrus.Debugf("sink/source step ratio: %.3f", res.Plan.Ratio)
	}
}

func NewMoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "move [cm]",
		Short:   "Move the paper by a length in centimetres",
		GroupID: gMotion,
		Long: `Move the paper by a length in centimetres with both spools synchronized.

Positive lengths wind the paper onto the source spool, negative lengths move it
back. Use "--" before negative numbers, e.g. "tvroll move -- -5".`,
		Example: `  tvroll move 20
  tvroll move -- -2.5`,
		RunE: func(_ *cobra.Command, args []string) error {
			cm, err := parseFloatArg(args, "length")
			if err != nil {
				return err
			}

			res, err := apiClient.Move(cm)
			if err != nil {
				return fmt.Errorf("failed to move %g cm: %w", cm, err)
			}
			logMove(res)
			return nil
		},
	}
}

func NewStepCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "step [steps]",
		Short:   "Turn the source motor by a number of steps",
		GroupID: gMotion,
		Long: `Turn the source motor by a number of steps. Negative steps go backward.

This is the fine adjustment used while calibrating pages.`,
		RunE: func(_ *cobra.Command, args []string) error {
			steps, err := parseIntArg(args, "steps")
			if err != nil {
				return err
			}
			if steps == 0 {
				return fmt.Errorf("invalid steps: must not be zero")
			}

			res, err := apiClient.Step(steps)
			if err != nil {
				return fmt.Errorf("failed to step: %w", err)
			}
			logMove(res)
			return nil
		},
	}
}

func NewSpeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "speed [microseconds]",
		Short:   "Set the motor step interval",
		GroupID: gMotion,
		Long: `Set the motor step interval in microseconds. Lower is faster.

"tvroll speed up" and "tvroll speed down" nudge the interval by the board's
own increment.`,
		RunE: func(_ *cobra.Command, args []string) error {
			us, err := parseIntArg(args, "speed")
			if err != nil {
				return err
			}
			if us <= 0 {
				return fmt.Errorf("invalid speed: %d, must be positive", us)
			}

			got, err := apiClient.SetSpeed(us)
			if err != nil {
				return fmt.Errorf("failed to set speed: %w", err)
			}
			logrus.Infof("successfully set speed to %d µs/step", got)
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Make the motors faster",
			RunE: func(_ *cobra.Command, _ []string) error {
				got, err := apiClient.SpeedUp()
				if err != nil {
					return fmt.Errorf("failed to speed up: %w", err)
				}
				logrus.Infof("speed is now %d µs/step", got)
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Make the motors slower",
			RunE: func(_ *cobra.Command, _ []string) error {
				got, err := apiClient.SpeedDown()
				if err != nil {
					return fmt.Errorf("failed to slow down: %w", err)
				}
				logrus.Infof("speed is now %d µs/step", got)
				return nil
			},
		},
	)

	return cmd
}

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop both motors",
		GroupID: gMotion,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := apiClient.Stop()
			if err != nil {
				return fmt.Errorf("failed to stop: %w", err)
			}
			logResponse(resp)
			logrus.Info("motors stopped")
			return nil
		},
	}
}

func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Short:   "Make the current position step 0",
		GroupID: gMotion,
		Long: `Make the current position step 0.

Marked pages keep their step counts, so reset only where page 1 was marked.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := apiClient.Reset()
			if err != nil {
				return fmt.Errorf("failed to reset position: %w", err)
			}
			logResponse(resp)
			logrus.Info("position reset to 0")
			return nil
		},
	}
}

func NewPageLengthCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "page-length [cm]",
		Short:   "Set the nominal page length",
		GroupID: gMotion,
		Long: `Set the nominal page length in centimetres.

The board uses it for page moves that have no marked page to go to.`,
		RunE: func(_ *cobra.Command, args []string) error {
			cm, err := parseFloatArg(args, "page length")
			if err != nil {
				return err
			}
			if cm <= 0 {
				return fmt.Errorf("invalid page length: %g, must be positive", cm)
			}

			ret, err := apiClient.SetPageLength(cm)
			if err != nil {
				return fmt.Errorf("failed to set page length: %w", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			logrus.Infof("successfully set page length to %g cm", cm)
			return nil
		},
	}
}
