package main

import (
	"context"
	"fmt"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/config"
	"github.com/tvalice/tvroll/pkg/events"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/version"
)

func getVersion() (clientVersion, daemonVersion string, err error) {
	v, err := apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, v.Version, nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewPlanCommand() *cobra.Command {
	offline := false
	sourceCm := -1.0

	cmd := &cobra.Command{
		Use:     "plan [cm]",
		Short:   "Show the step budget of a move without moving",
		GroupID: gAdvanced,
		Long: `Show how many steps each motor would turn to move the paper by a length in
centimetres, and the speed ratio between them.

By default the daemon plans from the current spool state. With --offline the
plan is computed from the config file, starting from --source-cm of paper on
the source spool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := parseFloatArg(args, "length")
			if err != nil {
				return err
			}

			var plan kinematics.SyncPlan
			if offline {
				conf, err := config.NewFile(configPath)
				if err != nil {
					return err
				}
				t, err := config.Transport(conf)
				if err != nil {
					return err
				}
				p := t.Reset()
				if sourceCm >= 0 {
					src := math.Min(kinematics.CmToMm(sourceCm), p.Total)
					p.Source, p.Sink = src, p.Total-src
				}
				plan, err = t.Synchronize(p, kinematics.CmToMm(math.Abs(cm)), kinematics.DirectionOf(cm))
				if err != nil {
					return err
				}
			} else {
				plan, err = apiClient.Plan(cm)
				if err != nil {
					return err
				}
			}

			cmd.Printf("Move %s %s\n", bold("%g cm", math.Abs(cm)), plan.Direction)
			cmd.Printf("  Source spool: %s diameter, %s\n", bold("%.2f mm", plan.SourceDiameter), bold("%.1f steps", plan.StepsSource))
			cmd.Printf("  Sink spool: %s diameter, %s\n", bold("%.2f mm", plan.SinkDiameter), bold("%.1f steps", plan.StepsSink))
			cmd.Printf("  Sink/source ratio: %s\n", bold("%.3fx", plan.Ratio))
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Plan from the config file without asking the daemon.")
	cmd.Flags().Float64Var(&sourceCm, "source-cm", -1, "Paper on the source spool for --offline, in centimetres. Defaults to the configured initial length.")

	return cmd
}

func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ports",
		Short:   "List serial ports the daemon can see",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := apiClient.GetPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				cmd.Println("No serial ports found.")
				return nil
			}
			for _, p := range ports {
				if p.Likely {
					cmd.Printf("  %s %s\n", bold("%s", p.Path), "(looks like a board)")
				} else {
					cmd.Printf("  %s\n", p.Path)
				}
			}
			return nil
		},
	}
}

func NewRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "refresh",
		Short:   "Ask the board for its status",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := apiClient.Refresh()
			if err != nil {
				return err
			}
			logResponse(res.Response)
			if !res.Applied {
				logrus.Warnf("the board sent a %s status, nothing was changed", res.Kind)
				return nil
			}
			logrus.Infof("page %d of %d, position %d steps",
				res.Snapshot.CurrentPage, res.Snapshot.TotalDefined, res.Snapshot.AccumulatedSteps)
			return nil
		},
	}
}

func NewRawCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "command [line]",
		Aliases: []string{"raw"},
		Short:   "Send a raw command line to the board",
		GroupID: gAdvanced,
		Long: `Send a raw command line to the board and print what it answers.

The daemon only forwards commands it knows, e.g. "F:200", "SPEED:1500" or
"STATUS".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiClient.Command(args[0])
			if err != nil {
				return err
			}
			for _, l := range resp.Lines {
				cmd.Println(l)
			}
			if resp.Incomplete {
				logrus.Warn("the board did not finish answering in time")
			}
			return nil
		},
	}
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Print daemon events as they happen",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.Watch(ctx)
			if err != nil {
				return err
			}
			for ev := range ch {
				cmd.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), bold("%s", ev.Name), describeEvent(ev))
			}
			return nil
		},
	}
}

func describeEvent(ev events.Event) string {
	switch ev.Name {
	case events.PageChanged:
		if p, err := events.DecodeAs[events.PageChangedEvent](ev); err == nil {
			return fmt.Sprintf("page %d -> %d", p.From, p.To)
		}
	case events.TransportMoved:
		if p, err := events.DecodeAs[events.TransportMovedEvent](ev); err == nil {
			return fmt.Sprintf("moved %.1f cm, position %d", kinematics.MmToCm(p.AchievedMm), p.Position)
		}
	case events.PageMarked:
		if p, err := events.DecodeAs[events.PageMarkedEvent](ev); err == nil {
			if p.Warning != "" {
				return fmt.Sprintf("page %d at %d steps (%s)", p.Page, p.Steps, p.Warning)
			}
			return fmt.Sprintf("page %d at %d steps", p.Page, p.Steps)
		}
	case events.MapReplaced:
		if p, err := events.DecodeAs[events.MapReplacedEvent](ev); err == nil {
			return fmt.Sprintf("%s, %d pages", p.Reason, p.TotalDefined)
		}
	case events.StatusRefreshed:
		if p, err := events.DecodeAs[events.StatusRefreshedEvent](ev); err == nil {
			return fmt.Sprintf("%s, page %d, position %d", p.Kind, p.CurrentPage, p.Position)
		}
	case events.SettingsChanged:
		if p, err := events.DecodeAs[events.SettingsChangedEvent](ev); err == nil {
			return fmt.Sprintf("page length %g cm, speed %d µs/step", p.PageLengthCm, p.SpeedMicros)
		}
	}
	return string(ev.Data)
}
