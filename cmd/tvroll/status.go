package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/types"
)

func NewStatusCommand() *cobra.Command {
	refresh := false
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gNavigation,
		Short:   "Get the current status of the transport",
		Long: `Get the spool state, the current page and the settings the daemon uses.

With --refresh the daemon asks the board for a fresh status report first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus(refresh)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if asJSON {
				return printJSON(cmd, st)
			}
			printStatus(cmd, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ask the board for its status before answering.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON.")

	return cmd
}

func printStatus(cmd *cobra.Command, st types.Status) {
	cmd.Println(bold("Transport:"))
	dev := st.Device
	if st.Simulated {
		dev += " (simulated)"
	}
	cmd.Printf("  Device: %s\n", bold("%s", dev))
	cmd.Printf("  Source spool: %s wound, %s diameter\n",
		bold("%.1f cm", kinematics.MmToCm(st.Pair.Source)), bold("%.1f mm", st.SourceDiameterMm))
	cmd.Printf("  Sink spool: %s wound, %s diameter\n",
		bold("%.1f cm", kinematics.MmToCm(st.Pair.Sink)), bold("%.1f mm", st.SinkDiameterMm))
	cmd.Printf("  Position: %s\n", bold("%d steps", st.Position))
	if fw := st.Firmware; fw.Source != nil {
		cmd.Printf("  Board reports source: %s wound, %s diameter\n",
			bold("%.1f cm", fw.Source.LengthCm), bold("%.1f mm", fw.Source.DiameterMm))
	}
	if fw := st.Firmware; fw.Sink != nil {
		cmd.Printf("  Board reports sink: %s wound, %s diameter\n",
			bold("%.1f cm", fw.Sink.LengthCm), bold("%.1f mm", fw.Sink.DiameterMm))
	}
	cmd.Println()

	cmd.Println(bold("Pages:"))
	if st.TotalDefined == 0 {
		cmd.Printf("  Current page: %s\n", warn("no pages marked yet"))
	} else {
		cmd.Printf("  Current page: %s\n", bold("%d of %d", st.CurrentPage, st.TotalDefined))
	}
	cmd.Printf("  Page length: %s\n", bold("%g cm", st.PageLengthCm))
	cmd.Printf("  Speed: %s\n", bold("%d µs/step", st.SpeedMicros))
	cmd.Println()

	cmd.Println(bold("Calibration:"))
	cmd.Printf("  Mark policy: %s\n", bold("%s", st.Policy))
	cmd.Printf("  Navigation: %s\n", bold("%s", st.Navigation))
	cmd.Printf("  Map edited on this host: %s\n", bool2Text(st.HostMap))
	cmd.Printf("  In sync with the board: %s\n", bool2Text(!st.Stale))
	cmd.Printf("  Last refresh: %s\n", bold("%s", ago(st.LastRefresh)))
	if !st.NextAutosave.IsZero() {
		cmd.Printf("  Next autosave: %s\n", bold("%s", st.NextAutosave.Local().Format(time.DateTime)))
	}
	cmd.Printf("  Status polls in the last minute: %s\n", bold("%d", st.RecentPolls))

	if len(st.Warnings) > 0 {
		cmd.Println()
		cmd.Println(warn("Warnings:"))
		for _, w := range st.Warnings {
			cmd.Printf("  %s\n", w)
		}
	}
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
