package main

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/config"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/spool"
)

var defaultSimulation = []float64{10, 20, 50, -30}

func NewSimulateCommand() *cobra.Command {
	pageCm := 0.0

	cmd := &cobra.Command{
		Use:     "simulate [cm...]",
		Aliases: []string{"sim"},
		Short:   "Show how the spools change over a series of moves",
		GroupID: gAdvanced,
		Long: `Show how the spool diameters and the step ratio change over a series of
moves, using the geometry in the config file. Nothing is sent to the daemon.

Each argument is a signed length in centimetres. Without arguments a short
demonstration sequence is used.`,
		Example: `  tvroll simulate
  tvroll simulate -- 20 20 20 -60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			t, err := config.Transport(conf)
			if err != nil {
				return err
			}
			if pageCm == 0 {
				pageCm = conf.PageLengthCm()
			}

			moves := defaultSimulation
			if len(args) > 0 {
				moves = make([]float64, 0, len(args))
				for _, a := range args {
					cm, err := strconv.ParseFloat(a, 64)
					if err != nil {
						return fmt.Errorf("invalid length %q: %v", a, err)
					}
					moves = append(moves, cm)
				}
			}

			return runSimulation(cmd.OutOrStdout(), t, pageCm, moves)
		},
	}

	cmd.Flags().Float64Var(&pageCm, "page-length", 0, "Page length in centimetres. Defaults to the configured one.")

	return cmd
}

func runSimulation(w io.Writer, t *kinematics.Transport, pageCm float64, movesCm []float64) error {
	if !(pageCm > 0) {
		return &spool.ConfigurationError{Field: "page length", Value: pageCm}
	}

	p := t.Reset()
	fmt.Fprintln(w, bold("Initial state:"))
	printSpools(w, t, p, pageCm)

	for _, cm := range movesCm {
		length := kinematics.CmToMm(math.Abs(cm))
		dir := kinematics.DirectionOf(cm)

		plan, err := t.Synchronize(p, length, dir)
		if err != nil {
			return err
		}
		next, mv, err := t.ApplyMove(p, length, dir)
		if err != nil {
			return err
		}

		fmt.Fprintln(w)
		fmt.Fprintln(w, bold("Move %g cm %s:", math.Abs(cm), dir))
		fmt.Fprintf(w, "  Steps: source %.0f, sink %.0f, ratio %.2fx\n", plan.StepsSource, plan.StepsSink, plan.Ratio)
		if mv.Clamped {
			fmt.Fprintln(w, warn("  The paper ran out after %.1f cm.", kinematics.MmToCm(mv.Achieved)))
		}
		printSpools(w, t, next, pageCm)
		p = next
	}
	return nil
}

func printSpools(w io.Writer, t *kinematics.Transport, p kinematics.Pair, pageCm float64) {
	dSrc, dSink := t.Diameters(p)
	fmt.Fprintf(w, "  Source spool: %.1f cm wound, %.1f mm diameter, %.2f cm/rev\n",
		kinematics.MmToCm(p.Source), dSrc, kinematics.MmToCm(spool.Perimeter(dSrc)))
	fmt.Fprintf(w, "  Sink spool: %.1f cm wound, %.1f mm diameter, %.2f cm/rev\n",
		kinematics.MmToCm(p.Sink), dSink, kinematics.MmToCm(spool.Perimeter(dSink)))

	total := int(kinematics.MmToCm(p.Total) / pageCm)
	current := int(kinematics.MmToCm(p.Source)/pageCm) + 1
	if current > total {
		current = total
	}
	fmt.Fprintf(w, "  Page: %d of %d\n", current, total)
}
