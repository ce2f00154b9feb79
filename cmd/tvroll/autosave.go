package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/types"
)

func NewAutosaveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "autosave [cron-expression]",
		Aliases: []string{"as"},
		Short:   "Manage automatic saving of the page map",
		Long: `Manage automatic saving of the page map.

Autosave writes the daemon's calibration file and a history entry when the map
changed since the last save. It never writes the board's memory.

The autosave command can be used in multiple ways:
  tvroll autosave 'minute hour day month weekday' Set schedule with cron expression
  tvroll autosave disable                         Disable autosave
  tvroll autosave skip                            Skip next run
  tvroll autosave show                            Show current schedule`,
		Example: `  tvroll autosave '*/15 * * * *' (Every 15 minutes)
  tvroll autosave '@hourly'       (At the start of every hour)
  tvroll autosave '0 22 * * *'    (At 22:00 every day)`,
		GroupID: gCalibration,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runAutosaveShow(cmd)
			}
			return runAutosaveSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable autosave",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.SetAutosave(""); err != nil {
					return err
				}
				cmd.Println("Autosave disabled.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next autosave",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := apiClient.SkipAutosave()
				if err != nil {
					return err
				}
				cmd.Println("Next autosave skipped.")
				printAutosave(cmd, st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the autosave schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAutosaveShow(cmd)
			},
		},
	)

	return cmd
}

func runAutosaveSet(cmd *cobra.Command, expr string) error {
	if expr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	st, err := apiClient.SetAutosave(expr)
	if err != nil {
		return err
	}
	cmd.Println("Autosave scheduled.")
	printAutosave(cmd, st)
	return nil
}

func runAutosaveShow(cmd *cobra.Command) error {
	st, err := apiClient.GetAutosave()
	if err != nil {
		return err
	}
	if st.Expression == "" {
		cmd.Println("Autosave is not set.")
		return nil
	}
	printAutosave(cmd, st)
	return nil
}

func printAutosave(cmd *cobra.Command, st types.Autosave) {
	cmd.Printf("  Schedule: %s\n", bold("%s", st.Expression))
	if !st.NextRun.IsZero() {
		cmd.Printf("  Next run: %s\n", bold("%s", st.NextRun.Local().Format(time.DateTime)))
	}
	if st.Running {
		cmd.Println("  A save is running now.")
	}
}
