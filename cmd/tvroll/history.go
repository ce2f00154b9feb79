package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	limit := 20
	asJSON := false

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List saved page maps",
		GroupID: gCalibration,
		Long: `List the page maps saved by "tvroll save" and by autosave, newest first.

Any of them can be shown or restored by id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := apiClient.GetHistory(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, recs)
			}
			if len(recs) == 0 {
				cmd.Println("Nothing saved yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSAVED\tREASON\tPAGES\tCURRENT\t")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t\n",
					r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Reason, r.TotalPages, r.CurrentPage)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", limit, "Number of entries to list.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the entries as JSON.")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show [id]",
			Short: "Show one saved page map",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rec, err := apiClient.GetHistoryRecord(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, rec)
			},
		},
		&cobra.Command{
			Use:   "restore [id]",
			Short: "Restore a saved page map",
			Long: `Restore a saved page map into the daemon.

Run "tvroll save" afterwards to write it to the board.`,
			Args: cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				pages, err := apiClient.RestoreHistory(args[0])
				if err != nil {
					return err
				}
				logrus.Infof("restored %d pages from %s", len(pages), args[0])
				return nil
			},
		},
	)

	return cmd
}
