package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/session"
)

func printPages(w io.Writer, pages []session.PageView, current int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tSTEPS\tLENGTH\t")
	for _, p := range pages {
		steps := "-"
		if p.Defined {
			steps = fmt.Sprintf("%d", p.Steps)
		}
		page := fmt.Sprintf("%d", p.Page)
		if p.Page == current {
			page += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", page, steps, p.Length)
	}
	return tw.Flush()
}

func NewMapCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "map",
		Short:   "Show the page map",
		GroupID: gCalibration,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus(false)
			if err != nil {
				return fmt.Errorf("failed to get page map: %w", err)
			}
			if asJSON {
				return printJSON(cmd, st.Pages)
			}
			if len(st.Pages) == 0 {
				cmd.Println("No pages marked yet. Move to the start of a page and run \"tvroll mark\".")
				return nil
			}
			if err := printPages(cmd.OutOrStdout(), st.Pages, st.CurrentPage); err != nil {
				return err
			}
			for _, w := range st.Warnings {
				cmd.Println(warn("warning: %s", w))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the map as JSON.")

	return cmd
}

func NewMarkCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "mark [page]",
		Short:   "Mark the current position as a page",
		GroupID: gCalibration,
		Long: `Mark the current position as a page.

Without an argument the board marks the next page number itself. With a page
number only the daemon's map is changed. Run "tvroll save" to keep it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var (
				res session.MarkResult
				err error
			)
			if len(args) == 0 {
				res, err = apiClient.Mark()
			} else {
				page, perr := parseIntArg(args, "page")
				if perr != nil {
					return perr
				}
				res, err = apiClient.MarkPage(page)
			}
			if err != nil {
				return fmt.Errorf("failed to mark page: %w", err)
			}

			logResponse(res.Response)
			if res.Message != "" {
				logrus.Warn(res.Message)
			}
			logrus.Infof("marked page %d at %d steps", res.Page, res.Steps)
			return nil
		},
	}
}

func NewSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "save",
		Short:   "Save the page map",
		GroupID: gCalibration,
		Long: `Save the page map to the board's memory, the daemon's calibration file and
the history.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := apiClient.Save()
			if err != nil {
				return fmt.Errorf("failed to save calibration: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"file":    res.File,
				"history": res.HistoryID,
			}).Infof("saved %d pages", res.TotalPages)
			return nil
		},
	}
}

func NewLoadCommand() *cobra.Command {
	fromFile := false

	cmd := &cobra.Command{
		Use:     "load",
		Short:   "Load the saved page map",
		GroupID: gCalibration,
		Long: `Load the page map saved in the board's memory.

With --file the daemon's calibration file is loaded instead.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if fromFile {
				doc, err := apiClient.LoadFile()
				if err != nil {
					return fmt.Errorf("failed to load calibration file: %w", err)
				}
				logrus.Infof("loaded %d pages from the calibration file", doc.TotalPages)
				return nil
			}

			res, err := apiClient.LoadBoard()
			if err != nil {
				return fmt.Errorf("failed to load calibration from the board: %w", err)
			}
			logResponse(res.Response)
			if !res.Applied {
				logrus.Warnf("the board sent a %s status, the map was not updated", res.Kind)
				return nil
			}
			logrus.Infof("loaded %d pages from the board", res.Snapshot.TotalDefined)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromFile, "file", false, "Load the daemon's calibration file instead of the board's memory.")

	return cmd
}

func NewClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "clear",
		Short:   "Forget every marked page",
		GroupID: gCalibration,
		Long: `Forget every marked page, on the board and in the daemon.

The saved calibration file and the history are kept.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := apiClient.Clear()
			if err != nil {
				return fmt.Errorf("failed to clear calibration: %w", err)
			}
			logResponse(resp)
			logrus.Info("calibration cleared")
			return nil
		},
	}
}

func formatFlag(format string, path string) (calibration.Format, error) {
	switch calibration.Format(format) {
	case "":
		if path == "" || path == "-" {
			return calibration.FormatJSON, nil
		}
		return calibration.FormatForPath(path), nil
	case calibration.FormatJSON, calibration.FormatYAML:
		return calibration.Format(format), nil
	}
	return "", fmt.Errorf("unknown format %q, expected json or yaml", format)
}

func NewExportCommand() *cobra.Command {
	format := ""

	cmd := &cobra.Command{
		Use:     "export [file]",
		Short:   "Export the page map",
		GroupID: gCalibration,
		Long: `Export the page map as JSON or YAML.

Without a file, or with "-", the document is written to stdout. The format
follows the file extension unless --format is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			f, err := formatFlag(format, path)
			if err != nil {
				return err
			}

			data, err := apiClient.Export(f)
			if err != nil {
				return err
			}

			if path == "" || path == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return pkgerrors.Wrapf(err, "failed to write %s", path)
			}
			logrus.Infof("exported calibration to %s", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Document format (json, yaml).")

	return cmd
}

func NewImportCommand() *cobra.Command {
	format := ""

	cmd := &cobra.Command{
		Use:     "import [file]",
		Short:   "Import a page map",
		GroupID: gCalibration,
		Long: `Import a page map exported with "tvroll export".

The map replaces the daemon's map. Run "tvroll save" to write it to the board.
With "-" the document is read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := formatFlag(format, path)
			if err != nil {
				return err
			}

			var data []byte
			if path == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(path)
			}
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to read %s", path)
			}

			pages, err := apiClient.Import(data, f)
			if err != nil {
				return err
			}
			logrus.Infof("imported %d pages", len(pages))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Document format (json, yaml).")

	return cmd
}

func NewPolicyCommand() *cobra.Command {
	return newSettingCommand(
		"policy",
		"Set what happens to out-of-order marks",
		`Set what happens when a mark would make the page map go backwards.

"accept" keeps the mark and warns, "reject" refuses it.`,
		[]string{string(calibration.PolicyAccept), string(calibration.PolicyReject)},
		func(v string) (string, error) {
			p, err := calibration.ParsePolicy(v)
			if err != nil {
				return "", err
			}
			return apiClient.SetMarkPolicy(p)
		},
	)
}

func NewNavigationCommand() *cobra.Command {
	return newSettingCommand(
		"navigation",
		"Set how page moves are sent to the board",
		`Set how page moves are sent to the board.

"relative" sends NEXT, PREV and page deltas. "absolute" sends the target page
number, which must be marked on the board.`,
		[]string{string(session.NavigationRelative), string(session.NavigationAbsolute)},
		func(v string) (string, error) {
			n, err := session.ParseNavigation(v)
			if err != nil {
				return "", err
			}
			return apiClient.SetNavigation(n)
		},
	)
}
