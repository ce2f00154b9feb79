package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/channel"
)

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

func parseFloatArg(args []string, valueName string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

// logResponse prints what the board answered, one line per log entry.
func logResponse(resp channel.Response) {
	for _, l := range resp.Lines {
		logrus.Infof("board: %s", l)
	}
	if resp.Incomplete {
		logrus.Warnf("the board did not finish answering %s in time", resp.Command)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func warn(format string, a ...interface{}) string {
	return color.New(color.Bold, color.FgYellow).Sprintf(format, a...)
}

// newSettingCommand is a command that PUTs one string-valued setting.
func newSettingCommand(
	use, short, long string,
	choices []string,
	setFunc func(string) (string, error),
) *cobra.Command {
	return &cobra.Command{
		Use:       use + " [" + strings.Join(choices, "|") + "]",
		Short:     short,
		Long:      long,
		GroupID:   gCalibration,
		ValidArgs: choices,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := setFunc(args[0])
			if err != nil {
				return fmt.Errorf("failed to set %s: %v", use, err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			logrus.Infof("successfully set %s to %s", use, args[0])
			return nil
		},
	}
}
