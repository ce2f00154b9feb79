package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tvalice/tvroll/pkg/client"
	"github.com/tvalice/tvroll/pkg/config"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/tvroll.sock"
	configPath     = "/etc/tvroll.json"
)

var (
	gNavigation   = "Navigation:"
	gMotion       = "Motion:"
	gCalibration  = "Calibration:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gNavigation,
		gMotion,
		gCalibration,
		gAdvanced,
		gInstallation,
	}
)

var apiClient = client.NewClient(unixSocketPath)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	var se *client.StatusError
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: tvroll daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you installed it?")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or reinstall the daemon with the '--allow-non-root-access' flag to grant permissions to your user")
	case errors.As(err, &se) && se.Code == 409:
		fmt.Fprintln(os.Stderr, "\nThe board refused the command or the page map is inconsistent.")
		fmt.Fprintln(os.Stderr, "Run 'tvroll status --refresh' to see what the board reports.")
	}
}

func main() {
	// The CLI and the daemon are both mostly idle waiting on the serial
	// line.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tvroll",
		Short: "tvroll drives a scrolling-paper TV from the command line",
		Long: `tvroll drives a scrolling-paper TV: two stepper-driven spools that move a
long sheet of paper past a window, one page at a time.

The daemon owns the serial link to the board and keeps the page map. This
client talks to it over a unix socket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			if err := config.LoadEnvFiles(".env"); err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. Reinstall the daemon with this binary so both are the same version.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "tvroll daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),

		NewGotoCommand(),
		NewNextCommand(),
		NewPrevCommand(),
		NewPagesCommand(),

		NewMoveCommand(),
		NewStepCommand(),
		NewSpeedCommand(),
		NewStopCommand(),
		NewResetCommand(),
		NewPageLengthCommand(),

		NewMapCommand(),
		NewMarkCommand(),
		NewSaveCommand(),
		NewLoadCommand(),
		NewClearCommand(),
		NewExportCommand(),
		NewImportCommand(),
		NewHistoryCommand(),
		NewAutosaveCommand(),
		NewPolicyCommand(),
		NewNavigationCommand(),

		NewPlanCommand(),
		NewSimulateCommand(),
		NewPortsCommand(),
		NewRefreshCommand(),
		NewRawCommand(),
		NewWatchCommand(),

		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
