package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/daemon"
	"github.com/tvalice/tvroll/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the tvroll daemon.
	alwaysAllowNonRootAccess = false
	simulate                 = false
	device                   = ""
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Hidden:  true,
		Short:   "Run tvroll daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("tvroll daemon starting")
			return daemon.Run(daemon.Options{
				ConfigPath:   configPath,
				SocketPath:   unixSocketPath,
				AllowNonRoot: alwaysAllowNonRootAccess,
				Simulate:     simulate,
				Device:       device,
			})
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.BoolVar(&simulate, "simulate", false,
		"Drive an in-process firmware simulator instead of a serial board.")
	f.StringVar(&device, "device", "",
		"Serial device of the board. Overrides the config file.")

	return cmd
}
