package main

import (
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/config"
	daemonutils "github.com/tvalice/tvroll/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false
	installDevice := ""
	installSimulate := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install tvroll (system-wide)",
		GroupID: gInstallation,
		Long: `Install the tvroll daemon as a system service (systemd on Linux, launchd on
macOS).

This makes tvroll run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the tvroll daemon. If you want to allow non-root users, i.e., you, to access the daemon, you can use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			if err := config.Validate(conf); err != nil {
				return pkgerrors.Wrapf(err, "invalid config %s", configPath)
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the tvroll daemon.")
			} else {
				logrus.Info("only root user is allowed to access the tvroll daemon.")
			}

			absConfig, err := filepath.Abs(configPath)
			if err != nil {
				return err
			}
			args := []string{"daemon", "--config", absConfig, "--daemon-socket", unixSocketPath}
			if installDevice != "" {
				args = append(args, "--device", installDevice)
			}
			if installSimulate {
				args = append(args, "--simulate")
			}

			err = daemonutils.Install(args...)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			logrus.Infof("installation succeeded")

			exePath, _ := daemonutils.Executable()

			cmd.Printf("The service will use the current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `tvroll install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access tvroll daemon.")
	cmd.Flags().StringVar(&installDevice, "device", "", "Serial device the daemon should open. Defaults to the config file or auto-detection.")
	cmd.Flags().BoolVar(&installSimulate, "simulate", false, "Run the daemon against the built-in simulator.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall tvroll (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall the tvroll daemon from the system service manager.

This stops tvroll and removes its service. The page map saved on the board is kept.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			logrus.Info("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `tvroll' again. If you want a complete uninstall, you can remove the config file, the calibration file and tvroll itself manually.\n", configPath)

			return nil
		},
	}
}
