package daemon

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Uninstall stops the service and removes its unit file.
func Uninstall() error {
	m, err := current()
	if err != nil {
		return err
	}

	logrus.Infof("stopping tvroll")

	if err := run(m.unload); err != nil {
		return fmt.Errorf("%w. Are you root?", err)
	}

	logrus.Infof("removing %s service", m.name)

	// if the file doesn't exist, we don't need to remove it
	_, err = os.Stat(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", m.path, err)
	}

	err = os.Remove(m.path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", m.path, err)
	}

	return run(m.reload)
}
