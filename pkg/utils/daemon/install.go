package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Executable returns the absolute path of the running binary.
func Executable() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return "", fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}
	return exePath, nil
}

// Install registers the current executable, started with args, as a system
// service and starts it.
func Install(args ...string) error {
	m, err := current()
	if err != nil {
		return err
	}

	exePath, err := Executable()
	if err != nil {
		return err
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	content, err := Unit{Executable: exePath, Args: args}.Render(m.template)
	if err != nil {
		return err
	}

	logrus.Infof("writing %s service to %s", m.name, m.path)

	err = os.MkdirAll(filepath.Dir(m.path), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(m.path), err)
	}

	// warn if the file already exists
	_, err = os.Stat(m.path)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", m.path)
	}

	err = os.WriteFile(m.path, []byte(content), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", m.path, err)
	}

	err = os.Chown(m.path, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to chown %s: %w", m.path, err)
	}

	logrus.Infof("starting tvroll")

	return run(m.load)
}

func run(cmds [][]string) error {
	for _, c := range cmds {
		out, err := exec.Command(c[0], c[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("failed to run %v: %w: %s", c, err, out)
		}
	}
	return nil
}
