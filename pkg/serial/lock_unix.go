//go:build unix

package serial

import (
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// fileLock is an exclusive advisory lock on one device, so two processes
// never talk to the same board.
type fileLock struct {
	f    *os.File
	path string
}

func lockPath(dir, device string) string {
	name := strings.TrimPrefix(filepath.Clean(device), "/")
	name = strings.NewReplacer("/", "_", ".", "_").Replace(name)
	return filepath.Join(dir, "tvroll-"+name+".lock")
}

func acquireLock(dir, device string) (*fileLock, error) {
	path := lockPath(dir, device)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open lock file %s", path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, pkgerrors.Errorf("%s is in use by another process (lock %s)", device, path)
		}
		return nil, pkgerrors.Wrapf(err, "failed to lock %s", path)
	}
	return &fileLock{f: f, path: path}, nil
}

func (l *fileLock) release() {
	if l == nil {
		return
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		logrus.Warnf("failed to unlock %s: %v", l.path, err)
	}
	if err := l.f.Close(); err != nil {
		logrus.Warnf("failed to close lock file %s: %v", l.path, err)
	}
}
