// Package serial opens the USB serial link to the transport board.
package serial

import (
	"errors"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bugserial "go.bug.st/serial"
)

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("serial: port closed")

// Config holds serial port configuration.
type Config struct {
	// Device path, e.g. /dev/cu.usbmodem1301 or /dev/ttyACM0.
	Device string
	// BaudRate of the board (default 9600).
	BaudRate int
	// ReadTimeout bounds a single read so Close is noticed.
	ReadTimeout time.Duration
	// ResetWait is how long to wait after opening. Opening the port
	// toggles DTR, which resets most Arduino boards.
	ResetWait time.Duration
	// LockDir holds the advisory lock files. Empty disables locking.
	LockDir string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Device:      DefaultDevice(),
		BaudRate:    9600,
		ReadTimeout: 100 * time.Millisecond,
		ResetWait:   2 * time.Second,
		LockDir:     "/tmp",
	}
}

// DefaultDevice is the usual device node of the board on this platform.
func DefaultDevice() string {
	if runtime.GOOS == "darwin" {
		return "/dev/cu.usbmodem1301"
	}
	return "/dev/ttyACM0"
}

// Port is an open serial link. It implements io.ReadWriteCloser.
type Port struct {
	port   bugserial.Port
	device string
	lock   *fileLock

	mu     sync.Mutex
	closed bool
}

// Open opens and locks the device.
func Open(cfg Config) (*Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	var lock *fileLock
	if cfg.LockDir != "" {
		var err error
		lock, err = acquireLock(cfg.LockDir, cfg.Device)
		if err != nil {
			return nil, err
		}
	}

	p, err := bugserial.Open(cfg.Device, &bugserial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	})
	if err != nil {
		lock.release()
		var pe *bugserial.PortError
		if errors.As(err, &pe) && pe.Code() == bugserial.PortNotFound {
			return nil, pkgerrors.Wrapf(err, "device %s not found, is the board plugged in?", cfg.Device)
		}
		return nil, pkgerrors.Wrapf(err, "failed to open %s", cfg.Device)
	}

	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		lock.release()
		return nil, pkgerrors.Wrapf(err, "failed to set read timeout on %s", cfg.Device)
	}

	logrus.WithFields(logrus.Fields{
		"device":   cfg.Device,
		"baudRate": cfg.BaudRate,
	}).Info("serial port opened")

	if cfg.ResetWait > 0 {
		logrus.Debugf("waiting %s for the board to reset", cfg.ResetWait)
		time.Sleep(cfg.ResetWait)
	}
	if err := p.ResetInputBuffer(); err != nil {
		logrus.Warnf("failed to reset input buffer of %s: %v", cfg.Device, err)
	}

	return &Port{port: p, device: cfg.Device, lock: lock}, nil
}

// Device returns the device path.
func (p *Port) Device() string { return p.device }

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Read blocks until data arrives or the port is closed. The driver returns
// (0, nil) on every read timeout, which is retried here.
func (p *Port) Read(buf []byte) (int, error) {
	for {
		if p.isClosed() {
			return 0, ErrClosed
		}
		n, err := p.port.Read(buf)
		if err != nil {
			var pe *bugserial.PortError
			if errors.As(err, &pe) && pe.Code() == bugserial.PortClosed {
				return n, ErrClosed
			}
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Write writes buf and waits until it is transmitted.
func (p *Port) Write(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	n, err := p.port.Write(buf)
	if err != nil {
		return n, pkgerrors.Wrapf(err, "failed to write to %s", p.device)
	}
	if err := p.port.Drain(); err != nil {
		logrus.Debugf("failed to drain %s: %v", p.device, err)
	}
	return n, nil
}

// Close closes the port and releases its lock.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.port.Close()
	p.lock.release()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to close %s", p.device)
	}
	return nil
}

var candidatePatterns = map[string][]string{
	"darwin": {"/dev/cu.usbmodem*", "/dev/cu.usbserial*"},
	"linux":  {"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/serial/by-id/*"},
}

// ListPorts returns the serial ports of the system, likely boards first.
func ListPorts() ([]string, error) {
	ports, err := bugserial.GetPortsList()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to enumerate serial ports")
	}

	seen := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		seen[p] = struct{}{}
	}
	for _, pattern := range candidatePatterns[runtime.GOOS] {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			if resolved, err := filepath.EvalSymlinks(m); err == nil {
				m = resolved
			}
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				ports = append(ports, m)
			}
		}
	}

	sort.SliceStable(ports, func(i, j int) bool {
		li, lj := IsLikelyBoard(ports[i]), IsLikelyBoard(ports[j])
		if li != lj {
			return li
		}
		return ports[i] < ports[j]
	})
	return ports, nil
}

// IsLikelyBoard reports whether p looks like a USB serial board.
func IsLikelyBoard(p string) bool {
	base := filepath.Base(p)
	for _, prefix := range []string{"cu.usbmodem", "cu.usbserial", "ttyACM", "ttyUSB"} {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}
