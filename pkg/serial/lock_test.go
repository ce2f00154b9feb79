//go:build unix

package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockPath(t *testing.T) {
	assert.Equal(t, "/tmp/tvroll-dev_cu_usbmodem1301.lock", lockPath("/tmp", "/dev/cu.usbmodem1301"))
	assert.Equal(t, "/run/tvroll-dev_ttyACM0.lock", lockPath("/run", "/dev/ttyACM0"))
}

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := acquireLock(dir, "/dev/ttyACM0")
	require.NoError(t, err)

	_, err = acquireLock(dir, "/dev/ttyACM0")
	assert.Error(t, err)

	other, err := acquireLock(dir, "/dev/ttyACM1")
	require.NoError(t, err)
	other.release()

	first.release()
	again, err := acquireLock(dir, "/dev/ttyACM0")
	require.NoError(t, err)
	again.release()
}

func TestIsLikelyBoard(t *testing.T) {
	assert.True(t, IsLikelyBoard("/dev/cu.usbmodem1301"))
	assert.True(t, IsLikelyBoard("/dev/ttyACM0"))
	assert.False(t, IsLikelyBoard("/dev/ttyS0"))
	assert.False(t, IsLikelyBoard("/dev/cu.Bluetooth-Incoming-Port"))
}
