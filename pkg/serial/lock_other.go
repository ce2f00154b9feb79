//go:build !unix

package serial

// fileLock is a no-op where flock is unavailable.
type fileLock struct{}

func acquireLock(_, _ string) (*fileLock, error) { return nil, nil }

func (l *fileLock) release() {}
