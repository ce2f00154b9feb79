// Package version is set at link time, e.g.
//
//	-ldflags "-X github.com/tvalice/tvroll/pkg/version.Version=v0.3.0"
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
)
