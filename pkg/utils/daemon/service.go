// Package daemon installs the tvroll daemon as a system service: a systemd
// unit on Linux and a launchd daemon on macOS.
package daemon

import (
	"fmt"
	"runtime"
	"strings"
	"text/template"
)

// Unit is what the service manager starts.
type Unit struct {
	Executable string
	Args       []string
}

type manager struct {
	name     string
	path     string
	template string
	load     [][]string
	unload   [][]string
	// reload runs after the unit file is removed.
	reload [][]string
}

var (
	systemd = manager{
		name:     "systemd",
		path:     "/etc/systemd/system/tvroll.service",
		template: systemdUnitTemplate,
		load: [][]string{
			{"systemctl", "daemon-reload"},
			{"systemctl", "enable", "--now", "tvroll.service"},
		},
		unload: [][]string{
			{"systemctl", "disable", "--now", "tvroll.service"},
		},
		reload: [][]string{
			{"systemctl", "daemon-reload"},
		},
	}
	launchd = manager{
		name:     "launchd",
		path:     "/Library/LaunchDaemons/io.github.tvalice.tvroll.plist",
		template: launchdPlistTemplate,
		load: [][]string{
			{"/bin/launchctl", "load", "/Library/LaunchDaemons/io.github.tvalice.tvroll.plist"},
		},
		unload: [][]string{
			{"/bin/launchctl", "unload", "/Library/LaunchDaemons/io.github.tvalice.tvroll.plist"},
		},
	}
)

func managerFor(goos string) (manager, error) {
	switch goos {
	case "linux":
		return systemd, nil
	case "darwin":
		return launchd, nil
	}
	return manager{}, fmt.Errorf("installing the daemon is not supported on %s", goos)
}

func current() (manager, error) { return managerFor(runtime.GOOS) }

var funcs = template.FuncMap{
	"xml": template.HTMLEscapeString,
}

// Render fills a service template with u.
func (u Unit) Render(tmpl string) (string, error) {
	t, err := template.New("unit").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse service template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, u); err != nil {
		return "", fmt.Errorf("failed to render service template: %w", err)
	}
	return b.String(), nil
}
