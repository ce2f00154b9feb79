package daemon

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSystemd(t *testing.T) {
	u := Unit{Executable: "/usr/local/bin/tvroll", Args: []string{"daemon", "--config", "/etc/tvroll.json"}}
	out, err := u.Render(systemdUnitTemplate)
	require.NoError(t, err)
	assert.Contains(t, out, "ExecStart=/usr/local/bin/tvroll daemon --config /etc/tvroll.json\n")
	assert.Contains(t, out, "WantedBy=multi-user.target")
}

func TestRenderLaunchd(t *testing.T) {
	u := Unit{Executable: "/opt/a&b/tvroll", Args: []string{"daemon"}}
	out, err := u.Render(launchdPlistTemplate)
	require.NoError(t, err)
	assert.Contains(t, out, "<string>/opt/a&amp;b/tvroll</string>")
	assert.Contains(t, out, "<string>daemon</string>")

	// The plist must stay well-formed XML.
	d := xml.NewDecoder(strings.NewReader(out))
	d.Strict = false
	for {
		_, err := d.Token()
		if err != nil {
			assert.Equal(t, "EOF", err.Error())
			break
		}
	}
}

func TestManagerFor(t *testing.T) {
	m, err := managerFor("linux")
	require.NoError(t, err)
	assert.Equal(t, "systemd", m.name)

	m, err = managerFor("darwin")
	require.NoError(t, err)
	assert.Equal(t, "launchd", m.name)
	assert.Equal(t, m.path, m.load[0][2])

	_, err = managerFor("windows")
	assert.Error(t, err)
}
