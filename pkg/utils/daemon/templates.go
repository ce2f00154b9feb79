package daemon

const systemdUnitTemplate = `[Unit]
Description=tvroll daemon
After=network.target

[Service]
Type=simple
ExecStart={{ .Executable }}{{ range .Args }} {{ . }}{{ end }}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>io.github.tvalice.tvroll</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{ xml .Executable }}</string>
{{- range .Args }}
		<string>{{ xml . }}</string>
{{- end }}
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>/tmp/tvroll.log</string>
	<key>StandardErrorPath</key>
	<string>/tmp/tvroll.log</string>
</dict>
</plist>
`
