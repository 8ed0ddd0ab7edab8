package service

import "fmt"

func renderSystemdUnit(exePath, configPath, mode string) string {
	return fmt.Sprintf(`[Unit]
Description=BDRman Telegram bot and web dashboard
After=network-online.target docker.service
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s %s --config %s
Restart=always
RestartSec=3
User=root

[Install]
WantedBy=multi-user.target
`, exePath, mode, configPath)
}
