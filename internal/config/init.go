package config

import (
	"fmt"
	"os"
)

const exampleConfig = `# portalsync configuration
portal:
  login_url: https://desk.example.com/login
  # Credentials come from PORTAL_USERNAME / PORTAL_PASSWORD (or a .env file).
  page_timeout: 20s
  settle: 5s
  marker: Export

targets:
  - url: https://desk.example.com/agents
    label: Agents
    stem: agents
  - url: https://desk.example.com/tickets
    label: Tickets
    stem: tickets
  - url: https://desk.example.com/calls
    label: Call Log
    stem: calls
  - url: https://desk.example.com/reports/performance
    label: Performance
    stem: performance

sync:
  automation:
    branch: main
  consuming:
    path: ../testapp
    url: ${CONSUMING_REPO_URL}
    token: ${GIT_ACCESS_TOKEN}
    branch: main

daemon:
  schedule: "0 */6 * * *"
  metrics_addr: ":9105"
`

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
