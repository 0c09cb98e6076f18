// Package config loads and validates the pipeline configuration. All settings
// are resolved once at startup into an explicit Config value; components never
// read the process environment themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default bounded waits. Every wait in the pipeline has a fixed ceiling.
const (
	DefaultPageTimeout = 20 * time.Second
	DefaultSettle      = 5 * time.Second
)

// Config represents the application configuration.
type Config struct {
	Portal    PortalConfig  `yaml:"portal"`
	Targets   []Target      `yaml:"targets,omitempty"`
	Workspace string        `yaml:"workspace,omitempty"`
	Sync      SyncConfig    `yaml:"sync"`
	Daemon    DaemonConfig  `yaml:"daemon"`
	History   HistoryConfig `yaml:"history"`
}

// PortalConfig holds the portal login endpoint and credentials.
type PortalConfig struct {
	LoginURL    string        `yaml:"login_url"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	PageTimeout time.Duration `yaml:"page_timeout,omitempty"`
	Settle      time.Duration `yaml:"settle,omitempty"`
	Marker      string        `yaml:"marker,omitempty"` // case-sensitive export trigger token
}

// Target describes one listing page to harvest. Immutable during a run.
type Target struct {
	URL   string `yaml:"url"`
	Label string `yaml:"label"`
	Stem  string `yaml:"stem"` // canonical output file stem
}

// RepoConfig describes one git mirror the synchronizer reconciles.
type RepoConfig struct {
	Path   string `yaml:"path"`
	URL    string `yaml:"url,omitempty"`
	Token  string `yaml:"token,omitempty"`
	Branch string `yaml:"branch,omitempty"`
	Remote string `yaml:"remote,omitempty"`
}

// SyncConfig holds both repository mirrors: the automation repo the pipeline
// itself lives in, and the downstream consuming app repo.
type SyncConfig struct {
	Automation RepoConfig `yaml:"automation"`
	Consuming  RepoConfig `yaml:"consuming"`
}

// DaemonConfig configures scheduled runs in daemon mode.
type DaemonConfig struct {
	Schedule    string `yaml:"schedule,omitempty"`     // cron expression
	MetricsAddr string `yaml:"metrics_addr,omitempty"` // promhttp listen address
}

// HistoryConfig configures the run ledger.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Load loads configuration from the specified file. A missing file is not an
// error: defaults plus environment variables form a complete configuration.
func Load(configPath string) (*Config, error) {
	// Load .env if present; existing process env wins.
	_ = godotenv.Load()

	cfg := &Config{}
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			// Expand ${VAR} references so secrets can stay out of the file.
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills credential and path fields from recognized environment
// variables when the config file left them empty.
func (c *Config) applyEnv() {
	setIfEmpty(&c.Portal.Username, "PORTAL_USERNAME")
	setIfEmpty(&c.Portal.Password, "PORTAL_PASSWORD")
	setIfEmpty(&c.Portal.LoginURL, "PORTAL_LOGIN_URL")
	setIfEmpty(&c.Workspace, "WORKSPACE_ROOT")
	setIfEmpty(&c.Sync.Consuming.URL, "CONSUMING_REPO_URL")
	setIfEmpty(&c.Sync.Consuming.Token, "GIT_ACCESS_TOKEN")
}

func setIfEmpty(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}

func (c *Config) applyDefaults() {
	if c.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Workspace = wd
		} else {
			c.Workspace = "."
		}
	}
	if c.Portal.PageTimeout <= 0 {
		c.Portal.PageTimeout = DefaultPageTimeout
	}
	if c.Portal.Settle <= 0 {
		c.Portal.Settle = DefaultSettle
	}
	if c.Portal.Marker == "" {
		c.Portal.Marker = "Export"
	}
	if len(c.Targets) == 0 {
		c.Targets = DefaultTargets(c.Portal.LoginURL)
	}
	if c.Sync.Automation.Path == "" {
		c.Sync.Automation.Path = c.Workspace
	}
	if c.Sync.Consuming.Path == "" {
		c.Sync.Consuming.Path = "../testapp"
	}
	for _, r := range []*RepoConfig{&c.Sync.Automation, &c.Sync.Consuming} {
		if r.Branch == "" {
			r.Branch = "main"
		}
		if r.Remote == "" {
			r.Remote = "origin"
		}
	}
	if c.Daemon.MetricsAddr == "" {
		c.Daemon.MetricsAddr = ":9105"
	}
	if c.History.Path == "" {
		c.History.Path = "portalsync-history.db"
	}
}

// Validate checks that the configuration is complete enough to start a run.
// Missing credentials are a fatal configuration error at startup.
func (c *Config) Validate() error {
	if c.Portal.Username == "" || c.Portal.Password == "" {
		return fmt.Errorf("portal credentials missing: set PORTAL_USERNAME and PORTAL_PASSWORD")
	}
	if c.Portal.LoginURL == "" {
		return fmt.Errorf("portal login URL missing: set portal.login_url or PORTAL_LOGIN_URL")
	}
	for i, t := range c.Targets {
		if t.URL == "" || t.Stem == "" {
			return fmt.Errorf("target %d incomplete: url and stem are required", i)
		}
	}
	return nil
}

// DefaultTargets returns the built-in listing pages relative to the portal
// base. The stems are the canonical artifact names the consuming app imports.
func DefaultTargets(base string) []Target {
	root := baseURL(base)
	return []Target{
		{URL: root + "/agents", Label: "Agents", Stem: "agents"},
		{URL: root + "/tickets", Label: "Tickets", Stem: "tickets"},
		{URL: root + "/calls", Label: "Call Log", Stem: "calls"},
		{URL: root + "/reports/performance", Label: "Performance", Stem: "performance"},
	}
}

// baseURL strips a trailing /login style path so page URLs can be joined.
func baseURL(login string) string {
	for _, suffix := range []string{"/login", "/signin", "/"} {
		if n := len(login) - len(suffix); n > 0 && login[n:] == suffix {
			return login[:n]
		}
	}
	return login
}
