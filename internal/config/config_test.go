package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PORTAL_USERNAME", "admin")
	t.Setenv("PORTAL_PASSWORD", "secret")
	t.Setenv("PORTAL_LOGIN_URL", "https://desk.example.com/login")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Portal.PageTimeout != DefaultPageTimeout {
		t.Errorf("expected default page timeout, got %v", cfg.Portal.PageTimeout)
	}
	if cfg.Portal.Settle != DefaultSettle {
		t.Errorf("expected default settle, got %v", cfg.Portal.Settle)
	}
	if len(cfg.Targets) != 4 {
		t.Fatalf("expected 4 default targets, got %d", len(cfg.Targets))
	}
	for _, tgt := range cfg.Targets {
		if tgt.URL == "" || tgt.Stem == "" {
			t.Errorf("default target incomplete: %+v", tgt)
		}
	}
	if cfg.Sync.Automation.Branch != "main" || cfg.Sync.Automation.Remote != "origin" {
		t.Errorf("automation repo defaults wrong: %+v", cfg.Sync.Automation)
	}
	if cfg.Sync.Consuming.Path != "../testapp" {
		t.Errorf("consuming repo path default wrong: %q", cfg.Sync.Consuming.Path)
	}
}

func TestLoadMissingCredentialsFatal(t *testing.T) {
	t.Setenv("PORTAL_USERNAME", "")
	t.Setenv("PORTAL_PASSWORD", "")
	t.Setenv("PORTAL_LOGIN_URL", "https://desk.example.com/login")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error when credentials are missing")
	}
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("PORTAL_USERNAME", "admin")
	t.Setenv("PORTAL_PASSWORD", "secret")
	t.Setenv("TEST_CONSUMING_URL", "https://git.example.com/org/testapp.git")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
portal:
  login_url: https://desk.example.com/login
  page_timeout: 7s
targets:
  - url: https://desk.example.com/custom
    label: Custom
    stem: custom
sync:
  consuming:
    url: ${TEST_CONSUMING_URL}
    token: tok123
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Portal.PageTimeout != 7*time.Second {
		t.Errorf("page timeout not read from file: %v", cfg.Portal.PageTimeout)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Stem != "custom" {
		t.Errorf("targets not read from file: %+v", cfg.Targets)
	}
	if cfg.Sync.Consuming.URL != "https://git.example.com/org/testapp.git" {
		t.Errorf("env expansion failed: %q", cfg.Sync.Consuming.URL)
	}
}

func TestValidateIncompleteTarget(t *testing.T) {
	cfg := &Config{
		Portal:  PortalConfig{LoginURL: "https://x/login", Username: "u", Password: "p"},
		Targets: []Target{{URL: "", Label: "Broken", Stem: "broken"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for target without URL")
	}
}

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://desk.example.com/login": "https://desk.example.com",
		"https://desk.example.com/":      "https://desk.example.com",
		"https://desk.example.com":       "https://desk.example.com",
	}
	for in, want := range cases {
		if got := baseURL(in); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := Init(path, false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := Init(path, false); err == nil {
		t.Fatal("expected error on existing file without force")
	}
	if err := Init(path, true); err != nil {
		t.Fatalf("init force: %v", err)
	}
}
