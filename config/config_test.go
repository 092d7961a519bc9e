package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
identity:
  name: "demo dapp"
  uri: "https://dapp.example"
session:
  host: "127.0.0.1"
  port: 49152
  accept_timeout: 10s
cluster: "mainnet-beta"
key_file: "/var/lib/mwanode/association.pem"
webui:
  listen_addr: "127.0.0.1:8080"
  enable_pprof: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity.Name != "demo dapp" {
		t.Errorf("identity name = %q", cfg.Identity.Name)
	}
	if cfg.Session.Port != 49152 {
		t.Errorf("port = %d", cfg.Session.Port)
	}
	if cfg.Session.AcceptTimeout.Std() != 10*time.Second {
		t.Errorf("accept timeout = %v", cfg.Session.AcceptTimeout)
	}
	if cfg.Cluster != "mainnet-beta" {
		t.Errorf("cluster = %q", cfg.Cluster)
	}
	if !cfg.WebUI.EnablePprof || cfg.WebUI.ListenAddr != "127.0.0.1:8080" {
		t.Errorf("webui = %+v", cfg.WebUI)
	}
	// Unset values keep their defaults.
	if cfg.DBFile != "mwanode.sqlite" {
		t.Errorf("db file = %q, want default", cfg.DBFile)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `cluster: "testnet"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster != "testnet" {
		t.Errorf("cluster = %q", cfg.Cluster)
	}
	if cfg.Session.Host != "127.0.0.1" || cfg.Session.AcceptTimeout.Std() != 30*time.Second {
		t.Errorf("session defaults lost: %+v", cfg.Session)
	}
	if cfg.Identity.Name != "mwanode" {
		t.Errorf("identity name = %q, want default", cfg.Identity.Name)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load accepted a missing file")
	}

	bad := writeConfig(t, "session: [not a mapping")
	if _, err := Load(bad); err == nil {
		t.Error("Load accepted invalid yaml")
	}

	outOfRange := writeConfig(t, "session:\n  port: 99999\n")
	if _, err := Load(outOfRange); err == nil {
		t.Error("Load accepted out-of-range port")
	}

	noName := writeConfig(t, `identity: {name: ""}`)
	if _, err := Load(noName); err == nil {
		t.Error("Load accepted empty identity name")
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
