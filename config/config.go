// Package config provides node configuration parsing.
//
// Configuration comes from a YAML file, with command-line flags layered on
// top for the values people commonly override.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the node configuration.
type Config struct {
	// Identity describes this dApp to wallets.
	Identity IdentityConfig `yaml:"identity"`

	// Session configures the pairing channel.
	Session SessionConfig `yaml:"session"`

	// Cluster is the Solana cluster authorizations are requested for.
	Cluster string `yaml:"cluster"`

	// KeyFile is the PEM path of the association key. Generated on first
	// run when missing.
	KeyFile string `yaml:"key_file"`

	// DBFile is the sqlite database path; ":memory:" for ephemeral runs.
	DBFile string `yaml:"db_file"`

	// WebUI configures the status and metrics endpoint; disabled when the
	// listen address is empty.
	WebUI WebUIConfig `yaml:"webui"`
}

// IdentityConfig is the identity block presented during authorization.
type IdentityConfig struct {
	Name string `yaml:"name"`
	URI  string `yaml:"uri"`
	Icon string `yaml:"icon"`
}

// SessionConfig configures the pairing listener.
type SessionConfig struct {
	// Host is the listen interface; pairing is local, so this should stay
	// a loopback address.
	Host string `yaml:"host"`

	// Port is the pairing port; 0 picks an ephemeral port.
	Port int `yaml:"port"`

	// AcceptTimeout bounds the wait for the wallet to connect.
	AcceptTimeout Duration `yaml:"accept_timeout"`
}

// Duration parses YAML duration strings like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// WebUIConfig configures the status endpoint.
type WebUIConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{
			Name: "mwanode",
		},
		Session: SessionConfig{
			Host:          "127.0.0.1",
			Port:          0,
			AcceptTimeout: Duration(30 * time.Second),
		},
		Cluster: "devnet",
		KeyFile: "association.pem",
		DBFile:  "mwanode.sqlite",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Session.Port < 0 || c.Session.Port > 65535 {
		return fmt.Errorf("config: session port %d out of range", c.Session.Port)
	}
	if c.Session.AcceptTimeout < 0 {
		return fmt.Errorf("config: negative accept timeout")
	}
	if c.Identity.Name == "" {
		return fmt.Errorf("config: identity name required")
	}
	return nil
}
