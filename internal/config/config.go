// Package config loads service configuration from a YAML file,
// environment variables and command-line flags, in that order of
// precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         int    `yaml:"port"`
	ProjectsRoot string `yaml:"projects_root"`
	Token        string `yaml:"token"`
	AuditDB      string `yaml:"audit_db"`

	// Shell timeouts in seconds. Request timeouts above the maximum
	// are clamped to it; DefaultShellTimeout applies when a request
	// leaves the bound unset.
	DefaultShellTimeout int `yaml:"default_shell_timeout"`
	MaxShellTimeout     int `yaml:"max_shell_timeout"`

	ConfigPath string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Port:                8000,
		ProjectsRoot:        "./projects",
		AuditDB:             "./data/audit.db",
		DefaultShellTimeout: 30,
		MaxShellTimeout:     3600,
	}
}

// Load builds the effective configuration. A missing config file is not
// an error; a token is generated and persisted on first run.
func Load() (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg.ConfigPath = filepath.Join(homeDir, ".config", "microvms", "config.yaml")

	flag.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "path to YAML config file")
	port := flag.Int("port", 0, "server port (1-65535)")
	projectsRoot := flag.String("projects-root", "", "directory containing project workspaces")
	token := flag.String("token", "", "authentication token (auto-generated if empty)")
	auditDB := flag.String("audit-db", "", "path to the audit sqlite database")
	flag.Parse()

	if err := cfg.loadFile(cfg.ConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg.applyEnv()

	if *port != 0 {
		cfg.Port = *port
	}
	if *projectsRoot != "" {
		cfg.ProjectsRoot = *projectsRoot
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *auditDB != "" {
		cfg.AuditDB = *auditDB
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		generated, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = generated
		if err := cfg.save(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid YAML in %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MICROVMS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("MICROVMS_PROJECTS_ROOT"); v != "" {
		c.ProjectsRoot = v
	}
	if v := os.Getenv("MICROVMS_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("MICROVMS_AUDIT_DB"); v != "" {
		c.AuditDB = v
	}
	if v := os.Getenv("MICROVMS_DEFAULT_SHELL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultShellTimeout = n
		}
	}
	if v := os.Getenv("MICROVMS_MAX_SHELL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxShellTimeout = n
		}
	}
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.ProjectsRoot == "" {
		return fmt.Errorf("projects root is required")
	}
	if c.DefaultShellTimeout < 1 {
		return fmt.Errorf("invalid default shell timeout %d", c.DefaultShellTimeout)
	}
	if c.MaxShellTimeout < c.DefaultShellTimeout {
		return fmt.Errorf("max shell timeout %d is below the default %d",
			c.MaxShellTimeout, c.DefaultShellTimeout)
	}
	return nil
}

func (c *Config) save() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, data, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
