package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// Config is the CLI state stored in ~/.playmate/chatctl.toml.
type Config struct {
	Server ConfigServer `toml:"server"`
	Auth   ConfigAuth   `toml:"auth"`
}

type ConfigServer struct {
	BaseURL string `toml:"base_url"`
}

type ConfigAuth struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
	// Secret is only needed by "chatctl token" to mint development tokens.
	Secret string `toml:"secret"`
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".playmate")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatctl.toml"), nil
}

// loadConfig returns a zero Config when the file does not exist yet.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a field using dot notation, e.g. "server.base_url".
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.base_url)")
	}

	switch section {
	case "server":
		switch field {
		case "base_url":
			cfg.Server.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "secret":
			cfg.Auth.Secret = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth)", section)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Playmate chat CLI",
	Long:          "Command-line client for the Playmate chat service.\nList conversations, read history, send messages and follow a conversation live.",
	SilenceUsage:  true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
