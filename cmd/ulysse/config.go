package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// ServerConfig holds the process configuration. Site configuration (settings,
// pages, translations, theme) lives in ConfigDir.
type ServerConfig struct {
	ServerAddr       string `json:"server_addr"`
	LogLevel         string `json:"log_level"`
	ConfigDir        string `json:"config_dir"`
	ExampleConfigDir string `json:"example_config_dir"`
	ScriptPath       string `json:"script_path"`
	DevMode          bool   `json:"dev_mode"`
	AdminToken       string `json:"admin_token"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:       ":8080",
		LogLevel:         "info",
		ConfigDir:        "./config",
		ExampleConfigDir: "./example.config",
		ScriptPath:       "/index.php",
		DevMode:          false,
		AdminToken:       "",
	}
}

// LoadConfig reads the server configuration from a JSON file at the given
// path. If the file doesn't exist, it is created with default values.
func LoadConfig(path string) (*ServerConfig, error) {
	config := DefaultServerConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// the server can still run with defaults
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SiteFile returns the path of a file in the site configuration directory.
func (c *ServerConfig) SiteFile(name string) string {
	return filepath.Join(c.ConfigDir, name)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
