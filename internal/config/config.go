// Package config holds the viper-backed configuration singleton for the
// healer CLI and daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: $HEALER_CONFIG > ~/.config/healer/config.yaml > ~/.healer.yaml
	configFileSet := false
	if path := os.Getenv("HEALER_CONFIG"); path != "" {
		v.SetConfigFile(path)
		configFileSet = true
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(configDir, "healer", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path := filepath.Join(homeDir, ".healer.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g. HEALER_LISTEN_PORT, HEALER_DB, HEALER_LOG_FILE.
	v.SetEnvPrefix("HEALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen-host", "127.0.0.1")
	v.SetDefault("listen-port", 9999)
	v.SetDefault("db", defaultDBPath())
	v.SetDefault("log-file", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func defaultDBPath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".healer", "healer.db")
	}
	return "healer.db"
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

// ListenHost returns the daemon bind host.
func ListenHost() string { ensure(); return v.GetString("listen-host") }

// ListenPort returns the daemon bind port.
func ListenPort() int { ensure(); return v.GetInt("listen-port") }

// ListenAddr returns host:port for the daemon control socket.
func ListenAddr() string { return fmt.Sprintf("%s:%d", ListenHost(), ListenPort()) }

// DatabasePath returns the SQLite database file path.
func DatabasePath() string { ensure(); return v.GetString("db") }

// LogFile returns the daemon log file path, or "" for stderr.
func LogFile() string { ensure(); return v.GetString("log-file") }

// Set overrides a config key (used by CLI flags).
func Set(key string, value interface{}) { ensure(); v.Set(key, value) }

// fileSettings is the shape written by WriteDefault. Kept separate from
// viper so the generated file stays minimal.
type fileSettings struct {
	ListenHost string `yaml:"listen-host"`
	ListenPort int    `yaml:"listen-port"`
	DB         string `yaml:"db"`
	LogFile    string `yaml:"log-file"`
}

// WriteDefault writes a starter config file at path with the current
// effective settings. Fails if the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := yaml.Marshal(fileSettings{
		ListenHost: ListenHost(),
		ListenPort: ListenPort(),
		DB:         DatabasePath(),
		LogFile:    LogFile(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
