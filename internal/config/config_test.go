package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	t.Setenv("HEALER_CONFIG", "")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ListenHost() != "127.0.0.1" {
		t.Errorf("default host = %q", ListenHost())
	}
	if ListenPort() != 9999 {
		t.Errorf("default port = %d", ListenPort())
	}
	if ListenAddr() != "127.0.0.1:9999" {
		t.Errorf("addr = %q", ListenAddr())
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HEALER_LISTEN_PORT", "7777")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ListenPort() != 7777 {
		t.Errorf("env override ignored, port = %d", ListenPort())
	}
}

func TestConfigFilePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen-port: 8888\ndb: /tmp/custom.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HEALER_CONFIG", path)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ListenPort() != 8888 {
		t.Errorf("config file port ignored, got %d", ListenPort())
	}
	if DatabasePath() != "/tmp/custom.db" {
		t.Errorf("config file db ignored, got %q", DatabasePath())
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	t.Setenv("HEALER_CONFIG", "")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("second WriteDefault must refuse to overwrite")
	}
}
