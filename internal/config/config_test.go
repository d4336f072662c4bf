package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("PROJ_HOME", root)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != root {
		t.Errorf("root = %q, want %q", cfg.Root, root)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("http_port = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.Socket != filepath.Join(root, "daemon.sock") {
		t.Errorf("socket = %q", cfg.Socket)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level = %q, want info", cfg.LogLevel)
	}
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("PROJ_HOME", root)
	yaml := "http_port: 9090\nlog_level: debug\n"
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("http_port = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	root := t.TempDir()
	t.Setenv("PROJ_HOME", root)
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte("http_port: 9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROJ_HTTP_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 7070 {
		t.Errorf("http_port = %d, want 7070", cfg.HTTPPort)
	}
}

func TestInvalidPortRejected(t *testing.T) {
	t.Setenv("PROJ_HOME", t.TempDir())
	for _, port := range []string{"0", "-1", "70000"} {
		t.Setenv("PROJ_HTTP_PORT", port)
		if _, err := Load(); err == nil {
			t.Errorf("Load accepted http_port=%s", port)
		}
	}
}

func TestMalformedConfigFile(t *testing.T) {
	root := t.TempDir()
	t.Setenv("PROJ_HOME", root)
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte("http_port: [oops\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Error("Load accepted a malformed config file")
	}
}
