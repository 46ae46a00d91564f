package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 5636 {
		t.Errorf("HTTPPort = %d, want 5636", cfg.HTTPPort)
	}
	if cfg.DatabaseType != "sqlite" {
		t.Errorf("DatabaseType = %q, want sqlite", cfg.DatabaseType)
	}
	if cfg.ProcessorBatchSize != 100 {
		t.Errorf("ProcessorBatchSize = %d, want 100", cfg.ProcessorBatchSize)
	}
}

func TestLoadFileOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evebox.yaml")
	content := "http:\n  port: 9999\ndatabase:\n  type: elasticsearch\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d, want 9999", cfg.HTTPPort)
	}
	if cfg.DatabaseType != "elasticsearch" {
		t.Errorf("DatabaseType = %q, want elasticsearch", cfg.DatabaseType)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evebox.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: 9999\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("EVEBOX_HTTP_PORT", "8888")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("HTTPPort = %d, want 8888 (env should win over file)", cfg.HTTPPort)
	}
}

func TestFlagOverridesEnv(t *testing.T) {
	t.Setenv("EVEBOX_HTTP_PORT", "8888")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("http.port", 5636, "")
	if err := flags.Set("http.port", "1234"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 1234 {
		t.Errorf("HTTPPort = %d, want 1234 (flag should win over env)", cfg.HTTPPort)
	}
}

func TestMissingConfigFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), nil)
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}
