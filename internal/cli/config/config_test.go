package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Services.Judge != DefaultJudgeURL || cfg.Services.Data != DefaultDataURL {
		t.Fatalf("unexpected services: %+v", cfg.Services)
	}
	if cfg.Timeout != 0 {
		t.Fatalf("timeout should default to zero, got %s", cfg.Timeout)
	}
	if cfg.PrettyJSON == nil || !*cfg.PrettyJSON {
		t.Fatalf("prettyJSON should default to true")
	}
	if cfg.Language != DefaultLanguage {
		t.Fatalf("unexpected language: %s", cfg.Language)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := `services:
  judge: http://judge:9000
  data: http://data:9001
timeout: 3s
prettyJSON: false
language: python
log:
  level: debug
views:
  redisAddr: 127.0.0.1:6379
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Services.Judge != "http://judge:9000" || cfg.Services.Data != "http://data:9001" {
		t.Fatalf("unexpected services: %+v", cfg.Services)
	}
	if cfg.Services.Auth != DefaultAuthURL {
		t.Fatalf("auth should fall back to default: %s", cfg.Services.Auth)
	}
	if cfg.Timeout != 3*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Timeout)
	}
	if *cfg.PrettyJSON {
		t.Fatalf("prettyJSON should be false")
	}
	if cfg.Language != "python" || cfg.Log.Level != "debug" || cfg.Views.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("services: ["), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("ARENA_DATA_URL=http://from-dotenv:5005\n"), 0o600); err != nil {
		t.Fatalf("write env failed: %v", err)
	}
	t.Setenv(EnvJudgeURL, "http://from-env:8080/judge")
	t.Setenv(EnvDataURL, "")
	// godotenv does not override variables that are already set, so clear it first.
	os.Unsetenv(EnvDataURL)

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := LoadEnv(&cfg, envPath); err != nil {
		t.Fatalf("load env failed: %v", err)
	}
	if cfg.Services.Judge != "http://from-env:8080/judge" {
		t.Fatalf("unexpected judge url: %s", cfg.Services.Judge)
	}
	if cfg.Services.Data != "http://from-dotenv:5005" {
		t.Fatalf("unexpected data url: %s", cfg.Services.Data)
	}
	os.Unsetenv(EnvDataURL)
}

func TestLoadEnvMissingFile(t *testing.T) {
	cfg := Config{}
	if err := LoadEnv(&cfg, filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
