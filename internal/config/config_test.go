package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "redisx.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProtocolVersion != 3 {
		t.Fatalf("expected default protocol_version 3, got %d", cfg.ProtocolVersion)
	}
	if cfg.Pool.Size != 10 {
		t.Fatalf("expected default pool.size 10, got %d", cfg.Pool.Size)
	}
}

func TestLoadParsesYAMLFile(t *testing.T) {
	path := writeTempConfig(t, `
address: ["127.0.0.1:6379"]
protocol_version: 2
username: alice
pool:
  size: 25
sentinel:
  endpoints: ["s1:26379"]
  service_name: main
  role: master
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Address) != 1 || cfg.Address[0] != "127.0.0.1:6379" {
		t.Fatalf("unexpected address: %+v", cfg.Address)
	}
	if cfg.ProtocolVersion != 2 {
		t.Fatalf("expected protocol_version 2, got %d", cfg.ProtocolVersion)
	}
	if cfg.Pool.Size != 25 {
		t.Fatalf("expected pool.size 25, got %d", cfg.Pool.Size)
	}
	if cfg.Sentinel.ServiceName != "main" {
		t.Fatalf("expected sentinel.service_name main, got %q", cfg.Sentinel.ServiceName)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeTempConfig(t, `
bogus_option: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	os.Setenv("REDISX_USERNAME", "from-env")
	defer os.Unsetenv("REDISX_USERNAME")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Username != "from-env" {
		t.Fatalf("expected username overridden from env, got %q", cfg.Username)
	}
}

func TestValidateRejectsBadProtocolVersion(t *testing.T) {
	cfg := defaults()
	cfg.ProtocolVersion = 7
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid protocol_version")
	}
}

func TestValidateRejectsSentinelServiceWithoutEndpoints(t *testing.T) {
	cfg := defaults()
	cfg.Sentinel.ServiceName = "main"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for sentinel service without endpoints")
	}
}
