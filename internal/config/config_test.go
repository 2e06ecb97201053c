package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Store.Driver)
	}
	if cfg.Reconcile.Schedule != "@every 1m" {
		t.Fatalf("schedule = %q", cfg.Reconcile.Schedule)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := []byte("server:\n  addr: \":9090\"\nstore:\n  driver: postgres\n  dsn: postgres://localhost/market\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN == "" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	// Values the file does not mention keep their defaults.
	if cfg.Server.RatePerSecond != 50 {
		t.Fatalf("rate = %d", cfg.Server.RatePerSecond)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "etcd")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
