package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Ledger.Backend != "fabric" {
		t.Fatalf("expected fabric default backend, got %q", cfg.Ledger.Backend)
	}
	if cfg.Ledger.Fabric.ChaincodeName != "wateralloc" {
		t.Fatalf("expected wateralloc chaincode, got %q", cfg.Ledger.Fabric.ChaincodeName)
	}
	if cfg.Inference.Timeout != 10*time.Second {
		t.Fatalf("expected 10s inference timeout, got %v", cfg.Inference.Timeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("LEDGER_BACKEND", "evm")
	t.Setenv("EVM_CHAIN_ID", "11155111")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.HTTP.Addr)
	}
	if cfg.Ledger.Backend != "evm" || cfg.Ledger.EVM.ChainID != 11155111 {
		t.Fatalf("expected evm overrides, got %+v", cfg.Ledger)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "quorum")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown backend rejection")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "http:\n  addr: \":7070\"\nmqtt:\n  broker_url: tcp://broker:1883\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("expected file overlay to win, got %q", cfg.HTTP.Addr)
	}
	if cfg.MQTT.BrokerURL != "tcp://broker:1883" {
		t.Fatalf("expected broker url from file, got %q", cfg.MQTT.BrokerURL)
	}
}
