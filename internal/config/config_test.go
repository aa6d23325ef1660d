package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URL", "http://node.test:8545")
	t.Setenv("CHAIN_ID", "1337")
	t.Setenv("KEYSTORE_DIR", "/tmp/keystore")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("default redis addr: got %s", cfg.Redis.Addr)
	}
	if cfg.Approval.IdleTimeoutMs != 1300 {
		t.Errorf("default idle timeout: got %d, want 1300", cfg.Approval.IdleTimeoutMs)
	}
	if cfg.Chain.RPCURL != "http://node.test:8545" || cfg.Chain.ChainID != 1337 {
		t.Errorf("chain config: %+v", cfg.Chain)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("APPROVAL_IDLE_TIMEOUT_MS", "2000")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port override: got %d", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "localhost:6380" {
		t.Errorf("redis override: got %s", cfg.Redis.Addr)
	}
	if cfg.Approval.IdleTimeoutMs != 2000 {
		t.Errorf("idle timeout override: got %d", cfg.Approval.IdleTimeoutMs)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name string
		omit string
	}{
		{"no rpc url", "RPC_URL"},
		{"no chain id", "CHAIN_ID"},
		{"no keystore dir", "KEYSTORE_DIR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.omit, "")

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.omit) {
				t.Errorf("error %q does not name %s", err, tt.omit)
			}
		})
	}
}
