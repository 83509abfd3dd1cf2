package main

import (
	"testing"
)

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SWPROXY_STORE", "bolt")
	t.Setenv("SWPROXY_STORE_PATH", "/var/cache/swproxy")
	t.Setenv("SWPROXY_LOG_LEVEL", "warn")

	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--store", "sqlite", "--log-level", "debug"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"flag overrides env", cfg.StoreKind, "sqlite"},
		{"flag overrides env level", cfg.LogLevel, "debug"},
		{"env kept without flag", cfg.StorePath, "/var/cache/swproxy"},
		{"default kept without env or flag", cfg.ListenAddr, ":10080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestLoadConfigStoreFlagsOnly(t *testing.T) {
	t.Setenv("SWPROXY_STORE", "memory")

	// caches コマンドはサーバー用のフラグを持たない
	cmd := newCachesCmd()
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.StoreKind != "memory" {
		t.Errorf("StoreKind = %q, want memory", cfg.StoreKind)
	}
}
