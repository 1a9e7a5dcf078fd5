package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AI.Timeout != 60*time.Second {
		t.Errorf("ai timeout = %v", cfg.AI.Timeout)
	}
	if cfg.Chat.TurnLockTTL < 2*cfg.AI.Timeout {
		t.Errorf("turn lock ttl %v shorter than summary + generation (%v)", cfg.Chat.TurnLockTTL, 2*cfg.AI.Timeout)
	}
	if cfg.Chat.TurnLockTTL != cfg.TurnBudget() {
		t.Errorf("turn lock ttl = %v, budget = %v", cfg.Chat.TurnLockTTL, cfg.TurnBudget())
	}
}

func TestLoadRaisesShortTurnLock(t *testing.T) {
	dir := writeConfig(t, "ai:\n  timeout: 90s\nchat:\n  turn_lock_ttl: 60s\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := 2*90*time.Second + 30*time.Second; cfg.Chat.TurnLockTTL != want {
		t.Errorf("turn lock ttl = %v, want %v", cfg.Chat.TurnLockTTL, want)
	}
}

func TestLoadKeepsLongTurnLock(t *testing.T) {
	dir := writeConfig(t, "ai:\n  timeout: 30s\nchat:\n  turn_lock_ttl: 10m\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.TurnLockTTL != 10*time.Minute {
		t.Errorf("turn lock ttl = %v", cfg.Chat.TurnLockTTL)
	}
	if cfg.TurnBudget() != 90*time.Second {
		t.Errorf("budget = %v", cfg.TurnBudget())
	}
}
