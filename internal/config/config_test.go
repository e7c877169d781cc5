package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HistorySize != 100 {
		t.Errorf("HistorySize = %d", cfg.HistorySize)
	}
	if cfg.HealthInterval != 30*time.Second || cfg.HealthThreshold != 3 {
		t.Errorf("health defaults = %s/%d", cfg.HealthInterval, cfg.HealthThreshold)
	}
	if cfg.CPUThreshold != 90 || cfg.RAMThreshold != 85 || cfg.DiskThreshold != 90 {
		t.Errorf("host thresholds = %v/%v/%v", cfg.CPUThreshold, cfg.RAMThreshold, cfg.DiskThreshold)
	}
	if cfg.StatusAddr != ":8090" {
		t.Errorf("StatusAddr = %s", cfg.StatusAddr)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("WH_HISTORY_SIZE", "25")
	t.Setenv("WH_HEALTH_INTERVAL", "5s")
	t.Setenv("WH_CPU_THRESHOLD", "75.5")
	t.Setenv("WH_CONTAINER", "bot")

	cfg := Load()
	if cfg.HistorySize != 25 || cfg.HealthInterval != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.CPUThreshold != 75.5 || cfg.Container != "bot" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("WH_HISTORY_SIZE", "lots")
	t.Setenv("WH_HEALTH_INTERVAL", "soon")

	cfg := Load()
	if cfg.HistorySize != 100 || cfg.HealthInterval != 30*time.Second {
		t.Errorf("malformed values overrode defaults: %+v", cfg)
	}
}

func TestLoadNotifierFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifiers.yaml")
	data := `notifiers:
  - name: chat
    type: telegram
    min_severity: warning
    settings:
      bot_token: t
      chat_id: "42"
  - name: hook
    type: webhook
    disabled: true
    settings:
      url: https://example.com/hook
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	nf, err := LoadNotifierFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(nf.Notifiers) != 2 {
		t.Fatalf("got %d notifiers", len(nf.Notifiers))
	}
	if nf.Notifiers[0].Name != "chat" || nf.Notifiers[0].Settings["chat_id"] != "42" {
		t.Errorf("first spec = %+v", nf.Notifiers[0])
	}
	if !nf.Notifiers[1].Disabled {
		t.Error("disabled flag not parsed")
	}
}

func TestLoadNotifierFileRejectsUnnamedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifiers.yaml")
	os.WriteFile(path, []byte("notifiers:\n  - type: file\n"), 0o644)

	if _, err := LoadNotifierFile(path); err == nil {
		t.Error("entry without a name accepted")
	}
}

func TestLoadNotifierFileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifiers.yaml")
	os.WriteFile(path, []byte("notifiers: [unclosed"), 0o644)

	if _, err := LoadNotifierFile(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}
