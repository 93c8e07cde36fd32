package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const minimalYAML = `
camera:
  snapshot_url: http://cam.local/snapshot.jpg
recognizer:
  base_url: http://recognizer:5000
roster:
  dsn: postgres://localhost/borderwatch
`

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, "cfg.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Camera.Interval != 200*time.Millisecond {
		t.Errorf("camera.interval = %v, want 200ms", cfg.Camera.Interval)
	}
	if cfg.Detection.UnknownThreshold != 2*time.Second {
		t.Errorf("detection.unknown_threshold = %v, want 2s", cfg.Detection.UnknownThreshold)
	}
	if cfg.Recognizer.MatchThreshold != 0.5 {
		t.Errorf("recognizer.match_threshold = %v, want 0.5", cfg.Recognizer.MatchThreshold)
	}
	if cfg.Roster.Table != "identities" || cfg.Roster.NotifyChannel != "roster_changed" {
		t.Errorf("roster defaults = %q/%q", cfg.Roster.Table, cfg.Roster.NotifyChannel)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("storage.driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Alerts.StoreLimit != 1000 {
		t.Errorf("alerts.store_limit = %d, want 1000", cfg.Alerts.StoreLimit)
	}
}

func TestLoadJSON(t *testing.T) {
	content := `{
  "camera": {"snapshot_url": "http://cam.local/snap.jpg", "interval": 500000000},
  "recognizer": {"base_url": "http://rec:5000"},
  "roster": {"dsn": "postgres://localhost/bw"},
  "detection": {"unknown_threshold": 3000000000}
}`
	cfg, err := Load(writeTemp(t, "cfg.json", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.Interval != 500*time.Millisecond {
		t.Errorf("camera.interval = %v, want 500ms", cfg.Camera.Interval)
	}
	if cfg.Detection.UnknownThreshold != 3*time.Second {
		t.Errorf("detection.unknown_threshold = %v, want 3s", cfg.Detection.UnknownThreshold)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	if _, err := Load(writeTemp(t, "empty.yaml", "   \n")); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Camera.SnapshotURL = "http://cam.local/snap.jpg"
		cfg.Recognizer.BaseURL = "http://rec:5000"
		cfg.Roster.DSN = "postgres://localhost/bw"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing snapshot url", func(c *Config) { c.Camera.SnapshotURL = "" }, true},
		{"missing recognizer url", func(c *Config) { c.Recognizer.BaseURL = "" }, true},
		{"missing roster dsn", func(c *Config) { c.Roster.DSN = "" }, true},
		{"threshold too high", func(c *Config) { c.Recognizer.MatchThreshold = 2.5 }, true},
		{"threshold shorter than interval", func(c *Config) {
			c.Detection.UnknownThreshold = 100 * time.Millisecond
			c.Camera.Interval = 200 * time.Millisecond
		}, true},
		{"api enabled without addr", func(c *Config) {
			c.API.Enabled = true
			c.API.Addr = ""
		}, true},
		{"kafka enabled without brokers", func(c *Config) {
			c.Notify.Kafka.Enabled = true
			c.Notify.Kafka.Topic = "alerts"
		}, true},
		{"kafka enabled complete", func(c *Config) {
			c.Notify.Kafka.Enabled = true
			c.Notify.Kafka.Brokers = []string{"localhost:9092"}
			c.Notify.Kafka.Topic = "alerts"
		}, false},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "mongodb" }, true},
		{"postgres storage driver", func(c *Config) { c.Storage.Driver = "postgres" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	content := `
camera:
  snapshot_url: http://cam.local/snap.jpg
  interval: 5000000000
recognizer:
  base_url: http://rec:5000
roster:
  dsn: postgres://localhost/bw
detection:
  unknown_threshold: 1000000000
`
	if _, err := Load(writeTemp(t, "bad.yaml", content)); err == nil {
		t.Fatal("expected error when threshold is shorter than interval")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Camera.SnapshotURL = "http://cam.local/snap.jpg"
	cfg.Recognizer.BaseURL = "http://rec:5000"
	cfg.Roster.DSN = "postgres://localhost/bw"

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save error = %v", err)
	}
	if loaded.Camera.SnapshotURL != cfg.Camera.SnapshotURL {
		t.Fatalf("snapshot url = %q, want %q", loaded.Camera.SnapshotURL, cfg.Camera.SnapshotURL)
	}
}

func TestStaticManager(t *testing.T) {
	cfg := &Config{}
	m := NewStaticManager(cfg)
	got := m.Get()
	if got.Camera.Interval != 200*time.Millisecond {
		t.Fatalf("static manager skipped defaults: interval = %v", got.Camera.Interval)
	}
	if m.Path() != "" {
		t.Fatalf("Path() = %q, want empty", m.Path())
	}
	if _, err := m.Reload(); err != nil {
		t.Fatalf("Reload() on static manager error = %v", err)
	}
}
