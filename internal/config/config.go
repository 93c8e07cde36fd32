package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Camera     CameraConfig     `json:"camera" yaml:"camera"`
	Recognizer RecognizerConfig `json:"recognizer" yaml:"recognizer"`
	Roster     RosterConfig     `json:"roster" yaml:"roster"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Report     ReportConfig     `json:"report" yaml:"report"`
	API        APIConfig        `json:"api" yaml:"api"`
}

type CameraConfig struct {
	SnapshotURL string        `json:"snapshot_url" yaml:"snapshot_url"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

type RecognizerConfig struct {
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	MatchThreshold float64       `json:"match_threshold" yaml:"match_threshold"`
}

type RosterConfig struct {
	DSN            string        `json:"dsn" yaml:"dsn"`
	Table          string        `json:"table" yaml:"table"`
	NotifyChannel  string        `json:"notify_channel" yaml:"notify_channel"`
	ResyncInterval time.Duration `json:"resync_interval" yaml:"resync_interval"`
	EmbedTimeout   time.Duration `json:"embed_timeout" yaml:"embed_timeout"`
}

type DetectionConfig struct {
	UnknownThreshold time.Duration `json:"unknown_threshold" yaml:"unknown_threshold"`
	MaxSnapshotWidth int           `json:"max_snapshot_width" yaml:"max_snapshot_width"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type NotifyConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type ReportConfig struct {
	UploadURL    string `json:"upload_url" yaml:"upload_url"`
	UploadPreset string `json:"upload_preset" yaml:"upload_preset"`
	Email        EmailConfig `json:"email" yaml:"email"`
}

type EmailConfig struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	ServiceID  string `json:"service_id" yaml:"service_id"`
	TemplateID string `json:"template_id" yaml:"template_id"`
	PublicKey  string `json:"public_key" yaml:"public_key"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Camera: CameraConfig{
			Interval: 200 * time.Millisecond,
			Timeout:  2 * time.Second,
		},
		Recognizer: RecognizerConfig{
			Timeout:        5 * time.Second,
			MatchThreshold: 0.5,
		},
		Roster: RosterConfig{
			Table:          "identities",
			NotifyChannel:  "roster_changed",
			ResyncInterval: 5 * time.Minute,
			EmbedTimeout:   10 * time.Second,
		},
		Detection: DetectionConfig{
			UnknownThreshold: 2 * time.Second,
			MaxSnapshotWidth: 800,
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:borderwatch.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
		Notify:  NotifyConfig{Kafka: KafkaConfig{Enabled: false}},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Camera.Interval <= 0 {
		cfg.Camera.Interval = 200 * time.Millisecond
	}
	if cfg.Camera.Timeout <= 0 {
		cfg.Camera.Timeout = 2 * time.Second
	}
	if cfg.Recognizer.Timeout <= 0 {
		cfg.Recognizer.Timeout = 5 * time.Second
	}
	if cfg.Recognizer.MatchThreshold <= 0 {
		cfg.Recognizer.MatchThreshold = 0.5
	}
	if cfg.Roster.Table == "" {
		cfg.Roster.Table = "identities"
	}
	if cfg.Roster.NotifyChannel == "" {
		cfg.Roster.NotifyChannel = "roster_changed"
	}
	if cfg.Roster.ResyncInterval <= 0 {
		cfg.Roster.ResyncInterval = 5 * time.Minute
	}
	if cfg.Roster.EmbedTimeout <= 0 {
		cfg.Roster.EmbedTimeout = 10 * time.Second
	}
	if cfg.Detection.UnknownThreshold <= 0 {
		cfg.Detection.UnknownThreshold = 2 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.Camera.SnapshotURL == "" {
		return errors.New("camera.snapshot_url is required")
	}
	if cfg.Recognizer.BaseURL == "" {
		return errors.New("recognizer.base_url is required")
	}
	if cfg.Recognizer.MatchThreshold <= 0 || cfg.Recognizer.MatchThreshold >= 2 {
		return fmt.Errorf("recognizer.match_threshold out of range: %v", cfg.Recognizer.MatchThreshold)
	}
	if cfg.Roster.DSN == "" {
		return errors.New("roster.dsn is required")
	}
	if cfg.Detection.UnknownThreshold < cfg.Camera.Interval {
		return fmt.Errorf("detection.unknown_threshold %s shorter than camera.interval %s",
			cfg.Detection.UnknownThreshold, cfg.Camera.Interval)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers and topic")
		}
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	applyDefaults(cfg)
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
