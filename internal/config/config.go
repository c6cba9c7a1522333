// Package config loads the agencyos configuration: defaults, then the
// YAML file, then environment overrides. Secrets (source tokens, LLM
// keys) normally arrive through the environment so the file can be
// committed without them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"agencyos/internal/domain"
	"agencyos/internal/logging"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Database   DatabaseConfig   `yaml:"database"`
	Loop       LoopConfig       `yaml:"loop"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Seeds      SeedsConfig      `yaml:"seeds"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Gates      GatesConfig      `yaml:"gates"`
	Queue      QueueConfig      `yaml:"queue"`
	Moves      MovesConfig      `yaml:"moves"`
	API        APIConfig        `yaml:"api"`
	Notify     NotifyConfig     `yaml:"notify"`
	LLM        LLMConfig        `yaml:"llm"`
	Logging    logging.Config   `yaml:"logging"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoopConfig controls the control loop cadence.
type LoopConfig struct {
	Interval     string `yaml:"interval"`      // tick cadence, default 5m
	CycleTimeout string `yaml:"cycle_timeout"` // per-cycle deadline, default 4m
	Mode         string `yaml:"mode"`          // ops_head, co_founder, artist
}

// IntervalDuration returns the parsed tick cadence.
func (l LoopConfig) IntervalDuration() time.Duration {
	return parseDuration(l.Interval, 5*time.Minute)
}

// CycleTimeoutDuration returns the parsed per-cycle deadline.
func (l LoopConfig) CycleTimeoutDuration() time.Duration {
	return parseDuration(l.CycleTimeout, 4*time.Minute)
}

// SourceConfig configures one collector.
type SourceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	Interval string `yaml:"interval"`
}

// IntervalDuration returns the parsed poll interval, or def when unset.
func (s SourceConfig) IntervalDuration(def time.Duration) time.Duration {
	return parseDuration(s.Interval, def)
}

// CollectorsConfig holds per-source settings plus the shared run timeout.
type CollectorsConfig struct {
	Timeout  string       `yaml:"timeout"` // per-run bound, default 60s
	GTasks   SourceConfig `yaml:"gtasks"`
	Calendar SourceConfig `yaml:"calendar"`
	Gmail    SourceConfig `yaml:"gmail"`
	Asana    SourceConfig `yaml:"asana"`
	Xero     SourceConfig `yaml:"xero"`
}

// TimeoutDuration returns the parsed per-run bound.
func (c CollectorsConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 60*time.Second)
}

// SeedsConfig locates the manual seed directory.
type SeedsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Interval string `yaml:"interval"` // re-read cadence, default 60s
}

// IntervalDuration returns the parsed re-read cadence.
func (s SeedsConfig) IntervalDuration() time.Duration {
	return parseDuration(s.Interval, 60*time.Second)
}

// SnapshotConfig controls snapshot placement and history retention.
type SnapshotConfig struct {
	Dir         string `yaml:"dir"`
	HistoryKeep int    `yaml:"history_keep"`
}

// GatesConfig overrides the ratio-gate thresholds.
type GatesConfig struct {
	ClientCoverage    float64 `yaml:"client_coverage"`
	CommitmentReady   float64 `yaml:"commitment_ready"`
	FinanceARCoverage float64 `yaml:"finance_ar_coverage"`
	MinBodyLength     int     `yaml:"min_body_length"`
}

// QueueConfig tunes detector horizons.
type QueueConfig struct {
	StaleDays  int `yaml:"stale_days"`  // no task activity beyond this raises stale
	SnoozeDays int `yaml:"snooze_days"` // snooze horizon for inbox actions
}

// MovesConfig tunes move-rule triggers.
type MovesConfig struct {
	ARThreshold float64 `yaml:"ar_threshold"` // collection_call floor
	BlockedDays int     `yaml:"blocked_days"` // escalate_blocker horizon
	SilenceDays int     `yaml:"silence_days"` // follow_up_email horizon
	ContactDays int     `yaml:"contact_days"` // schedule_meeting horizon
	LinkDays    int     `yaml:"link_days"`    // resolve_link horizon
	ExpiryDays  int     `yaml:"expiry_days"`  // pending action lifetime
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Addr              string   `yaml:"addr"`
	CORSOrigins       []string `yaml:"cors_origins"`
	IntelligenceToken string   `yaml:"intelligence_token"`
	CacheTTL          string   `yaml:"cache_ttl"`
}

// CacheTTLDuration returns the parsed snapshot-cache TTL.
func (a APIConfig) CacheTTLDuration() time.Duration {
	return parseDuration(a.CacheTTL, 15*time.Second)
}

// NotifyConfig configures the outbound webhook. Empty URL disables it.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Timeout    string `yaml:"timeout"`
}

// TimeoutDuration returns the parsed webhook timeout.
func (n NotifyConfig) TimeoutDuration() time.Duration {
	return parseDuration(n.Timeout, 10*time.Second)
}

// LLMConfig configures optional commitment extraction via Gemini.
type LLMConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
}

// DefaultConfig returns the default configuration. Paths that depend on
// DataDir stay empty here and are resolved by Load.
func DefaultConfig() *Config {
	return &Config{
		Loop: LoopConfig{
			Interval:     "5m",
			CycleTimeout: "4m",
			Mode:         string(domain.ModeOpsHead),
		},
		Collectors: CollectorsConfig{
			Timeout:  "60s",
			GTasks:   SourceConfig{Enabled: true, Interval: "5m"},
			Calendar: SourceConfig{Enabled: true, Interval: "10m"},
			Gmail:    SourceConfig{Enabled: true, Interval: "5m"},
			Asana:    SourceConfig{Enabled: true, Interval: "10m"},
			Xero:     SourceConfig{Enabled: true, Interval: "30m"},
		},
		Seeds: SeedsConfig{
			Enabled:  true,
			Interval: "60s",
		},
		Snapshot: SnapshotConfig{
			HistoryKeep: 48,
		},
		Gates: GatesConfig{
			ClientCoverage:    0.80,
			CommitmentReady:   0.50,
			FinanceARCoverage: 0.95,
			MinBodyLength:     50,
		},
		Queue: QueueConfig{
			StaleDays:  14,
			SnoozeDays: 7,
		},
		Moves: MovesConfig{
			ARThreshold: 5000,
			BlockedDays: 3,
			SilenceDays: 7,
			ContactDays: 14,
			LinkDays:    7,
			ExpiryDays:  7,
		},
		API: APIConfig{
			Addr:     "127.0.0.1:7800",
			CacheTTL: "15s",
		},
		LLM: LLMConfig{
			Model: "gemini-2.0-flash",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".agencyos", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields
// defaults. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies AGENCYOS_* (and GEMINI_API_KEY) overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENCYOS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("AGENCYOS_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("AGENCYOS_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("AGENCYOS_API_TOKEN"); v != "" {
		c.API.IntelligenceToken = v
	}
	if v := os.Getenv("AGENCYOS_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("AGENCYOS_MODE"); v != "" {
		c.Loop.Mode = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
	}

	type tokenTarget struct {
		env string
		dst *SourceConfig
	}
	for _, t := range []tokenTarget{
		{"AGENCYOS_GTASKS_TOKEN", &c.Collectors.GTasks},
		{"AGENCYOS_CALENDAR_TOKEN", &c.Collectors.Calendar},
		{"AGENCYOS_GMAIL_TOKEN", &c.Collectors.Gmail},
		{"AGENCYOS_ASANA_TOKEN", &c.Collectors.Asana},
		{"AGENCYOS_XERO_TOKEN", &c.Collectors.Xero},
	} {
		if v := os.Getenv(t.env); v != "" {
			t.dst.Token = v
		}
	}
}

// resolvePaths fills path fields that default relative to DataDir.
func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			c.DataDir = ".agencyos"
		} else {
			c.DataDir = filepath.Join(home, ".agencyos")
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "agency.db")
	}
	if c.Seeds.Dir == "" {
		c.Seeds.Dir = filepath.Join(c.DataDir, "seeds")
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = filepath.Join(c.DataDir, "snapshots")
	}
}

// SetDataDir moves the data directory and rebinds every path that
// defaults under it. Used by the --data-dir flag.
func (c *Config) SetDataDir(dir string) {
	c.DataDir = dir
	c.Database.Path = filepath.Join(dir, "agency.db")
	c.Seeds.Dir = filepath.Join(dir, "seeds")
	c.Snapshot.Dir = filepath.Join(dir, "snapshots")
}

// Validate rejects configurations the loop cannot run with.
func (c *Config) Validate() error {
	if c.Loop.IntervalDuration() <= 0 {
		return fmt.Errorf("loop.interval must be positive")
	}
	if c.Loop.CycleTimeoutDuration() <= 0 {
		return fmt.Errorf("loop.cycle_timeout must be positive")
	}
	if !domain.ValidMode(domain.Mode(c.Loop.Mode)) {
		return fmt.Errorf("loop.mode %q is not one of ops_head, co_founder, artist", c.Loop.Mode)
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr must be set")
	}
	if c.Snapshot.HistoryKeep < 0 {
		return fmt.Errorf("snapshot.history_keep must be >= 0")
	}
	for _, iv := range []string{
		c.Loop.Interval, c.Loop.CycleTimeout, c.Collectors.Timeout,
		c.Collectors.GTasks.Interval, c.Collectors.Calendar.Interval,
		c.Collectors.Gmail.Interval, c.Collectors.Asana.Interval,
		c.Collectors.Xero.Interval, c.Seeds.Interval,
	} {
		if iv == "" {
			continue
		}
		if _, err := time.ParseDuration(iv); err != nil {
			return fmt.Errorf("invalid duration %q: %w", iv, err)
		}
	}
	return nil
}

// Mode returns the configured operating mode.
func (c *Config) Mode() domain.Mode { return domain.Mode(c.Loop.Mode) }

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
