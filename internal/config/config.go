package config

import (
	"danawa-tracker/internal/search"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/internal/tracker"
	"danawa-tracker/lib/configutil"
	"fmt"
	"path/filepath"
	"time"
)

const (
	DefaultName          = "Danawa Shopping"
	DefaultRetentionDays = 90
	DefaultPruneSchedule = "0 4 * * *"
)

type Keyword struct {
	Word     string   `json:"word" yaml:"word"`
	SortType string   `json:"sort_type" yaml:"sort_type"`
	Filter   []string `json:"filter" yaml:"filter"`
	// RefreshPeriod is in minutes, 0 means the default of an hour.
	RefreshPeriod float64 `json:"refresh_period" yaml:"refresh_period"`
	TargetPrice   int     `json:"target_price" yaml:"target_price"`
}

// TrackerConfig parses the keyword into a tracker config, unknown codes are a *search.ConfigError.
func (k Keyword) TrackerConfig() (tracker.Config, error) {
	sort, err := search.ParseSort(k.SortType)
	if err != nil {
		return tracker.Config{}, err
	}
	filters, err := search.ParseFilters(k.Filter)
	if err != nil {
		return tracker.Config{}, err
	}
	if k.RefreshPeriod < 0 {
		return tracker.Config{}, &search.ConfigError{
			Field:  "refresh_period",
			Value:  fmt.Sprint(k.RefreshPeriod),
			Reason: "must not be negative",
		}
	}

	cfg := tracker.Config{
		Keyword:       k.Word,
		Sort:          sort,
		Filters:       filters,
		RefreshPeriod: time.Duration(k.RefreshPeriod * float64(time.Minute)),
		TargetPrice:   k.TargetPrice,
	}
	if k.RefreshPeriod == 0 {
		cfg.RefreshPeriod = tracker.DefaultRefreshPeriod
	}
	return cfg, cfg.Validate()
}

type FetchConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type HistoryConfig struct {
	// Database is the sqlite file path, history is disabled when it is empty.
	Database      string `json:"database" yaml:"database"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
	PruneSchedule string `json:"prune_schedule" yaml:"prune_schedule"`
}

type NotifyConfig struct {
	SmtpAddr string   `json:"smtp_addr" yaml:"smtp_addr"`
	SmtpHost string   `json:"smtp_host" yaml:"smtp_host"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	From     string   `json:"from" yaml:"from"`
	To       []string `json:"to" yaml:"to"`
}

func (n NotifyConfig) Enabled() bool {
	return n.SmtpAddr != ""
}

type StatusConfig struct {
	// Port is the status server port, the server is disabled when it is 0.
	Port int `json:"port" yaml:"port"`
}

type Config struct {
	Name      string           `json:"name" yaml:"name"`
	Keywords  []Keyword        `json:"keywords" yaml:"keywords"`
	Fetch     FetchConfig      `json:"fetch" yaml:"fetch"`
	History   HistoryConfig    `json:"history" yaml:"history"`
	Notify    NotifyConfig     `json:"notify" yaml:"notify"`
	Status    StatusConfig     `json:"status" yaml:"status"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// Validate fills in defaults and rejects settings that affect the whole process.
// Keyword entries are validated one by one when their trackers are created.
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.History.RetentionDays == 0 {
		c.History.RetentionDays = DefaultRetentionDays
	}
	if c.History.PruneSchedule == "" {
		c.History.PruneSchedule = DefaultPruneSchedule
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}
	if c.Fetch.TimeoutSeconds < 0 {
		return fmt.Errorf("fetch.timeout_seconds must not be negative")
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port %d is out of range", c.Status.Port)
	}
	if c.Notify.Enabled() {
		if c.Notify.From == "" || len(c.Notify.To) == 0 {
			return fmt.Errorf("notify requires both 'from' and 'to' when smtp_addr is set")
		}
		if c.Notify.SmtpHost == "" {
			return fmt.Errorf("notify.smtp_host is required when smtp_addr is set")
		}
	}
	return nil
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// Read loads and validates the config at path along with its local override.
// A bare file name is searched for in the working directory and its parents.
func Read(path string) (Config, error) {
	var config Config
	var err error
	if filepath.Base(path) == path {
		config, err = configutil.ReadRecursively[Config](path)
	} else {
		config, err = configutil.ReadConfig[Config](path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return config, nil
}
