// Package config loads and validates the pricewatch YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Source    SourceConfig    `yaml:"source"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Email     EmailConfig     `yaml:"email"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"file"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"` // Go duration string, e.g. "5s"
}

// SchedulerConfig carries both the control-loop knobs and the trigger
// configuration for the recurring jobs.
type SchedulerConfig struct {
	SweepIntervalHours int    `yaml:"sweep_interval_hours"`
	CooldownDays       int    `yaml:"cooldown_days"`
	PollInterval       string `yaml:"poll_interval"` // Go duration string
	JobTimeout         string `yaml:"job_timeout"`   // Go duration string
	DailyReportHour    int    `yaml:"daily_report_hour"`
	WeeklyReportDay    string `yaml:"weekly_report_day"`  // weekday name
	MonthlyReportDay   int    `yaml:"monthly_report_day"` // day of month
}

type SourceConfig struct {
	Kind        string  `yaml:"kind"`         // "simulated" | "static"
	DropPercent float64 `yaml:"drop_percent"` // simulated source only
}

type TelegramConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Token      string  `yaml:"token"`
	ChatIDs    []int64 `yaml:"chat_ids"`
	RatePerSec int     `yaml:"rate_per_sec"`
}

type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SMTPHost   string   `yaml:"smtp_host"`
	SMTPPort   int      `yaml:"smtp_port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

type NotifyConfig struct {
	// SuccessPolicy decides when a multi-channel dispatch counts as
	// published: "any" (default) or "all".
	SuccessPolicy string `yaml:"success_policy"`
}

// Load reads, strictly decodes, defaults and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	// Hour 0 (midnight) is a valid setting, so "absent" needs its own
	// sentinel for applyDefaults to distinguish.
	cfg.Scheduler.DailyReportHour = -1
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, the same one a missing
// optional key falls back to.
func Default() *Config {
	cfg := &Config{}
	cfg.Scheduler.DailyReportHour = -1
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if !c.Logging.Console && !c.Logging.File.Enabled {
		c.Logging.Console = true
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./pricewatch.db"
	}
	if strings.TrimSpace(c.Storage.BusyTimeout) == "" {
		c.Storage.BusyTimeout = "5s"
	}
	if c.Scheduler.SweepIntervalHours <= 0 {
		c.Scheduler.SweepIntervalHours = 6
	}
	if c.Scheduler.CooldownDays <= 0 {
		c.Scheduler.CooldownDays = 4
	}
	if strings.TrimSpace(c.Scheduler.PollInterval) == "" {
		c.Scheduler.PollInterval = "30s"
	}
	if strings.TrimSpace(c.Scheduler.JobTimeout) == "" {
		c.Scheduler.JobTimeout = "5m"
	}
	if c.Scheduler.DailyReportHour < 0 {
		c.Scheduler.DailyReportHour = 6
	}
	if strings.TrimSpace(c.Scheduler.WeeklyReportDay) == "" {
		c.Scheduler.WeeklyReportDay = "sunday"
	}
	if c.Scheduler.MonthlyReportDay == 0 {
		c.Scheduler.MonthlyReportDay = 1
	}
	if strings.TrimSpace(c.Source.Kind) == "" {
		c.Source.Kind = "simulated"
	}
	if c.Source.DropPercent <= 0 {
		c.Source.DropPercent = 5
	}
	if c.Telegram.RatePerSec <= 0 {
		c.Telegram.RatePerSec = 3
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if strings.TrimSpace(c.Notify.SuccessPolicy) == "" {
		c.Notify.SuccessPolicy = "any"
	}
}

func (c *Config) validate() error {
	if _, err := c.PollIntervalDuration(); err != nil {
		return fmt.Errorf("scheduler.poll_interval: %w", err)
	}
	if _, err := c.JobTimeoutDuration(); err != nil {
		return fmt.Errorf("scheduler.job_timeout: %w", err)
	}
	if _, err := c.BusyTimeoutDuration(); err != nil {
		return fmt.Errorf("storage.busy_timeout: %w", err)
	}
	if _, err := c.WeeklyReportWeekday(); err != nil {
		return err
	}
	if h := c.Scheduler.DailyReportHour; h < 0 || h > 23 {
		return fmt.Errorf("scheduler.daily_report_hour: %d out of range", h)
	}
	if d := c.Scheduler.MonthlyReportDay; d < 1 || d > 31 {
		return fmt.Errorf("scheduler.monthly_report_day: %d out of range", d)
	}
	switch strings.ToLower(c.Notify.SuccessPolicy) {
	case "any", "all":
	default:
		return fmt.Errorf("notify.success_policy: %q (want \"any\" or \"all\")", c.Notify.SuccessPolicy)
	}
	switch c.Source.Kind {
	case "simulated", "static":
	default:
		return fmt.Errorf("source.kind: %q (want \"simulated\" or \"static\")", c.Source.Kind)
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required when telegram is enabled")
	}
	if c.Email.Enabled && strings.TrimSpace(c.Email.SMTPHost) == "" {
		return fmt.Errorf("email.smtp_host is required when email is enabled")
	}
	return nil
}

func (c *Config) PollIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(c.Scheduler.PollInterval)
}

func (c *Config) JobTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.Scheduler.JobTimeout)
}

func (c *Config) BusyTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.Storage.BusyTimeout)
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Scheduler.CooldownDays) * 24 * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Scheduler.SweepIntervalHours) * time.Hour
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (c *Config) WeeklyReportWeekday() (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(c.Scheduler.WeeklyReportDay))]
	if !ok {
		return 0, fmt.Errorf("scheduler.weekly_report_day: unknown weekday %q", c.Scheduler.WeeklyReportDay)
	}
	return wd, nil
}
