package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PollInterval time.Duration `yaml:"-"`
	RawInterval  string        `yaml:"poll_interval"`
	LogFile      string        `yaml:"log_file"`
	Monitor      MonitorConfig `yaml:"monitor"`
	Repos        []RepoConfig  `yaml:"repos"`
	Log          LogConfig     `yaml:"log"`
	TUI          TUIConfig     `yaml:"tui"`
}

// MonitorConfig holds the per-PR polling knobs.
type MonitorConfig struct {
	Interval    time.Duration `yaml:"-"`
	Timeout     time.Duration `yaml:"-"`
	QuietPeriod time.Duration `yaml:"-"`
	CallTimeout time.Duration `yaml:"-"`

	RawPollInterval string `yaml:"interval"`
	RawTimeout      string `yaml:"timeout"`
	RawQuietPeriod  string `yaml:"quiet_period"`
	RawCallTimeout  string `yaml:"call_timeout"`
}

type RepoConfig struct {
	Owner            string   `yaml:"owner"`
	Name             string   `yaml:"name"`
	MergeMethod      string   `yaml:"merge_method"`
	DeleteBranch     *bool    `yaml:"delete_branch,omitempty"`
	AutoMerge        bool     `yaml:"auto_merge"`
	ResolveOutdated  bool     `yaml:"resolve_outdated"`
	ExcludeAuthors   []string `yaml:"exclude_authors"`
	MaxConcurrentPRs int      `yaml:"max_concurrent_prs"`
	AckReply         *AckReply `yaml:"ack_reply,omitempty"`
}

// AckReply acknowledges newly opened review threads with a canned reply.
type AckReply struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TUIConfig struct {
	RefreshInterval time.Duration `yaml:"-"`
	RawInterval     string        `yaml:"refresh_interval"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func parseRawDuration(name, raw, fallback string) (time.Duration, error) {
	if raw == "" {
		raw = fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return d, nil
}

func (c *Config) SetDefaults() error {
	var err error
	if c.PollInterval, err = parseRawDuration("poll_interval", c.RawInterval, "60s"); err != nil {
		return err
	}

	if c.Monitor.Interval, err = parseRawDuration("monitor.interval", c.Monitor.RawPollInterval, "30s"); err != nil {
		return err
	}
	if c.Monitor.Timeout, err = parseRawDuration("monitor.timeout", c.Monitor.RawTimeout, "30m"); err != nil {
		return err
	}
	if c.Monitor.QuietPeriod, err = parseRawDuration("monitor.quiet_period", c.Monitor.RawQuietPeriod, "5m"); err != nil {
		return err
	}
	if c.Monitor.CallTimeout, err = parseRawDuration("monitor.call_timeout", c.Monitor.RawCallTimeout, "60s"); err != nil {
		return err
	}

	if c.LogFile == "" {
		c.LogFile = "/tmp/prwatch/logs/prwatch.log"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.TUI.RefreshInterval, err = parseRawDuration("tui.refresh_interval", c.TUI.RawInterval, "3s"); err != nil {
		return err
	}
	if c.TUI.RefreshInterval <= 0 {
		return fmt.Errorf("tui.refresh_interval must be positive, got %s", c.TUI.RefreshInterval)
	}

	for i := range c.Repos {
		if c.Repos[i].MergeMethod == "" {
			c.Repos[i].MergeMethod = "squash"
		}
		if c.Repos[i].MaxConcurrentPRs == 0 {
			c.Repos[i].MaxConcurrentPRs = 3
		}
		if c.Repos[i].DeleteBranch == nil {
			defaultTrue := true
			c.Repos[i].DeleteBranch = &defaultTrue
		}
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Monitor.QuietPeriod <= 0 {
		return fmt.Errorf("monitor.quiet_period must be positive, got %s", c.Monitor.QuietPeriod)
	}
	for i, r := range c.Repos {
		if r.Owner == "" {
			return fmt.Errorf("repos[%d]: owner required", i)
		}
		if r.Name == "" {
			return fmt.Errorf("repos[%d]: name required", i)
		}
		switch r.MergeMethod {
		case "squash", "merge":
		default:
			return fmt.Errorf("repos[%d]: invalid merge_method %q (squash|merge)", i, r.MergeMethod)
		}
		if r.AckReply != nil && r.AckReply.Enabled && r.AckReply.Message == "" {
			return fmt.Errorf("repos[%d]: ack_reply.message required when enabled", i)
		}
	}
	return nil
}

// RepoFor finds the configured repo entry, nil when absent.
func (c *Config) RepoFor(owner, name string) *RepoConfig {
	for i := range c.Repos {
		if c.Repos[i].Owner == owner && c.Repos[i].Name == name {
			return &c.Repos[i]
		}
	}
	return nil
}
