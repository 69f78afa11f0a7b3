package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"hive/internal/manager"
	"hive/internal/scheduler"
)

// configFileName is the workspace's configuration file, written by init
// and read by every other verb (spec §6's "a configuration file").
const configFileName = "hive.yaml"

// Config is the on-disk workspace configuration.
type Config struct {
	DBPath   string `yaml:"db_path"`
	LogDir   string `yaml:"log_dir"`
	MemoryDir string `yaml:"memory_dir"`
	ReposDir string `yaml:"repos_dir"`

	CLICommand map[string]string `yaml:"cli_command"`
	Model      map[string]string `yaml:"model"`
	PromptsDir string            `yaml:"prompts_dir"`

	VCSProvider string            `yaml:"vcs_provider"`
	VCSConfig   map[string]string `yaml:"vcs_config"`
	PMProvider  string            `yaml:"pm_provider"`
	PMConfig    map[string]string `yaml:"pm_config"`

	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`

	Manager ManagerConfig `yaml:"manager"`
}

// ManagerConfig is the on-disk form of manager.Config; durations are
// stored as Go duration strings (e.g. "5s") for readability.
type ManagerConfig struct {
	FastPollInterval   string `yaml:"fast_poll_interval"`
	StaleThreshold     string `yaml:"stale_threshold"`
	StaticInactivity   string `yaml:"static_inactivity"`
	NudgeCooldown      string `yaml:"nudge_cooldown"`
	EscalationCooldown string `yaml:"escalation_cooldown"`
	StuckThreshold     string `yaml:"stuck_threshold"`
	HandoffRetryDelay  string `yaml:"handoff_retry_delay"`
	DrainInterval      string `yaml:"drain_interval"`
	CaptureLines       int    `yaml:"capture_lines"`
}

// DefaultConfig returns the workspace defaults written by `init`.
func DefaultConfig() Config {
	return Config{
		DBPath:     "hive.db",
		LogDir:     "logs",
		MemoryDir:  "memory",
		ReposDir:   "repos",
		PromptsDir: "",
		CLICommand: map[string]string{"claude": "claude"},
		Model:      map[string]string{},
		Manager: ManagerConfig{
			FastPollInterval:   "5s",
			StaleThreshold:     "2m",
			StaticInactivity:   "90s",
			NudgeCooldown:      "2m",
			EscalationCooldown: "10m",
			StuckThreshold:     "10m",
			HandoffRetryDelay:  "5m",
			DrainInterval:      "10s",
			CaptureLines:       120,
		},
	}
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func saveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c Config) schedulerConfig(workspaceRoot string) scheduler.Config {
	promptsDir := c.PromptsDir
	return scheduler.Config{
		CLICommand:  c.CLICommand,
		Model:       c.Model,
		PromptsDir:  promptsDir,
		SessionRoot: filepath.Join(workspaceRoot, c.ReposDir),
	}
}

func (c Config) managerConfig(workspaceRoot string) manager.Config {
	d := manager.DefaultConfig()
	parseInto(c.Manager.FastPollInterval, &d.FastPollInterval)
	parseInto(c.Manager.StaleThreshold, &d.StaleThreshold)
	parseInto(c.Manager.StaticInactivity, &d.StaticInactivityMs)
	parseInto(c.Manager.NudgeCooldown, &d.NudgeCooldown)
	parseInto(c.Manager.EscalationCooldown, &d.EscalationCooldown)
	parseInto(c.Manager.StuckThreshold, &d.StuckThreshold)
	parseInto(c.Manager.HandoffRetryDelay, &d.HandoffRetryDelay)
	parseInto(c.Manager.DrainInterval, &d.DrainInterval)
	if c.Manager.CaptureLines > 0 {
		d.CaptureLines = c.Manager.CaptureLines
	}
	d.WorktreeRoot = filepath.Join(workspaceRoot, c.ReposDir)
	return d
}

func parseInto(s string, dst *time.Duration) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}
