// Package config handles anyclick configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level anyclick configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Capture    CaptureConfig    `yaml:"capture"`
	Screenshot ScreenshotConfig `yaml:"screenshot"`
	Submission SubmissionConfig `yaml:"submission"`
	Queue      QueueConfig      `yaml:"queue"`
	Bridge     BridgeConfig     `yaml:"bridge"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote     string        `yaml:"remote"`
	Headless   *bool         `yaml:"headless"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// CaptureConfig bounds the element context builder.
type CaptureConfig struct {
	MaxTextChars  int           `yaml:"max_text_chars"`
	MaxHTMLChars  int           `yaml:"max_html_chars"`
	MaxAncestors  int           `yaml:"max_ancestors"`
	HoldDuration  time.Duration `yaml:"hold_duration"`
	MoveThreshold float64       `yaml:"move_threshold"`
}

// ScreenshotConfig bounds the screenshot engine.
type ScreenshotConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBytes     int           `yaml:"max_bytes"`
	StartQuality int           `yaml:"start_quality"`
	QualityStep  int           `yaml:"quality_step"`
	QualityFloor int           `yaml:"quality_floor"`
	MaskColor    string        `yaml:"mask_color"`
}

// SubmissionConfig controls the direct delivery path.
type SubmissionConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	Cooldown time.Duration `yaml:"cooldown"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int           `yaml:"max_bytes"`
}

// QueueConfig controls the durable delivery queue.
type QueueConfig struct {
	DBPath    string        `yaml:"db_path"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	Tick      time.Duration `yaml:"tick"`
}

// BridgeConfig controls the HTTP surface.
type BridgeConfig struct {
	Listen  string `yaml:"listen"`
	MaxBody int64  `yaml:"max_body"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Capture.MaxTextChars <= 0 {
		c.Capture.MaxTextChars = 2000
	}
	if c.Capture.MaxHTMLChars <= 0 {
		c.Capture.MaxHTMLChars = 4000
	}
	if c.Capture.MaxAncestors <= 0 {
		c.Capture.MaxAncestors = 5
	}
	if c.Capture.HoldDuration <= 0 {
		c.Capture.HoldDuration = 500 * time.Millisecond
	}
	if c.Capture.MoveThreshold <= 0 {
		c.Capture.MoveThreshold = 10
	}
	if c.Screenshot.Timeout <= 0 {
		c.Screenshot.Timeout = 5 * time.Second
	}
	if c.Screenshot.MaxBytes <= 0 {
		c.Screenshot.MaxBytes = 1 << 20
	}
	if c.Screenshot.StartQuality <= 0 {
		c.Screenshot.StartQuality = 90
	}
	if c.Screenshot.QualityStep <= 0 {
		c.Screenshot.QualityStep = 15
	}
	if c.Screenshot.QualityFloor <= 0 {
		c.Screenshot.QualityFloor = 20
	}
	if c.Submission.Cooldown <= 0 {
		c.Submission.Cooldown = 30 * time.Second
	}
	if c.Submission.Timeout <= 0 {
		c.Submission.Timeout = 15 * time.Second
	}
	if c.Submission.MaxBytes <= 0 {
		c.Submission.MaxBytes = 1 << 20
	}
	if c.Queue.DBPath == "" {
		c.Queue.DBPath = "anyclick.db"
	}
	if c.Queue.BaseDelay <= 0 {
		c.Queue.BaseDelay = time.Second
	}
	if c.Queue.MaxDelay <= 0 {
		c.Queue.MaxDelay = 5 * time.Minute
	}
	if c.Queue.Tick <= 0 {
		c.Queue.Tick = 5 * time.Second
	}
	if c.Bridge.Listen == "" {
		c.Bridge.Listen = ":8470"
	}
	if c.Bridge.MaxBody <= 0 {
		c.Bridge.MaxBody = 8 << 20
	}
}
