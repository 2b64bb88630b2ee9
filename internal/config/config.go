// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every recognized option. All fields are optional in the
// file; missing values use defaults or come from CLI flags / environment.
type Config struct {
	// Scheduling
	IntervalMinutes     int      `json:"interval_minutes,omitempty" validate:"gte=0"`
	MaxPerDay           int      `json:"max_per_day,omitempty" validate:"gte=0"`
	AutoStart           bool     `json:"auto_start,omitempty"`
	RetryAttempts       int      `json:"retry_attempts,omitempty" validate:"gte=0,lte=10"`
	RetryDelaySeconds   int      `json:"retry_delay_seconds,omitempty" validate:"gte=0"`
	StageTimeoutSeconds int      `json:"stage_timeout_seconds,omitempty" validate:"gte=0"`
	Themes              []string `json:"themes,omitempty"`
	ThemeMemory         int      `json:"theme_memory,omitempty" validate:"gte=0"`

	// Content
	ImageCount      int    `json:"image_count,omitempty" validate:"gte=0,lte=20"`
	NegativePrompt  string `json:"negative_prompt,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"gte=0,lte=180"`
	FPS             int    `json:"fps,omitempty" validate:"gte=0,lte=60"`
	Style           string `json:"style,omitempty"`
	Voice           string `json:"voice,omitempty"`
	Privacy         string `json:"privacy,omitempty" validate:"omitempty,oneof=private unlisted public"`
	PublishDelayHrs int    `json:"publish_delay_hours,omitempty" validate:"gte=0"`

	// Backends
	GeminiAPIKey    string `json:"gemini_api_key,omitempty"`
	ImageEndpoint   string `json:"image_endpoint,omitempty" validate:"omitempty,url"`
	AudioEndpoint   string `json:"audio_endpoint,omitempty" validate:"omitempty,url"`
	FFmpegPath      string `json:"ffmpeg_path,omitempty"`
	YouTubeCredFile string `json:"youtube_credentials,omitempty"`

	// Storage
	DatabaseURL string `json:"database_url,omitempty"`
	LedgerPath  string `json:"ledger_path,omitempty"`
	WorkDir     string `json:"work_dir,omitempty"`
}

var resolutionRe = regexp.MustCompile(`^\d{2,5}x\d{2,5}$`)

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks field-level constraints. Required fields are enforced by
// the commands after merging flags and environment.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.Resolution != "" && !resolutionRe.MatchString(c.Resolution) {
		return fmt.Errorf("config error: 'resolution' must look like 1080x1920, got %q", c.Resolution)
	}
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		IntervalMinutes:     60,
		MaxPerDay:           10,
		RetryAttempts:       3,
		RetryDelaySeconds:   2,
		StageTimeoutSeconds: 600,
		Themes:              []string{"travel", "tech", "cooking", "fitness"},
		ImageCount:          5,
		NegativePrompt:      "low quality, blurry, distorted, deformed, disfigured",
		Resolution:          "1080x1920",
		DurationSeconds:     60,
		FPS:                 30,
		Style:               "standard",
		Voice:               "default",
		Privacy:             "private",
		PublishDelayHrs:     24,
		FFmpegPath:          "ffmpeg",
		LedgerPath:          "data/ledger.jsonl",
		WorkDir:             "data/runs",
	}
}

// MergeWithDefaults returns a new Config with zero-valued fields filled
// from defaults. Bool fields are not merged; CLI flags win for those.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.IntervalMinutes == 0 {
		result.IntervalMinutes = defaults.IntervalMinutes
	}
	if result.MaxPerDay == 0 {
		result.MaxPerDay = defaults.MaxPerDay
	}
	if result.RetryAttempts == 0 {
		result.RetryAttempts = defaults.RetryAttempts
	}
	if result.RetryDelaySeconds == 0 {
		result.RetryDelaySeconds = defaults.RetryDelaySeconds
	}
	if result.StageTimeoutSeconds == 0 {
		result.StageTimeoutSeconds = defaults.StageTimeoutSeconds
	}
	if len(result.Themes) == 0 {
		result.Themes = defaults.Themes
	}
	if result.ThemeMemory == 0 {
		result.ThemeMemory = defaults.ThemeMemory
	}
	if result.ImageCount == 0 {
		result.ImageCount = defaults.ImageCount
	}
	if result.NegativePrompt == "" {
		result.NegativePrompt = defaults.NegativePrompt
	}
	if result.Resolution == "" {
		result.Resolution = defaults.Resolution
	}
	if result.DurationSeconds == 0 {
		result.DurationSeconds = defaults.DurationSeconds
	}
	if result.FPS == 0 {
		result.FPS = defaults.FPS
	}
	if result.Style == "" {
		result.Style = defaults.Style
	}
	if result.Voice == "" {
		result.Voice = defaults.Voice
	}
	if result.Privacy == "" {
		result.Privacy = defaults.Privacy
	}
	if result.PublishDelayHrs == 0 {
		result.PublishDelayHrs = defaults.PublishDelayHrs
	}
	if result.GeminiAPIKey == "" {
		result.GeminiAPIKey = defaults.GeminiAPIKey
	}
	if result.ImageEndpoint == "" {
		result.ImageEndpoint = defaults.ImageEndpoint
	}
	if result.AudioEndpoint == "" {
		result.AudioEndpoint = defaults.AudioEndpoint
	}
	if result.FFmpegPath == "" {
		result.FFmpegPath = defaults.FFmpegPath
	}
	if result.YouTubeCredFile == "" {
		result.YouTubeCredFile = defaults.YouTubeCredFile
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.LedgerPath == "" {
		result.LedgerPath = defaults.LedgerPath
	}
	if result.WorkDir == "" {
		result.WorkDir = defaults.WorkDir
	}

	return result
}

// Interval returns the scheduling interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RetryDelay returns the base retry delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// StageTimeout returns the per-attempt stage timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}
