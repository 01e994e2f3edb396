package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Audio     AudioConfig     `yaml:"audio"`
	Animation AnimationConfig `yaml:"animation"`
	Backend   BackendConfig   `yaml:"backend"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// AudioConfig contains audio submission parameters
type AudioConfig struct {
	SampleRate         int `yaml:"sample_rate"`
	MinSubmissionBytes int `yaml:"min_submission_bytes"`
}

// AnimationConfig contains blendshape generation parameters
type AnimationConfig struct {
	FrameRate       int     `yaml:"frame_rate"`
	Model           string  `yaml:"model"`
	EmotionStrength float64 `yaml:"emotion_strength"`
	Smoothing       float64 `yaml:"smoothing"`
}

// BackendConfig contains inference backend client configuration
type BackendConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StreamConfig contains stream coordinator and session retention configuration
type StreamConfig struct {
	SessionWaitTimeout int `yaml:"session_wait_timeout"` // seconds
	StartTimeout       int `yaml:"start_timeout"`        // seconds
	RetentionDelay     int `yaml:"retention_delay"`      // seconds
	MaxSessionAge      int `yaml:"max_session_age"`      // seconds
	ReapInterval       int `yaml:"reap_interval"`        // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration used when no config file is
// given: 30 fps output, 1000-byte submission floor, 10s session wait, 30s
// start wait, 60s retention after a stream ends.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8000,
			Address:      "0.0.0.0",
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			MinSubmissionBytes: 1000,
		},
		Animation: AnimationConfig{
			FrameRate:       30,
			Model:           "james",
			EmotionStrength: 0.6,
			Smoothing:       0.3,
		},
		Backend: BackendConfig{
			Enabled:       false,
			Timeout:       60,
			MaxRetries:    2,
			MaxConcurrent: 4,
		},
		Stream: StreamConfig{
			SessionWaitTimeout: 10,
			StartTimeout:       30,
			RetentionDelay:     60,
			MaxSessionAge:      3600,
			ReapInterval:       30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Missing keys fall back to the
// defaults from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Animation.Validate(); err != nil {
		return fmt.Errorf("animation config: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.MinSubmissionBytes < 1 {
		return fmt.Errorf("min_submission_bytes must be at least 1, got %d", a.MinSubmissionBytes)
	}

	return nil
}

// Validate validates animation configuration
func (a *AnimationConfig) Validate() error {
	if a.FrameRate < 1 || a.FrameRate > 120 {
		return fmt.Errorf("frame_rate must be between 1 and 120, got %d", a.FrameRate)
	}

	if a.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if a.EmotionStrength < 0 || a.EmotionStrength > 1 {
		return fmt.Errorf("emotion_strength must be between 0 and 1, got %f", a.EmotionStrength)
	}

	if a.Smoothing < 0 || a.Smoothing > 1 {
		return fmt.Errorf("smoothing must be between 0 and 1, got %f", a.Smoothing)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if !b.Enabled {
		return nil
	}

	if b.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when backend is enabled")
	}

	if b.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", b.Timeout)
	}

	if b.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", b.MaxRetries)
	}

	if b.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", b.MaxConcurrent)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.SessionWaitTimeout < 1 {
		return fmt.Errorf("session_wait_timeout must be at least 1 second, got %d", s.SessionWaitTimeout)
	}

	if s.StartTimeout < 1 {
		return fmt.Errorf("start_timeout must be at least 1 second, got %d", s.StartTimeout)
	}

	if s.RetentionDelay < 1 {
		return fmt.Errorf("retention_delay must be at least 1 second, got %d", s.RetentionDelay)
	}

	if s.MaxSessionAge < s.RetentionDelay {
		return fmt.Errorf("max_session_age (%d) must not be less than retention_delay (%d)",
			s.MaxSessionAge, s.RetentionDelay)
	}

	if s.ReapInterval < 1 {
		return fmt.Errorf("reap_interval must be at least 1 second, got %d", s.ReapInterval)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetTimeout returns the backend request timeout as a time.Duration
func (b *BackendConfig) GetTimeout() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// GetSessionWaitTimeout returns the session wait timeout as a time.Duration
func (s *StreamConfig) GetSessionWaitTimeout() time.Duration {
	return time.Duration(s.SessionWaitTimeout) * time.Second
}

// GetStartTimeout returns the start signal timeout as a time.Duration
func (s *StreamConfig) GetStartTimeout() time.Duration {
	return time.Duration(s.StartTimeout) * time.Second
}

// GetRetentionDelay returns the post-stream retention delay as a time.Duration
func (s *StreamConfig) GetRetentionDelay() time.Duration {
	return time.Duration(s.RetentionDelay) * time.Second
}

// GetMaxSessionAge returns the absolute session age bound as a time.Duration
func (s *StreamConfig) GetMaxSessionAge() time.Duration {
	return time.Duration(s.MaxSessionAge) * time.Second
}

// GetReapInterval returns the reaper sweep interval as a time.Duration
func (s *StreamConfig) GetReapInterval() time.Duration {
	return time.Duration(s.ReapInterval) * time.Second
}
