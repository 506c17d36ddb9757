package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	ReadTimeout     int    `yaml:"read_timeout"`     // seconds
	IdleTimeout     int    `yaml:"idle_timeout"`     // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// AudioConfig contains the broadcast source and pacing parameters
type AudioConfig struct {
	FilePath       string `yaml:"file_path"`
	ChunkSize      int    `yaml:"chunk_size"`       // bytes per chunk
	ChunkDelayMs   int    `yaml:"chunk_delay_ms"`   // inter-chunk delay, simulates real-time playback
	QueueCapacity  int    `yaml:"queue_capacity"`   // chunks buffered per listener
	Prepare        bool   `yaml:"prepare"`          // decode, pad and re-encode the asset at startup
	PadToSeconds   int    `yaml:"pad_to_seconds"`   // pad prepared audio up to the next multiple of this
	ReadyTimeoutMs int    `yaml:"ready_timeout_ms"` // how long a request waits for preparation
	SourceRetryMs  int    `yaml:"source_retry_ms"`  // delay before retrying an unavailable source
	FatalOnMissing bool   `yaml:"fatal_on_missing"` // treat a missing asset as fatal at startup
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in optional parameters that were left unset
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Audio.ChunkSize == 0 {
		c.Audio.ChunkSize = 4096
	}
	if c.Audio.ChunkDelayMs == 0 {
		c.Audio.ChunkDelayMs = 100
	}
	if c.Audio.QueueCapacity == 0 {
		c.Audio.QueueCapacity = 10
	}
	if c.Audio.PadToSeconds == 0 {
		c.Audio.PadToSeconds = 60
	}
	if c.Audio.ReadyTimeoutMs == 0 {
		c.Audio.ReadyTimeoutMs = 5000
	}
	if c.Audio.SourceRetryMs == 0 {
		c.Audio.SourceRetryMs = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FilePath == "" {
		return fmt.Errorf("file_path cannot be empty")
	}

	if a.ChunkSize < 512 || a.ChunkSize > 1024*1024 {
		return fmt.Errorf("chunk_size must be between 512 bytes and 1 MiB, got %d", a.ChunkSize)
	}

	if a.ChunkDelayMs < 1 {
		return fmt.Errorf("chunk_delay_ms must be at least 1, got %d", a.ChunkDelayMs)
	}

	if a.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", a.QueueCapacity)
	}

	if a.PadToSeconds < 1 {
		return fmt.Errorf("pad_to_seconds must be at least 1, got %d", a.PadToSeconds)
	}

	if a.ReadyTimeoutMs < 1 {
		return fmt.Errorf("ready_timeout_ms must be at least 1, got %d", a.ReadyTimeoutMs)
	}

	if a.SourceRetryMs < 1 {
		return fmt.Errorf("source_retry_ms must be at least 1, got %d", a.SourceRetryMs)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}

	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}

	switch l.Output {
	case "stdout", "stderr":
	default:
		return fmt.Errorf("output must be stdout or stderr, got %q", l.Output)
	}

	return nil
}

// GetChunkDelay returns the inter-chunk delay as a time.Duration
func (a *AudioConfig) GetChunkDelay() time.Duration {
	return time.Duration(a.ChunkDelayMs) * time.Millisecond
}

// GetReadyTimeout returns the preparation wait limit as a time.Duration
func (a *AudioConfig) GetReadyTimeout() time.Duration {
	return time.Duration(a.ReadyTimeoutMs) * time.Millisecond
}

// GetSourceRetry returns the source retry delay as a time.Duration
func (a *AudioConfig) GetSourceRetry() time.Duration {
	return time.Duration(a.SourceRetryMs) * time.Millisecond
}

// GetPadTo returns the padding boundary as a time.Duration
func (a *AudioConfig) GetPadTo() time.Duration {
	return time.Duration(a.PadToSeconds) * time.Second
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a time.Duration
func (s *ServerConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown limit as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}
