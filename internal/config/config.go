package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all actlog configuration.
type Config struct {
	DataDir  string `toml:"data_dir"`
	SpoolDir string `toml:"spool_dir"`

	RawLog   RawLogConfig   `toml:"rawlog"`
	Batch    BatchConfig    `toml:"batch"`
	Chunker  ChunkerConfig  `toml:"chunker"`
	Interval IntervalConfig `toml:"interval"`
}

// RawLogConfig tunes the raw event buffer and durable log segments.
type RawLogConfig struct {
	FlushSeconds      int   `toml:"flush_seconds"`
	MaxBufferEvents   int   `toml:"max_buffer_events"`
	SegmentMaxBytes   int64 `toml:"segment_max_bytes"`
	SegmentMaxMinutes int   `toml:"segment_max_minutes"`
	Compress          bool  `toml:"compress"`
}

// BatchConfig tunes the batch former thresholds.
type BatchConfig struct {
	MaxEvents   int `toml:"max_events"`
	MaxSeconds  int `toml:"max_seconds"`
	IdleSeconds int `toml:"idle_seconds"`
}

// ChunkerConfig tunes activity chunk boundary detection.
type ChunkerConfig struct {
	GapSeconds      int `toml:"gap_seconds"`
	ClipboardMaxLen int `toml:"clipboard_max_len"`
}

// IntervalConfig tunes the interval summary scheduler.
type IntervalConfig struct {
	PeriodMinutes int `toml:"period_minutes"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:  "~/.local/share/actlog",
		SpoolDir: "~/.local/share/actlog/spool",
		RawLog: RawLogConfig{
			FlushSeconds:      1,
			MaxBufferEvents:   10000,
			SegmentMaxBytes:   5 << 20,
			SegmentMaxMinutes: 60,
			Compress:          true,
		},
		Batch: BatchConfig{
			MaxEvents:   100,
			MaxSeconds:  30,
			IdleSeconds: 10,
		},
		Chunker: ChunkerConfig{
			GapSeconds:      10,
			ClipboardMaxLen: 500,
		},
		Interval: IntervalConfig{
			PeriodMinutes: 15,
		},
	}
}

// Load reads config from the standard path, falling back to defaults.
func Load() (Config, error) {
	cfg := DefaultConfig()

	for _, p := range configPaths() {
		if _, err := os.Stat(p); err == nil {
			if _, err := toml.DecodeFile(p, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", p, err)
			}
			break
		}
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.SpoolDir = expandHome(cfg.SpoolDir)

	return cfg, nil
}

func configPaths() []string {
	var paths []string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "actlog", "config.toml"))
	}

	home, _ := os.UserHomeDir()
	if home != "" {
		paths = append(paths, filepath.Join(home, ".config", "actlog", "config.toml"))
	}

	return paths
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// SegmentsDir returns the directory holding raw log segments.
func (c Config) SegmentsDir() string {
	return filepath.Join(c.DataDir, "segments")
}

// CatalogPath returns the path of the sqlite segment catalog.
func (c Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// FlushInterval returns the raw buffer flush period.
func (c RawLogConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushSeconds) * time.Second
}

// SegmentMaxAge returns the forced rotation age for a segment.
func (c RawLogConfig) SegmentMaxAge() time.Duration {
	return time.Duration(c.SegmentMaxMinutes) * time.Minute
}

// MaxAge returns the open batch age threshold.
func (c BatchConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxSeconds) * time.Second
}

// IdleTimeout returns the trickle-traffic flush threshold.
func (c BatchConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleSeconds) * time.Second
}

// GapThreshold returns the silence gap that starts a new activity chunk.
func (c ChunkerConfig) GapThreshold() time.Duration {
	return time.Duration(c.GapSeconds) * time.Second
}

// Period returns the interval summary period.
func (c IntervalConfig) Period() time.Duration {
	return time.Duration(c.PeriodMinutes) * time.Minute
}
