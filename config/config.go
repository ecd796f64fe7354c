// Package config loads the optional lgl.toml file that maps log files to
// their grammar and artifact-directory settings, so repeated CLI runs don't
// need the full flag set.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ChristianF88/lgl/grammar"
)

// LogConfig describes one ledgered log.
type LogConfig struct {
	LogFile        string `toml:"logFile"`
	LglDir         string `toml:"lglDir"`
	SkipBlankLines bool   `toml:"skipBlankLines"`
	Delimiters     string `toml:"tokenDelimiters"`
	CommentPrefix  string `toml:"commentPrefix"`
	Salted         bool   `toml:"salted"`
}

// Grammar builds and validates the grammar this entry describes.
func (lc *LogConfig) Grammar() (grammar.Grammar, error) {
	return grammar.New(lc.SkipBlankLines, lc.Delimiters, lc.CommentPrefix)
}

// Config is a parsed lgl.toml.
type Config struct {
	Logs map[string]*LogConfig `toml:"logs"`
}

// LoadConfig reads and validates a config file.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for name, lc := range cfg.Logs {
		if lc.LogFile == "" {
			return nil, fmt.Errorf("config entry %q: logFile is required", name)
		}
		if _, err := lc.Grammar(); err != nil {
			return nil, fmt.Errorf("config entry %q: %w", name, err)
		}
	}
	return &cfg, nil
}

// Lookup resolves a log by entry name or by path (absolute or relative).
func (c *Config) Lookup(nameOrPath string) (*LogConfig, bool) {
	if lc, ok := c.Logs[nameOrPath]; ok {
		return lc, true
	}
	abs, err := filepath.Abs(nameOrPath)
	if err != nil {
		return nil, false
	}
	for _, lc := range c.Logs {
		if lcAbs, err := filepath.Abs(lc.LogFile); err == nil && lcAbs == abs {
			return lc, true
		}
	}
	return nil, false
}
