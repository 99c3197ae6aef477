// Package config handles termbuild configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (TERMBUILD_*)
//  2. Config file (~/.config/termbuild/config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/musher-dev/termbuild/internal/paths"
)

const (
	// DefaultPollInterval is how often the output pump checks the relay file.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultExitMethod keeps the terminal open until ENTER is pressed.
	DefaultExitMethod = "prompt"
	// DefaultEncoding is the encoding used to decode relayed output.
	DefaultEncoding = "utf-8"
	// DefaultHistoryRetention is the default prune window for build transcripts.
	DefaultHistoryRetention = 30 * 24 * time.Hour
)

// DefaultTerminal returns the platform terminal program.
func DefaultTerminal() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}

	return "xterm"
}

// DefaultTeePath returns the platform relay utility.
func DefaultTeePath() string {
	if runtime.GOOS == "windows" {
		return "tee.exe"
	}

	return "tee"
}

// Config holds the termbuild configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	v.SetDefault("relay.tee_path", DefaultTeePath())
	v.SetDefault("relay.allow_missing", false)
	v.SetDefault("terminal.program", DefaultTerminal())
	v.SetDefault("terminal.columns", 0)
	v.SetDefault("terminal.lines", 0)
	v.SetDefault("terminal.exit_method", DefaultExitMethod)
	v.SetDefault("pump.poll_interval", DefaultPollInterval.String())
	v.SetDefault("pump.watch", false)
	v.SetDefault("build.encoding", DefaultEncoding)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", DefaultHistoryRetention.String())

	if root, err := paths.ConfigRoot(); err == nil {
		v.AddConfigPath(root)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TERMBUILD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetBool returns a configuration value as bool.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	configFile, err := paths.ConfigFile()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(configFile)
}

// Keys returns every key with a default or a value in the config file.
func (c *Config) Keys() []string {
	return c.v.AllKeys()
}

// ScratchDir returns the relay file directory.
func (c *Config) ScratchDir() string {
	if dir := strings.TrimSpace(c.GetString("scratch.dir")); dir != "" {
		return dir
	}

	dir, err := paths.ScratchDir()
	if err != nil {
		return ""
	}

	return dir
}

// TeePath returns the configured relay utility.
func (c *Config) TeePath() string {
	return c.GetString("relay.tee_path")
}

// AllowMissingTee reports whether a missing relay utility degrades to
// no-relay mode instead of failing the launch.
func (c *Config) AllowMissingTee() bool {
	return c.GetBool("relay.allow_missing")
}

// TerminalProgram returns the terminal emulator (or backend) to launch.
func (c *Config) TerminalProgram() string {
	return c.GetString("terminal.program")
}

// TerminalGeometry returns the configured columns and lines.
func (c *Config) TerminalGeometry() (columns, lines int) {
	return c.GetInt("terminal.columns"), c.GetInt("terminal.lines")
}

// ExitMethod returns what the terminal does once the command finishes.
func (c *Config) ExitMethod() string {
	return c.GetString("terminal.exit_method")
}

// PollInterval returns the output pump interval.
func (c *Config) PollInterval() time.Duration {
	d := c.v.GetDuration("pump.poll_interval")
	if d <= 0 {
		return DefaultPollInterval
	}

	return d
}

// WatchEnabled reports whether fsnotify wake-ups supplement polling.
func (c *Config) WatchEnabled() bool {
	return c.GetBool("pump.watch")
}

// Encoding returns the output encoding name.
func (c *Config) Encoding() string {
	return c.GetString("build.encoding")
}

// HistoryEnabled reports whether build transcripts are recorded.
func (c *Config) HistoryEnabled() bool {
	return c.GetBool("history.enabled")
}

// HistoryDir returns the transcript directory.
func (c *Config) HistoryDir() string {
	if dir := strings.TrimSpace(c.GetString("history.dir")); dir != "" {
		return dir
	}

	dir, err := paths.HistoryDir()
	if err != nil {
		return ""
	}

	return dir
}

// HistoryRetention returns the default prune window.
func (c *Config) HistoryRetention() time.Duration {
	d := c.v.GetDuration("history.retention")
	if d <= 0 {
		return DefaultHistoryRetention
	}

	return d
}
