// Package config loads the retro client's INI configuration file
// ("[default]" and "[server]" sections), grounded on the
// companyzero/zkc config format and parsed with the same package
// that repo uses, github.com/vaughan0/go-ini. Defaults are filled in
// where the file omits a key, mirroring an applyRelayResourceDefaults
// pattern.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	ini "github.com/vaughan0/go-ini"
)

// Config is the parsed, defaulted retro client configuration.
type Config struct {
	// [default]
	Home     string // base directory for account/friend/msg state
	LogLevel string // error|warning|info|debug

	// [server]
	ServerHost string
	ServerPort int
	FilePort   int
	CAFile     string
}

// DefaultHome returns "<user home>/.retro".
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".retro")
}

// Default returns a Config with every field set to its built-in
// default, used when no config file exists yet.
func Default() *Config {
	return &Config{
		Home:       DefaultHome(),
		LogLevel:   "info",
		ServerHost: "127.0.0.1",
		ServerPort: 5500,
		FilePort:   5501,
	}
}

// Load reads and parses the INI file at path, filling any field the
// file omits from Default(). It refuses to read a config file with
// insecure permissions (group/world readable), mirroring the
// teacher's checkConfigFilePermissions convention.
func Load(path string) (*Config, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}

	file, err := ini.LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config: %s: %w", path, ErrConfigNotFound)
		}
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := Default()

	if v, ok := file.Get("default", "home"); ok && v != "" {
		cfg.Home = v
	}
	if v, ok := file.Get("default", "loglevel"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := file.Get("server", "host"); ok && v != "" {
		cfg.ServerHost = v
	}
	if v, ok := file.Get("server", "port"); ok && v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ServerPort = p
		}
	}
	if v, ok := file.Get("server", "fileport"); ok && v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.FilePort = p
		}
	}
	if v, ok := file.Get("server", "cafile"); ok && v != "" {
		cfg.CAFile = v
	}

	return cfg, nil
}

// checkConfigFilePermissions rejects a group/world-readable config
// file on non-Windows platforms.
func checkConfigFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config: %s: %w", path, ErrConfigNotFound)
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("config: %s has mode %04o, want 0600 or stricter: %w", path, mode, ErrInsecurePermissions)
	}
	return nil
}

// LevelFromString maps the INI loglevel key to a slog.Level.
func LevelFromString(s string) slog.Level {
	switch s {
	case "error":
		return slog.LevelError
	case "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

var setDefaultLoggerOnce sync.Once

// SetDefaultLogger installs a process-wide slog.TextHandler at the
// level named by cfg.LogLevel. It is a no-op after the first call, so
// a consumer embedding the library and calling Load() repeatedly never
// reinstalls the handler out from under other users of slog.Default().
func SetDefaultLogger(cfg *Config) {
	setDefaultLoggerOnce.Do(func() {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelFromString(cfg.LogLevel)})
		slog.SetDefault(slog.New(h))
	})
}
