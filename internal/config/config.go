// Package config handles configuration loading, validation, and management for snipd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Matcher configuration for trigger recognition.
	Matcher MatcherConfig `toml:"matcher" json:"matcher" yaml:"matcher"`

	// Engine configuration for the expansion pipeline.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Placeholders configuration for dynamic content.
	Placeholders PlaceholderConfig `toml:"placeholders" json:"placeholders" yaml:"placeholders"`

	// Storage configuration for the snippet database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Library configuration for pack files.
	Library LibraryConfig `toml:"library" json:"library" yaml:"library"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Notifications configuration for expansion failure toasts.
	Notifications NotifyConfig `toml:"notifications" json:"notifications" yaml:"notifications"`

	// Daemon holds process-level settings.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// MatcherConfig holds trigger recognition configuration.
type MatcherConfig struct {
	// WordBoundary requires a trigger to follow whitespace or start of
	// input instead of any character.
	WordBoundary bool `toml:"word_boundary" json:"word_boundary" yaml:"word_boundary"`
}

// EngineConfig holds expansion pipeline configuration.
type EngineConfig struct {
	// SuppressionLifetimeMs bounds how long injected-keystroke echoes
	// are ignored after an insertion.
	SuppressionLifetimeMs int `toml:"suppression_lifetime_ms" json:"suppression_lifetime_ms" yaml:"suppression_lifetime_ms"`

	// SettleDelayMs is the pause after a clipboard paste before the
	// previous clipboard text is restored.
	SettleDelayMs int `toml:"settle_delay_ms" json:"settle_delay_ms" yaml:"settle_delay_ms"`

	// StartPaused starts the daemon with expansion disabled; resume via
	// snipctl.
	StartPaused bool `toml:"start_paused" json:"start_paused" yaml:"start_paused"`
}

// PlaceholderConfig holds dynamic placeholder configuration.
type PlaceholderConfig struct {
	// EnableScript allows {js:...} placeholders to run user scripts.
	EnableScript bool `toml:"enable_script" json:"enable_script" yaml:"enable_script"`

	// ScriptTimeoutMs bounds a single script evaluation.
	ScriptTimeoutMs int `toml:"script_timeout_ms" json:"script_timeout_ms" yaml:"script_timeout_ms"`
}

// StorageConfig holds snippet database configuration.
type StorageConfig struct {
	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// KeyPath is the path to the sealing key for sensitive snippets.
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`
}

// LibraryConfig holds pack file configuration.
type LibraryConfig struct {
	// PacksDir is the directory scanned for *.yml pack files.
	PacksDir string `toml:"packs_dir" json:"packs_dir" yaml:"packs_dir"`

	// WatchPacks reloads the library automatically when a pack changes.
	WatchPacks bool `toml:"watch_packs" json:"watch_packs" yaml:"watch_packs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is started.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix socket (or named pipe on Windows).
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// MaxConnections is the maximum concurrent client connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-connection read/write timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// NotifyConfig holds desktop notification configuration.
type NotifyConfig struct {
	// Enabled determines whether failure notifications are shown.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ThrottleSec suppresses repeats of the same notification within
	// the window.
	ThrottleSec int `toml:"throttle_sec" json:"throttle_sec" yaml:"throttle_sec"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	// PidFile is the path to the PID file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := SnipdDir()

	return &Config{
		Version: Version,
		Matcher: MatcherConfig{
			WordBoundary: false,
		},
		Engine: EngineConfig{
			SuppressionLifetimeMs: 2000,
			SettleDelayMs:         300,
			StartPaused:           false,
		},
		Placeholders: PlaceholderConfig{
			EnableScript:    false,
			ScriptTimeoutMs: 50,
		},
		Storage: StorageConfig{
			Path:    filepath.Join(dataDir, "snippets.db"),
			KeyPath: filepath.Join(dataDir, "master.key"),
		},
		Library: LibraryConfig{
			PacksDir:   filepath.Join(dataDir, "packs"),
			WatchPacks: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(PlatformLogDir(), "snipd.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Notifications: NotifyConfig{
			Enabled:     true,
			ThrottleSec: 30,
		},
		Daemon: DaemonConfig{
			PidFile: filepath.Join(PlatformRuntimeDir(), "snipd.pid"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// SnipdDir returns the base snipd data directory.
// Uses platform-specific paths or the SNIPD_DATA_DIR environment override.
func SnipdDir() string {
	if envDir := os.Getenv("SNIPD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// SuppressionLifetime returns the engine suppression window as a duration.
func (c *EngineConfig) SuppressionLifetime() time.Duration {
	return time.Duration(c.SuppressionLifetimeMs) * time.Millisecond
}

// SettleDelay returns the clipboard settle delay as a duration.
func (c *EngineConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// ScriptTimeout returns the script evaluation budget as a duration.
func (c *PlaceholderConfig) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutMs) * time.Millisecond
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Version <= 0 || c.Version > Version {
		return fmt.Errorf("config: unsupported version %d", c.Version)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("config: unknown log output %q", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("config: logging output is file but file_path is empty")
	}

	if c.Engine.SuppressionLifetimeMs <= 0 {
		return fmt.Errorf("config: suppression_lifetime_ms must be positive")
	}
	if c.Engine.SettleDelayMs < 0 {
		return fmt.Errorf("config: settle_delay_ms must not be negative")
	}
	if c.Placeholders.ScriptTimeoutMs <= 0 {
		return fmt.Errorf("config: script_timeout_ms must be positive")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("config: storage path is empty")
	}
	if c.Storage.KeyPath == "" {
		return fmt.Errorf("config: storage key_path is empty")
	}

	if c.IPC.Enabled {
		if c.IPC.SocketPath == "" {
			return fmt.Errorf("config: ipc enabled but socket_path is empty")
		}
		if c.IPC.MaxConnections <= 0 {
			return fmt.Errorf("config: ipc max_connections must be positive")
		}
		if c.IPC.TimeoutSec <= 0 {
			return fmt.Errorf("config: ipc timeout_sec must be positive")
		}
	}

	if c.Notifications.ThrottleSec < 0 {
		return fmt.Errorf("config: notification throttle_sec must not be negative")
	}
	return nil
}

// EnsureDirectories creates all directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Storage.KeyPath),
		c.Library.PacksDir,
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Daemon.PidFile != "" {
		dirs = append(dirs, filepath.Dir(c.Daemon.PidFile))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Variables are prefixed with SNIPD_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("SNIPD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SNIPD_KEY_PATH"); v != "" {
		c.Storage.KeyPath = v
	}
	if v := os.Getenv("SNIPD_PACKS_DIR"); v != "" {
		c.Library.PacksDir = v
	}
	if v := os.Getenv("SNIPD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SNIPD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("SNIPD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("SNIPD_ENABLE_SCRIPT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Placeholders.EnableScript = b
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := *c
	clone.mu = sync.RWMutex{}
	return &clone
}

// Load reads configuration from the specified path. If the file doesn't
// exist, the defaults are returned. TOML, JSON, and YAML are supported,
// selected by file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "windows":
		return `\\.\pipe\snipd`
	default:
		return filepath.Join(PlatformRuntimeDir(), "snipd.sock")
	}
}
