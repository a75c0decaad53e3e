package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	PublicDir string `toml:"public_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// HotFolder describes one watched directory.
type HotFolder struct {
	Path     string `toml:"path"`
	Platform string `toml:"platform"`
	Group    string `toml:"group"`
}

// Watcher contains hot folder observation settings.
type Watcher struct {
	Autostart         bool        `toml:"autostart"`
	StabilityWindowMS int         `toml:"stability_window_ms"`
	PollIntervalMS    int         `toml:"poll_interval_ms"`
	HotFolders        []HotFolder `toml:"hot_folders"`
}

// Pipeline contains package state machine settings.
type Pipeline struct {
	RemoveOriginal       bool   `toml:"remove_original"`
	DefragmentMP4        bool   `toml:"defragment_mp4"`
	GenerateThumb        bool   `toml:"generate_thumb"`
	ProbeMetadata        bool   `toml:"probe_metadata"`
	Merge                bool   `toml:"merge"`
	AutoPublish          bool   `toml:"auto_publish"`
	DefaultPlatform      string `toml:"default_platform"`
	MaxConcurrentUploads int    `toml:"max_concurrent_uploads"`
	SyncInterval         int    `toml:"sync_interval"`
	SyncAttempts         int    `toml:"sync_attempts"`
	MergeWaitInterval    int    `toml:"merge_wait_interval"`
	MergeWaitAttempts    int    `toml:"merge_wait_attempts"`
	ThumbOffsetSeconds   int    `toml:"thumb_offset_seconds"`
	SpriteColumns        int    `toml:"sprite_columns"`
	SpriteThumbWidth     int    `toml:"sprite_thumb_width"`
	FFmpegBinary         string `toml:"ffmpeg_binary"`
	FFprobeBinary        string `toml:"ffprobe_binary"`
}

// Supervisor contains watcher worker process settings.
type Supervisor struct {
	AnonymousUser string `toml:"anonymous_user"`
	StopGrace     int    `toml:"stop_grace"`
	AckTimeout    int    `toml:"ack_timeout"`
	RestartDelay  int    `toml:"restart_delay"`
	MaxRestarts   int    `toml:"max_restarts"`
}

// Platform declares one upload target. Settings are decoded by the
// provider registered for Type.
type Platform struct {
	Name     string         `toml:"name"`
	Type     string         `toml:"type"`
	Settings map[string]any `toml:"settings"`
}

// Notifications contains publication event settings.
type Notifications struct {
	Brokers        []string `toml:"brokers"`
	Topic          string   `toml:"topic"`
	RequestTimeout int      `toml:"request_timeout"`
}

// Metrics contains the prometheus endpoint settings.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Permissions lists the operator capabilities granted over the control socket.
type Permissions struct {
	Allow []string `toml:"allow"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mediapub.
//
// Configuration sections by subsystem:
//   - Paths: working, public asset, state, and log directories
//   - Watcher: hot folders and write-stability timing
//   - Pipeline: optional transitions, upload concurrency, sync polling, merge
//   - Supervisor: watcher worker lifecycle
//   - Platforms: named upload targets
//   - Notifications: kafka publication events
//   - Metrics: prometheus bind address
//   - Permissions: operator capabilities
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Watcher       Watcher       `toml:"watcher"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Supervisor    Supervisor    `toml:"supervisor"`
	Platforms     []Platform    `toml:"platforms"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Permissions   Permissions   `toml:"permissions"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediapub.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.PublicDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the package store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "mediapub.db")
}

// SocketPath returns the operator control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "mediapub.sock")
}

// LockPath returns the daemon single-instance lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "mediapub.lock")
}

// LogPath returns the daemon log file location, or "" when file logging is
// disabled.
func (c *Config) LogPath() string {
	if c.Paths.LogDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "mediapub.log")
}

// StabilityWindow returns the watcher write-stability quiescence window.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Watcher.StabilityWindowMS) * time.Millisecond
}

// PollInterval returns how often the watcher re-checks pending files.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watcher.PollIntervalMS) * time.Millisecond
}

// PlatformByName returns the named platform declaration.
func (c *Config) PlatformByName(name string) (Platform, bool) {
	for _, p := range c.Platforms {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Platform{}, false
}

// HotFolderFor returns the hot folder containing path, if any.
func (c *Config) HotFolderFor(path string) (HotFolder, bool) {
	cleaned := filepath.Clean(path)
	for _, folder := range c.Watcher.HotFolders {
		rel, err := filepath.Rel(folder.Path, cleaned)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return folder, true
	}
	return HotFolder{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := renameio.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
