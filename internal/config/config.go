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

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir  string `toml:"log_dir"`
	LockDir string `toml:"lock_dir"`
}

// Backend describes the remote fingerprint service.
type Backend struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// Session contains passphrase gating and sampling cadence settings.
type Session struct {
	MinPassphraseLength int `toml:"min_passphrase_length"`
	DebounceMillis      int `toml:"debounce_ms"`
	GetIntervalMillis   int `toml:"get_interval_ms"`
	MakeIntervalMillis  int `toml:"make_interval_ms"`
}

// Capture contains camera settings passed to ffmpeg.
type Capture struct {
	Device          string `toml:"device"`
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	InputFormat     string `toml:"input_format"`
	Width           int    `toml:"width"`
	Height          int    `toml:"height"`
	FrameRate       int    `toml:"frame_rate"`
	StaleFrameMilli int    `toml:"stale_frame_ms"`
}

// Extractor selects and configures the feature extraction backend.
type Extractor struct {
	Backend        string   `toml:"backend"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	MaxFeatures    int      `toml:"max_features"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Bell           bool   `toml:"bell"`
}

// Preview configures the optional local preview server.
type Preview struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for miyu.
//
// Configuration sections by subsystem:
//   - Paths: log and lock directories
//   - Backend: remote fingerprint service address and timeouts
//   - Session: passphrase threshold, debounce and sampling cadence
//   - Capture: camera device and ffmpeg capture settings
//   - Extractor: ORB extraction backend (worker process or gocv)
//   - Notifications: console bell and ntfy push settings
//   - Preview: local preview HTTP server
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Session       Session       `toml:"session"`
	Capture       Capture       `toml:"capture"`
	Extractor     Extractor     `toml:"extractor"`
	Notifications Notifications `toml:"notifications"`
	Preview       Preview       `toml:"preview"`
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
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	configDir := ""
	if exists {
		configDir = filepath.Dir(resolvedPath)
	}
	cfg.resolveWorkerScript(configDir)
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
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("miyu.toml")
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

// EnsureDirectories creates the log and lock directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.LockDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DebounceDuration returns the passphrase quiet period.
func (c *Config) DebounceDuration() time.Duration {
	return time.Duration(c.Session.DebounceMillis) * time.Millisecond
}

// GetInterval returns the getter sampling cadence.
func (c *Config) GetInterval() time.Duration {
	return time.Duration(c.Session.GetIntervalMillis) * time.Millisecond
}

// MakeInterval returns the maker sampling cadence.
func (c *Config) MakeInterval() time.Duration {
	return time.Duration(c.Session.MakeIntervalMillis) * time.Millisecond
}

// BackendTimeout returns the per-request timeout for the backend.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// StaleFrameAge returns how old the latest camera frame may be before snapshots report no frame.
func (c *Config) StaleFrameAge() time.Duration {
	return time.Duration(c.Capture.StaleFrameMilli) * time.Millisecond
}

// ExtractorTimeout bounds a single extraction call.
func (c *Config) ExtractorTimeout() time.Duration {
	return time.Duration(c.Extractor.TimeoutSeconds) * time.Second
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

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
