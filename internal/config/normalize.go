package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// executablePath locates the running binary for worker script lookup.
var executablePath = os.Executable

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBackend(); err != nil {
		return err
	}
	if err := c.normalizeSession(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeExtractor()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockDir) == "" {
		c.Paths.LockDir = defaultLockDir
	}
	if c.Paths.LockDir, err = expandPath(strings.TrimSpace(c.Paths.LockDir)); err != nil {
		return fmt.Errorf("paths.lock_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() error {
	if value, ok := os.LookupEnv("MIYU_API_URL"); ok && strings.TrimSpace(value) != "" {
		c.Backend.BaseURL = value
	}
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBackendBaseURL
	}
	c.Backend.UserAgent = strings.TrimSpace(c.Backend.UserAgent)
	if c.Backend.UserAgent == "" {
		c.Backend.UserAgent = defaultUserAgent
	}
	return nil
}

func (c *Config) normalizeSession() error {
	if value, ok := os.LookupEnv("MIN_PASSCODE_LENGTH"); ok && strings.TrimSpace(value) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("MIN_PASSCODE_LENGTH: %w", err)
		}
		c.Session.MinPassphraseLength = n
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.Device = strings.TrimSpace(c.Capture.Device)
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	if c.Capture.FFmpegBinary == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}
	c.Capture.InputFormat = strings.TrimSpace(c.Capture.InputFormat)
}

func (c *Config) normalizeExtractor() {
	c.Extractor.Backend = strings.ToLower(strings.TrimSpace(c.Extractor.Backend))
	if c.Extractor.Backend == "" {
		c.Extractor.Backend = defaultExtractorBackend
	}
	c.Extractor.Command = strings.TrimSpace(c.Extractor.Command)
}

// resolveWorkerScript makes a relative worker script argument absolute when the
// file exists under the working directory, configDir, or the directory of the
// miyu executable, tried in that order. Otherwise the argument is left as is.
func (c *Config) resolveWorkerScript(configDir string) {
	i := WorkerScriptIndex(c.Extractor.Args)
	if i < 0 || filepath.IsAbs(c.Extractor.Args[i]) {
		return
	}
	script := c.Extractor.Args[i]

	dirs := []string{"."}
	if configDir != "" {
		dirs = append(dirs, configDir)
	}
	if exe, err := executablePath(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		dirs = append(dirs, filepath.Dir(exe))
	}
	for _, dir := range dirs {
		candidate, err := filepath.Abs(filepath.Join(dir, script))
		if err != nil {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			c.Extractor.Args = slices.Clone(c.Extractor.Args)
			c.Extractor.Args[i] = candidate
			return
		}
	}
}

// WorkerScriptIndex returns the position of the script in extractor args: the
// first argument that is not a flag. It returns -1 when there is none.
func WorkerScriptIndex(args []string) int {
	for i, arg := range args {
		if arg != "" && !strings.HasPrefix(arg, "-") {
			return i
		}
	}
	return -1
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
