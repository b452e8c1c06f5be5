package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateExtractor(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.base_url must be an http(s) URL, got %q", c.Backend.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("backend.base_url must include a host, got %q", c.Backend.BaseURL)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return errors.New("backend.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.MinPassphraseLength < 1 {
		return errors.New("session.min_passphrase_length must be >= 1")
	}
	return ensurePositive(map[string]int{
		"session.debounce_ms":      c.Session.DebounceMillis,
		"session.get_interval_ms":  c.Session.GetIntervalMillis,
		"session.make_interval_ms": c.Session.MakeIntervalMillis,
	})
}

func (c *Config) validateCapture() error {
	if c.Capture.Width < 0 || c.Capture.Height < 0 {
		return errors.New("capture.width and capture.height must be >= 0")
	}
	if c.Capture.FrameRate < 0 {
		return errors.New("capture.frame_rate must be >= 0")
	}
	if c.Capture.StaleFrameMilli <= 0 {
		return errors.New("capture.stale_frame_ms must be positive")
	}
	return nil
}

func (c *Config) validateExtractor() error {
	switch c.Extractor.Backend {
	case ExtractorWorker:
		if c.Extractor.Command == "" {
			return errors.New("extractor.command must be set when extractor.backend is \"worker\"")
		}
	case ExtractorGoCV:
	default:
		return fmt.Errorf("extractor.backend must be %q or %q, got %q", ExtractorWorker, ExtractorGoCV, c.Extractor.Backend)
	}
	if c.Extractor.MaxFeatures <= 0 {
		return errors.New("extractor.max_features must be positive")
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		return errors.New("extractor.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositive(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
