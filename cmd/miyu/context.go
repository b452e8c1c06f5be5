package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"miyu/internal/config"
	"miyu/internal/exchange"
	"miyu/internal/extract"
	"miyu/internal/logging"
	"miyu/internal/notifications"
	"miyu/internal/sampling"
	"miyu/internal/services"
)

// extractionErrorWindow limits how often the same extraction failure is
// printed while the loop keeps ticking.
const extractionErrorWindow = 30 * time.Second

// newExtractor is replaced in tests.
var newExtractor = extract.New

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", "", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "ensure directories", "", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// sessionLogger writes to the log file and, with --verbose, to stderr. The
// terminal stays clean for the passphrase prompt otherwise.
func (c *commandContext) sessionLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg := c.configValue()
		if cfg == nil {
			c.logger = logging.NewNop()
			return
		}
		var outputs []string
		if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
			outputs = append(outputs, filepath.Join(dir, logging.FileName))
		}
		if c.verbose != nil && *c.verbose {
			outputs = append(outputs, "stderr")
		}
		if len(outputs) == 0 {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: outputs,
		})
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) backendClient() *exchange.Client {
	cfg := c.configValue()
	return exchange.NewClient(exchange.Config{
		BaseURL:        cfg.Backend.BaseURL,
		UserAgent:      cfg.Backend.UserAgent,
		TimeoutSeconds: cfg.Backend.TimeoutSeconds,
	}, exchange.WithLogger(c.sessionLogger()))
}

func (c *commandContext) notifier(stderr io.Writer) notifications.Service {
	cfg := c.configValue()
	return notifications.Multi(
		notifications.NewConsole(stderr, cfg.Notifications.Bell),
		notifications.NewService(cfg),
	)
}

// reportExtractionErrors prints extraction failures from loop to stderr, once
// per distinct error within extractionErrorWindow. They stay off the push
// topic.
func reportExtractionErrors(ctx context.Context, loop *sampling.Loop, stderr io.Writer) {
	console := notifications.NewDeduper(notifications.NewConsole(stderr, false), extractionErrorWindow, nil)
	loop.OnError(func(err error) {
		_ = console.Publish(ctx, notifications.EventError, notifications.Payload{
			"context": "feature extraction",
			"error":   err,
		})
	})
}

// lockedWriter serialises writes from the command and the sampling goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// sharedWriter returns w unchanged for files and a locked wrapper otherwise.
func sharedWriter(w io.Writer) io.Writer {
	if _, ok := w.(*os.File); ok {
		return w
	}
	return &lockedWriter{w: w}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func errorHint(err error) string {
	var statusErr *exchange.StatusError
	var transportErr *exchange.TransportError
	switch {
	case errors.As(err, &transportErr):
		return "check that the backend is running (backend.base_url or MIYU_API_URL)"
	case errors.As(err, &statusErr):
		return ""
	default:
		return services.Hint(err)
	}
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
