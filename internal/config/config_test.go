package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"miyu/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogDir := filepath.Join(tempHome, ".local", "share", "miyu", "logs")
	if cfg.Paths.LogDir != wantLogDir {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogDir)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected base url: %q", cfg.Backend.BaseURL)
	}
	if cfg.Session.MinPassphraseLength != 4 {
		t.Fatalf("expected default threshold 4, got %d", cfg.Session.MinPassphraseLength)
	}
	if cfg.DebounceDuration() != time.Second {
		t.Fatalf("expected 1s debounce, got %s", cfg.DebounceDuration())
	}
	if cfg.GetInterval() != time.Second {
		t.Fatalf("expected 1s get interval, got %s", cfg.GetInterval())
	}
	if cfg.MakeInterval() != 500*time.Millisecond {
		t.Fatalf("expected 500ms make interval, got %s", cfg.MakeInterval())
	}
	if cfg.Extractor.Backend != config.ExtractorWorker {
		t.Fatalf("expected worker extractor by default, got %q", cfg.Extractor.Backend)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("MIYU_API_URL", " https://api.example.com/ ")
	t.Setenv("MIN_PASSCODE_LENGTH", "6")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.com" {
		t.Fatalf("unexpected base url: %q", cfg.Backend.BaseURL)
	}
	if cfg.Session.MinPassphraseLength != 6 {
		t.Fatalf("expected threshold 6, got %d", cfg.Session.MinPassphraseLength)
	}
}

func TestInvalidMinPassphraseEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("MIN_PASSCODE_LENGTH", "four")

	if _, _, _, err := config.Load(""); err == nil || !strings.Contains(err.Error(), "MIN_PASSCODE_LENGTH") {
		t.Fatalf("expected MIN_PASSCODE_LENGTH error, got %v", err)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
log_dir = "~/miyu-logs"

[backend]
base_url = "http://backend.local:9000/"

[session]
min_passphrase_length = 6
debounce_ms = 250

[capture]
device = "/dev/video2"

[logging]
format = "JSON"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q to exist, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, "miyu-logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Backend.BaseURL != "http://backend.local:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Session.MinPassphraseLength != 6 || cfg.Session.DebounceMillis != 250 {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Session.GetIntervalMillis != 1000 {
		t.Fatalf("expected default get interval to survive partial file, got %d", cfg.Session.GetIntervalMillis)
	}
	if cfg.Capture.Device != "/dev/video2" {
		t.Fatalf("unexpected device: %q", cfg.Capture.Device)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased format, got %q", cfg.Logging.Format)
	}
}

func TestLoadResolvesWorkerScriptNextToConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	configDir := t.TempDir()
	configPath := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[backend]\nbase_url = \"http://localhost:8000\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	script := filepath.Join(configDir, "python", "orb_worker.py")
	if err := os.MkdirAll(filepath.Dir(script), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(script, []byte("print()\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := []string{"-u", script}
	if strings.Join(cfg.Extractor.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("expected args %q, got %q", want, cfg.Extractor.Args)
	}
}

func TestLoadKeepsUnresolvedWorkerScript(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Extractor.Args; len(got) != 2 || got[1] != "python/orb_worker.py" {
		t.Fatalf("expected relative default script to be kept, got %q", got)
	}
	if config.Default().Extractor.Args[1] != "python/orb_worker.py" {
		t.Fatal("resolution must not modify the defaults")
	}
}

func TestWorkerScriptIndex(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{args: []string{"-u", "worker.py"}, want: 1},
		{args: []string{"worker.py", "--fast"}, want: 0},
		{args: []string{"-u"}, want: -1},
		{args: nil, want: -1},
	}
	for _, tt := range tests {
		if got := config.WorkerScriptIndex(tt.args); got != tt.want {
			t.Errorf("WorkerScriptIndex(%q) = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")
	if _, _, _, err := config.Load(missing); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[backend]\nbase_uri = \"http://x\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad scheme", func(c *config.Config) { c.Backend.BaseURL = "ftp://x" }, "backend.base_url"},
		{"missing host", func(c *config.Config) { c.Backend.BaseURL = "http://" }, "host"},
		{"zero threshold", func(c *config.Config) { c.Session.MinPassphraseLength = 0 }, "min_passphrase_length"},
		{"zero debounce", func(c *config.Config) { c.Session.DebounceMillis = 0 }, "debounce_ms"},
		{"unknown extractor", func(c *config.Config) { c.Extractor.Backend = "magic" }, "extractor.backend"},
		{"worker without command", func(c *config.Config) { c.Extractor.Command = "" }, "extractor.command"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error to mention %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	var parsed config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &parsed); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	defaults := config.Default()
	if parsed.Backend.BaseURL != defaults.Backend.BaseURL {
		t.Fatalf("sample base url %q differs from default %q", parsed.Backend.BaseURL, defaults.Backend.BaseURL)
	}
	if parsed.Session != defaults.Session {
		t.Fatalf("sample session %+v differs from default %+v", parsed.Session, defaults.Session)
	}
	if parsed.Capture != defaults.Capture {
		t.Fatalf("sample capture %+v differs from default %+v", parsed.Capture, defaults.Capture)
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if string(data) != config.SampleConfig() {
		t.Fatal("written sample differs from embedded sample")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.LockDir = filepath.Join(base, "locks")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.LogDir, cfg.Paths.LockDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
