package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"miyu/internal/config"
	"miyu/internal/devices"
	"miyu/internal/extract"
	"miyu/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	imagePath  string
	backend    *httptest.Server
}

func setupCLITestEnv(t *testing.T, backend http.HandlerFunc) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("MIYU_API_URL", "")
	t.Setenv("MIN_PASSCODE_LENGTH", "")

	if backend == nil {
		backend = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
	}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithBackend(server.URL),
		testsupport.WithSessionTiming(30, 20, 20),
	)
	configPath := filepath.Join(homeDir, ".config", "miyu", "config.toml")
	writeTestConfig(t, configPath, cfg)

	stubExtractor(t, extract.Func(func(_ context.Context, image []byte) (extract.Result, error) {
		return extract.Result{
			Preview:     image,
			Descriptors: extract.Matrix{{1, 2, 3}, {4, 5, 6}},
			Keypoints:   2,
		}, nil
	}))
	stubDevices(t, nil)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		imagePath:  testsupport.WriteJPEG(t, "object.jpg"),
		backend:    server,
	}
}

func stubExtractor(t *testing.T, ex extract.Extractor) {
	t.Helper()
	previous := newExtractor
	newExtractor = func(*config.Config, *slog.Logger) (extract.Extractor, error) { return ex, nil }
	t.Cleanup(func() { newExtractor = previous })
}

type staticEnumerator []devices.Device

func (s staticEnumerator) Enumerate(context.Context) ([]devices.Device, error) {
	return append([]devices.Device(nil), s...), nil
}

func stubDevices(t *testing.T, list []devices.Device) {
	t.Helper()
	previous := newDevicesEnumerator
	newDevicesEnumerator = func(*commandContext) devices.Enumerator { return staticEnumerator(list) }
	t.Cleanup(func() { newDevicesEnumerator = previous })
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	testsupport.WriteFile(t, path, encoded)
}

func runCLI(t *testing.T, args []string, configPath, stdin string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
