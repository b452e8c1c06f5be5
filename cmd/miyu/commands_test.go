package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"miyu/internal/devices"
	"miyu/internal/testsupport"
)

func TestConfigInitValidateAndShow(t *testing.T) {
	env := setupCLITestEnv(t, nil)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.backend.URL)
	requireContains(t, out, "Min passphrase")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Created "+target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil || !strings.Contains(err.Error(), "--overwrite") {
		t.Fatalf("expected init to refuse overwriting, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	t.Setenv("MIYU_API_URL", "https://miyu.example.test/api/")
	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "https://miyu.example.test/api")
	if strings.Contains(out, "https://miyu.example.test/api/") {
		t.Fatalf("expected trailing slash to be trimmed: %s", out)
	}
}

func TestDevicesListsAndMarksSelection(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	stubDevices(t, []devices.Device{
		{ID: "/dev/video0", Name: "Integrated Camera", Driver: "uvcvideo", Probed: true},
		{ID: "/dev/video2", Name: "USB Camera", Driver: "uvcvideo", Probed: true},
	})

	out, _, err := runCLI(t, []string{"devices"}, env.configPath, "")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	requireContains(t, out, "Integrated Camera")
	requireContains(t, out, "USB Camera")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "/dev/video0") && !strings.Contains(line, "*") {
			t.Fatalf("expected configured device to be marked: %q", line)
		}
		if strings.Contains(line, "/dev/video2") && strings.Contains(line, "*") {
			t.Fatalf("unexpected selection mark: %q", line)
		}
	}

	stubDevices(t, nil)
	out, _, err = runCLI(t, []string{"devices"}, env.configPath, "")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	requireContains(t, out, "No video capture devices found")
}

func TestDoctorReportsMissingTools(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	env.cfg.Capture.FFmpegBinary = "definitely-not-ffmpeg"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath, "")
	if err == nil {
		t.Fatal("expected doctor to fail with a missing ffmpeg")
	}
	requireContains(t, out, "definitely-not-ffmpeg")
	requireContains(t, out, "missing")
	requireContains(t, out, "Backend")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath, "")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "not configured")
}

func TestVersionFlag(t *testing.T) {
	out, _, err := runCLI(t, []string{"--version"}, "", "")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	requireContains(t, out, version)
}

func TestLogsShowsFilteredTail(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	path := filepath.Join(env.cfg.Paths.LogDir, "miyu.log")
	content := "session_id=aaa activated\nsession_id=bbb activated\nsession_id=aaa match found\n"
	testsupport.WriteFile(t, path, []byte(content))

	out, _, err := runCLI(t, []string{"logs", "--session", "aaa", "-n", "1"}, env.configPath, "")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.TrimSpace(out) != "session_id=aaa match found" {
		t.Fatalf("unexpected output %q", out)
	}
}
