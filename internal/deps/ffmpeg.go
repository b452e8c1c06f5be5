package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"miyu/internal/config"
)

const probeTimeout = 5 * time.Second

// CheckFFmpegV4L2 reports whether ffmpeg can read from Video4Linux devices by
// looking for the v4l2 demuxer.
func CheckFFmpegV4L2(ctx context.Context, binary string) Status {
	result := Status{
		Name:        "FFmpeg v4l2 input",
		Command:     strings.TrimSpace(binary),
		Description: "Demuxer used to open /dev/video* devices",
	}
	if result.Command == "" {
		result.Command = "ffmpeg"
	}
	resolved, err := exec.LookPath(result.Command)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", result.Command)
		return result
	}
	result.Command = resolved

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, resolved, "-hide_banner", "-demuxers").Output()
	if err != nil {
		result.Detail = fmt.Sprintf("list demuxers: %v", err)
		return result
	}
	if !hasDemuxer(string(out), "v4l2") {
		result.Detail = "ffmpeg was built without v4l2 support"
		return result
	}
	result.Available = true
	return result
}

// hasDemuxer scans `ffmpeg -demuxers` output, whose rows look like
// " D  v4l2,video4linux2 Video4Linux2 device grab".
func hasDemuxer(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[0], "D") {
			continue
		}
		for _, alias := range strings.Split(fields[1], ",") {
			if alias == name {
				return true
			}
		}
	}
	return false
}

// CheckWorkerScript verifies that the script passed to the extractor command
// exists. Arguments starting with "-" are skipped.
func CheckWorkerScript(args []string) Status {
	result := Status{
		Name:        "Extractor script",
		Description: "ORB worker script run by the extractor command",
		Optional:    true,
	}
	if i := config.WorkerScriptIndex(args); i >= 0 {
		result.Command = args[i]
	}
	if result.Command == "" {
		result.Detail = "no script argument configured"
		return result
	}
	path := result.Command
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		result.Detail = fmt.Sprintf("script %q not found; set extractor.args to its absolute path or place it next to the config file", result.Command)
		return result
	}
	if info.IsDir() {
		result.Detail = fmt.Sprintf("%q is a directory", result.Command)
		return result
	}
	result.Command = path
	result.Available = true
	return result
}
