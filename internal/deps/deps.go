// Package deps reports whether the external tools miyu shells out to are
// installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"miyu/internal/config"
)

// Requirement defines an external dependency miyu relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries cfg needs. The extractor command is only
// required by the worker backend.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	reqs := []Requirement{{
		Name:        "FFmpeg",
		Command:     cfg.Capture.FFmpegBinary,
		Description: "Reads MJPEG frames from the capture device",
	}}
	if cfg.Extractor.Backend == config.ExtractorWorker {
		reqs = append(reqs, Requirement{
			Name:        "Extractor",
			Command:     cfg.Extractor.Command,
			Description: "Runs the ORB feature extraction worker",
		})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch resolved, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Command = resolved
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
