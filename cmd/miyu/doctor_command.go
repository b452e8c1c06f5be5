package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"miyu/internal/config"
	"miyu/internal/deps"
	"miyu/internal/extract"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, devices and backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statuses := collectDiagnostics(cmd.Context(), ctx, cfg)

			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				state := "ok"
				switch {
				case !s.Available && s.Optional:
					state = "warn"
				case !s.Available:
					state = "missing"
				}
				detail := s.Detail
				if detail == "" {
					detail = s.Description
				}
				rows = append(rows, []string{s.Name, state, s.Command, detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Command", "Detail"}, rows))

			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required check(s) failed", len(missing))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All required checks passed")
			return nil
		},
	}
}

func collectDiagnostics(ctx context.Context, cc *commandContext, cfg *config.Config) []deps.Status {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	statuses = append(statuses, deps.CheckFFmpegV4L2(ctx, cfg.Capture.FFmpegBinary))

	switch cfg.Extractor.Backend {
	case config.ExtractorWorker:
		statuses = append(statuses, deps.CheckWorkerScript(cfg.Extractor.Args))
	case config.ExtractorGoCV:
		status := deps.Status{Name: "GoCV", Description: "In-process OpenCV ORB"}
		if orb, err := extract.NewORB(cfg.Extractor.MaxFeatures); err != nil {
			status.Detail = err.Error()
		} else {
			_ = orb.Close()
			status.Available = true
		}
		statuses = append(statuses, status)
	}

	devicesStatus := deps.Status{Name: "Capture devices", Description: "Video4Linux capture nodes", Optional: true}
	list, err := newDevicesEnumerator(cc).Enumerate(ctx)
	switch {
	case err != nil:
		devicesStatus.Detail = err.Error()
	case len(list) == 0:
		devicesStatus.Detail = "no capture devices found"
	default:
		devicesStatus.Available = true
		devicesStatus.Command = list[0].ID
		devicesStatus.Detail = fmt.Sprintf("%d device(s)", len(list))
	}
	statuses = append(statuses, devicesStatus)

	return append(statuses, checkBackend(ctx, cfg))
}

// checkBackend only verifies that the backend answers HTTP at all; any status
// code counts as reachable.
func checkBackend(ctx context.Context, cfg *config.Config) deps.Status {
	status := deps.Status{
		Name:        "Backend",
		Command:     cfg.Backend.BaseURL,
		Description: "Fingerprint backend",
		Optional:    true,
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Backend.BaseURL, nil)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	req.Header.Set("User-Agent", cfg.Backend.UserAgent)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			status.Detail = "timed out"
		} else {
			status.Detail = err.Error()
		}
		return status
	}
	resp.Body.Close()
	status.Available = true
	status.Detail = fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)
	return status
}
