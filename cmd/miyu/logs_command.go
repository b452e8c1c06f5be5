package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"miyu/internal/logging"
	"miyu/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter logs.Filter
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the session log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			dir := strings.TrimSpace(cfg.Paths.LogDir)
			if dir == "" {
				return fmt.Errorf("paths.log_dir is not configured")
			}
			path := filepath.Join(dir, logging.FileName)
			out := cmd.OutOrStdout()

			chunk, err := logs.Tail(path, lines, filter)
			if err != nil {
				return err
			}
			for _, line := range chunk.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(chunk.Lines) == 0 && chunk.Offset == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No log entries in %s\n", path)
				}
				return nil
			}
			return logs.Follow(cmd.Context(), path, chunk.Offset, 0, filter, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&filter.SessionID, "session", "", "Only show lines for this session id")
	cmd.Flags().StringVar(&filter.Contains, "grep", "", "Only show lines containing this text")
	return cmd
}
