package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"miyu/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check and print miyu's configuration",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(ctx),
		newConfigShowCommand(ctx),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented config.toml",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := writeSampleConfig(path, overwrite)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", target)
			fmt.Fprintln(out, "Point backend.base_url at your server (or export MIYU_API_URL), then run miyu doctor.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Where to write the file (default ~/.config/miyu/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

// writeSampleConfig writes the sample to path, or to the default location when
// path is blank, and returns where it went.
func writeSampleConfig(path string, overwrite bool) (string, error) {
	var target string
	var err error
	if path = strings.TrimSpace(path); path == "" {
		target, err = config.DefaultConfigPath()
	} else {
		target, err = config.ExpandPath(path)
	}
	if err != nil {
		return "", fmt.Errorf("config path: %w", err)
	}

	if !overwrite {
		_, err := os.Stat(target)
		switch {
		case err == nil:
			return "", fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	if err := config.CreateSample(target); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and report the settings that matter",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			printConfigSummary(cmd.OutOrStdout(), cfg, resolved, exists)
			return nil
		},
	}
}

func printConfigSummary(out io.Writer, cfg *config.Config, path string, exists bool) {
	source := path
	if !exists {
		source = path + " (missing, using defaults)"
	}
	extractor := cfg.Extractor.Backend
	if extractor == config.ExtractorWorker {
		extractor += ": " + strings.Join(append([]string{cfg.Extractor.Command}, cfg.Extractor.Args...), " ")
	}
	fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, [][]string{
		{"File", source},
		{"Backend", cfg.Backend.BaseURL},
		{"Min passphrase", fmt.Sprint(cfg.Session.MinPassphraseLength)},
		{"Get / make interval", fmt.Sprintf("%s / %s", cfg.GetInterval(), cfg.MakeInterval())},
		{"Extractor", extractor},
		{"Logs", cfg.Paths.LogDir},
	}))
	fmt.Fprintln(out, "Configuration valid")
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML, environment overrides applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(ctx.configValue())
		},
	}
}
