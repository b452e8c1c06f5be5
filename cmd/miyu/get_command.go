package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"miyu/internal/flow"
	"miyu/internal/gate"
	"miyu/internal/message"
	"miyu/internal/preview"
	"miyu/internal/prompt"
	"miyu/internal/sampling"
	"miyu/internal/session"
)

func newGetCommand(ctx *commandContext) *cobra.Command {
	var flags sourceFlags
	var passphrase string
	var timeout time.Duration
	var raw bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Reveal the message hidden behind what the camera sees",
		Long: "Type the passphrase, point the camera at the object, and miyu polls the backend\n" +
			"until the fingerprint matches. Without --passphrase the passphrase is read\n" +
			"interactively and every edit restarts the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, timeout)
				defer cancel()
			}
			return runGet(runCtx, ctx, cmd, flags, passphrase, raw)
		},
	}

	cmd.Flags().StringVar(&flags.image, "image", "", "Use a still image instead of the camera")
	cmd.Flags().StringVarP(&flags.device, "device", "d", "", "Capture device (for example /dev/video0)")
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Passphrase (skips the interactive prompt)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the revealed message as HTML instead of Markdown")
	return cmd
}

func runGet(runCtx context.Context, ctx *commandContext, cmd *cobra.Command, flags sourceFlags, passphrase string, raw bool) error {
	cfg := ctx.configValue()
	logger := ctx.sessionLogger()
	stdout := cmd.OutOrStdout()
	stderr := sharedWriter(cmd.ErrOrStderr())

	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	pipe, err := ctx.openPipeline(runCtx, flags, stderr)
	if err != nil {
		return err
	}
	defer pipe.Close()

	loop := sampling.New(cfg.GetInterval(), pipe.source, pipe.extractor, logger)
	reportExtractionErrors(runCtx, loop, stderr)
	getter := flow.NewGetter(loop, ctx.backendClient(), cfg.Session.MinPassphraseLength, cfg.DebounceDuration(),
		flow.WithGetterLogger(logger),
		flow.WithGetterNotifier(ctx.notifier(stderr)),
	)
	getter.Run(runCtx)
	defer func() {
		getter.Close()
		loop.Wait()
	}()

	if srv := preview.New(cfg.Preview.Bind, loop, getStatus(getter, loop, pipe), logger); srv != nil {
		if err := srv.Start(runCtx); err != nil {
			return err
		}
		defer srv.Stop()
		fmt.Fprintf(stderr, "Preview at http://%s/preview.jpg\n", srv.Addr())
	}

	revealed := make(chan string, 1)
	failed := make(chan error, 1)
	getter.OnReveal(func(words string) {
		select {
		case revealed <- words:
		default:
		}
	})
	getter.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	// On a terminal the prompt stays open after a match or failure so the
	// passphrase can be edited; piped input and --passphrase end with the
	// first outcome.
	keepOpen := false
	var inputDone chan error
	if strings.TrimSpace(passphrase) == "" {
		inputDone = make(chan error, 1)
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && prompt.IsTerminal(f) {
			keepOpen = true
			fmt.Fprintf(stderr, "Enter a passphrase of at least %d characters. Ctrl-C to quit.\n", cfg.Session.MinPassphraseLength)
			go func() {
				inputDone <- prompt.Watch(runCtx, f, stderr, "Passphrase: ", getter.Input)
			}()
		} else {
			go func() {
				inputDone <- prompt.ReadLines(runCtx, in, getter.Input)
			}()
		}
	} else {
		if gate.RuneLength(gate.Normalize(passphrase)) < cfg.Session.MinPassphraseLength {
			return fmt.Errorf("passphrase must be at least %d characters", cfg.Session.MinPassphraseLength)
		}
		getter.Input(passphrase)
		stopSpinner := startSpinner(runCtx, stderr, getter.Session())
		defer stopSpinner()
	}

	for {
		select {
		case words := <-revealed:
			printRevealed(stdout, words, raw)
			if !keepOpen {
				return nil
			}
		case err := <-failed:
			if !keepOpen {
				return err
			}
			fmt.Fprintf(stderr, "\r\nError: %v\r\nEdit the passphrase to try again.\r\n", err)
		case err := <-inputDone:
			switch {
			case errors.Is(err, prompt.ErrInterrupted):
				return context.Canceled
			case err != nil:
				return err
			case keepOpen:
				return nil
			}
			inputDone = nil
		case <-runCtx.Done():
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("no match before timeout")
			}
			return runCtx.Err()
		}
	}
}

func printRevealed(w io.Writer, words string, raw bool) {
	if raw {
		fmt.Fprintln(w, words)
		return
	}
	fmt.Fprintln(w, message.NewRenderer().Render(words))
}

func getStatus(getter *flow.Getter, loop *sampling.Loop, pipe *pipeline) preview.StatusFunc {
	return func() preview.Status {
		machine := getter.Session()
		status := preview.Status{
			Mode:         "get",
			State:        machine.State().String(),
			Generation:   machine.Generation(),
			SessionID:    machine.SessionID(),
			Device:       pipe.device(),
			SkippedTicks: loop.Skipped(),
		}
		if err := getter.LastError(); err != nil {
			status.LastError = err.Error()
		}
		return status
	}
}

// startSpinner animates while the session is processing on a terminal.
func startSpinner(ctx context.Context, w io.Writer, machine *session.Machine) func() {
	if !isTerminalWriter(w) {
		return func() {}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Looking for a match"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if machine.State() == session.Processing {
					_ = bar.Add(1)
				}
			}
		}
	}()
	return func() {
		close(done)
		_ = bar.Finish()
	}
}
