package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"miyu/internal/config"
	"miyu/internal/flow"
	"miyu/internal/preview"
	"miyu/internal/prompt"
	"miyu/internal/sampling"
	"miyu/internal/services"
)

type makeOptions struct {
	source       sourceFlags
	passphrase   string
	message      string
	messageFile  string
	captureAfter time.Duration
	yes          bool
	picture      bool
}

func newMakeCommand(ctx *commandContext) *cobra.Command {
	var opts makeOptions

	cmd := &cobra.Command{
		Use:   "make",
		Short: "Hide a message behind what the camera sees",
		Long: "Point the camera at an object, capture its fingerprint, and register a message\n" +
			"that is revealed to anyone who shows the same object with the same passphrase.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMake(cmd.Context(), ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.source.image, "image", "", "Use a still image instead of the camera")
	cmd.Flags().StringVarP(&opts.source.device, "device", "d", "", "Capture device (for example /dev/video0)")
	cmd.Flags().StringVarP(&opts.passphrase, "passphrase", "p", "", "Passphrase (prompted when empty)")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Message text or HTML (prompted when empty)")
	cmd.Flags().StringVar(&opts.messageFile, "message-file", "", "Read the message from a file")
	cmd.Flags().DurationVar(&opts.captureAfter, "capture-after", 0, "Capture automatically after this delay instead of waiting for Enter")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Submit without asking for confirmation")
	cmd.Flags().BoolVar(&opts.picture, "picture", false, "Send the captured picture along with the fingerprint")
	return cmd
}

func runMake(runCtx context.Context, ctx *commandContext, cmd *cobra.Command, opts makeOptions) error {
	cfg := ctx.configValue()
	logger := ctx.sessionLogger()
	stdout := cmd.OutOrStdout()
	stderr := sharedWriter(cmd.ErrOrStderr())
	in := bufio.NewReader(cmd.InOrStdin())

	text, err := resolveMessage(opts)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	pipe, err := ctx.openPipeline(runCtx, opts.source, stderr)
	if err != nil {
		return err
	}
	defer pipe.Close()

	loop := sampling.New(cfg.MakeInterval(), pipe.source, pipe.extractor, logger)
	reportExtractionErrors(runCtx, loop, stderr)
	maker := flow.NewMaker(loop, ctx.backendClient(), cfg.Session.MinPassphraseLength,
		flow.WithMakerLogger(logger),
		flow.WithMakerNotifier(ctx.notifier(stderr)),
		flow.WithPicture(opts.picture),
	)
	if err := maker.Start(runCtx); err != nil {
		return err
	}
	defer func() {
		maker.Close()
		loop.Wait()
	}()

	if srv := preview.New(cfg.Preview.Bind, loop, makeStatus(loop, pipe), logger); srv != nil {
		if err := srv.Start(runCtx); err != nil {
			return err
		}
		defer srv.Stop()
		fmt.Fprintf(stderr, "Preview at http://%s/preview.jpg\n", srv.Addr())
	}

	passphrase := opts.passphrase
	if strings.TrimSpace(passphrase) == "" {
		if passphrase, err = prompt.Line(in, stderr, fmt.Sprintf("Passphrase (min %d characters): ", cfg.Session.MinPassphraseLength)); err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
	}
	maker.SetPassphrase(passphrase)
	if strings.TrimSpace(text) == "" {
		if text, err = prompt.Line(in, stderr, "Message: "); err != nil {
			return fmt.Errorf("read message: %w", err)
		}
	}
	maker.SetMessage(text)

	sample, err := captureSample(runCtx, maker, in, stderr, opts.captureAfter)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "Captured %d descriptors from %d keypoints\n", sample.Descriptors.Rows(), sample.Keypoints)

	if err := maker.Validate(); err != nil {
		return err
	}
	if !opts.yes {
		ok, err := prompt.Confirm(in, stderr, "Register this message?")
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if !ok {
			fmt.Fprintln(stderr, "Aborted")
			return nil
		}
	}

	conf, err := maker.Submit(runCtx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Message registered (status %d, request %s)\n", conf.StatusCode, conf.RequestID)
	return nil
}

func resolveMessage(opts makeOptions) (string, error) {
	if path := strings.TrimSpace(opts.messageFile); path != "" {
		if strings.TrimSpace(opts.message) != "" {
			return "", services.Wrap(services.ErrValidation, "make", "message", "use either --message or --message-file", nil)
		}
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "make", "message", "", err)
		}
		return string(data), nil
	}
	return opts.message, nil
}

// captureSample waits for a sample with descriptors, either after delay or
// when the user presses Enter.
func captureSample(ctx context.Context, maker *flow.Maker, in *bufio.Reader, stderr io.Writer, delay time.Duration) (sampling.Sample, error) {
	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return sampling.Sample{}, ctx.Err()
			case <-time.After(delay):
			}
		} else {
			if _, err := prompt.Line(in, stderr, "Press Enter to capture the current frame "); err != nil {
				return sampling.Sample{}, fmt.Errorf("read capture: %w", err)
			}
		}

		sample, err := maker.Capture()
		switch {
		case errors.Is(err, flow.ErrNoSample):
			fmt.Fprintln(stderr, "No frame processed yet; waiting")
		case err != nil:
			return sampling.Sample{}, err
		case sample.Descriptors.Empty():
			fmt.Fprintln(stderr, "No features found in this frame; try a more textured view")
		default:
			return sample, nil
		}
		if delay <= 0 {
			continue
		}
		delay = time.Second
	}
}

func makeStatus(loop *sampling.Loop, pipe *pipeline) preview.StatusFunc {
	return func() preview.Status {
		state := "stopped"
		if loop.Running() {
			state = "sampling"
		}
		return preview.Status{
			Mode:         "make",
			State:        state,
			Device:       pipe.device(),
			SkippedTicks: loop.Skipped(),
		}
	}
}
