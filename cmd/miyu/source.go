package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"miyu/internal/capture"
	"miyu/internal/devices"
	"miyu/internal/extract"
	"miyu/internal/logging"
	"miyu/internal/sampling"
	"miyu/internal/services"
)

// pipeline is the capture source plus extractor shared by get and make.
type pipeline struct {
	source    sampling.Source
	extractor extract.Extractor
	device    func() string
	cleanup   []func()
}

func (p *pipeline) Close() {
	for i := len(p.cleanup) - 1; i >= 0; i-- {
		p.cleanup[i]()
	}
	p.cleanup = nil
}

type sourceFlags struct {
	image  string
	device string
}

// newDevicesEnumerator is replaced in tests.
var newDevicesEnumerator = func(c *commandContext) devices.Enumerator {
	return devices.NewSysfsEnumerator(c.sessionLogger())
}

// openPipeline opens the capture source described by flags and the configured
// extractor. Device hotplug events switch the camera to the newly selected
// device.
func (c *commandContext) openPipeline(ctx context.Context, flags sourceFlags, stderr io.Writer) (*pipeline, error) {
	cfg := c.configValue()
	logger := c.sessionLogger()
	p := &pipeline{}

	if image := strings.TrimSpace(flags.image); image != "" {
		still, err := capture.OpenStill(image)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "capture", "open image", "", err)
		}
		p.source = still
		p.device = still.Path
	} else {
		if err := c.openCamera(ctx, p, flags.device, stderr); err != nil {
			p.Close()
			return nil, err
		}
	}

	extractor, err := newExtractor(cfg, logger)
	if err != nil {
		p.Close()
		return nil, services.Wrap(services.ErrExternalTool, "extract", "init", "", err)
	}
	p.extractor = extractor
	if closer, ok := extractor.(extract.Closer); ok {
		p.cleanup = append(p.cleanup, func() { _ = closer.Close() })
	}
	return p, nil
}

func (c *commandContext) openCamera(ctx context.Context, p *pipeline, explicit string, stderr io.Writer) error {
	cfg := c.configValue()
	logger := c.sessionLogger()

	preferred := strings.TrimSpace(explicit)
	if preferred == "" {
		preferred = cfg.Capture.Device
	}
	selector := devices.NewSelector(newDevicesEnumerator(c), preferred, logger)
	if _, err := selector.Refresh(ctx); err != nil {
		return services.Wrap(services.ErrNotFound, "devices", "enumerate", "", err)
	}
	if explicit != "" {
		if err := selector.Select(explicit); err != nil {
			return services.Wrap(services.ErrNotFound, "devices", "select", "", err)
		}
	}
	selected, ok := selector.Selected()
	if !ok {
		return services.Wrap(services.ErrNotFound, "devices", "select", "no video capture devices found", nil)
	}

	switcher := capture.NewSwitcher(capture.CameraOpener(capture.CameraOptions{
		FFmpegBinary: cfg.Capture.FFmpegBinary,
		InputFormat:  cfg.Capture.InputFormat,
		Width:        cfg.Capture.Width,
		Height:       cfg.Capture.Height,
		FrameRate:    cfg.Capture.FrameRate,
		StaleAfter:   cfg.StaleFrameAge(),
		LockDir:      cfg.Paths.LockDir,
		Logger:       logger,
	}), logger)
	p.cleanup = append(p.cleanup, func() { _ = switcher.Close() })
	if err := switcher.Switch(ctx, selected.ID); err != nil {
		if errors.Is(err, capture.ErrDeviceBusy) {
			return services.Wrap(services.ErrValidation, "capture", "open", "", err)
		}
		return services.Wrap(services.ErrExternalTool, "capture", "open", "", err)
	}
	p.source = switcher
	p.device = switcher.Device
	fmt.Fprintf(stderr, "Capturing from %s\n", selected.Label())

	selector.OnChange(func(d devices.Device, ok bool) {
		id := ""
		if ok {
			id = d.ID
		}
		if err := switcher.Switch(ctx, id); err != nil {
			logging.WarnWithContext(logger, "capture device switch failed", "capture_switch_failed",
				logging.Error(err),
				logging.String(logging.FieldDevice, id),
				logging.String(logging.FieldImpact, "no frames until another device is selected"),
			)
			return
		}
		if ok {
			fmt.Fprintf(stderr, "Capture device changed: %s\n", d.Label())
		} else {
			fmt.Fprintln(stderr, "No capture device available")
		}
	})
	if err := selector.Watch(ctx); err != nil {
		logging.WarnWithContext(logger, "device hotplug monitoring unavailable", "netlink_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "unplugging the camera will not switch devices automatically"),
		)
	}
	p.cleanup = append(p.cleanup, selector.Close)
	return nil
}
