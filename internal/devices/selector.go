package devices

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"miyu/internal/logging"
)

// ResolveSelection keeps current when it is still present, otherwise picks the
// first device. It returns "" when there are no devices.
func ResolveSelection(current string, devices []Device) string {
	if current != "" {
		for _, d := range devices {
			if d.ID == current {
				return current
			}
		}
	}
	if len(devices) == 0 {
		return ""
	}
	return devices[0].ID
}

// Selector tracks the enumerated devices and the current selection.
type Selector struct {
	enum   Enumerator
	logger *slog.Logger

	mu       sync.Mutex
	devices  []Device
	selected string
	onChange []func(Device, bool)
	monitor  *netlinkMonitor
}

// NewSelector returns a selector with an optional preferred device.
func NewSelector(enum Enumerator, preferred string, logger *slog.Logger) *Selector {
	return &Selector{
		enum:     enum,
		logger:   logging.NewComponentLogger(logger, "devices"),
		selected: preferred,
	}
}

// Refresh re-enumerates and re-resolves the selection.
func (s *Selector) Refresh(ctx context.Context) ([]Device, error) {
	devices, err := s.enum.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	s.mu.Lock()
	previous := s.selected
	s.devices = append([]Device(nil), devices...)
	s.selected = ResolveSelection(previous, devices)
	current, ok := s.lookupLocked(s.selected)
	changed := s.selected != previous
	subs := slices.Clone(s.onChange)
	s.mu.Unlock()

	s.logger.Debug("capture devices enumerated",
		logging.Int("count", len(devices)),
		logging.String("selected", current.ID),
	)
	if changed {
		if previous != "" {
			s.logger.Info("capture device selection changed",
				logging.String("previous", previous),
				logging.String(logging.FieldDevice, current.ID),
			)
		}
		for _, fn := range subs {
			fn(current, ok)
		}
	}
	return devices, nil
}

// Select makes id the current device. id must be among the enumerated devices.
func (s *Selector) Select(id string) error {
	s.mu.Lock()
	if _, ok := s.lookupLocked(id); !ok {
		s.mu.Unlock()
		return fmt.Errorf("capture device %q not found", id)
	}
	changed := s.selected != id
	s.selected = id
	current, _ := s.lookupLocked(id)
	subs := slices.Clone(s.onChange)
	s.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(current, true)
		}
	}
	return nil
}

// Selected returns the current device.
func (s *Selector) Selected() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(s.selected)
}

// Devices returns the last enumeration.
func (s *Selector) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Device(nil), s.devices...)
}

// OnChange registers fn for selection changes. ok is false when no device
// remains.
func (s *Selector) OnChange(fn func(d Device, ok bool)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Watch subscribes to device hotplug events and refreshes on each one. A
// failure to open the netlink socket is logged and otherwise ignored.
func (s *Selector) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.monitor == nil {
		s.monitor = newNetlinkMonitor(s.logger, func(ctx context.Context, device string) {
			if _, err := s.Refresh(ctx); err != nil {
				logging.WarnWithContext(s.logger, "device refresh failed", "device_refresh_failed",
					logging.Error(err),
					logging.String(logging.FieldDevice, device),
					logging.String(logging.FieldImpact, "device list may be out of date"),
				)
			}
		})
	}
	monitor := s.monitor
	s.mu.Unlock()
	return monitor.Start(ctx)
}

// Close stops watching for hotplug events.
func (s *Selector) Close() {
	s.mu.Lock()
	monitor := s.monitor
	s.mu.Unlock()
	monitor.Stop()
}

func (s *Selector) lookupLocked(id string) (Device, bool) {
	if id == "" {
		return Device{}, false
	}
	for _, d := range s.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
