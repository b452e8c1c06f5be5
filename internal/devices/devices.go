// Package devices enumerates local video capture devices, keeps a current
// selection and re-enumerates when devices are plugged or unplugged.
//
// Enumeration walks /sys/class/video4linux and probes each node with
// VIDIOC_QUERYCAP, keeping only nodes that can capture video. Hotplug events
// arrive over the udev netlink socket; when that socket is unavailable the
// selector still works through explicit Refresh calls.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"miyu/internal/logging"
)

const (
	defaultSysRoot = "/sys/class/video4linux"
	defaultDevRoot = "/dev"
)

// Device is one video capture input.
type Device struct {
	// ID is the device node, for example /dev/video0.
	ID      string
	Name    string
	Driver  string
	BusInfo string
	Probed  bool
}

// Label returns a human readable description.
func (d Device) Label() string {
	if d.Name == "" {
		return d.ID
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.ID)
}

// Enumerator lists capture devices.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]Device, error)
}

// ProbeFunc queries a device node's capabilities.
type ProbeFunc func(path string) (Capabilities, error)

// SysfsEnumerator lists devices from sysfs.
type SysfsEnumerator struct {
	SysRoot string
	DevRoot string
	Probe   ProbeFunc
	Logger  *slog.Logger
}

// NewSysfsEnumerator returns an enumerator over the live system.
func NewSysfsEnumerator(logger *slog.Logger) *SysfsEnumerator {
	return &SysfsEnumerator{
		SysRoot: defaultSysRoot,
		DevRoot: defaultDevRoot,
		Probe:   QueryCapabilities,
		Logger:  logging.NewComponentLogger(logger, "devices"),
	}
}

// Enumerate returns capture devices ordered by node number.
func (e *SysfsEnumerator) Enumerate(ctx context.Context) ([]Device, error) {
	sysRoot := e.SysRoot
	if sysRoot == "" {
		sysRoot = defaultSysRoot
	}
	devRoot := e.DevRoot
	if devRoot == "" {
		devRoot = defaultDevRoot
	}
	probe := e.Probe
	if probe == nil {
		probe = QueryCapabilities
	}
	logger := e.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(sysRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", sysRoot, err)
	}

	var devices []Device
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		node := filepath.Join(devRoot, name)
		dev := Device{ID: node, Name: readSysAttr(filepath.Join(sysRoot, name, "name"))}

		caps, err := probe(node)
		if err != nil {
			// Unreadable nodes fall back to the sysfs index: 0 is the
			// primary capture interface, higher indexes are metadata.
			if readSysAttr(filepath.Join(sysRoot, name, "index")) != "0" {
				continue
			}
			logger.Debug("capability probe failed; using sysfs index",
				logging.String(logging.FieldDevice, node),
				logging.Error(err),
			)
			devices = append(devices, dev)
			continue
		}
		if !caps.CanCapture() {
			continue
		}
		dev.Probed = true
		dev.Driver = caps.Driver
		dev.BusInfo = caps.BusInfo
		if caps.Card != "" {
			dev.Name = caps.Card
		}
		devices = append(devices, dev)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return nodeNumber(devices[i].ID) < nodeNumber(devices[j].ID)
	})
	return devices, nil
}

func readSysAttr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func nodeNumber(path string) int {
	base := filepath.Base(path)
	n, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
	if err != nil {
		return 1 << 30
	}
	return n
}
