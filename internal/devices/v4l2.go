package devices

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// VIDIOC_QUERYCAP is _IOR('V', 0, struct v4l2_capability).
const vidiocQueryCap = 0x80685600

const (
	capVideoCapture      = 0x00000001
	capVideoCaptureMPlan = 0x00001000
	capDeviceCaps        = 0x80000000
)

// v4l2Capability mirrors struct v4l2_capability (104 bytes).
type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

// Capabilities is the decoded VIDIOC_QUERYCAP reply.
type Capabilities struct {
	Driver     string
	Card       string
	BusInfo    string
	Version    uint32
	DeviceCaps uint32
}

// CanCapture reports whether the node delivers video frames.
func (c Capabilities) CanCapture() bool {
	return c.DeviceCaps&(capVideoCapture|capVideoCaptureMPlan) != 0
}

// QueryCapabilities opens path and issues VIDIOC_QUERYCAP.
func QueryCapabilities(path string) (Capabilities, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return Capabilities{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var raw v4l2Capability
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(vidiocQueryCap), uintptr(unsafe.Pointer(&raw))); errno != 0 {
		return Capabilities{}, fmt.Errorf("VIDIOC_QUERYCAP %s: %w", path, errno)
	}
	return decodeCapability(raw), nil
}

func decodeCapability(raw v4l2Capability) Capabilities {
	caps := raw.Capabilities
	if caps&capDeviceCaps != 0 {
		caps = raw.DeviceCaps
	}
	return Capabilities{
		Driver:     cString(raw.Driver[:]),
		Card:       cString(raw.Card[:]),
		BusInfo:    cString(raw.BusInfo[:]),
		Version:    raw.Version,
		DeviceCaps: caps,
	}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
