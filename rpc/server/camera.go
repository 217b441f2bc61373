package server

import (
	"encoding/binary"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

// BytesPerPixel is the size of one depth sample (uint16, little endian)
const BytesPerPixel = 2

// Mode is an operating mode of the emulated camera
type Mode struct {
	Name   string
	Width  int
	Height int
}

// FrameSize returns the size of the raw depth frame of the mode in bytes
func (m Mode) FrameSize() int {
	return m.Width * m.Height * BytesPerPixel
}

// DefaultModes are the modes offered by the emulated camera. The "test" mode
// produces 1024 byte frames.
var DefaultModes = []Mode{
	{Name: "test", Width: 32, Height: 16},
	{Name: "near", Width: 320, Height: 288},
	{Name: "far", Width: 512, Height: 512},
	{Name: "qmega", Width: 640, Height: 576},
}

// Camera is the state of the emulated time-of-flight camera. It is shared by
// all connections of a server.
type Camera struct {
	name  string
	modes []Mode

	mu        sync.Mutex
	open      bool
	streaming bool
	mode      Mode
	frames    int64

	registers *xsync.MapOf[int32, int32]
}

// NewCamera creates a closed camera offering the given modes, the first mode
// is active
func NewCamera(name string, modes []Mode) *Camera {
	if len(modes) == 0 {
		modes = DefaultModes
	}
	return &Camera{
		name:      name,
		modes:     modes,
		mode:      modes[0],
		registers: xsync.NewMapOf[int32, int32](),
	}
}

// Name returns the name of the camera
func (c *Camera) Name() string {
	return c.name
}

// Modes returns the offered modes
func (c *Camera) Modes() []Mode {
	return c.modes
}

func (c *Camera) findMode(name string) (Mode, bool) {
	for _, m := range c.modes {
		if m.Name == name {
			return m, true
		}
	}
	return Mode{}, false
}

// captureFrame renders the next depth frame of the active mode. The depth of a
// pixel is (x + y + frame index) mod 4096.
func (c *Camera) captureFrame(mode Mode, index int64) []byte {
	raw := make([]byte, mode.FrameSize())
	for y := 0; y < mode.Height; y++ {
		for x := 0; x < mode.Width; x++ {
			depth := uint16((int64(x+y) + index) % 4096)
			binary.LittleEndian.PutUint16(raw[(y*mode.Width+x)*BytesPerPixel:], depth)
		}
	}
	return raw
}
