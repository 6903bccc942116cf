// Package display reports the current screen rotation and real pixel size.
package display

import (
	"fmt"

	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgbutil"
)

// Display is queried once per recording start.
type Display interface {
	// Rotation returns the current rotation in quarter turns (0..3).
	Rotation() (int, error)
	// RealSize returns the screen size in pixels in the current orientation.
	RealSize() (width, height int, err error)
}

// Static is a fixed display, used on hosts without X11 and in tests.
type Static struct {
	Rot    int
	Width  int
	Height int
}

func (s Static) Rotation() (int, error) { return s.Rot, nil }

func (s Static) RealSize() (int, int, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return 0, 0, fmt.Errorf("static display has no size")
	}
	return s.Width, s.Height, nil
}

// X11 queries the X server through RandR.
type X11 struct {
	xu *xgbutil.XUtil
}

// NewX11 connects to display (":0"); empty uses $DISPLAY.
func NewX11(display string) (*X11, error) {
	xu, err := xgbutil.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("connect to X display %q: %w", display, err)
	}
	if err := randr.Init(xu.Conn()); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("randr extension unavailable: %w", err)
	}
	return &X11{xu: xu}, nil
}

func (x *X11) Rotation() (int, error) {
	reply, err := randr.GetScreenInfo(x.xu.Conn(), x.xu.RootWin()).Reply()
	if err != nil {
		return 0, fmt.Errorf("randr GetScreenInfo: %w", err)
	}
	return rotationFromMask(reply.Rotation), nil
}

// RealSize reads the root window size, which RandR keeps in the rotated
// orientation.
func (x *X11) RealSize() (int, int, error) {
	screen := x.xu.Screen()
	return int(screen.WidthInPixels), int(screen.HeightInPixels), nil
}

// Close releases the X connection.
func (x *X11) Close() {
	x.xu.Conn().Close()
}

func rotationFromMask(mask uint16) int {
	switch {
	case mask&randr.RotationRotate90 != 0:
		return 1
	case mask&randr.RotationRotate180 != 0:
		return 2
	case mask&randr.RotationRotate270 != 0:
		return 3
	default:
		return 0
	}
}
