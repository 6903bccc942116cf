package controller

import (
	"strconv"
	"strings"

	"github.com/tiroq/screenrec/internal/recorder"
)

// Fallback output size when neither the override nor the default parses.
const (
	FallbackWidth  = 720
	FallbackHeight = 1280
)

// ParseDimensions parses "<width>x<height>". Components after the second
// are ignored; non-positive values are rejected.
func ParseDimensions(s string) (width, height int, ok bool) {
	parts := strings.Split(s, "x")
	if len(parts) < 2 {
		return 0, 0, false
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// ResolveDimensions picks the output size from the user override, then the
// resource default, then 720x1280. At natural rotation on a landscape screen
// the result is swapped so portrait-oriented defaults still fit.
func ResolveDimensions(override, resourceDefault string, rotation, realWidth, realHeight int) (int, int) {
	w, h, ok := ParseDimensions(override)
	if !ok {
		w, h, ok = ParseDimensions(resourceDefault)
	}
	if !ok {
		w, h = FallbackWidth, FallbackHeight
	}
	if rotation == recorder.Rotation0 && realWidth > realHeight {
		w, h = h, w
	}
	return w, h
}
