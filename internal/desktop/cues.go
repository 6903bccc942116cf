package desktop

import (
	"os/exec"
	"runtime"
)

// Cue is an audible feedback event.
type Cue string

const (
	CueStart Cue = "start"
	CueStop  Cue = "stop"
)

// CuePlayer plays sound cues. Playback is fire and forget.
type CuePlayer interface {
	Play(c Cue)
}

// SoundPlayer plays freedesktop sound theme events with canberra-gtk-play,
// or system sounds with afplay on macOS.
type SoundPlayer struct {
	goos  string
	start func(name string, args ...string) error
}

func NewSoundPlayer() *SoundPlayer {
	return &SoundPlayer{goos: runtime.GOOS, start: startDetached}
}

func (p *SoundPlayer) Play(c Cue) {
	name, args := p.command(c)
	if name == "" {
		return
	}
	if _, err := exec.LookPath(name); err != nil {
		return
	}
	_ = p.start(name, args...)
}

func (p *SoundPlayer) command(c Cue) (string, []string) {
	if p.goos == "darwin" {
		sound := "/System/Library/Sounds/Tink.aiff"
		if c == CueStop {
			sound = "/System/Library/Sounds/Pop.aiff"
		}
		return "afplay", []string{sound}
	}
	switch c {
	case CueStart:
		return "canberra-gtk-play", []string{"--id=camera-shutter", "--description=screen recording started"}
	case CueStop:
		return "canberra-gtk-play", []string{"--id=complete", "--description=screen recording stopped"}
	}
	return "", nil
}

// Silent discards cues.
type Silent struct{}

func (Silent) Play(Cue) {}
