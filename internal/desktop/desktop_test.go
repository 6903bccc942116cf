package desktop

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	stdin string
	name  string
	args  []string
}

func fakeLauncher(goos string, calls *[]call, failXclip bool) *Launcher {
	return &Launcher{
		goos: goos,
		start: func(name string, args ...string) error {
			*calls = append(*calls, call{name: name, args: args})
			return nil
		},
		pipe: func(stdin, name string, args ...string) error {
			*calls = append(*calls, call{stdin: stdin, name: name, args: args})
			if failXclip && name == "xclip" {
				return errors.New("not installed")
			}
			return nil
		},
	}
}

func TestOpenVideo(t *testing.T) {
	var calls []call
	require.NoError(t, fakeLauncher("linux", &calls, false).OpenVideo("/v/a.mp4"))
	require.NoError(t, fakeLauncher("darwin", &calls, false).OpenVideo("/v/a.mp4"))

	assert.Equal(t, "xdg-open", calls[0].name)
	assert.Equal(t, "open", calls[1].name)
	assert.Equal(t, []string{"/v/a.mp4"}, calls[1].args)
}

func TestShareCopiesURI(t *testing.T) {
	var calls []call
	require.NoError(t, fakeLauncher("linux", &calls, false).Share("/v/my clip.mp4"))

	require.Len(t, calls, 2)
	assert.Equal(t, "xclip", calls[0].name)
	assert.Contains(t, calls[0].args, "text/uri-list")
	assert.Equal(t, "file:///v/my%20clip.mp4\n", calls[0].stdin)
}

func TestShareWithoutXclip(t *testing.T) {
	var calls []call
	assert.Error(t, fakeLauncher("linux", &calls, true).Share("/v/a.mp4"))
}

func TestFileURI(t *testing.T) {
	assert.Equal(t, "file:///tmp/a.mp4", FileURI("/tmp/a.mp4"))
}

type fakeEmitter struct {
	path   dbus.ObjectPath
	name   string
	values []interface{}
}

func (f *fakeEmitter) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	f.path, f.name, f.values = path, name, values
	return nil
}

func TestDBusIndexerRescan(t *testing.T) {
	em := &fakeEmitter{}
	require.NoError(t, NewIndexerWithEmitter(em).Rescan("/v/a.mp4"))

	assert.Equal(t, MediaObjectPath, em.path)
	assert.Equal(t, ScanFileSignal, em.name)
	assert.Equal(t, []interface{}{"/v/a.mp4"}, em.values)
}

func TestSoundPlayerCommand(t *testing.T) {
	p := &SoundPlayer{goos: "linux"}
	name, args := p.command(CueStart)
	assert.Equal(t, "canberra-gtk-play", name)
	assert.Contains(t, args, "--id=camera-shutter")

	p.goos = "darwin"
	name, _ = p.command(CueStop)
	assert.Equal(t, "afplay", name)
}
