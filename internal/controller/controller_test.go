package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/screenrec/internal/desktop"
	"github.com/tiroq/screenrec/internal/display"
	"github.com/tiroq/screenrec/internal/fileutil"
	"github.com/tiroq/screenrec/internal/notify"
	"github.com/tiroq/screenrec/internal/recorder"
	"github.com/tiroq/screenrec/internal/recorder/recordertest"
	"github.com/tiroq/screenrec/internal/settings"
)

var fixedNow = time.Date(2024, 5, 17, 9, 30, 15, 0, time.Local)

type cueRecorder struct {
	mu   sync.Mutex
	cues []desktop.Cue
}

func (c *cueRecorder) Play(cue desktop.Cue) {
	c.mu.Lock()
	c.cues = append(c.cues, cue)
	c.mu.Unlock()
}

func (c *cueRecorder) played() []desktop.Cue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]desktop.Cue(nil), c.cues...)
}

type fixture struct {
	ctrl     *Controller
	rec      *recordertest.Recorder
	notes    *notify.Memory
	settings *settings.Store
	cues     *cueRecorder
	root     string
}

func newFixture(t *testing.T, disp display.Display) *fixture {
	t.Helper()
	if disp == nil {
		disp = display.Static{Width: 1080, Height: 1920}
	}
	f := &fixture{
		rec:      recordertest.New(),
		notes:    notify.NewMemory(),
		settings: settings.NewStore(filepath.Join(t.TempDir(), "settings.yaml")),
		cues:     &cueRecorder{},
		root:     t.TempDir(),
	}
	f.ctrl = New(Deps{
		Recorder: f.rec,
		Notifier: f.notes,
		Settings: f.settings,
		Display:  disp,
		Cues:     f.cues,
	}, Options{
		OutputRoot: f.root,
		Defaults:   Defaults{Dimensions: "720x1280", BitRate: 4000000, FrameRate: 30},
		Version:    "test",
		Now:        func() time.Time { return fixedNow },
	})
	return f
}

// pump hands the next recorder event to the controller.
func (f *fixture) pump(t *testing.T) recorder.Event {
	t.Helper()
	select {
	case ev := <-f.rec.Events():
		f.ctrl.HandleEvent(context.Background(), ev)
		return ev
	case <-time.After(time.Second):
		t.Fatal("no recorder event")
		return recorder.Event{}
	}
}

func (f *fixture) startRecording(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Toggle(context.Background()))
	f.pump(t)
	require.Equal(t, StateRecording, f.ctrl.State())
}

func kinds(notes []notify.Notification) []notify.Kind {
	out := make([]notify.Kind, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Kind)
	}
	return out
}

func TestToggleFromIdleStarts(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ctrl.Toggle(context.Background()))

	starts := f.rec.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, filepath.Join(f.root, "ScreenRecorder", "SCR_20240517_093015.mp4"), starts[0])
	assert.Equal(t, 0, f.rec.Stops())

	sess, ok := f.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, "SCR_20240517_093015.mp4", sess.FileName)
	assert.Equal(t, "fake", sess.Backend)

	f.pump(t)
	assert.Equal(t, StateRecording, f.ctrl.State())
	cur, ok := f.notes.Current()
	require.True(t, ok)
	assert.Equal(t, notify.KindRecording, cur.Kind)
}

func TestToggleWhileRecordingStops(t *testing.T) {
	f := newFixture(t, nil)
	f.startRecording(t)

	require.NoError(t, f.ctrl.Toggle(context.Background()))

	assert.Len(t, f.rec.Starts(), 1, "no concurrent start")
	assert.Equal(t, 1, f.rec.Stops())
	assert.Equal(t, StateStopping, f.ctrl.State())
	cur, _ := f.notes.Current()
	assert.Equal(t, notify.KindProcessing, cur.Kind)
}

func TestStartFailsWhenStorageUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.opts.OutputRoot = filepath.Join(f.root, "unmounted")

	err := f.ctrl.Toggle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fileutil.ErrStorageUnavailable))

	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Empty(t, f.rec.Starts())
	require.Len(t, f.notes.Posts(), 1)
	errs := f.notes.PostsOf(notify.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, ReasonStorageUnavailable, errs[0].Body)
}

func TestStartFailsWhenDirectoryCannotBeCreated(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, fileutil.FolderName), []byte("x"), 0644))

	require.Error(t, f.ctrl.Toggle(context.Background()))

	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Empty(t, f.rec.Starts())
	errs := f.notes.PostsOf(notify.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, ReasonCreateDir, errs[0].Body)
}

func TestStartRejectedByRecorder(t *testing.T) {
	f := newFixture(t, nil)
	f.rec.StartErr = recorder.ErrInvalidState

	err := f.ctrl.Toggle(context.Background())
	assert.ErrorIs(t, err, recorder.ErrInvalidState)

	assert.Equal(t, StateIdle, f.ctrl.State())
	_, active := f.ctrl.Session()
	assert.False(t, active)
	errs := f.notes.PostsOf(notify.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, ReasonUnableToStart, errs[0].Body)
}

func TestStartFailsOnInitError(t *testing.T) {
	f := newFixture(t, nil)
	f.rec.InitErr = errors.New("bad params")

	require.Error(t, f.ctrl.Toggle(context.Background()))
	assert.Empty(t, f.rec.Starts())
	assert.Len(t, f.notes.PostsOf(notify.KindError), 1)
}

func TestSuccessfulSessionNotifications(t *testing.T) {
	f := newFixture(t, nil)
	f.startRecording(t)
	sess, _ := f.ctrl.Session()
	require.NoError(t, os.WriteFile(sess.Path, []byte("video"), 0644))

	require.NoError(t, f.ctrl.Toggle(context.Background()))
	f.rec.Finish()
	f.pump(t)

	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Equal(t, []notify.Kind{notify.KindRecording, notify.KindProcessing, notify.KindFinished}, kinds(f.notes.Posts()))

	finished := f.notes.PostsOf(notify.KindFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, sess.Path, finished[0].Path)
	assert.Contains(t, finished[0].Body, sess.FileName)

	cur, _ := f.notes.Current()
	assert.Equal(t, notify.KindFinished, cur.Kind)

	last, ok := f.ctrl.LastSession()
	require.True(t, ok)
	assert.Equal(t, sess.ID, last.ID)

	meta, err := fileutil.ReadMetadata(sess.Path)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, meta.SessionID)
	assert.Equal(t, "fake", meta.RecorderBackend)
}

func TestRecordingErrorCallback(t *testing.T) {
	f := newFixture(t, nil)
	f.startRecording(t)

	f.rec.Fail("encoder crashed")
	f.pump(t)

	assert.Equal(t, StateIdle, f.ctrl.State())
	cur, _ := f.notes.Current()
	assert.Equal(t, notify.KindError, cur.Kind)
	assert.Equal(t, "encoder crashed", cur.Body)
	_, active := f.ctrl.Session()
	assert.False(t, active)
}

func TestStopErrorKeepsRecording(t *testing.T) {
	f := newFixture(t, nil)
	f.startRecording(t)
	f.rec.StopErr = errors.New("signal failed")

	require.Error(t, f.ctrl.Toggle(context.Background()))
	assert.Equal(t, StateRecording, f.ctrl.State())
	cur, _ := f.notes.Current()
	assert.Equal(t, notify.KindError, cur.Kind)
}

func TestCuesWithoutAudio(t *testing.T) {
	f := newFixture(t, nil)
	f.startRecording(t)
	require.NoError(t, f.ctrl.Toggle(context.Background()))

	assert.Equal(t, []desktop.Cue{desktop.CueStart, desktop.CueStop}, f.cues.played())
}

func TestCuesSuppressedWithAudio(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.settings.Set(settings.KeyRecordAudio, "true"))

	f.startRecording(t)
	require.NoError(t, f.ctrl.Toggle(context.Background()))

	assert.Empty(t, f.cues.played())
	assert.True(t, f.rec.Inits()[0].RecordAudio)
}

func TestParamsFromSettingsAndDefaults(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.settings.Set(settings.KeyBitRate, "8000000"))
	require.NoError(t, f.settings.Set(settings.KeyShowTouches, "true"))

	require.NoError(t, f.ctrl.Toggle(context.Background()))

	p := f.rec.Inits()[0]
	assert.Equal(t, 8000000, p.BitRate)
	assert.Equal(t, 30, p.FrameRate)
	assert.Equal(t, 720, p.Width)
	assert.Equal(t, 1280, p.Height)
	assert.True(t, p.ShowTouches)
}

func TestLandscapeDisplaySwapsDimensions(t *testing.T) {
	f := newFixture(t, display.Static{Rot: 0, Width: 1920, Height: 1080})
	require.NoError(t, f.settings.Set(settings.KeyOutputDimensions, "1080x1920"))

	require.NoError(t, f.ctrl.Toggle(context.Background()))

	p := f.rec.Inits()[0]
	assert.Equal(t, 1920, p.Width)
	assert.Equal(t, 1080, p.Height)
	assert.Equal(t, 0, p.Rotation)
}

func TestRotatedDisplayKeepsDimensions(t *testing.T) {
	f := newFixture(t, display.Static{Rot: 1, Width: 1920, Height: 1080})
	require.NoError(t, f.settings.Set(settings.KeyOutputDimensions, "1080x1920"))

	require.NoError(t, f.ctrl.Toggle(context.Background()))

	p := f.rec.Inits()[0]
	assert.Equal(t, 1080, p.Width)
	assert.Equal(t, 1920, p.Height)
	assert.Equal(t, 1, p.Rotation)
}

func TestWaitIdle(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.WaitIdle(context.Background()))

	f.startRecording(t)
	require.NoError(t, f.ctrl.Toggle(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.ctrl.WaitIdle(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- f.ctrl.WaitIdle(context.Background()) }()

	f.rec.Finish()
	f.pump(t)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not return after finish")
	}
}

func TestRefreshRecordingNotification(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.ctrl.RefreshRecordingNotification(context.Background()))
	assert.Empty(t, f.notes.Posts())

	f.startRecording(t)
	_, err := f.settings.ToggleShowTouches()
	require.NoError(t, err)

	assert.True(t, f.ctrl.RefreshRecordingNotification(context.Background()))
	cur, _ := f.notes.Current()
	assert.Equal(t, notify.KindRecording, cur.Kind)
	assert.Contains(t, cur.Actions[1].Label, "on")
	assert.Len(t, f.notes.PostsOf(notify.KindRecording), 2)
}

func TestStartedAfterStopRequestIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.Toggle(context.Background()))

	// Stop before the queued started event is consumed.
	require.NoError(t, f.ctrl.Toggle(context.Background()))
	assert.Equal(t, StateStopping, f.ctrl.State())

	f.pump(t)
	assert.Equal(t, StateStopping, f.ctrl.State())
	assert.Empty(t, f.notes.PostsOf(notify.KindRecording))
}

func TestToggleWhileStoppingIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.startRecording(t)
	require.NoError(t, f.ctrl.Toggle(context.Background()))
	require.Equal(t, StateStopping, f.ctrl.State())

	// The fake reports idle once the file is written, before the finished
	// event reaches the controller.
	f.rec.SetState(recorder.StateIdle)
	require.NoError(t, f.ctrl.Toggle(context.Background()))

	assert.Len(t, f.rec.Starts(), 1)
	assert.Len(t, f.rec.Inits(), 1)
	assert.Empty(t, f.notes.PostsOf(notify.KindError))
	cur, _ := f.notes.Current()
	assert.Equal(t, notify.KindProcessing, cur.Kind)

	f.rec.Finish()
	f.pump(t)
	assert.Equal(t, StateIdle, f.ctrl.State())
	cur, _ = f.notes.Current()
	assert.Equal(t, notify.KindFinished, cur.Kind)
}

func TestStartedRacingStopEndsStopping(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, nil)
		require.NoError(t, f.ctrl.Toggle(context.Background()))
		started := <-f.rec.Events()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.HandleEvent(context.Background(), started)
		}()
		require.NoError(t, f.ctrl.Toggle(context.Background()))
		wg.Wait()

		require.Equal(t, StateStopping, f.ctrl.State(), "iteration %d", i)
	}
}

func TestStateChangeListener(t *testing.T) {
	f := newFixture(t, nil)
	var states []State
	f.ctrl.OnStateChange(func(s State) { states = append(states, s) })

	f.startRecording(t)
	require.NoError(t, f.ctrl.Toggle(context.Background()))
	f.rec.Finish()
	f.pump(t)

	assert.Equal(t, []State{StateRecording, StateStopping, StateIdle}, states)
}

func TestRunConsumesEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.ctrl.Run(ctx)

	require.NoError(t, f.ctrl.Toggle(ctx))
	require.Eventually(t, func() bool { return f.ctrl.State() == StateRecording }, time.Second, 5*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "RECORDING", StateRecording.String())
	assert.Equal(t, "STOPPING", StateStopping.String())
}
