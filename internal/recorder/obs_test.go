package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/screenrec/internal/obsws"
	"github.com/tiroq/screenrec/testutil"
)

func newOBSRecorder(t *testing.T) (*OBSRecorder, *testutil.MockOBSServer) {
	t.Helper()
	server := testutil.NewMockOBS()
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	client := obsws.NewClient(server.URL(), "")
	client.SetReconnectEnabled(false)
	require.NoError(t, client.Connect(context.Background()))

	r := NewOBSRecorder(client)
	t.Cleanup(func() { _ = r.Close() })
	return r, server
}

func nextOBSEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for recorder event")
		return Event{}
	}
}

func TestOBSRecorderStartStop(t *testing.T) {
	r, server := newOBSRecorder(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "SCR_20240101_120000.mp4")

	require.NoError(t, r.Init(defaultParams()))
	require.NoError(t, r.Start(ctx, path))
	assert.Equal(t, StateRecording, r.State())

	ev := nextOBSEvent(t, r.Events())
	assert.Equal(t, EventStarted, ev.Kind)
	assert.Equal(t, path, ev.Path)

	w, h := server.VideoSize()
	assert.Equal(t, 720, w)
	assert.Equal(t, 1280, h)

	require.NoError(t, r.Stop(ctx))
	ev = nextOBSEvent(t, r.Events())
	assert.Equal(t, EventFinished, ev.Kind)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, StateIdle, r.State())
}

func TestOBSRecorderStartRejected(t *testing.T) {
	r, server := newOBSRecorder(t)
	server.SetFailureMode(testutil.ModeCode500)

	require.NoError(t, r.Init(defaultParams()))
	err := r.Start(context.Background(), filepath.Join(t.TempDir(), "a.mp4"))
	require.Error(t, err)
	assert.Equal(t, StateIdle, r.State())
}

func TestOBSRecorderStartBeforeInit(t *testing.T) {
	r, _ := newOBSRecorder(t)
	err := r.Start(context.Background(), "/tmp/a.mp4")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOBSRecorderStopWhenIdle(t *testing.T) {
	r, _ := newOBSRecorder(t)
	assert.ErrorIs(t, r.Stop(context.Background()), ErrNotRecording)
}

func TestOBSRecorderDisconnectWhileRecording(t *testing.T) {
	r, server := newOBSRecorder(t)
	require.NoError(t, r.Init(defaultParams()))
	require.NoError(t, r.Start(context.Background(), filepath.Join(t.TempDir(), "a.mp4")))
	assert.Equal(t, EventStarted, nextOBSEvent(t, r.Events()).Kind)

	server.DropClient()

	ev := nextOBSEvent(t, r.Events())
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "obs disconnected", ev.Reason)
	assert.Equal(t, StateIdle, r.State())
}

func TestOBSRecorderIgnoresForeignRecording(t *testing.T) {
	r, server := newOBSRecorder(t)
	server.EmitRecordState(obsws.OutputStarted, "/elsewhere/x.mkv")

	select {
	case ev := <-r.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
