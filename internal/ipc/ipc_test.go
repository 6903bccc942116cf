package ipc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadCommandsInOrder(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1700000000, 0)

	for i, a := range []Action{ActionToggle, ActionToggle, ActionDelete} {
		_, err := WriteCommand(dir, Command{
			Action:   a,
			Path:     "/v/a.mp4",
			IssuedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	cmds, err := ReadCommands(dir)
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, ActionToggle, cmds[0].Action)
	assert.Equal(t, ActionToggle, cmds[1].Action)
	assert.Equal(t, ActionDelete, cmds[2].Action)
	assert.NotEmpty(t, cmds[0].ID)
	assert.NotEqual(t, cmds[0].ID, cmds[1].ID)

	// Drained.
	cmds, err = ReadCommands(dir)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestWriteCommandRejectsUnknownAction(t *testing.T) {
	_, err := WriteCommand(t.TempDir(), Command{Action: "reboot"})
	assert.Error(t, err)
}

func TestReadCommandsSkipsGarbage(t *testing.T) {
	dir := t.TempDir()
	spool := CommandsDir(dir)
	require.NoError(t, os.MkdirAll(spool, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(spool, "1-bad.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(spool, "2-unknown.json"), []byte(`{"action":"reboot"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(spool, ".ipc-123.tmp"), []byte(`{"action":"toggle"}`), 0644))

	cmds, err := ReadCommands(dir)
	require.NoError(t, err)
	assert.Empty(t, cmds)
	assert.NoFileExists(t, filepath.Join(spool, "1-bad.json"))
	assert.FileExists(t, filepath.Join(spool, ".ipc-123.tmp"))
}

func TestReadCommandsMissingDir(t *testing.T) {
	cmds, err := ReadCommands(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, cmds)
}

func TestStatusRoundTripAndWait(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = WriteStatus(dir, &StatusSnapshot{State: "RECORDING", LastCommandID: "other"})
		time.Sleep(50 * time.Millisecond)
		_ = WriteStatus(dir, &StatusSnapshot{State: "RECORDING", LastCommandID: "abc"})
	}()

	status, err := WaitForCommand(ctx, dir, "abc", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "RECORDING", status.State)
}

func TestWaitForCommandTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := WaitForCommand(ctx, t.TempDir(), "abc", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatcherDeliversCommands(t *testing.T) {
	dir := t.TempDir()

	// Spooled before the watcher starts.
	_, err := WriteCommand(dir, Command{Action: ActionShowTouches})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []Action
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w := &Watcher{Dir: dir, PollInterval: 50 * time.Millisecond}
		_ = w.Run(ctx, func(c Command) {
			mu.Lock()
			got = append(got, c.Action)
			mu.Unlock()
		})
	}()

	time.Sleep(50 * time.Millisecond)
	_, err = WriteCommand(dir, Command{Action: ActionToggle})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Action{ActionShowTouches, ActionToggle}, got)
}
