package obsws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/screenrec/testutil"
)

func startServer(t *testing.T) *testutil.MockOBSServer {
	t.Helper()
	server := testutil.NewMockOBS()
	if err := server.Start(); err != nil {
		t.Fatalf("start mock server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func connect(t *testing.T, server *testutil.MockOBSServer, password string) *Client {
	t.Helper()
	client := NewClient(server.URL(), password)
	client.SetReconnectEnabled(false)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(client.Disconnect)
	return client
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewClient(t *testing.T) {
	client := NewClient("ws://localhost:4455", "")
	if client.IsConnected() {
		t.Error("new client should not be connected")
	}
}

func TestConnect_Success(t *testing.T) {
	server := startServer(t)
	client := connect(t, server, "")

	if !client.IsConnected() {
		t.Error("client should be connected")
	}
	waitFor(t, server.Connected, time.Second)
}

func TestConnect_InvalidURL(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", "")
	client.SetReconnectEnabled(false)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestConnect_Authentication(t *testing.T) {
	server := startServer(t)
	server.SetPassword("hunter2")

	client := connect(t, server, "hunter2")
	if !client.IsConnected() {
		t.Fatal("authenticated client should be connected")
	}
}

func TestConnect_WrongPassword(t *testing.T) {
	server := startServer(t)
	server.SetPassword("hunter2")

	client := NewClient(server.URL(), "wrong")
	client.SetReconnectEnabled(false)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestConnect_PasswordRequired(t *testing.T) {
	server := startServer(t)
	server.SetPassword("hunter2")

	client := NewClient(server.URL(), "")
	client.SetReconnectEnabled(false)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected error when OBS requires a password")
	}
}

func TestGetVersion(t *testing.T) {
	client := connect(t, startServer(t), "")

	obsVersion, wsVersion, err := client.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if obsVersion != "30.2.0" || wsVersion != "5.5.2" {
		t.Errorf("GetVersion() = %q, %q", obsVersion, wsVersion)
	}
}

func TestStartStopRecord(t *testing.T) {
	server := startServer(t)
	client := connect(t, server, "")
	ctx := context.Background()

	var mu sync.Mutex
	var states []string
	client.OnRecordStateChanged(func(ev RecordStateEvent) {
		mu.Lock()
		states = append(states, ev.State)
		mu.Unlock()
	})

	if err := client.SetRecordDirectory(ctx, "/videos"); err != nil {
		t.Fatalf("SetRecordDirectory() error = %v", err)
	}
	if err := client.SetFilenameFormatting(ctx, "SCR_20240101_120000"); err != nil {
		t.Fatalf("SetFilenameFormatting() error = %v", err)
	}
	if err := client.StartRecord(ctx); err != nil {
		t.Fatalf("StartRecord() error = %v", err)
	}

	status, err := client.GetRecordStatus(ctx)
	if err != nil {
		t.Fatalf("GetRecordStatus() error = %v", err)
	}
	if !status.OutputActive {
		t.Error("expected output to be active after StartRecord")
	}

	path, err := client.StopRecord(ctx)
	if err != nil {
		t.Fatalf("StopRecord() error = %v", err)
	}
	if path != "/videos/SCR_20240101_120000.mp4" {
		t.Errorf("StopRecord() path = %q", path)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if states[1] != OutputStarted || states[3] != OutputStopped {
		t.Errorf("unexpected state sequence %v", states)
	}
}

func TestSetVideoSettings(t *testing.T) {
	server := startServer(t)
	client := connect(t, server, "")

	if err := client.SetVideoSettings(context.Background(), 720, 1280, 30); err != nil {
		t.Fatalf("SetVideoSettings() error = %v", err)
	}
	w, h := server.VideoSize()
	if w != 720 || h != 1280 {
		t.Errorf("video size = %dx%d, want 720x1280", w, h)
	}
}

func TestRequestError(t *testing.T) {
	server := startServer(t)
	client := connect(t, server, "")
	server.SetFailureMode(testutil.ModeCode500)

	err := client.StartRecord(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Code != 500 {
		t.Errorf("code = %d, want 500", reqErr.Code)
	}
}

func TestRequestNotConnected(t *testing.T) {
	client := NewClient("ws://localhost:4455", "")
	if err := client.StartRecord(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRequestContextCanceled(t *testing.T) {
	server := startServer(t)
	client := connect(t, server, "")
	server.SetFailureMode(testutil.ModeNoEvents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.GetRecordStatus(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestOnDisconnected(t *testing.T) {
	server := startServer(t)
	client := connect(t, server, "")

	disconnected := make(chan struct{}, 1)
	client.OnDisconnected(func() { disconnected <- struct{}{} })

	server.DropClient()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnected was not called")
	}
	if client.IsConnected() {
		t.Error("client should report disconnected")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	server := startServer(t)
	client := NewClient(server.URL(), "")
	client.reconnectDelay = 20 * time.Millisecond
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	disconnected := make(chan struct{}, 1)
	client.OnDisconnected(func() {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})

	server.DropClient()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("drop was not observed")
	}
	waitFor(t, client.IsConnected, 3*time.Second)
}

func TestAuthResponse(t *testing.T) {
	// Deterministic for fixed inputs.
	a := authResponse("pw", "salt", "challenge")
	b := authResponse("pw", "salt", "challenge")
	if a != b || a == "" {
		t.Errorf("authResponse not deterministic: %q vs %q", a, b)
	}
	if authResponse("other", "salt", "challenge") == a {
		t.Error("different passwords should produce different responses")
	}
}
