// Package testutil holds fakes shared by package tests.
package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockOBSServer simulates an OBS WebSocket v5 server for testing
type MockOBSServer struct {
	listener net.Listener
	server   *http.Server
	conn     *websocket.Conn
	writeMu  sync.Mutex

	mu         sync.Mutex
	mode       string
	password   string
	connected  bool
	recording  bool
	recordDir  string
	filename   string
	requests   []string
	videoWidth int
	videoHigh  int
}

// FailureModes define how the mock server behaves
const (
	ModeNormal     = "normal"
	ModeCode500    = "code500"
	ModeNoEvents   = "no_events"
	ModeDisconnect = "disconnect"
)

const (
	mockSalt      = "lM1GncleQOaCu9lT1yeUZhFYnMhsP4EXjXrPvXmeWQg="
	mockChallenge = "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY="
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewMockOBS creates a new mock OBS server
func NewMockOBS() *MockOBSServer {
	return &MockOBSServer{mode: ModeNormal, recordDir: "/tmp"}
}

// SetPassword makes the server require authentication.
func (m *MockOBSServer) SetPassword(password string) {
	m.mu.Lock()
	m.password = password
	m.mu.Unlock()
}

// Start begins listening on a dynamic port
func (m *MockOBSServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	m.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleWebSocket)
	m.server = &http.Server{Handler: mux}

	go func() {
		_ = m.server.Serve(m.listener)
	}()
	return nil
}

// Stop shuts down the server and drops the client.
func (m *MockOBSServer) Stop() error {
	m.DropClient()
	if m.server != nil {
		_ = m.server.Close()
	}
	return nil
}

// DropClient closes the current client connection.
func (m *MockOBSServer) DropClient() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.connected = false
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// URL returns the ws:// address of the server.
func (m *MockOBSServer) URL() string {
	if m.listener == nil {
		return ""
	}
	return "ws://" + m.listener.Addr().String()
}

// SetFailureMode configures how the server responds to requests
func (m *MockOBSServer) SetFailureMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// Connected returns whether a client is currently connected
func (m *MockOBSServer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Recording reports whether the simulated record output is active.
func (m *MockOBSServer) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// Requests returns the request types received so far.
func (m *MockOBSServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// VideoSize returns the last SetVideoSettings output size.
func (m *MockOBSServer) VideoSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoWidth, m.videoHigh
}

// RecordPath is where the simulated output is written.
func (m *MockOBSServer) RecordPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filepath.Join(m.recordDir, m.filename+".mp4")
}

// EmitRecordState pushes a RecordStateChanged event to the client.
func (m *MockOBSServer) EmitRecordState(state, path string) {
	m.write(map[string]interface{}{
		"op": 5,
		"d": map[string]interface{}{
			"eventType": "RecordStateChanged",
			"eventData": map[string]interface{}{
				"outputActive": state == "OBS_WEBSOCKET_OUTPUT_STARTED",
				"outputState":  state,
				"outputPath":   path,
			},
		},
	})
}

func (m *MockOBSServer) write(v interface{}) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.WriteJSON(v)
}

func (m *MockOBSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	m.mu.Lock()
	password := m.password
	m.mu.Unlock()

	hello := map[string]interface{}{"obsWebSocketVersion": "5.5.2", "rpcVersion": 1}
	if password != "" {
		hello["authentication"] = map[string]interface{}{"challenge": mockChallenge, "salt": mockSalt}
	}
	if err := conn.WriteJSON(map[string]interface{}{"op": 0, "d": hello}); err != nil {
		return
	}

	var identify struct {
		Op int `json:"op"`
		D  struct {
			Authentication string `json:"authentication"`
		} `json:"d"`
	}
	if err := conn.ReadJSON(&identify); err != nil || identify.Op != 1 {
		return
	}
	if password != "" && identify.D.Authentication != expectedAuth(password) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(4009, "Authentication failed."))
		return
	}
	if err := conn.WriteJSON(map[string]interface{}{"op": 2, "d": map[string]interface{}{"negotiatedRpcVersion": 1}}); err != nil {
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
			m.connected = false
		}
		m.mu.Unlock()
	}()

	for {
		var msg struct {
			Op int `json:"op"`
			D  struct {
				RequestType string                 `json:"requestType"`
				RequestID   string                 `json:"requestId"`
				RequestData map[string]interface{} `json:"requestData"`
			} `json:"d"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != 6 {
			continue
		}
		m.handleRequest(msg.D.RequestType, msg.D.RequestID, msg.D.RequestData)
	}
}

func (m *MockOBSServer) handleRequest(requestType, requestID string, data map[string]interface{}) {
	m.mu.Lock()
	m.requests = append(m.requests, requestType)
	mode := m.mode
	m.mu.Unlock()

	if mode == ModeDisconnect {
		m.DropClient()
		return
	}
	if mode == ModeCode500 {
		m.respond(requestType, requestID, false, 500, "Output is not running", nil)
		return
	}

	var responseData map[string]interface{}
	var events []string

	m.mu.Lock()
	switch requestType {
	case "GetVersion":
		responseData = map[string]interface{}{"obsVersion": "30.2.0", "obsWebSocketVersion": "5.5.2"}
	case "GetRecordStatus":
		responseData = map[string]interface{}{"outputActive": m.recording, "outputPaused": false, "outputTimecode": "00:00:00.000"}
	case "SetRecordDirectory":
		m.recordDir, _ = data["recordDirectory"].(string)
	case "SetProfileParameter":
		if data["parameterName"] == "FilenameFormatting" {
			m.filename, _ = data["parameterValue"].(string)
		}
	case "SetVideoSettings":
		if v, ok := data["outputWidth"].(float64); ok {
			m.videoWidth = int(v)
		}
		if v, ok := data["outputHeight"].(float64); ok {
			m.videoHigh = int(v)
		}
	case "StartRecord":
		if m.recording {
			m.mu.Unlock()
			m.respond(requestType, requestID, false, 500, "Output already active", nil)
			return
		}
		m.recording = true
		events = []string{"OBS_WEBSOCKET_OUTPUT_STARTING", "OBS_WEBSOCKET_OUTPUT_STARTED"}
	case "StopRecord":
		if !m.recording {
			m.mu.Unlock()
			m.respond(requestType, requestID, false, 501, "Output not active", nil)
			return
		}
		m.recording = false
		responseData = map[string]interface{}{"outputPath": filepath.Join(m.recordDir, m.filename+".mp4")}
		events = []string{"OBS_WEBSOCKET_OUTPUT_STOPPING", "OBS_WEBSOCKET_OUTPUT_STOPPED"}
	}
	path := filepath.Join(m.recordDir, m.filename+".mp4")
	m.mu.Unlock()

	m.respond(requestType, requestID, true, 100, "", responseData)

	if mode == ModeNoEvents {
		return
	}
	for _, state := range events {
		time.Sleep(10 * time.Millisecond)
		m.EmitRecordState(state, path)
	}
}

func (m *MockOBSServer) respond(requestType, requestID string, ok bool, code int, comment string, data map[string]interface{}) {
	d := map[string]interface{}{
		"requestType": requestType,
		"requestId":   requestID,
		"requestStatus": map[string]interface{}{
			"result":  ok,
			"code":    code,
			"comment": comment,
		},
	}
	if data != nil {
		d["responseData"] = data
	}
	m.write(map[string]interface{}{"op": 7, "d": d})
}

func expectedAuth(password string) string {
	secret := sha256.Sum256([]byte(password + mockSalt))
	auth := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(secret[:]) + mockChallenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
