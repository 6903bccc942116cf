// Package obsws is a minimal obs-websocket v5 client covering the record
// output: identify, record requests, and RecordStateChanged events.
package obsws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/gorilla/websocket"

	"github.com/tiroq/screenrec/internal/diaglog"
)

// OpCodes for WebSocket protocol
const (
	OpHello           = 0
	OpIdentify        = 1
	OpIdentified      = 2
	OpEvent           = 5
	OpRequest         = 6
	OpRequestResponse = 7
)

// EventSubscriptionOutputs subscribes to output events (RecordStateChanged).
const EventSubscriptionOutputs = 1 << 6

// Record output states reported by RecordStateChanged.
const (
	OutputStarting = "OBS_WEBSOCKET_OUTPUT_STARTING"
	OutputStarted  = "OBS_WEBSOCKET_OUTPUT_STARTED"
	OutputStopping = "OBS_WEBSOCKET_OUTPUT_STOPPING"
	OutputStopped  = "OBS_WEBSOCKET_OUTPUT_STOPPED"
)

// ErrNotConnected is returned by requests issued without an identified session.
var ErrNotConnected = errors.New("obsws: not connected")

// Message is the envelope of every frame.
type Message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type HelloData struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type IdentifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type Request struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

type Response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

type Event struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// RecordStateEvent is the payload of RecordStateChanged.
type RecordStateEvent struct {
	Active bool   `json:"outputActive"`
	State  string `json:"outputState"`
	Path   string `json:"outputPath"`
}

// RequestError is a request rejected by OBS.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %s (request: %s, code: %d)", e.Comment, e.RequestType, e.Code)
}

// Client represents an OBS WebSocket v5 client
type Client struct {
	url      string
	password string

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	requestID  atomic.Int64
	responses  map[string]chan *Response
	responseMu sync.Mutex

	handlersMu           sync.RWMutex
	onRecordStateChanged func(RecordStateEvent)
	onDisconnected       func()

	logger   *diaglog.Logger
	loggerMu sync.RWMutex

	reconnect      atomic.Bool
	reconnectDelay time.Duration
	requestTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a disconnected client.
func NewClient(url, password string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:            url,
		password:       password,
		responses:      make(map[string]chan *Response),
		reconnectDelay: 2 * time.Second,
		requestTimeout: 10 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
	c.reconnect.Store(true)
	return c
}

// Connect dials OBS and completes the Hello/Identify handshake.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log(diaglog.LogEntry{Event: diaglog.EventWSConnect, Payload: map[string]interface{}{"url": c.url}})

	go c.readMessages(conn)
	return nil
}

// ConnectWithRetry retries Connect with exponential backoff.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	return retry.New(
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		return c.Connect(ctx)
	})
}

func (c *Client) handshake(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("timeout waiting for Hello message: %w", err)
	}
	if msg.Op != OpHello {
		return fmt.Errorf("unexpected op %d, want Hello", msg.Op)
	}
	var hello HelloData
	if err := json.Unmarshal(msg.D, &hello); err != nil {
		return fmt.Errorf("invalid Hello: %w", err)
	}

	identify := IdentifyData{
		RPCVersion:         1,
		EventSubscriptions: EventSubscriptionOutputs,
	}
	if hello.Authentication != nil {
		if c.password == "" {
			return fmt.Errorf("OBS requires a password")
		}
		identify.Authentication = authResponse(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	out := Message{Op: OpIdentify}
	out.D, _ = json.Marshal(identify)
	if err := conn.WriteJSON(out); err != nil {
		return err
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("timeout waiting for Identified message: %w", err)
	}
	if msg.Op != OpIdentified {
		return fmt.Errorf("unexpected op %d, want Identified", msg.Op)
	}
	return nil
}

// authResponse computes base64(sha256(base64(sha256(password+salt))+challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

// readMessages dispatches frames until the connection drops.
func (c *Client) readMessages(conn *websocket.Conn) {
	defer func() {
		c.dropConn(conn)
		c.handlersMu.RLock()
		onDisconnected := c.onDisconnected
		c.handlersMu.RUnlock()
		if onDisconnected != nil {
			onDisconnected()
		}
		if c.reconnect.Load() && c.ctx.Err() == nil {
			go c.reconnectLoop()
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		var raw interface{}
		if json.Unmarshal(msg.D, &raw) == nil {
			c.log(diaglog.LogEntry{Event: diaglog.EventWSRecv, Payload: raw})
		}

		switch msg.Op {
		case OpEvent:
			var event Event
			if err := json.Unmarshal(msg.D, &event); err == nil {
				c.handleEvent(&event)
			}
		case OpRequestResponse:
			var resp Response
			if err := json.Unmarshal(msg.D, &resp); err == nil {
				c.handleResponse(&resp)
			}
		}
	}
}

func (c *Client) handleEvent(event *Event) {
	if event.EventType != "RecordStateChanged" {
		return
	}
	var data RecordStateEvent
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	c.handlersMu.RLock()
	fn := c.onRecordStateChanged
	c.handlersMu.RUnlock()
	if fn != nil {
		fn(data)
	}
}

func (c *Client) handleResponse(resp *Response) {
	c.responseMu.Lock()
	ch, ok := c.responses[resp.RequestID]
	c.responseMu.Unlock()
	if ok {
		ch <- resp
	}
}

// sendRequest sends a request and waits for the matching response.
func (c *Client) sendRequest(ctx context.Context, requestType string, requestData interface{}) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	id := strconv.FormatInt(c.requestID.Add(1), 10)
	msg := Message{Op: OpRequest}
	msg.D, _ = json.Marshal(Request{RequestType: requestType, RequestID: id, RequestData: requestData})

	respChan := make(chan *Response, 1)
	c.responseMu.Lock()
	c.responses[id] = respChan
	c.responseMu.Unlock()
	defer func() {
		c.responseMu.Lock()
		delete(c.responses, id)
		c.responseMu.Unlock()
	}()

	c.log(diaglog.LogEntry{
		Event:   diaglog.EventWSSend,
		Payload: map[string]interface{}{"request_type": requestType, "request_id": id},
	})

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		if !resp.RequestStatus.Result {
			return nil, &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.requestTimeout):
		return nil, fmt.Errorf("request timeout after %s (request: %s)", c.requestTimeout, requestType)
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	c.log(diaglog.LogEntry{Event: diaglog.EventWSDisconnect, Payload: map[string]interface{}{"url": c.url}})
}

// reconnectLoop reconnects with backoff. It never touches the record output.
func (c *Client) reconnectLoop() {
	_ = retry.New(
		retry.Attempts(20),
		retry.Delay(c.reconnectDelay),
		retry.MaxDelay(60*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(c.ctx),
	).Do(func() error {
		c.log(diaglog.LogEntry{Event: diaglog.EventWSReconnectAttempt})
		if c.IsConnected() {
			return nil
		}
		return c.Connect(c.ctx)
	})
}

// Disconnect closes the connection and stops reconnection.
func (c *Client) Disconnect() {
	c.reconnect.Store(false)
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// SetReconnectEnabled enables/disables automatic reconnection
func (c *Client) SetReconnectEnabled(enabled bool) {
	c.reconnect.Store(enabled)
}

// SetLogger injects a diaglog.Logger.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if entry.Component == "" {
		entry.Component = diaglog.ComponentOBSClient
	}
	l.Log(entry)
}

// OnRecordStateChanged registers callback for record output state changes
func (c *Client) OnRecordStateChanged(handler func(RecordStateEvent)) {
	c.handlersMu.Lock()
	c.onRecordStateChanged = handler
	c.handlersMu.Unlock()
}

// OnDisconnected registers callback for disconnection events
func (c *Client) OnDisconnected(handler func()) {
	c.handlersMu.Lock()
	c.onDisconnected = handler
	c.handlersMu.Unlock()
}

// IsConnected returns current connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}
