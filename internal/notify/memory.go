package notify

import (
	"context"
	"sync"
)

// Memory keeps the slot in memory. Tests use it to inspect what would be
// shown and to simulate button presses.
type Memory struct {
	mu      sync.Mutex
	current *Notification
	posts   []Notification
	cancels int
	postErr error
	actions chan ActionEvent
	closed  bool
}

// NewMemory creates an empty in-memory notifier.
func NewMemory() *Memory {
	return &Memory{actions: make(chan ActionEvent, 16)}
}

func (m *Memory) Post(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return m.postErr
	}
	m.current = &n
	m.posts = append(m.posts, n)
	return nil
}

func (m *Memory) Cancel(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.cancels++
	return nil
}

func (m *Memory) Actions() <-chan ActionEvent { return m.actions }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FailPosts makes subsequent Post calls return err.
func (m *Memory) FailPosts(err error) {
	m.mu.Lock()
	m.postErr = err
	m.mu.Unlock()
}

// Current returns what the slot shows now.
func (m *Memory) Current() (Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Notification{}, false
	}
	return *m.current, true
}

// Posts returns every notification posted so far.
func (m *Memory) Posts() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.posts...)
}

// PostsOf returns the posted notifications of kind k.
func (m *Memory) PostsOf(k Kind) []Notification {
	var out []Notification
	for _, n := range m.Posts() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// Cancels counts Cancel calls.
func (m *Memory) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// Press simulates the user pressing a button on the current notification.
// It reports false when the slot is empty or has no such button.
func (m *Memory) Press(key string) bool {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil {
		return false
	}
	ev, ok := resolveAction(*cur, key)
	if !ok {
		return false
	}
	m.actions <- ev
	return true
}
