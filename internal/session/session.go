package session

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat turn. Timestamp is epoch millis and may be absent.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// NewMessage stamps a message with t.
func NewMessage(role, content string, t time.Time) Message {
	ms := t.UnixMilli()
	return Message{Role: role, Content: content, Timestamp: &ms}
}

// Time returns the message timestamp, or the zero time when it has none.
func (m Message) Time() time.Time {
	if m.Timestamp == nil {
		return time.Time{}
	}
	return time.UnixMilli(*m.Timestamp)
}

// Conversation is the in-memory, append-only turn log of a session.
// Every Reset starts a new generation.
type Conversation struct {
	mu         sync.RWMutex
	messages   []Message
	generation uint64
}

// Append adds msg and returns a snapshot of the log including it, along
// with the generation it was appended to.
func (c *Conversation) Append(msg Message) ([]Message, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return c.snapshotLocked(), c.generation
}

// AppendIf adds msg only if the log is still at generation gen.
func (c *Conversation) AppendIf(gen uint64, msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.messages = append(c.messages, msg)
	return true
}

// Generation returns the current generation.
func (c *Conversation) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Snapshot returns a copy of the log in insertion order.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Reset drops every turn and advances the generation.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.generation++
}

// Session represents one process-lifetime chat session
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Backend   string    `json:"backend"`

	Conversation Conversation `json:"-"`
}

// New creates an empty session bound to backend.
func New(backend string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		Backend:   backend,
	}
}

// Fingerprint hashes the roles and contents of messages. Each field is
// length-prefixed so field boundaries are part of the digest.
func Fingerprint(messages []Message) string {
	h := sha256.New()
	for _, msg := range messages {
		fmt.Fprintf(h, "%d:%s%d:%s", len(msg.Role), msg.Role, len(msg.Content), msg.Content)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
