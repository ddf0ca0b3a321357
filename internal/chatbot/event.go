package chatbot

import "NexusChat/internal/session"

// EventType names a controller state change.
type EventType string

const (
	EventUserTurn      EventType = "user_turn"
	EventAssistantTurn EventType = "assistant_turn"
	EventError         EventType = "error"
	EventLoading       EventType = "loading"
	EventReset         EventType = "reset"
)

// Event is pushed to UIs as the conversation changes.
type Event struct {
	Type    EventType        `json:"type"`
	Message *session.Message `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
	Loading bool             `json:"loading"`
}
