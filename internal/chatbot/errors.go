package chatbot

import "errors"

const (
	// QuotaExceededMessage is shown when every attempt was rate limited.
	QuotaExceededMessage = "Request exceeded the quota. Please try again later."
	// FallbackErrorMessage is shown when a failure carries no message of its own.
	FallbackErrorMessage = "Error connecting to the server. Please try again."
)

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrConversationReset means the conversation was reset while the reply
	// was pending. The reply is discarded.
	ErrConversationReset = errors.New("conversation was reset before the reply arrived")
)

// ErrorKind classifies a terminal turn failure.
type ErrorKind int

const (
	KindRequestFailed ErrorKind = iota
	KindQuotaExceeded
	KindConversationReset
)

func (k ErrorKind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindConversationReset:
		return "conversation_reset"
	default:
		return "request_failed"
	}
}

// TurnError is returned by Submit when a turn ends without a reply. Its
// message is meant for the user.
type TurnError struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *TurnError) Error() string {
	if e.Kind == KindQuotaExceeded {
		return QuotaExceededMessage
	}
	if e.Err == nil || e.Err.Error() == "" {
		return FallbackErrorMessage
	}
	return e.Err.Error()
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
