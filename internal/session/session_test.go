package session_test

import (
	"testing"
	"time"

	"NexusChat/internal/session"

	"github.com/stretchr/testify/require"
)

func TestConversation_AppendReturnsSnapshotIncludingMessage(t *testing.T) {
	var c session.Conversation
	first, _ := c.Append(session.Message{Role: session.RoleUser, Content: "hi"})
	require.Len(t, first, 1)

	second, _ := c.Append(session.Message{Role: session.RoleAssistant, Content: "hello"})
	require.Len(t, second, 2)
	require.Equal(t, "hi", second[0].Content)
	require.Equal(t, "hello", second[1].Content)

	// earlier snapshots are not affected by later appends
	require.Len(t, first, 1)
}

func TestConversation_SnapshotIsACopy(t *testing.T) {
	var c session.Conversation
	c.Append(session.Message{Role: session.RoleUser, Content: "hi"})

	snap := c.Snapshot()
	snap[0].Content = "mutated"

	require.Equal(t, "hi", c.Snapshot()[0].Content)
}

func TestConversation_Reset(t *testing.T) {
	var c session.Conversation
	_, gen := c.Append(session.Message{Role: session.RoleUser, Content: "hi"})
	c.Reset()
	require.Zero(t, c.Len())
	require.Empty(t, c.Snapshot())
	require.Equal(t, gen+1, c.Generation())
}

func TestConversation_AppendIfRejectsStaleGeneration(t *testing.T) {
	var c session.Conversation
	_, gen := c.Append(session.Message{Role: session.RoleUser, Content: "question"})

	require.True(t, c.AppendIf(gen, session.Message{Role: session.RoleAssistant, Content: "answer"}))
	require.Equal(t, 2, c.Len())

	c.Reset()
	require.False(t, c.AppendIf(gen, session.Message{Role: session.RoleAssistant, Content: "late answer"}))
	require.Empty(t, c.Snapshot())
}

func TestNewMessage_Timestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	m := session.NewMessage(session.RoleAssistant, "x", now)
	require.NotNil(t, m.Timestamp)
	require.Equal(t, int64(1_700_000_000_123), *m.Timestamp)
	require.True(t, m.Time().Equal(now))

	require.True(t, session.Message{}.Time().IsZero())
}

func TestFingerprint(t *testing.T) {
	a := []session.Message{{Role: "user", Content: "hi"}}
	b := []session.Message{{Role: "user", Content: "hi"}}
	c := []session.Message{{Role: "user", Content: "ho"}}

	require.Equal(t, session.Fingerprint(a), session.Fingerprint(b))
	require.NotEqual(t, session.Fingerprint(a), session.Fingerprint(c))

	// field boundaries matter
	merged := []session.Message{{Role: "user", Content: "assistanthi"}}
	split := []session.Message{{Role: "user", Content: ""}, {Role: "assistant", Content: "hi"}}
	require.NotEqual(t, session.Fingerprint(merged), session.Fingerprint(split))
	require.Len(t, session.Fingerprint(nil), 64)
}

func TestNew_AssignsID(t *testing.T) {
	s := session.New("openai")
	require.NotEmpty(t, s.ID)
	require.Equal(t, "openai", s.Backend)
	require.NotEqual(t, s.ID, session.New("openai").ID)
}
