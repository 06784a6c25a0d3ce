package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ThreadInfo is the backend's confirmation that a message can anchor a
// thread: the thread identifier plus the thread-scoped session the
// backend carved out for it.
type ThreadInfo struct {
	ThreadID        string `json:"thread_id"`
	ThreadSessionID string `json:"thread_session_id"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`

	// Streaming marks content as still growing. Cleared exactly once
	// when the turn completes, errors or is cancelled.
	Streaming bool `json:"streaming"`

	// Error marks an assistant message that carries an inline error
	// annotation instead of (or after) model output.
	Error bool `json:"error,omitempty"`

	// Thread membership. A thread message always has both ThreadID and
	// ParentMessageID set and is excluded from the top-level view.
	ThreadID        string `json:"thread_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	IsThreadMessage bool   `json:"is_thread_message,omitempty"`

	// ThreadInfo is set once the backend declares this message supports
	// branching into a thread.
	ThreadInfo        *ThreadInfo `json:"thread_info,omitempty"`
	SupportsThreading bool        `json:"supports_threading,omitempty"`

	// ServerMessageID is the backend's durable identifier, when one was
	// assigned. Thread creation prefers it over the local ID.
	ServerMessageID string `json:"server_message_id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SessionID    string    `json:"session_id"`
	Messages     []Message `json:"messages"`
	AudioEnabled bool      `json:"audio_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PlaybackItem is one unit of synthesized speech for the audio queue.
type PlaybackItem struct {
	Data   []byte
	Format string
}

func NewID() string {
	return uuid.New().String()
}
