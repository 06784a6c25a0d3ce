package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"orbit-chat/internal/model"
	"orbit-chat/internal/storage"
	"orbit-chat/internal/stream"
	"orbit-chat/pkg/logger"
)

const defaultTitlePrefix = "New chat"

// Store is the single writer of conversation state. Every mutation is
// serialized behind one mutex; streamed text reaches it only through
// the store-owned coalescer, so a burst of deltas costs few writes.
type Store struct {
	storage   storage.Storage
	coalescer *stream.Coalescer

	// mu serializes all writers. Lock order: the coalescer calls into
	// the store while holding its own lock, so the store must never
	// call the coalescer while holding mu.
	mu       sync.Mutex
	onUpdate func(conversationID string)
}

func NewStore(st storage.Storage, flushInterval time.Duration) *Store {
	s := &Store{
		storage: st,
	}
	s.coalescer = stream.NewCoalescer(flushInterval, func(convID, text string) {
		if err := s.ApplyTextDelta(convID, text); err != nil {
			logger.Warnf("store: dropping coalesced text for %s: %v", convID, err)
		}
	})
	return s
}

// OnUpdate registers a callback fired after every conversation
// mutation, outside the store lock. Used by the TUI to repaint.
func (s *Store) OnUpdate(fn func(conversationID string)) {
	s.onUpdate = fn
}

func (s *Store) notify(conversationID string) {
	if s.onUpdate != nil {
		s.onUpdate(conversationID)
	}
}

func (s *Store) CreateConversation(title string, audioEnabled bool) (*model.Conversation, error) {
	if title == "" {
		title = defaultTitlePrefix + " " + time.Now().Format("2006-01-02 15:04")
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:           model.NewID(),
		Title:        title,
		SessionID:    model.NewID(),
		Messages:     make([]model.Message, 0),
		AudioEnabled: audioEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.notify(conv.ID)
	return conv, nil
}

func (s *Store) GetConversation(conversationID string) (*model.Conversation, error) {
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) ListConversations() ([]*model.Conversation, error) {
	return s.storage.ListConversations()
}

// DeleteConversation drops the conversation and its buffered coalescer
// state. The caller (coordinator) is responsible for telling the
// backend to forget the session.
func (s *Store) DeleteConversation(conversationID string) error {
	// Outside the store lock: the coalescer apply path locks the store.
	s.coalescer.Remove(conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.DeleteConversation(conversationID)
}

// TurnMessages identifies the two messages StartTurn appended.
type TurnMessages struct {
	UserMessageID      string
	AssistantMessageID string
}

// StartTurn atomically appends the user message and an empty streaming
// assistant message. Any leftover streaming assistant message from an
// aborted turn is superseded first: empty leftovers are removed so
// retries never accumulate blank bubbles, non-empty ones are finalized.
func (s *Store) StartTurn(conversationID, userText string, threadID, parentMessageID string) (TurnMessages, error) {
	s.mu.Lock()

	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		s.mu.Unlock()
		return TurnMessages{}, err
	}

	kept := conv.Messages[:0]
	for _, msg := range conv.Messages {
		if msg.Streaming {
			if strings.TrimSpace(msg.Content) == "" {
				continue // blank leftover from an aborted turn
			}
			msg.Streaming = false
		}
		kept = append(kept, msg)
	}
	conv.Messages = kept

	now := time.Now()
	isThread := threadID != ""
	userMsg := model.Message{
		ID:              model.NewID(),
		ConversationID:  conversationID,
		Role:            model.RoleUser,
		Content:         userText,
		ThreadID:        threadID,
		ParentMessageID: parentMessageID,
		IsThreadMessage: isThread,
		Timestamp:       now,
	}
	assistantMsg := model.Message{
		ID:              model.NewID(),
		ConversationID:  conversationID,
		Role:            model.RoleAssistant,
		Streaming:       true,
		ThreadID:        threadID,
		ParentMessageID: parentMessageID,
		IsThreadMessage: isThread,
		Timestamp:       now,
	}
	conv.Messages = append(conv.Messages, userMsg, assistantMsg)

	// First top-level user message names the conversation.
	if !isThread && strings.HasPrefix(conv.Title, defaultTitlePrefix) && countUserMessages(conv) == 1 {
		conv.Title = truncateRunes(userText, 30)
	}
	conv.UpdatedAt = now

	if err := s.storage.UpdateConversation(conv); err != nil {
		s.mu.Unlock()
		return TurnMessages{}, fmt.Errorf("failed to start turn: %w", err)
	}
	s.mu.Unlock()

	s.notify(conversationID)
	return TurnMessages{UserMessageID: userMsg.ID, AssistantMessageID: assistantMsg.ID}, nil
}

// QueueDelta hands reconciled text to the coalescer, which applies it
// to the streaming message at a bounded rate.
func (s *Store) QueueDelta(conversationID, text string) {
	s.coalescer.Append(conversationID, text)
}

// FlushPending force-applies anything the coalescer still buffers.
// Called on turn completion and on cancellation.
func (s *Store) FlushPending(conversationID string) {
	s.coalescer.Flush(conversationID)
}

// ApplyTextDelta appends text to the streaming assistant message in one
// mutation. Normally reached through the coalescer; exposed for the
// fallback path.
func (s *Store) ApplyTextDelta(conversationID, text string) error {
	s.mu.Lock()
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	msg := streamingMessage(conv)
	if msg == nil {
		s.mu.Unlock()
		return storage.ErrMessageNotFound
	}
	msg.Content += text
	conv.UpdatedAt = time.Now()

	if err := s.storage.UpdateConversation(conv); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(conversationID)
	return nil
}

// MarkThreadSupported records the backend's declaration that a message
// can anchor a thread, along with its durable server-side identifier.
func (s *Store) MarkThreadSupported(conversationID, messageID, serverMessageID string) error {
	return s.mutateMessage(conversationID, messageID, func(msg *model.Message) {
		msg.SupportsThreading = true
		if serverMessageID != "" {
			msg.ServerMessageID = serverMessageID
		}
	})
}

// SetThreadInfo stores the identifiers of a created thread on its
// anchor message.
func (s *Store) SetThreadInfo(conversationID, messageID string, info model.ThreadInfo) error {
	return s.mutateMessage(conversationID, messageID, func(msg *model.Message) {
		clone := info
		msg.ThreadInfo = &clone
		msg.SupportsThreading = true
	})
}

// RecordError appends an inline error annotation to the streaming
// assistant message instead of failing the whole conversation.
func (s *Store) RecordError(conversationID, errText string) error {
	s.mu.Lock()
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	msg := streamingMessage(conv)
	if msg == nil {
		s.mu.Unlock()
		return storage.ErrMessageNotFound
	}
	if msg.Content != "" {
		msg.Content += "\n\n"
	}
	msg.Content += "Error: " + errText
	msg.Error = true
	conv.UpdatedAt = time.Now()

	if err := s.storage.UpdateConversation(conv); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(conversationID)
	return nil
}

// FinalizeTurn clears the streaming flag exactly once and drops an
// assistant message that ended up empty (pure-audio turns). Callers
// must flush the coalescer first.
func (s *Store) FinalizeTurn(conversationID string) error {
	s.mu.Lock()
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	changed := false
	kept := conv.Messages[:0]
	for _, msg := range conv.Messages {
		if msg.Streaming {
			msg.Streaming = false
			changed = true
			if strings.TrimSpace(msg.Content) == "" && !msg.Error {
				continue
			}
		}
		kept = append(kept, msg)
	}
	conv.Messages = kept

	if !changed {
		s.mu.Unlock()
		return nil
	}
	conv.UpdatedAt = time.Now()
	if err := s.storage.UpdateConversation(conv); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(conversationID)
	return nil
}

// TopLevelMessages returns the conversation's messages excluding thread
// members, which display grouped under their parent instead.
func (s *Store) TopLevelMessages(conversationID string) ([]model.Message, error) {
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	out := make([]model.Message, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.IsThreadMessage {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// ThreadMessages returns the messages of the thread rooted at the given
// parent message, in conversation order.
func (s *Store) ThreadMessages(conversationID, parentMessageID string) ([]model.Message, error) {
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	var out []model.Message
	for _, msg := range conv.Messages {
		if msg.IsThreadMessage && msg.ParentMessageID == parentMessageID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *Store) mutateMessage(conversationID, messageID string, fn func(*model.Message)) error {
	s.mu.Lock()
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	found := false
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			fn(&conv.Messages[i])
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return storage.ErrMessageNotFound
	}

	conv.UpdatedAt = time.Now()
	if err := s.storage.UpdateConversation(conv); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(conversationID)
	return nil
}

func streamingMessage(conv *model.Conversation) *model.Message {
	for i := range conv.Messages {
		if conv.Messages[i].Streaming {
			return &conv.Messages[i]
		}
	}
	return nil
}

func countUserMessages(conv *model.Conversation) int {
	n := 0
	for _, msg := range conv.Messages {
		if msg.Role == model.RoleUser && !msg.IsThreadMessage {
			n++
		}
	}
	return n
}

func truncateRunes(str string, maxLen int) string {
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen]) + "..."
}
