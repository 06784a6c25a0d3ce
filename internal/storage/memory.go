package storage

import (
	"sync"

	"orbit-chat/internal/model"
)

type MemoryStorage struct {
	conversations map[string]*model.Conversation
	mu            sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*model.Conversation),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) CreateConversation(conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (m *MemoryStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}

	return cloneConversation(conv), nil
}

func (m *MemoryStorage) UpdateConversation(conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; !exists {
		return ErrConversationNotFound
	}

	m.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (m *MemoryStorage) DeleteConversation(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversationID]; !exists {
		return ErrConversationNotFound
	}

	delete(m.conversations, conversationID)
	return nil
}

func (m *MemoryStorage) ListConversations() ([]*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversations := make([]*model.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		conversations = append(conversations, cloneConversation(conv))
	}

	return conversations, nil
}

// cloneConversation keeps callers from aliasing stored state; the state
// store mutates snapshots and writes them back.
func cloneConversation(conv *model.Conversation) *model.Conversation {
	out := *conv
	out.Messages = make([]model.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	for i := range out.Messages {
		if ti := out.Messages[i].ThreadInfo; ti != nil {
			clone := *ti
			out.Messages[i].ThreadInfo = &clone
		}
	}
	return &out
}
