package storage

import (
	"orbit-chat/internal/model"
)

// Storage persists conversation snapshots. The state store is the only
// writer and serializes its own mutations, so implementations only need
// to be safe for concurrent reads alongside one writer.
type Storage interface {
	CreateConversation(conv *model.Conversation) error
	GetConversation(conversationID string) (*model.Conversation, error)
	UpdateConversation(conv *model.Conversation) error
	DeleteConversation(conversationID string) error
	ListConversations() ([]*model.Conversation, error)

	Init() error
	Close() error
}
