package storage

import (
	"testing"
	"time"

	"orbit-chat/internal/model"
)

// backends that can run without external services
func testBackends(t *testing.T) map[string]Storage {
	t.Helper()
	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"disk":   NewDiskStorage(t.TempDir()),
	}
}

func sampleConversation(id string) *model.Conversation {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Conversation{
		ID:        id,
		Title:     "sample",
		SessionID: "session-" + id,
		Messages: []model.Message{
			{ID: "m1", ConversationID: id, Role: model.RoleUser, Content: "hello", Timestamp: now},
			{ID: "m2", ConversationID: id, Role: model.RoleAssistant, Content: "hi", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStorageRoundTrip(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Init(); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			defer store.Close()

			conv := sampleConversation("c1")
			if err := store.CreateConversation(conv); err != nil {
				t.Fatalf("CreateConversation failed: %v", err)
			}

			got, err := store.GetConversation("c1")
			if err != nil {
				t.Fatalf("GetConversation failed: %v", err)
			}
			if got.Title != "sample" || len(got.Messages) != 2 {
				t.Fatalf("round trip mangled conversation: %+v", got)
			}
			if got.Messages[0].Content != "hello" || got.Messages[1].Role != model.RoleAssistant {
				t.Fatalf("messages mangled: %+v", got.Messages)
			}
		})
	}
}

func TestStorageUpdateAndList(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Init(); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			defer store.Close()

			a := sampleConversation("a")
			b := sampleConversation("b")
			store.CreateConversation(a)
			store.CreateConversation(b)

			a.Title = "renamed"
			a.Messages = append(a.Messages, model.Message{ID: "m3", Role: model.RoleUser, Content: "more"})
			a.UpdatedAt = time.Now().UTC()
			if err := store.UpdateConversation(a); err != nil {
				t.Fatalf("UpdateConversation failed: %v", err)
			}

			got, err := store.GetConversation("a")
			if err != nil {
				t.Fatalf("GetConversation failed: %v", err)
			}
			if got.Title != "renamed" || len(got.Messages) != 3 {
				t.Fatalf("update not persisted: %+v", got)
			}

			list, err := store.ListConversations()
			if err != nil {
				t.Fatalf("ListConversations failed: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("expected 2 conversations, got %d", len(list))
			}
		})
	}
}

func TestStorageDelete(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Init(); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			defer store.Close()

			store.CreateConversation(sampleConversation("gone"))
			if err := store.DeleteConversation("gone"); err != nil {
				t.Fatalf("DeleteConversation failed: %v", err)
			}
			if _, err := store.GetConversation("gone"); err != ErrConversationNotFound {
				t.Fatalf("expected ErrConversationNotFound, got %v", err)
			}
			if err := store.DeleteConversation("gone"); err != ErrConversationNotFound {
				t.Fatalf("double delete should report not found, got %v", err)
			}
		})
	}
}

func TestStorageNotFound(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Init(); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			defer store.Close()

			if _, err := store.GetConversation("nope"); err != ErrConversationNotFound {
				t.Fatalf("expected ErrConversationNotFound, got %v", err)
			}
			if err := store.UpdateConversation(sampleConversation("nope")); err != ErrConversationNotFound {
				t.Fatalf("update of missing conversation: got %v", err)
			}
		})
	}
}

func TestDiskStorageReloadsIndex(t *testing.T) {
	dir := t.TempDir()

	first := NewDiskStorage(dir)
	if err := first.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	first.CreateConversation(sampleConversation("persisted"))
	first.Close()

	second := NewDiskStorage(dir)
	if err := second.Init(); err != nil {
		t.Fatalf("re-Init failed: %v", err)
	}
	got, err := second.GetConversation("persisted")
	if err != nil {
		t.Fatalf("conversation lost across restart: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages lost across restart: %+v", got)
	}
}

func TestMemoryStorageClones(t *testing.T) {
	store := NewMemoryStorage()
	store.Init()

	conv := sampleConversation("c")
	store.CreateConversation(conv)

	// Mutating the caller's copy must not leak into the store.
	conv.Messages[0].Content = "tampered"
	got, _ := store.GetConversation("c")
	if got.Messages[0].Content != "hello" {
		t.Fatalf("stored conversation aliases caller memory")
	}

	// And mutating a returned copy must not either.
	got.Messages[1].Content = "tampered"
	again, _ := store.GetConversation("c")
	if again.Messages[1].Content != "hi" {
		t.Fatalf("returned conversation aliases stored memory")
	}
}
