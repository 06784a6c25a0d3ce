package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"orbit-chat/internal/model"
	"orbit-chat/pkg/logger"
)

// DiskStorage keeps one JSON file per conversation plus an index file
// for cheap listing. Writes go through a temp file + rename.
type DiskStorage struct {
	dataDir string
	mu      sync.RWMutex
	index   map[string]*conversationIndex
}

type conversationIndex struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDiskStorage(dataDir string) *DiskStorage {
	return &DiskStorage{
		dataDir: dataDir,
		index:   make(map[string]*conversationIndex),
	}
}

func (d *DiskStorage) Init() error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, "conversations"), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	logger.Infof("disk storage ready at %s (%d conversations)", d.dataDir, len(d.index))
	return nil
}

func (d *DiskStorage) Close() error {
	return nil
}

func (d *DiskStorage) loadIndex() error {
	data, err := os.ReadFile(d.indexPath())
	if os.IsNotExist(err) {
		return d.saveIndexLocked()
	}
	if err != nil {
		return err
	}

	var entries []*conversationIndex
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: corrupt index: %v", ErrInvalidData, err)
	}
	for _, e := range entries {
		d.index[e.ID] = e
	}
	return nil
}

func (d *DiskStorage) saveIndexLocked() error {
	entries := make([]*conversationIndex, 0, len(d.index))
	for _, e := range d.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(d.indexPath(), data)
}

func (d *DiskStorage) CreateConversation(conv *model.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeConversationLocked(conv); err != nil {
		return err
	}
	d.index[conv.ID] = &conversationIndex{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	return d.saveIndexLocked()
}

func (d *DiskStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, exists := d.index[conversationID]; !exists {
		return nil, ErrConversationNotFound
	}
	return d.readConversationLocked(conversationID)
}

func (d *DiskStorage) UpdateConversation(conv *model.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, exists := d.index[conv.ID]
	if !exists {
		return ErrConversationNotFound
	}
	if err := d.writeConversationLocked(conv); err != nil {
		return err
	}
	entry.Title = conv.Title
	entry.UpdatedAt = conv.UpdatedAt
	return d.saveIndexLocked()
}

func (d *DiskStorage) DeleteConversation(conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[conversationID]; !exists {
		return ErrConversationNotFound
	}
	if err := os.Remove(d.conversationPath(conversationID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(d.index, conversationID)
	return d.saveIndexLocked()
}

func (d *DiskStorage) ListConversations() ([]*model.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	conversations := make([]*model.Conversation, 0, len(d.index))
	for id := range d.index {
		conv, err := d.readConversationLocked(id)
		if err != nil {
			logger.Warnf("disk storage: skipping unreadable conversation %s: %v", id, err)
			continue
		}
		conversations = append(conversations, conv)
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

func (d *DiskStorage) readConversationLocked(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(d.conversationPath(id))
	if os.IsNotExist(err) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &conv, nil
}

func (d *DiskStorage) writeConversationLocked(conv *model.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(d.conversationPath(conv.ID), data)
}

func (d *DiskStorage) indexPath() string {
	return filepath.Join(d.dataDir, "index.json")
}

func (d *DiskStorage) conversationPath(id string) string {
	return filepath.Join(d.dataDir, "conversations", id+".json")
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
