package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one remembered search term.
type Entry struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore keeps session entries in memory and persists them to a JSON file.
type FileStore struct {
	filePath string
	ttl      time.Duration
	items    map[string]Entry
	mu       sync.RWMutex
	saveMu   sync.Mutex // serializes file writes
	now      func() time.Time
}

// NewFileStore creates a store backed by filePath. ttl <= 0 keeps entries forever.
func NewFileStore(filePath string, ttl time.Duration) *FileStore {
	return &FileStore{
		filePath: filePath,
		ttl:      ttl,
		items:    make(map[string]Entry),
		now:      time.Now,
	}
}

// Load reads existing entries from file, dropping expired ones.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var items []Entry
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	for _, item := range items {
		if fs.live(item) {
			fs.items[item.ID] = item
		}
	}
	return nil
}

// Save writes all entries, replacing the file atomically.
func (fs *FileStore) Save() error {
	fs.saveMu.Lock()
	defer fs.saveMu.Unlock()

	fs.mu.RLock()
	items := make([]Entry, 0, len(fs.items))
	for _, item := range fs.items {
		items = append(items, item)
	}
	fs.mu.RUnlock()

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.filePath), ".sessions-*")
	if err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (fs *FileStore) LastQuery(_ context.Context, id string) (string, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	item, ok := fs.items[id]
	if !ok || !fs.live(item) {
		return "", false, nil
	}
	return item.Query, true, nil
}

// SaveQuery records query for id and persists the store.
func (fs *FileStore) SaveQuery(_ context.Context, id, query string) error {
	if id == "" {
		return ErrEmptyID
	}
	fs.mu.Lock()
	fs.items[id] = Entry{ID: id, Query: query, UpdatedAt: fs.now()}
	fs.mu.Unlock()
	return fs.Save()
}

// Sweep drops expired entries and persists the result when anything changed.
func (fs *FileStore) Sweep(_ context.Context) (int64, error) {
	n := fs.Cleanup()
	if n == 0 {
		return 0, nil
	}
	return int64(n), fs.Save()
}

// Cleanup removes expired entries from memory.
func (fs *FileStore) Cleanup() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	removed := 0
	for id, item := range fs.items {
		if !fs.live(item) {
			delete(fs.items, id)
			removed++
		}
	}
	return removed
}

func (fs *FileStore) GetStats() map[string]int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return map[string]int{
		"total_items": len(fs.items),
	}
}

func (fs *FileStore) live(item Entry) bool {
	return fs.ttl <= 0 || item.UpdatedAt.After(fs.now().Add(-fs.ttl))
}
