package generators

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// storeEntry tracks one stored illustration on disk
type storeEntry struct {
	name      string
	filePath  string
	createdAt time.Time
	seq       uint64
}

// ImageStore writes generated illustrations to disk and hands out URL
// paths the view can load them from. Entries beyond maxEntries are
// evicted oldest-first; the store is a working set for the current
// session, not an archive.
type ImageStore struct {
	directory  string
	maxEntries int

	mu      sync.RWMutex
	entries map[string]*storeEntry
	nextSeq uint64
}

// NewImageStore creates an image store rooted at directory
func NewImageStore(directory string, maxEntries int) (*ImageStore, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	return &ImageStore{
		directory:  directory,
		maxEntries: maxEntries,
		entries:    make(map[string]*storeEntry),
	}, nil
}

// Put decodes a base64 PNG, writes it to disk and returns the URL path
// it is served under.
func (s *ImageStore) Put(ctx context.Context, imageBase64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}

	name := uuid.New().String() + ".png"
	filePath := filepath.Join(s.directory, name)

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	s.mu.Lock()
	s.nextSeq++
	s.entries[name] = &storeEntry{
		name:      name,
		filePath:  filePath,
		createdAt: time.Now(),
		seq:       s.nextSeq,
	}
	for len(s.entries) > s.maxEntries {
		s.evictOldest()
	}
	s.mu.Unlock()

	return "/images/" + name, nil
}

// Path resolves a stored image name to its file path. Names that were
// never stored (including any path-traversal attempt) are rejected.
func (s *ImageStore) Path(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[name]
	if !ok {
		return "", fmt.Errorf("image not found: %s", name)
	}
	return entry.filePath, nil
}

// Len returns the number of stored images
func (s *ImageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictOldest removes the entry stored earliest. Caller holds the lock.
func (s *ImageStore) evictOldest() {
	var oldestName string
	var oldestSeq uint64

	for name, entry := range s.entries {
		if oldestName == "" || entry.seq < oldestSeq {
			oldestName = name
			oldestSeq = entry.seq
		}
	}

	if oldestName != "" {
		_ = os.Remove(s.entries[oldestName].filePath)
		delete(s.entries, oldestName)
	}
}
