package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type DiskConfig struct {
	Root       string
	MaxEntries int
	MaxBytes   int64
}

type diskEntry struct {
	Size       int64     `json:"size"`
	AccessedAt time.Time `json:"accessed_at"`
}

type diskIndex struct {
	Entries map[string]diskEntry `json:"entries"`
}

// DiskStore keeps renders as PNG files under Root and evicts the least
// recently read ones once MaxEntries or MaxBytes is exceeded. The index
// survives restarts.
type DiskStore struct {
	mu sync.Mutex

	dataDir   string
	indexPath string

	maxEntries int
	maxBytes   int64

	totalBytes int64
	entries    map[string]diskEntry
}

func NewDiskStore(cfg DiskConfig) (*DiskStore, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("render disk root is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	s := &DiskStore{
		dataDir:    filepath.Join(root, "renders"),
		indexPath:  filepath.Join(root, "index.json"),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		entries:    map[string]diskEntry{},
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadIndexLocked(); err != nil {
		return nil, err
	}
	s.evictLocked()
	if err := s.persistIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DiskStore) Put(_ context.Context, key string, content []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.totalBytes -= old.Size
	}
	if err := os.WriteFile(s.pathOf(key), content, 0o644); err != nil {
		return fmt.Errorf("write render %s: %w", key, err)
	}
	s.entries[key] = diskEntry{Size: int64(len(content)), AccessedAt: time.Now()}
	s.totalBytes += int64(len(content))
	s.evictLocked()
	return s.persistIndexLocked()
}

func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(s.pathOf(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.removeLocked(key, ent)
			_ = s.persistIndexLocked()
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read render %s: %w", key, err)
	}
	ent.AccessedAt = time.Now()
	s.entries[key] = ent
	return raw, nil
}

// GetURL is empty: disk renders are served through the render endpoint.
func (s *DiskStore) GetURL(context.Context, string) (string, error) {
	return "", nil
}

// Flush writes the access times gathered by Get to the index.
func (s *DiskStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistIndexLocked()
}

func (s *DiskStore) pathOf(key string) string {
	return filepath.Join(s.dataDir, strings.ReplaceAll(key, "/", "_")+".png")
}

func (s *DiskStore) loadIndexLocked() error {
	raw, err := os.ReadFile(s.indexPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read render index: %w", err)
	}
	var idx diskIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return fmt.Errorf("decode render index: %w", err)
	}
	for key, ent := range idx.Entries {
		if _, err := os.Stat(s.pathOf(key)); err != nil {
			continue
		}
		s.entries[key] = ent
		s.totalBytes += ent.Size
	}
	return nil
}

func (s *DiskStore) evictLocked() {
	for len(s.entries) > 0 && (len(s.entries) > s.maxEntries || (s.maxBytes > 0 && s.totalBytes > s.maxBytes)) {
		keys := make([]string, 0, len(s.entries))
		for key := range s.entries {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			li, lj := s.entries[keys[i]].AccessedAt, s.entries[keys[j]].AccessedAt
			if li.Equal(lj) {
				return keys[i] < keys[j]
			}
			return li.Before(lj)
		})
		s.removeLocked(keys[0], s.entries[keys[0]])
	}
}

func (s *DiskStore) removeLocked(key string, ent diskEntry) {
	delete(s.entries, key)
	s.totalBytes -= ent.Size
	if s.totalBytes < 0 {
		s.totalBytes = 0
	}
	_ = os.Remove(s.pathOf(key))
}

func (s *DiskStore) persistIndexLocked() error {
	raw, err := json.MarshalIndent(diskIndex{Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode render index: %w", err)
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write render index: %w", err)
	}
	return os.Rename(tmp, s.indexPath)
}
