package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
)

const entryStoreVersion = 1

// EntryStore persists config entries created by flows as a JSON file next
// to the hub's config. Entries declared in the yaml config are merged in
// at boot but never written back.
type EntryStore struct {
	path string

	mu      sync.Mutex
	entries []domain.ConfigEntry
}

type entryStoreFile struct {
	Version int                  `json:"version"`
	Entries []domain.ConfigEntry `json:"entries"`
}

func NewEntryStore(path string) *EntryStore {
	return &EntryStore{path: path}
}

// Load reads the store file. A missing file is an empty store.
func (s *EntryStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.entries = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("read entry store: %w", err)
	}
	var file entryStoreFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("decode entry store: %w", err)
	}
	s.entries = file.Entries
	return nil
}

func (s *EntryStore) All() []domain.ConfigEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConfigEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *EntryStore) Get(id string) (domain.ConfigEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Id == id {
			return e, true
		}
	}
	return domain.ConfigEntry{}, false
}

func (s *EntryStore) HasUniqueId(integrationDomain, uniqueId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Domain == integrationDomain && e.UniqueId == uniqueId {
			return true
		}
	}
	return false
}

func (s *EntryStore) Add(entry domain.ConfigEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.save()
}

func (s *EntryStore) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.Id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, s.save()
		}
	}
	return false, nil
}

func (s *EntryStore) save() error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	raw, err := json.MarshalIndent(entryStoreFile{
		Version: entryStoreVersion,
		Entries: s.entries,
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write entry store: %w", err)
	}
	return os.Rename(tmp, s.path)
}
