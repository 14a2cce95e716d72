package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Store keys. Each key is one JSON file under the store root.
const (
	keyTheme         = "theme"
	keyLastRepoURL   = "last_repo_url"
	keyUserID        = "user_id"
	keyConversations = "conversations"
)

// State is everything the store holds, loaded in one shot at hydration.
type State struct {
	Theme         string
	LastRepoURL   string
	UserID        string
	Conversations []ConversationRecord
}

// Store is the persistent mirror of coordinator state: a key-value JSON
// store on an afero filesystem. It is a passive mirror, never a second
// writer; the coordinator decides what goes in and when.
type Store struct {
	fs   afero.Fs
	root string
	log  zerolog.Logger
	mu   sync.Mutex
}

func NewStore(fs afero.Fs, root string, log zerolog.Logger) *Store {
	return &Store{fs: fs, root: root, log: log}
}

func (s *Store) keyPath(key string) string {
	return filepath.Join(s.root, key+".json")
}

// LoadState hydrates all keys. A corrupt value is discarded (logged, file
// removed) and its default takes over; hydration never fails the boot for
// bad content, only for filesystem errors creating the root.
func (s *Store) LoadState() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return State{}, err
	}

	var st State
	s.loadKey(keyTheme, &st.Theme)
	s.loadKey(keyLastRepoURL, &st.LastRepoURL)
	s.loadKey(keyUserID, &st.UserID)
	s.loadKey(keyConversations, &st.Conversations)
	return st, nil
}

func (s *Store) loadKey(key string, dst any) {
	data, err := afero.ReadFile(s.fs, s.keyPath(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("key", key).Msg("store read failed")
		}
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("store value corrupt, discarding")
		_ = s.fs.Remove(s.keyPath(key))
	}
}

func (s *Store) saveKey(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.keyPath(key), data, 0o644)
}

func (s *Store) SaveTheme(theme string) error {
	return s.saveKey(keyTheme, theme)
}

func (s *Store) SaveLastRepoURL(repoURL string) error {
	return s.saveKey(keyLastRepoURL, repoURL)
}

func (s *Store) SaveConversations(records []ConversationRecord) error {
	return s.saveKey(keyConversations, records)
}

// EnsureUserID returns the stable per-machine user id, generating and
// persisting one on first use.
func (s *Store) EnsureUserID(existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	id := uuid.NewString()
	if err := s.saveKey(keyUserID, id); err != nil {
		return "", err
	}
	return id, nil
}
