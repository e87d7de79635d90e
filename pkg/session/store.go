package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat"
)

// DefaultMaxSessions bounds how many sessions the store keeps on disk.
// Storing beyond the limit evicts the oldest sessions by save date.
const DefaultMaxSessions = 25

const indexFileName = "index.json"

// IndexEntry is the per-session summary kept in the store's index file.
type IndexEntry struct {
	Title    string        `json:"title,omitempty"`
	SaveDate int64         `json:"saveDate"`
	Location chat.Location `json:"location"`
}

// Store persists serialized chat sessions as one JSON file per session id
// plus an index file with the per-session summaries.
type Store struct {
	mu          sync.Mutex
	dir         string
	maxSessions int
}

type StoreOption func(*Store)

func WithMaxSessions(maxSessions int) StoreOption {
	return func(s *Store) { s.maxSessions = maxSessions }
}

func NewStore(dir string, options ...StoreOption) (*Store, error) {
	s := &Store{
		dir:         dir,
		maxSessions: DefaultMaxSessions,
	}
	for _, option := range options {
		option(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create session store directory %s", dir)
	}
	return s, nil
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// StoreSessions writes the given sessions and updates the index. Sessions
// without requests are skipped. When the index grows beyond the session
// limit, the oldest sessions are evicted, files included.
func (s *Store) StoreSessions(sessions ...chat.SerializedChatData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.readIndex()

	for _, data := range sessions {
		if len(data.Model.Requests) == 0 {
			log.Debug().Str("session_id", data.Model.SessionID).Msg("skipping empty session")
			continue
		}
		data.Version = chat.ChatDataVersion
		if data.SaveDate == 0 {
			data.SaveDate = time.Now().UnixMilli()
		}

		payload, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return errors.Wrapf(err, "failed to marshal session %s", data.Model.SessionID)
		}
		if err := os.WriteFile(s.sessionPath(data.Model.SessionID), payload, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write session %s", data.Model.SessionID)
		}

		index[data.Model.SessionID] = IndexEntry{
			Title:    data.Title,
			SaveDate: data.SaveDate,
			Location: data.Model.Location,
		}
	}

	s.trim(index)
	return s.writeIndex(index)
}

func (s *Store) trim(index map[string]IndexEntry) {
	if s.maxSessions <= 0 || len(index) <= s.maxSessions {
		return
	}

	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if index[ids[i]].SaveDate != index[ids[j]].SaveDate {
			return index[ids[i]].SaveDate < index[ids[j]].SaveDate
		}
		return ids[i] < ids[j]
	})

	for _, id := range ids[:len(index)-s.maxSessions] {
		log.Info().Str("session_id", id).Msg("evicting oldest session")
		if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to remove evicted session file")
		}
		delete(index, id)
	}
}

// ReadSession returns the persisted session with the given id, or nil when
// it does not exist, cannot be parsed, or carries an unsupported version.
func (s *Store) ReadSession(id string) *chat.SerializedChatData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSession(id)
}

func (s *Store) readSession(id string) *chat.SerializedChatData {
	payload, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		log.Debug().Err(err).Str("session_id", id).Msg("failed to read session file")
		return nil
	}

	data := &chat.SerializedChatData{}
	if err := json.Unmarshal(payload, data); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to parse session file")
		return nil
	}
	if data.Version != chat.ChatDataVersion {
		log.Warn().Int("version", data.Version).Int("supported", chat.ChatDataVersion).
			Str("session_id", id).Msg("unsupported session data version")
		return nil
	}
	return data
}

// DeleteSession removes the session file and its index entry. Deleting a
// session that is not stored is not an error.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete session %s", id)
	}

	index := s.readIndex()
	if _, ok := index[id]; !ok {
		return nil
	}
	delete(index, id)
	return s.writeIndex(index)
}

// ClearAllSessions removes every stored session and the index.
func (s *Store) ClearAllSessions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.readIndex()
	for id := range index {
		if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to remove session file")
		}
	}
	if err := os.Remove(filepath.Join(s.dir, indexFileName)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove session index")
	}
	return nil
}

// SessionIndex returns the persisted per-session summaries.
func (s *Store) SessionIndex() map[string]IndexEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex()
}

func (s *Store) HasPersistedSessions() bool {
	return len(s.SessionIndex()) > 0
}

// SetSessionTitle updates the title in both the index and the session file.
func (s *Store) SetSessionTitle(id string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.readIndex()
	entry, ok := index[id]
	if !ok {
		return errors.Errorf("session %s not found in index", id)
	}
	entry.Title = title
	index[id] = entry

	if data := s.readSession(id); data != nil {
		data.Title = title
		payload, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return errors.Wrapf(err, "failed to marshal session %s", id)
		}
		if err := os.WriteFile(s.sessionPath(id), payload, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write session %s", id)
		}
	}

	return s.writeIndex(index)
}

// readIndex loads the index, dropping entries that fail validation so one
// corrupt entry does not take the whole store down.
func (s *Store) readIndex() map[string]IndexEntry {
	index := map[string]IndexEntry{}

	payload, err := os.ReadFile(filepath.Join(s.dir, indexFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read session index")
		}
		return index
	}

	raw := map[string]IndexEntry{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Warn().Err(err).Msg("failed to parse session index, starting over")
		return index
	}

	for id, entry := range raw {
		if id == "" || entry.SaveDate <= 0 {
			log.Warn().Str("session_id", id).Msg("dropping invalid session index entry")
			continue
		}
		index[id] = entry
	}
	return index
}

func (s *Store) writeIndex(index map[string]IndexEntry) error {
	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session index")
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFileName), payload, 0o644); err != nil {
		return errors.Wrap(err, "failed to write session index")
	}
	return nil
}
