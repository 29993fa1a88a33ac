package bridge

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// StateBackend holds the persisted mirror list as one whole-array snapshot.
// Load returns nil when nothing has been stored yet.
type StateBackend interface {
	Load() (json.RawMessage, error)
	Save(snapshot json.RawMessage) error
}

// MirrorStore owns the persisted list of temporary mirror records. Every
// mutation is a full read-modify-write of the list behind one mutex, so
// concurrent importers and cleanup passes cannot lose each other's updates.
type MirrorStore struct {
	mu      sync.Mutex
	backend StateBackend
	logger  *zap.Logger
}

type StoreStatus struct {
	Backend     string `json:"backend"`
	RecordCount int    `json:"recordCount"`
	Corrupted   bool   `json:"corrupted,omitempty"`
}

func NewMirrorStore(backend StateBackend, logger *zap.Logger) *MirrorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorStore{backend: backend, logger: logger}
}

// Records returns the stored mirror list. ok is false when the persisted
// snapshot is not a JSON array; the snapshot is left untouched in that case
// and callers decide what to do with it.
func (s *MirrorStore) Records() ([]MirrorRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsLocked()
}

func (s *MirrorStore) recordsLocked() ([]MirrorRecord, bool, error) {
	raw, err := s.backend.Load()
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return []MirrorRecord{}, true, nil
	}
	var records []MirrorRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, nil
	}
	if records == nil {
		records = []MirrorRecord{}
	}
	return records, true, nil
}

// RawSnapshot returns the persisted bytes exactly as stored.
func (s *MirrorStore) RawSnapshot() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Load()
}

// Append adds one record to the stored list. A corrupted snapshot is not
// silently replaced; the caller gets ErrInvalidState and the stored value
// stays as it was.
func (s *MirrorStore) Append(rec MirrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok, err := s.recordsLocked()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: mirror store snapshot is not an array", ErrInvalidState)
	}
	records = append(records, rec)
	return s.saveLocked(records)
}

// Replace overwrites the stored list with the given records.
func (s *MirrorStore) Replace(records []MirrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(records)
}

func (s *MirrorStore) saveLocked(records []MirrorRecord) error {
	if records == nil {
		records = []MirrorRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.backend.Save(data)
}

func (s *MirrorStore) Len() (int, error) {
	records, ok, err := s.Records()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return len(records), nil
}

func (s *MirrorStore) Status() StoreStatus {
	status := StoreStatus{Backend: backendKind(s.backend)}
	records, ok, err := s.Records()
	if err != nil {
		return status
	}
	if !ok {
		status.Corrupted = true
		return status
	}
	status.RecordCount = len(records)
	return status
}

func backendKind(backend StateBackend) string {
	switch backend.(type) {
	case *JSONFileStateBackend:
		return "file"
	case *InMemoryStateBackend:
		return "memory"
	case *PostgresStateBackend:
		return "postgres"
	default:
		return "custom"
	}
}
