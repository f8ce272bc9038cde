package store

import (
	"encoding/json"
	"path/filepath"
	"time"
)

// PendingSyncType identifies what kind of report a queued item replays.
type PendingSyncType string

const (
	PendingHeartbeat     PendingSyncType = "heartbeat"
	PendingCommandResult PendingSyncType = "command-result"
	PendingWorkContext   PendingSyncType = "work-context"
)

// MaxSyncAttempts is how many resend attempts a pending item gets before it
// is dropped with a logged warning. There is no guaranteed redelivery.
const MaxSyncAttempts = 3

// PendingSyncItem is a report that failed with a transient error after retries
// were exhausted, queued for optimistic resend when the network comes back.
type PendingSyncItem struct {
	Type      PendingSyncType `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
}

func (s *Store) pendingSyncPath() string {
	return filepath.Join(s.dir, pendingSyncFile)
}

// LoadPendingSync returns the queued items. Absent or corrupt file yields an
// empty queue.
func (s *Store) LoadPendingSync() ([]PendingSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []PendingSyncItem
	if _, err := s.readJSON(s.pendingSyncPath(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SavePendingSync replaces the queue with items.
func (s *Store) SavePendingSync(items []PendingSyncItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.pendingSyncPath(), items)
}

// TakePendingSync removes and returns every queued item in one step, so items
// enqueued after the take are never clobbered by the flusher's write-back.
func (s *Store) TakePendingSync() ([]PendingSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []PendingSyncItem
	if _, err := s.readJSON(s.pendingSyncPath(), &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	if err := s.writeJSON(s.pendingSyncPath(), []PendingSyncItem{}); err != nil {
		return nil, err
	}
	return items, nil
}

// RequeuePendingSync puts items back at the head of the queue, keeping their
// attempt counts and merging with anything enqueued since the take.
func (s *Store) RequeuePendingSync(items []PendingSyncItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current []PendingSyncItem
	if _, err := s.readJSON(s.pendingSyncPath(), &current); err != nil {
		return err
	}
	return s.writeJSON(s.pendingSyncPath(), append(items, current...))
}

// EnqueuePendingSync appends an item to the queue.
func (s *Store) EnqueuePendingSync(syncType PendingSyncType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []PendingSyncItem
	if _, err := s.readJSON(s.pendingSyncPath(), &items); err != nil {
		return err
	}

	items = append(items, PendingSyncItem{
		Type:      syncType,
		Payload:   data,
		CreatedAt: time.Now(),
	})
	return s.writeJSON(s.pendingSyncPath(), items)
}
