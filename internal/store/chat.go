package store

import (
	"os"
	"path/filepath"
	"time"
)

// ChatRole describes how this agent participates in agent-to-agent chat.
type ChatRole string

const (
	ChatRoleConsumer ChatRole = "consumer"
	ChatRoleProvider ChatRole = "provider"
	ChatRoleBoth     ChatRole = "both"
)

// ProcessedLedgerCap bounds the processed-message ledger. Inserting beyond the
// cap evicts the oldest entry.
const ProcessedLedgerCap = 1000

// ChatCredentials holds the messaging-channel identity plus the processed-ID
// ledger. Enabled is the sole gate for whether the chat pollers may run; it is
// toggled only by explicit enable/disable operations, independent of whether
// the pollers are currently live.
type ChatCredentials struct {
	APIKey              string    `json:"api_key"`
	AgentID             string    `json:"agent_id"`
	AgentName           string    `json:"agent_name"`
	Role                ChatRole  `json:"role"`
	Endpoint            string    `json:"endpoint,omitempty"`
	Enabled             bool      `json:"enabled"`
	LastHeartbeatAt     time.Time `json:"last_heartbeat_at,omitempty"`
	ProcessedMessageIDs []string  `json:"processed_message_ids"`
}

// Valid reports whether the credentials carry the required identity fields.
func (c *ChatCredentials) Valid() bool {
	return c != nil && c.APIKey != "" && c.AgentID != ""
}

// HasProcessed reports whether id is in the ledger.
func (c *ChatCredentials) HasProcessed(id string) bool {
	for _, existing := range c.ProcessedMessageIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// MarkProcessed appends id to the ledger, evicting the oldest entry once the
// cap is exceeded. Marking an already-present id is a no-op.
func (c *ChatCredentials) MarkProcessed(id string) {
	if c.HasProcessed(id) {
		return
	}
	c.ProcessedMessageIDs = append(c.ProcessedMessageIDs, id)
	if n := len(c.ProcessedMessageIDs); n > ProcessedLedgerCap {
		c.ProcessedMessageIDs = c.ProcessedMessageIDs[n-ProcessedLedgerCap:]
	}
}

func (s *Store) chatPath() string {
	return filepath.Join(s.dir, chatFile)
}

// LoadChatCredentials returns the persisted chat credentials, or nil when none
// exist or the document is corrupt or missing required fields.
func (s *Store) LoadChatCredentials() (*ChatCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds ChatCredentials
	found, err := s.readJSON(s.chatPath(), &creds)
	if err != nil {
		return nil, err
	}
	if !found || !creds.Valid() {
		return nil, nil
	}
	return &creds, nil
}

// SaveChatCredentials persists the chat credentials document, ledger included.
func (s *Store) SaveChatCredentials(creds *ChatCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.chatPath(), creds)
}

// ClearChatCredentials removes the chat credentials document.
func (s *Store) ClearChatCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.chatPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
