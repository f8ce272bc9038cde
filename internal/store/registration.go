package store

import (
	"os"
	"time"
)

// RegistrationStatus is the persisted pairing status.
type RegistrationStatus string

const (
	RegistrationPending      RegistrationStatus = "pending"
	RegistrationConnected    RegistrationStatus = "connected"
	RegistrationDisconnected RegistrationStatus = "disconnected"
	RegistrationError        RegistrationStatus = "error"
)

// Registration binds this device to a remote user account. It is owned by the
// connection state machine and written on every status transition.
type Registration struct {
	ConnectorID         string             `json:"connector_id"`
	DeviceName          string             `json:"device_name"`
	DeviceType          string             `json:"device_type"`
	Token               string             `json:"token"`
	UserID              string             `json:"user_id"`
	Status              RegistrationStatus `json:"status"`
	RegisteredAt        time.Time          `json:"registered_at"`
	LastContextReportAt time.Time          `json:"last_context_report_at,omitempty"`
}

// Valid reports whether the registration carries all required fields.
// An invalid document is treated the same as a missing one.
func (r *Registration) Valid() bool {
	return r != nil && r.ConnectorID != "" && r.Token != "" && r.DeviceName != ""
}

// SameIdentity reports whether two registrations refer to the same pairing.
// Used by the file watcher to avoid restarting pollers when an external write
// merely re-saves the registration we already hold.
func (r *Registration) SameIdentity(other *Registration) bool {
	if r == nil || other == nil {
		return false
	}
	return r.ConnectorID == other.ConnectorID && r.Token == other.Token
}

// LoadRegistration returns the persisted registration, or nil when none exists
// or the document is corrupt or missing required fields.
func (s *Store) LoadRegistration() (*Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reg Registration
	found, err := s.readJSON(s.RegistrationPath(), &reg)
	if err != nil {
		return nil, err
	}
	if !found || !reg.Valid() {
		return nil, nil
	}
	return &reg, nil
}

// SaveRegistration persists the registration document.
func (s *Store) SaveRegistration(reg *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.RegistrationPath(), reg)
}

// ClearRegistration removes the registration document. Missing file is a no-op.
func (s *Store) ClearRegistration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.RegistrationPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
