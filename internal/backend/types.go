package backend

import "encoding/json"

// QRTokenRequest asks the backend for a fresh pairing token.
type QRTokenRequest struct {
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	DeviceID   string `json:"device_id"`
}

// QRTokenResponse carries the pairing token and the QR payload to render.
type QRTokenResponse struct {
	Token     string `json:"token"`
	QRData    string `json:"qr_data"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// LoginStatusResponse reports whether the pairing token has been claimed.
// Expired wins when the backend reports both flags.
type LoginStatusResponse struct {
	Registered  bool   `json:"registered"`
	Expired     bool   `json:"expired"`
	ConnectorID string `json:"connector_id"`
	DeviceName  string `json:"device_name"`
	UserID      string `json:"user_id"`
}

// HeartbeatRequest is the periodic liveness signal for the pairing channel.
type HeartbeatRequest struct {
	ConnectorID string `json:"connector_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	WorkStatus  string `json:"work_status,omitempty"`
}

// Command is a remote instruction pulled by the command poller.
type Command struct {
	CommandID      string          `json:"command_id"`
	CommandType    string          `json:"command_type"`
	CommandPayload json.RawMessage `json:"command_payload"`
	Priority       int             `json:"priority"`
	CreatedAt      string          `json:"created_at"`
}

// CommandResultRequest reports a command's outcome back to the backend.
type CommandResultRequest struct {
	CommandID    string `json:"command_id"`
	ConnectorID  string `json:"connector_id"`
	Status       string `json:"status"` // completed or failed
	Result       string `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Command result statuses.
const (
	CommandCompleted = "completed"
	CommandFailed    = "failed"
)

// WorkContextRequest uploads the periodic work-context snapshot.
type WorkContextRequest struct {
	ConnectorID string `json:"connector_id"`
	Summary     string `json:"summary"`
	ReportedAt  string `json:"reported_at"`
}

// DisconnectRequest unbinds this connector from the remote account.
type DisconnectRequest struct {
	ConnectorID string `json:"connector_id"`
	Delete      bool   `json:"delete"`
}
