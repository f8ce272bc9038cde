package connector

import (
	"context"
	"log/slog"
	"time"

	"github.com/tetherlabs/tether/internal/backend"
	"github.com/tetherlabs/tether/internal/store"
)

// Pairing describes an open pairing window.
type Pairing struct {
	Token     string
	QRData    string
	ExpiresAt time.Time
}

// BeginPairing requests a fresh QR token and starts the login-status poll in
// the background. Calling it while a poll is active cancels the old poll
// first. The pairing window closes at the earlier of the local TTL and the
// server-reported expiry.
func (m *Manager) BeginPairing(ctx context.Context) (*Pairing, error) {
	m.mu.Lock()
	if m.pairingCancel != nil {
		m.pairingCancel()
		m.pairingCancel = nil
	}
	m.mu.Unlock()

	resp, err := m.client.RequestQRToken(ctx, &backend.QRTokenRequest{
		DeviceName: m.cfg.DeviceName,
		DeviceType: m.cfg.DeviceType,
		DeviceID:   m.deviceID,
	})
	if err != nil {
		m.governor.RecordFailure(err)
		m.mu.Lock()
		m.setStateLocked(StateError)
		m.mu.Unlock()
		return nil, err
	}
	m.governor.RecordSuccess()

	ttl := m.cfg.Pairing.TokenTTL
	if server := time.Duration(resp.ExpiresIn) * time.Second; resp.ExpiresIn > 0 && server < ttl {
		ttl = server
	}
	expiresAt := time.Now().Add(ttl)

	pollCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.pairingCancel = cancel
	m.setStateLocked(StatePairing)
	m.mu.Unlock()

	m.logger.Info("Pairing window opened",
		slog.Time("expires_at", expiresAt),
		slog.Int("max_attempts", m.cfg.Pairing.MaxAttempts),
	)
	if m.onQRReady != nil {
		m.onQRReady(resp.QRData, expiresAt)
	}

	go m.pollLoginStatus(pollCtx, resp.Token, expiresAt)

	return &Pairing{Token: resp.Token, QRData: resp.QRData, ExpiresAt: expiresAt}, nil
}

// pollLoginStatus checks the token every poll interval until it is claimed,
// expires, or the attempt budget runs out. A response that says both expired
// and registered counts as expired.
func (m *Manager) pollLoginStatus(ctx context.Context, token string, expiresAt time.Time) {
	ticker := time.NewTicker(m.cfg.Pairing.PollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempts++
		status, err := m.client.CheckLoginStatus(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Debug("Login status check failed", slog.Any("error", err), slog.Int("attempt", attempts))
		} else {
			if status.Expired {
				m.expirePairing(ctx)
				return
			}
			if status.Registered {
				m.completePairing(ctx, token, status)
				return
			}
		}

		if attempts >= m.cfg.Pairing.MaxAttempts || time.Now().After(expiresAt) {
			m.expirePairing(ctx)
			return
		}
	}
}

// expirePairing fires the PairingExpired event once and returns the state
// machine to UNREGISTERED. There is no automatic retry.
func (m *Manager) expirePairing(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if m.pairingCancel != nil {
		m.pairingCancel()
		m.pairingCancel = nil
	}
	m.setStateLocked(StateUnregistered)
	m.mu.Unlock()

	m.logger.Info("Pairing window expired")
	if m.onPairingExpired != nil {
		m.onPairingExpired()
	}
}

// completePairing persists the new registration, transitions to CONNECTED,
// and starts the pollers if the runtime is attached.
func (m *Manager) completePairing(ctx context.Context, token string, status *backend.LoginStatusResponse) {
	if ctx.Err() != nil {
		return
	}

	deviceName := m.cfg.DeviceName
	if status.DeviceName != "" {
		deviceName = status.DeviceName
	}
	reg := &store.Registration{
		ConnectorID:  status.ConnectorID,
		DeviceName:   deviceName,
		DeviceType:   m.cfg.DeviceType,
		Token:        token,
		UserID:       status.UserID,
		Status:       store.RegistrationConnected,
		RegisteredAt: time.Now().UTC(),
	}
	if err := m.store.SaveRegistration(reg); err != nil {
		m.logger.Error("Failed to persist registration", slog.Any("error", err))
		m.fireError(err)
		return
	}

	m.mu.Lock()
	m.reg = reg
	m.pairingCancel = nil
	m.setStateLocked(StateConnected)
	runtimeCtx := m.runtimeCtx
	m.mu.Unlock()

	m.logger.Info("Device paired",
		slog.String("connector_id", reg.ConnectorID),
		slog.String("user_id", reg.UserID),
	)

	if runtimeCtx != nil {
		if err := m.startPollers(runtimeCtx); err != nil {
			m.fireError(err)
		}
	}
}
