package connector

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// fileWatcher wraps the fsnotify watcher for the registration file.
type fileWatcher struct {
	fsw *fsnotify.Watcher
}

// startWatcher watches the state directory for external writes to the
// registration file. The directory is watched rather than the file itself:
// atomic temp+rename replaces the inode, which would leave a file watch
// stale.
func (m *Manager) startWatcher(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(m.store.Dir()); err != nil {
		_ = fsw.Close()
		return err
	}

	m.mu.Lock()
	m.watch = &fileWatcher{fsw: fsw}
	m.mu.Unlock()

	go m.watchLoop(ctx, fsw)
	m.logger.Debug("Watching registration file", slog.String("path", m.store.RegistrationPath()))
	return nil
}

func (m *Manager) stopWatcher() {
	m.mu.Lock()
	watch := m.watch
	m.watch = nil
	m.mu.Unlock()
	if watch != nil {
		_ = watch.fsw.Close()
	}
}

func (m *Manager) watchLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	regPath := m.store.RegistrationPath()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Name != regPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			m.handleRegistrationFileChange()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Registration watcher error", slog.Any("error", err))
		}
	}
}

// handleRegistrationFileChange reloads the registration and reconciles it
// with the in-memory state. An external re-save of the same pairing is a
// no-op; a new identity restarts the pollers; a removed or invalidated file
// is treated as an external disconnect.
func (m *Manager) handleRegistrationFileChange() {
	loaded, err := m.store.LoadRegistration()
	if err != nil {
		m.logger.Warn("Failed to reload registration after file change", slog.Any("error", err))
		return
	}

	m.mu.Lock()
	current := m.reg
	runtimeCtx := m.runtimeCtx

	switch {
	case loaded == nil && current == nil:
		m.mu.Unlock()

	case loaded == nil:
		m.reg = nil
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.stopPollers()
		m.logger.Info("Registration removed externally, pollers stopped")

	case current != nil && current.SameIdentity(loaded):
		// Same pairing re-saved from outside; adopt the refreshed fields
		// without touching the pollers.
		m.reg = loaded
		m.mu.Unlock()

	default:
		m.reg = loaded
		m.setStateLocked(StateConnected)
		m.mu.Unlock()
		m.stopPollers()
		if runtimeCtx != nil {
			if err := m.startPollers(runtimeCtx); err != nil {
				m.fireError(err)
			}
		}
		m.logger.Info("Registration replaced externally, pollers restarted",
			slog.String("connector_id", loaded.ConnectorID),
		)
	}
}
