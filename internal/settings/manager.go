package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/profikid/river-sense-proof-of-concept/internal/store"
	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// WorkerRestarter restarts every active worker so it picks up a new
// settings snapshot. Returns per-stream failure messages keyed by id.
type WorkerRestarter interface {
	RestartAll(ctx context.Context) map[string]string
}

// Manager caches the singleton system settings row. Reads are served from
// memory; writes go through the store and refresh the cache before anyone
// can observe the new row.
type Manager struct {
	store  *store.Store
	logger logging.Logger

	mu     sync.RWMutex
	cached models.SystemSettings

	restarter WorkerRestarter
}

func NewManager(st *store.Store, logger logging.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

// SetRestarter wires the fleet restarter after construction; the
// reconciler is built later in startup than the manager.
func (m *Manager) SetRestarter(r WorkerRestarter) {
	m.restarter = r
}

// Load populates the cache from the database. Must be called once before
// Snapshot is used.
func (m *Manager) Load(ctx context.Context) error {
	s, err := m.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	m.mu.Lock()
	m.cached = s
	m.mu.Unlock()
	return nil
}

// Snapshot returns the cached settings row.
func (m *Manager) Snapshot() models.SystemSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached
}

// UpdateResult carries the persisted settings plus any per-stream restart
// failures when a fleet restart was requested.
type UpdateResult struct {
	Settings        models.SystemSettings
	RestartFailures map[string]string
}

// Update applies a partial settings update, persists it and refreshes the
// cache. When RestartWorkers is set, every active worker is restarted
// serially so it re-reads its environment; individual failures are
// collected rather than aborting the sweep.
func (m *Manager) Update(ctx context.Context, upd models.SettingsUpdate) (UpdateResult, error) {
	m.mu.Lock()
	next := m.cached
	if upd.LivePreviewFPS != nil {
		next.LivePreviewFPS = *upd.LivePreviewFPS
	}
	if upd.LivePreviewJPEGQuality != nil {
		next.LivePreviewJPEGQuality = *upd.LivePreviewJPEGQuality
	}
	if upd.LivePreviewMaxWidth != nil {
		next.LivePreviewMaxWidth = *upd.LivePreviewMaxWidth
	}
	if upd.OrientationOffsetDeg != nil {
		next.OrientationOffsetDeg = *upd.OrientationOffsetDeg
	}

	saved, err := m.store.UpdateSettings(ctx, next)
	if err != nil {
		m.mu.Unlock()
		return UpdateResult{}, err
	}
	m.cached = saved
	m.mu.Unlock()

	res := UpdateResult{Settings: saved}
	if upd.RestartWorkers && m.restarter != nil {
		m.logger.Info("Settings updated, restarting worker fleet")
		res.RestartFailures = m.restarter.RestartAll(ctx)
		for id, msg := range res.RestartFailures {
			m.logger.WithFields(logging.Fields{
				"stream_id": id,
				"error":     msg,
			}).Warn("Worker restart after settings update failed")
		}
	}
	return res, nil
}
