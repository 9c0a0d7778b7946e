package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/ratelimiter"

	"github.com/profikid/river-sense-proof-of-concept/internal/runtime"
	"github.com/profikid/river-sense-proof-of-concept/internal/store"
	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
	"github.com/profikid/river-sense-proof-of-concept/pkg/monitoring"
)

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Snapshot() models.SystemSettings
}

// Config tunes the reconcile loop.
type Config struct {
	Interval          time.Duration // sweep period
	StartGrace        time.Duration // silence allowed after a worker starts
	StaleAfter        time.Duration // frame age that still counts as live
	RestartsPerMinute uint          // crash-restart budget per stream
	MetricsPort       int
	SDFilePath        string // Prometheus file-SD export, empty disables
}

func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Second,
		StartGrace:        30 * time.Second,
		StaleAfter:        15 * time.Second,
		RestartsPerMinute: 3,
		MetricsPort:       9100,
	}
}

// observation is the liveness state the broker feeds us per stream.
type observation struct {
	lastFrame    time.Time
	lastStatus   string
	lastStatusAt time.Time
}

// Reconciler drives each stream's worker toward its desired state and
// keeps the observed runtime columns current. All mutations of a single
// stream are serialized through a per-stream lock; different streams
// proceed independently.
type Reconciler struct {
	store    *store.Store
	driver   runtime.Driver
	settings SettingsSource
	logger   logging.Logger
	cfg      Config

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	budgets      map[string]ratelimiter.RateLimiter[any]
	fingerprints map[string]string

	recMu   sync.RWMutex
	recency map[string]observation

	metrics *monitoring.FlowMetrics
}

func New(st *store.Store, driver runtime.Driver, settings SettingsSource, cfg Config, logger logging.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.StartGrace <= 0 {
		cfg.StartGrace = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Second
	}
	if cfg.RestartsPerMinute == 0 {
		cfg.RestartsPerMinute = 3
	}
	return &Reconciler{
		store:        st,
		driver:       driver,
		settings:     settings,
		logger:       logger,
		cfg:          cfg,
		locks:        make(map[string]*sync.Mutex),
		budgets:      make(map[string]ratelimiter.RateLimiter[any]),
		fingerprints: make(map[string]string),
		recency:      make(map[string]observation),
	}
}

// SetMetrics attaches the domain metrics. Optional.
func (r *Reconciler) SetMetrics(m *monitoring.FlowMetrics) {
	r.metrics = m
}

func (r *Reconciler) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Reconciler) budgetFor(id string) ratelimiter.RateLimiter[any] {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.budgets[id]
	if !ok {
		b = ratelimiter.NewBurstyBuilder[any](r.cfg.RestartsPerMinute, time.Minute).Build()
		r.budgets[id] = b
	}
	return b
}

func (r *Reconciler) setFingerprint(id, fp string) {
	r.mu.Lock()
	r.fingerprints[id] = fp
	r.mu.Unlock()
}

func (r *Reconciler) fingerprint(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp, ok := r.fingerprints[id]
	return fp, ok
}

func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	delete(r.fingerprints, id)
	delete(r.budgets, id)
	delete(r.locks, id)
	r.mu.Unlock()
	r.recMu.Lock()
	delete(r.recency, id)
	r.recMu.Unlock()
}

// MarkFrame records a live frame observation for a stream.
func (r *Reconciler) MarkFrame(streamID string, at time.Time) {
	r.recMu.Lock()
	ob := r.recency[streamID]
	ob.lastFrame = at
	r.recency[streamID] = ob
	r.recMu.Unlock()
}

// MarkStatus records a worker-reported status message.
func (r *Reconciler) MarkStatus(streamID, status string, at time.Time) {
	r.recMu.Lock()
	ob := r.recency[streamID]
	ob.lastStatus = status
	ob.lastStatusAt = at
	r.recency[streamID] = ob
	r.recMu.Unlock()
}

func (r *Reconciler) observe(streamID string) observation {
	r.recMu.RLock()
	defer r.recMu.RUnlock()
	return r.recency[streamID]
}

// Run sweeps immediately, then on every tick until the context ends. The
// initial sweep adopts workers that survived a control plane restart.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Sweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep reconciles every stream once and refreshes the scrape-target
// export.
func (r *Reconciler) Sweep(ctx context.Context) {
	streams, err := r.store.ListStreams(ctx)
	if err != nil {
		r.logger.WithField("error", err).Error("Reconcile sweep: listing streams failed")
		return
	}

	results := make([]models.Stream, 0, len(streams))
	for _, st := range streams {
		if ctx.Err() != nil {
			return
		}
		out, err := r.reconcile(ctx, st, true)
		if err != nil {
			r.logger.WithFields(logging.Fields{
				"stream_id": st.ID,
				"error":     err,
			}).Warn("Reconcile failed for stream")
		}
		results = append(results, out)
	}

	r.exportTargets(results)
}

// reconcileStream converges one stream on behalf of an operator action.
// Operator-initiated starts are never refused by the restart budget.
func (r *Reconciler) reconcileStream(ctx context.Context, st models.Stream) (models.Stream, error) {
	return r.reconcile(ctx, st, false)
}

// reconcile converges one stream. budgeted marks sweep-driven work, whose
// start retries are charged to the crash-restart budget.
func (r *Reconciler) reconcile(ctx context.Context, st models.Stream, budgeted bool) (models.Stream, error) {
	lock := r.lockFor(st.ID)
	lock.Lock()
	defer lock.Unlock()

	if !st.IsActive {
		return r.ensureStopped(ctx, st)
	}
	return r.ensureRunning(ctx, st, budgeted)
}

// ensureStopped tears down any attached worker and parks the stream in
// the inactive status.
func (r *Reconciler) ensureStopped(ctx context.Context, st models.Stream) (models.Stream, error) {
	if st.WorkerHandle != nil {
		sctx, cancel := context.WithTimeout(ctx, runtime.StopTimeout)
		err := r.driver.Stop(sctx, *st.WorkerHandle)
		cancel()
		if err != nil {
			return st, fmt.Errorf("stop worker: %w", err)
		}
		r.setFingerprint(st.ID, "")
	}

	if st.WorkerHandle != nil || st.ConnectionStatus != models.StatusInactive {
		if err := r.applyFacts(ctx, st.ID, store.RuntimeFacts{Status: models.StatusInactive}); err != nil {
			return st, err
		}
		st.WorkerHandle = nil
		st.WorkerStartedAt = nil
		st.LastError = nil
		st.ConnectionStatus = models.StatusInactive
	}
	return st, nil
}

// ensureRunning starts a missing worker, restarts a dead or stale-config
// one, and derives the connection status from runtime state plus frame
// recency.
func (r *Reconciler) ensureRunning(ctx context.Context, st models.Stream, budgeted bool) (models.Stream, error) {
	settings := r.settings.Snapshot()
	wantFP := configFingerprint(st, settings)

	if st.WorkerHandle == nil {
		// Without a handle this is either a fresh operator start or a
		// sweep retrying an earlier start failure; only the latter is
		// budgeted.
		return r.startWorker(ctx, st, settings, wantFP, budgeted)
	}

	ictx, cancel := context.WithTimeout(ctx, runtime.InspectTimeout)
	insp, err := r.driver.Inspect(ictx, *st.WorkerHandle)
	cancel()
	if err != nil {
		msg := err.Error()
		_ = r.applyFacts(ctx, st.ID, store.RuntimeFacts{
			Handle:    st.WorkerHandle,
			StartedAt: st.WorkerStartedAt,
			LastError: &msg,
			Status:    models.StatusUnknown,
		})
		st.ConnectionStatus = models.StatusUnknown
		st.LastError = &msg
		return st, fmt.Errorf("inspect worker: %w", err)
	}

	switch insp.State {
	case runtime.StateMissing, runtime.StateExited:
		if insp.LastError != "" {
			r.logger.WithFields(logging.Fields{
				"stream_id": st.ID,
				"error":     insp.LastError,
			}).Warn("Worker is down, restarting")
		}
		return r.startWorker(ctx, st, settings, wantFP, true)

	case runtime.StateStarting:
		return st, r.setStatus(ctx, &st, models.StatusStarting, nil)

	case runtime.StateRunning:
		if haveFP, ok := r.fingerprint(st.ID); ok && haveFP != "" && haveFP != wantFP {
			r.logger.WithField("stream_id", st.ID).Info("Worker config changed, restarting")
			return r.restartLocked(ctx, st, settings, wantFP)
		}
		if _, ok := r.fingerprint(st.ID); !ok {
			// Worker adopted after a control plane restart; trust its
			// config until the next declared change.
			r.setFingerprint(st.ID, wantFP)
		}
		return r.deriveLiveStatus(ctx, st, insp)
	}
	return st, nil
}

// deriveLiveStatus maps a running worker's observations onto a status.
func (r *Reconciler) deriveLiveStatus(ctx context.Context, st models.Stream, insp runtime.Inspection) (models.Stream, error) {
	now := time.Now()
	ob := r.observe(st.ID)

	started := insp.StartedAt
	if started.IsZero() && st.WorkerStartedAt != nil {
		started = *st.WorkerStartedAt
	}

	if ob.lastStatus == "error" && ob.lastStatusAt.After(ob.lastFrame) {
		msg := "worker reported source error"
		return st, r.setStatus(ctx, &st, models.StatusError, &msg)
	}
	if !ob.lastFrame.IsZero() && now.Sub(ob.lastFrame) <= r.cfg.StaleAfter {
		return st, r.setStatus(ctx, &st, models.StatusConnected, nil)
	}
	if !started.IsZero() && now.Sub(started) <= r.cfg.StartGrace {
		return st, r.setStatus(ctx, &st, models.StatusStarting, nil)
	}
	// Worker process is up but produced nothing past the grace window.
	msg := fmt.Sprintf("no frames received for %s", r.cfg.StaleAfter)
	return st, r.setStatus(ctx, &st, models.StatusWorkerDown, &msg)
}

// setStatus persists a status transition, skipping the write when nothing
// changed.
func (r *Reconciler) setStatus(ctx context.Context, st *models.Stream, status string, lastError *string) error {
	same := st.ConnectionStatus == status &&
		(lastError == nil) == (st.LastError == nil) &&
		(lastError == nil || st.LastError == nil || *lastError == *st.LastError)
	if same {
		return nil
	}
	err := r.applyFacts(ctx, st.ID, store.RuntimeFacts{
		Handle:    st.WorkerHandle,
		StartedAt: st.WorkerStartedAt,
		LastError: lastError,
		Status:    status,
	})
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.StatusChanges.WithLabelValues(status).Inc()
	}
	st.ConnectionStatus = status
	st.LastError = lastError
	return nil
}

// startWorker launches the stream's worker, optionally charging the
// crash-restart budget.
func (r *Reconciler) startWorker(ctx context.Context, st models.Stream, settings models.SystemSettings, fp string, budgeted bool) (models.Stream, error) {
	if budgeted && !r.budgetFor(st.ID).TryAcquirePermit() {
		if r.metrics != nil {
			r.metrics.WorkerStarts.WithLabelValues("budget_exhausted").Inc()
		}
		msg := "restart budget exhausted, backing off"
		_ = r.setStatus(ctx, &st, models.StatusError, &msg)
		return st, nil
	}

	sctx, cancel := context.WithTimeout(ctx, runtime.StartTimeout)
	handle, err := r.driver.Start(sctx, st, settings)
	cancel()
	if err != nil {
		if r.metrics != nil {
			r.metrics.WorkerStarts.WithLabelValues("error").Inc()
		}
		msg := err.Error()
		_ = r.setStatus(ctx, &st, models.StatusError, &msg)
		return st, fmt.Errorf("start worker: %w", err)
	}

	if r.metrics != nil {
		r.metrics.WorkerStarts.WithLabelValues("ok").Inc()
	}
	now := time.Now()
	facts := store.RuntimeFacts{
		Handle:    &handle,
		StartedAt: &now,
		Status:    models.StatusStarting,
	}
	if err := r.applyFacts(ctx, st.ID, facts); err != nil {
		return st, err
	}
	r.setFingerprint(st.ID, fp)
	st.WorkerHandle = &handle
	st.WorkerStartedAt = &now
	st.LastError = nil
	st.ConnectionStatus = models.StatusStarting
	return st, nil
}

// restartLocked stops then starts the worker. Caller holds the stream
// lock. Deliberate restarts are not charged to the crash budget.
func (r *Reconciler) restartLocked(ctx context.Context, st models.Stream, settings models.SystemSettings, fp string) (models.Stream, error) {
	if st.WorkerHandle != nil {
		sctx, cancel := context.WithTimeout(ctx, runtime.StopTimeout)
		err := r.driver.Stop(sctx, *st.WorkerHandle)
		cancel()
		if err != nil {
			return st, fmt.Errorf("stop for restart: %w", err)
		}
		st.WorkerHandle = nil
	}
	return r.startWorker(ctx, st, settings, fp, false)
}

func (r *Reconciler) applyFacts(ctx context.Context, id string, facts store.RuntimeFacts) error {
	if err := r.store.SetRuntimeFacts(ctx, id, facts); err != nil {
		return fmt.Errorf("persist runtime facts: %w", err)
	}
	return nil
}

// Activate flips the desired state to active and converges immediately,
// so the caller sees the worker starting (or the failure) in the reply.
func (r *Reconciler) Activate(ctx context.Context, id string) (models.Stream, error) {
	st, err := r.store.SetActive(ctx, id, true)
	if err != nil {
		return models.Stream{}, err
	}
	out, rerr := r.reconcileStream(ctx, st)
	if rerr != nil {
		r.logger.WithFields(logging.Fields{
			"stream_id": id,
			"error":     rerr,
		}).Warn("Activation reconcile failed")
	}
	return out, nil
}

// Deactivate flips the desired state to inactive and tears the worker
// down synchronously.
func (r *Reconciler) Deactivate(ctx context.Context, id string) (models.Stream, error) {
	st, err := r.store.SetActive(ctx, id, false)
	if err != nil {
		return models.Stream{}, err
	}
	return r.reconcileStream(ctx, st)
}

// ApplyConfigChange converges a stream after its declaration changed. A
// running worker whose observable config differs is restarted.
func (r *Reconciler) ApplyConfigChange(ctx context.Context, updated models.Stream) (models.Stream, error) {
	return r.reconcileStream(ctx, updated)
}

// Forget drops all in-memory state for a deleted stream.
func (r *Reconciler) Forget(id string) {
	r.forget(id)
}

// RestartAll restarts every active worker serially, returning per-stream
// failure messages. Used when shared settings change.
func (r *Reconciler) RestartAll(ctx context.Context) map[string]string {
	failures := make(map[string]string)
	streams, err := r.store.ListStreams(ctx)
	if err != nil {
		failures["*"] = err.Error()
		return failures
	}

	settings := r.settings.Snapshot()
	for _, st := range streams {
		if !st.IsActive || st.WorkerHandle == nil {
			continue
		}
		lock := r.lockFor(st.ID)
		lock.Lock()
		_, err := r.restartLocked(ctx, st, settings, configFingerprint(st, settings))
		lock.Unlock()
		if err != nil {
			failures[st.ID] = err.Error()
		}
	}
	return failures
}

// RefreshStatus re-derives one stream's status on demand.
func (r *Reconciler) RefreshStatus(ctx context.Context, id string) (models.Stream, error) {
	st, err := r.store.GetStream(ctx, id)
	if err != nil {
		return models.Stream{}, err
	}
	return r.reconcileStream(ctx, st)
}
