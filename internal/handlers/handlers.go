package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/profikid/river-sense-proof-of-concept/internal/alerts"
	"github.com/profikid/river-sense-proof-of-concept/internal/broker"
	"github.com/profikid/river-sense-proof-of-concept/internal/hub"
	"github.com/profikid/river-sense-proof-of-concept/internal/reconciler"
	"github.com/profikid/river-sense-proof-of-concept/internal/runtime"
	"github.com/profikid/river-sense-proof-of-concept/internal/settings"
	"github.com/profikid/river-sense-proof-of-concept/internal/store"
	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// FlowdHandlers contains the HTTP handlers for the control plane.
type FlowdHandlers struct {
	store      *store.Store
	reconciler *reconciler.Reconciler
	settings   *settings.Manager
	alerts     *alerts.Service
	hub        *hub.Hub
	frames     *broker.Broker
	driver     runtime.Driver
	logger     logging.Logger
	startTime  time.Time
}

func NewFlowdHandlers(
	st *store.Store,
	rec *reconciler.Reconciler,
	mgr *settings.Manager,
	al *alerts.Service,
	h *hub.Hub,
	frames *broker.Broker,
	driver runtime.Driver,
	logger logging.Logger,
) *FlowdHandlers {
	return &FlowdHandlers{
		store:      st,
		reconciler: rec,
		settings:   mgr,
		alerts:     al,
		hub:        h,
		frames:     frames,
		driver:     driver,
		logger:     logger,
		startTime:  time.Now(),
	}
}

// respondError maps domain errors onto the API error envelope.
func (h *FlowdHandlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	case store.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case store.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	case runtime.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "worker runtime unavailable"})
	default:
		h.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	}
}

// HandleListStreams returns all streams, newest first.
func (h *FlowdHandlers) HandleListStreams(c *gin.Context) {
	streams, err := h.store.ListStreams(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, streams)
}

// HandleCreateStream validates and stores a new stream declaration. An
// active declaration gets its worker started before the reply.
func (h *FlowdHandlers) HandleCreateStream(c *gin.Context) {
	var spec models.StreamSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}

	st, err := h.store.CreateStream(c.Request.Context(), spec)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if st.IsActive {
		var rerr error
		st, rerr = h.reconciler.ApplyConfigChange(c.Request.Context(), st)
		if rerr != nil {
			h.logger.WithFields(logging.Fields{
				"stream_id": st.ID,
				"error":     rerr,
			}).Warn("Reconcile after create failed")
		}
	}
	c.JSON(http.StatusCreated, st)
}

// HandleGetStream returns one stream by id.
func (h *FlowdHandlers) HandleGetStream(c *gin.Context) {
	st, err := h.store.GetStream(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleUpdateStream replaces a stream's declaration. A running worker
// whose observable config changed is restarted before the reply.
func (h *FlowdHandlers) HandleUpdateStream(c *gin.Context) {
	var spec models.StreamSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}

	_, updated, err := h.store.UpdateStream(c.Request.Context(), c.Param("id"), spec)
	if err != nil {
		h.respondError(c, err)
		return
	}

	updated, rerr := h.reconciler.ApplyConfigChange(c.Request.Context(), updated)
	if rerr != nil {
		h.logger.WithFields(logging.Fields{
			"stream_id": updated.ID,
			"error":     rerr,
		}).Warn("Reconcile after update failed")
	}
	c.JSON(http.StatusOK, updated)
}

// HandleDeleteStream stops the stream's worker if one is attached, then
// removes the record.
func (h *FlowdHandlers) HandleDeleteStream(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	st, err := h.store.GetStream(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if st.IsActive || st.WorkerHandle != nil {
		if _, err := h.reconciler.Deactivate(ctx, id); err != nil {
			h.respondError(c, err)
			return
		}
	}

	if err := h.store.DeleteStream(ctx, id); err != nil {
		h.respondError(c, err)
		return
	}
	h.reconciler.Forget(id)
	h.frames.ForgetStream(id)
	c.Status(http.StatusNoContent)
}

// HandleActivateStream marks a stream active and starts its worker.
func (h *FlowdHandlers) HandleActivateStream(c *gin.Context) {
	st, err := h.reconciler.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleDeactivateStream marks a stream inactive and stops its worker.
func (h *FlowdHandlers) HandleDeactivateStream(c *gin.Context) {
	st, err := h.reconciler.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleWorkerLogs returns the tail of the stream's worker logs.
func (h *FlowdHandlers) HandleWorkerLogs(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.store.GetStream(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if st.WorkerHandle == nil {
		c.JSON(http.StatusConflict, gin.H{"detail": "stream has no worker attached"})
		return
	}

	tail := 100
	if v := c.Query("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 10000 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "tail must be a positive integer up to 10000"})
			return
		}
		tail = n
	}

	body := gin.H{
		"worker_status":         st.ConnectionStatus,
		"worker_container_name": *st.WorkerHandle,
		"logs":                  []string{},
		"error":                 nil,
	}
	lines, err := h.driver.Tail(ctx, *st.WorkerHandle, tail)
	if err != nil {
		// Log collection failure is reported inline; the stream view
		// itself is still useful to the caller.
		body["error"] = err.Error()
	} else if lines != nil {
		body["logs"] = lines
	}
	c.JSON(http.StatusOK, body)
}

// HandleGetSettings returns the cached system settings.
func (h *FlowdHandlers) HandleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Snapshot())
}

// HandleUpdateSettings applies a partial settings update, optionally
// restarting the worker fleet so it picks the new snapshot up.
func (h *FlowdHandlers) HandleUpdateSettings(c *gin.Context) {
	var upd models.SettingsUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}

	res, err := h.settings.Update(c.Request.Context(), upd)
	if err != nil {
		h.respondError(c, err)
		return
	}

	body := gin.H{"settings": res.Settings}
	if len(res.RestartFailures) > 0 {
		body["restart_failures"] = res.RestartFailures
	}
	c.JSON(http.StatusOK, body)
}

// HandleAlertWebhook ingests one Alertmanager-compatible envelope.
func (h *FlowdHandlers) HandleAlertWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable request body"})
		return
	}

	if _, err := h.alerts.Ingest(c.Request.Context(), raw); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListAlerts returns recent alert events, newest first.
func (h *FlowdHandlers) HandleListAlerts(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a positive integer up to 1000"})
			return
		}
		limit = n
	}

	events, err := h.store.ListAlertEvents(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// HandleAlertGroups returns the derived alert group views.
func (h *FlowdHandlers) HandleAlertGroups(c *gin.Context) {
	groups, err := h.alerts.Groups(c.Request.Context(), 1000)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

// HandleListGroupStates returns all manual resolution overrides.
func (h *FlowdHandlers) HandleListGroupStates(c *gin.Context) {
	states, err := h.store.ListAlertGroupStates(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

// groupStateRequest is the body for manual group resolution.
type groupStateRequest struct {
	Identifier string `json:"identifier"`
	Resolved   bool   `json:"resolved"`
}

// HandleUpsertGroupState records a manual resolution override.
func (h *FlowdHandlers) HandleUpsertGroupState(c *gin.Context) {
	var req groupStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}

	state, err := h.store.UpsertAlertGroupState(c.Request.Context(), req.Identifier, req.Resolved)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// streamExists is shared with the WebSocket handler, which must check
// before upgrading.
func (h *FlowdHandlers) streamExists(ctx context.Context, id string) (bool, error) {
	_, err := h.store.GetStream(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
