package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes attaches the control plane API to the router.
func (h *FlowdHandlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/streams", h.HandleListStreams)
		api.POST("/streams", h.HandleCreateStream)
		api.GET("/streams/:id", h.HandleGetStream)
		api.PUT("/streams/:id", h.HandleUpdateStream)
		api.DELETE("/streams/:id", h.HandleDeleteStream)
		api.POST("/streams/:id/activate", h.HandleActivateStream)
		api.POST("/streams/:id/deactivate", h.HandleDeactivateStream)
		api.GET("/streams/:id/worker-logs", h.HandleWorkerLogs)

		api.GET("/settings/system", h.HandleGetSettings)
		api.PUT("/settings/system", h.HandleUpdateSettings)

		api.POST("/alerts/webhook", h.HandleAlertWebhook)
		api.GET("/alerts", h.HandleListAlerts)
		api.GET("/alerts/groups", h.HandleAlertGroups)
		api.GET("/alerts/group-states", h.HandleListGroupStates)
		api.POST("/alerts/group-states", h.HandleUpsertGroupState)
	}

	router.GET("/ws/frames", h.HandleFramesWS)
}
