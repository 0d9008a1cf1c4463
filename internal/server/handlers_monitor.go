package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beenaround/backend/internal/monitoring"
)

func (h *httpHandler) handleMonitorStats(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusOK, monitoring.Stats{})
		return
	}
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

func (h *httpHandler) handleMonitorRequests(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusOK, []monitoring.RequestLog{})
		return
	}
	c.JSON(http.StatusOK, h.monitor.RecentRequests())
}
