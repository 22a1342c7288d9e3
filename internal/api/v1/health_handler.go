package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/response"
	"thetiptop/internal/service"
)

type HealthHandler struct {
	systemService *service.SystemService
}

func NewHealthHandler(systemService *service.SystemService) *HealthHandler {
	return &HealthHandler{systemService: systemService}
}

// RegisterHealthRoutes mounts liveness and readiness probes. They bypass maintenance mode.
func RegisterHealthRoutes(router gin.IRoutes, systemService *service.SystemService) {
	handler := NewHealthHandler(systemService)
	router.GET("/health", handler.Live)
	router.GET("/health/ready", handler.Ready)
}

func (h *HealthHandler) Live(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// Ready answers 503 when the database is unreachable. A degraded cache still counts as ready.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.systemService == nil {
		response.Success(c, gin.H{"status": "ok"})
		return
	}

	report := h.systemService.Health(c.Request.Context())
	if report.Status == "down" {
		c.JSON(http.StatusServiceUnavailable, response.Response{
			Code:    response.ErrInternal,
			Message: "not ready",
			Data:    report,
		})
		return
	}

	response.Success(c, report)
}
