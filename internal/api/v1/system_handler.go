package v1

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	"thetiptop/internal/model"
	"thetiptop/internal/service"
	"thetiptop/pkg/logger"
)

type SystemHandler struct {
	systemService *service.SystemService
	statsService  *service.StatsService
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func NewSystemHandler(systemService *service.SystemService, statsService *service.StatsService) *SystemHandler {
	return &SystemHandler{systemService: systemService, statsService: statsService}
}

func RegisterSystemRoutes(
	group *gin.RouterGroup,
	systemService *service.SystemService,
	statsService *service.StatsService,
) {
	if systemService == nil {
		return
	}

	handler := NewSystemHandler(systemService, statsService)
	group.GET("/game/status", handler.GameStatus)

	admin := group.Group("")
	admin.Use(middleware.JWTAuth(), middleware.RequireRole(model.RoleAdmin))
	if statsService != nil {
		admin.GET("/stats", handler.Stats)
	}
	admin.GET("/system/logs", handler.QueryLogs)
	admin.GET("/system/maintenance", handler.GetMaintenance)
	admin.PATCH("/system/maintenance", handler.SetMaintenance)
}

// GameStatus
// @Summary Whether redemptions are currently accepted
// @Tags system
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/game/status [get]
func (h *SystemHandler) GameStatus(c *gin.Context) {
	response.Success(c, h.systemService.GameStatus())
}

// Stats
// @Summary Dashboard figures per gain and overall
// @Tags system
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Router /api/v1/stats [get]
func (h *SystemHandler) Stats(c *gin.Context) {
	overview, err := h.statsService.Overview(c.Request.Context())
	if err != nil {
		handleSystemServiceError(c, err)
		return
	}

	response.Success(c, overview)
}

// QueryLogs
// @Summary Recent application logs
// @Tags system
// @Produce json
// @Security ApiKeyAuth
// @Param level query string false "minimum level: debug, info, warn or error"
// @Param component query string false "logger name, e.g. redemption or scheduler"
// @Param keyword query string false "message fragment"
// @Success 200 {object} response.Response
// @Router /api/v1/system/logs [get]
func (h *SystemHandler) QueryLogs(c *gin.Context) {
	query := logger.LogQuery{
		MinLevel:  strings.TrimSpace(c.Query("level")),
		Component: strings.TrimSpace(c.Query("component")),
		Keyword:   strings.TrimSpace(c.Query("keyword")),
		Page:      parseIntOrDefault(c.Query("page"), 1),
		PageSize:  parseIntOrDefault(c.Query("page_size"), 20),
	}

	var err error
	if query.From, err = parseQueryTime(c.Query("from")); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid from")
		return
	}
	if query.To, err = parseQueryTime(c.Query("to")); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid to")
		return
	}

	items, total, err := h.systemService.QueryLogs(query)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid level")
		return
	}
	response.Paginated(c, items, query.Page, query.PageSize, total)
}

// GetMaintenance
// @Summary Maintenance flag
// @Tags system
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Router /api/v1/system/maintenance [get]
func (h *SystemHandler) GetMaintenance(c *gin.Context) {
	response.Success(c, gin.H{"maintenance_mode": h.systemService.IsMaintenance()})
}

// SetMaintenance
// @Summary Toggle maintenance mode
// @Tags system
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/system/maintenance [patch]
func (h *SystemHandler) SetMaintenance(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	if err := h.systemService.SetMaintenance(c.Request.Context(), claims.UserID, *req.Enabled); err != nil {
		handleSystemServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"maintenance_mode": *req.Enabled})
}

func parseQueryTime(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts.UTC(), nil
	}

	return time.Time{}, errors.New("invalid time")
}

func handleSystemServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUserID):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}
