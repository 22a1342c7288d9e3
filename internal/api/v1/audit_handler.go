package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	"thetiptop/internal/model"
	"thetiptop/internal/service"
)

type AuditHandler struct {
	auditService *service.AuditService
}

func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func RegisterAuditRoutes(group *gin.RouterGroup, auditService *service.AuditService) {
	if auditService == nil {
		return
	}

	handler := NewAuditHandler(auditService)
	audit := group.Group("/audit")
	audit.Use(middleware.JWTAuth(), middleware.RequireRole(model.RoleAdmin))
	audit.GET("", handler.List)
}

// List
// @Summary Audit trail
// @Tags audit
// @Produce json
// @Security ApiKeyAuth
// @Param user_id query string false "actor id"
// @Param action query string false "e.g. code.redeem, or code.* for every code action"
// @Param resource_type query string false "e.g. code"
// @Param resource_id query string false "e.g. a ticket code or a gain id"
// @Success 200 {object} response.Response
// @Router /api/v1/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("page_size"), 20)

	filter := service.AuditFilter{}
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		filter.UserID = &raw
	}
	if raw := strings.TrimSpace(c.Query("resource_type")); raw != "" {
		filter.ResourceType = &raw
	}
	if raw := strings.TrimSpace(c.Query("resource_id")); raw != "" {
		filter.ResourceID = &raw
	}
	if raw := strings.TrimSpace(c.Query("action")); raw != "" {
		filter.Action = &raw
	}

	from, err := parseQueryTime(c.Query("from"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid from")
		return
	}
	if !from.IsZero() {
		filter.From = &from
	}
	to, err := parseQueryTime(c.Query("to"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid to")
		return
	}
	if !to.IsZero() {
		filter.To = &to
	}

	items, total, err := h.auditService.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		handleAuditServiceError(c, err)
		return
	}

	response.Paginated(c, items, page, pageSize, total)
}

func handleAuditServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAuditInput),
		errors.Is(err, service.ErrInvalidUserID):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}
