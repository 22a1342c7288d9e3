package v1

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	"thetiptop/internal/codegen"
	"thetiptop/internal/model"
	"thetiptop/internal/service"
)

const (
	redeemRateLimit  = 10
	redeemRateWindow = time.Minute
)

type CodeHandler struct {
	redemptionService *service.RedemptionService
	codeService       *service.CodeService
}

type redeemRequest struct {
	Code string `json:"code" binding:"required"`
}

type seedRequest struct {
	Total int `json:"total" binding:"required"`
}

type seedBatchSummary struct {
	BatchID  uuid.UUID `json:"batch_id"`
	GainID   uuid.UUID `json:"gain_id"`
	GainName string    `json:"gain_name"`
	Count    int       `json:"count"`
}

func NewCodeHandler(redemptionService *service.RedemptionService, codeService *service.CodeService) *CodeHandler {
	return &CodeHandler{
		redemptionService: redemptionService,
		codeService:       codeService,
	}
}

func RegisterCodeRoutes(
	group *gin.RouterGroup,
	redemptionService *service.RedemptionService,
	codeService *service.CodeService,
) {
	if redemptionService == nil || codeService == nil {
		return
	}

	handler := NewCodeHandler(redemptionService, codeService)
	codes := group.Group("/codes")
	codes.Use(middleware.JWTAuth())

	codes.POST(
		"/redeem",
		middleware.RequireRole(model.RoleClient),
		middleware.RateLimit("redeem:{user_id}", redeemRateLimit, redeemRateWindow),
		handler.Redeem,
	)
	codes.GET("/redeem/history", handler.ListRedeemHistory)

	staff := codes.Group("")
	staff.Use(middleware.RequireRole(model.RoleEmployee))
	staff.GET("/lookup/:code", middleware.AuditLog(model.AuditCodeLookup, "code"), handler.Lookup)
	staff.POST("/:code/deliver", handler.Deliver)

	admin := codes.Group("")
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.GET("", handler.List)
	admin.POST("/batch-generate", handler.BatchGenerate)
	admin.POST("/seed", handler.Seed)
}

// Redeem
// @Summary Redeem a ticket code
// @Tags codes
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 410 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/codes/redeem [post]
func (h *CodeHandler) Redeem(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	redemption, err := h.redemptionService.Redeem(c.Request.Context(), claims.UserID, req.Code)
	if err != nil {
		handleCodeServiceError(c, err)
		return
	}

	response.Success(c, redemption)
}

// ListRedeemHistory
// @Summary Codes redeemed by the caller
// @Tags codes
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Router /api/v1/codes/redeem/history [get]
func (h *CodeHandler) ListRedeemHistory(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("page_size"), 20)

	items, total, err := h.redemptionService.ListHistory(c.Request.Context(), claims.UserID, page, pageSize)
	if err != nil {
		handleCodeServiceError(c, err)
		return
	}

	response.Paginated(c, items, page, pageSize, total)
}

// Lookup
// @Summary Prize and winner of a code, for the shop counter
// @Tags codes
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/codes/lookup/{code} [get]
func (h *CodeHandler) Lookup(c *gin.Context) {
	detail, err := h.redemptionService.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleCodeServiceError(c, err)
		return
	}

	response.Success(c, detail)
}

// Deliver
// @Summary Mark the prize of a redeemed code as handed over
// @Tags codes
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/codes/{code}/deliver [post]
func (h *CodeHandler) Deliver(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	item, err := h.redemptionService.Deliver(c.Request.Context(), claims.UserID, c.Param("code"))
	if err != nil {
		handleCodeServiceError(c, err)
		return
	}

	response.Success(c, item)
}

// List
// @Summary List codes
// @Tags codes
// @Produce json
// @Security ApiKeyAuth
// @Param gain_id query string false "gain id"
// @Param is_used query bool false "redeemed codes only"
// @Param delivered query bool false "delivered codes only"
// @Param keyword query string false "code prefix"
// @Success 200 {object} response.Response
// @Router /api/v1/codes [get]
func (h *CodeHandler) List(c *gin.Context) {
	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("page_size"), 20)

	filter := service.CodeFilter{}
	if raw := strings.TrimSpace(c.Query("gain_id")); raw != "" {
		filter.GainID = &raw
	}
	if raw := strings.TrimSpace(c.Query("keyword")); raw != "" {
		filter.Keyword = &raw
	}

	var err error
	if filter.IsUsed, err = parseBoolQuery(c.Query("is_used")); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid is_used")
		return
	}
	if filter.Delivered, err = parseBoolQuery(c.Query("delivered")); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid delivered")
		return
	}

	items, total, err := h.codeService.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		handleCodeServiceError(c, err)
		return
	}

	response.Paginated(c, items, page, pageSize, total)
}

// BatchGenerate
// @Summary Generate a batch of codes for one gain
// @Tags codes
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/codes/batch-generate [post]
func (h *CodeHandler) BatchGenerate(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req service.BatchGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	result, err := h.codeService.BatchGenerate(c.Request.Context(), claims.UserID, req)
	if err != nil {
		handleCodeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// Seed
// @Summary Spread codes over the active gains by quantity
// @Tags codes
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/codes/seed [post]
func (h *CodeHandler) Seed(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req seedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	results, err := h.codeService.SeedDistribution(c.Request.Context(), claims.UserID, req.Total)
	if err != nil {
		handleCodeServiceError(c, err)
		return
	}

	summary := make([]seedBatchSummary, 0, len(results))
	for _, result := range results {
		summary = append(summary, seedBatchSummary{
			BatchID:  result.BatchID,
			GainID:   result.GainID,
			GainName: result.GainName,
			Count:    result.Count,
		})
	}
	response.Success(c, summary)
}

func handleCodeServiceError(c *gin.Context, err error) {
	var exhausted *codegen.ExhaustedError

	switch {
	case errors.Is(err, service.ErrInvalidCodeFormat):
		response.Fail(c, http.StatusBadRequest, response.ErrCodeInvalidFormat, "invalid code format")
	case errors.Is(err, service.ErrCodeNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrCodeNotFound, "code not found")
	case errors.Is(err, service.ErrCodeAlreadyUsed):
		response.Fail(c, http.StatusConflict, response.ErrCodeUsed, "code already used")
	case errors.Is(err, service.ErrGainExhausted):
		response.Fail(c, http.StatusGone, response.ErrGainExhausted, "prize no longer available")
	case errors.Is(err, service.ErrGameNotStarted):
		response.Fail(c, http.StatusForbidden, response.ErrGameNotStarted, "game has not started")
	case errors.Is(err, service.ErrGameEnded):
		response.Fail(c, http.StatusForbidden, response.ErrGameEnded, "game has ended")
	case errors.Is(err, service.ErrEmailNotVerified):
		response.Fail(c, http.StatusForbidden, response.ErrEmailNotVerified, "email not verified")
	case errors.Is(err, service.ErrParticipationLimit):
		response.Fail(c, http.StatusTooManyRequests, response.ErrParticipationLimit, "daily participation limit reached")
	case errors.Is(err, service.ErrUserBanned):
		response.Fail(c, http.StatusForbidden, response.ErrUserBanned, "user banned")
	case errors.Is(err, service.ErrUserNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrUserNotFound, "user not found")
	case errors.Is(err, service.ErrCodeNotRedeemed):
		response.Fail(c, http.StatusConflict, response.ErrCodeNotRedeemed, "code not redeemed yet")
	case errors.Is(err, service.ErrAlreadyDelivered):
		response.Fail(c, http.StatusConflict, response.ErrCodeAlreadyDelivered, "prize already delivered")
	case errors.Is(err, service.ErrGainNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrGainNotFound, "gain not found")
	case errors.Is(err, service.ErrCodeConflict):
		response.Fail(c, http.StatusConflict, response.ErrCodeGeneration, "code generation collided, retry")
	case errors.As(err, &exhausted):
		response.Fail(c, http.StatusInternalServerError, response.ErrCodeGeneration, exhausted.Error())
	case errors.Is(err, service.ErrInvalidCodeInput), errors.Is(err, service.ErrInvalidUserID):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}
