package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	inputsanitize "thetiptop/internal/api/sanitize"
	"thetiptop/internal/model"
	"thetiptop/internal/service"
)

type GainHandler struct {
	gainService *service.GainService
}

func NewGainHandler(gainService *service.GainService) *GainHandler {
	return &GainHandler{gainService: gainService}
}

func RegisterGainRoutes(group *gin.RouterGroup, gainService *service.GainService) {
	if gainService == nil {
		return
	}

	handler := NewGainHandler(gainService)
	gains := group.Group("/gains")
	gains.GET("", handler.ListPublic)

	admin := gains.Group("")
	admin.Use(middleware.JWTAuth(), middleware.RequireRole(model.RoleAdmin))
	admin.GET("/all", handler.ListAll)
	admin.POST("", handler.Create)
	admin.PATCH("/:id", handler.Update)
}

// ListPublic
// @Summary Active prizes with their remaining stock
// @Tags gains
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/gains [get]
func (h *GainHandler) ListPublic(c *gin.Context) {
	gains, err := h.gainService.ListPublic(c.Request.Context())
	if err != nil {
		handleGainServiceError(c, err)
		return
	}

	response.Success(c, gains)
}

// ListAll
// @Summary Every prize, inactive ones included
// @Tags gains
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Router /api/v1/gains/all [get]
func (h *GainHandler) ListAll(c *gin.Context) {
	gains, err := h.gainService.ListAll(c.Request.Context())
	if err != nil {
		handleGainServiceError(c, err)
		return
	}

	response.Success(c, gains)
}

// Create
// @Summary Create a prize
// @Tags gains
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/gains [post]
func (h *GainHandler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req service.CreateGainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}
	req.Name = inputsanitize.Text(req.Name)
	req.Description = inputsanitize.Markdown(req.Description)

	gain, err := h.gainService.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		handleGainServiceError(c, err)
		return
	}

	response.Success(c, gain)
}

// Update
// @Summary Update a prize
// @Tags gains
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/gains/{id} [patch]
func (h *GainHandler) Update(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req service.UpdateGainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}
	req.Name = inputsanitize.TextPtr(req.Name)
	req.Description = inputsanitize.MarkdownPtr(req.Description)

	gain, err := h.gainService.Update(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		handleGainServiceError(c, err)
		return
	}

	response.Success(c, gain)
}

func handleGainServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrGainNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrGainNotFound, "gain not found")
	case errors.Is(err, service.ErrGainNameInUse):
		response.Fail(c, http.StatusConflict, response.ErrGainNameInUse, "gain name already in use")
	case errors.Is(err, service.ErrInvalidGainInput), errors.Is(err, service.ErrInvalidUserID):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}
