package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	inputsanitize "thetiptop/internal/api/sanitize"
	"thetiptop/internal/model"
	"thetiptop/internal/service"
)

type UserHandler struct {
	userService *service.UserService
}

type createUserRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role"`
	Status    *string `json:"status"`
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func RegisterUserRoutes(group *gin.RouterGroup, userService *service.UserService) {
	if userService == nil {
		return
	}

	handler := NewUserHandler(userService)
	users := group.Group("/users")
	users.Use(middleware.JWTAuth())
	users.GET("/me", handler.Me)

	admin := users.Group("")
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.GET("", handler.List)
	admin.POST("", handler.Create)
	admin.GET("/:id", handler.Get)
	admin.PATCH("/:id", handler.Update)
	admin.DELETE("/:id", handler.Delete)
}

// Me
// @Summary Current account
// @Tags users
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	user, err := h.userService.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		handleUserServiceError(c, err)
		return
	}

	response.Success(c, user)
}

// List
// @Summary List accounts
// @Tags users
// @Produce json
// @Security ApiKeyAuth
// @Param role query string false "CLIENT, EMPLOYEE or ADMIN"
// @Param status query string false "active or banned"
// @Param keyword query string false "email or name fragment"
// @Success 200 {object} response.Response
// @Router /api/v1/users [get]
func (h *UserHandler) List(c *gin.Context) {
	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("page_size"), 20)

	filters := make([]service.UserFilter, 0, 3)
	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		role, err := model.ParseRole(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid role")
			return
		}
		filters = append(filters, service.ByRole(role))
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := model.UserStatus(strings.ToLower(raw))
		if !status.Valid() {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid status")
			return
		}
		filters = append(filters, service.ByStatus(status))
	}
	if raw := strings.TrimSpace(c.Query("keyword")); raw != "" {
		filters = append(filters, service.ByKeyword(raw))
	}

	users, total, err := h.userService.List(c.Request.Context(), page, pageSize, filters...)
	if err != nil {
		handleUserServiceError(c, err)
		return
	}

	response.Paginated(c, users, page, pageSize, total)
}

// Get
// @Summary Account detail
// @Tags users
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.userService.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleUserServiceError(c, err)
		return
	}

	response.Success(c, user)
}

// Create
// @Summary Create an account with any role
// @Tags users
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/users [post]
func (h *UserHandler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	var role model.Role
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := model.ParseRole(req.Role)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid role")
			return
		}
		role = parsed
	}

	user, err := h.userService.Create(c.Request.Context(), service.CreateUserRequest{
		OperatorID:    claims.UserID,
		Email:         req.Email,
		PasswordPlain: req.Password,
		FirstName:     inputsanitize.Text(req.FirstName),
		LastName:      inputsanitize.Text(req.LastName),
		Role:          role,
		EmailVerified: req.EmailVerified,
	})
	if err != nil {
		handleUserServiceError(c, err)
		return
	}

	response.Success(c, user)
}

// Update
// @Summary Update names, role or status
// @Tags users
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/users/{id} [patch]
func (h *UserHandler) Update(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	update := service.UpdateUserRequest{
		OperatorID: claims.UserID,
		FirstName:  inputsanitize.TextPtr(req.FirstName),
		LastName:   inputsanitize.TextPtr(req.LastName),
	}
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid role")
			return
		}
		update.Role = &role
	}
	if req.Status != nil {
		status := model.UserStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		update.Status = &status
	}

	user, err := h.userService.Update(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		handleUserServiceError(c, err)
		return
	}

	response.Success(c, user)
}

// Delete
// @Summary Delete an account that never redeemed a code
// @Tags users
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	if err := h.userService.Delete(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		handleUserServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "user deleted"})
}

func handleUserServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrUserNotFound, "user not found")
	case errors.Is(err, service.ErrUserBanned):
		response.Fail(c, http.StatusForbidden, response.ErrUserBanned, "user banned")
	case errors.Is(err, service.ErrEmailInUse):
		response.Fail(c, http.StatusConflict, response.ErrEmailInUse, "email already registered")
	case errors.Is(err, service.ErrWeakPassword):
		response.Fail(c, http.StatusBadRequest, response.ErrWeakPassword, "password too weak")
	case errors.Is(err, service.ErrInvalidUserID), errors.Is(err, service.ErrInvalidUserInput):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
	case errors.Is(err, service.ErrSelfBanForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrSelfOperationForbidden, "cannot ban self")
	case errors.Is(err, service.ErrSelfDeleteDenied):
		response.Fail(c, http.StatusForbidden, response.ErrSelfOperationForbidden, "cannot delete self")
	case errors.Is(err, service.ErrUserHasRedemptions):
		response.Fail(c, http.StatusConflict, response.ErrUserHasRedemptions, "user has redeemed codes, ban instead")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}

func parseIntOrDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func parseBoolQuery(raw string) (*bool, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
