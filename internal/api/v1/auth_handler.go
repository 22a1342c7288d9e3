package v1

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	inputsanitize "thetiptop/internal/api/sanitize"
	"thetiptop/internal/service"
)

const (
	accessTokenCookieName  = "access_token"
	refreshTokenCookieName = "refresh_token"
)

const (
	loginIPLimit     = 20
	loginEmailLimit  = 10
	loginLimitWindow = time.Minute
)

// CookieConfig sets the lifetime of the session cookies. It mirrors the token TTLs.
type CookieConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 2 * time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
	return c
}

type AuthHandler struct {
	authService *service.AuthService
	cookies     CookieConfig
}

type registerRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type verifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

type resendVerificationRequest struct {
	Email string `json:"email" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func NewAuthHandler(authService *service.AuthService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{authService: authService, cookies: cookies.withDefaults()}
}

func RegisterAuthRoutes(group *gin.RouterGroup, authService *service.AuthService, cookies CookieConfig) {
	if authService == nil {
		return
	}

	handler := NewAuthHandler(authService, cookies)
	auth := group.Group("/auth")
	auth.POST("/register", middleware.RateLimit("register:{ip}", loginIPLimit, loginLimitWindow), handler.Register)
	auth.POST(
		"/login",
		middleware.RateLimit("login:{ip}", loginIPLimit, loginLimitWindow),
		middleware.RateLimitByJSONField("email", loginEmailLimit, loginLimitWindow),
		handler.Login,
	)
	auth.POST("/refresh", handler.Refresh)
	auth.POST("/logout", handler.Logout)
	auth.POST("/verify-email", handler.VerifyEmail)
	auth.POST(
		"/resend-verification",
		middleware.RateLimitByJSONField("email", 3, 10*time.Minute),
		handler.ResendVerification,
	)
	auth.POST("/password", middleware.JWTAuth(), handler.ChangePassword)
}

// Register
// @Summary Register a participant account
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	user, err := h.authService.Register(c.Request.Context(), service.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: inputsanitize.Text(req.FirstName),
		LastName:  inputsanitize.Text(req.LastName),
	})
	if err != nil {
		handleAuthError(c, err)
		return
	}

	response.Success(c, user)
}

// Login
// @Summary Login with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	accessToken, refreshToken, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(c, err)
		return
	}

	h.setSessionCookies(c, accessToken, refreshToken)
	response.Success(c, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// Refresh
// @Summary Rotate the refresh token
// @Tags auth
// @Produce json
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := refreshTokenFromRequest(c)
	if refreshToken == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	newAccessToken, newRefreshToken, err := h.authService.RefreshToken(c.Request.Context(), refreshToken)
	if err != nil {
		handleAuthError(c, err)
		return
	}

	h.setSessionCookies(c, newAccessToken, newRefreshToken)
	response.Success(c, gin.H{
		"access_token":  newAccessToken,
		"refresh_token": newRefreshToken,
	})
}

// Logout
// @Summary Revoke the current refresh token
// @Tags auth
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken := refreshTokenFromRequest(c)
	if err := h.authService.Logout(c.Request.Context(), refreshToken); err != nil && !errors.Is(err, service.ErrRefreshTokenInvalid) {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
		return
	}

	clearCookie(c, accessTokenCookieName)
	clearCookie(c, refreshTokenCookieName)
	response.Success(c, gin.H{"message": "logout success"})
}

// VerifyEmail
// @Summary Confirm an email address with the mailed token
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	user, err := h.authService.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		handleAuthError(c, err)
		return
	}

	response.Success(c, user)
}

// ResendVerification
// @Summary Send a new verification email
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req resendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	if err := h.authService.ResendVerification(c.Request.Context(), req.Email); err != nil {
		handleAuthError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "if the account exists, a new email was sent"})
}

// ChangePassword
// @Summary Change the caller's password and end every session
// @Tags auth
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
		return
	}

	err := h.authService.ChangePassword(c.Request.Context(), claims.UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		handleAuthError(c, err)
		return
	}

	clearCookie(c, accessTokenCookieName)
	clearCookie(c, refreshTokenCookieName)
	response.Success(c, gin.H{"message": "password changed"})
}

func (h *AuthHandler) setSessionCookies(c *gin.Context, accessToken, refreshToken string) {
	setSecureCookie(c, accessTokenCookieName, accessToken, int(h.cookies.AccessTTL.Seconds()))
	setSecureCookie(c, refreshTokenCookieName, refreshToken, int(h.cookies.RefreshTTL.Seconds()))
}

// refreshTokenFromRequest accepts the cookie or a JSON body for non-browser clients.
func refreshTokenFromRequest(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token)
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&body)
	}
	return strings.TrimSpace(body.RefreshToken)
}

func handleAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.ErrPasswordWrong, "email or password incorrect")
	case errors.Is(err, service.ErrTooManyAttempts):
		response.Fail(c, http.StatusTooManyRequests, response.ErrTooManyAttempts, "too many failed attempts")
	case errors.Is(err, service.ErrUserBanned):
		response.Fail(c, http.StatusForbidden, response.ErrUserBanned, "user banned")
	case errors.Is(err, service.ErrUserNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrUserNotFound, "user not found")
	case errors.Is(err, service.ErrEmailInUse):
		response.Fail(c, http.StatusConflict, response.ErrEmailInUse, "email already registered")
	case errors.Is(err, service.ErrWeakPassword):
		response.Fail(c, http.StatusBadRequest, response.ErrWeakPassword, "password must be 8 to 72 characters with a letter and a digit")
	case errors.Is(err, service.ErrVerificationTokenInvalid):
		response.Fail(c, http.StatusBadRequest, response.ErrVerificationInvalid, "verification link invalid or expired")
	case errors.Is(err, service.ErrRefreshTokenExpired):
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenExpired, "refresh token expired")
	case errors.Is(err, service.ErrRefreshTokenInvalid):
		response.Fail(c, http.StatusUnauthorized, response.ErrRefreshTokenInvalid, "invalid refresh token")
	case errors.Is(err, service.ErrInvalidUserID), errors.Is(err, service.ErrInvalidUserInput):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error")
	}
}

func setSecureCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, maxAge, "/", "", true, true)
}

func clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, "", -1, "/", "", true, true)
}
