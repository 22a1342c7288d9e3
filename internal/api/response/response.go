package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess = 0
)

// Application codes are grouped by family: 1xxxx session, 2xxxx accounts, 3xxxx gains,
// 4xxxx game window, 5xxxx input, 6xxxx tickets, 9xxxx platform.
const (
	ErrUnauthorized = 10001
	ErrTokenExpired = 10002
	ErrForbidden    = 10003
)

const (
	ErrUserNotFound           = 20001
	ErrUserBanned             = 20002
	ErrPasswordWrong          = 20003
	ErrEmailInUse             = 20004
	ErrEmailNotVerified       = 20005
	ErrTooManyAttempts        = 20006
	ErrVerificationInvalid    = 20007
	ErrWeakPassword           = 20008
	ErrUserHasRedemptions     = 20009
	ErrOAuthIdentityInUse     = 20010
	ErrRefreshTokenInvalid    = 20011
	ErrSelfOperationForbidden = 20012
)

const (
	ErrGainNotFound  = 30001
	ErrGainNameInUse = 30002
)

const (
	ErrGameNotStarted     = 40001
	ErrGameEnded          = 40002
	ErrParticipationLimit = 40003
)

const (
	ErrInvalidRequest = 50001
)

const (
	ErrCodeNotFound         = 60001
	ErrCodeUsed             = 60002
	ErrCodeInvalidFormat    = 60004
	ErrGainExhausted        = 60005
	ErrCodeNotRedeemed      = 60006
	ErrCodeAlreadyDelivered = 60007
	ErrCodeGeneration       = 60008
)

const (
	ErrSystemMaintenance = 90001
	ErrRateLimited       = 90002
	ErrInternal          = 99999
)

type Response struct {
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Paginated wraps one page of a back-office listing (users, tickets, audit, logs).
func Paginated(c *gin.Context, data any, page, pageSize int, total int64) {
	pages := int64(0)
	if pageSize > 0 {
		pages = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: pages,
		},
	})
}

func Fail(c *gin.Context, httpStatus, appCode int, message string) {
	c.JSON(httpStatus, Response{
		Code:    appCode,
		Message: message,
	})
}
