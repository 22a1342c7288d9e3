package middleware

import (
	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/response"
	"thetiptop/internal/model"
	jwtutil "thetiptop/pkg/jwt"
)

// MaintenanceMode answers 503 while enabled reports true. Administrators pass through.
func MaintenanceMode(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled == nil || !enabled() {
			c.Next()
			return
		}

		if role, ok := ClaimsRole(c); ok && role == model.RoleAdmin {
			c.Next()
			return
		}
		if claims, ok := resolveClaimsFromRequest(c); ok {
			if role, err := model.ParseRole(claims.Role); err == nil && role == model.RoleAdmin {
				c.Set(claimsContextKey, claims)
				c.Next()
				return
			}
		}

		response.Fail(c, 503, response.ErrSystemMaintenance, "system maintenance")
		c.Abort()
	}
}

func resolveClaimsFromRequest(c *gin.Context) (*Claims, bool) {
	if c == nil {
		return nil, false
	}

	tokenString := tokenFromRequest(c)
	if tokenString == "" {
		return nil, false
	}

	publicKey, err := loadRSAPublicKey()
	if err != nil {
		return nil, false
	}

	claims, err := jwtutil.ParseAccessToken(tokenString, publicKey)
	if err != nil || claims == nil {
		return nil, false
	}

	return claims, true
}
