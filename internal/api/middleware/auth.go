package middleware

import (
	"crypto/rsa"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"thetiptop/internal/api/response"
	"thetiptop/internal/model"
	jwtutil "thetiptop/pkg/jwt"
)

const claimsContextKey = "claims"

type Claims = jwtutil.Claims

var (
	jwtPublicKeyMu     sync.Mutex
	jwtPublicKeyLoaded bool
	jwtPublicKey       *rsa.PublicKey
	jwtPublicKeyErr    error
)

// SetJWTPublicKey overrides the key otherwise read from TIPTOP_JWT_PUBLIC_KEY[_FILE].
func SetJWTPublicKey(key *rsa.PublicKey) {
	jwtPublicKeyMu.Lock()
	defer jwtPublicKeyMu.Unlock()
	jwtPublicKey = key
	jwtPublicKeyErr = nil
	jwtPublicKeyLoaded = key != nil
}

func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := GetClaims(c); ok && claims != nil {
			c.Next()
			return
		}

		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		publicKey, err := loadRSAPublicKey()
		if err != nil {
			response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		claims, err := jwtutil.ParseAccessToken(tokenString, publicKey)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Fail(c, 401, response.ErrTokenExpired, "token expired")
			} else {
				response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			}
			c.Abort()
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireRole admits callers whose role includes minimum. Unknown role strings are refused.
func RequireRole(minimum model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		role, err := model.ParseRole(claims.Role)
		if err != nil || !role.Includes(minimum) {
			response.Fail(c, 403, response.ErrForbidden, "forbidden")
			c.Abort()
			return
		}

		c.Next()
	}
}

func GetClaims(c *gin.Context) (*Claims, bool) {
	val, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

// ClaimsRole returns the caller's parsed role, or false when absent or unknown.
func ClaimsRole(c *gin.Context) (model.Role, bool) {
	claims, ok := GetClaims(c)
	if !ok {
		return "", false
	}
	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return "", false
	}
	return role, true
}

func tokenFromRequest(c *gin.Context) string {
	if cookieToken, err := c.Cookie("access_token"); err == nil && cookieToken != "" {
		return cookieToken
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[7:])
}

func loadRSAPublicKey() (*rsa.PublicKey, error) {
	jwtPublicKeyMu.Lock()
	defer jwtPublicKeyMu.Unlock()
	if jwtPublicKeyLoaded {
		return jwtPublicKey, jwtPublicKeyErr
	}
	jwtPublicKeyLoaded = true

	pem := strings.TrimSpace(os.Getenv("TIPTOP_JWT_PUBLIC_KEY"))
	if pem == "" {
		path := strings.TrimSpace(os.Getenv("TIPTOP_JWT_PUBLIC_KEY_FILE"))
		if path != "" {
			// #nosec G304 -- path is provided by operator environment variable.
			buf, err := os.ReadFile(path)
			if err != nil {
				jwtPublicKeyErr = err
				return nil, err
			}
			pem = string(buf)
		}
	}
	if pem == "" {
		jwtPublicKeyErr = errors.New("jwt public key not configured")
		return nil, jwtPublicKeyErr
	}

	jwtPublicKey, jwtPublicKeyErr = jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	return jwtPublicKey, jwtPublicKeyErr
}
