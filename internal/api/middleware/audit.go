package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

const auditWriteTimeout = 2 * time.Second

var (
	auditRepoMu sync.RWMutex
	auditRepo   repository.AuditRepository
)

func SetAuditRepository(repo repository.AuditRepository) {
	auditRepoMu.Lock()
	defer auditRepoMu.Unlock()
	auditRepo = repo
}

// AuditLog records staff reads that services do not audit themselves, such as code lookups.
// Misses are kept as well so repeated probing of unknown codes shows up in the trail; only
// requests rejected before reaching the handler (401/403) are skipped.
func AuditLog(action, resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		repo := currentAuditRepository()
		if repo == nil {
			return
		}
		status := c.Writer.Status()
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return
		}

		entry := &model.AuditLog{
			Action:       action,
			ResourceType: optionalString(resourceType),
			ResourceID:   auditResourceID(c),
			NewValue:     map[string]interface{}{"status": status},
			IPAddress:    optionalString(c.ClientIP()),
			UserAgent:    optionalString(c.Request.UserAgent()),
			CreatedAt:    time.Now().UTC(),
		}
		if claims, ok := GetClaims(c); ok {
			if id, err := uuid.Parse(claims.UserID); err == nil {
				entry.UserID = &id
			}
			entry.NewValue["role"] = claims.Role
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			defer cancel()
			_ = repo.Create(ctx, entry)
		}()
	}
}

func currentAuditRepository() repository.AuditRepository {
	auditRepoMu.RLock()
	defer auditRepoMu.RUnlock()
	return auditRepo
}

// auditResourceID prefers the ticket code, normalised the way redemption stores it.
func auditResourceID(c *gin.Context) *string {
	if code := strings.ToUpper(strings.TrimSpace(c.Param("code"))); code != "" {
		return &code
	}
	return optionalString(c.Param("id"))
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
