package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

var (
	ErrInvalidAuditInput = errors.New("invalid audit input")
)

type AuditFilter struct {
	UserID       *string    `json:"user_id,omitempty"`
	ResourceType *string    `json:"resource_type,omitempty"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	Action       *string    `json:"action,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

type AuditService struct {
	auditRepo repository.AuditRepository
}

func NewAuditService(auditRepo repository.AuditRepository) *AuditService {
	return &AuditService{auditRepo: auditRepo}
}

func (s *AuditService) List(
	ctx context.Context,
	filter AuditFilter,
	page, pageSize int,
) ([]*model.AuditLog, int64, error) {
	if s.auditRepo == nil {
		return nil, 0, errors.New("audit repository is nil")
	}

	repoFilter := repository.AuditListFilter{
		Action:       normalizeStringPointer(filter.Action),
		ResourceType: normalizeStringPointer(filter.ResourceType),
		ResourceID:   normalizeStringPointer(filter.ResourceID),
		StartTime:    filter.From,
		EndTime:      filter.To,
		Pagination:   toRepoPagination(page, pageSize),
	}
	if filter.UserID != nil && strings.TrimSpace(*filter.UserID) != "" {
		uid, err := parseUserID(*filter.UserID)
		if err != nil {
			return nil, 0, err
		}
		repoFilter.UserID = &uid
	}
	// ticket codes are stored upper-case
	if repoFilter.ResourceID != nil && repoFilter.ResourceType != nil && *repoFilter.ResourceType == "code" {
		upper := strings.ToUpper(*repoFilter.ResourceID)
		repoFilter.ResourceID = &upper
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, ErrInvalidAuditInput
	}

	items, err := s.auditRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.auditRepo.Count(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// writeAuditLog records log and only reports failures; audit must never fail the caller.
func writeAuditLog(ctx context.Context, repo repository.AuditRepository, logger *zap.Logger, log *model.AuditLog) {
	if repo == nil || log == nil {
		return
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if err := repo.Create(ctx, log); err != nil && logger != nil {
		logger.Warn("write audit log failed", zap.String("action", log.Action), zap.Error(err))
	}
}
