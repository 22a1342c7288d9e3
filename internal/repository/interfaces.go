package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"thetiptop/internal/model"
)

type Pagination struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

type UserListFilter struct {
	Role       *model.Role       `json:"role,omitempty"`
	Status     *model.UserStatus `json:"status,omitempty"`
	Keyword    *string           `json:"keyword,omitempty"`
	Pagination Pagination        `json:"pagination"`
}

type CodeListFilter struct {
	GainID     *uuid.UUID `json:"gain_id,omitempty"`
	UsedBy     *uuid.UUID `json:"used_by,omitempty"`
	IsUsed     *bool      `json:"is_used,omitempty"`
	Delivered  *bool      `json:"delivered,omitempty"`
	Keyword    *string    `json:"keyword,omitempty"`
	Pagination Pagination `json:"pagination"`
}

// AuditListFilter narrows the audit trail. An Action ending in ".*" matches
// the whole family, e.g. "code.*".
type AuditListFilter struct {
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	Action       *string    `json:"action,omitempty"`
	ResourceType *string    `json:"resource_type,omitempty"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Pagination   Pagination `json:"pagination"`
}

type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByOAuth(ctx context.Context, provider, subject string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter UserListFilter) ([]*model.User, error)
	Count(ctx context.Context, filter UserListFilter) (int64, error)
}

type GainRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Gain, error)
	List(ctx context.Context, activeOnly bool) ([]*model.Gain, error)
	Create(ctx context.Context, gain *model.Gain) error
	Update(ctx context.Context, gain *model.Gain) error
}

type CodeRepository interface {
	FindByCode(ctx context.Context, code string) (*model.Code, error)
	// ExistingCodes returns the subset of candidates already stored.
	ExistingCodes(ctx context.Context, candidates []string) (map[string]struct{}, error)
	BatchCreate(ctx context.Context, codes []*model.Code) error
	// Redeem marks the code used by userID and takes one unit off its gain, atomically.
	Redeem(ctx context.Context, code string, userID uuid.UUID, at time.Time) (*model.Redemption, error)
	MarkDelivered(ctx context.Context, code string, employeeID uuid.UUID, at time.Time) (*model.Code, error)
	CountUsedBy(ctx context.Context, userID uuid.UUID) (int64, error)
	List(ctx context.Context, filter CodeListFilter) ([]*model.Code, error)
	Count(ctx context.Context, filter CodeListFilter) (int64, error)
	Stats(ctx context.Context) (*model.CodeStats, error)
}

// RefreshTokenRepository stores sha256 hashes of opaque refresh tokens, never the tokens themselves.
type RefreshTokenRepository interface {
	Create(ctx context.Context, tokenHash string, userID uuid.UUID, expiresAt time.Time) error
	// Rotate swaps oldHash for newHash and returns the owner. Expired tokens are removed and reported as ErrExpired.
	Rotate(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (uuid.UUID, error)
	Delete(ctx context.Context, tokenHash string) (uuid.UUID, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *model.AuditLog) error
	List(ctx context.Context, filter AuditListFilter) ([]*model.AuditLog, error)
	Count(ctx context.Context, filter AuditListFilter) (int64, error)
}
