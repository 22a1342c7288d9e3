package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

var (
	ErrInvalidUserID      = errors.New("invalid user id")
	ErrInvalidUserInput   = errors.New("invalid user input")
	ErrSelfBanForbidden   = errors.New("admin cannot ban self")
	ErrSelfDeleteDenied   = errors.New("admin cannot delete self")
	ErrUserHasRedemptions = errors.New("user has redeemed codes")
)

type CreateUserRequest struct {
	OperatorID    string
	Email         string
	PasswordPlain string
	FirstName     string
	LastName      string
	Role          model.Role
	EmailVerified bool
}

type UpdateUserRequest struct {
	OperatorID string
	FirstName  *string
	LastName   *string
	Role       *model.Role
	Status     *model.UserStatus
}

type userListOptions struct {
	status  *model.UserStatus
	role    *model.Role
	keyword *string
}

type UserFilter func(*userListOptions)

type UserService struct {
	userRepo  repository.UserRepository
	codeRepo  repository.CodeRepository
	tokenRepo repository.RefreshTokenRepository
	auditRepo repository.AuditRepository
	logger    *zap.Logger
}

func NewUserService(
	userRepo repository.UserRepository,
	codeRepo repository.CodeRepository,
	tokenRepo repository.RefreshTokenRepository,
	auditRepo repository.AuditRepository,
	logger *zap.Logger,
) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		userRepo:  userRepo,
		codeRepo:  codeRepo,
		tokenRepo: tokenRepo,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

func ByStatus(status model.UserStatus) UserFilter {
	return func(opts *userListOptions) {
		s := status
		opts.status = &s
	}
}

func ByRole(role model.Role) UserFilter {
	return func(opts *userListOptions) {
		r := role
		opts.role = &r
	}
}

func ByKeyword(keyword string) UserFilter {
	return func(opts *userListOptions) {
		trimmed := strings.TrimSpace(keyword)
		if trimmed == "" {
			return
		}
		opts.keyword = &trimmed
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	uid, err := parseUserID(id)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

func (s *UserService) List(ctx context.Context, page, pageSize int, filters ...UserFilter) ([]*model.User, int64, error) {
	options := &userListOptions{}
	for _, filter := range filters {
		if filter != nil {
			filter(options)
		}
	}

	repoFilter := repository.UserListFilter{
		Role:       options.role,
		Status:     options.status,
		Keyword:    options.keyword,
		Pagination: toRepoPagination(page, pageSize),
	}

	users, err := s.userRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.userRepo.Count(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

// Create is the back-office path: any role may be assigned and the email can be pre-verified.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(req.PasswordPlain); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = model.RoleClient
	}
	if !role.Valid() {
		return nil, ErrInvalidUserInput
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.PasswordPlain), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	passwordHash := string(hashed)

	now := time.Now().UTC()
	user := &model.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  &passwordHash,
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		Role:          role,
		Status:        model.UserStatusActive,
		EmailVerified: req.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.EmailVerified {
		user.EmailVerifiedAt = &now
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}

	s.writeAudit(ctx, req.OperatorID, model.AuditUserCreate, user.ID.String(), nil, map[string]interface{}{
		"id":    user.ID.String(),
		"email": user.Email,
		"role":  user.Role,
	})

	return user, nil
}

func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest) (*model.User, error) {
	uid, err := parseUserID(id)
	if err != nil {
		return nil, err
	}
	if req.Role != nil && !req.Role.Valid() {
		return nil, ErrInvalidUserInput
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, ErrInvalidUserInput
	}
	if req.Status != nil && *req.Status == model.UserStatusBanned && strings.TrimSpace(req.OperatorID) == uid.String() {
		return nil, ErrSelfBanForbidden
	}

	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	oldValue, newValue := applyUserUpdate(user, req)
	if len(newValue) == 0 {
		return user, nil
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	// banned accounts lose their sessions immediately
	if _, banned := newValue["status"]; banned && user.Status == model.UserStatusBanned && s.tokenRepo != nil {
		if err := s.tokenRepo.DeleteByUser(ctx, user.ID); err != nil {
			s.logger.Warn("revoke sessions of banned user failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	s.writeAudit(ctx, req.OperatorID, model.AuditUserUpdate, user.ID.String(), oldValue, newValue)

	return user, nil
}

// Delete removes an account that never redeemed a code. Winners are kept for prize traceability.
func (s *UserService) Delete(ctx context.Context, operatorID, id string) error {
	uid, err := parseUserID(id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(operatorID) == uid.String() {
		return ErrSelfDeleteDenied
	}

	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	used, err := s.codeRepo.CountUsedBy(ctx, uid)
	if err != nil {
		return err
	}
	if used > 0 {
		return ErrUserHasRedemptions
	}

	if err := s.userRepo.Delete(ctx, uid); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.writeAudit(ctx, operatorID, model.AuditUserDelete, uid.String(), map[string]interface{}{
		"email": user.Email,
		"role":  user.Role,
	}, nil)

	return nil
}

func applyUserUpdate(user *model.User, req UpdateUserRequest) (map[string]interface{}, map[string]interface{}) {
	oldValue := make(map[string]interface{})
	newValue := make(map[string]interface{})

	if req.FirstName != nil {
		name := strings.TrimSpace(*req.FirstName)
		if name != user.FirstName {
			oldValue["first_name"] = user.FirstName
			newValue["first_name"] = name
			user.FirstName = name
		}
	}

	if req.LastName != nil {
		name := strings.TrimSpace(*req.LastName)
		if name != user.LastName {
			oldValue["last_name"] = user.LastName
			newValue["last_name"] = name
			user.LastName = name
		}
	}

	if req.Role != nil && user.Role != *req.Role {
		oldValue["role"] = user.Role
		newValue["role"] = *req.Role
		user.Role = *req.Role
	}

	if req.Status != nil && user.Status != *req.Status {
		oldValue["status"] = user.Status
		newValue["status"] = *req.Status
		user.Status = *req.Status
	}

	return oldValue, newValue
}

func (s *UserService) writeAudit(
	ctx context.Context,
	operatorID string,
	action string,
	resourceID string,
	oldValue map[string]interface{},
	newValue map[string]interface{},
) {
	var actorID *uuid.UUID
	if operatorID != "" {
		if parsed, err := uuid.Parse(operatorID); err == nil {
			actorID = &parsed
		}
	}

	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       actorID,
		Action:       action,
		ResourceType: strPtr("user"),
		ResourceID:   strPtr(resourceID),
		OldValue:     oldValue,
		NewValue:     newValue,
	})
}
