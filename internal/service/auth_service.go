package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"thetiptop/internal/cache"
	"thetiptop/internal/event"
	"thetiptop/internal/metrics"
	"thetiptop/internal/model"
	"thetiptop/internal/repository"
	tokencrypto "thetiptop/pkg/crypto"
	jwtutil "thetiptop/pkg/jwt"
)

const (
	defaultAccessTokenTTL  = 2 * time.Hour
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultVerifyTokenTTL  = 48 * time.Hour
	defaultMaxFailedLogins = 5
	defaultLockoutWindow   = 15 * time.Minute
	minPasswordLength      = 8
	maxPasswordLength      = 72
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrUserBanned               = errors.New("user banned")
	ErrRefreshTokenInvalid      = errors.New("refresh token invalid")
	ErrRefreshTokenExpired      = errors.New("refresh token expired")
	ErrUserNotFound             = errors.New("user not found")
	ErrEmailInUse               = errors.New("email already registered")
	ErrWeakPassword             = errors.New("password does not meet requirements")
	ErrTooManyAttempts          = errors.New("too many failed login attempts")
	ErrVerificationTokenInvalid = errors.New("verification token invalid or expired")
	ErrOAuthIdentityInUse       = errors.New("oauth identity linked to another account")
)

type AuthConfig struct {
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerifyTokenTTL  time.Duration
	MaxFailedLogins int
	LockoutWindow   time.Duration
	BcryptCost      int
}

func (c AuthConfig) withDefaults() AuthConfig {
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaultAccessTokenTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaultRefreshTokenTTL
	}
	if c.VerifyTokenTTL <= 0 {
		c.VerifyTokenTTL = defaultVerifyTokenTTL
	}
	if c.MaxFailedLogins <= 0 {
		c.MaxFailedLogins = defaultMaxFailedLogins
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = defaultLockoutWindow
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return c
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type AuthService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.RefreshTokenRepository
	auditRepo  repository.AuditRepository
	cache      cache.Cache
	bus        *event.Bus
	privateKey *rsa.PrivateKey
	cfg        AuthConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.RefreshTokenRepository,
	auditRepo repository.AuditRepository,
	kv cache.Cache,
	bus *event.Bus,
	privateKey *rsa.PrivateKey,
	cfg AuthConfig,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if kv == nil {
		kv = cache.NewMemoryCache()
	}

	return &AuthService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		auditRepo:  auditRepo,
		cache:      kv,
		bus:        bus,
		privateKey: privateKey,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

// Register creates an unverified CLIENT account and publishes a verification token for it.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	passwordHash := string(hashed)

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: &passwordHash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         model.RoleClient,
		Status:       model.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}

	s.writeAudit(ctx, &user.ID, model.AuditUserRegister)

	if err := s.publishVerification(ctx, user, event.EventUserRegistered); err != nil {
		s.logger.Warn("issue verification token failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	return user, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrVerificationTokenInvalid
	}

	raw, err := s.cache.Take(ctx, cache.VerifyTokenKey(tokencrypto.HashToken(token)))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ErrVerificationTokenInvalid
		}
		return nil, err
	}

	uid, err := uuid.Parse(raw)
	if err != nil {
		return nil, ErrVerificationTokenInvalid
	}

	if err := s.userRepo.MarkEmailVerified(ctx, uid, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, &uid, model.AuditUserVerifyEmail)
	return user, nil
}

// ResendVerification never reports whether the address exists.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.EmailVerified || user.Status == model.UserStatusBanned {
		return nil
	}

	return s.publishVerification(ctx, user, event.EventVerifyResent)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error) {
	if s.privateKey == nil {
		return "", "", errors.New("private key is nil")
	}

	email = normalizeEmail(email)
	failuresKey := cache.LoginFailuresKey(email)
	if !s.claimAttempt(ctx, failuresKey) {
		return "", "", ErrTooManyAttempts
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.IncLoginFailure()
			return "", "", ErrInvalidCredentials
		}
		s.releaseAttempt(failuresKey)
		return "", "", err
	}

	if user.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		metrics.IncLoginFailure()
		return "", "", ErrInvalidCredentials
	}

	if user.Status == model.UserStatusBanned {
		s.releaseAttempt(failuresKey)
		return "", "", ErrUserBanned
	}

	if err := s.cache.Delete(ctx, failuresKey); err != nil {
		s.logger.Warn("reset login failure counter failed", zap.Error(err))
	}

	accessToken, refreshToken, err = s.issueTokensForUser(ctx, user)
	if err != nil {
		return "", "", err
	}

	s.writeAudit(ctx, &user.ID, model.AuditUserLogin)

	return accessToken, refreshToken, nil
}

func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (newAccessToken, newRefreshToken string, err error) {
	if s.privateKey == nil {
		return "", "", errors.New("private key is nil")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return "", "", ErrRefreshTokenInvalid
	}

	newRefreshToken, err = jwtutil.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := s.now().UTC()
	userID, err := s.tokenRepo.Rotate(
		ctx,
		tokencrypto.HashToken(refreshToken),
		tokencrypto.HashToken(newRefreshToken),
		now.Add(s.cfg.RefreshTTL),
		now,
	)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return "", "", ErrRefreshTokenInvalid
		case errors.Is(err, repository.ErrExpired):
			return "", "", ErrRefreshTokenExpired
		default:
			return "", "", err
		}
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", ErrUserNotFound
		}
		return "", "", err
	}
	if user.Status == model.UserStatusBanned {
		_ = s.tokenRepo.DeleteByUser(ctx, user.ID)
		return "", "", ErrUserBanned
	}

	newAccessToken, err = s.signAccessToken(user)
	if err != nil {
		return "", "", err
	}

	return newAccessToken, newRefreshToken, nil
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return ErrRefreshTokenInvalid
	}

	userID, err := s.tokenRepo.Delete(ctx, tokencrypto.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	s.writeAudit(ctx, &userID, model.AuditUserLogout)

	return nil
}

// ChangePassword replaces the password and revokes every refresh token of the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPwd, newPwd string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return ErrUserNotFound
	}

	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if user.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(oldPwd)) != nil {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPwd); err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPwd), s.cfg.BcryptCost)
	if err != nil {
		return err
	}

	passwordHash := string(hashed)
	user.PasswordHash = &passwordHash
	if err := s.userRepo.Update(ctx, user); err != nil {
		return err
	}

	return s.tokenRepo.DeleteByUser(ctx, uid)
}

// LinkOAuthIdentity stores a provider identity on an account. Provider flows live outside this service.
func (s *AuthService) LinkOAuthIdentity(ctx context.Context, userID, provider, subject string) (*model.User, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	subject = strings.TrimSpace(subject)
	if provider == "" || subject == "" {
		return nil, ErrInvalidUserInput
	}

	existing, err := s.userRepo.FindByOAuth(ctx, provider, subject)
	switch {
	case err == nil && existing.ID != uid:
		return nil, ErrOAuthIdentityInUse
	case err == nil:
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	user.OAuthProvider = &provider
	user.OAuthSubject = &subject
	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrOAuthIdentityInUse
		}
		return nil, err
	}

	return user, nil
}

func (s *AuthService) publishVerification(ctx context.Context, user *model.User, eventName string) error {
	token, err := tokencrypto.RandomToken(32)
	if err != nil {
		return err
	}

	key := cache.VerifyTokenKey(tokencrypto.HashToken(token))
	if err := s.cache.Set(ctx, key, user.ID.String(), s.cfg.VerifyTokenTTL); err != nil {
		return err
	}

	s.bus.Publish(eventName, event.UserRegisteredPayload{
		UserID:            user.ID,
		Email:             user.Email,
		FirstName:         user.FirstName,
		VerificationToken: token,
	})
	return nil
}

// claimAttempt counts the attempt before the password is checked, so a burst of parallel
// guesses cannot all slip under the limit. A successful login deletes the counter.
// A cache outage does not lock anyone out.
func (s *AuthService) claimAttempt(ctx context.Context, key string) bool {
	count, err := s.cache.Incr(ctx, key, s.cfg.LockoutWindow)
	if err != nil {
		s.logger.Warn("increment login attempt counter failed", zap.Error(err))
		return true
	}
	return count <= int64(s.cfg.MaxFailedLogins)
}

// releaseAttempt uncounts an attempt that failed for reasons unrelated to the credentials.
func (s *AuthService) releaseAttempt(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.cache.Decr(ctx, key); err != nil {
		s.logger.Warn("release login attempt failed", zap.Error(err))
	}
}

func (s *AuthService) signAccessToken(user *model.User) (string, error) {
	claims := jwtutil.NewClaims(user.ID.String(), user.Email, user.Role.String(), s.cfg.AccessTTL)
	return jwtutil.GenerateAccessToken(claims, s.privateKey)
}

func (s *AuthService) issueTokensForUser(ctx context.Context, user *model.User) (string, string, error) {
	if user == nil {
		return "", "", ErrUserNotFound
	}

	accessToken, err := s.signAccessToken(user)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := jwtutil.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}

	expiresAt := s.now().UTC().Add(s.cfg.RefreshTTL)
	if err := s.tokenRepo.Create(ctx, tokencrypto.HashToken(refreshToken), user.ID, expiresAt); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (s *AuthService) writeAudit(ctx context.Context, userID *uuid.UUID, action string) {
	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       userID,
		Action:       action,
		ResourceType: strPtr("user"),
		ResourceID:   uuidToStringPtr(userID),
	})
}

func validateEmail(raw string) (string, error) {
	email := normalizeEmail(raw)
	if email == "" || len(email) > 255 {
		return "", ErrInvalidUserInput
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidUserInput
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}
	hasLetter, hasDigit := false, false
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}
