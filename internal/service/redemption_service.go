package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thetiptop/internal/cache"
	"thetiptop/internal/codegen"
	"thetiptop/internal/event"
	"thetiptop/internal/metrics"
	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

const participationWindow = 48 * time.Hour

var (
	ErrInvalidCodeFormat  = errors.New("invalid code format")
	ErrCodeNotFound       = errors.New("code not found")
	ErrCodeAlreadyUsed    = errors.New("code already used")
	ErrGainExhausted      = errors.New("gain exhausted")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrParticipationLimit = errors.New("daily participation limit reached")
	ErrCodeNotRedeemed    = errors.New("code not redeemed")
	ErrAlreadyDelivered   = errors.New("prize already delivered")
)

type RedemptionService struct {
	codeRepo  repository.CodeRepository
	gainRepo  repository.GainRepository
	userRepo  repository.UserRepository
	auditRepo repository.AuditRepository
	cache     cache.Cache
	bus       *event.Bus
	game      GameConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewRedemptionService(
	codeRepo repository.CodeRepository,
	gainRepo repository.GainRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	kv cache.Cache,
	bus *event.Bus,
	game GameConfig,
	logger *zap.Logger,
) *RedemptionService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedemptionService{
		codeRepo:  codeRepo,
		gainRepo:  gainRepo,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		cache:     kv,
		bus:       bus,
		game:      game,
		logger:    logger,
		now:       time.Now,
	}
}

// Redeem validates raw and consumes it for userID. Format is checked before any store access.
func (s *RedemptionService) Redeem(ctx context.Context, userID, raw string) (*model.Redemption, error) {
	start := time.Now()
	redemption, err := s.redeem(ctx, userID, raw)
	metrics.ObserveRedemption(redeemOutcome(err), time.Since(start))
	return redemption, err
}

func (s *RedemptionService) redeem(ctx context.Context, userID, raw string) (*model.Redemption, error) {
	code := strings.TrimSpace(raw)
	if !codegen.ValidateCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}

	uid, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.game.CheckOpen(now); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Status == model.UserStatusBanned {
		return nil, ErrUserBanned
	}
	if s.game.RequireVerifiedEmail && !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	participationKey := cache.ParticipationKey(uid, now)
	reserved, err := s.reserveParticipation(ctx, participationKey)
	if err != nil {
		return nil, err
	}

	redemption, err := s.codeRepo.Redeem(ctx, code, uid, now)
	if err != nil {
		if reserved {
			s.releaseParticipation(participationKey)
		}
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrCodeNotFound
		case errors.Is(err, repository.ErrAlreadyUsed):
			return nil, ErrCodeAlreadyUsed
		case errors.Is(err, repository.ErrStockExhausted):
			return nil, ErrGainExhausted
		default:
			return nil, fmt.Errorf("redeem code: %w", err)
		}
	}

	s.afterRedeem(ctx, user, redemption)
	return redemption, nil
}

// reserveParticipation takes one of today's slots before the code is touched, so parallel
// requests from the same user cannot all pass the limit. It reports whether a slot is held.
// A cache outage lets the redemption through.
func (s *RedemptionService) reserveParticipation(ctx context.Context, key string) (bool, error) {
	if s.cache == nil || s.game.MaxRedemptionsPerDay <= 0 {
		return false, nil
	}

	count, err := s.cache.Incr(ctx, key, participationWindow)
	if err != nil {
		s.logger.Warn("participation counter unavailable", zap.Error(err))
		return false, nil
	}
	if count > int64(s.game.MaxRedemptionsPerDay) {
		s.releaseParticipation(key)
		return false, ErrParticipationLimit
	}
	return true, nil
}

// releaseParticipation returns a slot whose redemption did not happen. It runs on a
// fresh context so a cancelled request still gives its slot back.
func (s *RedemptionService) releaseParticipation(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.cache.Decr(ctx, key); err != nil {
		s.logger.Warn("release participation slot failed", zap.Error(err))
	}
}

func (s *RedemptionService) afterRedeem(ctx context.Context, user *model.User, redemption *model.Redemption) {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.GainListKey()); err != nil {
			s.logger.Warn("invalidate gain list cache failed", zap.Error(err))
		}
	}

	code := redemption.Code
	gain := redemption.Gain
	metrics.SetGainRemaining(gain.Name, gain.RemainingQuantity)

	resourceID := code.ID.String()
	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       &user.ID,
		Action:       model.AuditCodeRedeem,
		ResourceType: strPtr("code"),
		ResourceID:   &resourceID,
		NewValue: map[string]interface{}{
			"code":      code.Code,
			"gain_id":   gain.ID.String(),
			"gain_name": gain.Name,
			"remaining": gain.RemainingQuantity,
		},
	})

	s.logger.Info("code redeemed",
		zap.String("user_id", user.ID.String()),
		zap.String("code_id", resourceID),
		zap.String("gain", gain.Name),
	)

	redeemedAt := s.now().UTC()
	if code.UsedAt != nil {
		redeemedAt = *code.UsedAt
	}
	s.bus.Publish(event.EventCodeRedeemed, event.CodeRedeemedPayload{
		UserID:     user.ID,
		Email:      user.Email,
		FirstName:  user.FirstName,
		Code:       code.Code,
		GainID:     gain.ID,
		GainName:   gain.Name,
		GainValue:  gain.Value,
		RedeemedAt: redeemedAt,
	})
}

// ListHistory returns the codes redeemed by userID, newest first, with their gains.
func (s *RedemptionService) ListHistory(ctx context.Context, userID string, page, pageSize int) ([]*model.Redemption, int64, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, 0, err
	}

	used := true
	filter := repository.CodeListFilter{
		UsedBy:     &uid,
		IsUsed:     &used,
		Pagination: toRepoPagination(page, pageSize),
	}

	codes, err := s.codeRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.codeRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	gains := make(map[uuid.UUID]*model.Gain)
	items := make([]*model.Redemption, 0, len(codes))
	for _, code := range codes {
		gain, ok := gains[code.GainID]
		if !ok {
			gain, err = s.gainRepo.FindByID(ctx, code.GainID)
			if err != nil {
				return nil, 0, fmt.Errorf("load gain %s: %w", code.GainID, err)
			}
			gains[code.GainID] = gain
		}
		items = append(items, &model.Redemption{Code: code, Gain: gain})
	}

	return items, total, nil
}

// Lookup is the counter view of a code: its prize and, once redeemed, the winner.
func (s *RedemptionService) Lookup(ctx context.Context, raw string) (*model.CodeDetail, error) {
	code := strings.TrimSpace(raw)
	if !codegen.ValidateCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}

	item, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	gain, err := s.gainRepo.FindByID(ctx, item.GainID)
	if err != nil {
		return nil, fmt.Errorf("load gain %s: %w", item.GainID, err)
	}

	detail := &model.CodeDetail{Code: item, Gain: gain}
	if item.UsedBy != nil {
		winner, err := s.userRepo.FindByID(ctx, *item.UsedBy)
		switch {
		case err == nil:
			detail.Winner = winner
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}

	return detail, nil
}

// Deliver records that employeeID handed the prize of a redeemed code over. It succeeds once per code.
func (s *RedemptionService) Deliver(ctx context.Context, employeeID, raw string) (*model.Code, error) {
	code := strings.TrimSpace(raw)
	if !codegen.ValidateCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}

	eid, err := parseUserID(employeeID)
	if err != nil {
		return nil, err
	}

	item, err := s.codeRepo.MarkDelivered(ctx, code, eid, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrCodeNotFound
		case errors.Is(err, repository.ErrNotRedeemed):
			return nil, ErrCodeNotRedeemed
		case errors.Is(err, repository.ErrAlreadyDelivered):
			return nil, ErrAlreadyDelivered
		default:
			return nil, err
		}
	}

	resourceID := item.ID.String()
	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       &eid,
		Action:       model.AuditCodeDeliver,
		ResourceType: strPtr("code"),
		ResourceID:   &resourceID,
		NewValue: map[string]interface{}{
			"code":    item.Code,
			"gain_id": item.GainID.String(),
		},
	})

	return item, nil
}

func redeemOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeWon
	case errors.Is(err, ErrInvalidCodeFormat):
		return metrics.OutcomeInvalidFormat
	case errors.Is(err, ErrCodeNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrCodeAlreadyUsed):
		return metrics.OutcomeAlreadyUsed
	case errors.Is(err, ErrGainExhausted):
		return metrics.OutcomeExhausted
	case errors.Is(err, ErrGameNotStarted),
		errors.Is(err, ErrGameEnded),
		errors.Is(err, ErrUserBanned),
		errors.Is(err, ErrEmailNotVerified),
		errors.Is(err, ErrParticipationLimit):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
