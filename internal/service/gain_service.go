package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thetiptop/internal/cache"
	"thetiptop/internal/metrics"
	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

const defaultGainListTTL = 5 * time.Minute

var (
	ErrGainNotFound     = errors.New("gain not found")
	ErrInvalidGainInput = errors.New("invalid gain input")
	ErrGainNameInUse    = errors.New("gain name already in use")
)

type CreateGainRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	Quantity    int     `json:"quantity"`
	IsActive    *bool   `json:"is_active"`
}

type UpdateGainRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Value       *float64 `json:"value"`
	Quantity    *int     `json:"quantity"`
	IsActive    *bool    `json:"is_active"`
}

type GainService struct {
	gainRepo  repository.GainRepository
	auditRepo repository.AuditRepository
	cache     cache.Cache
	listTTL   time.Duration
	logger    *zap.Logger
}

func NewGainService(
	gainRepo repository.GainRepository,
	auditRepo repository.AuditRepository,
	kv cache.Cache,
	listTTL time.Duration,
	logger *zap.Logger,
) *GainService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if listTTL <= 0 {
		listTTL = defaultGainListTTL
	}

	return &GainService{
		gainRepo:  gainRepo,
		auditRepo: auditRepo,
		cache:     kv,
		listTTL:   listTTL,
		logger:    logger,
	}
}

// ListPublic returns active gains, served from the cache when possible.
func (s *GainService) ListPublic(ctx context.Context) ([]*model.Gain, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, cache.GainListKey())
		if err == nil {
			var gains []*model.Gain
			if jsonErr := json.Unmarshal([]byte(raw), &gains); jsonErr == nil {
				return gains, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("read gain list cache failed", zap.Error(err))
		}
	}

	gains, err := s.gainRepo.List(ctx, true)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(gains); err == nil {
			if err := s.cache.Set(ctx, cache.GainListKey(), string(encoded), s.listTTL); err != nil {
				s.logger.Warn("write gain list cache failed", zap.Error(err))
			}
		}
	}

	return gains, nil
}

func (s *GainService) ListAll(ctx context.Context) ([]*model.Gain, error) {
	return s.gainRepo.List(ctx, false)
}

func (s *GainService) Get(ctx context.Context, id string) (*model.Gain, error) {
	gainID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, ErrInvalidGainInput
	}

	gain, err := s.gainRepo.FindByID(ctx, gainID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGainNotFound
		}
		return nil, err
	}
	return gain, nil
}

func (s *GainService) Create(ctx context.Context, operatorID string, req CreateGainRequest) (*model.Gain, error) {
	opID, err := parseUserID(operatorID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || req.Quantity < 0 || !validGainValue(req.Value) {
		return nil, ErrInvalidGainInput
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	gain := &model.Gain{
		ID:                uuid.New(),
		Name:              name,
		Description:       strings.TrimSpace(req.Description),
		Value:             req.Value,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		IsActive:          active,
	}
	if err := s.gainRepo.Create(ctx, gain); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrGainNameInUse
		}
		return nil, err
	}

	s.invalidateList(ctx)
	metrics.SetGainRemaining(gain.Name, gain.RemainingQuantity)

	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       &opID,
		Action:       model.AuditGainCreate,
		ResourceType: strPtr("gain"),
		ResourceID:   strPtr(gain.ID.String()),
		NewValue: map[string]interface{}{
			"name":     gain.Name,
			"value":    gain.Value,
			"quantity": gain.Quantity,
		},
	})

	return gain, nil
}

// Update edits a gain. Quantity may move in both directions but never below what was already redeemed.
func (s *GainService) Update(ctx context.Context, operatorID, id string, req UpdateGainRequest) (*model.Gain, error) {
	opID, err := parseUserID(operatorID)
	if err != nil {
		return nil, err
	}

	gain, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldValue := make(map[string]interface{})
	newValue := make(map[string]interface{})

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, ErrInvalidGainInput
		}
		if name != gain.Name {
			oldValue["name"], newValue["name"] = gain.Name, name
			gain.Name = name
		}
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description != gain.Description {
			oldValue["description"], newValue["description"] = gain.Description, description
			gain.Description = description
		}
	}
	if req.Value != nil {
		if !validGainValue(*req.Value) {
			return nil, ErrInvalidGainInput
		}
		if *req.Value != gain.Value {
			oldValue["value"], newValue["value"] = gain.Value, *req.Value
			gain.Value = *req.Value
		}
	}
	if req.Quantity != nil && *req.Quantity != gain.Quantity {
		if *req.Quantity < gain.Redeemed() {
			return nil, ErrInvalidGainInput
		}
		oldValue["quantity"], newValue["quantity"] = gain.Quantity, *req.Quantity
		gain.Quantity = *req.Quantity
	}
	if req.IsActive != nil && *req.IsActive != gain.IsActive {
		oldValue["is_active"], newValue["is_active"] = gain.IsActive, *req.IsActive
		gain.IsActive = *req.IsActive
	}

	if len(newValue) == 0 {
		return gain, nil
	}

	if err := s.gainRepo.Update(ctx, gain); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrGainNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrGainNameInUse
		default:
			// a redemption racing a quantity cut trips the stock check constraint
			return nil, err
		}
	}

	s.invalidateList(ctx)
	metrics.SetGainRemaining(gain.Name, gain.RemainingQuantity)

	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       &opID,
		Action:       model.AuditGainUpdate,
		ResourceType: strPtr("gain"),
		ResourceID:   strPtr(gain.ID.String()),
		OldValue:     oldValue,
		NewValue:     newValue,
	})

	return gain, nil
}

func (s *GainService) invalidateList(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.GainListKey()); err != nil {
		s.logger.Warn("invalidate gain list cache failed", zap.Error(err))
	}
}

func validGainValue(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
