package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thetiptop/internal/codegen"
	"thetiptop/internal/metrics"
	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

const (
	MaxBatchSize             = 50000
	defaultCodeAttemptFactor = 4
	batchInsertRounds        = 3
)

var (
	ErrInvalidCodeInput = errors.New("invalid code input")
	ErrCodeConflict     = errors.New("generated codes kept colliding with stored codes")
)

type BatchGenerateRequest struct {
	GainID string `json:"gain_id"`
	Count  int    `json:"count"`
}

type BatchResult struct {
	BatchID  uuid.UUID `json:"batch_id"`
	GainID   uuid.UUID `json:"gain_id"`
	GainName string    `json:"gain_name"`
	Count    int       `json:"count"`
	Codes    []string  `json:"codes"`
}

type CodeFilter struct {
	GainID    *string
	IsUsed    *bool
	Delivered *bool
	Keyword   *string
}

type CodeService struct {
	codeRepo      repository.CodeRepository
	gainRepo      repository.GainRepository
	auditRepo     repository.AuditRepository
	generator     *codegen.Generator
	attemptFactor int
	logger        *zap.Logger
}

func NewCodeService(
	codeRepo repository.CodeRepository,
	gainRepo repository.GainRepository,
	auditRepo repository.AuditRepository,
	attemptFactor int,
	logger *zap.Logger,
) *CodeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attemptFactor <= 1 {
		attemptFactor = defaultCodeAttemptFactor
	}

	return &CodeService{
		codeRepo:      codeRepo,
		gainRepo:      gainRepo,
		auditRepo:     auditRepo,
		generator:     codegen.NewGenerator(nil),
		attemptFactor: attemptFactor,
		logger:        logger,
	}
}

// BatchGenerate creates req.Count fresh codes bound to one gain and stores them in one transaction.
func (s *CodeService) BatchGenerate(ctx context.Context, operatorID string, req BatchGenerateRequest) (*BatchResult, error) {
	opID, err := parseUserID(operatorID)
	if err != nil {
		return nil, err
	}
	if req.Count <= 0 || req.Count > MaxBatchSize {
		return nil, ErrInvalidCodeInput
	}

	gainID, err := uuid.Parse(strings.TrimSpace(req.GainID))
	if err != nil {
		return nil, ErrInvalidCodeInput
	}
	gain, err := s.gainRepo.FindByID(ctx, gainID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGainNotFound
		}
		return nil, err
	}

	return s.generateForGain(ctx, opID, gain, req.Count)
}

// SeedDistribution spreads total codes across the active gains in proportion to their quantity.
func (s *CodeService) SeedDistribution(ctx context.Context, operatorID string, total int) ([]*BatchResult, error) {
	opID, err := parseUserID(operatorID)
	if err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, ErrInvalidCodeInput
	}

	gains, err := s.gainRepo.List(ctx, true)
	if err != nil {
		return nil, err
	}

	weights := make([]int, len(gains))
	for i, gain := range gains {
		weights[i] = gain.Quantity
	}
	shares, err := distribute(total, weights)
	if err != nil {
		return nil, err
	}

	results := make([]*BatchResult, 0, len(gains))
	for i, gain := range gains {
		remaining := shares[i]
		for remaining > 0 {
			size := remaining
			if size > MaxBatchSize {
				size = MaxBatchSize
			}
			result, err := s.generateForGain(ctx, opID, gain, size)
			if err != nil {
				return results, fmt.Errorf("seed gain %q: %w", gain.Name, err)
			}
			results = append(results, result)
			remaining -= size
		}
	}

	return results, nil
}

func (s *CodeService) generateForGain(ctx context.Context, operatorID uuid.UUID, gain *model.Gain, count int) (*BatchResult, error) {
	start := time.Now()
	batchID := uuid.New()
	checker := codegen.CheckerFunc(s.codeRepo.ExistingCodes)

	var codes []string
	for round := 0; ; round++ {
		if round == batchInsertRounds {
			return nil, ErrCodeConflict
		}

		generated, err := s.generator.GenerateUniqueCodeBatch(ctx, count, count*s.attemptFactor, checker)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		items := make([]*model.Code, 0, len(generated))
		for _, code := range generated {
			items = append(items, &model.Code{
				ID:        uuid.New(),
				Code:      code,
				GainID:    gain.ID,
				BatchID:   batchID,
				CreatedBy: &operatorID,
				CreatedAt: now,
			})
		}

		err = s.codeRepo.BatchCreate(ctx, items)
		if err == nil {
			codes = generated
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		// another writer stored one of our candidates between check and insert
		s.logger.Warn("code batch collided with stored codes, regenerating",
			zap.String("gain_id", gain.ID.String()),
			zap.Int("round", round+1),
		)
	}

	metrics.AddCodesGenerated(len(codes), time.Since(start))

	writeAuditLog(ctx, s.auditRepo, s.logger, &model.AuditLog{
		UserID:       &operatorID,
		Action:       model.AuditCodeBatchCreate,
		ResourceType: strPtr("code"),
		ResourceID:   strPtr(batchID.String()),
		NewValue: map[string]interface{}{
			"gain_id": gain.ID.String(),
			"count":   len(codes),
		},
	})

	s.logger.Info("code batch generated",
		zap.String("batch_id", batchID.String()),
		zap.String("gain", gain.Name),
		zap.Int("count", len(codes)),
		zap.Duration("cost", time.Since(start)),
	)

	return &BatchResult{
		BatchID:  batchID,
		GainID:   gain.ID,
		GainName: gain.Name,
		Count:    len(codes),
		Codes:    codes,
	}, nil
}

func (s *CodeService) List(ctx context.Context, filter CodeFilter, page, pageSize int) ([]*model.Code, int64, error) {
	repoFilter := repository.CodeListFilter{
		IsUsed:     filter.IsUsed,
		Delivered:  filter.Delivered,
		Keyword:    normalizeStringPointer(filter.Keyword),
		Pagination: toRepoPagination(page, pageSize),
	}
	if filter.GainID != nil && strings.TrimSpace(*filter.GainID) != "" {
		gainID, err := uuid.Parse(strings.TrimSpace(*filter.GainID))
		if err != nil {
			return nil, 0, ErrInvalidCodeInput
		}
		repoFilter.GainID = &gainID
	}

	items, err := s.codeRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.codeRepo.Count(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// distribute splits total proportionally to weights with the largest remainder method.
// The shares always sum to total.
func distribute(total int, weights []int) ([]int, error) {
	sum := 0
	for _, w := range weights {
		if w < 0 {
			return nil, ErrInvalidCodeInput
		}
		sum += w
	}
	if total < 0 || sum == 0 {
		return nil, ErrInvalidCodeInput
	}

	type remainder struct {
		index int
		value int
	}

	shares := make([]int, len(weights))
	remainders := make([]remainder, len(weights))
	assigned := 0
	for i, w := range weights {
		product := total * w
		shares[i] = product / sum
		remainders[i] = remainder{index: i, value: product % sum}
		assigned += shares[i]
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].value > remainders[b].value
	})
	for i := 0; assigned < total; i++ {
		shares[remainders[i%len(remainders)].index]++
		assigned++
	}

	return shares, nil
}
