package service

import (
	"context"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

type StatsOverview struct {
	model.CodeStats
	RegisteredUsers int64   `json:"registered_users"`
	ClientUsers     int64   `json:"client_users"`
	RedemptionRate  float64 `json:"redemption_rate"`
	DeliveryRate    float64 `json:"delivery_rate"`
}

type StatsService struct {
	codeRepo repository.CodeRepository
	userRepo repository.UserRepository
}

func NewStatsService(codeRepo repository.CodeRepository, userRepo repository.UserRepository) *StatsService {
	return &StatsService{codeRepo: codeRepo, userRepo: userRepo}
}

func (s *StatsService) Overview(ctx context.Context) (*StatsOverview, error) {
	stats, err := s.codeRepo.Stats(ctx)
	if err != nil {
		return nil, err
	}

	registered, err := s.userRepo.Count(ctx, repository.UserListFilter{})
	if err != nil {
		return nil, err
	}

	client := model.RoleClient
	clients, err := s.userRepo.Count(ctx, repository.UserListFilter{Role: &client})
	if err != nil {
		return nil, err
	}

	overview := &StatsOverview{
		CodeStats:       *stats,
		RegisteredUsers: registered,
		ClientUsers:     clients,
	}
	if stats.TotalCodes > 0 {
		overview.RedemptionRate = float64(stats.UsedCodes) / float64(stats.TotalCodes)
	}
	if stats.UsedCodes > 0 {
		overview.DeliveryRate = float64(stats.DeliveredCodes) / float64(stats.UsedCodes)
	}
	if overview.Gains == nil {
		overview.Gains = []model.GainStats{}
	}

	return overview, nil
}
