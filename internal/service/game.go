package service

import (
	"errors"
	"time"
)

var (
	ErrGameNotStarted = errors.New("game has not started")
	ErrGameEnded      = errors.New("game has ended")
)

// GameConfig holds the redemption policy. A zero value means an always-open game with no limits.
type GameConfig struct {
	StartAt              *time.Time
	EndAt                *time.Time
	RequireVerifiedEmail bool
	MaxRedemptionsPerDay int
	CodeAttemptFactor    int
}

// CheckOpen reports whether redemptions are accepted at now.
func (g GameConfig) CheckOpen(now time.Time) error {
	if g.StartAt != nil && now.Before(*g.StartAt) {
		return ErrGameNotStarted
	}
	if g.EndAt != nil && !now.Before(*g.EndAt) {
		return ErrGameEnded
	}
	return nil
}

type GameStatus struct {
	Open    bool       `json:"open"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

func (g GameConfig) Status(now time.Time) GameStatus {
	status := GameStatus{Open: true, StartAt: g.StartAt, EndAt: g.EndAt}
	if err := g.CheckOpen(now); err != nil {
		status.Open = false
		status.Reason = err.Error()
	}
	return status
}
