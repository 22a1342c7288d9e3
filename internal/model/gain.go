package model

import (
	"time"

	"github.com/google/uuid"
)

// Gain is a prize definition. RemainingQuantity only decreases through redemptions.
type Gain struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Description       string    `db:"description" json:"description"`
	Value             float64   `db:"value" json:"value"`
	Quantity          int       `db:"quantity" json:"quantity"`
	RemainingQuantity int       `db:"remaining_quantity" json:"remaining_quantity"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

func (g *Gain) Redeemed() int {
	if g == nil {
		return 0
	}
	return g.Quantity - g.RemainingQuantity
}
