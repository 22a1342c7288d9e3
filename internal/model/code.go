package model

import (
	"time"

	"github.com/google/uuid"
)

type Code struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Code        string     `db:"code" json:"code"`
	GainID      uuid.UUID  `db:"gain_id" json:"gain_id"`
	BatchID     uuid.UUID  `db:"batch_id" json:"batch_id"`
	IsUsed      bool       `db:"is_used" json:"is_used"`
	UsedBy      *uuid.UUID `db:"used_by" json:"used_by,omitempty"`
	UsedAt      *time.Time `db:"used_at" json:"used_at,omitempty"`
	DeliveredBy *uuid.UUID `db:"delivered_by" json:"delivered_by,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedBy   *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

func (c *Code) Delivered() bool {
	return c != nil && c.DeliveredAt != nil
}

// Redemption is the outcome of a successful redeem: the consumed code and the prize state after it.
type Redemption struct {
	Code *Code `json:"code"`
	Gain *Gain `json:"gain"`
}

// CodeDetail joins a code with its prize and, once redeemed, the winner.
type CodeDetail struct {
	Code   *Code `json:"code"`
	Gain   *Gain `json:"gain"`
	Winner *User `json:"winner,omitempty"`
}

// GainStats aggregates code and stock figures for a single prize.
type GainStats struct {
	GainID      uuid.UUID `json:"gain_id"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	Remaining   int       `json:"remaining"`
	CodesIssued int64     `json:"codes_issued"`
	Redeemed    int64     `json:"redeemed"`
	Delivered   int64     `json:"delivered"`
}

type CodeStats struct {
	TotalCodes     int64       `json:"total_codes"`
	UsedCodes      int64       `json:"used_codes"`
	DeliveredCodes int64       `json:"delivered_codes"`
	Participants   int64       `json:"participants"`
	Gains          []GainStats `json:"gains"`
}
