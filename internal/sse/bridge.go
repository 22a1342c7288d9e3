package sse

import (
	"time"

	"thetiptop/internal/event"
	"thetiptop/internal/model"
	"thetiptop/pkg/logger"
)

type prizeWonData struct {
	Code       string    `json:"code"`
	GainID     string    `json:"gain_id"`
	GainName   string    `json:"gain_name"`
	GainValue  float64   `json:"gain_value"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

type redemptionData struct {
	GainID     string    `json:"gain_id"`
	GainName   string    `json:"gain_name"`
	Winner     string    `json:"winner"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// Subscribe forwards redemptions from bus: the winner gets the full prize,
// staff get a feed entry with the winner's address masked.
func (h *SSEHub) Subscribe(bus *event.Bus) {
	if h == nil || bus == nil {
		return
	}

	bus.Subscribe(event.EventCodeRedeemed, func(payload any) {
		redeemed, ok := payload.(event.CodeRedeemedPayload)
		if !ok {
			return
		}

		h.SendToUser(redeemed.UserID.String(), NewEvent(EventPrizeWon, prizeWonData{
			Code:       redeemed.Code,
			GainID:     redeemed.GainID.String(),
			GainName:   redeemed.GainName,
			GainValue:  redeemed.GainValue,
			RedeemedAt: redeemed.RedeemedAt,
		}))
		h.SendToRole(model.RoleEmployee, NewEvent(EventRedemption, redemptionData{
			GainID:     redeemed.GainID.String(),
			GainName:   redeemed.GainName,
			Winner:     logger.MaskEmail(redeemed.Email),
			RedeemedAt: redeemed.RedeemedAt,
		}))
	})
}
