package repository

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("record already exists")
	ErrAlreadyUsed      = errors.New("code already used")
	ErrStockExhausted   = errors.New("gain stock exhausted")
	ErrNotRedeemed      = errors.New("code not redeemed")
	ErrAlreadyDelivered = errors.New("prize already delivered")
	ErrExpired          = errors.New("record expired")
)
