package service

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	ErrAffiliateNotFound    = errors.New("affiliate not found")
	ErrAffiliateCodeInvalid = errors.New("affiliate code invalid")
	ErrAffiliateCodeExists  = errors.New("affiliate code already exists")
	ErrAliasLimitReached    = errors.New("affiliate alias limit reached")
	ErrAliasTokenTaken      = errors.New("affiliate alias token already taken")
	ErrAliasNotFound        = errors.New("affiliate alias not found")

	ErrCommissionPolicyInvalid = errors.New("commission policy invalid")

	ErrPayoutNotFound     = errors.New("monthly payout not found")
	ErrPayoutMonthInvalid = errors.New("payout month invalid")

	ErrEventNotFound       = errors.New("ingestion event not found")
	ErrProviderUnavailable = errors.New("commerce provider unavailable")

	ErrResyncDaysInvalid   = errors.New("resync days invalid")
	ErrBackfillInvalid     = errors.New("backfill export invalid")
	ErrLedgerConfigInvalid = errors.New("ledger config invalid")
)
