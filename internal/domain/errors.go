package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrInvalidConfig      = errors.New("invalid trading config")
	ErrPreTradeRejected   = errors.New("pre-trade rejected")
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrStalePrice         = errors.New("stale price")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrNotRunning         = errors.New("bot not running")
	ErrUnknownPreset      = errors.New("unknown strategy preset")
)

// RejectionError is returned by a TradeExecutor when a pre-trade guard fails.
// Nothing was submitted; Fee is the only cost charged to the position.
type RejectionError struct {
	Reason string
	Fee    decimal.Decimal
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("pre-trade rejected: %s", e.Reason)
}

// Is lets errors.Is(err, ErrPreTradeRejected) match any RejectionError.
func (e *RejectionError) Is(target error) bool {
	return target == ErrPreTradeRejected
}

// NewRejection builds a RejectionError with the given fee.
func NewRejection(fee decimal.Decimal, format string, args ...any) *RejectionError {
	return &RejectionError{Reason: fmt.Sprintf(format, args...), Fee: fee}
}
