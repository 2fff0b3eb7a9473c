package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CongestionLevel is the externally estimated network load.
type CongestionLevel string

const (
	CongestionLow    CongestionLevel = "LOW"
	CongestionMedium CongestionLevel = "MEDIUM"
	CongestionHigh   CongestionLevel = "HIGH"
)

// Valid reports whether c is one of the known levels.
func (c CongestionLevel) Valid() bool {
	switch c {
	case CongestionLow, CongestionMedium, CongestionHigh:
		return true
	}
	return false
}

// GasPrice is the priority fee (micro-lamports per compute unit) needed to
// land a transaction at this congestion level. Unknown levels price as LOW.
func (c CongestionLevel) GasPrice() int64 {
	switch c {
	case CongestionHigh:
		return 25000
	case CongestionMedium:
		return 10000
	default:
		return 5000
	}
}

// Pair is a tradable token pair such as SOL/USDC.
type Pair struct {
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Symbol string `json:"symbol"`
}

// ParsePair parses "BASE/QUOTE". It returns false for malformed input.
func ParsePair(s string) (Pair, bool) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return Pair{}, false
	}
	base := strings.ToUpper(strings.TrimSpace(parts[0]))
	quote := strings.ToUpper(strings.TrimSpace(parts[1]))
	if base == "" || quote == "" || base == quote {
		return Pair{}, false
	}
	return Pair{Base: base, Quote: quote, Symbol: base + "/" + quote}, true
}

// PriceSnapshot is the set of token prices (in quote currency) observed at the
// start of a scan tick.
type PriceSnapshot struct {
	Prices map[string]decimal.Decimal
	At     time.Time
}

// Price returns the price for symbol and whether it is present and positive.
func (s PriceSnapshot) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := s.Prices[strings.ToUpper(symbol)]
	if !ok || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}

// PriceQuote is one cached price observation.
type PriceQuote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}
