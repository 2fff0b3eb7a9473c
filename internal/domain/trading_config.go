package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DurationRange is an inclusive [Min, Max] interval a delay is drawn from.
type DurationRange struct {
	Min time.Duration
	Max time.Duration
}

// Pick maps r in [0,1) onto the range.
func (d DurationRange) Pick(r float64) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(r*float64(d.Max-d.Min))
}

type durationRangeJSON struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

func (d DurationRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(durationRangeJSON{Min: d.Min.String(), Max: d.Max.String()})
}

func (d *DurationRange) UnmarshalJSON(b []byte) error {
	var raw durationRangeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	lo, err := time.ParseDuration(raw.Min)
	if err != nil {
		return fmt.Errorf("min: %w", err)
	}
	hi, err := time.ParseDuration(raw.Max)
	if err != nil {
		return fmt.Errorf("max: %w", err)
	}
	d.Min, d.Max = lo, hi
	return nil
}

// TradingConfig holds every setting read by the scanner and the execution
// state machine. Values are treated as immutable snapshots: callers never
// mutate a TradingConfig they did not create.
type TradingConfig struct {
	Capital                decimal.Decimal `json:"capital"`
	MinProfitThreshold     decimal.Decimal `json:"min_profit_threshold"`
	MaxPositionSizePercent decimal.Decimal `json:"max_position_size_percent"`
	PerTradeCap            decimal.Decimal `json:"per_trade_cap"`
	MaxGasPrice            int64           `json:"max_gas_price"`
	SlippageTolerance      decimal.Decimal `json:"slippage_tolerance"`
	TargetTokens           []string        `json:"target_tokens"`
	Pairs                  []string        `json:"pairs"`
	LiveMode               bool            `json:"live_mode"`
	MaxTradeSize           decimal.Decimal `json:"max_trade_size"`
	MaxLoss                decimal.Decimal `json:"max_loss"`
	ConfidenceFloor        decimal.Decimal `json:"confidence_floor"`
	MaxConcurrentPositions int             `json:"max_concurrent_positions"`
	GasEstimate            decimal.Decimal `json:"gas_estimate"`
	LiveMinProfitQuote     decimal.Decimal `json:"live_min_profit_quote"`
	DemoSuccessRate        decimal.Decimal `json:"demo_success_rate"`
	LiveSuccessRate        decimal.Decimal `json:"live_success_rate"`
	RejectionFee           decimal.Decimal `json:"rejection_fee"`
	FallbackBasePrice      decimal.Decimal `json:"fallback_base_price"`
	BaseToken              string          `json:"base_token"`
	FrontRunDelay          DurationRange   `json:"front_run_delay"`
	ResolveDelay           DurationRange   `json:"resolve_delay"`
	ScanInterval           DurationRange   `json:"scan_interval"`
	MaxRecentOpportunities int             `json:"max_recent_opportunities"`
	MaxRecentPositions     int             `json:"max_recent_positions"`
	OpportunityTTL         time.Duration   `json:"opportunity_ttl"`
	Preset                 string          `json:"preset"`
}

// DefaultTradingConfig returns the balanced settings for a small account.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		Capital:                decimal.NewFromInt(100),
		MinProfitThreshold:     decimal.RequireFromString("0.00005"),
		MaxPositionSizePercent: decimal.NewFromInt(20),
		PerTradeCap:            decimal.NewFromInt(20),
		MaxGasPrice:            20000,
		SlippageTolerance:      decimal.RequireFromString("1.5"),
		TargetTokens:           []string{"SOL", "USDC", "USDT", "RAY", "ORCA", "SRM"},
		Pairs:                  []string{"SOL/USDC", "SOL/USDT", "RAY/USDC", "ORCA/USDC", "SRM/USDC", "RAY/SOL", "ORCA/SOL"},
		MaxTradeSize:           decimal.NewFromInt(20),
		MaxLoss:                decimal.RequireFromString("0.01"),
		ConfidenceFloor:        decimal.NewFromInt(70),
		MaxConcurrentPositions: 2,
		GasEstimate:            decimal.RequireFromString("0.0003"),
		LiveMinProfitQuote:     decimal.RequireFromString("0.05"),
		DemoSuccessRate:        decimal.RequireFromString("0.75"),
		LiveSuccessRate:        decimal.RequireFromString("0.85"),
		RejectionFee:           decimal.RequireFromString("0.000005"),
		FallbackBasePrice:      decimal.NewFromInt(150),
		BaseToken:              "SOL",
		FrontRunDelay:          DurationRange{Min: 200 * time.Millisecond, Max: 400 * time.Millisecond},
		ResolveDelay:           DurationRange{Min: 800 * time.Millisecond, Max: 1200 * time.Millisecond},
		ScanInterval:           DurationRange{Min: 800 * time.Millisecond, Max: 1500 * time.Millisecond},
		MaxRecentOpportunities: 15,
		MaxRecentPositions:     50,
		OpportunityTTL:         time.Second,
		Preset:                 PresetBalanced,
	}
}

// Clone returns a deep copy so slices are never shared between snapshots.
func (c TradingConfig) Clone() TradingConfig {
	c.TargetTokens = slices.Clone(c.TargetTokens)
	c.Pairs = slices.Clone(c.Pairs)
	return c
}

// PositionSize is min(capital * maxPositionSizePercent / 100, perTradeCap).
func (c TradingConfig) PositionSize() decimal.Decimal {
	size := c.Capital.Mul(c.MaxPositionSizePercent).Div(decimal.NewFromInt(100))
	if c.PerTradeCap.IsPositive() && size.GreaterThan(c.PerTradeCap) {
		return c.PerTradeCap
	}
	return size
}

// BasePrice returns the base token price from prices or the fallback.
func (c TradingConfig) BasePrice(prices PriceSnapshot) decimal.Decimal {
	if p, ok := prices.Price(c.BaseToken); ok {
		return p
	}
	return c.FallbackBasePrice
}

// TradablePairs returns the configured pairs whose legs are both target
// tokens, in configuration order.
func (c TradingConfig) TradablePairs() []Pair {
	targets := make(map[string]bool, len(c.TargetTokens))
	for _, t := range c.TargetTokens {
		targets[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	var out []Pair
	for _, raw := range c.Pairs {
		p, ok := ParsePair(raw)
		if !ok || !targets[p.Base] || !targets[p.Quote] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Validate checks the invariants and returns every problem found, wrapped in
// ErrInvalidConfig.
func (c TradingConfig) Validate() error {
	var errs []string
	hundred := decimal.NewFromInt(100)

	if !c.Capital.IsPositive() {
		errs = append(errs, "capital must be > 0")
	}
	if !c.MaxPositionSizePercent.IsPositive() || c.MaxPositionSizePercent.GreaterThan(hundred) {
		errs = append(errs, "max_position_size_percent must be in (0,100]")
	}
	nonNegative := map[string]decimal.Decimal{
		"min_profit_threshold":  c.MinProfitThreshold,
		"per_trade_cap":         c.PerTradeCap,
		"slippage_tolerance":    c.SlippageTolerance,
		"max_trade_size":        c.MaxTradeSize,
		"max_loss":              c.MaxLoss,
		"gas_estimate":          c.GasEstimate,
		"live_min_profit_quote": c.LiveMinProfitQuote,
		"rejection_fee":         c.RejectionFee,
	}
	for _, name := range slices.Sorted(maps.Keys(nonNegative)) {
		if nonNegative[name].IsNegative() {
			errs = append(errs, name+" must be >= 0")
		}
	}
	if c.MaxGasPrice < 0 {
		errs = append(errs, "max_gas_price must be >= 0")
	}
	if c.ConfidenceFloor.IsNegative() || c.ConfidenceFloor.GreaterThan(hundred) {
		errs = append(errs, "confidence_floor must be in [0,100]")
	}
	for name, rate := range map[string]decimal.Decimal{
		"demo_success_rate": c.DemoSuccessRate,
		"live_success_rate": c.LiveSuccessRate,
	} {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			errs = append(errs, name+" must be in [0,1]")
		}
	}
	if !c.FallbackBasePrice.IsPositive() {
		errs = append(errs, "fallback_base_price must be > 0")
	}
	if c.MaxConcurrentPositions < 1 {
		errs = append(errs, "max_concurrent_positions must be >= 1")
	}
	if strings.TrimSpace(c.BaseToken) == "" {
		errs = append(errs, "base_token must not be empty")
	}
	if len(c.TradablePairs()) == 0 {
		errs = append(errs, "pairs must contain at least one pair made of target tokens")
	}
	for name, r := range map[string]DurationRange{
		"front_run_delay": c.FrontRunDelay,
		"resolve_delay":   c.ResolveDelay,
		"scan_interval":   c.ScanInterval,
	} {
		if r.Min < 0 || r.Max < r.Min {
			errs = append(errs, name+" must satisfy 0 <= min <= max")
		}
	}
	if c.ScanInterval.Min <= 0 {
		errs = append(errs, "scan_interval.min must be > 0")
	}
	if c.MaxRecentOpportunities < 1 || c.MaxRecentPositions < 1 {
		errs = append(errs, "recent list caps must be >= 1")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ConfigPatch is a partial update; nil fields are left unchanged.
type ConfigPatch struct {
	Capital                *decimal.Decimal `json:"capital,omitempty"`
	MinProfitThreshold     *decimal.Decimal `json:"min_profit_threshold,omitempty"`
	MaxPositionSizePercent *decimal.Decimal `json:"max_position_size_percent,omitempty"`
	PerTradeCap            *decimal.Decimal `json:"per_trade_cap,omitempty"`
	MaxGasPrice            *int64           `json:"max_gas_price,omitempty"`
	SlippageTolerance      *decimal.Decimal `json:"slippage_tolerance,omitempty"`
	TargetTokens           []string         `json:"target_tokens,omitempty"`
	Pairs                  []string         `json:"pairs,omitempty"`
	MaxTradeSize           *decimal.Decimal `json:"max_trade_size,omitempty"`
	MaxLoss                *decimal.Decimal `json:"max_loss,omitempty"`
	ConfidenceFloor        *decimal.Decimal `json:"confidence_floor,omitempty"`
	MaxConcurrentPositions *int             `json:"max_concurrent_positions,omitempty"`
	GasEstimate            *decimal.Decimal `json:"gas_estimate,omitempty"`
	LiveMinProfitQuote     *decimal.Decimal `json:"live_min_profit_quote,omitempty"`
	DemoSuccessRate        *decimal.Decimal `json:"demo_success_rate,omitempty"`
	LiveSuccessRate        *decimal.Decimal `json:"live_success_rate,omitempty"`
	RejectionFee           *decimal.Decimal `json:"rejection_fee,omitempty"`
	FallbackBasePrice      *decimal.Decimal `json:"fallback_base_price,omitempty"`
	FrontRunDelay          *DurationRange   `json:"front_run_delay,omitempty"`
	ResolveDelay           *DurationRange   `json:"resolve_delay,omitempty"`
	ScanInterval           *DurationRange   `json:"scan_interval,omitempty"`
}

// Apply returns a copy of c with every non-nil patch field applied. Live mode
// is deliberately absent from the patch: it changes only through the
// enable/disable live trading operations.
func (c TradingConfig) Apply(p ConfigPatch) TradingConfig {
	out := c.Clone()
	setDec(&out.Capital, p.Capital)
	setDec(&out.MinProfitThreshold, p.MinProfitThreshold)
	setDec(&out.MaxPositionSizePercent, p.MaxPositionSizePercent)
	setDec(&out.PerTradeCap, p.PerTradeCap)
	if p.MaxGasPrice != nil {
		out.MaxGasPrice = *p.MaxGasPrice
	}
	setDec(&out.SlippageTolerance, p.SlippageTolerance)
	if p.TargetTokens != nil {
		out.TargetTokens = normaliseTokens(p.TargetTokens)
	}
	if p.Pairs != nil {
		out.Pairs = slices.Clone(p.Pairs)
	}
	setDec(&out.MaxTradeSize, p.MaxTradeSize)
	setDec(&out.MaxLoss, p.MaxLoss)
	setDec(&out.ConfidenceFloor, p.ConfidenceFloor)
	if p.MaxConcurrentPositions != nil {
		out.MaxConcurrentPositions = *p.MaxConcurrentPositions
	}
	setDec(&out.GasEstimate, p.GasEstimate)
	setDec(&out.LiveMinProfitQuote, p.LiveMinProfitQuote)
	setDec(&out.DemoSuccessRate, p.DemoSuccessRate)
	setDec(&out.LiveSuccessRate, p.LiveSuccessRate)
	setDec(&out.RejectionFee, p.RejectionFee)
	setDec(&out.FallbackBasePrice, p.FallbackBasePrice)
	if p.FrontRunDelay != nil {
		out.FrontRunDelay = *p.FrontRunDelay
	}
	if p.ResolveDelay != nil {
		out.ResolveDelay = *p.ResolveDelay
	}
	if p.ScanInterval != nil {
		out.ScanInterval = *p.ScanInterval
	}
	return out
}

func setDec(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

func normaliseTokens(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// Strategy preset names.
const (
	PresetConservative = "CONSERVATIVE"
	PresetBalanced     = "BALANCED"
	PresetAggressive   = "AGGRESSIVE"
)

type preset struct {
	confidenceFloor decimal.Decimal
	slippage        decimal.Decimal
	positionPercent decimal.Decimal
	minProfit       decimal.Decimal
}

var presets = map[string]preset{
	PresetConservative: {
		confidenceFloor: decimal.NewFromInt(80),
		slippage:        decimal.NewFromInt(1),
		positionPercent: decimal.NewFromInt(10),
		minProfit:       decimal.RequireFromString("0.0001"),
	},
	PresetBalanced: {
		confidenceFloor: decimal.NewFromInt(70),
		slippage:        decimal.RequireFromString("1.5"),
		positionPercent: decimal.NewFromInt(20),
		minProfit:       decimal.RequireFromString("0.00005"),
	},
	PresetAggressive: {
		confidenceFloor: decimal.NewFromInt(60),
		slippage:        decimal.RequireFromString("2.5"),
		positionPercent: decimal.NewFromInt(30),
		minProfit:       decimal.RequireFromString("0.00002"),
	},
}

// PresetNames lists the known presets in a stable order.
func PresetNames() []string {
	return []string{PresetConservative, PresetBalanced, PresetAggressive}
}

// ApplyPreset returns a copy of c tuned by the named preset.
func (c TradingConfig) ApplyPreset(name string) (TradingConfig, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	p, ok := presets[key]
	if !ok {
		return c, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	out := c.Clone()
	out.ConfidenceFloor = p.confidenceFloor
	out.SlippageTolerance = p.slippage
	out.MaxPositionSizePercent = p.positionPercent
	out.MinProfitThreshold = p.minProfit
	out.Preset = key
	return out, nil
}
