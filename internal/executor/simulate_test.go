package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/rng"
)

func TestSuccessProbability(t *testing.T) {
	cases := []struct {
		rate, conf string
		cong       domain.CongestionLevel
		want       string
	}{
		{"0.75", "50", domain.CongestionLow, "0.75"},
		{"0.75", "100", domain.CongestionLow, "0.85"},
		{"0.75", "100", domain.CongestionHigh, "0.8"},
		{"0.75", "0", domain.CongestionHigh, "0.65"},
		{"0.85", "100", domain.CongestionMedium, "0.95"},
		{"0.3", "50", domain.CongestionLow, "0.3"},
		{"0.99", "50", domain.CongestionLow, "0.99"},
	}
	for _, tc := range cases {
		got := SuccessProbability(decimal.RequireFromString(tc.rate), decimal.RequireFromString(tc.conf), tc.cong)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"rate=%s conf=%s cong=%s: got %s want %s", tc.rate, tc.conf, tc.cong, got, tc.want)
	}
}

func demoRequest() domain.TradeRequest {
	return domain.TradeRequest{
		Opportunity: testOpportunity("opp_1"),
		PositionID:  "pos_1",
		Amount:      decimal.NewFromInt(20),
		BasePrice:   decimal.NewFromInt(150),
		Congestion:  domain.CongestionLow,
		Config:      domain.DefaultTradingConfig(),
	}
}

func TestDemoExecutorSuccessBand(t *testing.T) {
	for _, r := range []float64{0, 0.5, 0.9999} {
		d := NewDemoExecutor(rng.NewSequence(0, r, 0))
		res, err := d.Execute(context.Background(), demoRequest())
		require.NoError(t, err)
		require.True(t, res.Success)

		ratio := res.Profit.Div(decimal.RequireFromString("0.01")).InexactFloat64()
		assert.GreaterOrEqual(t, ratio, 0.8)
		assert.LessOrEqual(t, ratio, 1.2)
		assert.Equal(t, "demo_pos_1", res.TxRef)
	}
}

func TestDemoExecutorFailureLoss(t *testing.T) {
	d := NewDemoExecutor(rng.NewSequence(0.99, 0.5, 1))
	res, err := d.Execute(context.Background(), demoRequest())
	require.NoError(t, err)

	assert.False(t, res.Success)
	// 20 * 0.02 * 0.5 / 150
	assert.True(t, res.Profit.Equal(decimal.RequireFromString("-0.001333333")), "profit %s", res.Profit)
	assert.True(t, res.Fee.Equal(decimal.RequireFromString("0.00013")), "fee %s", res.Fee)
}

func TestLiveExecutorGuards(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.TradeRequest)
		signer domain.TxSigner
		want   string
	}{
		{
			name:   "profit after gas below minimum",
			mutate: func(r *domain.TradeRequest) { r.Opportunity.EstimatedProfit = decimal.RequireFromString("0.0006") },
			signer: stubSigner{sig: "sig"},
			want:   "profit after gas",
		},
		{
			name:   "trade too large",
			mutate: func(r *domain.TradeRequest) { r.Amount = decimal.NewFromInt(21) },
			signer: stubSigner{sig: "sig"},
			want:   "trade size",
		},
		{
			name: "gas price above ceiling",
			mutate: func(r *domain.TradeRequest) {
				r.Congestion = domain.CongestionHigh
			},
			signer: stubSigner{sig: "sig"},
			want:   "gas price 25000",
		},
		{
			name: "lowered ceiling",
			mutate: func(r *domain.TradeRequest) {
				r.Congestion = domain.CongestionMedium
				r.Config.MaxGasPrice = 8000
			},
			signer: stubSigner{sig: "sig"},
			want:   "exceeds maximum 8000",
		},
		{
			name:   "no wallet",
			mutate: func(r *domain.TradeRequest) { r.Wallet = "" },
			signer: stubSigner{sig: "sig"},
			want:   "wallet not connected",
		},
		{
			name:   "no signer",
			mutate: func(*domain.TradeRequest) {},
			want:   "no signer",
		},
		{
			name:   "signing fails",
			mutate: func(*domain.TradeRequest) {},
			signer: stubSigner{err: errors.New("locked")},
			want:   "sign intent",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := demoRequest()
			req.Wallet = "0xabc"
			tc.mutate(&req)

			l := NewLiveExecutor(rng.NewSequence(0), tc.signer)
			_, err := l.Execute(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrPreTradeRejected)

			var rej *domain.RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Contains(t, rej.Reason, tc.want)
			assert.True(t, rej.Fee.Equal(req.Config.RejectionFee))
		})
	}
}

func TestLiveExecutorGasCeilingDisabledAtZero(t *testing.T) {
	req := demoRequest()
	req.Wallet = "0xabc"
	req.Congestion = domain.CongestionHigh
	req.Config.MaxGasPrice = 0

	l := NewLiveExecutor(rng.NewSequence(0, 0.5, 0), stubSigner{sig: "0xsigned"})
	_, err := l.Execute(context.Background(), req)
	require.NoError(t, err)
}

func TestLiveExecutorSignsIntent(t *testing.T) {
	req := demoRequest()
	req.Wallet = "0xabc"
	l := NewLiveExecutor(rng.NewSequence(0, 0.5, 0), stubSigner{sig: "0xsigned"})

	res, err := l.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xsigned", res.TxRef)
}
