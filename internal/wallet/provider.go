// Package wallet connects the signing key used for live trading.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/crypto"
	"github.com/alanyoungcy/mevbot/internal/domain"
)

// BalanceReader reads an account's native balance. *ethclient.Client
// satisfies it.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config holds the wallet settings.
type Config struct {
	Key      crypto.KeyConfig
	RPCURL   string
	Decimals int32
}

// Provider is a keystore-backed domain.WalletProvider that also signs trade
// intents while connected. The decrypted key lives only in memory and is
// dropped on Disconnect.
type Provider struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	dialMu  sync.Mutex
	balance BalanceReader

	mu      sync.RWMutex
	signer  *crypto.Signer
	account domain.Account
}

// NewProvider creates a Provider. When cfg.RPCURL is set the balance is read
// through an ethclient connection dialled on first Connect.
func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if cfg.Decimals == 0 {
		cfg.Decimals = 18
	}
	return &Provider{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "wallet")),
	}
}

// WithBalanceReader sets the balance source, bypassing RPCURL.
func (p *Provider) WithBalanceReader(r BalanceReader) *Provider {
	p.balance = r
	return p
}

// Connect loads the key and reads the current balance. Connecting an
// already connected wallet refreshes the balance.
func (p *Provider) Connect(ctx context.Context) (domain.Account, error) {
	if !p.cfg.Key.Configured() {
		return domain.Account{}, fmt.Errorf("wallet: connect: %w", domain.ErrWalletNotConnected)
	}
	keyHex, err := crypto.LoadKey(p.cfg.Key)
	if err != nil {
		return domain.Account{}, fmt.Errorf("wallet: connect: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return domain.Account{}, fmt.Errorf("wallet: connect: %w", err)
	}

	balance, err := p.readBalance(ctx, signer.Address())
	if err != nil {
		return domain.Account{}, fmt.Errorf("wallet: connect: %w", err)
	}

	acct := domain.Account{
		Address:     signer.Address().Hex(),
		Balance:     balance,
		ConnectedAt: p.now().UTC(),
	}

	p.mu.Lock()
	p.signer = signer
	p.account = acct
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "wallet connected",
		slog.String("address", acct.Address),
		slog.String("balance", acct.Balance.String()),
	)
	return acct, nil
}

func (p *Provider) readBalance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	p.dialMu.Lock()
	if p.balance == nil && p.cfg.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, p.cfg.RPCURL)
		if err != nil {
			p.dialMu.Unlock()
			return decimal.Zero, fmt.Errorf("dial rpc: %w", err)
		}
		p.balance = client
	}
	reader := p.balance
	p.dialMu.Unlock()

	if reader == nil {
		return decimal.Zero, nil
	}
	wei, err := reader.BalanceAt(ctx, addr, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: %w", err)
	}
	return decimal.NewFromBigInt(wei, -p.cfg.Decimals), nil
}

// Disconnect forgets the key and the account.
func (p *Provider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signer = nil
	p.account = domain.Account{}
	return nil
}

// Connected returns the current account, if any.
func (p *Provider) Connected() (domain.Account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.account, p.signer != nil
}

// SignIntent signs intent with the connected key.
func (p *Provider) SignIntent(_ context.Context, intent []byte) (string, error) {
	p.mu.RLock()
	signer := p.signer
	p.mu.RUnlock()
	if signer == nil {
		return "", domain.ErrWalletNotConnected
	}
	return signer.Sign(intent)
}

var (
	_ domain.WalletProvider = (*Provider)(nil)
	_ domain.TxSigner       = (*Provider)(nil)
)
