package provider

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantex/arbiter/internal/chain"
	"github.com/quantex/arbiter/internal/pricefeed"
	"github.com/quantex/arbiter/internal/relay"
	"github.com/quantex/arbiter/internal/signer"
	"github.com/quantex/arbiter/pkg/config"
)

// Build assembles the provider set for the configured mode. The variant set
// is fixed here; nothing downstream switches on mode again. Live mode without
// a signer or chain client is a construction error, not a runtime one.
func Build(cfg *config.Config, sgn signer.Signer, ch *chain.Client, feed *pricefeed.Client, rel *relay.Client) (*Providers, error) {
	switch cfg.Mode {
	case config.ModeSimulated:
		return buildSimulated(cfg)
	case config.ModeLive:
		return buildLive(cfg, sgn, ch, feed, rel)
	default:
		return nil, errors.Errorf("provider: unknown mode %q", cfg.Mode)
	}
}

func buildSimulated(cfg *config.Config) (*Providers, error) {
	balances := make(map[string]decimal.Decimal, len(cfg.Engine.SimBalances))
	for asset, raw := range cfg.Engine.SimBalances {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "provider: sim balance %s", asset)
		}
		balances[asset] = amount
	}
	prices := make(map[string]decimal.Decimal, len(cfg.Engine.SimPrices))
	for pair, raw := range cfg.Engine.SimPrices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "provider: sim price %s", pair)
		}
		prices[pair] = price
	}

	ledger := NewLedger(balances)
	return &Providers{
		Market:   NewSimulatedMarket(prices, nil),
		Wallet:   NewSimulatedWallet(ledger),
		Gas:      SimulatedGas{},
		Executor: NewSimulatedExecutor(ledger, decimal.NewFromFloat(cfg.Engine.SimFeePct)),
	}, nil
}

func buildLive(cfg *config.Config, sgn signer.Signer, ch *chain.Client, feed *pricefeed.Client, rel *relay.Client) (*Providers, error) {
	if sgn == nil {
		return nil, errors.New("provider: live mode requires a signer")
	}
	if ch == nil {
		return nil, errors.New("provider: live mode requires a chain client")
	}
	if feed == nil {
		return nil, errors.New("provider: live mode requires a price feed")
	}

	tokens := make(TokenBook, len(cfg.Chain.Tokens))
	for asset, tc := range cfg.Chain.Tokens {
		if !common.IsHexAddress(tc.Address) {
			return nil, errors.Errorf("provider: token %s has invalid address %q", asset, tc.Address)
		}
		tokens[asset] = TokenInfo{
			Address:  common.HexToAddress(tc.Address),
			Decimals: tc.Decimals,
		}
	}

	executor, err := NewLiveExecutor(ch, sgn, rel,
		common.HexToAddress(cfg.Chain.RouterContract),
		tokens,
		big.NewInt(cfg.Chain.ChainID),
	)
	if err != nil {
		return nil, err
	}
	return &Providers{
		Market:   NewLiveMarket(feed, cfg.PriceSource.StreamURL),
		Wallet:   NewLiveWallet(ch, sgn, tokens),
		Gas:      NewLiveGas(ch, 0),
		Executor: executor,
	}, nil
}
