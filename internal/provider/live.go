package provider

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/chain"
	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/pricefeed"
	"github.com/quantex/arbiter/internal/relay"
	"github.com/quantex/arbiter/internal/signer"
)

// TokenInfo maps an asset symbol onto its on-chain representation.
type TokenInfo struct {
	Address  common.Address
	Decimals int
}

// TokenBook resolves asset symbols for the live providers.
type TokenBook map[string]TokenInfo

func (b TokenBook) lookup(asset string) (TokenInfo, error) {
	info, ok := b[asset]
	if !ok {
		return TokenInfo{}, errors.Errorf("provider: unknown asset %q", asset)
	}
	return info, nil
}

// toBaseUnits converts a decimal amount into the token's integer base units.
func toBaseUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// fromBaseUnits converts integer base units back into a decimal amount.
func fromBaseUnits(raw *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(int32(-decimals))
}

// LiveMarket quotes from the HTTP price sources and can stream ticks over a
// websocket for continuous breaker feeding.
type LiveMarket struct {
	feed      *pricefeed.Client
	streamURL string
	log       *logrus.Entry
}

// NewLiveMarket wraps the pricefeed. streamURL may be empty (no streaming).
func NewLiveMarket(feed *pricefeed.Client, streamURL string) *LiveMarket {
	return &LiveMarket{
		feed:      feed,
		streamURL: streamURL,
		log:       logrus.WithField("component", "live_market"),
	}
}

func (m *LiveMarket) Quote(ctx context.Context, assetIn, assetOut string) (domain.MarketQuote, error) {
	return m.feed.Quote(ctx, assetIn, assetOut)
}

func (m *LiveMarket) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	return m.feed.FundingRate(ctx, asset)
}

// streamTick is the websocket wire format of one price update.
type streamTick struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// Stream subscribes to live price samples for an asset. The returned channel
// closes when the context is cancelled or the connection drops; callers
// resubscribe if they want the feed back.
func (m *LiveMarket) Stream(ctx context.Context, asset string) (<-chan domain.PriceSample, error) {
	if m.streamURL == "" {
		return nil, errors.New("provider: no stream url configured")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.streamURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "provider: dial price stream")
	}
	if err := conn.WriteJSON(map[string]string{"op": "subscribe", "asset": asset}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "provider: subscribe")
	}

	out := make(chan domain.PriceSample, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			var tick streamTick
			if err := conn.ReadJSON(&tick); err != nil {
				if ctx.Err() == nil {
					m.log.WithField("asset", asset).Warnf("price stream closed: %v", err)
				}
				return
			}
			price, err := decimal.NewFromString(tick.Price)
			if err != nil {
				continue
			}
			sample := domain.PriceSample{Asset: tick.Asset, Price: price, At: time.Unix(tick.Timestamp, 0)}
			select {
			case out <- sample:
			default: // drop rather than stall the reader
			}
		}
	}()
	return out, nil
}

// LiveWallet reads real balances through the chain surface; the identity is
// the configured signer's address.
type LiveWallet struct {
	reader chain.Reader
	addr   common.Address
	tokens TokenBook
}

// NewLiveWallet builds a wallet accessor for the signer's account.
func NewLiveWallet(reader chain.Reader, sgn signer.Signer, tokens TokenBook) *LiveWallet {
	return &LiveWallet{reader: reader, addr: sgn.Address(), tokens: tokens}
}

func (w *LiveWallet) Address() common.Address {
	return w.addr
}

func (w *LiveWallet) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	info, err := w.tokens.lookup(asset)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := w.reader.TokenBalance(ctx, info.Address, w.addr)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "provider: token balance")
	}
	return fromBaseUnits(raw, info.Decimals), nil
}

// LiveGas projects swap cost from the node's gas price suggestion and a
// fixed per-swap gas limit.
type LiveGas struct {
	reader   chain.Reader
	gasLimit uint64
}

// NewLiveGas builds an estimator; gasLimit 0 selects a default swap budget.
func NewLiveGas(reader chain.Reader, gasLimit uint64) *LiveGas {
	if gasLimit == 0 {
		gasLimit = 220_000
	}
	return &LiveGas{reader: reader, gasLimit: gasLimit}
}

func (g *LiveGas) Estimate(ctx context.Context) (GasEstimate, error) {
	price, err := g.reader.SuggestGasPrice(ctx)
	if err != nil {
		return GasEstimate{}, errors.Wrap(err, "provider: gas price")
	}
	wei := new(big.Int).Mul(price, new(big.Int).SetUint64(g.gasLimit))
	return GasEstimate{
		GasLimit: g.gasLimit,
		GasPrice: price,
		Cost:     decimal.NewFromBigInt(wei, -18),
	}, nil
}

// routerABI is the swap call surface of the venue router contract.
const routerABI = `[
  {"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"amountIn","type":"uint256"},
    {"name":"amountOutMin","type":"uint256"},
    {"name":"path","type":"address[]"},
    {"name":"to","type":"address"},
    {"name":"deadline","type":"uint256"}
  ],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

// LiveExecutor signs and submits real swap transactions, privately through
// the relay when one is configured, publicly otherwise.
type LiveExecutor struct {
	rw       chain.ReadWriter
	sgn      signer.Signer
	relay    *relay.Client // nil means public submission
	router   common.Address
	routerAB abi.ABI
	tokens   TokenBook
	chainID  *big.Int
	gasLimit uint64
	log      *logrus.Entry
}

// NewLiveExecutor builds the live order executor. rel may be nil.
func NewLiveExecutor(rw chain.ReadWriter, sgn signer.Signer, rel *relay.Client, router common.Address, tokens TokenBook, chainID *big.Int) (*LiveExecutor, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, errors.Wrap(err, "provider: parse router abi")
	}
	return &LiveExecutor{
		rw:       rw,
		sgn:      sgn,
		relay:    rel,
		router:   router,
		routerAB: parsed,
		tokens:   tokens,
		chainID:  chainID,
		gasLimit: 220_000,
		log:      logrus.WithField("component", "live_executor"),
	}, nil
}

func (e *LiveExecutor) Execute(ctx context.Context, order domain.TradeOrder, quote domain.MarketQuote) (domain.TradeResult, error) {
	tokenIn, err := e.tokens.lookup(order.AssetIn)
	if err != nil {
		return domain.TradeResult{}, err
	}
	tokenOut, err := e.tokens.lookup(order.AssetOut)
	if err != nil {
		return domain.TradeResult{}, err
	}

	balance, err := e.rw.TokenBalance(ctx, tokenIn.Address, e.sgn.Address())
	if err != nil {
		return domain.TradeResult{}, errors.Wrap(err, "provider: read balance")
	}
	amountIn := toBaseUnits(order.AmountIn, tokenIn.Decimals)
	if balance.Cmp(amountIn) < 0 {
		return domain.TradeResult{}, domain.ErrInsufficientBalance
	}

	calldata, err := e.routerAB.Pack("swapExactTokensForTokens",
		amountIn,
		toBaseUnits(order.MinAmountOut, tokenOut.Decimals),
		[]common.Address{tokenIn.Address, tokenOut.Address},
		e.sgn.Address(),
		big.NewInt(order.Deadline.Unix()),
	)
	if err != nil {
		return domain.TradeResult{}, errors.Wrap(err, "provider: encode swap")
	}

	nonce, err := e.rw.PendingNonceAt(ctx, e.sgn.Address())
	if err != nil {
		return domain.TradeResult{}, errors.Wrap(err, "provider: nonce")
	}
	gasPrice, err := e.rw.SuggestGasPrice(ctx)
	if err != nil {
		return domain.TradeResult{}, errors.Wrap(err, "provider: gas price")
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.router,
		Gas:      e.gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := e.sgn.SignTx(tx, e.chainID)
	if err != nil {
		return domain.TradeResult{}, errors.Wrap(err, "provider: sign swap")
	}

	var txHash common.Hash
	if e.relay != nil {
		sub, err := e.relay.Submit(ctx, signed, nil)
		if err != nil {
			return domain.TradeResult{}, err
		}
		e.log.WithField("bundle", sub.BundleHash).Info("swap relayed privately")
		txHash = signed.Hash()
	} else {
		if err := e.rw.SendTransaction(ctx, signed); err != nil {
			return domain.TradeResult{}, errors.Wrap(err, "provider: broadcast swap")
		}
		txHash = signed.Hash()
	}

	receipt, err := e.waitMined(ctx, txHash)
	if err != nil {
		return domain.TradeResult{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.TradeResult{
			OrderID:  order.ID,
			Success:  false,
			GasUsed:  receipt.GasUsed,
			TxHash:   txHash.Hex(),
			Error:    "swap reverted on-chain",
			ClosedAt: time.Now(),
		}, nil
	}

	amountOut, ok := e.decodeAmountOut(receipt, tokenOut)
	if !ok {
		// Receipt parsed no swap log; report the quoted expectation.
		amountOut = order.AmountIn.Mul(quote.Price)
	}
	return domain.TradeResult{
		OrderID:   order.ID,
		Success:   true,
		Price:     quote.Price,
		AmountOut: amountOut,
		GasUsed:   receipt.GasUsed,
		TxHash:    txHash.Hex(),
		ClosedAt:  time.Now(),
	}, nil
}

// waitMined polls for the receipt until the context expires.
func (e *LiveExecutor) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := e.rw.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "provider: confirmation wait")
		case <-ticker.C:
		}
	}
}

// decodeAmountOut extracts the received amount from ERC-20 Transfer logs to
// our address.
func (e *LiveExecutor) decodeAmountOut(receipt *types.Receipt, tokenOut TokenInfo) (decimal.Decimal, bool) {
	transferTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	our := common.BytesToHash(e.sgn.Address().Bytes())
	for _, lg := range receipt.Logs {
		if lg.Address != tokenOut.Address || len(lg.Topics) != 3 {
			continue
		}
		if lg.Topics[0] == transferTopic && lg.Topics[2] == our {
			return fromBaseUnits(new(big.Int).SetBytes(lg.Data), tokenOut.Decimals), true
		}
	}
	return decimal.Zero, false
}
