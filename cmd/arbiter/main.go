package main

import (
	"context"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/approval"
	"github.com/quantex/arbiter/internal/chain"
	"github.com/quantex/arbiter/internal/engine"
	"github.com/quantex/arbiter/internal/events"
	"github.com/quantex/arbiter/internal/journal"
	"github.com/quantex/arbiter/internal/metrics"
	"github.com/quantex/arbiter/internal/ops"
	"github.com/quantex/arbiter/internal/permit"
	"github.com/quantex/arbiter/internal/pricefeed"
	"github.com/quantex/arbiter/internal/provider"
	"github.com/quantex/arbiter/internal/relay"
	"github.com/quantex/arbiter/internal/reserve"
	"github.com/quantex/arbiter/internal/risk"
	"github.com/quantex/arbiter/internal/signer"
	"github.com/quantex/arbiter/pkg/config"
	"github.com/quantex/arbiter/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file path")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logrus.Fatalf("init logger: %v", err)
	}
	logrus.Infof("arbiter starting in %s mode", cfg.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Signer, chain surface, relay and custody exist only in live mode.
	var (
		sgn      signer.Signer
		chainCli *chain.Client
		relayCli *relay.Client
		custody  *chain.Custody
		pauser   ops.CustodyPauser
	)
	if cfg.Mode == config.ModeLive {
		sgn, err = signer.Load(cfg.Signer)
		if err != nil {
			logrus.Fatalf("load signer: %v", err)
		}
		chainCli, err = chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			logrus.Fatalf("dial chain rpc: %v", err)
		}
		logrus.Infof("signing as %s on chain %d", sgn.Address().Hex(), cfg.Chain.ChainID)

		if cfg.Relay.Enabled {
			relayCli = relay.New(cfg.Relay.URL, sgn, chainCli)
			logrus.Infof("private relay enabled at %s", cfg.Relay.URL)
		}
		if cfg.Chain.CustodyContract != "" {
			custody, err = chain.NewCustody(chainCli, common.HexToAddress(cfg.Chain.CustodyContract))
			if err != nil {
				logrus.Fatalf("bind custody contract: %v", err)
			}
		}
		if cfg.Relay.ForwarderURL != "" && custody != nil {
			mgr, err := permit.NewManager(sgn, big.NewInt(cfg.Chain.ChainID), chainCli, approval.NewCache(), cfg.Relay.ForwarderURL)
			if err != nil {
				logrus.Fatalf("init permit manager: %v", err)
			}
			pauser = permit.NewCustodyControl(mgr, custody)
		}
	}

	feed := pricefeed.New(cfg.PriceSource.PrimaryURL, cfg.PriceSource.FallbackURL,
		time.Duration(cfg.PriceSource.TimeoutSeconds)*time.Second)

	providers, err := provider.Build(cfg, sgn, chainCli, feed, relayCli)
	if err != nil {
		logrus.Fatalf("build providers: %v", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	riskCfg := risk.DefaultConfig()
	riskCfg.MoveThresholdPct = decimal.NewFromFloat(cfg.Risk.MoveThresholdPct)
	riskCfg.Cooldown = cfg.Cooldown()
	riskCfg.MinFundingRatePct = decimal.NewFromFloat(cfg.Risk.MinFundingRatePct)
	breaker := risk.NewCircuitBreaker(riskCfg, bus)

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			logrus.Fatalf("open journal: %v", err)
		}
		defer jnl.Close()
	}

	var monitor *reserve.Monitor
	if cfg.Reserve.Enabled && custody != nil {
		decimals := 18
		if tc, ok := cfg.Chain.Tokens["USDC"]; ok {
			decimals = tc.Decimals
		}
		monitor = reserve.NewMonitor(reserve.AdaptCustody(custody, decimals), bus, cfg.ReserveInterval())
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	var recorder engine.Recorder
	if jnl != nil {
		recorder = jnl
	}
	eng := engine.New(providers, breaker, bus, recorder, cfg.QuoteTimeout())

	// In live mode the websocket stream feeds the breaker between orders, so
	// abnormal moves trip it even while no order is in flight.
	if lm, ok := providers.Market.(*provider.LiveMarket); ok && cfg.PriceSource.StreamURL != "" {
		for asset := range cfg.Chain.Tokens {
			go streamIntoBreaker(ctx, lm, breaker, asset)
		}
	}

	go countSafetyEvents(bus)
	go snapshotEquity(ctx, eng, cfg)

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			logrus.Fatalf("start metrics server: %v", err)
		}
		logrus.Infof("metrics on %s/debug/vars", cfg.MetricsAddr)
	}
	if cfg.OpsAddr != "" {
		opsSrv := ops.New(ops.Options{
			Engine:  eng,
			Breaker: breaker,
			Monitor: monitor,
			Journal: jnl,
			Custody: pauser,
			Mode:    string(cfg.Mode),
		})
		if _, err := opsSrv.StartAsync(ctx, cfg.OpsAddr); err != nil {
			logrus.Fatalf("start ops server: %v", err)
		}
		logrus.Infof("ops api on %s", cfg.OpsAddr)
	}

	<-ctx.Done()
	logrus.Info("shutdown signal received")
}

// streamIntoBreaker pipes live price ticks into the circuit breaker,
// resubscribing with a short pause when the stream drops.
func streamIntoBreaker(ctx context.Context, market *provider.LiveMarket, breaker *risk.CircuitBreaker, asset string) {
	for ctx.Err() == nil {
		samples, err := market.Stream(ctx, asset)
		if err != nil {
			logrus.Warnf("price stream for %s unavailable: %v", asset, err)
		} else {
			for sample := range samples {
				breaker.Observe(sample.Asset, sample.Price)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// snapshotEquity refreshes the equity gauge every minute, valuing balances
// in USDC. Assets come from the token map in live mode and the simulated
// ledger seed otherwise.
func snapshotEquity(ctx context.Context, eng *engine.Engine, cfg *config.Config) {
	var assets []string
	if cfg.Mode == config.ModeLive {
		for asset := range cfg.Chain.Tokens {
			assets = append(assets, asset)
		}
	} else {
		for asset := range cfg.Engine.SimBalances {
			assets = append(assets, asset)
		}
	}
	if len(assets) == 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		eng.Equity(ctx, "USDC", assets)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// countSafetyEvents mirrors breaker and reserve events into metrics counters.
func countSafetyEvents(bus *events.Bus) {
	trips := bus.Subscribe(events.KindCircuitTripped)
	breaches := bus.Subscribe(events.KindReserveBreach)
	for {
		select {
		case _, ok := <-trips:
			if !ok {
				return
			}
			metrics.CircuitTrips.Add(1)
		case _, ok := <-breaches:
			if !ok {
				return
			}
			metrics.ReserveBreaches.Add(1)
		}
	}
}
