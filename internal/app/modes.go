package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/crypto"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/executor"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/feed"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/metrics"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/platform/jito"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/platform/jupiter"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/platform/solanarpc"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/server"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/server/handler"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/service"
)

// autoSellLockTTL bounds how long a crashed instance can block its
// replacement from starting the evaluator loop.
const autoSellLockTTL = time.Hour

// tradingStack bundles the services a trading mode needs.
type tradingStack struct {
	metrics   *metrics.Metrics
	exec      *executor.Executor
	book      *service.PositionBook
	guard     *service.InflightGuard
	positions *service.PositionService
	wallets   *service.WalletService
	prices    *jupiter.PriceClient
}

// buildTradingStack constructs the platform clients, executor, and position
// services shared by the trade and full modes.
func (a *App) buildTradingStack(ctx context.Context, deps *Dependencies, m *metrics.Metrics) (*tradingStack, error) {
	cfg := a.cfg

	router := jupiter.NewClient(cfg.Jupiter.SwapHost, cfg.Jupiter.Timeout.Duration)
	prices := jupiter.NewPriceClient(cfg.Jupiter.PriceHost, cfg.AutoSell.PriceBatchSize, cfg.Jupiter.Timeout.Duration)
	ledger := solanarpc.New(cfg.Solana.RPCURL, cfg.Solana.Commitment)
	relay := jito.NewClient(cfg.Jito.Endpoints, cfg.Jito.Timeout.Duration, a.logger)
	keys := crypto.NewKeyManager(deps.WalletStore, cfg.Keys.Password)

	exec := executor.New(router, ledger, relay, keys, executor.Config{
		TipLamports:    cfg.Jito.TipLamports,
		ConfirmTimeout: cfg.Executor.ConfirmTimeout.Duration,
		ConfirmPoll:    cfg.Executor.ConfirmPoll.Duration,
	}, m, a.logger)

	book := service.NewPositionBook(deps.PositionStore, m)
	n, err := book.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load position book: %w", err)
	}
	a.logger.InfoContext(ctx, "position book loaded", slog.Int("positions", n))

	guard := service.NewInflightGuard()
	positions := service.NewPositionService(
		book,
		guard,
		deps.SettingsStore,
		exec,
		prices,
		deps.Notifier,
		deps.AuditStore,
		deps.SignalBus,
		cfg.Solana.WSOLMint,
		cfg.Executor.DefaultSlippageBps,
		a.logger,
	)
	wallets := service.NewWalletService(keys, ledger, deps.AuditStore, deps.Notifier, service.WalletParams{
		ConfirmTimeout: cfg.Executor.ConfirmTimeout.Duration,
		ConfirmPoll:    cfg.Executor.ConfirmPoll.Duration,
	}, a.logger)

	return &tradingStack{
		metrics:   m,
		exec:      exec,
		book:      book,
		guard:     guard,
		positions: positions,
		wallets:   wallets,
		prices:    prices,
	}, nil
}

// startAutoSell launches the evaluator loop under a distributed lock so
// only one instance evaluates ladders at a time. When the lock is held
// elsewhere the loop is skipped with a warning.
func (a *App) startAutoSell(ctx context.Context, g *errgroup.Group, deps *Dependencies, ts *tradingStack) {
	if !a.cfg.AutoSell.Enabled {
		return
	}

	unlock, err := deps.LockManager.Acquire(ctx, "autosell", autoSellLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.WarnContext(ctx, "auto-sell lock held elsewhere, skipping evaluator")
			return
		}
		a.logger.ErrorContext(ctx, "auto-sell lock failed, skipping evaluator",
			slog.String("error", err.Error()),
		)
		return
	}

	autosell := service.NewAutoSellService(
		ts.book,
		ts.guard,
		ts.positions,
		deps.SettingsStore,
		ts.exec,
		ts.prices,
		deps.PriceCache,
		ts.metrics,
		service.AutoSellParams{
			Interval:             a.cfg.AutoSell.Interval.Duration,
			BaseBackoff:          a.cfg.AutoSell.BaseBackoff.Duration,
			MaxBackoff:           a.cfg.AutoSell.MaxBackoff.Duration,
			MaxConsecutiveErrors: a.cfg.AutoSell.MaxConsecutiveErrors,
			Cooldown:             a.cfg.AutoSell.Cooldown.Duration,
			WSOLMint:             a.cfg.Solana.WSOLMint,
			DefaultSlippageBps:   a.cfg.Executor.DefaultSlippageBps,
		},
		a.logger,
	)

	g.Go(func() error {
		defer unlock()
		return autosell.Run(ctx)
	})
}

// startCopyTrade launches the tracked-wallet feed and its consumer.
func (a *App) startCopyTrade(ctx context.Context, g *errgroup.Group, deps *Dependencies, ts *tradingStack) {
	cfg := a.cfg.CopyFeed
	if !cfg.Enabled || cfg.URL == "" {
		return
	}

	copyFeed := feed.NewCopyFeed(cfg.URL, cfg.ReconnectMin.Duration, cfg.ReconnectMax.Duration, a.logger)
	copySvc := service.NewCopyTradeService(
		copyFeed.Signals(),
		deps.Deduper,
		cfg.DedupeTTL.Duration,
		deps.CopySubStore,
		deps.SettingsStore,
		ts.positions,
		service.NewRepeatCounter(),
		ts.metrics,
		a.logger,
	)

	g.Go(func() error {
		defer copyFeed.Close()
		return copyFeed.Run(ctx)
	})
	g.Go(func() error {
		return copySvc.Run(ctx)
	})
}

// startServer launches the operational HTTP server and a goroutine that
// shuts it down when the context ends. ts is nil in non-trading modes,
// which serve without the wallet routes.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, m *metrics.Metrics, ts *tradingStack) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(deps.PositionStore, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if ts != nil {
		handlers.Wallets = handler.NewWalletHandler(ts.wallets, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:       a.cfg.Server.Port,
		APIKey:     a.cfg.Server.APIKey,
		RateLimit:  a.cfg.Server.RateLimit,
		RateWindow: time.Minute,
	}, handlers, m.Registry(), deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// startArchiver launches the periodic cold-storage export.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	cfg := a.cfg.Archive
	if !cfg.Enabled || deps.Archiver == nil {
		return
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Interval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)

			fills, err := deps.Archiver.ArchiveFills(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "fill archive failed",
					slog.String("error", err.Error()),
				)
			}
			audits, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "audit archive failed",
					slog.String("error", err.Error()),
				)
			}

			a.logger.InfoContext(ctx, "archive cycle complete",
				slog.Int64("fills", fills),
				slog.Int64("audit_rows", audits),
				slog.Time("cutoff", cutoff),
			)
		}
	})
}

// TradeMode runs the executor, auto-sell evaluator, copy-trade consumer,
// and the operational HTTP server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New()
	ts, err := a.buildTradingStack(ctx, deps, m)
	if err != nil {
		return err
	}

	a.startAutoSell(ctx, g, deps, ts)
	a.startCopyTrade(ctx, g, deps, ts)
	a.startServer(ctx, g, deps, m, ts)

	return g.Wait()
}

// MonitorMode serves the read-only operational API without trading.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New()
	a.startServer(ctx, g, deps, m, nil)

	return g.Wait()
}

// ArchiveMode runs only the cold-storage export loop plus the operational
// API.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires S3 configuration")
	}

	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New()
	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps, m, nil)

	return g.Wait()
}

// FullMode runs everything: trading, evaluation, copy-trade, archival, and
// the operational API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New()
	ts, err := a.buildTradingStack(ctx, deps, m)
	if err != nil {
		return err
	}

	a.startAutoSell(ctx, g, deps, ts)
	a.startCopyTrade(ctx, g, deps, ts)
	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps, m, ts)

	return g.Wait()
}
