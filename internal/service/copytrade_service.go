package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/metrics"
)

// RepeatCounter caps how many times an automatic trigger may buy the same
// asset for the same account. Counts are process-local and reset on
// restart, which is deliberate: the cap protects against runaway feeds,
// not long-term accounting.
type RepeatCounter struct {
	counts map[string]int
	mu     sync.Mutex
}

// NewRepeatCounter creates an empty counter.
func NewRepeatCounter() *RepeatCounter {
	return &RepeatCounter{counts: make(map[string]int)}
}

// Bump increments and returns the buy count for (accountID, asset).
func (r *RepeatCounter) Bump(accountID, asset string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := accountID + ":" + asset
	r.counts[key]++
	return r.counts[key]
}

// Reset clears the count for (accountID, asset), typically after the
// position closes.
func (r *RepeatCounter) Reset(accountID, asset string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counts, accountID+":"+asset)
}

// CopyTradeService mirrors buys observed on tracked wallets into the
// accounts subscribed to them. Signals are deduplicated for a bounded
// window so feed reconnects cannot double-buy.
type CopyTradeService struct {
	signals   <-chan domain.CopySignal
	dedupe    domain.Deduper
	dedupeTTL time.Duration
	subs      domain.CopySubscriptionStore
	settings  domain.SettingsStore
	positions *PositionService
	repeats   *RepeatCounter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCopyTradeService creates the consumer over the given signal channel.
func NewCopyTradeService(
	signals <-chan domain.CopySignal,
	dedupe domain.Deduper,
	dedupeTTL time.Duration,
	subs domain.CopySubscriptionStore,
	settings domain.SettingsStore,
	positions *PositionService,
	repeats *RepeatCounter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *CopyTradeService {
	return &CopyTradeService{
		signals:   signals,
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
		subs:      subs,
		settings:  settings,
		positions: positions,
		repeats:   repeats,
		metrics:   m,
		logger:    logger.With(slog.String("component", "copytrade")),
	}
}

// Run consumes signals until the context is cancelled or the feed channel
// closes.
func (s *CopyTradeService) Run(ctx context.Context) error {
	s.logger.Info("copy-trade consumer starting")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-s.signals:
			if !ok {
				s.logger.Info("signal feed closed")
				return nil
			}
			s.handle(ctx, sig)
		}
	}
}

func (s *CopyTradeService) handle(ctx context.Context, sig domain.CopySignal) {
	log := s.logger.With(
		slog.String("signal", sig.ID),
		slog.String("wallet", sig.SourceWallet),
		slog.String("asset", sig.Asset),
	)

	// Only buys are mirrored; exits are governed by each account's own
	// ladder.
	if sig.Side != domain.SwapSideBuy {
		s.count("ignored")
		return
	}

	if s.dedupe != nil {
		seen, err := s.dedupe.Seen(ctx, "copysignal:"+sig.ID, s.dedupeTTL)
		if err != nil {
			log.Warn("dedupe check failed, processing anyway", slog.String("error", err.Error()))
		} else if seen {
			s.count("duplicate")
			return
		}
	}

	accounts, err := s.subs.ListByWallet(ctx, sig.SourceWallet)
	if err != nil {
		log.Error("subscription lookup failed", slog.String("error", err.Error()))
		s.count("error")
		return
	}
	if len(accounts) == 0 {
		s.count("unsubscribed")
		return
	}

	for _, accountID := range accounts {
		s.mirror(ctx, accountID, sig, log)
	}
}

func (s *CopyTradeService) mirror(ctx context.Context, accountID string, sig domain.CopySignal, log *slog.Logger) {
	settings, err := s.settings.Get(ctx, accountID)
	if err != nil {
		log.Error("settings load failed", slog.String("account", accountID), slog.String("error", err.Error()))
		s.count("error")
		return
	}

	maxRepeats := settings.RepeatCount
	if maxRepeats <= 0 {
		maxRepeats = 1
	}
	if s.repeats.Bump(accountID, sig.Asset) > maxRepeats {
		s.count("capped")
		return
	}

	if _, err := s.positions.OpenFromBuy(ctx, accountID, sig.Asset, sig.Symbol, domain.PositionSourceCopy); err != nil {
		log.Error("copy buy failed", slog.String("account", accountID), slog.String("error", err.Error()))
		s.count("failed")
		return
	}
	s.count("copied")
}

func (s *CopyTradeService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.CopySignals.WithLabelValues(outcome).Inc()
	}
}
