package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/metrics"
)

// Trigger names which ladder rule fired for a sell.
type Trigger string

const (
	TriggerStopLoss Trigger = "stop_loss"
	TriggerLimit    Trigger = "limit"
)

// Decision is the evaluator's verdict for one position at one price.
type Decision struct {
	Trigger Trigger
	Step    domain.SellStep
}

// Decide applies the ladder rules to a position at the given price. The
// protective stop is checked first: the initial step at or below entry
// fires whenever the price is at or under its target. Otherwise the limit
// rung with the highest target not exceeding the price fires. The second
// return is false when nothing triggers.
func Decide(pos domain.Position, price float64) (Decision, bool) {
	if len(pos.SellSchedule) == 0 || price <= 0 {
		return Decision{}, false
	}

	for _, st := range pos.SellSchedule {
		if st.IsStopLoss(pos.EntryPrice) {
			if price <= st.TargetPrice {
				return Decision{Trigger: TriggerStopLoss, Step: st}, true
			}
			break
		}
	}

	var best *domain.SellStep
	for i := range pos.SellSchedule {
		st := &pos.SellSchedule[i]
		if st.IsStopLoss(pos.EntryPrice) {
			continue
		}
		if st.TargetPrice > price {
			continue
		}
		if best == nil || st.TargetPrice > best.TargetPrice {
			best = st
		}
	}
	if best != nil {
		return Decision{Trigger: TriggerLimit, Step: *best}, true
	}
	return Decision{}, false
}

// PruneSchedule removes the triggered step plus every limit rung it
// supersedes (lower targets the price has already blown through). The
// protective stop survives a limit trigger.
func PruneSchedule(schedule []domain.SellStep, entryPrice float64, triggered domain.SellStep) []domain.SellStep {
	out := make([]domain.SellStep, 0, len(schedule))
	for _, st := range schedule {
		if st == triggered {
			continue
		}
		if !st.IsStopLoss(entryPrice) && st.TargetPrice <= triggered.TargetPrice {
			continue
		}
		out = append(out, st)
	}
	return out
}

// AutoSellService runs the exit ladder: it watches prices for every open
// position and dispatches sells as ladder steps trigger. The scheduler loop
// backs off linearly on consecutive errors and takes a cooldown pause when
// the error streak hits the circuit-breaker threshold.
type AutoSellService struct {
	book       *PositionBook
	guard      *InflightGuard
	positions  *PositionService
	settings   domain.SettingsStore
	exec       SwapExecutor
	prices     PriceSource
	priceCache domain.PriceCache
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        AutoSellParams
}

// AutoSellParams holds the scheduler tuning knobs.
type AutoSellParams struct {
	Interval             time.Duration
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	MaxConsecutiveErrors int
	Cooldown             time.Duration
	WSOLMint             string
	DefaultSlippageBps   int
}

// NewAutoSellService wires the evaluator. priceCache may be nil, in which
// case every cycle hits the oracle directly.
func NewAutoSellService(
	book *PositionBook,
	guard *InflightGuard,
	positions *PositionService,
	settings domain.SettingsStore,
	exec SwapExecutor,
	prices PriceSource,
	priceCache domain.PriceCache,
	m *metrics.Metrics,
	cfg AutoSellParams,
	logger *slog.Logger,
) *AutoSellService {
	return &AutoSellService{
		book:       book,
		guard:      guard,
		positions:  positions,
		settings:   settings,
		exec:       exec,
		prices:     prices,
		priceCache: priceCache,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "autosell")),
	}
}

// Run drives evaluation cycles until the context is cancelled. Healthy
// cycles repeat at the base interval; a streak of failing cycles stretches
// the gap linearly up to the backoff cap, and once the streak reaches the
// breaker threshold the loop sleeps through the cooldown and starts fresh.
func (s *AutoSellService) Run(ctx context.Context) error {
	s.logger.Info("auto-sell loop starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("max_consecutive_errors", s.cfg.MaxConsecutiveErrors),
	)

	consecErrors := 0
	for {
		if err := s.EvaluateOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecErrors++
			if s.metrics != nil {
				s.metrics.EvalErrors.Inc()
			}
			s.logger.Error("evaluation cycle failed",
				slog.Int("consecutive", consecErrors),
				slog.String("error", err.Error()),
			)

			if consecErrors >= s.cfg.MaxConsecutiveErrors {
				if s.metrics != nil {
					s.metrics.SchedulerPauses.Inc()
				}
				s.logger.Warn("error streak hit breaker threshold, pausing",
					slog.Duration("cooldown", s.cfg.Cooldown),
				)
				if !sleepCtx(ctx, s.cfg.Cooldown) {
					return ctx.Err()
				}
				consecErrors = 0
				continue
			}
		} else {
			consecErrors = 0
		}

		delay := s.cfg.Interval
		if consecErrors > 0 {
			backoff := time.Duration(consecErrors) * s.cfg.BaseBackoff
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			if backoff > delay {
				delay = backoff
			}
		}
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}
}

// EvaluateOnce runs a single evaluation cycle over every tracked position.
func (s *AutoSellService) EvaluateOnce(ctx context.Context) error {
	snapshot := s.book.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	candidates := snapshot[:0]
	for _, pos := range snapshot {
		if pos.Exhausted() || s.guard.Held(pos.Key()) {
			continue
		}
		candidates = append(candidates, pos)
	}
	if len(candidates) == 0 {
		return nil
	}

	prices, err := s.lookupPrices(ctx, candidates)
	if err != nil {
		return fmt.Errorf("autosell: price lookup: %w", err)
	}

	for _, pos := range candidates {
		price, ok := prices[pos.Asset]
		if !ok {
			// The oracle has no quote for this asset right now; try again
			// next cycle.
			if s.metrics != nil {
				s.metrics.PriceMisses.Inc()
			}
			continue
		}
		if err := s.evaluatePosition(ctx, pos, price); err != nil {
			s.logger.Error("position evaluation failed",
				slog.String("position", pos.Key()),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.EvalCycles.Inc()
	}
	return nil
}

// lookupPrices resolves prices for the candidates, serving from the shared
// cache where it can and writing fresh oracle quotes back through it.
func (s *AutoSellService) lookupPrices(ctx context.Context, candidates []domain.Position) (map[string]float64, error) {
	seen := make(map[string]bool, len(candidates))
	assets := make([]string, 0, len(candidates))
	for _, pos := range candidates {
		if !seen[pos.Asset] {
			seen[pos.Asset] = true
			assets = append(assets, pos.Asset)
		}
	}

	out := make(map[string]float64, len(assets))
	if s.priceCache != nil {
		cached, err := s.priceCache.GetPrices(ctx, assets)
		if err == nil {
			for k, v := range cached {
				out[k] = v
			}
		}
	}

	var missing []string
	for _, a := range assets {
		if _, ok := out[a]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := s.prices.FetchPrices(ctx, missing)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PriceFetches.Inc()
	}

	now := time.Now().UTC()
	for asset, price := range fresh {
		out[asset] = price
		if s.priceCache != nil {
			if err := s.priceCache.SetPrice(ctx, asset, price, now); err != nil {
				s.logger.Debug("price cache write failed", slog.String("asset", asset), slog.String("error", err.Error()))
			}
		}
	}
	return out, nil
}

// evaluatePosition checks one position against the price and dispatches a
// sell when a ladder step triggers. The guard is taken before anything is
// written, and the triggered step is re-derived from the book's current copy
// under the position's key lock, so a fill settling concurrently is never
// overwritten and never sold twice. The triggered step and everything it
// supersedes are removed and persisted before the swap goes out; a sell
// that later fails does not restore them.
func (s *AutoSellService) evaluatePosition(ctx context.Context, pos domain.Position, price float64) error {
	if _, ok := Decide(pos, price); !ok {
		return nil
	}

	if !s.guard.TryAcquire(pos.Key()) {
		return nil
	}

	var (
		d       Decision
		percent float64
		qty     uint64
	)
	updated, err := s.book.Update(ctx, pos.AccountID, pos.Asset, func(cur *domain.Position, exists bool) error {
		if !exists {
			return errSkipUpdate
		}
		var ok bool
		d, ok = Decide(*cur, price)
		if !ok {
			return errSkipUpdate
		}

		percent = d.Step.CumulativePercent - cur.SoldPercentage
		cur.SellSchedule = PruneSchedule(cur.SellSchedule, cur.EntryPrice, d.Step)

		if percent <= 0 {
			// The step is stale: earlier fills already realised at least its
			// cumulative share. Drop it and move on.
			s.logger.Debug("skipping stale step",
				slog.String("position", cur.Key()),
				slog.Float64("cumulative", d.Step.CumulativePercent),
				slog.Float64("sold", cur.SoldPercentage),
			)
			return nil
		}
		qty = cur.QuantityFor(percent)
		if qty == 0 {
			s.logger.Debug("step yields no quantity",
				slog.String("position", cur.Key()),
				slog.Float64("percent", percent),
			)
		}
		return nil
	})
	if err != nil {
		s.guard.Release(pos.Key())
		return err
	}
	if qty == 0 {
		s.guard.Release(pos.Key())
		return nil
	}

	s.logger.Info("ladder step triggered",
		slog.String("position", updated.Key()),
		slog.String("trigger", string(d.Trigger)),
		slog.Float64("target", d.Step.TargetPrice),
		slog.Float64("price", price),
		slog.Float64("percent", percent),
		slog.Uint64("quantity", qty),
	)

	go s.dispatch(ctx, updated, d, price, percent, qty)
	return nil
}

// dispatch executes the sell and settles the fill. It runs in its own
// goroutine; the guard is held for the duration so the evaluator skips the
// position until the outcome is known.
func (s *AutoSellService) dispatch(ctx context.Context, pos domain.Position, d Decision, price, percent float64, qty uint64) {
	defer s.guard.Release(pos.Key())

	settings, err := s.settings.Get(ctx, pos.AccountID)
	if err != nil {
		s.logger.Error("settings load failed, selling with defaults",
			slog.String("position", pos.Key()),
			slog.String("error", err.Error()),
		)
		settings = domain.AccountSettings{}
	}

	slippage := settings.SlippageBps
	if slippage <= 0 {
		slippage = s.cfg.DefaultSlippageBps
	}
	delivery := domain.DeliveryDirect
	if settings.UseRelay {
		delivery = domain.DeliveryRelay
	}

	res, err := s.exec.Execute(ctx, domain.SwapIntent{
		AccountID:   pos.AccountID,
		Side:        domain.SwapSideSell,
		InputMint:   pos.Asset,
		OutputMint:  s.cfg.WSOLMint,
		Amount:      qty,
		SlippageBps: slippage,
		Delivery:    delivery,
		Reason:      string(d.Trigger),
	})
	if err != nil {
		// The step stays pruned; the remaining ladder still covers the
		// position and the stop is untouched on limit failures.
		s.logger.Error("ladder sell failed",
			slog.String("position", pos.Key()),
			slog.String("trigger", string(d.Trigger)),
			slog.String("error", err.Error()),
		)
		s.positions.auditLog(ctx, pos.AccountID, "autosell_failed", map[string]any{
			"asset":   pos.Asset,
			"trigger": string(d.Trigger),
			"error":   err.Error(),
		})
		s.positions.notify(ctx, pos.AccountID, "error", "Automatic sell failed",
			fmt.Sprintf("Could not sell %.2f%% of %s: %v", percent, label(pos.Symbol, pos.Asset), err))
		return
	}

	if s.metrics != nil {
		s.metrics.StepsFilled.WithLabelValues(string(d.Trigger)).Inc()
	}

	if err := s.positions.SettleFill(ctx, pos, domain.SoldStep{
		Price:          price,
		PercentageSold: percent,
		QuantitySold:   qty,
		TxID:           res.TxID,
		FilledAt:       time.Now().UTC(),
	}); err != nil {
		s.logger.Error("settling fill failed",
			slog.String("position", pos.Key()),
			slog.String("tx", res.TxID),
			slog.String("error", err.Error()),
		)
	}
}

// sleepCtx waits for d unless the context ends first. It reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
