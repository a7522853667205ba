package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// lamportsPerSOL converts SOL amounts to the chain's smallest unit.
const lamportsPerSOL = 1_000_000_000

// SwapExecutor executes a swap intent to completion.
type SwapExecutor interface {
	Execute(ctx context.Context, intent domain.SwapIntent) (domain.SwapResult, error)
}

// PriceSource returns current prices for a set of mints. Mints without a
// price are omitted from the result.
type PriceSource interface {
	FetchPrices(ctx context.Context, mints []string) (map[string]float64, error)
}

// Notifier delivers user-facing event notifications.
type Notifier interface {
	Notify(ctx context.Context, accountID, event, title, message string) error
}

// PositionService opens, reduces, and closes positions. Every mutation goes
// through the position book so the persisted state and the evaluator's
// working set never drift.
type PositionService struct {
	book     *PositionBook
	guard    *InflightGuard
	settings domain.SettingsStore
	exec     SwapExecutor
	prices   PriceSource
	notifier Notifier
	audit    domain.AuditStore
	bus      domain.SignalBus
	wsolMint string
	slippage int // default slippage bps when settings carry none
	logger   *slog.Logger
}

// NewPositionService creates a PositionService with all required dependencies.
// The guard is shared with the auto-sell evaluator so a manual sell and an
// automatic one never race for the same position.
func NewPositionService(
	book *PositionBook,
	guard *InflightGuard,
	settings domain.SettingsStore,
	exec SwapExecutor,
	prices PriceSource,
	notifier Notifier,
	audit domain.AuditStore,
	bus domain.SignalBus,
	wsolMint string,
	defaultSlippageBps int,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		book:     book,
		guard:    guard,
		settings: settings,
		exec:     exec,
		prices:   prices,
		notifier: notifier,
		audit:    audit,
		bus:      bus,
		wsolMint: wsolMint,
		slippage: defaultSlippageBps,
		logger:   logger.With(slog.String("component", "position_service")),
	}
}

// BuildSchedule derives a position's exit ladder from the account settings.
// The protective stop sits first; limit rungs follow in ascending target
// order with their sell percentages accumulated. When no ladder is
// configured the take-profit becomes a single full exit. A non-positive
// entry price has no ladder: every target would collapse to zero or below
// and the whole position would classify as a stop.
func BuildSchedule(entryPrice float64, s domain.AccountSettings) []domain.SellStep {
	if entryPrice <= 0 {
		return nil
	}

	var steps []domain.SellStep

	if s.StopLossPct > 0 {
		steps = append(steps, domain.SellStep{
			TargetPrice:       entryPrice * (1 - s.StopLossPct/100),
			CumulativePercent: 100,
		})
	}

	if len(s.LimitOrders) > 0 {
		ladder := make([]domain.LimitOrder, len(s.LimitOrders))
		copy(ladder, s.LimitOrders)
		sort.Slice(ladder, func(i, j int) bool {
			return ladder[i].RisePercent < ladder[j].RisePercent
		})

		cumulative := 0.0
		for _, rung := range ladder {
			cumulative += rung.SellPercent
			if cumulative > 100 {
				cumulative = 100
			}
			steps = append(steps, domain.SellStep{
				TargetPrice:       entryPrice * (1 + rung.RisePercent/100),
				CumulativePercent: cumulative,
			})
		}
		return steps
	}

	if s.TakeProfitPct > 0 {
		steps = append(steps, domain.SellStep{
			TargetPrice:       entryPrice * (1 + s.TakeProfitPct/100),
			CumulativePercent: 100,
		})
	}
	return steps
}

// OpenFromBuy buys the asset with the account's configured SOL amount and
// records the resulting position with its exit ladder. A repeat buy into an
// existing position blends the entry price and rebuilds the ladder from the
// blended entry.
func (s *PositionService) OpenFromBuy(ctx context.Context, accountID, asset, symbol string, source domain.PositionSource) (domain.Position, error) {
	settings, err := s.settings.Get(ctx, accountID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: loading settings for %s: %w", accountID, err)
	}
	if settings.BuyAmountSOL <= 0 {
		return domain.Position{}, fmt.Errorf("position_service: account %s has no buy amount configured", accountID)
	}

	// A position without an entry price has no usable ladder, so refuse to
	// buy until the oracle can quote the asset.
	entry := s.spotPrice(ctx, asset)
	if entry <= 0 {
		s.auditLog(ctx, accountID, "buy_failed", map[string]any{
			"asset": asset,
			"error": domain.ErrPriceUnavailable.Error(),
		})
		return domain.Position{}, fmt.Errorf("position_service: buy %s for %s: %w", asset, accountID, domain.ErrPriceUnavailable)
	}

	intent := domain.SwapIntent{
		AccountID:   accountID,
		Side:        domain.SwapSideBuy,
		InputMint:   s.wsolMint,
		OutputMint:  asset,
		Amount:      uint64(settings.BuyAmountSOL * lamportsPerSOL),
		SlippageBps: s.slippageFor(settings),
		Delivery:    s.deliveryFor(settings),
		Reason:      string(source),
	}

	res, err := s.exec.Execute(ctx, intent)
	if err != nil {
		s.auditLog(ctx, accountID, "buy_failed", map[string]any{
			"asset": asset,
			"error": err.Error(),
		})
		return domain.Position{}, fmt.Errorf("position_service: buy %s for %s: %w", asset, accountID, err)
	}

	now := time.Now().UTC()
	pos, err := s.book.Update(ctx, accountID, asset, func(pos *domain.Position, exists bool) error {
		if !exists {
			*pos = domain.Position{
				AccountID:    accountID,
				Asset:        asset,
				Symbol:       symbol,
				EntryPrice:   entry,
				TotalSize:    res.ExpectedOut,
				SellSchedule: BuildSchedule(entry, settings),
				Source:       source,
				OpenedAt:     now,
				UpdatedAt:    now,
			}
			return nil
		}

		// Repeat buy: blend entry by size and grow the position.
		oldNotional := pos.EntryPrice * float64(pos.TotalSize)
		newNotional := entry * float64(res.ExpectedOut)
		pos.TotalSize += res.ExpectedOut
		if pos.TotalSize > 0 {
			pos.EntryPrice = (oldNotional + newNotional) / float64(pos.TotalSize)
		}
		pos.SellSchedule = BuildSchedule(pos.EntryPrice, settings)
		pos.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	s.auditLog(ctx, accountID, "position_opened", map[string]any{
		"asset":  asset,
		"tx":     res.TxID,
		"size":   pos.TotalSize,
		"entry":  pos.EntryPrice,
		"source": string(source),
	})
	s.publish(ctx, "position_opened", pos)
	s.notify(ctx, accountID, "position_opened", "Position opened",
		fmt.Sprintf("Bought %s for %.4f SOL (tx %s)", label(symbol, asset), settings.BuyAmountSOL, res.TxID))

	s.logger.Info("position opened",
		slog.String("account", accountID),
		slog.String("asset", asset),
		slog.Uint64("size", pos.TotalSize),
		slog.Float64("entry", pos.EntryPrice),
	)
	return pos, nil
}

// SellNow sells a percentage of the position's original size at market,
// outside of the automatic ladder. percent is clamped to what is left. The
// in-flight guard is held for the duration so the evaluator cannot dispatch
// a competing exit for the same position.
func (s *PositionService) SellNow(ctx context.Context, accountID, asset string, percent float64) (domain.SwapResult, error) {
	key := accountID + ":" + asset
	if s.guard != nil {
		if !s.guard.TryAcquire(key) {
			return domain.SwapResult{}, fmt.Errorf("position_service: %s: %w", key, domain.ErrSellInFlight)
		}
		defer s.guard.Release(key)
	}

	pos, ok := s.book.Get(accountID, asset)
	if !ok {
		return domain.SwapResult{}, fmt.Errorf("position_service: %s:%s: %w", accountID, asset, domain.ErrNotFound)
	}

	qty := pos.QuantityFor(percent)
	if qty == 0 {
		return domain.SwapResult{}, fmt.Errorf("position_service: %s: %w", pos.Key(), domain.ErrNothingToSell)
	}

	settings, err := s.settings.Get(ctx, accountID)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("position_service: loading settings for %s: %w", accountID, err)
	}

	res, err := s.exec.Execute(ctx, domain.SwapIntent{
		AccountID:   accountID,
		Side:        domain.SwapSideSell,
		InputMint:   asset,
		OutputMint:  s.wsolMint,
		Amount:      qty,
		SlippageBps: s.slippageFor(settings),
		Delivery:    s.deliveryFor(settings),
		Reason:      "manual",
	})
	if err != nil {
		s.auditLog(ctx, accountID, "sell_failed", map[string]any{
			"asset": asset,
			"error": err.Error(),
		})
		return res, fmt.Errorf("position_service: sell %s: %w", pos.Key(), err)
	}

	return res, s.SettleFill(ctx, pos, domain.SoldStep{
		Price:          s.spotPrice(ctx, asset),
		PercentageSold: percent,
		QuantitySold:   qty,
		TxID:           res.TxID,
		FilledAt:       time.Now().UTC(),
	})
}

// SettleFill applies a confirmed exit fill to the position, closing it out
// entirely once nothing remains. The fill is folded into the book's current
// copy under the position's key lock, so concurrent fills both land.
func (s *PositionService) SettleFill(ctx context.Context, pos domain.Position, fill domain.SoldStep) error {
	updated, err := s.book.Update(ctx, pos.AccountID, pos.Asset, func(cur *domain.Position, exists bool) error {
		if !exists {
			return fmt.Errorf("position_service: settling %s: %w", pos.Key(), domain.ErrNotFound)
		}
		cur.ApplyFill(fill)
		return nil
	})
	if err != nil {
		return err
	}
	pos = updated

	if pos.Exhausted() {
		s.auditLog(ctx, pos.AccountID, "position_closed", map[string]any{
			"asset": pos.Asset,
			"tx":    fill.TxID,
		})
		s.publish(ctx, "position_closed", pos)
		s.notify(ctx, pos.AccountID, "position_closed", "Position closed",
			fmt.Sprintf("Sold the last %.2f%% of %s (tx %s)", fill.PercentageSold, label(pos.Symbol, pos.Asset), fill.TxID))
		return nil
	}

	s.auditLog(ctx, pos.AccountID, "step_filled", map[string]any{
		"asset":   pos.Asset,
		"tx":      fill.TxID,
		"percent": fill.PercentageSold,
		"sold":    pos.SoldPercentage,
	})
	s.publish(ctx, "step_filled", pos)
	s.notify(ctx, pos.AccountID, "step_filled", "Partial exit filled",
		fmt.Sprintf("Sold %.2f%% of %s at %.6f (tx %s)", fill.PercentageSold, label(pos.Symbol, pos.Asset), fill.Price, fill.TxID))
	return nil
}

// spotPrice returns the oracle's current quote for the asset, or zero when
// the oracle cannot see it.
func (s *PositionService) spotPrice(ctx context.Context, asset string) float64 {
	prices, err := s.prices.FetchPrices(ctx, []string{asset})
	if err != nil {
		s.logger.Warn("price lookup failed", slog.String("asset", asset), slog.String("error", err.Error()))
		return 0
	}
	return prices[asset]
}

func (s *PositionService) slippageFor(settings domain.AccountSettings) int {
	if settings.SlippageBps > 0 {
		return settings.SlippageBps
	}
	return s.slippage
}

func (s *PositionService) deliveryFor(settings domain.AccountSettings) domain.DeliveryMode {
	if settings.UseRelay {
		return domain.DeliveryRelay
	}
	return domain.DeliveryDirect
}

func (s *PositionService) auditLog(ctx context.Context, accountID, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, accountID, event, detail); err != nil {
		s.logger.Warn("audit write failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *PositionService) publish(ctx context.Context, event string, pos domain.Position) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":      event,
		"account_id": pos.AccountID,
		"asset":      pos.Asset,
		"sold_pct":   pos.SoldPercentage,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err := s.bus.Publish(ctx, "positions", payload); err != nil {
		s.logger.Warn("publish position event failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *PositionService) notify(ctx context.Context, accountID, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, event, title, message); err != nil {
		s.logger.Warn("notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func label(symbol, asset string) string {
	if symbol != "" {
		return symbol
	}
	if len(asset) > 8 {
		return asset[:8] + "..."
	}
	return asset
}
