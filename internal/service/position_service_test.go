package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

const testWSOL = "So11111111111111111111111111111111111111112"

func newTestPositionService(t *testing.T, store *fakePositionStore, settings *fakeSettingsStore, exec *fakeExecutor, prices *fakePrices) (*PositionService, *PositionBook, *fakeAuditStore) {
	t.Helper()
	book := NewPositionBook(store, nil)
	audit := &fakeAuditStore{}
	svc := NewPositionService(book, NewInflightGuard(), settings, exec, prices, nil, audit, nil, testWSOL, 100, testLogger())
	return svc, book, audit
}

func TestBuildSchedule_StopComesFirst(t *testing.T) {
	s := domain.AccountSettings{
		StopLossPct: 50,
		LimitOrders: []domain.LimitOrder{
			{RisePercent: 100, SellPercent: 50},
			{RisePercent: 50, SellPercent: 30},
		},
	}

	steps := BuildSchedule(2.0, s)
	if len(steps) != 3 {
		t.Fatalf("built %d steps, want 3: %+v", len(steps), steps)
	}
	if !steps[0].IsStopLoss(2.0) || steps[0].TargetPrice != 1.0 {
		t.Fatalf("first step = %+v, want stop at 1.0", steps[0])
	}
	if steps[0].CumulativePercent != 100 {
		t.Fatalf("stop cumulative = %v, want 100", steps[0].CumulativePercent)
	}
	// Rungs sorted ascending with cumulative percentages.
	if steps[1].TargetPrice != 3.0 || steps[1].CumulativePercent != 30 {
		t.Fatalf("second step = %+v, want target 3.0 cumulative 30", steps[1])
	}
	if steps[2].TargetPrice != 4.0 || steps[2].CumulativePercent != 80 {
		t.Fatalf("third step = %+v, want target 4.0 cumulative 80", steps[2])
	}
}

func TestBuildSchedule_CumulativeCapsAtHundred(t *testing.T) {
	s := domain.AccountSettings{
		LimitOrders: []domain.LimitOrder{
			{RisePercent: 50, SellPercent: 60},
			{RisePercent: 100, SellPercent: 60},
		},
	}

	steps := BuildSchedule(1.0, s)
	if len(steps) != 2 {
		t.Fatalf("built %d steps, want 2", len(steps))
	}
	if steps[1].CumulativePercent != 100 {
		t.Fatalf("top rung cumulative = %v, want capped at 100", steps[1].CumulativePercent)
	}
}

func TestBuildSchedule_TakeProfitFallback(t *testing.T) {
	s := domain.AccountSettings{TakeProfitPct: 150}

	steps := BuildSchedule(2.0, s)
	if len(steps) != 1 {
		t.Fatalf("built %d steps, want a single take-profit", len(steps))
	}
	if steps[0].TargetPrice != 5.0 || steps[0].CumulativePercent != 100 {
		t.Fatalf("take-profit step = %+v, want target 5.0 full exit", steps[0])
	}
}

func TestBuildSchedule_NoEntryPrice(t *testing.T) {
	s := domain.AccountSettings{
		StopLossPct:   20,
		TakeProfitPct: 50,
		LimitOrders: []domain.LimitOrder{
			{RisePercent: 50, SellPercent: 100},
		},
	}

	if steps := BuildSchedule(0, s); steps != nil {
		t.Fatalf("zero entry built %+v, want no schedule", steps)
	}
	if steps := BuildSchedule(-1, s); steps != nil {
		t.Fatalf("negative entry built %+v, want no schedule", steps)
	}
}

func TestBuildSchedule_EmptySettings(t *testing.T) {
	if steps := BuildSchedule(1.0, domain.AccountSettings{}); len(steps) != 0 {
		t.Fatalf("empty settings built %+v, want no schedule", steps)
	}
}

func TestOpenFromBuy_NewPosition(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{
		AccountID:    "acct-1",
		BuyAmountSOL: 0.5,
		SlippageBps:  200,
		StopLossPct:  50,
	}
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx-buy", Confirmed: true, ExpectedOut: 1_000_000}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 0.004}}
	svc, _, audit := newTestPositionService(t, store, settings, exec, prices)

	pos, err := svc.OpenFromBuy(ctx, "acct-1", "MintAAAA", "AAA", domain.PositionSourceManual)
	if err != nil {
		t.Fatalf("OpenFromBuy: %v", err)
	}

	intents := exec.executed()
	if len(intents) != 1 {
		t.Fatalf("executed %d swaps, want 1", len(intents))
	}
	in := intents[0]
	if in.Side != domain.SwapSideBuy || in.InputMint != testWSOL || in.OutputMint != "MintAAAA" {
		t.Fatalf("buy intent = %+v", in)
	}
	if in.Amount != 500_000_000 {
		t.Fatalf("amount = %d lamports, want 500000000 for 0.5 SOL", in.Amount)
	}
	if in.SlippageBps != 200 {
		t.Fatalf("slippage = %d, want the account's 200", in.SlippageBps)
	}

	if pos.TotalSize != 1_000_000 || pos.EntryPrice != 0.004 {
		t.Fatalf("position = size %d entry %v, want 1000000 at 0.004", pos.TotalSize, pos.EntryPrice)
	}
	if len(pos.SellSchedule) != 1 || pos.SellSchedule[0].TargetPrice != 0.002 {
		t.Fatalf("schedule = %+v, want a single stop at 0.002", pos.SellSchedule)
	}

	if _, err := store.Get(ctx, "acct-1", "MintAAAA"); err != nil {
		t.Fatalf("position not persisted: %v", err)
	}
	events := audit.events()
	if len(events) == 0 || events[len(events)-1] != "position_opened" {
		t.Fatalf("audit events = %v, want position_opened", events)
	}
}

func TestOpenFromBuy_RepeatBuyBlendsEntry(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{
		AccountID:    "acct-1",
		BuyAmountSOL: 1,
		StopLossPct:  50,
	}
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx-buy-2", ExpectedOut: 1_000_000}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 3.0}}
	svc, book, _ := newTestPositionService(t, store, settings, exec, prices)

	existing := domain.Position{
		AccountID:  "acct-1",
		Asset:      "MintAAAA",
		EntryPrice: 1.0,
		TotalSize:  1_000_000,
		OpenedAt:   time.Now().UTC().Add(-time.Hour),
	}
	if err := book.Put(ctx, existing); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	pos, err := svc.OpenFromBuy(ctx, "acct-1", "MintAAAA", "AAA", domain.PositionSourceCopy)
	if err != nil {
		t.Fatalf("OpenFromBuy: %v", err)
	}

	if pos.TotalSize != 2_000_000 {
		t.Fatalf("size = %d, want 2000000", pos.TotalSize)
	}
	// 1M at 1.0 plus 1M at 3.0 blends to 2.0.
	if pos.EntryPrice != 2.0 {
		t.Fatalf("blended entry = %v, want 2.0", pos.EntryPrice)
	}
	// Ladder rebuilt from the blended entry: 50% stop sits at 1.0.
	if len(pos.SellSchedule) != 1 || pos.SellSchedule[0].TargetPrice != 1.0 {
		t.Fatalf("schedule = %+v, want stop at 1.0", pos.SellSchedule)
	}
}

func TestOpenFromBuy_NoBuyAmountConfigured(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{AccountID: "acct-1"}
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	svc, _, _ := newTestPositionService(t, store, settings, exec, &fakePrices{})

	if _, err := svc.OpenFromBuy(ctx, "acct-1", "MintAAAA", "AAA", domain.PositionSourceManual); err == nil {
		t.Fatal("expected an error with no buy amount configured")
	}
	if n := len(exec.executed()); n != 0 {
		t.Fatalf("executed %d swaps, want 0", n)
	}
}

func TestOpenFromBuy_ExecutionFailureIsAudited(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{AccountID: "acct-1", BuyAmountSOL: 0.1}
	exec := newFakeExecutor(domain.SwapResult{}, errors.New("no route"))
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 0.01}}
	svc, _, audit := newTestPositionService(t, store, settings, exec, prices)

	if _, err := svc.OpenFromBuy(ctx, "acct-1", "MintAAAA", "AAA", domain.PositionSourceManual); err == nil {
		t.Fatal("expected the buy failure to propagate")
	}
	events := audit.events()
	if len(events) != 1 || events[0] != "buy_failed" {
		t.Fatalf("audit events = %v, want buy_failed", events)
	}
	if len(store.positions) != 0 {
		t.Fatal("no position should be recorded after a failed buy")
	}
}

func TestOpenFromBuy_NoQuoteRefusesToBuy(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{AccountID: "acct-1", BuyAmountSOL: 0.5, StopLossPct: 50}
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx-buy", ExpectedOut: 1_000_000}, nil)
	svc, _, audit := newTestPositionService(t, store, settings, exec, &fakePrices{})

	_, err := svc.OpenFromBuy(ctx, "acct-1", "MintAAAA", "AAA", domain.PositionSourceManual)
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
	if n := len(exec.executed()); n != 0 {
		t.Fatalf("executed %d swaps without a quote, want 0", n)
	}
	if len(store.positions) != 0 {
		t.Fatal("no position should be recorded without an entry price")
	}
	events := audit.events()
	if len(events) != 1 || events[0] != "buy_failed" {
		t.Fatalf("audit events = %v, want buy_failed", events)
	}
}

func TestSellNow_PartialExit(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{AccountID: "acct-1", BuyAmountSOL: 1}
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx-sell", Confirmed: true}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 1.5}}
	svc, book, _ := newTestPositionService(t, store, settings, exec, prices)

	if err := book.Put(ctx, ladderPosition()); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	res, err := svc.SellNow(ctx, "acct-1", "MintAAAA", 25)
	if err != nil {
		t.Fatalf("SellNow: %v", err)
	}
	if res.TxID != "tx-sell" {
		t.Fatalf("tx = %q, want tx-sell", res.TxID)
	}

	in := exec.executed()[0]
	if in.Amount != 250_000 || in.Side != domain.SwapSideSell {
		t.Fatalf("sell intent = %+v, want 250000 of the position", in)
	}

	got, _ := store.Get(ctx, "acct-1", "MintAAAA")
	if got.SoldPercentage != 25 || got.SoldSize != 250_000 {
		t.Fatalf("after sell: sold %v%% size %d, want 25%% and 250000", got.SoldPercentage, got.SoldSize)
	}
}

func TestSellNow_UnknownPosition(t *testing.T) {
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	svc, _, _ := newTestPositionService(t, store, settings, exec, &fakePrices{})

	_, err := svc.SellNow(context.Background(), "acct-1", "MintZZZZ", 50)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSellNow_NothingLeftToSell(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	svc, book, _ := newTestPositionService(t, store, settings, exec, &fakePrices{})

	pos := ladderPosition()
	pos.SoldSize = pos.TotalSize
	pos.SoldPercentage = 50 // size exhausted even though percentage is not
	// Seed the book directly; the store would filter this row out of ListOpen.
	book.positions[pos.Key()] = pos

	_, err := svc.SellNow(ctx, "acct-1", "MintAAAA", 50)
	if !errors.Is(err, domain.ErrNothingToSell) {
		t.Fatalf("err = %v, want ErrNothingToSell", err)
	}
}

func TestSellNow_RejectedWhileSellInFlight(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{AccountID: "acct-1", BuyAmountSOL: 1}
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx-sell"}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 1.5}}
	svc, book, _ := newTestPositionService(t, store, settings, exec, prices)

	pos := ladderPosition()
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	// Simulate an evaluator-dispatched sell still settling.
	if !svc.guard.TryAcquire(pos.Key()) {
		t.Fatal("acquiring an idle guard failed")
	}

	_, err := svc.SellNow(ctx, "acct-1", "MintAAAA", 25)
	if !errors.Is(err, domain.ErrSellInFlight) {
		t.Fatalf("err = %v, want ErrSellInFlight", err)
	}
	if n := len(exec.executed()); n != 0 {
		t.Fatalf("executed %d swaps while a sell was in flight, want 0", n)
	}

	svc.guard.Release(pos.Key())
	if _, err := svc.SellNow(ctx, "acct-1", "MintAAAA", 25); err != nil {
		t.Fatalf("SellNow after release: %v", err)
	}
	if svc.guard.Held(pos.Key()) {
		t.Fatal("guard still held after SellNow returned")
	}
}

func TestSettleFill_ClosesExhaustedPosition(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	svc, book, audit := newTestPositionService(t, store, settings, exec, &fakePrices{})

	pos := ladderPosition()
	pos.SoldSize = 600_000
	pos.SoldPercentage = 60
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	err := svc.SettleFill(ctx, pos, domain.SoldStep{
		Price:          3.2,
		PercentageSold: 40,
		QuantitySold:   400_000,
		TxID:           "tx-final",
		FilledAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SettleFill: %v", err)
	}

	if _, err := store.Get(ctx, "acct-1", "MintAAAA"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("exhausted position should be deleted, got %v", err)
	}
	if _, ok := book.Get("acct-1", "MintAAAA"); ok {
		t.Fatal("exhausted position still in the book")
	}

	events := audit.events()
	if len(events) == 0 || events[len(events)-1] != "position_closed" {
		t.Fatalf("audit events = %v, want position_closed", events)
	}
}

func TestSettleFill_PartialKeepsPosition(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	svc, book, audit := newTestPositionService(t, store, settings, exec, &fakePrices{})

	pos := ladderPosition()
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	err := svc.SettleFill(ctx, pos, domain.SoldStep{
		Price:          1.5,
		PercentageSold: 30,
		QuantitySold:   300_000,
		TxID:           "tx-step",
		FilledAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SettleFill: %v", err)
	}

	got, err := store.Get(ctx, "acct-1", "MintAAAA")
	if err != nil {
		t.Fatalf("loading position: %v", err)
	}
	if got.SoldPercentage != 30 || got.SoldSize != 300_000 {
		t.Fatalf("position after fill = sold %v%% size %d", got.SoldPercentage, got.SoldSize)
	}
	events := audit.events()
	if len(events) == 0 || events[len(events)-1] != "step_filled" {
		t.Fatalf("audit events = %v, want step_filled", events)
	}
}

func TestSettleFill_ConcurrentFillsBothLand(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	store.writeDelay = 30 * time.Millisecond
	settings := newFakeSettingsStore()
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	svc, book, _ := newTestPositionService(t, store, settings, exec, &fakePrices{})

	pos := ladderPosition()
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	fills := []domain.SoldStep{
		{Price: 1.5, PercentageSold: 30, QuantitySold: 300_000, TxID: "tx-a", FilledAt: time.Now().UTC()},
		{Price: 2.0, PercentageSold: 20, QuantitySold: 200_000, TxID: "tx-b", FilledAt: time.Now().UTC()},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(fills))
	for i, fill := range fills {
		wg.Add(1)
		go func(i int, fill domain.SoldStep) {
			defer wg.Done()
			errs[i] = svc.SettleFill(ctx, pos, fill)
		}(i, fill)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("SettleFill %d: %v", i, err)
		}
	}

	got, err := store.Get(ctx, "acct-1", "MintAAAA")
	if err != nil {
		t.Fatalf("loading position: %v", err)
	}
	if got.SoldPercentage != 50 || got.SoldSize != 500_000 {
		t.Fatalf("after both fills: sold %v%% size %d, want 50%% and 500000", got.SoldPercentage, got.SoldSize)
	}
	if len(got.History) != 2 {
		t.Fatalf("history has %d fills, want both recorded: %+v", len(got.History), got.History)
	}
}

func TestSettleFill_UnknownPosition(t *testing.T) {
	store := newFakePositionStore()
	settings := newFakeSettingsStore()
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	svc, _, _ := newTestPositionService(t, store, settings, exec, &fakePrices{})

	err := svc.SettleFill(context.Background(), ladderPosition(), domain.SoldStep{
		PercentageSold: 10,
		QuantitySold:   100_000,
		TxID:           "tx-ghost",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(store.positions) != 0 {
		t.Fatal("settling a fill must not resurrect a closed position")
	}
}

func TestPositionBook_UpdateAppliesUnderKeyLock(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	book := NewPositionBook(store, nil)

	if err := book.Put(ctx, ladderPosition()); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	updated, err := book.Update(ctx, "acct-1", "MintAAAA", func(pos *domain.Position, exists bool) error {
		if !exists {
			t.Fatal("existing position reported as missing")
		}
		pos.SoldPercentage = 25
		pos.SoldSize = 250_000
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.SoldPercentage != 25 {
		t.Fatalf("returned position sold %v%%, want 25", updated.SoldPercentage)
	}

	got, err := store.Get(ctx, "acct-1", "MintAAAA")
	if err != nil {
		t.Fatalf("loading position: %v", err)
	}
	if got.SoldSize != 250_000 {
		t.Fatalf("store holds sold size %d, want the update written through", got.SoldSize)
	}
}

func TestPositionBook_UpdateSkipWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	book := NewPositionBook(store, nil)

	if err := book.Put(ctx, ladderPosition()); err != nil {
		t.Fatalf("seeding book: %v", err)
	}
	before := store.upserts

	_, err := book.Update(ctx, "acct-1", "MintAAAA", func(pos *domain.Position, exists bool) error {
		pos.SoldPercentage = 99
		return errSkipUpdate
	})
	if err != nil {
		t.Fatalf("Update with skip: %v", err)
	}
	if store.upserts != before {
		t.Fatal("skipped update still wrote to the store")
	}
	if got, _ := book.Get("acct-1", "MintAAAA"); got.SoldPercentage == 99 {
		t.Fatal("skipped update leaked into the book")
	}
}

func TestPositionBook_UpdateRemovesExhausted(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	book := NewPositionBook(store, nil)

	if err := book.Put(ctx, ladderPosition()); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	_, err := book.Update(ctx, "acct-1", "MintAAAA", func(pos *domain.Position, exists bool) error {
		pos.SoldPercentage = 100
		pos.SoldSize = pos.TotalSize
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := book.Get("acct-1", "MintAAAA"); ok {
		t.Fatal("exhausted position still in the book")
	}
	if _, err := store.Get(ctx, "acct-1", "MintAAAA"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("exhausted position still in the store: %v", err)
	}
}

func TestPositionBook_LoadPutDeleteSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	store.positions["acct-1:MintAAAA"] = ladderPosition()

	book := NewPositionBook(store, nil)
	n, err := book.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 1 || book.Len() != 1 {
		t.Fatalf("loaded %d positions, book holds %d, want 1", n, book.Len())
	}

	other := ladderPosition()
	other.Asset = "MintBBBB"
	if err := book.Put(ctx, other); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Get(ctx, "acct-1", "MintBBBB"); err != nil {
		t.Fatalf("Put did not write through: %v", err)
	}

	snap := book.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d positions, want 2", len(snap))
	}
	// Snapshot copies must not alias the book.
	snap[0].SoldPercentage = 99
	for _, pos := range book.Snapshot() {
		if pos.SoldPercentage == 99 {
			t.Fatal("mutating a snapshot leaked into the book")
		}
	}

	if err := book.Delete(ctx, "acct-1", "MintAAAA"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := book.Get("acct-1", "MintAAAA"); ok {
		t.Fatal("deleted position still in the book")
	}
	if _, err := store.Get(ctx, "acct-1", "MintAAAA"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted position still in the store: %v", err)
	}
}
