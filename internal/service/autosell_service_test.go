package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ladderPosition() domain.Position {
	return domain.Position{
		AccountID:  "acct-1",
		Asset:      "MintAAAA",
		Symbol:     "AAA",
		EntryPrice: 1.0,
		TotalSize:  1_000_000,
		SellSchedule: []domain.SellStep{
			{TargetPrice: 0.8, CumulativePercent: 100},
			{TargetPrice: 1.5, CumulativePercent: 30},
			{TargetPrice: 2.0, CumulativePercent: 60},
			{TargetPrice: 3.0, CumulativePercent: 100},
		},
		OpenedAt:  time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestDecide_StopLossFiresFirst(t *testing.T) {
	pos := ladderPosition()

	d, ok := Decide(pos, 0.75)
	if !ok {
		t.Fatal("expected a decision at 0.75")
	}
	if d.Trigger != TriggerStopLoss {
		t.Fatalf("trigger = %q, want %q", d.Trigger, TriggerStopLoss)
	}
	if d.Step.TargetPrice != 0.8 {
		t.Fatalf("step target = %v, want 0.8", d.Step.TargetPrice)
	}
}

func TestDecide_StopFiresExactlyAtTarget(t *testing.T) {
	pos := ladderPosition()

	d, ok := Decide(pos, 0.8)
	if !ok || d.Trigger != TriggerStopLoss {
		t.Fatalf("Decide(0.8) = (%+v, %v), want stop loss", d, ok)
	}
}

func TestDecide_HighestReachedLimitWins(t *testing.T) {
	pos := ladderPosition()

	// Price gapped through the first two rungs; only the highest one
	// reached should fire.
	d, ok := Decide(pos, 2.5)
	if !ok {
		t.Fatal("expected a decision at 2.5")
	}
	if d.Trigger != TriggerLimit {
		t.Fatalf("trigger = %q, want %q", d.Trigger, TriggerLimit)
	}
	if d.Step.TargetPrice != 2.0 {
		t.Fatalf("step target = %v, want 2.0", d.Step.TargetPrice)
	}
}

func TestDecide_NoTriggerBetweenStopAndFirstLimit(t *testing.T) {
	pos := ladderPosition()

	if d, ok := Decide(pos, 1.2); ok {
		t.Fatalf("Decide(1.2) fired %+v, want no trigger", d)
	}
}

func TestDecide_EmptyScheduleAndBadPrice(t *testing.T) {
	pos := ladderPosition()
	pos.SellSchedule = nil
	if _, ok := Decide(pos, 2.0); ok {
		t.Fatal("empty schedule should never trigger")
	}

	pos = ladderPosition()
	if _, ok := Decide(pos, 0); ok {
		t.Fatal("zero price should never trigger")
	}
	if _, ok := Decide(pos, -1); ok {
		t.Fatal("negative price should never trigger")
	}
}

func TestPruneSchedule_StopSurvivesLimitTrigger(t *testing.T) {
	pos := ladderPosition()
	triggered := pos.SellSchedule[2] // target 2.0

	out := PruneSchedule(pos.SellSchedule, pos.EntryPrice, triggered)

	want := []domain.SellStep{
		{TargetPrice: 0.8, CumulativePercent: 100},
		{TargetPrice: 3.0, CumulativePercent: 100},
	}
	if len(out) != len(want) {
		t.Fatalf("pruned to %d steps, want %d: %+v", len(out), len(want), out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("step %d = %+v, want %+v", i, out[i], want[i])
		}
	}
}

func TestPruneSchedule_SupersedesLowerRungs(t *testing.T) {
	pos := ladderPosition()
	triggered := pos.SellSchedule[3] // target 3.0, the top rung

	out := PruneSchedule(pos.SellSchedule, pos.EntryPrice, triggered)

	if len(out) != 1 || out[0].TargetPrice != 0.8 {
		t.Fatalf("pruned schedule = %+v, want only the stop", out)
	}
}

func TestPruneSchedule_StopTriggerRemovesOnlyStop(t *testing.T) {
	pos := ladderPosition()
	triggered := pos.SellSchedule[0] // the stop

	out := PruneSchedule(pos.SellSchedule, pos.EntryPrice, triggered)

	if len(out) != 3 {
		t.Fatalf("pruned to %d steps, want 3: %+v", len(out), out)
	}
	for _, st := range out {
		if st.IsStopLoss(pos.EntryPrice) {
			t.Fatalf("stop step %+v survived its own trigger", st)
		}
	}
}

func newTestAutoSell(t *testing.T, store *fakePositionStore, exec *fakeExecutor, prices *fakePrices) (*AutoSellService, *PositionBook, *InflightGuard, *fakeAuditStore) {
	t.Helper()

	book := NewPositionBook(store, nil)
	guard := NewInflightGuard()
	settings := newFakeSettingsStore()
	settings.settings["acct-1"] = domain.AccountSettings{
		AccountID:    "acct-1",
		BuyAmountSOL: 0.5,
		SlippageBps:  150,
	}
	audit := &fakeAuditStore{}

	positions := NewPositionService(book, guard, settings, exec, prices, nil, audit, nil, "So11111111111111111111111111111111111111112", 100, testLogger())
	svc := NewAutoSellService(book, guard, positions, settings, exec, prices, nil, nil, AutoSellParams{
		Interval:             time.Second,
		BaseBackoff:          time.Second,
		MaxBackoff:           5 * time.Second,
		MaxConsecutiveErrors: 3,
		Cooldown:             time.Second,
		WSOLMint:             "So11111111111111111111111111111111111111112",
		DefaultSlippageBps:   100,
	}, testLogger())
	return svc, book, guard, audit
}

func TestEvaluateOnce_DispatchesAndSettles(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx-sell-1", Confirmed: true}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 2.5}}
	svc, book, guard, _ := newTestAutoSell(t, store, exec, prices)

	pos := ladderPosition()
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	if err := svc.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}

	select {
	case <-exec.called:
	case <-time.After(2 * time.Second):
		t.Fatal("executor was never called")
	}
	if !waitFor(2*time.Second, func() bool { return !guard.Held(pos.Key()) }) {
		t.Fatal("guard never released after dispatch")
	}

	intents := exec.executed()
	if len(intents) != 1 {
		t.Fatalf("executed %d swaps, want 1", len(intents))
	}
	in := intents[0]
	if in.Side != domain.SwapSideSell {
		t.Fatalf("side = %q, want sell", in.Side)
	}
	// Price 2.5 reaches the 2.0 rung: 60% cumulative, nothing sold yet.
	if in.Amount != 600_000 {
		t.Fatalf("amount = %d, want 600000", in.Amount)
	}
	if in.SlippageBps != 150 {
		t.Fatalf("slippage = %d, want the account's 150", in.SlippageBps)
	}

	got, err := store.Get(ctx, "acct-1", "MintAAAA")
	if err != nil {
		t.Fatalf("position gone after partial fill: %v", err)
	}
	if got.SoldPercentage != 60 {
		t.Fatalf("sold percentage = %v, want 60", got.SoldPercentage)
	}
	if got.SoldSize != 600_000 {
		t.Fatalf("sold size = %d, want 600000", got.SoldSize)
	}
	for _, st := range got.SellSchedule {
		if st.TargetPrice == 2.0 || st.TargetPrice == 1.5 {
			t.Fatalf("superseded rung %v still in schedule %+v", st.TargetPrice, got.SellSchedule)
		}
	}
	if len(got.History) != 1 || got.History[0].TxID != "tx-sell-1" {
		t.Fatalf("history = %+v, want one fill for tx-sell-1", got.History)
	}
}

func TestEvaluateOnce_FailedSellKeepsSchedulePruned(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	exec := newFakeExecutor(domain.SwapResult{}, errors.New("rpc down"))
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 1.6}}
	svc, book, guard, audit := newTestAutoSell(t, store, exec, prices)

	pos := ladderPosition()
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	if err := svc.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}
	select {
	case <-exec.called:
	case <-time.After(2 * time.Second):
		t.Fatal("executor was never called")
	}
	if !waitFor(2*time.Second, func() bool { return !guard.Held(pos.Key()) }) {
		t.Fatal("guard never released after failed dispatch")
	}

	got, err := store.Get(ctx, "acct-1", "MintAAAA")
	if err != nil {
		t.Fatalf("loading position: %v", err)
	}
	if got.SoldPercentage != 0 {
		t.Fatalf("sold percentage = %v after failed sell, want 0", got.SoldPercentage)
	}
	for _, st := range got.SellSchedule {
		if st.TargetPrice == 1.5 {
			t.Fatal("triggered rung restored after failure; it should stay pruned")
		}
	}

	failed := false
	for _, ev := range audit.events() {
		if ev == "autosell_failed" {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("audit events = %v, want autosell_failed", audit.events())
	}
}

func TestEvaluateOnce_StaleStepPrunedWithoutSelling(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx"}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 1.6}}
	svc, book, _, _ := newTestAutoSell(t, store, exec, prices)

	pos := ladderPosition()
	// A manual sell already realised more than the 1.5 rung's cumulative 30%.
	pos.SoldPercentage = 40
	pos.SoldSize = 400_000
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	if err := svc.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}

	if n := len(exec.executed()); n != 0 {
		t.Fatalf("executed %d swaps for a stale step, want 0", n)
	}
	got, _ := store.Get(ctx, "acct-1", "MintAAAA")
	for _, st := range got.SellSchedule {
		if st.TargetPrice == 1.5 {
			t.Fatal("stale rung should have been pruned and persisted")
		}
	}
}

func TestEvaluatePosition_ReDecidesOnCurrentCopy(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx"}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 2.5}}
	svc, book, guard, _ := newTestAutoSell(t, store, exec, prices)

	// The book already reflects a fill that consumed the mid rungs.
	current := ladderPosition()
	current.SoldPercentage = 60
	current.SoldSize = 600_000
	current.SellSchedule = []domain.SellStep{
		{TargetPrice: 0.8, CumulativePercent: 100},
		{TargetPrice: 3.0, CumulativePercent: 100},
	}
	if err := book.Put(ctx, current); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	// Evaluate with a snapshot taken before that fill settled.
	stale := ladderPosition()
	if err := svc.evaluatePosition(ctx, stale, 2.5); err != nil {
		t.Fatalf("evaluatePosition: %v", err)
	}

	if n := len(exec.executed()); n != 0 {
		t.Fatalf("executed %d swaps off a stale snapshot, want 0", n)
	}
	if guard.Held(stale.Key()) {
		t.Fatal("guard still held after the stale trigger was discarded")
	}
	got, _ := store.Get(ctx, "acct-1", "MintAAAA")
	if got.SoldPercentage != 60 || len(got.SellSchedule) != 2 {
		t.Fatalf("current position clobbered: %+v", got)
	}
}

func TestEvaluateOnce_SkipsGuardedPositions(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx"}, nil)
	prices := &fakePrices{prices: map[string]float64{"MintAAAA": 2.5}}
	svc, book, guard, _ := newTestAutoSell(t, store, exec, prices)

	pos := ladderPosition()
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}
	guard.TryAcquire(pos.Key())

	if err := svc.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}
	if n := len(exec.executed()); n != 0 {
		t.Fatalf("executed %d swaps while guarded, want 0", n)
	}
}

func TestEvaluateOnce_PriceMissSkipsPosition(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	exec := newFakeExecutor(domain.SwapResult{TxID: "tx"}, nil)
	prices := &fakePrices{prices: map[string]float64{}}
	svc, book, _, _ := newTestAutoSell(t, store, exec, prices)

	pos := ladderPosition()
	if err := book.Put(ctx, pos); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	if err := svc.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce should tolerate a missing quote, got %v", err)
	}
	if n := len(exec.executed()); n != 0 {
		t.Fatalf("executed %d swaps without a price, want 0", n)
	}
}

func TestEvaluateOnce_PriceSourceFailureIsAnError(t *testing.T) {
	ctx := context.Background()
	store := newFakePositionStore()
	exec := newFakeExecutor(domain.SwapResult{}, nil)
	prices := &fakePrices{err: errors.New("oracle unreachable")}
	svc, book, _, _ := newTestAutoSell(t, store, exec, prices)

	if err := book.Put(ctx, ladderPosition()); err != nil {
		t.Fatalf("seeding book: %v", err)
	}

	if err := svc.EvaluateOnce(ctx); err == nil {
		t.Fatal("expected an error when the oracle is unreachable")
	}
}

func TestInflightGuard_AcquireHeldRelease(t *testing.T) {
	g := NewInflightGuard()

	if !g.TryAcquire("a:b") {
		t.Fatal("first acquire should succeed")
	}
	if g.TryAcquire("a:b") {
		t.Fatal("second acquire should fail while held")
	}
	if !g.Held("a:b") {
		t.Fatal("Held should report true while acquired")
	}
	if g.Held("a:c") {
		t.Fatal("Held should report false for other keys")
	}

	g.Release("a:b")
	if g.Held("a:b") {
		t.Fatal("Held should report false after release")
	}
	if !g.TryAcquire("a:b") {
		t.Fatal("acquire should succeed again after release")
	}
}
