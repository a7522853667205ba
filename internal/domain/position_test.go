package domain

import (
	"testing"
	"time"
)

func TestQuantityFor_RoundsDown(t *testing.T) {
	p := Position{TotalSize: 1001}

	if got := p.QuantityFor(33); got != 330 {
		t.Fatalf("quantity mismatch: got %d want 330", got)
	}
}

func TestQuantityFor_ClampsToRemaining(t *testing.T) {
	p := Position{TotalSize: 1000, SoldSize: 950}

	if got := p.QuantityFor(50); got != 50 {
		t.Fatalf("quantity mismatch: got %d want 50", got)
	}
}

func TestQuantityFor_ZeroAndNegativePercent(t *testing.T) {
	p := Position{TotalSize: 1000}

	if got := p.QuantityFor(0); got != 0 {
		t.Fatalf("expected 0 for zero percent, got %d", got)
	}
	if got := p.QuantityFor(-10); got != 0 {
		t.Fatalf("expected 0 for negative percent, got %d", got)
	}
}

func TestRemaining_NeverUnderflows(t *testing.T) {
	p := Position{TotalSize: 100, SoldSize: 150}

	if got := p.Remaining(); got != 0 {
		t.Fatalf("remaining mismatch: got %d want 0", got)
	}
}

func TestApplyFill_AccumulatesAndCaps(t *testing.T) {
	now := time.Now()
	p := Position{TotalSize: 1000, SoldSize: 900, SoldPercentage: 90}

	p.ApplyFill(SoldStep{QuantitySold: 200, PercentageSold: 20, FilledAt: now})

	if p.SoldSize != 1000 {
		t.Fatalf("sold size mismatch: got %d want 1000", p.SoldSize)
	}
	if p.SoldPercentage != 100 {
		t.Fatalf("sold percentage mismatch: got %v want 100", p.SoldPercentage)
	}
	if len(p.History) != 1 {
		t.Fatalf("history length mismatch: got %d want 1", len(p.History))
	}
	if !p.UpdatedAt.Equal(now) {
		t.Fatalf("updated at not set from fill")
	}
}

func TestExhausted(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		want bool
	}{
		{"fresh", Position{TotalSize: 100}, false},
		{"partial", Position{TotalSize: 100, SoldSize: 50, SoldPercentage: 50}, false},
		{"size gone", Position{TotalSize: 100, SoldSize: 100, SoldPercentage: 80}, true},
		{"percent done", Position{TotalSize: 100, SoldSize: 80, SoldPercentage: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.Exhausted(); got != tt.want {
				t.Fatalf("exhausted mismatch: got %v want %v", got, tt.want)
			}
		})
	}
}

func TestSellStep_IsStopLoss(t *testing.T) {
	entry := 2.0

	if !(SellStep{TargetPrice: 1.5}).IsStopLoss(entry) {
		t.Fatalf("step below entry should be a stop")
	}
	if !(SellStep{TargetPrice: 2.0}).IsStopLoss(entry) {
		t.Fatalf("step at entry should be a stop")
	}
	if (SellStep{TargetPrice: 2.5}).IsStopLoss(entry) {
		t.Fatalf("step above entry should not be a stop")
	}
}

func TestPositionKey(t *testing.T) {
	p := Position{AccountID: "42", Asset: "MintA"}

	if got := p.Key(); got != "42:MintA" {
		t.Fatalf("key mismatch: got %q", got)
	}
}
