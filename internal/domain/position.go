package domain

import (
	"math"
	"time"
)

// PositionSource records how a position was opened.
type PositionSource string

const (
	PositionSourceManual PositionSource = "manual"
	PositionSourceAuto   PositionSource = "auto"
	PositionSourceCopy   PositionSource = "copy"
)

// SellStep is one rung of a position's exit ladder. TargetPrice is quoted
// in the same currency as the entry price. CumulativePercent is the total
// fraction of the original position size that should have been sold once
// this step has fired, so the amount a single step sells is the cumulative
// figure minus whatever earlier fills already realised.
type SellStep struct {
	TargetPrice       float64
	CumulativePercent float64
}

// IsStopLoss reports whether the step sits at or below the entry price,
// which marks it as the position's protective exit rather than a limit.
func (s SellStep) IsStopLoss(entryPrice float64) bool {
	return s.TargetPrice <= entryPrice
}

// SoldStep records one realised exit fill.
type SoldStep struct {
	Price          float64
	PercentageSold float64
	QuantitySold   uint64
	TxID           string
	FilledAt       time.Time
}

// Position is an open token holding for one account. Positions are keyed
// by (AccountID, Asset); TotalSize and SoldSize are denominated in the
// token's smallest unit.
type Position struct {
	AccountID      string
	Asset          string // token mint address
	Symbol         string
	EntryPrice     float64
	TotalSize      uint64
	SoldSize       uint64
	SoldPercentage float64
	SellSchedule   []SellStep
	History        []SoldStep
	Source         PositionSource
	OpenedAt       time.Time
	UpdatedAt      time.Time
}

// Key returns the canonical identity of the position.
func (p Position) Key() string {
	return p.AccountID + ":" + p.Asset
}

// Remaining returns the unsold portion of the position in smallest units.
func (p Position) Remaining() uint64 {
	if p.SoldSize >= p.TotalSize {
		return 0
	}
	return p.TotalSize - p.SoldSize
}

// QuantityFor converts a percentage of the original size into smallest
// units, rounding down. The result is clamped to the remaining balance so
// accumulated rounding can never oversell.
func (p Position) QuantityFor(percent float64) uint64 {
	if percent <= 0 {
		return 0
	}
	qty := uint64(math.Floor(float64(p.TotalSize) * percent / 100))
	if rem := p.Remaining(); qty > rem {
		qty = rem
	}
	return qty
}

// ApplyFill folds a confirmed exit into the position's realised state and
// appends it to the fill history.
func (p *Position) ApplyFill(fill SoldStep) {
	p.SoldSize += fill.QuantitySold
	if p.SoldSize > p.TotalSize {
		p.SoldSize = p.TotalSize
	}
	p.SoldPercentage += fill.PercentageSold
	if p.SoldPercentage > 100 {
		p.SoldPercentage = 100
	}
	p.History = append(p.History, fill)
	p.UpdatedAt = fill.FilledAt
}

// Exhausted reports whether the position has nothing left to sell, either
// by size or by realised percentage.
func (p Position) Exhausted() bool {
	return p.Remaining() == 0 || p.SoldPercentage >= 100
}
