package domain

import "time"

// LimitOrder is one configured ladder rung: once the price has risen by
// RisePercent over entry, sell SellPercent of the original size.
type LimitOrder struct {
	RisePercent float64
	SellPercent float64
}

// AccountSettings holds an account's trading preferences. BuyAmountSOL is
// the default spend per buy; RepeatCount caps how many times an auto-buy
// trigger may fire for the same asset.
type AccountSettings struct {
	AccountID      string
	BuyAmountSOL   float64
	SlippageBps    int
	TakeProfitPct  float64
	StopLossPct    float64
	LimitOrders    []LimitOrder
	RepeatCount    int
	AutoSell       bool
	UseRelay       bool
	TipLamports    uint64
	UpdatedAt      time.Time
}

// FlowState names a stage of the interactive settings conversation.
type FlowState string

const (
	FlowIdle             FlowState = "idle"
	FlowAwaitingAmount   FlowState = "awaiting_amount"
	FlowAwaitingSlippage FlowState = "awaiting_slippage"
	FlowAwaitingTP       FlowState = "awaiting_take_profit"
	FlowAwaitingSL       FlowState = "awaiting_stop_loss"
	FlowAwaitingRepeat   FlowState = "awaiting_repeat_count"
	FlowComplete         FlowState = "complete"
)
