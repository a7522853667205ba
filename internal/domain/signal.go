package domain

import "time"

// CopySignal is an observed trade on a tracked wallet, published by the
// feed layer and consumed by the copy-trade service.
type CopySignal struct {
	ID           string // UUID for dedup
	SourceWallet string
	Asset        string
	Symbol       string
	Side         SwapSide
	AmountSOL    float64
	ObservedAt   time.Time
}
