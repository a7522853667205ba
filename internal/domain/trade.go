package domain

import "time"

// DeliveryMode selects how a signed transaction reaches the chain.
type DeliveryMode string

const (
	// DeliveryDirect submits straight to an RPC node and polls for
	// confirmation.
	DeliveryDirect DeliveryMode = "direct"
	// DeliveryRelay races the transaction as a tipped bundle across
	// every configured relay region.
	DeliveryRelay DeliveryMode = "relay"
)

// SwapSide distinguishes buys from sells at the intent level.
type SwapSide string

const (
	SwapSideBuy  SwapSide = "buy"
	SwapSideSell SwapSide = "sell"
)

// SwapIntent is a fully specified request to exchange one token for
// another. Amount is the input quantity in the input token's smallest
// unit.
type SwapIntent struct {
	AccountID   string
	Side        SwapSide
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
	Delivery    DeliveryMode
	Reason      string
}

// SwapResult reports the outcome of an executed swap.
type SwapResult struct {
	TxID        string
	Confirmed   bool
	ExpectedOut uint64
	Retried     bool
	SubmittedAt time.Time
	ConfirmedAt time.Time
}

// TxState is the observed lifecycle state of a submitted transaction.
type TxState int

const (
	// TxStatePending means the ledger has not yet recorded an outcome;
	// callers should keep polling.
	TxStatePending TxState = iota
	TxStateConfirmed
	TxStateFailed
)

// TxStatus is a point-in-time view of a transaction's confirmation.
type TxStatus struct {
	State  TxState
	Slot   uint64
	Reason string
}
