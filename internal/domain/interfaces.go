package domain

import "context"

// ExchangeGateway supplies the symbol universe and depth snapshots.
// Both calls may fail or time out; implementations are expected to be rate limited.
type ExchangeGateway interface {
	// ListSymbols returns tradable symbols ordered by descending 24h quote volume.
	ListSymbols(ctx context.Context) ([]string, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
}

// SnapshotStore persists live orders so a restart can resume tracking.
type SnapshotStore interface {
	SaveSnapshot(orders []Order) error
	LoadSnapshot() ([]Order, error)
}

// OutcomeStore keeps the history behind the success-rate analytic.
type OutcomeStore interface {
	RecordOutcome(o Order) error
	SuccessRate(symbol string) (rate float64, ok bool, err error)
}
