package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side of the book a resting order sits on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Level is one aggregated price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a depth snapshot. Bids are sorted descending, asks ascending.
type OrderBook struct {
	Symbol    string
	Bids      []Level
	Asks      []Level
	FetchedAt time.Time
}

// Levels returns the levels for a side.
func (b *OrderBook) Levels(side Side) []Level {
	if side == SideAsk {
		return b.Asks
	}
	return b.Bids
}

// Mid returns the midpoint of the best bid and ask, or the one present side.
func (b *OrderBook) Mid() decimal.Decimal {
	switch {
	case len(b.Bids) > 0 && len(b.Asks) > 0:
		return b.Bids[0].Price.Add(b.Asks[0].Price).Div(decimal.NewFromInt(2))
	case len(b.Bids) > 0:
		return b.Bids[0].Price
	case len(b.Asks) > 0:
		return b.Asks[0].Price
	}
	return decimal.Zero
}

// SizeAt returns the resting size at an exact price level.
func (b *OrderBook) SizeAt(side Side, price decimal.Decimal) (decimal.Decimal, bool) {
	for _, lvl := range b.Levels(side) {
		if lvl.Price.Equal(price) {
			return lvl.Size, lvl.Size.IsPositive()
		}
	}
	return decimal.Zero, false
}

// Validate rejects shapes no exchange should produce.
func (b *OrderBook) Validate() error {
	check := func(side Side, levels []Level) error {
		for i, lvl := range levels {
			if !lvl.Price.IsPositive() || lvl.Size.IsNegative() {
				return fmt.Errorf("%w: %s %s level %d has price %s size %s",
					ErrMalformedSnapshot, b.Symbol, side, i, lvl.Price, lvl.Size)
			}
			if i == 0 {
				continue
			}
			prev := levels[i-1].Price
			if (side == SideBid && !lvl.Price.LessThan(prev)) || (side == SideAsk && !lvl.Price.GreaterThan(prev)) {
				return fmt.Errorf("%w: %s %s levels out of order at %d", ErrMalformedSnapshot, b.Symbol, side, i)
			}
		}
		return nil
	}
	if err := check(SideBid, b.Bids); err != nil {
		return err
	}
	if err := check(SideAsk, b.Asks); err != nil {
		return err
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && !b.Bids[0].Price.LessThan(b.Asks[0].Price) {
		return fmt.Errorf("%w: %s crossed book", ErrMalformedSnapshot, b.Symbol)
	}
	return nil
}

// TopAverage is the mean size of the first n levels in book order, nearest the touch.
// ok is false when fewer than n levels are present.
func TopAverage(levels []Level, n int) (avg decimal.Decimal, ok bool) {
	if n <= 0 || len(levels) < n {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, lvl := range levels[:n] {
		sum = sum.Add(lvl.Size)
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}

// Symbol carries the per-pass large-order thresholds of one market.
type Symbol struct {
	Name          string
	BidTopAverage decimal.Decimal
	AskTopAverage decimal.Decimal
	BidThreshold  decimal.Decimal
	AskThreshold  decimal.Decimal
	ScannedAt     time.Time
}
