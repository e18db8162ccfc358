package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func lvl(price, size int64) Level {
	return Level{Price: decimal.NewFromInt(price), Size: decimal.NewFromInt(size)}
}

func TestTopAverage(t *testing.T) {
	levels := []Level{
		lvl(100, 1), lvl(99, 100), lvl(98, 2), lvl(97, 3), lvl(96, 4), lvl(95, 5),
		lvl(94, 6), lvl(93, 7), lvl(92, 8), lvl(91, 9), lvl(90, 10), lvl(89, 0),
	}

	avg, ok := TopAverage(levels, 10)
	if !ok {
		t.Fatal("Expected ok with 12 levels")
	}
	// first ten levels: 1,100,2,...,9; the 10 at level eleven is not counted
	if !avg.Equal(decimal.NewFromFloat(14.5)) {
		t.Errorf("Expected 14.5, got %s", avg)
	}

	if _, ok := TopAverage(levels[:5], 10); ok {
		t.Error("Expected not ok with fewer than 10 levels")
	}
}

func TestOrderBook_Mid(t *testing.T) {
	book := &OrderBook{Bids: []Level{lvl(64990, 1)}, Asks: []Level{lvl(65010, 1)}}
	if !book.Mid().Equal(decimal.NewFromInt(65000)) {
		t.Errorf("Expected mid 65000, got %s", book.Mid())
	}

	bidsOnly := &OrderBook{Bids: []Level{lvl(64990, 1)}}
	if !bidsOnly.Mid().Equal(decimal.NewFromInt(64990)) {
		t.Errorf("Expected best bid as mid, got %s", bidsOnly.Mid())
	}
}

func TestOrderBook_SizeAt(t *testing.T) {
	book := &OrderBook{
		Bids: []Level{lvl(65000, 100), lvl(64900, 0)},
		Asks: []Level{lvl(65100, 7)},
	}

	if size, ok := book.SizeAt(SideBid, decimal.NewFromInt(65000)); !ok || !size.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected 100 at 65000, got %s (ok=%v)", size, ok)
	}
	if _, ok := book.SizeAt(SideBid, decimal.NewFromInt(64900)); ok {
		t.Error("Zero-size level should count as absent")
	}
	if _, ok := book.SizeAt(SideAsk, decimal.NewFromInt(65000)); ok {
		t.Error("Bid price should not match on ask side")
	}
}

func TestOrderBook_Validate(t *testing.T) {
	tests := []struct {
		name    string
		book    OrderBook
		wantErr bool
	}{
		{"valid", OrderBook{Bids: []Level{lvl(100, 1), lvl(99, 1)}, Asks: []Level{lvl(101, 1), lvl(102, 1)}}, false},
		{"empty", OrderBook{}, false},
		{"unsorted bids", OrderBook{Bids: []Level{lvl(99, 1), lvl(100, 1)}}, true},
		{"unsorted asks", OrderBook{Asks: []Level{lvl(102, 1), lvl(101, 1)}}, true},
		{"crossed", OrderBook{Bids: []Level{lvl(101, 1)}, Asks: []Level{lvl(100, 1)}}, true},
		{"zero price", OrderBook{Bids: []Level{lvl(0, 1)}}, true},
		{"negative size", OrderBook{Asks: []Level{lvl(100, -1)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.book.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedSnapshot) {
				t.Errorf("Expected ErrMalformedSnapshot, got %v", err)
			}
		})
	}
}
