package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMarketService_FlatMidsHaveNoVolatility(t *testing.T) {
	svc := NewMarketService(10)
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		svc.RecordMid("BTCUSDT", decimal.NewFromInt(65000), base.Add(time.Duration(i)*time.Second))
	}

	if got := svc.SymbolVolatility("BTCUSDT"); got != 0 {
		t.Errorf("Expected zero volatility, got %v", got)
	}
	if got := svc.SymbolVolatility("ETHUSDT"); got != 0 {
		t.Errorf("Expected zero volatility for unknown symbol, got %v", got)
	}
}

func TestMarketService_Volatility(t *testing.T) {
	svc := NewMarketService(10)
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	// alternating +1% / -1% moves
	prices := []float64{100, 101, 100, 101, 100}
	for i, p := range prices {
		svc.RecordMid("BTCUSDT", decimal.NewFromFloat(p), base.Add(time.Duration(i)*time.Second))
	}

	got := svc.SymbolVolatility("BTCUSDT")
	want := math.Log(1.01)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Expected volatility %v, got %v", want, got)
	}
	if mv := svc.MarketVolatility(); math.Abs(mv-got) > 1e-12 {
		t.Errorf("Expected market volatility %v with one symbol, got %v", got, mv)
	}
}

func TestMarketService_IgnoresOutOfOrderAndInvalid(t *testing.T) {
	svc := NewMarketService(10)
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	svc.RecordMid("BTCUSDT", decimal.NewFromInt(100), base)
	svc.RecordMid("BTCUSDT", decimal.NewFromInt(200), base.Add(-time.Second))
	svc.RecordMid("BTCUSDT", decimal.Zero, base.Add(time.Second))
	svc.RecordMid("BTCUSDT", decimal.NewFromInt(100), base.Add(2*time.Second))
	svc.RecordMid("BTCUSDT", decimal.NewFromInt(100), base.Add(3*time.Second))

	if got := svc.SymbolVolatility("BTCUSDT"); got != 0 {
		t.Errorf("Expected rejected samples to be ignored, got volatility %v", got)
	}
}

func TestMarketService_WindowWraps(t *testing.T) {
	svc := NewMarketService(3)
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	// an early spike rolls out of the window
	for i, p := range []int64{100, 500, 100, 100, 100, 100} {
		svc.RecordMid("BTCUSDT", decimal.NewFromInt(p), base.Add(time.Duration(i)*time.Second))
	}

	if got := svc.SymbolVolatility("BTCUSDT"); got != 0 {
		t.Errorf("Expected spike to leave the window, got %v", got)
	}
}

func TestMarketService_Processor(t *testing.T) {
	svc := NewMarketService(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartProcessor(ctx)

	if !svc.Submit("ETHUSDT", decimal.NewFromInt(3000), time.Now()) {
		t.Fatal("Expected submit to be queued")
	}

	deadline := time.After(time.Second)
	for {
		if len(svc.Symbols()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Expected processor to record the submitted mid")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMarketService_SubmitDropsWhenFull(t *testing.T) {
	svc := NewMarketService(10)
	at := time.Now()
	for i := 0; i < cap(svc.midChan); i++ {
		if !svc.Submit("BTCUSDT", decimal.NewFromInt(100), at.Add(time.Duration(i))) {
			t.Fatalf("Expected sample %d to be queued", i)
		}
	}
	if svc.Submit("BTCUSDT", decimal.NewFromInt(100), at) {
		t.Error("Expected a full channel to drop the sample")
	}
}

func TestMarketService_Context(t *testing.T) {
	svc := NewMarketService(10)
	at := time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC) // Saturday, asia session

	ctx := svc.Context("BTCUSDT", at)
	if ctx.TimeOfDayFactor != 1 {
		t.Errorf("Expected asia factor 1, got %v", ctx.TimeOfDayFactor)
	}
	if ctx.WeekendFactor >= 1 {
		t.Errorf("Expected weekend factor below 1, got %v", ctx.WeekendFactor)
	}
}
