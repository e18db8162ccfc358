package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/strategy"

	"github.com/shopspring/decimal"
)

func testOrder(now time.Time) domain.Order {
	return domain.Order{
		Hash:         "abc123",
		Symbol:       "BTCUSDT",
		Side:         domain.SideBid,
		OrderPrice:   decimal.NewFromInt(65000),
		CurrentPrice: decimal.NewFromInt(65010),
		OriginalSize: decimal.NewFromInt(100),
		CurrentSize:  decimal.NewFromInt(95),
		TopAverage:   decimal.NewFromInt(25),
		FirstSeenAt:  now.Add(-90 * time.Second),
		State:        domain.StateHot,
	}
}

func TestNew_PayloadContract(t *testing.T) {
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	engine := strategy.NewEngine(strategy.DefaultTable(), strategy.DefaultParams())
	ev := engine.Evaluate(strategy.Subject{Lifetime: 90 * time.Second, OrderPrice: 65000, CurrentSize: 95, TopAverage: 25}, strategy.MarketContext{TimeOfDayFactor: 1, WeekendFactor: 1})

	pe := New(KindEntered, "", testOrder(now), ev, now)
	raw, err := pe.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}

	for _, key := range []string{
		"type", "order_hash", "symbol", "side", "current_price", "order_price", "usd_value",
		"lifetime_seconds", "timestamp", "time_factors", "weights", "categories",
		"market_context", "analytics",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("Expected key %q in payload", key)
		}
	}
	if _, ok := m["reason"]; ok {
		t.Error("Expected no reason on an entry event")
	}

	if usd, _ := m["usd_value"].(float64); usd != 6175000 {
		t.Errorf("Expected usd_value 6175000, got %v", m["usd_value"])
	}
	if lt, _ := m["lifetime_seconds"].(float64); lt != 90 {
		t.Errorf("Expected lifetime 90, got %v", m["lifetime_seconds"])
	}

	weights := m["weights"].(map[string]interface{})
	cats := m["categories"].(map[string]interface{})
	if len(weights) != len(strategy.DefaultAlgorithms())+1 {
		t.Errorf("Expected one weight per algorithm plus recommended, got %d", len(weights))
	}
	if cats[strategy.RecommendedKey] != string(ev.RecommendedCategory()) {
		t.Errorf("Expected recommended category %s, got %v", ev.RecommendedCategory(), cats[strategy.RecommendedKey])
	}

	tf := m["time_factors"].(map[string]interface{})
	for _, key := range []string{"linear", "exponential", "logarithmic", "adaptive_volatility"} {
		if _, ok := tf[key]; !ok {
			t.Errorf("Expected time factor %q", key)
		}
	}
	analytics := m["analytics"].(map[string]interface{})
	if v, ok := analytics["historical_success_rate"]; !ok || v != nil {
		t.Errorf("Expected null success rate, got %v", v)
	}

	again, _ := pe.Encode()
	if &again[0] != &raw[0] {
		t.Error("Expected cached encoding to be reused")
	}
}

func TestNew_ExitCarriesReason(t *testing.T) {
	now := time.Now()
	pe := New(KindExited, string(domain.DeathSizeLoss), testOrder(now), strategy.Evaluation{}, now)

	raw, err := pe.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if p.Reason != "size_loss" || p.Type != KindExited {
		t.Errorf("Expected exit with size_loss, got %s/%s", p.Type, p.Reason)
	}
}

type recordingSink struct {
	got []*PublishEvent
	err error
}

func (s *recordingSink) Publish(_ context.Context, ev *PublishEvent) error {
	s.got = append(s.got, ev)
	return s.err
}

func TestFanout(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("down")}
	f := Fanout{a, nil, b}

	err := f.Publish(context.Background(), &PublishEvent{Kind: KindUpdated})
	if err == nil {
		t.Error("Expected joined error from failing sink")
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Errorf("Expected both sinks to receive the event, got %d/%d", len(a.got), len(b.got))
	}
}

func BenchmarkEncode(b *testing.B) {
	Warmup()
	now := time.Now()
	o := testOrder(now)
	engine := strategy.NewEngine(strategy.DefaultTable(), strategy.DefaultParams())
	ev := engine.Evaluate(strategy.Subject{Lifetime: time.Minute, OrderPrice: 65000, CurrentSize: 95, TopAverage: 25}, strategy.MarketContext{})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := New(KindUpdated, "", o, ev, now).Encode(); err != nil {
			b.Fatal(err)
		}
	}
}
