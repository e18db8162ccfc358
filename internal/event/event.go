// Package event defines the immutable publish events handed from the hot pool
// to the broadcaster and the exporter, and their wire encoding.
package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/strategy"
)

// Kind of a publish event.
type Kind string

const (
	KindEntered Kind = "order_entered"
	KindUpdated Kind = "order_updated"
	KindExited  Kind = "order_exited"
)

// Payload is the wire contract of one published event.
type Payload struct {
	Type            Kind                       `json:"type"`
	OrderHash       string                     `json:"order_hash"`
	Symbol          string                     `json:"symbol"`
	Side            domain.Side                `json:"side"`
	CurrentPrice    float64                    `json:"current_price"`
	OrderPrice      float64                    `json:"order_price"`
	USDValue        float64                    `json:"usd_value"`
	LifetimeSeconds float64                    `json:"lifetime_seconds"`
	Timestamp       time.Time                  `json:"timestamp"`
	TimeFactors     strategy.TimeFactors       `json:"time_factors"`
	Weights         map[string]float64         `json:"weights"`
	Categories      map[string]domain.Category `json:"categories"`
	MarketContext   strategy.MarketContext     `json:"market_context"`
	Analytics       strategy.Analytics         `json:"analytics"`
	Reason          string                     `json:"reason,omitempty"`
}

// PublishEvent is built once by the hot pool and never mutated afterwards.
type PublishEvent struct {
	Kind        Kind
	Reason      string
	OriginAt    time.Time
	Recommended domain.Category
	Payload     Payload

	once    sync.Once
	encoded []byte
	encErr  error
}

// New builds an event from an order copy and its evaluation.
func New(kind Kind, reason string, o domain.Order, ev strategy.Evaluation, at time.Time) *PublishEvent {
	current, _ := o.CurrentPrice.Float64()
	price, _ := o.OrderPrice.Float64()
	usd, _ := o.USDValue().Float64()

	return &PublishEvent{
		Kind:        kind,
		Reason:      reason,
		OriginAt:    at,
		Recommended: ev.RecommendedCategory(),
		Payload: Payload{
			Type:            kind,
			OrderHash:       o.Hash,
			Symbol:          o.Symbol,
			Side:            o.Side,
			CurrentPrice:    current,
			OrderPrice:      price,
			USDValue:        usd,
			LifetimeSeconds: o.Lifetime(at).Seconds(),
			Timestamp:       at.UTC(),
			TimeFactors:     ev.TimeFactors,
			Weights:         ev.WeightsWithRecommended(),
			Categories:      ev.CategoriesWithRecommended(),
			MarketContext:   ev.Market,
			Analytics:       ev.Analytics,
			Reason:          reason,
		},
	}
}

// Encode returns the JSON form. The result is computed once and shared by
// every subscriber, so callers must not modify it.
func (e *PublishEvent) Encode() ([]byte, error) {
	e.once.Do(func() {
		e.encoded, e.encErr = encodeJSON(&e.Payload)
	})
	return e.encoded, e.encErr
}

// Sink receives publish events.
type Sink interface {
	Publish(ctx context.Context, ev *PublishEvent) error
}

// Fanout delivers every event to each sink in order and joins their errors.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, ev *PublishEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
