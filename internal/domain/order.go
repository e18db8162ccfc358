package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle position of a tracked order.
type OrderState int

const (
	StateCandidate OrderState = iota
	StateTracked
	StateHot
	StateDead
)

func (s OrderState) String() string {
	switch s {
	case StateCandidate:
		return "candidate"
	case StateTracked:
		return "tracked"
	case StateHot:
		return "hot"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ParseOrderState is the inverse of String.
func ParseOrderState(s string) (OrderState, error) {
	switch strings.ToLower(s) {
	case "candidate":
		return StateCandidate, nil
	case "tracked":
		return StateTracked, nil
	case "hot":
		return StateHot, nil
	case "dead":
		return StateDead, nil
	}
	return 0, fmt.Errorf("unknown order state %q", s)
}

// IsLive reports whether the state can still change.
func (s OrderState) IsLive() bool {
	return s != StateDead
}

// CanTransition lists the legal lifecycle edges.
// Hot -> Tracked is the demotion edge; Dead is terminal.
func CanTransition(from, to OrderState) bool {
	switch from {
	case StateCandidate:
		return to == StateTracked || to == StateDead
	case StateTracked:
		return to == StateHot || to == StateDead
	case StateHot:
		return to == StateTracked || to == StateDead
	}
	return false
}

// DeathReason explains why an order left the registry.
type DeathReason string

const (
	DeathNone          DeathReason = ""
	DeathSizeLoss      DeathReason = "size_loss"
	DeathLevelVanished DeathReason = "level_vanished"
)

// Category is the Basic/Gold/Diamond label derived from a weight score.
type Category string

const (
	CategoryBasic   Category = "basic"
	CategoryGold    Category = "gold"
	CategoryDiamond Category = "diamond"
)

// Rank orders categories so that comparisons read naturally.
func (c Category) Rank() int {
	switch c {
	case CategoryBasic:
		return 1
	case CategoryGold:
		return 2
	case CategoryDiamond:
		return 3
	}
	return 0
}

// PublishedSnapshot is the state last delivered to subscribers.
type PublishedSnapshot struct {
	Scores      map[string]float64  `json:"scores"`
	Categories  map[string]Category `json:"categories"`
	USDValue    float64             `json:"usd_value"`
	PublishedAt time.Time           `json:"published_at"`
}

// Clone returns a deep copy.
func (p *PublishedSnapshot) Clone() *PublishedSnapshot {
	if p == nil {
		return nil
	}
	out := &PublishedSnapshot{
		Scores:      make(map[string]float64, len(p.Scores)),
		Categories:  make(map[string]Category, len(p.Categories)),
		USDValue:    p.USDValue,
		PublishedAt: p.PublishedAt,
	}
	for k, v := range p.Scores {
		out.Scores[k] = v
	}
	for k, v := range p.Categories {
		out.Categories[k] = v
	}
	return out
}

// Order is a large resting order followed across observations.
// Records are owned by the registry; everything else works on copies.
type Order struct {
	Hash   string
	Symbol string
	Side   Side

	OrderPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	OriginalSize decimal.Decimal
	CurrentSize  decimal.Decimal
	// TopAverage is the mean of the ten largest levels on this side at the last observation.
	TopAverage decimal.Decimal

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	// PromotionClock starts at discovery and restarts on demotion.
	PromotionClock time.Time

	State       OrderState
	DeathReason DeathReason
	DiedAt      time.Time
	ReachedHot  bool
	ScanCount   int

	Scores        map[string]float64
	Categories    map[string]Category
	LastPublished *PublishedSnapshot
}

// USDValue is order price times remaining size.
func (o *Order) USDValue() decimal.Decimal {
	return o.OrderPrice.Mul(o.CurrentSize)
}

// Lifetime is the time since the order was first seen.
func (o *Order) Lifetime(now time.Time) time.Duration {
	if o.FirstSeenAt.IsZero() || now.Before(o.FirstSeenAt) {
		return 0
	}
	return now.Sub(o.FirstSeenAt)
}

// Loss is the fractional shrinkage against the original size.
func (o *Order) Loss() float64 {
	return LossOf(o.OriginalSize, o.CurrentSize)
}

// LossOf returns max(0, 1 - current/original). Growth is never a loss.
func LossOf(original, current decimal.Decimal) float64 {
	if !original.IsPositive() {
		return 0
	}
	loss, _ := decimal.NewFromInt(1).Sub(current.Div(original)).Float64()
	if loss < 0 {
		return 0
	}
	return loss
}

// Clone returns a deep copy safe to hand across goroutines.
func (o Order) Clone() Order {
	if o.Scores != nil {
		scores := make(map[string]float64, len(o.Scores))
		for k, v := range o.Scores {
			scores[k] = v
		}
		o.Scores = scores
	}
	if o.Categories != nil {
		cats := make(map[string]Category, len(o.Categories))
		for k, v := range o.Categories {
			cats[k] = v
		}
		o.Categories = cats
	}
	o.LastPublished = o.LastPublished.Clone()
	return o
}
