// Package broadcast fans publish events out to websocket subscribers under
// per-tier filtering, delay and rate rules.
package broadcast

import (
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/event"
)

// Tier is the access class a subscriber is bound to at connect time.
type Tier string

const (
	TierPrivate Tier = "private"
	TierVIP     Tier = "vip"
	TierPublic  Tier = "public"
)

// Tiers lists every tier in a stable order.
var Tiers = []Tier{TierPrivate, TierVIP, TierPublic}

// Policy is what a tier is allowed to receive.
type Policy struct {
	MinCategory domain.Category // "" lets every event through
	Delay       time.Duration
	RateLimit   int // messages per Window, 0 = unlimited
	Window      time.Duration
}

// Admits reports whether ev passes the tier's content filter.
func (p Policy) Admits(ev *event.PublishEvent) bool {
	if p.MinCategory == "" {
		return true
	}
	return ev.Recommended.Rank() >= p.MinCategory.Rank()
}

// DefaultPolicies returns the full-access private and vip tiers plus a
// diamond-only public tier.
func DefaultPolicies(publicDelay time.Duration, publicRate int, publicWindow time.Duration) map[Tier]Policy {
	return map[Tier]Policy{
		TierPrivate: {},
		TierVIP:     {},
		TierPublic: {
			MinCategory: domain.CategoryDiamond,
			Delay:       publicDelay,
			RateLimit:   publicRate,
			Window:      publicWindow,
		},
	}
}
