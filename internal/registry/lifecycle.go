package registry

import (
	"fmt"
	"time"

	"whale_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Observation is what one book fetch says about an order's price level.
type Observation struct {
	Present    bool // a resting size > 0 exists at the exact level
	Size       decimal.Decimal
	Mid        decimal.Decimal
	TopAverage decimal.Decimal
	At         time.Time
}

// ObservationFromBook reads an order's level out of a snapshot.
func ObservationFromBook(book *domain.OrderBook, side domain.Side, price decimal.Decimal, topLevels int) Observation {
	obs := Observation{Mid: book.Mid(), At: book.FetchedAt}
	if avg, ok := domain.TopAverage(book.Levels(side), topLevels); ok {
		obs.TopAverage = avg
	}
	obs.Size, obs.Present = book.SizeAt(side, price)
	return obs
}

// Transition names the lifecycle edge an observation caused.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionStale
	TransitionConfirmed // Candidate -> Tracked
	TransitionPromoted  // Tracked -> Hot, possibly straight from Candidate
	TransitionDemoted   // Hot -> Tracked after the level emptied
	TransitionDied
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "updated"
	case TransitionStale:
		return "stale"
	case TransitionConfirmed:
		return "confirmed"
	case TransitionPromoted:
		return "promoted"
	case TransitionDemoted:
		return "demoted"
	case TransitionDied:
		return "died"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Observe call.
type Result struct {
	Previous   domain.OrderState
	Transition Transition
	Order      domain.Order // copy after the observation
}

// apply runs the same-order, death, promotion and demotion rules.
// The caller holds the record lock and has checked the order is live.
// Every state change goes through move, so an illegal edge leaves an error
// and the caller discards the working copy.
func apply(o *domain.Order, obs Observation, rules Rules) (Result, error) {
	res := Result{Previous: o.State, Transition: TransitionNone}

	// a slower worker may deliver a book older than one already applied
	if obs.At.Before(o.LastSeenAt) {
		res.Transition = TransitionStale
		return res, nil
	}

	if !obs.Present {
		if o.State == domain.StateHot {
			// second chance: back to the observer pool with a fresh promotion clock
			if err := move(o, domain.StateTracked); err != nil {
				return res, err
			}
			o.PromotionClock = obs.At
			o.LastSeenAt = obs.At
			if obs.Mid.IsPositive() {
				o.CurrentPrice = obs.Mid
			}
			res.Transition = TransitionDemoted
			return res, nil
		}
		if err := kill(o, domain.DeathLevelVanished, obs.At); err != nil {
			return res, err
		}
		res.Transition = TransitionDied
		return res, nil
	}

	if domain.LossOf(o.OriginalSize, obs.Size) >= rules.SurvivalThreshold {
		o.CurrentSize = obs.Size
		if err := kill(o, domain.DeathSizeLoss, obs.At); err != nil {
			return res, err
		}
		res.Transition = TransitionDied
		return res, nil
	}

	o.CurrentSize = obs.Size
	if obs.Mid.IsPositive() {
		o.CurrentPrice = obs.Mid
	}
	if obs.TopAverage.IsPositive() {
		o.TopAverage = obs.TopAverage
	}
	o.LastSeenAt = obs.At
	o.ScanCount++

	if o.State == domain.StateCandidate {
		if err := move(o, domain.StateTracked); err != nil {
			return res, err
		}
		res.Transition = TransitionConfirmed
	}
	if o.State == domain.StateTracked && obs.At.Sub(o.PromotionClock) > rules.PromotionAfter {
		if err := move(o, domain.StateHot); err != nil {
			return res, err
		}
		o.ReachedHot = true
		res.Transition = TransitionPromoted
	}
	return res, nil
}

// move performs one lifecycle edge.
func move(o *domain.Order, to domain.OrderState) error {
	if !domain.CanTransition(o.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", domain.ErrInvalidTransition, o.Hash, o.State, to)
	}
	o.State = to
	return nil
}

func kill(o *domain.Order, reason domain.DeathReason, at time.Time) error {
	if err := move(o, domain.StateDead); err != nil {
		return err
	}
	o.DeathReason = reason
	o.DiedAt = at
	return nil
}
