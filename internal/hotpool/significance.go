package hotpool

import (
	"math"

	"whale_go/internal/domain"
)

// Thresholds decide when an update is worth publishing.
type Thresholds struct {
	ScoreDelta       float64 // absolute move of any algorithm score
	USDRelativeDelta float64 // relative move of usd_value, 0.05 = 5%
}

// Change names why an update was published.
type Change int

const (
	ChangeNone Change = iota
	ChangeEntered
	ChangeCategory
	ChangeScore
	ChangeUSDValue
)

func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeEntered:
		return "entered"
	case ChangeCategory:
		return "category"
	case ChangeScore:
		return "score"
	case ChangeUSDValue:
		return "usd_value"
	default:
		return "unknown"
	}
}

// Significant compares a fresh evaluation with the last published state.
// A nil prev means the order has never been published.
func Significant(prev *domain.PublishedSnapshot, scores map[string]float64, cats map[string]domain.Category, usd float64, th Thresholds) Change {
	if prev == nil {
		return ChangeEntered
	}
	for name, c := range cats {
		if prev.Categories[name] != c {
			return ChangeCategory
		}
	}
	for name, s := range scores {
		old, ok := prev.Scores[name]
		if !ok || math.Abs(s-old) > th.ScoreDelta {
			return ChangeScore
		}
	}
	if prev.USDValue == 0 {
		if usd != 0 {
			return ChangeUSDValue
		}
		return ChangeNone
	}
	if math.Abs(usd-prev.USDValue)/math.Abs(prev.USDValue) > th.USDRelativeDelta {
		return ChangeUSDValue
	}
	return ChangeNone
}
