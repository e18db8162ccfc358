package strategy

import (
	"time"

	"whale_go/internal/domain"
)

// Params tune normalization of the size, volatility and round-level inputs.
type Params struct {
	TimeFactors       TimeFactorParams
	MaxSizeMultiplier float64 // size/topAverage at which the size input saturates
	MaxVolatility     float64 // volatility at which the adaptive curve is fully damped
	RoundProximityPct float64 // psychological band, in percent
}

// DefaultParams matches the shipped configuration.
func DefaultParams() Params {
	return Params{
		TimeFactors:       DefaultTimeFactorParams(),
		MaxSizeMultiplier: 10,
		MaxVolatility:     0.2,
		RoundProximityPct: 0.1,
	}
}

// Engine evaluates orders against a table of algorithms.
type Engine struct {
	table  *Table
	params Params
}

// NewEngine binds a table to its parameters.
func NewEngine(table *Table, params Params) *Engine {
	return &Engine{table: table, params: params}
}

// Table returns the algorithm table.
func (e *Engine) Table() *Table {
	return e.table
}

// Subject is the order-side input of an evaluation.
type Subject struct {
	Lifetime    time.Duration
	OrderPrice  float64
	CurrentSize float64
	TopAverage  float64
	SuccessRate *float64
}

// Evaluation is one full scoring pass.
type Evaluation struct {
	TimeFactors TimeFactors
	Inputs      Inputs
	Scores      map[string]float64
	Categories  map[string]domain.Category
	Recommended string
	Analytics   Analytics
	Market      MarketContext
}

// RecommendedScore is the score under the recommended algorithm.
func (ev Evaluation) RecommendedScore() float64 {
	return ev.Scores[ev.Recommended]
}

// RecommendedCategory is the category under the recommended algorithm.
func (ev Evaluation) RecommendedCategory() domain.Category {
	return ev.Categories[ev.Recommended]
}

// WeightsWithRecommended copies the scores and adds the recommended entry.
func (ev Evaluation) WeightsWithRecommended() map[string]float64 {
	out := make(map[string]float64, len(ev.Scores)+1)
	for k, v := range ev.Scores {
		out[k] = v
	}
	out[RecommendedKey] = ev.RecommendedScore()
	return out
}

// CategoriesWithRecommended copies the categories and adds the recommended entry.
func (ev Evaluation) CategoriesWithRecommended() map[string]domain.Category {
	out := make(map[string]domain.Category, len(ev.Categories)+1)
	for k, v := range ev.Categories {
		out[k] = v
	}
	out[RecommendedKey] = ev.RecommendedCategory()
	return out
}

// Evaluate scores one order under every algorithm.
func (e *Engine) Evaluate(s Subject, m MarketContext) Evaluation {
	vol := 0.0
	if e.params.MaxVolatility > 0 {
		vol = clamp01(m.SymbolVolatility / e.params.MaxVolatility)
	}
	tf := ComputeTimeFactors(s.Lifetime, vol, e.params.TimeFactors)
	analytics := ComputeAnalytics(s.OrderPrice, s.CurrentSize, s.TopAverage, e.params.RoundProximityPct, s.SuccessRate)

	in := Inputs{
		Time:       tf.Combined(e.params.TimeFactors.Weights),
		RoundLevel: roundLevelInput(analytics.DistanceToRoundLevel, e.params.RoundProximityPct),
		Volatility: VolatilityModifier(m.MarketVolatility),
		TimeOfDay:  m.TimeOfDayFactor,
		Weekend:    m.WeekendFactor,
	}
	if e.params.MaxSizeMultiplier > 0 {
		in.Size = clamp01(analytics.SizeVsAverage / e.params.MaxSizeMultiplier)
	}

	ev := Evaluation{
		TimeFactors: tf,
		Inputs:      in,
		Scores:      make(map[string]float64, len(e.table.algorithms)),
		Categories:  make(map[string]domain.Category, len(e.table.algorithms)),
		Recommended: e.table.recommended,
		Analytics:   analytics,
		Market:      m,
	}
	for _, a := range e.table.algorithms {
		score := a.Score(in)
		ev.Scores[a.Name] = score
		ev.Categories[a.Name] = Categorize(score)
	}
	return ev
}

// roundLevelInput is 1 on a psychological level and falls to 0 at ten bands away.
func roundLevelInput(distancePct, proximityPct float64) float64 {
	if proximityPct <= 0 {
		return 0
	}
	if distancePct <= proximityPct {
		return 1
	}
	return clamp01(1 - (distancePct-proximityPct)/(9*proximityPct))
}
