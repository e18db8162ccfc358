package strategy

import (
	"math"
	"time"
)

// Analytics are descriptive fields; they never gate publication.
type Analytics struct {
	SizeVsAverage         float64  `json:"size_vs_average"`
	DistanceToRoundLevel  float64  `json:"distance_to_round_level"` // percent of price
	IsPsychologicalLevel  bool     `json:"is_psychological_level"`
	HistoricalSuccessRate *float64 `json:"historical_success_rate"`
}

// NearestRoundLevel snaps price to the closest multiple of the round step
// one decade below its magnitude: 65123 -> 65000, 0.4871 -> 0.49.
func NearestRoundLevel(price float64) float64 {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	step := math.Pow(10, math.Floor(math.Log10(price))-1)
	return math.Round(price/step) * step
}

// DistanceToRoundLevel is |price - nearest| / price, in percent.
func DistanceToRoundLevel(price float64) float64 {
	level := NearestRoundLevel(price)
	if level <= 0 {
		return 100
	}
	return math.Abs(price-level) / price * 100
}

// ComputeAnalytics derives the descriptive fields of one order.
// proximityPct is the psychological-level band, e.g. 0.1 for 0.1%.
func ComputeAnalytics(price, size, topAverage, proximityPct float64, successRate *float64) Analytics {
	a := Analytics{
		DistanceToRoundLevel:  DistanceToRoundLevel(price),
		HistoricalSuccessRate: successRate,
	}
	if topAverage > 0 {
		a.SizeVsAverage = size / topAverage
	}
	a.IsPsychologicalLevel = a.DistanceToRoundLevel <= proximityPct+1e-12
	return a
}

// MarketContext is the market state an order is scored against.
type MarketContext struct {
	SymbolVolatility float64 `json:"symbol_volatility"`
	MarketVolatility float64 `json:"market_volatility"`
	TimeOfDayFactor  float64 `json:"time_of_day_factor"`
	WeekendFactor    float64 `json:"weekend_factor"`
}

// sessionModifiers are UTC trading session activity levels.
var sessionModifiers = []struct {
	from, to int
	modifier float64
}{
	{0, 8, 1.2},   // asia
	{8, 16, 1.0},  // london
	{16, 24, 1.1}, // new york
}

// dayModifiers by weekday, Sunday first.
var dayModifiers = [7]float64{0.8, 1.1, 1.0, 1.0, 1.0, 0.9, 0.7}

// TimeOfDayFactor is the session modifier normalized to [0,1].
func TimeOfDayFactor(t time.Time) float64 {
	h := t.UTC().Hour()
	for _, s := range sessionModifiers {
		if h >= s.from && h < s.to {
			return s.modifier / 1.2
		}
	}
	return 1.0 / 1.2
}

// WeekendFactor is the weekday modifier normalized to [0,1].
func WeekendFactor(t time.Time) float64 {
	return dayModifiers[t.UTC().Weekday()] / 1.1
}

// VolatilityModifier rates calm markets higher; the result is in [0,1].
// vol is a fraction, e.g. 0.03 for 3%.
func VolatilityModifier(vol float64) float64 {
	var m float64
	switch {
	case vol < 0.01:
		m = 1.3
	case vol < 0.02:
		m = 1.1
	case vol < 0.05:
		m = 1.0
	case vol < 0.1:
		m = 0.8
	default:
		m = 0.6
	}
	return m / 1.3
}
