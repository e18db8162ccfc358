package strategy

import (
	"math"
	"time"
)

// TimeFactorParams configures the four time curves.
type TimeFactorParams struct {
	LinearHorizon time.Duration
	HalfLife      time.Duration
	LogHorizon    time.Duration
	AdaptiveTau   time.Duration
	Weights       TimeFactorWeights
}

// TimeFactorWeights blend the curves into one time input.
type TimeFactorWeights struct {
	Linear             float64
	Exponential        float64
	Logarithmic        float64
	AdaptiveVolatility float64
}

// DefaultTimeFactorParams matches the shipped configuration.
func DefaultTimeFactorParams() TimeFactorParams {
	return TimeFactorParams{
		LinearHorizon: time.Hour,
		HalfLife:      30 * time.Minute,
		LogHorizon:    2 * time.Hour,
		AdaptiveTau:   30 * time.Minute,
		Weights: TimeFactorWeights{
			Linear:             0.2,
			Exponential:        0.3,
			Logarithmic:        0.2,
			AdaptiveVolatility: 0.3,
		},
	}
}

// TimeFactors holds each curve's value, all in [0,1].
type TimeFactors struct {
	Linear             float64 `json:"linear"`
	Exponential        float64 `json:"exponential"`
	Logarithmic        float64 `json:"logarithmic"`
	AdaptiveVolatility float64 `json:"adaptive_volatility"`
}

// Linear grows evenly and saturates at the horizon.
func Linear(lifetime, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 1
	}
	return clamp01(lifetime.Seconds() / horizon.Seconds())
}

// Exponential saturates with the given half-life: 0.5 at one half-life.
func Exponential(lifetime, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	return clamp01(1 - math.Exp2(-lifetime.Seconds()/halfLife.Seconds()))
}

// Logarithmic is log(1+t)/log(1+horizon), in seconds.
func Logarithmic(lifetime, horizon time.Duration) float64 {
	h := horizon.Seconds()
	if h <= 0 {
		return 1
	}
	t := math.Max(lifetime.Seconds(), 0)
	return clamp01(math.Log1p(t) / math.Log1p(h))
}

// AdaptiveVolatility slows saturation and caps the value as volatility rises.
// vol is normalized to [0,1].
func AdaptiveVolatility(lifetime, tau time.Duration, vol float64) float64 {
	if tau <= 0 {
		return 0
	}
	v := clamp01(vol)
	t := math.Max(lifetime.Seconds(), 0)
	return clamp01((1 - math.Exp(-t/(tau.Seconds()*(1+v)))) * (1 - v/2))
}

// ComputeTimeFactors evaluates every curve for one lifetime.
func ComputeTimeFactors(lifetime time.Duration, vol float64, p TimeFactorParams) TimeFactors {
	return TimeFactors{
		Linear:             Linear(lifetime, p.LinearHorizon),
		Exponential:        Exponential(lifetime, p.HalfLife),
		Logarithmic:        Logarithmic(lifetime, p.LogHorizon),
		AdaptiveVolatility: AdaptiveVolatility(lifetime, p.AdaptiveTau, vol),
	}
}

// Combined blends the curves by weight, normalized by the weight total.
func (tf TimeFactors) Combined(w TimeFactorWeights) float64 {
	total := w.Linear + w.Exponential + w.Logarithmic + w.AdaptiveVolatility
	if total <= 0 {
		return 0
	}
	s := tf.Linear*w.Linear + tf.Exponential*w.Exponential +
		tf.Logarithmic*w.Logarithmic + tf.AdaptiveVolatility*w.AdaptiveVolatility
	return clamp01(s / total)
}
