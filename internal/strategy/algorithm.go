// Package strategy scores hot orders. Everything here is a pure function of its inputs.
package strategy

import (
	"fmt"
	"sort"

	"whale_go/internal/domain"
)

// RecommendedKey is the extra entry carried in weights and categories.
const RecommendedKey = "recommended"

// Coefficients weight each normalized input of a score.
type Coefficients struct {
	Time       float64
	Size       float64
	RoundLevel float64
	Volatility float64
	TimeOfDay  float64
	Weekend    float64
}

// Sum of all terms. Valid sets sum to at most 1.
func (c Coefficients) Sum() float64 {
	return c.Time + c.Size + c.RoundLevel + c.Volatility + c.TimeOfDay + c.Weekend
}

// Inputs are the normalized factors, each in [0,1].
type Inputs struct {
	Time       float64
	Size       float64
	RoundLevel float64
	Volatility float64
	TimeOfDay  float64
	Weekend    float64
}

// Algorithm is one named strategy of the weight table.
type Algorithm struct {
	Name string
	Coefficients
}

// Score is the clamped linear combination of inputs.
func (a Algorithm) Score(in Inputs) float64 {
	c := a.Coefficients
	s := c.Time*clamp01(in.Time) +
		c.Size*clamp01(in.Size) +
		c.RoundLevel*clamp01(in.RoundLevel) +
		c.Volatility*clamp01(in.Volatility) +
		c.TimeOfDay*clamp01(in.TimeOfDay) +
		c.Weekend*clamp01(in.Weekend)
	return clamp01(s)
}

// Table is the fixed, enumerable set of algorithms.
type Table struct {
	algorithms  []Algorithm
	byName      map[string]int
	recommended string
}

// DefaultAlgorithms is the stock table.
func DefaultAlgorithms() []Algorithm {
	return []Algorithm{
		{Name: "conservative", Coefficients: Coefficients{Time: 0.4, Size: 0.25, RoundLevel: 0.15, Volatility: 0.1, TimeOfDay: 0.05, Weekend: 0.05}},
		{Name: "aggressive", Coefficients: Coefficients{Time: 0.2, Size: 0.3, RoundLevel: 0.2, Volatility: 0.15, TimeOfDay: 0.1, Weekend: 0.05}},
		{Name: "volume_weighted", Coefficients: Coefficients{Time: 0.25, Size: 0.4, RoundLevel: 0.1, Volatility: 0.15, TimeOfDay: 0.05, Weekend: 0.05}},
		{Name: "time_weighted", Coefficients: Coefficients{Time: 0.5, Size: 0.2, RoundLevel: 0.1, Volatility: 0.1, TimeOfDay: 0.05, Weekend: 0.05}},
		{Name: "hybrid", Coefficients: Coefficients{Time: 0.3, Size: 0.25, RoundLevel: 0.2, Volatility: 0.15, TimeOfDay: 0.05, Weekend: 0.05}},
	}
}

// DefaultTable returns the stock table with hybrid recommended.
func DefaultTable() *Table {
	t, err := NewTable(DefaultAlgorithms(), "hybrid")
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates and indexes a set of algorithms.
func NewTable(algorithms []Algorithm, recommended string) (*Table, error) {
	if len(algorithms) == 0 {
		return nil, fmt.Errorf("at least one algorithm is required")
	}
	t := &Table{
		algorithms:  make([]Algorithm, 0, len(algorithms)),
		byName:      make(map[string]int, len(algorithms)),
		recommended: recommended,
	}
	for _, a := range algorithms {
		if a.Name == "" || a.Name == RecommendedKey {
			return nil, fmt.Errorf("invalid algorithm name %q", a.Name)
		}
		if _, dup := t.byName[a.Name]; dup {
			return nil, fmt.Errorf("duplicate algorithm %q", a.Name)
		}
		if a.Sum() > 1+1e-9 {
			return nil, fmt.Errorf("algorithm %q coefficients sum to %.3f > 1", a.Name, a.Sum())
		}
		t.byName[a.Name] = len(t.algorithms)
		t.algorithms = append(t.algorithms, a)
	}
	if _, ok := t.byName[recommended]; !ok {
		return nil, fmt.Errorf("recommended algorithm %q is not in the table", recommended)
	}
	return t, nil
}

// Lookup finds an algorithm by name.
func (t *Table) Lookup(name string) (Algorithm, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Algorithm{}, false
	}
	return t.algorithms[i], true
}

// Names lists algorithm names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.algorithms))
	for _, a := range t.algorithms {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

// Recommended is the algorithm used for default categorization.
func (t *Table) Recommended() string {
	return t.recommended
}

// Category thresholds; the lower edge is inclusive.
const (
	GoldThreshold    = 0.333
	DiamondThreshold = 0.666
)

// Categorize maps a score to Basic, Gold or Diamond.
func Categorize(score float64) domain.Category {
	switch {
	case score >= DiamondThreshold:
		return domain.CategoryDiamond
	case score >= GoldThreshold:
		return domain.CategoryGold
	default:
		return domain.CategoryBasic
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
