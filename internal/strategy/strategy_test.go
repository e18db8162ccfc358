package strategy

import (
	"math"
	"testing"
	"time"

	"whale_go/internal/domain"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.Category
	}{
		{0, domain.CategoryBasic},
		{0.3329, domain.CategoryBasic},
		{0.333, domain.CategoryGold},
		{0.5, domain.CategoryGold},
		{0.6659, domain.CategoryGold},
		{0.666, domain.CategoryDiamond},
		{1, domain.CategoryDiamond},
	}

	for _, tt := range tests {
		if got := Categorize(tt.score); got != tt.want {
			t.Errorf("Categorize(%v): expected %s, got %s", tt.score, tt.want, got)
		}
	}
}

func TestDefaultAlgorithms_SumToOne(t *testing.T) {
	for _, a := range DefaultAlgorithms() {
		if math.Abs(a.Sum()-1) > 1e-9 {
			t.Errorf("%s: expected coefficients to sum to 1, got %v", a.Name, a.Sum())
		}
	}
}

func TestScore_Bounds(t *testing.T) {
	table := DefaultTable()
	inputs := []Inputs{
		{},
		{Time: 1, Size: 1, RoundLevel: 1, Volatility: 1, TimeOfDay: 1, Weekend: 1},
		{Time: 5, Size: 12, RoundLevel: -3, Volatility: math.NaN(), TimeOfDay: 2, Weekend: -1},
	}

	for _, name := range table.Names() {
		a, _ := table.Lookup(name)
		for _, in := range inputs {
			s := a.Score(in)
			if s < 0 || s > 1 || math.IsNaN(s) {
				t.Errorf("%s: score %v out of [0,1] for %+v", name, s, in)
			}
		}
	}

	a, _ := table.Lookup("hybrid")
	if got := a.Score(Inputs{Time: 1, Size: 1, RoundLevel: 1, Volatility: 1, TimeOfDay: 1, Weekend: 1}); math.Abs(got-1) > 1e-9 {
		t.Errorf("Expected saturated hybrid score 1, got %v", got)
	}
}

func TestNewTable_Validation(t *testing.T) {
	ok := Algorithm{Name: "a", Coefficients: Coefficients{Time: 0.5, Size: 0.5}}

	tests := []struct {
		name        string
		algorithms  []Algorithm
		recommended string
		wantErr     bool
	}{
		{"valid", []Algorithm{ok}, "a", false},
		{"empty", nil, "a", true},
		{"unknown recommended", []Algorithm{ok}, "b", true},
		{"duplicate", []Algorithm{ok, ok}, "a", true},
		{"reserved name", []Algorithm{{Name: RecommendedKey}}, RecommendedKey, true},
		{"over one", []Algorithm{{Name: "x", Coefficients: Coefficients{Time: 0.8, Size: 0.3}}}, "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.algorithms, tt.recommended)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTimeFactors_MonotonicAndBounded(t *testing.T) {
	p := DefaultTimeFactorParams()
	var prev TimeFactors
	for i, lifetime := range []time.Duration{0, time.Minute, 10 * time.Minute, time.Hour, 4 * time.Hour, 48 * time.Hour} {
		tf := ComputeTimeFactors(lifetime, 0.3, p)
		for name, v := range map[string]float64{
			"linear": tf.Linear, "exponential": tf.Exponential,
			"logarithmic": tf.Logarithmic, "adaptive": tf.AdaptiveVolatility,
		} {
			if v < 0 || v > 1 {
				t.Errorf("%s at %v: %v out of [0,1]", name, lifetime, v)
			}
		}
		if i > 0 {
			if tf.Linear < prev.Linear || tf.Exponential < prev.Exponential ||
				tf.Logarithmic < prev.Logarithmic || tf.AdaptiveVolatility < prev.AdaptiveVolatility {
				t.Errorf("Expected non-decreasing factors at %v, got %+v after %+v", lifetime, tf, prev)
			}
		}
		prev = tf
	}
}

func TestTimeFactors_KnownValues(t *testing.T) {
	if got := Exponential(30*time.Minute, 30*time.Minute); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected 0.5 at one half-life, got %v", got)
	}
	if got := Linear(30*time.Minute, time.Hour); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected 0.5 at half horizon, got %v", got)
	}
	if got := Logarithmic(2*time.Hour, 2*time.Hour); math.Abs(got-1) > 1e-9 {
		t.Errorf("Expected 1 at log horizon, got %v", got)
	}
	calm := AdaptiveVolatility(time.Hour, 30*time.Minute, 0)
	wild := AdaptiveVolatility(time.Hour, 30*time.Minute, 1)
	if wild >= calm {
		t.Errorf("Expected volatility to damp the adaptive curve, calm=%v wild=%v", calm, wild)
	}
}

func TestNearestRoundLevel(t *testing.T) {
	tests := []struct {
		price float64
		want  float64
	}{
		{65123, 65000},
		{65000, 65000},
		{0.4871, 0.49},
		{1.234, 1.2},
		{0, 0},
	}

	for _, tt := range tests {
		if got := NearestRoundLevel(tt.price); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NearestRoundLevel(%v): expected %v, got %v", tt.price, tt.want, got)
		}
	}
}

func TestComputeAnalytics(t *testing.T) {
	rate := 0.4
	a := ComputeAnalytics(65000, 100, 25, 0.1, &rate)

	if a.SizeVsAverage != 4 {
		t.Errorf("Expected size_vs_average 4, got %v", a.SizeVsAverage)
	}
	if a.DistanceToRoundLevel != 0 || !a.IsPsychologicalLevel {
		t.Errorf("Expected 65000 to be a psychological level, got %+v", a)
	}
	if a.HistoricalSuccessRate == nil || *a.HistoricalSuccessRate != 0.4 {
		t.Errorf("Expected success rate 0.4, got %v", a.HistoricalSuccessRate)
	}

	off := ComputeAnalytics(65321, 100, 0, 0.1, nil)
	if off.IsPsychologicalLevel {
		t.Errorf("Expected 65321 to be off a round level, distance %v", off.DistanceToRoundLevel)
	}
	if off.SizeVsAverage != 0 || off.HistoricalSuccessRate != nil {
		t.Errorf("Expected zero size ratio and nil rate, got %+v", off)
	}
}

func TestSessionFactors(t *testing.T) {
	asia := time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC)   // Wednesday
	london := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC) // Wednesday
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	if got := TimeOfDayFactor(asia); got != 1 {
		t.Errorf("Expected asia factor 1, got %v", got)
	}
	if got := TimeOfDayFactor(london); math.Abs(got-1/1.2) > 1e-9 {
		t.Errorf("Expected london factor %v, got %v", 1/1.2, got)
	}
	if got := WeekendFactor(monday); got != 1 {
		t.Errorf("Expected monday factor 1, got %v", got)
	}
	if WeekendFactor(saturday) >= WeekendFactor(london) {
		t.Error("Expected saturday to rate below a weekday")
	}
}

func TestVolatilityModifier(t *testing.T) {
	prev := 2.0
	for _, v := range []float64{0, 0.015, 0.03, 0.07, 0.5} {
		m := VolatilityModifier(v)
		if m <= 0 || m > 1 {
			t.Errorf("VolatilityModifier(%v) = %v out of (0,1]", v, m)
		}
		if m >= prev {
			t.Errorf("Expected decreasing modifier at %v, got %v after %v", v, m, prev)
		}
		prev = m
	}
}

func TestEngine_Evaluate(t *testing.T) {
	e := NewEngine(DefaultTable(), DefaultParams())
	market := MarketContext{SymbolVolatility: 0.02, MarketVolatility: 0.015, TimeOfDayFactor: 1, WeekendFactor: 1}

	young := e.Evaluate(Subject{Lifetime: time.Minute, OrderPrice: 65000, CurrentSize: 95, TopAverage: 25}, market)
	old := e.Evaluate(Subject{Lifetime: 3 * time.Hour, OrderPrice: 65000, CurrentSize: 95, TopAverage: 25}, market)

	if len(young.Scores) != len(DefaultAlgorithms()) || len(young.Categories) != len(young.Scores) {
		t.Fatalf("Expected a score and category per algorithm, got %d/%d", len(young.Scores), len(young.Categories))
	}
	if young.Recommended != "hybrid" {
		t.Errorf("Expected recommended hybrid, got %s", young.Recommended)
	}
	for name, s := range old.Scores {
		if s < 0 || s > 1 {
			t.Errorf("%s: score %v out of [0,1]", name, s)
		}
		if s < young.Scores[name] {
			t.Errorf("%s: expected older order to score at least as high, %v < %v", name, s, young.Scores[name])
		}
		if old.Categories[name] != Categorize(s) {
			t.Errorf("%s: category %s does not match score %v", name, old.Categories[name], s)
		}
	}
	if old.RecommendedCategory() != domain.CategoryDiamond {
		t.Errorf("Expected a 3h round-level order at 3.8x to be diamond, got %s (%v)", old.RecommendedCategory(), old.RecommendedScore())
	}
	if old.Analytics.SizeVsAverage != 3.8 {
		t.Errorf("Expected size_vs_average 3.8, got %v", old.Analytics.SizeVsAverage)
	}
}
