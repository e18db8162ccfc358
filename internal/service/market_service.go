package service

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"whale_go/internal/strategy"

	"github.com/shopspring/decimal"
)

// MidSample is one observed book mid price.
type MidSample struct {
	Symbol string
	Mid    decimal.Decimal
	At     time.Time
}

// midRing holds the most recent mids of one symbol
type midRing struct {
	values []float64
	next   int
	full   bool
}

func newMidRing(size int) *midRing {
	return &midRing{values: make([]float64, size)}
}

func (r *midRing) push(v float64) {
	r.values[r.next] = v
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.full = true
	}
}

// ordered returns the samples oldest first.
func (r *midRing) ordered() []float64 {
	if !r.full {
		return append([]float64(nil), r.values[:r.next]...)
	}
	out := make([]float64, 0, len(r.values))
	out = append(out, r.values[r.next:]...)
	return append(out, r.values[:r.next]...)
}

// MarketService keeps recent mid prices per symbol and derives the market context
type MarketService struct {
	mu       sync.RWMutex
	window   int
	samples  map[string]*midRing
	lastSeen map[string]time.Time
	midChan  chan MidSample
}

// NewMarketService creates a MarketService keeping window mids per symbol
func NewMarketService(window int) *MarketService {
	if window < 2 {
		window = 2
	}
	return &MarketService{
		window:   window,
		samples:  make(map[string]*midRing),
		lastSeen: make(map[string]time.Time),
		midChan:  make(chan MidSample, 1000),
	}
}

// StartProcessor drains the mid channel until ctx is done
func (s *MarketService) StartProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-s.midChan:
				s.RecordMid(m.Symbol, m.Mid, m.At)
			}
		}
	}()
}

// Submit queues a sample for the processor without blocking the fetch path.
// A full channel drops the sample and reports false.
func (s *MarketService) Submit(symbol string, mid decimal.Decimal, at time.Time) bool {
	select {
	case s.midChan <- MidSample{Symbol: symbol, Mid: mid, At: at}:
		return true
	default:
		return false
	}
}

// RecordMid appends a mid price. Non-positive and out-of-order samples are ignored.
func (s *MarketService) RecordMid(symbol string, mid decimal.Decimal, at time.Time) {
	if !mid.IsPositive() {
		return
	}
	v, _ := mid.Float64()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSeen[symbol]; ok && !at.After(last) {
		return
	}
	r, ok := s.samples[symbol]
	if !ok {
		r = newMidRing(s.window)
		s.samples[symbol] = r
	}
	r.push(v)
	s.lastSeen[symbol] = at
}

// Symbols returns the tracked symbols in sorted order
func (s *MarketService) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.samples))
	for sym := range s.samples {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SymbolVolatility is the standard deviation of log returns of the recent mids.
// It is zero until two samples exist.
func (s *MarketService) SymbolVolatility(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.samples[symbol]
	if !ok {
		return 0
	}
	return stddevLogReturns(r.ordered())
}

// MarketVolatility is the mean volatility across symbols with enough history.
func (s *MarketService) MarketVolatility() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	n := 0
	for _, r := range s.samples {
		mids := r.ordered()
		if len(mids) < 3 {
			continue
		}
		sum += stddevLogReturns(mids)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Context assembles the market context for an order on symbol at time at
func (s *MarketService) Context(symbol string, at time.Time) strategy.MarketContext {
	return strategy.MarketContext{
		SymbolVolatility: s.SymbolVolatility(symbol),
		MarketVolatility: s.MarketVolatility(),
		TimeOfDayFactor:  strategy.TimeOfDayFactor(at),
		WeekendFactor:    strategy.WeekendFactor(at),
	}
}

func stddevLogReturns(mids []float64) float64 {
	if len(mids) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		returns = append(returns, math.Log(mids[i]/mids[i-1]))
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}
