package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/registry"
	"whale_go/internal/service"

	"github.com/shopspring/decimal"
)

// fakeGateway serves canned books and scripted failures.
type fakeGateway struct {
	mu        sync.Mutex
	symbols   []string
	listErrs  []error
	books     map[string]*domain.OrderBook
	bookErrs  map[string][]error
	bookCalls atomic.Int64
}

func (g *fakeGateway) ListSymbols(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.listErrs) > 0 {
		err := g.listErrs[0]
		g.listErrs = g.listErrs[1:]
		return nil, err
	}
	return append([]string(nil), g.symbols...), nil
}

func (g *fakeGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	g.bookCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if errs := g.bookErrs[symbol]; len(errs) > 0 {
		g.bookErrs[symbol] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	b, ok := g.books[symbol]
	if !ok {
		return nil, domain.NewNetworkError("depth", fmt.Errorf("%w: no book", domain.ErrDataSourceUnavailable))
	}
	cp := *b
	return &cp, nil
}

var scanTime = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

// whaleBook has ten bids of 25 at the touch and a 100 lot behind them at 65000.
// The top-10 average is 25, so the lot clears a 3.5x threshold of 87.5.
// Asks are uniform and yield nothing.
func whaleBook(symbol string) *domain.OrderBook {
	b := &domain.OrderBook{Symbol: symbol, FetchedAt: scanTime}
	for i := 0; i < 10; i++ {
		b.Bids = append(b.Bids, domain.Level{Price: decimal.NewFromInt(int64(65100 - i*10)), Size: decimal.NewFromInt(25)})
		b.Asks = append(b.Asks, domain.Level{Price: decimal.NewFromInt(int64(65110 + i*10)), Size: decimal.NewFromInt(25)})
	}
	b.Bids = append(b.Bids, domain.Level{Price: decimal.NewFromInt(65000), Size: decimal.NewFromInt(100)})
	return b
}

func testConfig() Config {
	return Config{
		Workers:          3,
		TopSymbols:       100,
		Depth:            100,
		TopLevels:        10,
		Multiplier:       decimal.NewFromFloat(3.5),
		ExcludedSuffixes: []string{"BUSD", "USDC"},
		ExcludedPrefixes: []string{"1000"},
		RetryBudget:      2,
		RequestsPerSec:   10000,
		Burst:            1000,
	}
}

func newTestScanner(g domain.ExchangeGateway, cfg Config) (*Scanner, *registry.Registry) {
	reg := registry.New(registry.DefaultRules(), time.Minute)
	s := New(g, reg, service.NewMarketService(10), cfg)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s, reg
}

func TestFilterSymbols(t *testing.T) {
	in := []string{"BTCUSDT", "ETHBUSD", "1000PEPEUSDT", "ETHUSDT", "BTCUSDT", "SOLUSDC", "XRPUSDT"}

	got := FilterSymbols(in, []string{"BUSD", "USDC"}, []string{"1000"}, 2)
	want := []string{"BTCUSDT", "ETHUSDT"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if all := FilterSymbols(in, nil, nil, 0); len(all) != 6 {
		t.Errorf("Expected 6 unique symbols without limits, got %d", len(all))
	}
}

func TestFindLargeOrders(t *testing.T) {
	// ten bids of 25 at the touch, a 100 lot behind them, multiplier 3.5
	sym, cands := FindLargeOrders(whaleBook("BTCUSDT"), 10, decimal.NewFromFloat(3.5))
	if !sym.BidTopAverage.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected top average 25, got %s", sym.BidTopAverage)
	}
	if !sym.BidThreshold.Equal(decimal.NewFromFloat(87.5)) {
		t.Errorf("Expected threshold 87.5, got %s", sym.BidThreshold)
	}
	if len(cands) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.Side != domain.SideBid || !c.Price.Equal(decimal.NewFromInt(65000)) || !c.Size.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected candidate %+v", c)
	}
	if !c.TopAverage.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected candidate top average 25, got %s", c.TopAverage)
	}
}

func TestFindLargeOrders_LotInsideTopLevels(t *testing.T) {
	b := &domain.OrderBook{Symbol: "BTCUSDT", FetchedAt: scanTime}
	for i := 0; i < 11; i++ {
		size := decimal.NewFromInt(25)
		if i == 3 {
			size = decimal.NewFromInt(100)
		}
		b.Bids = append(b.Bids, domain.Level{Price: decimal.NewFromInt(int64(65030 - i*10)), Size: size})
	}
	// the lot sits in the first ten levels: (100 + 9*25) / 10 = 32.5, threshold 113.75
	sym, cands := FindLargeOrders(b, 10, decimal.NewFromFloat(3.5))
	if len(cands) != 0 {
		t.Errorf("Expected no candidates at threshold %s, got %d", sym.BidThreshold, len(cands))
	}

	b.Bids[3].Size = decimal.NewFromInt(200)
	sym, cands = FindLargeOrders(b, 10, decimal.NewFromFloat(3.5))
	if len(cands) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(cands))
	}
	if !cands[0].Price.Equal(decimal.NewFromInt(65000)) || !cands[0].Size.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Unexpected candidate %+v", cands[0])
	}
	if !sym.BidTopAverage.Equal(decimal.NewFromFloat(42.5)) {
		t.Errorf("Expected top average 42.5, got %s", sym.BidTopAverage)
	}
	if !sym.AskThreshold.IsZero() {
		t.Errorf("Expected no ask threshold for an empty side, got %s", sym.AskThreshold)
	}
}

func TestFindLargeOrders_ThinSide(t *testing.T) {
	b := &domain.OrderBook{Symbol: "X", FetchedAt: scanTime}
	for i := 0; i < 9; i++ {
		b.Asks = append(b.Asks, domain.Level{Price: decimal.NewFromInt(int64(100 + i)), Size: decimal.NewFromInt(1000)})
	}
	if _, cands := FindLargeOrders(b, 10, decimal.NewFromInt(1)); len(cands) != 0 {
		t.Errorf("Expected no candidates with fewer than 10 levels, got %d", len(cands))
	}
}

func TestScanOnce(t *testing.T) {
	g := &fakeGateway{
		symbols: []string{"BTCUSDT", "ETHBUSD", "ETHUSDT"},
		books:   map[string]*domain.OrderBook{"BTCUSDT": whaleBook("BTCUSDT"), "ETHUSDT": whaleBook("ETHUSDT")},
	}
	s, reg := newTestScanner(g, testConfig())

	res, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce failed: %v", err)
	}
	if res.Scanned != 2 || res.Failed != 0 {
		t.Errorf("Expected 2 scanned and 0 failed, got %d/%d", res.Scanned, res.Failed)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("Expected one candidate per symbol, got %d", len(res.Candidates))
	}
	if reg.Len() != 2 {
		t.Errorf("Expected 2 registry records, got %d", reg.Len())
	}
	for _, o := range res.Candidates {
		if o.State != domain.StateCandidate || !o.OrderPrice.Equal(decimal.NewFromInt(65000)) {
			t.Errorf("Unexpected candidate %+v", o)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.market.StartProcessor(ctx)
	deadline := time.Now().Add(time.Second)
	for len(s.market.Symbols()) != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.market.Symbols(); len(got) != 2 {
		t.Errorf("Expected mids to be submitted for both symbols, got %v", got)
	}

	// a second pass sees the same levels and creates nothing new
	res, err = s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("Second ScanOnce failed: %v", err)
	}
	if len(res.Candidates) != 0 || reg.Len() != 2 {
		t.Errorf("Expected live levels to be reused, got %d new and %d records", len(res.Candidates), reg.Len())
	}
}

func TestScanOnce_PartialFailureSkipsSymbol(t *testing.T) {
	broken := whaleBook("ETHUSDT")
	broken.Asks[0].Price = decimal.NewFromInt(1) // crossed

	g := &fakeGateway{
		symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		books:   map[string]*domain.OrderBook{"BTCUSDT": whaleBook("BTCUSDT"), "ETHUSDT": broken},
	}
	s, reg := newTestScanner(g, testConfig())

	res, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("Expected partial failure to be contained, got %v", err)
	}
	if res.Failed != 2 {
		t.Errorf("Expected 2 failed symbols, got %d", res.Failed)
	}
	if reg.Len() != 1 {
		t.Errorf("Expected only BTCUSDT candidate, got %d", reg.Len())
	}
}

func TestScanOnce_TotalFailureAborts(t *testing.T) {
	g := &fakeGateway{symbols: []string{"BTCUSDT", "ETHUSDT"}, books: map[string]*domain.OrderBook{}}
	s, _ := newTestScanner(g, testConfig())

	_, err := s.ScanOnce(context.Background())
	if !errors.Is(err, domain.ErrDataSourceUnavailable) {
		t.Errorf("Expected ErrDataSourceUnavailable, got %v", err)
	}
	// budget 2 means 3 attempts per symbol
	if got := g.bookCalls.Load(); got != 6 {
		t.Errorf("Expected 6 book calls, got %d", got)
	}
}

func TestScanOnce_ListRetriesThenFails(t *testing.T) {
	netErr := domain.NewNetworkError("ticker", errors.New("connection reset"))
	g := &fakeGateway{listErrs: []error{netErr, netErr, netErr, netErr}}
	s, _ := newTestScanner(g, testConfig())

	var waits []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := s.ScanOnce(context.Background())
	if !errors.Is(err, domain.ErrDataSourceUnavailable) {
		t.Errorf("Expected ErrDataSourceUnavailable after budget, got %v", err)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("Expected backoff waits [1s 2s], got %v", waits)
	}
}

func TestScanOnce_RateLimitHonorsRetryAfter(t *testing.T) {
	g := &fakeGateway{
		symbols:  []string{"BTCUSDT"},
		books:    map[string]*domain.OrderBook{"BTCUSDT": whaleBook("BTCUSDT")},
		bookErrs: map[string][]error{"BTCUSDT": {&domain.RateLimitError{Op: "depth", RetryAfter: 7 * time.Second}}},
	}
	s, reg := newTestScanner(g, testConfig())

	var waits []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("Expected recovery after one rate limit, got %v", err)
	}
	if len(waits) != 1 || waits[0] != 7*time.Second {
		t.Errorf("Expected a single 7s wait, got %v", waits)
	}
	if reg.Len() != 1 {
		t.Errorf("Expected candidate after retry, got %d records", reg.Len())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	g := &fakeGateway{symbols: []string{"BTCUSDT"}, books: map[string]*domain.OrderBook{"BTCUSDT": whaleBook("BTCUSDT")}}
	s, reg := newTestScanner(g, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	var passes atomic.Int64
	s.sleep = func(c context.Context, d time.Duration) error {
		if passes.Add(1) > 3 {
			cancel()
		}
		return c.Err()
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Run to stop after cancel")
	}
	if reg.Len() != 1 {
		t.Errorf("Expected one tracked level, got %d", reg.Len())
	}
}
