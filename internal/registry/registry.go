// Package registry owns every tracked order and applies the lifecycle rules.
//
// The index map is guarded by a short RWMutex; each record has its own mutex.
// Lock order is record then index, never the reverse, so iteration copies the
// record list under the index lock and visits records after releasing it.
package registry

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whale_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"
)

// Rules are the continuity and promotion parameters.
type Rules struct {
	SurvivalThreshold float64
	PromotionAfter    time.Duration
}

// DefaultRules returns the standard 70% loss / 60s promotion rules.
func DefaultRules() Rules {
	return Rules{SurvivalThreshold: 0.7, PromotionAfter: 60 * time.Second}
}

// Candidate is a large resting level found by a primary scan.
type Candidate struct {
	Symbol     string
	Side       domain.Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	Mid        decimal.Decimal
	TopAverage decimal.Decimal
	SeenAt     time.Time
}

type levelKey struct {
	symbol string
	side   domain.Side
	price  string
}

func keyOf(symbol string, side domain.Side, price decimal.Decimal) levelKey {
	return levelKey{symbol: symbol, side: side, price: price.String()}
}

type entry struct {
	key   levelKey // fixed at creation
	mu    sync.Mutex
	order domain.Order
}

// Registry is the single owner of order records.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	levels   map[levelKey]string // live owner per price level
	counters map[levelKey]uint64 // dropped once no record refers to the level

	rules         Rules
	deadRetention time.Duration
	onDeath       func(domain.Order)
	logger        *slog.Logger
}

// New creates an empty registry.
func New(rules Rules, deadRetention time.Duration) *Registry {
	return &Registry{
		entries:       make(map[string]*entry),
		levels:        make(map[levelKey]string),
		counters:      make(map[levelKey]uint64),
		rules:         rules,
		deadRetention: deadRetention,
		logger:        slog.Default().With(slog.String("module", "registry")),
	}
}

// OnDeath registers a hook called, outside all locks, with a copy of each order that dies.
func (r *Registry) OnDeath(fn func(domain.Order)) {
	r.mu.Lock()
	r.onDeath = fn
	r.mu.Unlock()
}

// Rules returns the lifecycle parameters.
func (r *Registry) Rules() Rules {
	return r.rules
}

// AddCandidate inserts a new Candidate unless a live order already owns the level.
// It returns the owning order and whether it was newly created.
func (r *Registry) AddCandidate(c Candidate) (domain.Order, bool, error) {
	if c.Symbol == "" || !c.Price.IsPositive() || !c.Size.IsPositive() {
		return domain.Order{}, false, fmt.Errorf("%w: candidate %s %s %s x %s",
			domain.ErrMalformedSnapshot, c.Symbol, c.Side, c.Price, c.Size)
	}
	key := keyOf(c.Symbol, c.Side, c.Price)

	r.mu.Lock()
	if hash, ok := r.levels[key]; ok {
		e := r.entries[hash]
		r.mu.Unlock()
		e.mu.Lock()
		existing := e.order.Clone()
		e.mu.Unlock()
		return existing, false, nil
	}

	r.counters[key]++
	hash := mintHash(key, r.counters[key], c.SeenAt)
	order := domain.Order{
		Hash:           hash,
		Symbol:         c.Symbol,
		Side:           c.Side,
		OrderPrice:     c.Price,
		CurrentPrice:   c.Mid,
		OriginalSize:   c.Size,
		CurrentSize:    c.Size,
		TopAverage:     c.TopAverage,
		FirstSeenAt:    c.SeenAt,
		LastSeenAt:     c.SeenAt,
		PromotionClock: c.SeenAt,
		State:          domain.StateCandidate,
		ScanCount:      1,
	}
	r.entries[hash] = &entry{key: key, order: order}
	r.levels[key] = hash
	r.mu.Unlock()

	return order.Clone(), true, nil
}

// mintHash derives an identity from the level, its per-level counter and the
// discovery time. The timestamp keeps hashes distinct once a counter has been
// swept or the process restarted.
func mintHash(key levelKey, counter uint64, seenAt time.Time) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%d", key.symbol, key.side, key.price, counter, seenAt.UnixNano())
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:12])
}

// Get returns a copy of an order.
func (r *Registry) Get(hash string) (domain.Order, bool) {
	e := r.lookup(hash)
	if e == nil {
		return domain.Order{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), true
}

func (r *Registry) lookup(hash string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[hash]
}

// Observe applies one observation to an order under its record lock.
func (r *Registry) Observe(hash string, obs Observation) (Result, error) {
	e := r.lookup(hash)
	if e == nil {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, hash)
	}

	e.mu.Lock()
	if e.order.State == domain.StateDead {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", domain.ErrOrderDead, hash)
	}
	working := e.order.Clone()
	res, err := apply(&working, obs, r.rules)
	if err != nil {
		e.mu.Unlock()
		return Result{}, err
	}
	e.order = working
	if res.Transition == TransitionDied {
		r.releaseLevel(&e.order)
	}
	res.Order = e.order.Clone()
	e.mu.Unlock()

	if res.Transition == TransitionDied {
		r.notifyDeath(res.Order)
	}
	return res, nil
}

// Update mutates a live order in place. fn must not block.
func (r *Registry) Update(hash string, fn func(o *domain.Order) error) (domain.Order, error) {
	e := r.lookup(hash)
	if e == nil {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, hash)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.order.State == domain.StateDead {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderDead, hash)
	}

	working := e.order.Clone()
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	if working.Hash != e.order.Hash || working.State != e.order.State {
		return domain.Order{}, fmt.Errorf("%w: identity and state change only through Observe", domain.ErrInvalidTransition)
	}
	e.order = working
	return e.order.Clone(), nil
}

// releaseLevel frees the price level of a dead order. Caller holds the record lock.
func (r *Registry) releaseLevel(o *domain.Order) {
	key := keyOf(o.Symbol, o.Side, o.OrderPrice)
	r.mu.Lock()
	if r.levels[key] == o.Hash {
		delete(r.levels, key)
	}
	r.mu.Unlock()
}

func (r *Registry) notifyDeath(o domain.Order) {
	r.mu.RLock()
	fn := r.onDeath
	r.mu.RUnlock()
	if fn != nil {
		fn(o)
	}
}

// snapshotEntries copies the record list so callers can visit records without the index lock.
func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// HashesBySymbol groups the hashes of orders in any of the given states.
func (r *Registry) HashesBySymbol(states ...domain.OrderState) map[string][]string {
	want := make(map[domain.OrderState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	out := make(map[string][]string)
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if want[e.order.State] {
			out[e.order.Symbol] = append(out[e.order.Symbol], e.order.Hash)
		}
		e.mu.Unlock()
	}
	return out
}

// Snapshot returns copies of all orders in the given states.
func (r *Registry) Snapshot(states ...domain.OrderState) []domain.Order {
	want := make(map[domain.OrderState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	var out []domain.Order
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if want[e.order.State] {
			out = append(out, e.order.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Counts returns the number of orders per state.
func (r *Registry) Counts() map[domain.OrderState]int {
	counts := make(map[domain.OrderState]int, 4)
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		counts[e.order.State]++
		e.mu.Unlock()
	}
	return counts
}

// Len returns the number of records, dead ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep evicts dead orders older than the retention window.
func (r *Registry) Sweep(now time.Time) int {
	var expired []string
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if e.order.State == domain.StateDead && now.Sub(e.order.DiedAt) >= r.deadRetention {
			expired = append(expired, e.order.Hash)
		}
		e.mu.Unlock()
	}
	if len(expired) == 0 {
		return 0
	}

	// dead is terminal, so the records cannot have changed since the check
	r.mu.Lock()
	freed := make(map[levelKey]struct{}, len(expired))
	for _, hash := range expired {
		if e, ok := r.entries[hash]; ok {
			freed[e.key] = struct{}{}
			delete(r.entries, hash)
		}
	}
	for _, e := range r.entries {
		delete(freed, e.key)
	}
	for key := range freed {
		delete(r.counters, key)
	}
	r.mu.Unlock()

	r.logger.Debug("Evicted dead orders", slog.Int("count", len(expired)))
	return len(expired)
}

// Restore loads live orders from a snapshot. Orders whose level is already
// owned, and dead orders, are skipped.
func (r *Registry) Restore(orders []domain.Order) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, o := range orders {
		if !o.State.IsLive() || o.Hash == "" {
			continue
		}
		if _, exists := r.entries[o.Hash]; exists {
			continue
		}
		key := keyOf(o.Symbol, o.Side, o.OrderPrice)
		if _, owned := r.levels[key]; owned {
			continue
		}
		r.entries[o.Hash] = &entry{key: key, order: o.Clone()}
		r.levels[key] = o.Hash
		r.counters[key]++
		restored++
	}
	return restored
}
