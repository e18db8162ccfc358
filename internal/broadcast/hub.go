package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"whale_go/internal/event"
	"whale_go/internal/infra"
)

// Config sizes the hub.
type Config struct {
	Policies     map[Tier]Policy
	InboxSize    int
	QueueSize    int
	PingInterval time.Duration
}

// ConfigFrom reads the broadcast section of the application config.
func ConfigFrom(cfg *infra.Config) Config {
	b := cfg.Broadcast
	return Config{
		Policies:     DefaultPolicies(b.PublicDelay, b.PublicRate, b.PublicWindow),
		InboxSize:    b.InboxSize,
		QueueSize:    b.QueueSize,
		PingInterval: b.PingInterval,
	}
}

// Hub owns the subscriber set. It implements event.Sink.
type Hub struct {
	cfg    Config
	inbox  chan *event.PublishEvent
	logger *slog.Logger
	now    func() time.Time
	sleep  func(d time.Duration, done <-chan struct{}) bool

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewHub creates a hub; call Run to start dispatching.
func NewHub(cfg Config) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Hub{
		cfg:    cfg,
		inbox:  make(chan *event.PublishEvent, cfg.InboxSize),
		logger: slog.Default().With(slog.String("module", "broadcast")),
		now:    time.Now,
		sleep:  sleepUntilDone,
		subs:   make(map[string]*Subscriber),
	}
}

// Publish hands ev to the dispatcher. It blocks only while the bounded inbox
// is full and gives up when ctx is done.
func (h *Hub) Publish(ctx context.Context, ev *event.PublishEvent) error {
	select {
	case h.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds a subscriber on conn and starts its writer.
func (h *Hub) Register(conn Conn, tier Tier) *Subscriber {
	sub := newSubscriber(conn, tier, h.cfg.Policies[tier], h.cfg.QueueSize, h.cfg.PingInterval, h.now)
	sub.sleep = h.sleep
	sub.onClose = h.unregister

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections(string(tier))

	go sub.writeLoop()
	h.logger.Info("Subscriber connected", slog.String("subscriber", sub.ID), slog.String("tier", string(tier)))
	return sub
}

func (h *Hub) unregister(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	h.mu.Unlock()
	if ok {
		infra.GlobalMetrics.DecrementConnections(string(sub.Tier))
		h.logger.Info("Subscriber disconnected", slog.String("subscriber", sub.ID), slog.String("tier", string(sub.Tier)))
	}
}

// Counts returns the connected subscribers per tier.
func (h *Hub) Counts() map[Tier]int {
	out := make(map[Tier]int, len(Tiers))
	for _, t := range Tiers {
		out[t] = 0
	}
	h.mu.RLock()
	for _, s := range h.subs {
		out[s.Tier]++
	}
	h.mu.RUnlock()
	return out
}

// Run dispatches inbox events until ctx is done, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.inbox:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev *event.PublishEvent) {
	data, err := ev.Encode()
	if err != nil {
		h.logger.Error("Failed to encode event", slog.String("hash", ev.Payload.OrderHash), slog.Any("error", err))
		infra.GlobalMetrics.RecordError("broadcast")
		return
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.policy.Admits(ev) {
			continue
		}
		s.enqueue(delivery{data: data, due: ev.OriginAt.Add(s.policy.Delay)})
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.Close()
	}
}
