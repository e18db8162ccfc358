package broadcast

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/infra"

	"github.com/google/uuid"
)

// Conn is the write side of a subscriber connection.
type Conn interface {
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

type delivery struct {
	data []byte
	due  time.Time
}

// Subscriber is one connected client. Its writer goroutine owns the
// connection and the rate window.
type Subscriber struct {
	ID          string
	Tier        Tier
	ConnectedAt time.Time

	conn    Conn
	policy  Policy
	queue   chan delivery
	limiter *slidingWindow
	now     func() time.Time
	sleep   func(d time.Duration, done <-chan struct{}) bool
	ping    time.Duration
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Subscriber)
}

func newSubscriber(conn Conn, tier Tier, policy Policy, queueSize int, ping time.Duration, now func() time.Time) *Subscriber {
	id := uuid.NewString()
	return &Subscriber{
		ID:          id,
		Tier:        tier,
		ConnectedAt: now(),
		conn:        conn,
		policy:      policy,
		queue:       make(chan delivery, queueSize),
		limiter:     newSlidingWindow(policy.RateLimit, policy.Window),
		now:         now,
		sleep:       sleepUntilDone,
		ping:        ping,
		logger: slog.Default().With(
			slog.String("module", "broadcast"),
			slog.String("subscriber", id),
			slog.String("tier", string(tier))),
		done: make(chan struct{}),
	}
}

// Done is closed once the subscriber has been shut down.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// enqueue never blocks; a full queue drops the event for this subscriber only.
func (s *Subscriber) enqueue(d delivery) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- d:
		return true
	default:
		infra.GlobalMetrics.RecordDrop(string(s.Tier), "queue_full")
		return false
	}
}

// Close stops the writer and closes the connection. Safe to call repeatedly.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// writeLoop delivers queued events in order until the subscriber closes or a
// write fails.
func (s *Subscriber) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Subscriber writer panic", slog.Any("panic", r))
		}
		s.Close()
	}()

	var pingC <-chan time.Time
	if s.ping > 0 {
		t := time.NewTicker(s.ping)
		defer t.Stop()
		pingC = t.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-pingC:
			if err := s.conn.Ping(); err != nil {
				s.fail(err)
				return
			}
		case d := <-s.queue:
			if wait := d.due.Sub(s.now()); wait > 0 {
				if !s.sleep(wait, s.done) {
					return
				}
			}
			if !s.limiter.Allow(s.now()) {
				infra.GlobalMetrics.RecordDrop(string(s.Tier), "rate_limit")
				continue
			}
			if err := s.conn.WriteMessage(d.data); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Subscriber) fail(err error) {
	err = fmt.Errorf("%w: %v", domain.ErrSubscriberDelivery, err)
	s.logger.Info("Dropping subscriber", slog.Any("error", err))
	infra.GlobalMetrics.RecordDrop(string(s.Tier), "write_failed")
}

func sleepUntilDone(d time.Duration, done <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
