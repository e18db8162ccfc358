package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"whale_go/internal/event"
	"whale_go/internal/infra"
)

// relayBatch caps how many records one flush sends.
const relayBatch = 256

var errStopFlush = errors.New("stop flush")

// Exporter implements event.Sink by appending to the outbox; Relay drains the
// outbox to the publisher in order.
type Exporter struct {
	outbox    *Outbox
	publisher Publisher
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewExporter wires an outbox to a publisher.
func NewExporter(outbox *Outbox, publisher Publisher, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Exporter{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		timeout:   5 * time.Second,
		logger:    slog.Default().With(slog.String("module", "export")),
		now:       time.Now,
	}
}

// Publish stores the encoded event. Only an outbox failure is reported.
func (e *Exporter) Publish(_ context.Context, ev *event.PublishEvent) error {
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("export encode: %w", err)
	}
	if _, err := e.outbox.Append([]byte(ev.Payload.OrderHash), data); err != nil {
		infra.GlobalMetrics.RecordError("export")
		return fmt.Errorf("export append: %w", err)
	}
	return nil
}

// Relay flushes the outbox every interval until ctx is done.
func (e *Exporter) Relay(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Flush(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("Export relay failed", slog.Any("error", err))
			}
		}
	}
}

// Flush sends pending records in sequence order and stops at the first failure
// so that ordering per key is kept. It returns how many were acknowledged.
func (e *Exporter) Flush(ctx context.Context) (int, error) {
	sent := 0
	var sendErr error
	err := e.outbox.ScanByState(relayBatch, func(rec Record) error {
		if err := e.outbox.Mark(rec, StateSent, rec.Retries, e.now()); err != nil {
			return err
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err := e.publisher.Send(sendCtx, rec.Key, rec.Payload)
		cancel()
		if err != nil {
			infra.GlobalMetrics.RecordError("export")
			if markErr := e.outbox.Mark(rec, StateFailed, rec.Retries+1, e.now()); markErr != nil {
				return markErr
			}
			sendErr = fmt.Errorf("send record %d: %w", rec.Seq, err)
			return errStopFlush
		}

		// acknowledged records are removed
		if err := e.outbox.Delete(rec.Seq); err != nil {
			return err
		}
		sent++
		return nil
	}, StateNew, StateSent, StateFailed)

	if errors.Is(err, errStopFlush) {
		return sent, sendErr
	}
	return sent, err
}

// Close closes the publisher and the outbox.
func (e *Exporter) Close() error {
	return errors.Join(e.publisher.Close(), e.outbox.Close())
}

// Pending counts records still waiting for the broker.
func (e *Exporter) Pending() (int, error) {
	return e.outbox.Pending()
}
