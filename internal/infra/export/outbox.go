// Package export durably queues publish events in a pebble outbox and relays
// them to Kafka.
package export

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// State of one outbox record.
type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Record is one queued event.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Key         []byte
	Payload     []byte
}

const (
	keyPrefix = "event/"
	headerLen = 1 + 4 + 8 + 2
)

var errCorruptRecord = errors.New("corrupt outbox record")

// binary encoding: [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	copy(buf[headerLen:], r.Key)
	copy(buf[headerLen+len(r.Key):], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errCorruptRecord
	}
	keyLen := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < headerLen+keyLen {
		return Record{}, errCorruptRecord
	}
	// pebble reuses the value buffer
	body := bytes.Clone(b[headerLen:])
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         body[:keyLen],
		Payload:     body[keyLen:],
	}, nil
}

// Outbox is a durable FIFO of events awaiting export.
type Outbox struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

// OpenOutbox opens or creates the outbox in dir and resumes its sequence.
func OpenOutbox(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	o := &Outbox{db: db}
	if err := o.loadSequence(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) loadSequence() error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	if iter.Last() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		o.seq = seq
	}
	return iter.Error()
}

// Close flushes and closes the store.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Append stores a NEW record and returns its sequence number.
func (o *Outbox) Append(key, payload []byte) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq := o.seq + 1
	rec := Record{State: StateNew, Key: key, Payload: payload}
	if err := o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync); err != nil {
		return 0, err
	}
	o.seq = seq
	return seq, nil
}

// Mark rewrites a record's state and retry count.
func (o *Outbox) Mark(rec Record, state State, retries uint32, at time.Time) error {
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = at.UnixNano()
	return o.db.Set(keyFor(rec.Seq), encodeRecord(rec), pebble.Sync)
}

// Delete removes an acknowledged record.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

// Get returns one record.
func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// ScanByState visits records in sequence order whose state is one of states,
// stopping after limit records (0 = no limit) or when fn returns an error.
func (o *Outbox) ScanByState(limit int, fn func(rec Record) error, states ...State) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	visited := 0
	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return fmt.Errorf("record %d: %w", seq, err)
		}
		if !hasState(rec.State, states) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
		visited++
		if limit > 0 && visited >= limit {
			break
		}
	}
	return iter.Error()
}

// Pending counts records not yet acknowledged.
func (o *Outbox) Pending() (int, error) {
	n := 0
	err := o.ScanByState(0, func(Record) error {
		n++
		return nil
	}, StateNew, StateSent, StateFailed)
	return n, err
}

func hasState(s State, states []State) bool {
	if len(states) == 0 {
		return true
	}
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf(keyPrefix+"%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, err
}
