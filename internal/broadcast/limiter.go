package broadcast

import "time"

// slidingWindow admits at most limit events in any window-long interval.
// It is owned by a single subscriber writer and is not safe for concurrent use.
type slidingWindow struct {
	limit  int
	window time.Duration
	sent   []time.Time // ring of the last limit admissions
	head   int
	n      int
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &slidingWindow{limit: limit, window: window, sent: make([]time.Time, limit)}
}

// Allow records an admission at now if the window has room.
func (w *slidingWindow) Allow(now time.Time) bool {
	if w == nil {
		return true
	}
	if w.n == w.limit {
		oldest := w.sent[w.head]
		if now.Sub(oldest) < w.window {
			return false
		}
		w.head = (w.head + 1) % w.limit
		w.n--
	}
	w.sent[(w.head+w.n)%w.limit] = now
	w.n++
	return true
}
