package exchange

import (
	"sync"

	"livermore/internal/model"
)

// bucketTracker adapts venues whose streams only send rolling updates of the
// current interval (coinbase candles channel, kraken ohlc). It holds the
// forming candle per series and yields it as closed when an update for a
// newer bucket arrives.
type bucketTracker struct {
	mu      sync.Mutex
	forming map[string]model.Candle
}

func newBucketTracker() *bucketTracker {
	return &bucketTracker{forming: make(map[string]model.Candle)}
}

// observe folds one update in and returns the events to emit: the previous
// bucket as a close (when rolled over) and the update itself as a forming
// candle.
func (b *bucketTracker) observe(c model.Candle) []Event {
	key := c.Key()

	b.mu.Lock()
	defer b.mu.Unlock()

	var events []Event
	prev, ok := b.forming[key]
	switch {
	case ok && c.TimestampMS > prev.TimestampMS:
		closed := prev
		closed.Closed = true
		events = append(events, Event{Type: EventCandleClose, Candle: &closed})
	case ok && c.TimestampMS < prev.TimestampMS:
		// Late update for an already-rolled bucket: forward as an amend and
		// let the versioned writer arbitrate by sequence.
		late := c
		late.Closed = true
		b.forming[key] = prev
		return []Event{{Type: EventCandleUpdate, Candle: &late}}
	}

	b.forming[key] = c
	forming := c
	events = append(events, Event{Type: EventCandleUpdate, Candle: &forming})
	return events
}
