package dispatch

import (
	"sync"
	"time"

	"maunium.net/go/mautrix/id"
)

const (
	DefaultDedupeTTL     = 20 * time.Minute
	DefaultDedupeMaxSize = 5000
)

type seenEvent struct {
	id id.EventID
	at time.Time
}

// EventDedupe remembers recently handled event IDs so redelivered events are
// processed once. Entries expire after the TTL; the oldest is evicted when full.
type EventDedupe struct {
	mu      sync.Mutex
	seen    map[id.EventID]time.Time
	order   []seenEvent
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

func NewEventDedupe(ttl time.Duration, maxSize int) *EventDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultDedupeMaxSize
	}
	return &EventDedupe{
		seen:    make(map[id.EventID]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen records evtID and reports whether it was already recorded within the TTL.
func (d *EventDedupe) Seen(evtID id.EventID) bool {
	if evtID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.expire(now)
	if _, ok := d.seen[evtID]; ok {
		return true
	}
	d.seen[evtID] = now
	d.order = append(d.order, seenEvent{id: evtID, at: now})
	for len(d.order) > d.maxSize {
		delete(d.seen, d.order[0].id)
		d.order = d.order[1:]
	}
	return false
}

func (d *EventDedupe) expire(now time.Time) {
	cutoff := now.Add(-d.ttl)
	n := 0
	for n < len(d.order) && !d.order[n].at.After(cutoff) {
		delete(d.seen, d.order[n].id)
		n++
	}
	if n > 0 {
		d.order = d.order[n:]
	}
}

func (d *EventDedupe) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
