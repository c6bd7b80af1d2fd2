package server

import (
	"bytes"
	"sync"
	"time"

	"github.com/tonylturner/osydiag/internal/diag"
)

// eventTick is the resolution of the rail scheduler.
const eventTick = 5 * time.Millisecond

// DefaultRailRatesMs are the node's slow, medium and fast rail intervals
// until a tester changes them.
var DefaultRailRatesMs = [diag.RailCount]uint16{1000, 500, 100}

type subscription struct {
	id           diag.ElementID
	rail         uint8
	changeDriven bool
	threshold    uint32

	last []byte
	sent bool
}

// due reports whether value must be pushed and remembers it if so.
func (sub *subscription) due(value []byte) bool {
	if !sub.changeDriven || !sub.sent {
		sub.last = value
		sub.sent = true
		return true
	}
	if !exceeds(sub.last, value, sub.threshold) {
		return false
	}
	sub.last = value
	return true
}

// exceeds reports whether value differs from last by at least threshold.
// Values wider than 8 bytes are compared for any change.
func exceeds(last, value []byte, threshold uint32) bool {
	if bytes.Equal(last, value) {
		return false
	}
	if len(value) > 8 || len(last) != len(value) {
		return true
	}
	a, b := beUint(last), beUint(value)
	diff := b - a
	if a > b {
		diff = a - b
	}
	return diff >= uint64(threshold)
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// rails schedules the event-driven transmissions of one tester session.
type rails struct {
	mu        sync.Mutex
	intervals [diag.RailCount]time.Duration
	next      [diag.RailCount]time.Time
	subs      []*subscription
}

func newRails() *rails {
	r := &rails{}
	for i, ms := range DefaultRailRatesMs {
		r.intervals[i] = time.Duration(ms) * time.Millisecond
	}
	return r
}

func (r *rails) setRate(rail uint8, ms uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals[rail] = time.Duration(ms) * time.Millisecond
	r.next[rail] = time.Time{}
}

// add registers sub, replacing an earlier subscription of the same element.
func (r *rails) add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.subs {
		if old.id == sub.id {
			r.subs[i] = sub
			return
		}
	}
	r.subs = append(r.subs, sub)
}

func (r *rails) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = nil
}

func (r *rails) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// due returns the subscriptions of every rail whose interval elapsed at now.
func (r *rails) due(now time.Time) []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription
	for rail := uint8(0); rail < diag.RailCount; rail++ {
		if now.Before(r.next[rail]) {
			continue
		}
		r.next[rail] = now.Add(r.intervals[rail])
		for _, sub := range r.subs {
			if sub.rail == rail {
				out = append(out, sub)
			}
		}
	}
	return out
}
