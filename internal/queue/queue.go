// Package queue coalesces field-level contact change notifications into
// debounced flushes.
//
// A Queue is not safe for concurrent use: it belongs to the goroutine that
// selects on C().
package queue

import (
	"time"

	"github.com/matheus3301/rosterd/internal/roster"
)

const (
	DefaultInterval   = time.Second
	DefaultMaxPending = 2000
)

// Key identifies one contact.
type Key struct {
	Account string
	Contact string
}

// Entry is a pending update: the union of every change kind enqueued for
// Key since the last flush.
type Entry struct {
	Key     Key
	Changes roster.ContactChange
	// Requeued is set on entries put back after a failed flush.
	Requeued bool
}

// Queue merges updates per contact and arms a one-shot timer on the first
// enqueue after a flush.
type Queue struct {
	interval   time.Duration
	maxPending int

	entries map[Key]*Entry
	order   []Key
	timer   *time.Timer
}

// New creates a queue. Non-positive arguments select the defaults.
func New(interval time.Duration, maxPending int) *Queue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Queue{
		interval:   interval,
		maxPending: maxPending,
		entries:    make(map[Key]*Entry),
	}
}

// Enqueue merges changes into the pending entry for k. It reports true once
// the queue holds MaxPending entries; callers flush immediately then.
func (q *Queue) Enqueue(k Key, changes roster.ContactChange) (full bool) {
	if changes == 0 {
		return len(q.entries) >= q.maxPending
	}
	if e, ok := q.entries[k]; ok {
		e.Changes |= changes
	} else {
		q.entries[k] = &Entry{Key: k, Changes: changes}
		q.order = append(q.order, k)
	}
	q.arm()
	return len(q.entries) >= q.maxPending
}

// Requeue puts entries from a failed flush back once. Entries that were
// already requeued are returned as dropped.
func (q *Queue) Requeue(entries []Entry) (dropped []Entry) {
	for _, e := range entries {
		if e.Requeued {
			dropped = append(dropped, e)
			continue
		}
		if cur, ok := q.entries[e.Key]; ok {
			cur.Changes |= e.Changes
			cur.Requeued = true
			continue
		}
		q.entries[e.Key] = &Entry{Key: e.Key, Changes: e.Changes, Requeued: true}
		q.order = append(q.order, e.Key)
	}
	if len(q.entries) > 0 {
		q.arm()
	}
	return dropped
}

func (q *Queue) arm() {
	if q.timer == nil {
		q.timer = time.NewTimer(q.interval)
	}
}

func (q *Queue) disarm() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// Cancel drops the pending entry for k.
func (q *Queue) Cancel(k Key) bool {
	if _, ok := q.entries[k]; !ok {
		return false
	}
	delete(q.entries, k)
	q.compact()
	return true
}

// CancelAccount drops every pending entry of an account.
func (q *Queue) CancelAccount(account string) int {
	n := 0
	for k := range q.entries {
		if k.Account == account {
			delete(q.entries, k)
			n++
		}
	}
	if n > 0 {
		q.compact()
	}
	return n
}

func (q *Queue) compact() {
	kept := q.order[:0]
	for _, k := range q.order {
		if _, ok := q.entries[k]; ok {
			kept = append(kept, k)
		}
	}
	q.order = kept
	if len(q.entries) == 0 {
		q.disarm()
	}
}

// C returns the debounce timer channel, or nil while nothing is pending.
// A nil channel blocks forever in a select.
func (q *Queue) C() <-chan time.Time {
	if q.timer == nil {
		return nil
	}
	return q.timer.C
}

// Drain empties the queue and returns its entries in first-enqueue order.
func (q *Queue) Drain() []Entry {
	q.disarm()
	if len(q.order) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(q.order))
	for _, k := range q.order {
		out = append(out, *q.entries[k])
	}
	q.entries = make(map[Key]*Entry)
	q.order = nil
	return out
}

// Pending returns the change mask queued for k.
func (q *Queue) Pending(k Key) (roster.ContactChange, bool) {
	e, ok := q.entries[k]
	if !ok {
		return 0, false
	}
	return e.Changes, true
}

// Len returns the number of pending contacts.
func (q *Queue) Len() int { return len(q.entries) }

// Stop disarms the timer. Pending entries are kept.
func (q *Queue) Stop() { q.disarm() }
