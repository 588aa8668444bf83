// Package tracker follows per-account synchronization lifecycles and
// announces their start and end on the bus.
package tracker

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/bus"
)

// Event kinds.
const (
	Namespace    = "sync."
	EventStarted = "sync.started"
	EventEnded   = "sync.ended"
)

// Started is the payload of sync.started.
type Started struct {
	Account string
}

// Ended is the payload of sync.ended.
type Ended struct {
	Account string
	Added   int
	Removed int
}

// Status is a snapshot of one live counter.
type Status struct {
	Account string
	Pending int
	Added   int
	Removed int
	Since   time.Time
}

type counter struct {
	pending int
	added   int
	removed int
	since   time.Time
}

// Tracker counts outstanding sync work per account. An account is active
// from Begin until a Complete brings its pending count back to zero. Work
// that overlaps an active sync joins it instead of starting another.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	log      *zap.Logger
	bus      *bus.Bus
	counters map[string]*counter
}

// New creates an idle tracker.
func New(log *zap.Logger, b *bus.Bus) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		log:      log.Named("tracker"),
		bus:      b,
		counters: make(map[string]*counter),
	}
}

// Begin activates the account's counter, publishing sync.started if the
// account was idle. It registers no work: every request that must finish
// before the sync ends calls AddPending. Begin on an active account is a
// no-op.
func (t *Tracker) Begin(account string) {
	if _, ok := t.counters[account]; ok {
		return
	}
	t.counters[account] = &counter{since: time.Now()}
	t.log.Info("sync started", zap.String("account", account))
	t.publish(EventStarted, Started{Account: account})
}

// AddPending registers one more unit of work if the account is syncing.
func (t *Tracker) AddPending(account string) bool {
	c, ok := t.counters[account]
	if !ok {
		return false
	}
	c.pending++
	return true
}

// Count adds contact totals to an active sync.
func (t *Tracker) Count(account string, added, removed int) {
	if c, ok := t.counters[account]; ok {
		c.added += added
		c.removed += removed
	}
}

// Complete finishes one unit of work. When none remain the account goes
// idle and sync.ended is published.
func (t *Tracker) Complete(account string) {
	c, ok := t.counters[account]
	if !ok {
		return
	}
	c.pending--
	if c.pending > 0 {
		return
	}
	delete(t.counters, account)
	t.log.Info("sync ended",
		zap.String("account", account),
		zap.Int("added", c.added),
		zap.Int("removed", c.removed),
		zap.Duration("took", time.Since(c.since)))
	t.publish(EventEnded, Ended{Account: account, Added: c.added, Removed: c.removed})
}

// Active reports whether account has a live counter.
func (t *Tracker) Active(account string) bool {
	_, ok := t.counters[account]
	return ok
}

// Snapshot returns every live counter sorted by account.
func (t *Tracker) Snapshot() []Status {
	out := make([]Status, 0, len(t.counters))
	for acc, c := range t.counters {
		out = append(out, Status{Account: acc, Pending: c.pending, Added: c.added, Removed: c.removed, Since: c.since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

func (t *Tracker) publish(kind string, payload any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.NewEvent(kind, payload))
}
