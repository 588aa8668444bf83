// Package reconcile keeps the persisted contact graph in step with the live
// roster.
//
// All engine state belongs to one loop goroutine. Store reads and writes run
// in worker goroutines and hand their results back to the loop as
// continuations, so no engine field is ever touched concurrently. Batches are
// applied one at a time in the order they were built.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/avatar"
	"github.com/matheus3301/rosterd/internal/bus"
	"github.com/matheus3301/rosterd/internal/graph"
	"github.com/matheus3301/rosterd/internal/outbox"
	"github.com/matheus3301/rosterd/internal/queue"
	"github.com/matheus3301/rosterd/internal/resolver"
	"github.com/matheus3301/rosterd/internal/roster"
	"github.com/matheus3301/rosterd/internal/status"
	"github.com/matheus3301/rosterd/internal/tracker"
	"github.com/matheus3301/rosterd/internal/vocab"
)

var (
	// ErrStopped is returned by requests made after Stop.
	ErrStopped = errors.New("reconcile: engine stopped")
	// ErrUnknownAccount is returned by Resync for an account no source reports.
	ErrUnknownAccount = errors.New("reconcile: unknown account")
)

// CheckpointPrefix prefixes the sync_state key of each account.
const CheckpointPrefix = "sync:"

// Checkpoints records when an account last finished synchronizing.
type Checkpoints interface {
	SetCheckpoint(ctx context.Context, key, value string) error
}

// Config tunes the engine. Zero values select the package defaults.
type Config struct {
	Debounce       time.Duration
	MaxPending     int
	BindingLimit   int
	Generator      string
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Deps are the collaborators of an Engine. Status, Avatars and Checkpoints
// are optional.
type Deps struct {
	Source      roster.Source
	Store       graph.Store
	Bus         *bus.Bus
	Status      *status.Machine
	Avatars     *avatar.Store
	Checkpoints Checkpoints
	Logger      *zap.Logger
}

// Snapshot describes the engine at one instant.
type Snapshot struct {
	Pending  int
	Inflight int
	Syncs    []tracker.Status
}

type batch struct {
	label string
	u     *graph.Update
	done  func(error)
}

// Engine reconciles roster observations into the graph store.
type Engine struct {
	cfg         Config
	src         roster.Source
	bus         *bus.Bus
	status      *status.Machine
	avatars     *avatar.Store
	checkpoints Checkpoints
	sender      *outbox.Sender
	resolver    *resolver.Resolver
	mapper      *vocab.Mapper
	log         *zap.Logger

	// Owned by the loop goroutine.
	queue       *queue.Queue
	tracker     *tracker.Tracker
	held        map[queue.Key]bool
	inflight    int
	batches     []batch
	applying    bool
	reconciling bool
	waiters     []chan struct{}
	events      <-chan bus.Event

	ctx    context.Context
	cancel context.CancelFunc
	posts  chan func()
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a stopped engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.BindingLimit <= 0 {
		cfg.BindingLimit = graph.DefaultBindingLimit
	}
	if cfg.Generator == "" {
		cfg.Generator = vocab.DefaultGenerator
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		src:         deps.Source,
		bus:         deps.Bus,
		status:      deps.Status,
		avatars:     deps.Avatars,
		checkpoints: deps.Checkpoints,
		sender:      outbox.NewSender(deps.Store, cfg.RetryAttempts, cfg.RetryBaseDelay, log),
		resolver:    resolver.New(deps.Store, cfg.BindingLimit, cfg.Generator, log),
		mapper:      vocab.NewMapper(log),
		log:         log.Named("reconcile"),
		queue:       queue.New(cfg.Debounce, cfg.MaxPending),
		tracker:     tracker.New(log, deps.Bus),
		held:        make(map[queue.Key]bool),
		posts:       make(chan func(), 64),
		done:        make(chan struct{}),
	}
}

// Start subscribes to roster events and runs the loop until ctx is done or
// Stop is called.
func (e *Engine) Start(ctx context.Context) {
	var loopCtx context.Context
	loopCtx, e.cancel = context.WithCancel(ctx)
	// Store work runs to completion even while stopping.
	e.ctx = context.WithoutCancel(ctx)

	var unsub func()
	if e.bus != nil {
		e.events, unsub = e.bus.SubscribeReliable(roster.Namespace, 256)
	} else {
		unsub = func() {}
	}
	go e.run(loopCtx, unsub)
}

// Stop ends the loop and waits for in-flight store work to finish. Queued
// updates that were not flushed yet are discarded.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, unsub func()) {
	defer close(e.done)
	defer unsub()
	e.log.Info("engine started", zap.Int("binding_limit", e.cfg.BindingLimit))
	for {
		select {
		case evt := <-e.events:
			e.handle(evt)
		case fn := <-e.posts:
			fn()
		case <-e.queue.C():
			e.flush()
		case <-ctx.Done():
			if n := e.queue.Len(); n > 0 {
				e.log.Warn("discarding unflushed updates", zap.Int("contacts", n))
			}
			e.queue.Stop()
			e.log.Info("engine stopped")
			return
		}
		e.checkIdle()
	}
}

func (e *Engine) handle(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case roster.AccountEvent:
		switch evt.Kind {
		case roster.EventAccountAdded, roster.EventAccountChanged:
			e.syncAccount(p.Account, p.Changes)
			if p.Changes.Has(roster.AccountRoster) {
				e.rosterStateChanged(p.Account)
			}
		case roster.EventAccountRemoved:
			e.removeAccount(p.Account)
		}
	case roster.RosterEvent:
		switch evt.Kind {
		case roster.EventRosterReady:
			e.fullSync(p.Account)
		case roster.EventRosterUpdated:
			e.updateRoster(p.Account, p.Added, p.Removed)
		}
	case roster.ContactEvent:
		e.updateContact(p.Account, p.Contact, p.Changes)
	default:
		e.log.Debug("ignoring event", zap.String("kind", evt.Kind))
	}
}

// rosterStateChanged handles connectivity changes. A connected account with
// roster support waits for its roster_ready event; anything else syncs
// offline right away.
func (e *Engine) rosterStateChanged(account string) {
	a, ok := e.src.Account(account)
	if !ok {
		return
	}
	if e.src.RosterReady(account) || !a.Connected || !a.HasRoster {
		e.fullSync(account)
	}
}

// post hands fn to the loop. It reports false once the loop has exited.
func (e *Engine) post(fn func()) bool {
	select {
	case e.posts <- fn:
		return true
	case <-e.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case e.posts <- func() { fn(); close(ran) }:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runAsync runs work off the loop and delivers its result to then on the
// loop. The engine counts as busy until then has run.
func runAsync[T any](e *Engine, work func(ctx context.Context) (T, error), then func(T, error)) {
	e.inflight++
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		v, err := work(e.ctx)
		e.post(func() {
			e.inflight--
			then(v, err)
		})
	}()
}

// submit schedules u for application after every batch submitted before it.
// done runs on the loop with the final outcome.
func (e *Engine) submit(label string, u *graph.Update, done func(error)) {
	if u.Empty() {
		if done != nil {
			done(nil)
		}
		return
	}
	e.inflight++
	e.batches = append(e.batches, batch{label: label, u: u, done: done})
	e.nextBatch()
}

func (e *Engine) nextBatch() {
	if e.applying || len(e.batches) == 0 {
		return
	}
	b := e.batches[0]
	e.batches = e.batches[1:]
	e.applying = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.sender.Send(e.ctx, b.label, b.u)
		e.post(func() {
			e.applying = false
			e.inflight--
			if err != nil {
				e.degrade(b.label, err)
			} else {
				e.restore()
			}
			if b.done != nil {
				b.done(err)
			}
			e.nextBatch()
		})
	}()
}

func (e *Engine) degrade(label string, err error) {
	e.log.Error("batch dropped", zap.String("batch", label), zap.Error(err))
	if e.status != nil && e.status.TransitionFrom(status.Degraded, status.Ready, status.Reconciling) {
		e.log.Warn("engine degraded")
	}
}

func (e *Engine) restore() {
	if e.status == nil || e.reconciling {
		return
	}
	if e.status.TransitionFrom(status.Ready, status.Degraded) {
		e.log.Info("engine recovered")
	}
}

func (e *Engine) isIdle() bool {
	return e.inflight == 0 && e.queue.Len() == 0 && len(e.events) == 0
}

func (e *Engine) checkIdle() {
	if !e.isIdle() {
		return
	}
	if e.reconciling {
		e.reconciling = false
		if e.status != nil {
			e.status.TransitionFrom(status.Ready, status.Reconciling)
		}
		e.log.Info("reconciliation finished")
	}
	for _, ch := range e.waiters {
		close(ch)
	}
	e.waiters = nil
}

// hold keeps the account's sync open until the contact has been flushed.
func (e *Engine) hold(k queue.Key) {
	if e.held[k] {
		return
	}
	if e.tracker.AddPending(k.Account) {
		e.held[k] = true
	}
}

func (e *Engine) release(k queue.Key) {
	if !e.held[k] {
		return
	}
	delete(e.held, k)
	e.complete(k.Account)
}

// complete finishes one unit of sync work and records a checkpoint when the
// account goes idle.
func (e *Engine) complete(account string) {
	if !e.tracker.Active(account) {
		return
	}
	e.tracker.Complete(account)
	if e.tracker.Active(account) || e.checkpoints == nil {
		return
	}
	at := time.Now().UTC().Format(time.RFC3339Nano)
	runAsync(e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.checkpoints.SetCheckpoint(ctx, CheckpointPrefix+account, at)
	}, func(_ struct{}, err error) {
		if err != nil {
			e.log.Warn("failed to record sync checkpoint", zap.String("account", account), zap.Error(err))
		}
	})
}

// Reconcile runs the startup reconciliation pass. The daemon status moves
// to Ready once the pass and everything it scheduled has been applied.
func (e *Engine) Reconcile(ctx context.Context) error {
	return e.call(ctx, e.reconcile)
}

// Flush applies every queued update now instead of waiting for the debounce
// timer.
func (e *Engine) Flush(ctx context.Context) error {
	return e.call(ctx, e.flush)
}

// Resync rewrites one account from the live roster, or runs a full
// reconciliation when account is empty.
func (e *Engine) Resync(ctx context.Context, account string) error {
	var err error
	callErr := e.call(ctx, func() {
		if account == "" {
			e.reconcile()
			return
		}
		if _, ok := e.src.Account(account); !ok {
			err = ErrUnknownAccount
			return
		}
		e.syncAccount(account, roster.AccountAll)
		e.fullSync(account)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// SyncAccount writes the given account fields.
func (e *Engine) SyncAccount(ctx context.Context, account string, changes roster.AccountChange) error {
	return e.call(ctx, func() { e.syncAccount(account, changes) })
}

// FullSync rewrites every contact of an account.
func (e *Engine) FullSync(ctx context.Context, account string) error {
	return e.call(ctx, func() { e.fullSync(account) })
}

// UpdateRoster records contacts added to and removed from a roster.
func (e *Engine) UpdateRoster(ctx context.Context, account string, added, removed []string) error {
	return e.call(ctx, func() { e.updateRoster(account, added, removed) })
}

// UpdateContact queues changed fields of one contact.
func (e *Engine) UpdateContact(ctx context.Context, account, contact string, changes roster.ContactChange) error {
	return e.call(ctx, func() { e.updateContact(account, contact, changes) })
}

// RemoveAccount deletes an account and retracts its contacts.
func (e *Engine) RemoveAccount(ctx context.Context, account string) error {
	return e.call(ctx, func() { e.removeAccount(account) })
}

// Snapshot returns the queue depth, outstanding store work and live syncs.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := e.call(ctx, func() {
		s = Snapshot{Pending: e.queue.Len(), Inflight: e.inflight, Syncs: e.tracker.Snapshot()}
	})
	return s, err
}

// WaitIdle blocks until no update is queued, no store work is outstanding
// and no roster event is waiting.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ch := make(chan struct{})
	if err := e.call(ctx, func() {
		e.waiters = append(e.waiters, ch)
		e.checkIdle()
	}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
