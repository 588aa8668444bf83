package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/graph"
	"github.com/matheus3301/rosterd/internal/queue"
	"github.com/matheus3301/rosterd/internal/resolver"
	"github.com/matheus3301/rosterd/internal/roster"
	"github.com/matheus3301/rosterd/internal/status"
	"github.com/matheus3301/rosterd/internal/vocab"
)

// reconcile removes stored accounts that no source observes, rewrites the
// observed ones and sweeps orphaned addresses.
func (e *Engine) reconcile() {
	if e.status != nil && !e.status.TransitionFrom(status.Reconciling, status.Booting, status.Ready, status.Degraded) {
		e.log.Debug("status unchanged on reconcile", zap.String("status", string(e.status.Current())))
	}
	e.reconciling = true
	e.log.Info("reconciliation started")

	runAsync(e, e.resolver.Accounts, func(stored []string, err error) {
		if err != nil {
			e.degrade("reconcile", err)
			return
		}
		accounts := e.src.Accounts()
		observed := make(map[string]bool, len(accounts))
		for _, a := range accounts {
			observed[a.ID] = true
		}
		for _, id := range stored {
			if !observed[id] {
				e.log.Info("removing account no longer observed", zap.String("account", id))
				e.removeAccount(id)
			}
		}
		for _, a := range accounts {
			e.syncAccount(a.ID, roster.AccountAll)
			if e.src.RosterReady(a.ID) || !a.Connected || !a.HasRoster {
				e.fullSync(a.ID)
			}
		}
		u := graph.NewUpdate()
		e.orphanSweep(u)
		e.submit("orphan sweep", u, nil)
	})
}

// syncAccount writes the account entity, its self address and the link from
// the self address to the me-contact.
func (e *Engine) syncAccount(account string, changes roster.AccountChange) {
	a, ok := e.src.Account(account)
	if !ok || changes == 0 {
		return
	}
	acc := vocab.AccountIRI(account)
	self := vocab.SelfAddressIRI(account)
	aff := vocab.AffiliationIRI(self, "")
	now := time.Now()

	u := graph.NewUpdate()
	u.CreateEntity(acc, vocab.IMAccount, vocab.PrivateGraph)
	u.Insert(acc, vocab.IMAccountAddress, self, vocab.PrivateGraph)
	u.Delete(acc, vocab.IMAccountType, graph.Any, vocab.PrivateGraph)
	u.Insert(acc, vocab.IMAccountType, graph.Literal(a.Protocol), vocab.PrivateGraph)
	u.CreateEntity(self, vocab.IMAddress, vocab.DefaultGraph)
	u.Delete(self, vocab.IMID, graph.Any, vocab.DefaultGraph)
	u.Insert(self, vocab.IMID, graph.Literal(a.Address), vocab.DefaultGraph)

	u.CreateEntity(aff, vocab.Affiliation, vocab.PrivateGraph)
	u.Insert(aff, vocab.HasIMAddress, self, vocab.PrivateGraph)
	u.Insert(vocab.MeContact, vocab.HasAffiliation, aff, vocab.PrivateGraph)

	if changes.Has(roster.AccountDisplayName) {
		u.Delete(acc, vocab.IMDisplayName, graph.Any, vocab.PrivateGraph)
		if a.DisplayName != "" {
			u.Insert(acc, vocab.IMDisplayName, graph.Literal(a.DisplayName), vocab.PrivateGraph)
		}
	}
	if changes.Has(roster.AccountEnabled) {
		u.Delete(acc, vocab.IMEnabled, graph.Any, vocab.PrivateGraph)
		u.Insert(acc, vocab.IMEnabled, graph.Bool(a.Enabled), vocab.PrivateGraph)
	}
	if changes.Has(roster.AccountNickname) {
		e.writeNickname(u, self, a.Nickname)
	}
	if changes.Has(roster.AccountPresence) {
		e.writePresence(u, self, a.Presence, now)
	}
	if changes.Has(roster.AccountAvatar) {
		e.writeAvatar(u, self, a.Avatar)
	}
	e.submit("account "+account, u, nil)
}

// fullSync rewrites the stored contacts of an account from the live roster,
// or marks them offline when the roster is unavailable.
func (e *Engine) fullSync(account string) {
	a, ok := e.src.Account(account)
	if !ok {
		return
	}
	e.tracker.Begin(account)
	e.tracker.AddPending(account)
	if !e.src.RosterReady(account) || !a.HasRoster {
		e.syncOffline(account)
		return
	}

	var keys []queue.Key
	for _, c := range e.src.Contacts(account) {
		if c.Visible() {
			keys = append(keys, queue.Key{Account: account, Contact: c.ID})
		}
	}

	type read struct {
		stored []resolver.Resolution
		live   []resolver.Resolution
	}
	runAsync(e, func(ctx context.Context) (read, error) {
		stored, err := e.resolver.AccountContacts(ctx, account)
		if err != nil {
			return read{}, err
		}
		live, err := e.resolver.Resolve(ctx, keys)
		return read{stored: stored, live: live}, err
	}, func(r read, err error) {
		if err != nil {
			e.degrade("full sync "+account, err)
			e.complete(account)
			return
		}
		e.writeFullSync(account, r.stored, r.live)
	})
}

func (e *Engine) writeFullSync(account string, stored, live []resolution) {
	resolved := make(map[string]resolution, len(live))
	for _, r := range live {
		resolved[r.Key.Contact] = r
	}

	// Contacts are read again so that values changed while resolving are
	// written. Contacts added meanwhile arrive through their own event.
	var contacts []roster.Contact
	var res []resolution
	visible := make(map[string]bool)
	for _, c := range e.src.Contacts(account) {
		if !c.Visible() {
			continue
		}
		visible[c.ID] = true
		r, ok := resolved[c.ID]
		if !ok {
			continue
		}
		contacts = append(contacts, c)
		res = append(res, r)
	}
	var stale []resolution
	for _, r := range stored {
		if !visible[r.Key.Contact] {
			stale = append(stale, r)
		}
	}

	acc := vocab.AccountIRI(account)
	u := graph.NewUpdate()
	addr := u.Uniquify("addr")
	u.Filter(graph.Triple(acc, vocab.HasIMContact, addr, vocab.PrivateGraph))
	for _, p := range mutableAddressFields {
		u.Delete(addr, p, graph.Any, vocab.DefaultGraph)
	}
	e.retract(u, stale)

	now := time.Now()
	added := 0
	for _, chunk := range graph.Split(indexes(len(contacts)), e.cfg.BindingLimit) {
		sub := graph.NewUpdate()
		for _, i := range chunk {
			if !res[i].Resolved {
				added++
			}
			e.writeContact(sub, contacts[i], res[i], roster.ContactAll, now)
		}
		u.AppendSubBatch(sub)
	}
	e.tracker.Count(account, added, len(stale))
	e.log.Info("full sync built",
		zap.String("account", account),
		zap.Int("contacts", len(contacts)),
		zap.Int("new", added),
		zap.Int("stale", len(stale)))

	keys := make([]queue.Key, len(contacts))
	for i, c := range contacts {
		keys[i] = queue.Key{Account: account, Contact: c.ID}
	}
	e.submit("full sync "+account, u, func(err error) {
		if err != nil {
			e.requeue(entriesOf(keys, roster.ContactAll))
		}
		e.complete(account)
	})
}

// syncOffline marks every stored contact of the account with unknown
// presence. Other fields are left as they are.
func (e *Engine) syncOffline(account string) {
	acc := vocab.AccountIRI(account)
	u := graph.NewUpdate()
	addr := u.Uniquify("addr")
	u.Filter(graph.Triple(acc, vocab.HasIMContact, addr, vocab.PrivateGraph))
	u.Delete(addr, vocab.IMPresence, graph.Any, vocab.DefaultGraph)
	u.Delete(addr, vocab.PresenceModified, graph.Any, vocab.DefaultGraph)
	u.Insert(addr, vocab.IMPresence, vocab.PresenceUnknown, vocab.DefaultGraph)
	u.Insert(addr, vocab.PresenceModified, graph.Time(time.Now()), vocab.DefaultGraph)
	e.orphanSweep(u)
	e.log.Info("marking contacts offline", zap.String("account", account))
	e.submit("offline "+account, u, func(error) { e.complete(account) })
}

// orphanSweep removes addresses no account links to, then persons this
// engine created that lost their last affiliation.
func (e *Engine) orphanSweep(u *graph.Update) {
	sweep := graph.NewUpdate()
	orphan := sweep.Uniquify("orphan")
	sweep.Filter(
		graph.Triple(orphan, vocab.Type, graph.IRI(vocab.IMAddress), graph.AnyGraph),
		graph.NotExists(graph.Triple(graph.Any, vocab.HasIMContact, orphan, graph.AnyGraph)),
		graph.NotExists(graph.Triple(graph.Any, vocab.IMAccountAddress, orphan, graph.AnyGraph)),
	)
	sweep.DeleteGraph(orphan)
	sweep.DeleteAndUnlink(orphan, vocab.IMAvatar)
	sweep.DeleteEntity(orphan)
	u.AppendSubBatch(sweep)

	persons := graph.NewUpdate()
	person := persons.Uniquify("person")
	persons.Filter(
		graph.Triple(person, vocab.Type, graph.IRI(vocab.PersonContact), graph.AnyGraph),
		graph.Triple(person, vocab.Generator, graph.Literal(e.cfg.Generator), graph.AnyGraph),
		graph.NotExists(graph.Triple(person, vocab.HasAffiliation, graph.Any, graph.AnyGraph)),
	)
	persons.DeleteEntity(person)
	u.AppendSubBatch(persons)
}

// updateRoster queues added contacts in full and retracts removed ones.
func (e *Engine) updateRoster(account string, added, removed []string) {
	for _, id := range added {
		k := queue.Key{Account: account, Contact: id}
		e.hold(k)
		e.enqueue(k, roster.ContactAll)
	}
	if len(removed) == 0 {
		return
	}
	// The removal keeps an active sync open until its batch is applied.
	counted := e.tracker.AddPending(account)
	done := func() {
		if counted {
			e.complete(account)
		}
	}
	keys := make([]queue.Key, len(removed))
	for i, id := range removed {
		keys[i] = queue.Key{Account: account, Contact: id}
		e.queue.Cancel(keys[i])
		e.release(keys[i])
	}
	runAsync(e, func(ctx context.Context) ([]resolution, error) {
		return e.resolver.ResolveOwnership(ctx, keys)
	}, func(res []resolution, err error) {
		if err != nil {
			e.degrade(fmt.Sprintf("remove %d contacts of %s", len(keys), account), err)
			done()
			return
		}
		e.tracker.Count(account, 0, len(res))
		u := graph.NewUpdate()
		e.retract(u, res)
		e.submit("remove contacts "+account, u, func(error) { done() })
	})
}

// updateContact queues the changed fields of a visible contact. A change in
// blocking state is a removal or an addition.
func (e *Engine) updateContact(account, contact string, changes roster.ContactChange) {
	c, ok := e.src.Contact(account, contact)
	if !ok || c.Removed {
		return
	}
	if changes.Has(roster.ContactBlocking) {
		if c.Blocked {
			e.updateRoster(account, nil, []string{contact})
		} else {
			e.updateRoster(account, []string{contact}, nil)
		}
		return
	}
	if c.Blocked {
		return
	}
	e.enqueue(queue.Key{Account: account, Contact: contact}, changes)
}

func (e *Engine) enqueue(k queue.Key, changes roster.ContactChange) {
	if full := e.queue.Enqueue(k, changes&^roster.ContactBlocking); full {
		e.log.Debug("queue full, flushing early", zap.Int("pending", e.queue.Len()))
		e.flush()
	}
}

// flush writes every queued contact. Contacts are resolved in one round
// first; unresolved ones are created in full.
func (e *Engine) flush() {
	var entries []queue.Entry
	for _, entry := range e.queue.Drain() {
		c, ok := e.src.Contact(entry.Key.Account, entry.Key.Contact)
		if !ok || !c.Visible() {
			e.release(entry.Key)
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return
	}
	// Each syncing account keeps its sync open until the flush is applied.
	keys := make([]queue.Key, len(entries))
	var syncing []string
	seen := make(map[string]bool)
	for i, entry := range entries {
		keys[i] = entry.Key
		if acc := entry.Key.Account; !seen[acc] {
			seen[acc] = true
			if e.tracker.AddPending(acc) {
				syncing = append(syncing, acc)
			}
		}
	}
	done := func() {
		for _, acc := range syncing {
			e.complete(acc)
		}
	}
	runAsync(e, func(ctx context.Context) ([]resolution, error) {
		return e.resolver.Resolve(ctx, keys)
	}, func(res []resolution, err error) {
		if err != nil {
			e.degrade(fmt.Sprintf("flush %d contacts", len(keys)), err)
			e.requeue(entries)
			done()
			return
		}
		e.writeFlush(entries, res, done)
	})
}

func (e *Engine) writeFlush(entries []queue.Entry, res []resolution, done func()) {
	now := time.Now()
	u := graph.NewUpdate()
	written := 0
	for _, chunk := range graph.Split(indexes(len(entries)), e.cfg.BindingLimit) {
		sub := graph.NewUpdate()
		for _, i := range chunk {
			k := entries[i].Key
			c, ok := e.src.Contact(k.Account, k.Contact)
			if !ok || !c.Visible() {
				continue
			}
			changes := entries[i].Changes
			if !res[i].Resolved {
				changes = roster.ContactAll
				e.tracker.Count(k.Account, 1, 0)
			}
			e.writeContact(sub, c, res[i], changes, now)
			written++
		}
		u.AppendSubBatch(sub)
	}
	e.log.Debug("flushing contacts", zap.Int("contacts", written))
	e.submit(fmt.Sprintf("flush %d contacts", written), u, func(err error) {
		if err != nil {
			e.requeue(entries)
		} else {
			for _, entry := range entries {
				e.release(entry.Key)
			}
		}
		done()
	})
}

// requeue puts failed entries back once. Entries that already had their
// second chance are dropped.
func (e *Engine) requeue(entries []queue.Entry) {
	for _, d := range e.queue.Requeue(entries) {
		e.log.Warn("dropping contact update after retry",
			zap.String("account", d.Key.Account),
			zap.String("contact", d.Key.Contact),
			zap.Stringer("changes", d.Changes))
		e.release(d.Key)
	}
}

// removeAccount cancels the account's queued work, deletes its private data
// and self address, and retracts every stored contact.
func (e *Engine) removeAccount(account string) {
	e.queue.CancelAccount(account)
	counted := e.tracker.AddPending(account)
	done := func() {
		if counted {
			e.complete(account)
		}
	}
	for k := range e.held {
		if k.Account == account {
			e.release(k)
		}
	}
	runAsync(e, func(ctx context.Context) ([]resolution, error) {
		return e.resolver.AccountContacts(ctx, account)
	}, func(res []resolution, err error) {
		if err != nil {
			e.degrade("remove account "+account, err)
			done()
			return
		}
		e.tracker.Count(account, 0, len(res))
		acc := vocab.AccountIRI(account)
		u := graph.NewUpdate()
		self := u.Uniquify("self")
		u.Filter(graph.Triple(acc, vocab.IMAccountAddress, self, vocab.PrivateGraph))
		u.DeleteAndUnlink(self, vocab.IMAvatar)
		u.DeleteEntity(self)

		me := graph.NewUpdate()
		aff := me.Uniquify("aff")
		me.Filter(graph.Triple(aff, vocab.HasIMAddress, self, vocab.PrivateGraph))
		me.Delete(vocab.MeContact, vocab.HasAffiliation, aff, vocab.PrivateGraph)
		me.DeleteEntity(aff)
		u.MergeOptional(me)

		e.retract(u, res)

		last := graph.NewUpdate()
		last.DeleteEntity(acc)
		u.AppendSubBatch(last)

		e.log.Info("removing account", zap.String("account", account), zap.Int("contacts", len(res)))
		e.submit("remove account "+account, u, func(error) { done() })
	})
}

// retract deletes contacts from the store. Only persons this engine created
// and that have no other address are deleted; any other person just loses
// the contact's partition.
func (e *Engine) retract(u *graph.Update, res []resolution) {
	for _, chunk := range graph.Split(res, e.cfg.BindingLimit) {
		sub := graph.NewUpdate()
		for _, r := range chunk {
			acc := vocab.AccountIRI(r.Key.Account)
			sub.Delete(acc, vocab.HasIMContact, r.Address, vocab.PrivateGraph)
			sub.DeleteAndUnlink(r.Address, vocab.IMAvatar)
			sub.DeleteEntity(r.Address)
			sub.DeleteGraph(vocab.ContactGraph(r.Key.Account, r.Key.Contact))
			if r.FullDelete() {
				sub.DeleteEntity(r.Person)
			} else if r.Resolved {
				e.log.Debug("keeping person of retracted contact",
					zap.String("person", r.Person.Value),
					zap.Stringer("ownership", r.Ownership),
					zap.Int("other_affiliations", r.OtherAffiliations))
			}
		}
		u.AppendSubBatch(sub)
	}
}

type resolution = resolver.Resolution

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func entriesOf(keys []queue.Key, changes roster.ContactChange) []queue.Entry {
	out := make([]queue.Entry, len(keys))
	for i, k := range keys {
		out[i] = queue.Entry{Key: k, Changes: changes}
	}
	return out
}
