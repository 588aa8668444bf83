package roster

import (
	"sort"
	"sync"

	"github.com/matheus3301/rosterd/internal/bus"
)

type accountState struct {
	account  Account
	ready    bool
	contacts map[string]Contact
}

// Registry is the in-memory live roster. Sources feed it snapshots and
// updates; it diffs them and publishes roster events on the bus. Events are
// published after the lock is released, so subscribers may read the
// registry while handling them.
type Registry struct {
	mu       sync.RWMutex
	bus      *bus.Bus
	accounts map[string]*accountState
}

var _ Source = (*Registry)(nil)

// NewRegistry creates an empty registry publishing on b.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		bus:      b,
		accounts: make(map[string]*accountState),
	}
}

func (r *Registry) publish(events []bus.Event) {
	if r.bus == nil {
		return
	}
	for _, evt := range events {
		r.bus.Publish(evt)
	}
}

func event(kind string, payload any) bus.Event {
	return bus.NewEvent(kind, payload)
}

// Accounts returns all known accounts sorted by ID.
func (r *Registry) Accounts() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0, len(r.accounts))
	for _, st := range r.accounts {
		out = append(out, st.account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Account returns one account.
func (r *Registry) Account(id string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.accounts[id]
	if !ok {
		return Account{}, false
	}
	return st.account, true
}

// Contacts returns the account's roster sorted by contact ID.
func (r *Registry) Contacts(account string) []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.accounts[account]
	if !ok {
		return nil
	}
	out := make([]Contact, 0, len(st.contacts))
	for _, c := range st.contacts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contact returns one contact of an account's roster.
func (r *Registry) Contact(account, id string) (Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.accounts[account]
	if !ok {
		return Contact{}, false
	}
	c, ok := st.contacts[id]
	if !ok {
		return Contact{}, false
	}
	return c.Clone(), true
}

// RosterReady reports whether a roster snapshot was received since the
// account last connected.
func (r *Registry) RosterReady(account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.accounts[account]
	return ok && st.ready
}

// UpsertAccount adds an account or records new values for it. Losing the
// connection invalidates the roster until the next SetRoster.
func (r *Registry) UpsertAccount(a Account) {
	r.mu.Lock()
	st, ok := r.accounts[a.ID]
	var events []bus.Event
	if !ok {
		r.accounts[a.ID] = &accountState{account: a, contacts: make(map[string]Contact)}
		events = append(events, event(EventAccountAdded, AccountEvent{Account: a.ID, Changes: AccountAll}))
	} else {
		changes := DiffAccount(st.account, a)
		st.account = a
		if !a.Connected {
			st.ready = false
		}
		if changes != 0 {
			events = append(events, event(EventAccountChanged, AccountEvent{Account: a.ID, Changes: changes}))
		}
	}
	r.mu.Unlock()
	r.publish(events)
}

// RemoveAccount forgets an account and its roster.
func (r *Registry) RemoveAccount(id string) {
	r.mu.Lock()
	_, ok := r.accounts[id]
	delete(r.accounts, id)
	r.mu.Unlock()
	if ok {
		r.publish([]bus.Event{event(EventAccountRemoved, AccountEvent{Account: id, Changes: AccountAll})})
	}
}

// SetRoster replaces the account's roster with a full snapshot. The first
// snapshot after connecting publishes roster_ready; later ones publish the
// difference as roster_updated and contact_changed events.
func (r *Registry) SetRoster(account string, contacts []Contact) {
	r.mu.Lock()
	st, ok := r.accounts[account]
	if !ok {
		r.mu.Unlock()
		return
	}

	next := make(map[string]Contact, len(contacts))
	for _, c := range contacts {
		c = c.Clone()
		c.Account = account
		next[c.ID] = c
	}

	var events []bus.Event
	if !st.ready {
		st.ready = true
		st.contacts = next
		var ids []string
		for id, c := range next {
			if c.Visible() {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		events = append(events, event(EventRosterReady, RosterEvent{Account: account, Added: ids}))
		r.mu.Unlock()
		r.publish(events)
		return
	}

	var added, removed []string
	var changed []ContactEvent
	for id, c := range next {
		old, existed := st.contacts[id]
		switch {
		case !existed || !old.Visible():
			if c.Visible() {
				added = append(added, id)
			}
		case !c.Visible():
			removed = append(removed, id)
		default:
			if mask := DiffContact(old, c); mask != 0 {
				changed = append(changed, ContactEvent{Account: account, Contact: id, Changes: mask})
			}
		}
	}
	for id, old := range st.contacts {
		if _, still := next[id]; !still && old.Visible() {
			removed = append(removed, id)
		}
	}
	st.contacts = next
	r.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)
	if len(added) > 0 || len(removed) > 0 {
		events = append(events, event(EventRosterUpdated, RosterEvent{Account: account, Added: added, Removed: removed}))
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Contact < changed[j].Contact })
	for _, ce := range changed {
		events = append(events, event(EventContactChanged, ce))
	}
	r.publish(events)
}

// UpdateContact records new values for one contact. A contact that becomes
// visible or invisible is reported as a roster change.
func (r *Registry) UpdateContact(c Contact) {
	r.mu.Lock()
	st, ok := r.accounts[c.Account]
	if !ok {
		r.mu.Unlock()
		return
	}
	c = c.Clone()
	old, existed := st.contacts[c.ID]
	st.contacts[c.ID] = c
	ready := st.ready
	r.mu.Unlock()

	if !ready {
		return
	}
	var evt bus.Event
	switch {
	case (!existed || !old.Visible()) && c.Visible():
		evt = event(EventRosterUpdated, RosterEvent{Account: c.Account, Added: []string{c.ID}})
	case existed && old.Visible() && !c.Visible():
		evt = event(EventRosterUpdated, RosterEvent{Account: c.Account, Removed: []string{c.ID}})
	case existed && c.Visible():
		mask := DiffContact(old, c)
		if mask == 0 {
			return
		}
		evt = event(EventContactChanged, ContactEvent{Account: c.Account, Contact: c.ID, Changes: mask})
	default:
		return
	}
	r.publish([]bus.Event{evt})
}

// RemoveContact drops a contact from the account's roster.
func (r *Registry) RemoveContact(account, id string) {
	r.mu.Lock()
	st, ok := r.accounts[account]
	if !ok {
		r.mu.Unlock()
		return
	}
	old, existed := st.contacts[id]
	delete(st.contacts, id)
	ready := st.ready
	r.mu.Unlock()

	if ready && existed && old.Visible() {
		r.publish([]bus.Event{event(EventRosterUpdated, RosterEvent{Account: account, Removed: []string{id}})})
	}
}
