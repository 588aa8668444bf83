// Package resolver maps live contact identities onto persisted person
// entities. It only reads from the store.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/graph"
	"github.com/matheus3301/rosterd/internal/queue"
	"github.com/matheus3301/rosterd/internal/vocab"
)

// Resolution is the outcome of resolving one contact.
type Resolution struct {
	Key      queue.Key
	Address  graph.Term
	Person   graph.Term
	Resolved bool

	// Filled by ResolveOwnership. OtherAffiliations counts the person's
	// affiliation links stored outside this contact's partition, whoever
	// wrote them.
	Ownership         vocab.Ownership
	Label             string
	OtherAffiliations int
}

// FullDelete reports whether the person may be deleted together with the
// address: only persons this engine created that have no affiliation
// besides this contact's own.
func (r Resolution) FullDelete() bool {
	return r.Resolved && r.Ownership == vocab.Owned && r.OtherAffiliations == 0
}

// Resolver runs identity selections against a graph store.
type Resolver struct {
	store     graph.Store
	limit     int
	generator string
	log       *zap.Logger
}

// New creates a resolver. limit is the store's binding limit; generator is
// the ownership marker value this engine writes.
func New(store graph.Store, limit int, generator string, log *zap.Logger) *Resolver {
	if limit <= 0 {
		limit = graph.DefaultBindingLimit
	}
	if generator == "" {
		generator = vocab.DefaultGenerator
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, limit: limit, generator: generator, log: log.Named("resolver")}
}

var (
	varAff        = graph.Var("aff")
	varAddr       = graph.Var("addr")
	varPerson     = graph.Var("person")
	varGenerator  = graph.Var("gen")
	varLabel      = graph.Var("label")
	varOther      = graph.Var("other")
	varOtherGraph = graph.Var("otherGraph")
)

func identityPatterns(addrs []graph.Term) []graph.Pattern {
	return []graph.Pattern{
		graph.Triple(varAff, vocab.HasIMAddress, varAddr, graph.AnyGraph),
		graph.Triple(varPerson, vocab.HasAffiliation, varAff, graph.AnyGraph),
		graph.In(varAddr, addrs...),
	}
}

func addresses(keys []queue.Key) []graph.Term {
	out := make([]graph.Term, len(keys))
	for i, k := range keys {
		out[i] = vocab.AddressIRI(k.Account, k.Contact)
	}
	return out
}

// Resolve finds the person behind each key. Keys are resolved in chunks so
// that no selection exceeds the binding limit; results keep the input order.
// A key with no stored person is returned unresolved.
func (r *Resolver) Resolve(ctx context.Context, keys []queue.Key) ([]Resolution, error) {
	return r.resolve(ctx, keys, false)
}

// ResolveOwnership is Resolve plus the data needed to decide between a
// scoped and a full deletion.
func (r *Resolver) ResolveOwnership(ctx context.Context, keys []queue.Key) ([]Resolution, error) {
	return r.resolve(ctx, keys, true)
}

type candidate struct {
	label  string
	gen    graph.Term
	others map[string]struct{}
}

func (r *Resolver) resolve(ctx context.Context, keys []queue.Key, ownership bool) ([]Resolution, error) {
	out := make([]Resolution, len(keys))
	index := make(map[string]int, len(keys))
	scopes := make(map[string]string, len(keys))
	for i, k := range keys {
		addr := vocab.AddressIRI(k.Account, k.Contact)
		out[i] = Resolution{Key: k, Address: addr}
		index[addr.Value] = i
		scopes[addr.Value] = vocab.ContactGraph(k.Account, k.Contact).Value
	}

	// address -> person -> details
	found := make(map[string]map[string]*candidate)
	for _, chunk := range graph.Split(keys, r.limit) {
		q := &graph.Query{Where: identityPatterns(addresses(chunk))}
		if ownership {
			q.Optionals = [][]graph.Pattern{
				{graph.Triple(varPerson, vocab.Generator, varGenerator, graph.AnyGraph)},
				{graph.Triple(varAff, vocab.Label, varLabel, graph.AnyGraph)},
				{graph.Triple(varPerson, vocab.HasAffiliation, varOther, varOtherGraph)},
			}
		}
		rows, err := r.store.Select(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("resolve %d contacts: %w", len(chunk), err)
		}
		for _, row := range rows {
			addr, person := row[varAddr.Value].Value, row[varPerson.Value].Value
			persons, ok := found[addr]
			if !ok {
				persons = make(map[string]*candidate)
				found[addr] = persons
			}
			c, ok := persons[person]
			if !ok {
				c = &candidate{others: make(map[string]struct{})}
				persons[person] = c
			}
			if l, ok := row[varLabel.Value]; ok {
				c.label = l.Value
			}
			if g, ok := row[varGenerator.Value]; ok && (c.gen.IsZero() || g.Value == r.generator) {
				c.gen = g
			}
			if o, ok := row[varOther.Value]; ok {
				if g := row[varOtherGraph.Value]; g.Value != scopes[addr] {
					c.others[o.Value] = struct{}{}
				}
			}
		}
	}

	resolved := 0
	for addr, persons := range found {
		i, ok := index[addr]
		if !ok {
			continue
		}
		res := &out[i]
		person := pickPerson(vocab.PersonIRI(res.Key.Account, res.Key.Contact).Value, persons)
		c := persons[person]
		res.Person = graph.IRI(person)
		res.Resolved = true
		res.Ownership = vocab.OwnershipOf(c.gen, r.generator)
		res.Label = c.label
		res.OtherAffiliations = len(c.others)
		resolved++
	}
	r.log.Debug("resolved contacts",
		zap.Int("requested", len(keys)),
		zap.Int("resolved", resolved),
		zap.Bool("ownership", ownership))
	return out, nil
}

// pickPerson prefers the person this engine would have created for the
// contact, then the lowest IRI, so repeated rounds agree.
func pickPerson(own string, persons map[string]*candidate) string {
	if _, ok := persons[own]; ok {
		return own
	}
	names := make([]string, 0, len(persons))
	for p := range persons {
		names = append(names, p)
	}
	sort.Strings(names)
	return names[0]
}

// AccountContacts lists every contact the store links to account, with
// ownership data for deciding how to retract them.
func (r *Resolver) AccountContacts(ctx context.Context, account string) ([]Resolution, error) {
	rows, err := r.store.Select(ctx, &graph.Query{
		Where: []graph.Pattern{
			graph.Triple(vocab.AccountIRI(account), vocab.HasIMContact, varAddr, graph.AnyGraph),
		},
		Project: []string{varAddr.Value},
	})
	if err != nil {
		return nil, fmt.Errorf("list contacts of %s: %w", account, err)
	}
	var keys []queue.Key
	for _, row := range rows {
		acc, contact, ok := vocab.ParseAddressIRI(row[varAddr.Value].Value)
		if !ok || acc != account {
			r.log.Warn("ignoring foreign address linked to account",
				zap.String("account", account),
				zap.String("address", row[varAddr.Value].Value))
			continue
		}
		keys = append(keys, queue.Key{Account: acc, Contact: contact})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Contact < keys[j].Contact })
	return r.ResolveOwnership(ctx, keys)
}

// Accounts lists the account IDs stored in the graph.
func (r *Resolver) Accounts(ctx context.Context) ([]string, error) {
	varAcc := graph.Var("acc")
	rows, err := r.store.Select(ctx, &graph.Query{
		Where: []graph.Pattern{
			graph.Triple(varAcc, vocab.Type, graph.IRI(vocab.IMAccount), graph.AnyGraph),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var out []string
	for _, row := range rows {
		if id, ok := vocab.ParseAccountIRI(row[varAcc.Value].Value); ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
