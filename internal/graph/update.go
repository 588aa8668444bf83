package graph

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// OpKind identifies a template operation of a Unit.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpDelete
	// OpDeleteAndUnlink deletes Subject/Predicate values and then removes every
	// object entity that is no longer referenced by any statement.
	OpDeleteAndUnlink
	// OpDeleteEntity deletes every statement whose subject is Subject.
	OpDeleteEntity
	// OpDeleteGraph deletes every statement of the Graph partition.
	OpDeleteGraph
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpDeleteAndUnlink:
		return "delete-unlink"
	case OpDeleteEntity:
		return "delete-entity"
	case OpDeleteGraph:
		return "delete-graph"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is one insertion or deletion template. Variables are substituted from
// each solution row of the owning Unit's selection.
type Op struct {
	Kind      OpKind
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

func (o Op) String() string {
	return fmt.Sprintf("%s %s %s %s %s", o.Kind, o.Subject, o.Predicate, o.Object, o.Graph)
}

// Unit is a selection plus the templates applied to each of its solutions.
// All deletions of a unit run before any of its insertions.
type Unit struct {
	Where     []Pattern
	Optionals [][]Pattern
	Deletes   []Op
	Inserts   []Op
}

func (u *Unit) empty() bool {
	return len(u.Deletes) == 0 && len(u.Inserts) == 0
}

// BoundEntities counts the distinct entities a unit binds through its
// selection and through scoped partition deletions. Stores with a binding
// limit reject units above it.
func (u *Unit) BoundEntities() int {
	seen := make(map[string]struct{})
	boundEntities(u.Where, seen)
	for _, group := range u.Optionals {
		boundEntities(group, seen)
	}
	for _, op := range u.Deletes {
		if op.Kind == OpDeleteGraph && op.Graph.IsIRI() {
			seen[op.Graph.Value] = struct{}{}
		}
	}
	return len(seen)
}

// clone copies the unit so that later changes to either side stay private.
func (u *Unit) clone() *Unit {
	return &Unit{
		Where:     slices.Clone(u.Where),
		Optionals: cloneGroups(u.Optionals),
		Deletes:   slices.Clone(u.Deletes),
		Inserts:   slices.Clone(u.Inserts),
	}
}

func cloneGroups(groups [][]Pattern) [][]Pattern {
	if groups == nil {
		return nil
	}
	out := make([][]Pattern, len(groups))
	for i, g := range groups {
		out[i] = slices.Clone(g)
	}
	return out
}

var varSeq atomic.Uint64

// Update accumulates operations that a Store applies as one atomic request.
// Operations go into the current unit; AppendSubBatch closes it so that
// later operations start a new one.
type Update struct {
	units []*Unit
}

// NewUpdate returns an empty update.
func NewUpdate() *Update {
	return &Update{units: []*Unit{{}}}
}

func (u *Update) current() *Unit {
	return u.units[len(u.units)-1]
}

// CreateEntity declares id as an entity of the given kind in partition g.
func (u *Update) CreateEntity(id Term, kind string, g Term) {
	u.Insert(id, IRI(RDFType), IRI(kind), g)
}

// Insert adds a statement.
func (u *Update) Insert(s, p, o, g Term) {
	c := u.current()
	c.Inserts = append(c.Inserts, Op{Kind: OpInsert, Subject: s, Predicate: p, Object: o, Graph: g})
}

// Delete removes matching statements. Passing Any as o deletes every value of
// the predicate; AnyGraph deletes across partitions.
func (u *Update) Delete(s, p, o, g Term) {
	c := u.current()
	c.Deletes = append(c.Deletes, Op{Kind: OpDelete, Subject: s, Predicate: p, Object: o, Graph: g})
}

// DeleteAndUnlink removes every value of s/p and any object entity left
// orphaned by that removal.
func (u *Update) DeleteAndUnlink(s, p Term) {
	c := u.current()
	c.Deletes = append(c.Deletes, Op{Kind: OpDeleteAndUnlink, Subject: s, Predicate: p})
}

// DeleteEntity removes every statement about s in every partition.
func (u *Update) DeleteEntity(s Term) {
	c := u.current()
	c.Deletes = append(c.Deletes, Op{Kind: OpDeleteEntity, Subject: s})
}

// DeleteGraph removes everything stored in partition g.
func (u *Update) DeleteGraph(g Term) {
	c := u.current()
	c.Deletes = append(c.Deletes, Op{Kind: OpDeleteGraph, Graph: g})
}

// Filter adds selection preconditions to the current unit. Its templates are
// applied once per matching row; with no matching row nothing is applied.
func (u *Update) Filter(patterns ...Pattern) {
	c := u.current()
	c.Where = append(c.Where, patterns...)
}

// AppendSubBatch schedules sub's units after the current one. Operations
// added afterwards go into a fresh unit that runs after sub.
func (u *Update) AppendSubBatch(sub *Update) {
	if sub == nil {
		return
	}
	for _, unit := range sub.units {
		if unit.empty() {
			continue
		}
		u.units = append(u.units, unit.clone())
	}
	u.units = append(u.units, &Unit{})
}

// MergeOptional folds sub into the current unit. Its selection becomes an
// optional group, so rows that do not match it still proceed and only the
// templates that depend on its variables are skipped.
func (u *Update) MergeOptional(sub *Update) {
	if sub == nil {
		return
	}
	c := u.current()
	for _, unit := range sub.units {
		if len(unit.Where) > 0 {
			c.Optionals = append(c.Optionals, append([]Pattern(nil), unit.Where...))
		}
		c.Optionals = append(c.Optionals, cloneGroups(unit.Optionals)...)
		c.Deletes = append(c.Deletes, unit.Deletes...)
		c.Inserts = append(c.Inserts, unit.Inserts...)
	}
}

// Uniquify returns a variable that no other call in this process returns.
func (u *Update) Uniquify(prefix string) Term {
	return Var(fmt.Sprintf("%s_%d", prefix, varSeq.Add(1)))
}

// Units returns the non-empty units in execution order.
func (u *Update) Units() []Unit {
	var out []Unit
	for _, unit := range u.units {
		if !unit.empty() {
			out = append(out, *unit)
		}
	}
	return out
}

// Empty reports whether the update has no operations at all.
func (u *Update) Empty() bool {
	for _, unit := range u.units {
		if !unit.empty() {
			return false
		}
	}
	return true
}

// Ops returns the number of template operations across all units.
func (u *Update) Ops() int {
	n := 0
	for _, unit := range u.units {
		n += len(unit.Deletes) + len(unit.Inserts)
	}
	return n
}
