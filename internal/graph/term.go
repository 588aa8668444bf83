package graph

import (
	"strconv"
	"strings"
	"time"
)

// RDFType is the predicate used by CreateEntity to record an entity's kind.
const RDFType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Kind tells how a Term's value is interpreted.
type Kind uint8

const (
	// KindNone is the zero Term. In patterns and deletions it matches anything.
	KindNone Kind = iota
	KindIRI
	KindLiteral
	KindVar
)

// Term is a single position in a statement: an IRI, a literal, a variable
// bound by a selection, or nothing (wildcard).
type Term struct {
	Kind  Kind
	Value string
}

// Any matches every object in a deletion or pattern.
var Any = Term{}

// AnyGraph matches statements in every partition.
var AnyGraph = Term{}

// IRI returns an entity reference term.
func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

// Literal returns a plain string literal term.
func Literal(v string) Term { return Term{Kind: KindLiteral, Value: v} }

// Var returns a selection variable term. The leading '?' is optional.
func Var(name string) Term {
	return Term{Kind: KindVar, Value: strings.TrimPrefix(name, "?")}
}

// Bool returns a boolean literal.
func Bool(b bool) Term { return Literal(strconv.FormatBool(b)) }

// Time returns a UTC timestamp literal with nanosecond precision.
func Time(t time.Time) Term { return Literal(t.UTC().Format(time.RFC3339Nano)) }

func (t Term) IsZero() bool { return t.Kind == KindNone }
func (t Term) IsVar() bool  { return t.Kind == KindVar }
func (t Term) IsIRI() bool  { return t.Kind == KindIRI }

func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindLiteral:
		return strconv.Quote(t.Value)
	case KindVar:
		return "?" + t.Value
	default:
		return "*"
	}
}
