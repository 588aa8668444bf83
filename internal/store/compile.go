package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/rosterd/internal/graph"
)

// Values of statements.object_kind.
const (
	kindIRI     = 1
	kindLiteral = 2
)

var iriKind = strconv.Itoa(kindIRI)

func objectKind(t graph.Term) int {
	if t.Kind == graph.KindLiteral {
		return kindLiteral
	}
	return kindIRI
}

func termOf(value string, kind int64) graph.Term {
	if kind == kindLiteral {
		return graph.Literal(value)
	}
	return graph.IRI(value)
}

// column is the SQL expression pair a variable is bound to.
type column struct {
	value string
	kind  string
}

// compiler turns a basic graph pattern into one SELECT over a self-join of
// the statements table. Every triple pattern gets its own alias; shared
// variables become equality conditions.
type compiler struct {
	next  *int
	from  []string
	conds []string
	args  []any
	vars  map[string]column
	order []string
}

func newCompiler(next *int, outer map[string]column) *compiler {
	vars := make(map[string]column, len(outer))
	for k, v := range outer {
		vars[k] = v
	}
	return &compiler{next: next, vars: vars}
}

func (c *compiler) alias() string {
	a := "t" + strconv.Itoa(*c.next)
	*c.next++
	return a
}

func (c *compiler) compile(patterns []graph.Pattern) error {
	for _, p := range patterns {
		if tp, ok := p.(graph.TriplePattern); ok {
			c.triple(tp)
		}
	}
	for _, p := range patterns {
		switch pat := p.(type) {
		case graph.TriplePattern:
		case graph.InPattern:
			if err := c.in(pat); err != nil {
				return err
			}
		case graph.NotExistsPattern:
			if err := c.notExists(pat); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported pattern %T", p)
		}
	}
	return nil
}

func (c *compiler) triple(tp graph.TriplePattern) {
	a := c.alias()
	c.from = append(c.from, "statements "+a)
	c.position(tp.Subject, column{a + ".subject", iriKind})
	c.position(tp.Predicate, column{a + ".predicate", iriKind})
	c.position(tp.Object, column{a + ".object", a + ".object_kind"})
	c.position(tp.Graph, column{a + ".graph", iriKind})
}

func (c *compiler) position(t graph.Term, col column) {
	switch t.Kind {
	case graph.KindNone:
	case graph.KindVar:
		if bound, ok := c.vars[t.Value]; ok {
			c.conds = append(c.conds, bound.value+" = "+col.value)
			if bound.kind != col.kind {
				c.conds = append(c.conds, bound.kind+" = "+col.kind)
			}
			return
		}
		c.vars[t.Value] = col
		c.order = append(c.order, t.Value)
	default:
		if col.kind == iriKind && t.Kind != graph.KindIRI {
			// Literals only ever appear in object position.
			c.conds = append(c.conds, "0")
			return
		}
		c.conds = append(c.conds, col.value+" = ?")
		c.args = append(c.args, t.Value)
		if col.kind != iriKind {
			c.conds = append(c.conds, col.kind+" = ?")
			c.args = append(c.args, objectKind(t))
		}
	}
}

func (c *compiler) in(pat graph.InPattern) error {
	col, ok := c.vars[pat.Var]
	if !ok {
		return fmt.Errorf("IN on unbound variable ?%s", pat.Var)
	}
	if len(pat.Values) == 0 {
		c.conds = append(c.conds, "0")
		return nil
	}
	byKind := make(map[int][]any)
	var kinds []int
	for _, v := range pat.Values {
		k := objectKind(v)
		if _, ok := byKind[k]; !ok {
			kinds = append(kinds, k)
		}
		byKind[k] = append(byKind[k], v.Value)
	}
	var alts []string
	for _, k := range kinds {
		values := byKind[k]
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		alts = append(alts, fmt.Sprintf("(%s = %d AND %s IN (%s))", col.kind, k, col.value, marks))
		c.args = append(c.args, values...)
	}
	c.conds = append(c.conds, "("+strings.Join(alts, " OR ")+")")
	return nil
}

func (c *compiler) notExists(pat graph.NotExistsPattern) error {
	sub := newCompiler(c.next, c.vars)
	if err := sub.compile(pat.Patterns); err != nil {
		return err
	}
	c.conds = append(c.conds, "NOT EXISTS ("+sub.sql([]string{"1"}, false)+")")
	c.args = append(c.args, sub.args...)
	return nil
}

func (c *compiler) sql(columns []string, distinct bool) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(columns, ", "))
	if len(c.from) > 0 {
		b.WriteString(" FROM ")
		b.WriteString(strings.Join(c.from, ", "))
	}
	if len(c.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(c.conds, " AND "))
	}
	return b.String()
}

// bind substitutes the row's values into patterns. It reports false when a
// membership restriction on a bound variable can never hold.
func bind(patterns []graph.Pattern, row graph.Row) ([]graph.Pattern, bool) {
	out := make([]graph.Pattern, 0, len(patterns))
	for _, p := range patterns {
		switch pat := p.(type) {
		case graph.TriplePattern:
			out = append(out, graph.Triple(
				bindTerm(pat.Subject, row),
				bindTerm(pat.Predicate, row),
				bindTerm(pat.Object, row),
				bindTerm(pat.Graph, row),
			))
		case graph.NotExistsPattern:
			inner, ok := bind(pat.Patterns, row)
			if !ok {
				// An inner group that can never match makes NOT EXISTS trivially true.
				continue
			}
			out = append(out, graph.NotExists(inner...))
		case graph.InPattern:
			v, ok := row[pat.Var]
			if !ok {
				out = append(out, pat)
				continue
			}
			member := false
			for _, candidate := range pat.Values {
				if candidate == v {
					member = true
					break
				}
			}
			if !member {
				return nil, false
			}
		default:
			out = append(out, p)
		}
	}
	return out, true
}

func bindTerm(t graph.Term, row graph.Row) graph.Term {
	if t.IsVar() {
		if v, ok := row[t.Value]; ok {
			return v
		}
	}
	return t
}
