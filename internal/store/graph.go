package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/matheus3301/rosterd/internal/graph"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Graph is the SQLite-backed graph.Store. Every Update runs in a single
// transaction; units run in order inside it.
type Graph struct {
	db    *DB
	limit int
}

var _ graph.Store = (*Graph)(nil)

// NewGraph returns a store over db that refuses selections binding more than
// limit entities. A non-positive limit uses graph.DefaultBindingLimit.
func NewGraph(db *DB, limit int) *Graph {
	if limit <= 0 {
		limit = graph.DefaultBindingLimit
	}
	return &Graph{db: db, limit: limit}
}

// Limit returns the binding limit enforced per unit and query.
func (g *Graph) Limit() int { return g.limit }

// Select answers a read-only query.
func (g *Graph) Select(ctx context.Context, q *graph.Query) ([]graph.Row, error) {
	if n := q.BoundEntities(); n > g.limit {
		return nil, fmt.Errorf("query binds %d entities (limit %d): %w", n, g.limit, graph.ErrBindingLimit)
	}
	rows, err := evaluate(ctx, g.db, q.Where, q.Optionals)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	if len(q.Project) == 0 {
		return rows, nil
	}
	out := make([]graph.Row, 0, len(rows))
	for _, row := range rows {
		p := make(graph.Row, len(q.Project))
		for _, name := range q.Project {
			if v, ok := row[name]; ok {
				p[name] = v
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// Apply runs every unit of u atomically. Nothing is written when any unit
// fails or exceeds the binding limit.
func (g *Graph) Apply(ctx context.Context, u *graph.Update) error {
	units := u.Units()
	if len(units) == 0 {
		return nil
	}
	for i := range units {
		if n := units[i].BoundEntities(); n > g.limit {
			return fmt.Errorf("unit %d binds %d entities (limit %d): %w", i, n, g.limit, graph.ErrBindingLimit)
		}
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range units {
		if err := applyUnit(ctx, tx, &units[i]); err != nil {
			return fmt.Errorf("unit %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func applyUnit(ctx context.Context, q querier, unit *graph.Unit) error {
	rows, err := evaluate(ctx, q, unit.Where, unit.Optionals)
	if err != nil {
		return err
	}
	for _, row := range rows {
		for _, op := range unit.Deletes {
			if err := execDelete(ctx, q, op, row); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	for _, row := range rows {
		for _, op := range unit.Inserts {
			if err := execInsert(ctx, q, op, row); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	return nil
}

// evaluate returns the solutions of where, each extended by the optional
// groups in order. A row no optional group matches is kept as is.
func evaluate(ctx context.Context, q querier, where []graph.Pattern, optionals [][]graph.Pattern) ([]graph.Row, error) {
	rows, err := solve(ctx, q, where)
	if err != nil {
		return nil, err
	}
	for _, group := range optionals {
		next := make([]graph.Row, 0, len(rows))
		for _, row := range rows {
			bound, ok := bind(group, row)
			if !ok {
				next = append(next, row)
				continue
			}
			ext, err := solve(ctx, q, bound)
			if err != nil {
				return nil, err
			}
			if len(ext) == 0 {
				next = append(next, row)
				continue
			}
			for _, e := range ext {
				merged := make(graph.Row, len(row)+len(e))
				for k, v := range row {
					merged[k] = v
				}
				for k, v := range e {
					merged[k] = v
				}
				next = append(next, merged)
			}
		}
		rows = next
	}
	return rows, nil
}

// solve runs one basic graph pattern. An empty pattern has exactly one
// empty solution.
func solve(ctx context.Context, q querier, patterns []graph.Pattern) ([]graph.Row, error) {
	if len(patterns) == 0 {
		return []graph.Row{{}}, nil
	}
	next := 0
	c := newCompiler(&next, nil)
	if err := c.compile(patterns); err != nil {
		return nil, err
	}

	columns := []string{"1"}
	if len(c.order) > 0 {
		columns = columns[:0]
		for _, name := range c.order {
			col := c.vars[name]
			columns = append(columns, col.value, col.kind)
		}
	}

	rows, err := q.QueryContext(ctx, c.sql(columns, true), c.args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []graph.Row
	for rows.Next() {
		if len(c.order) == 0 {
			var one int
			if err := rows.Scan(&one); err != nil {
				return nil, err
			}
			out = append(out, graph.Row{})
			continue
		}
		values := make([]string, len(c.order))
		kinds := make([]int64, len(c.order))
		dest := make([]any, 0, 2*len(c.order))
		for i := range c.order {
			dest = append(dest, &values[i], &kinds[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(graph.Row, len(c.order))
		for i, name := range c.order {
			row[name] = termOf(values[i], kinds[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func substitute(t graph.Term, row graph.Row) (graph.Term, bool) {
	if !t.IsVar() {
		return t, true
	}
	v, ok := row[t.Value]
	return v, ok
}

func execInsert(ctx context.Context, q querier, op graph.Op, row graph.Row) error {
	s, ok1 := substitute(op.Subject, row)
	p, ok2 := substitute(op.Predicate, row)
	o, ok3 := substitute(op.Object, row)
	g, ok4 := substitute(op.Graph, row)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	if s.IsZero() || p.IsZero() || o.IsZero() {
		return fmt.Errorf("insert needs subject, predicate and object")
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO statements (subject, predicate, object, object_kind, graph)
		VALUES (?, ?, ?, ?, ?)`,
		s.Value, p.Value, o.Value, objectKind(o), g.Value)
	return err
}

func execDelete(ctx context.Context, q querier, op graph.Op, row graph.Row) error {
	s, ok1 := substitute(op.Subject, row)
	p, ok2 := substitute(op.Predicate, row)
	o, ok3 := substitute(op.Object, row)
	g, ok4 := substitute(op.Graph, row)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	switch op.Kind {
	case graph.OpDelete:
		var conds []string
		var args []any
		if !s.IsZero() {
			conds, args = append(conds, "subject = ?"), append(args, s.Value)
		}
		if !p.IsZero() {
			conds, args = append(conds, "predicate = ?"), append(args, p.Value)
		}
		if !o.IsZero() {
			conds, args = append(conds, "object = ?", "object_kind = ?"), append(args, o.Value, objectKind(o))
		}
		if !g.IsZero() {
			conds, args = append(conds, "graph = ?"), append(args, g.Value)
		}
		if len(conds) == 0 {
			return fmt.Errorf("delete without any bound position")
		}
		_, err := q.ExecContext(ctx, "DELETE FROM statements WHERE "+strings.Join(conds, " AND "), args...)
		return err

	case graph.OpDeleteAndUnlink:
		if s.IsZero() || p.IsZero() {
			return fmt.Errorf("delete-unlink needs subject and predicate")
		}
		return deleteAndUnlink(ctx, q, s.Value, p.Value)

	case graph.OpDeleteEntity:
		if s.IsZero() {
			return fmt.Errorf("delete-entity needs a subject")
		}
		_, err := q.ExecContext(ctx, `DELETE FROM statements WHERE subject = ?`, s.Value)
		return err

	case graph.OpDeleteGraph:
		if g.IsZero() {
			return fmt.Errorf("delete-graph needs a graph")
		}
		_, err := q.ExecContext(ctx, `DELETE FROM statements WHERE graph = ?`, g.Value)
		return err
	}
	return fmt.Errorf("not a deletion")
}

func deleteAndUnlink(ctx context.Context, q querier, subject, predicate string) error {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT object FROM statements
		WHERE subject = ? AND predicate = ? AND object_kind = ?`,
		subject, predicate, kindIRI)
	if err != nil {
		return err
	}
	var objects []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			_ = rows.Close()
			return err
		}
		objects = append(objects, o)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM statements WHERE subject = ? AND predicate = ?`, subject, predicate); err != nil {
		return err
	}
	for _, o := range objects {
		if _, err := q.ExecContext(ctx, `
			DELETE FROM statements WHERE subject = ?
			AND NOT EXISTS (SELECT 1 FROM statements WHERE object = ? AND object_kind = ?)`,
			o, o, kindIRI); err != nil {
			return err
		}
	}
	return nil
}
