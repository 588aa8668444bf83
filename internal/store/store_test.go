package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/matheus3301/rosterd/internal/graph"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testGraph(t *testing.T) (*Graph, *DB) {
	t.Helper()
	db := testDB(t)
	return NewGraph(db, 0), db
}

var (
	iri = graph.IRI
	lit = graph.Literal
	v   = graph.Var
	g1  = graph.IRI("urn:g1")
	g2  = graph.IRI("urn:g2")
)

func apply(t *testing.T, g *Graph, u *graph.Update) {
	t.Helper()
	if err := g.Apply(context.Background(), u); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func objects(t *testing.T, g *Graph, s, p graph.Term) []string {
	t.Helper()
	rows, err := g.Select(context.Background(), &graph.Query{
		Where: []graph.Pattern{graph.Triple(s, p, v("o"), graph.AnyGraph)},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	var out []string
	for _, r := range rows {
		out = append(out, r["o"].Value)
	}
	sort.Strings(out)
	return out
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	fresh, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = fresh.Close() })
	first, err := fresh.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !first.Changed || first.From != 0 || first.Version != 2 {
		t.Errorf("first Migrate() = %+v, want 0 -> 2 changed", first)
	}

	db := testDB(t)

	// testDB already ran Migrate, so a second run is a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (statements + sync_state)", result.Version)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	_, err := db.Migrate()
	if !errors.Is(err, ErrDirtySchema) {
		t.Fatalf("Migrate() on dirty schema err = %v, want ErrDirtySchema", err)
	}
}

func TestInsertAndSelect(t *testing.T) {
	g, db := testGraph(t)

	u := graph.NewUpdate()
	u.CreateEntity(iri("a"), "urn:Person", g1)
	u.Insert(iri("a"), iri("name"), lit("Alice"), g1)
	u.Insert(iri("a"), iri("knows"), iri("b"), g1)
	u.Insert(iri("a"), iri("knows"), iri("b"), g1) // duplicate is ignored
	apply(t, g, u)

	n, err := db.Statements()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("statements = %d, want 3", n)
	}

	rows, err := g.Select(context.Background(), &graph.Query{
		Where: []graph.Pattern{
			graph.Triple(v("p"), iri(graph.RDFType), iri("urn:Person"), graph.AnyGraph),
			graph.Triple(v("p"), iri("name"), v("name"), graph.AnyGraph),
		},
		Project: []string{"p", "name"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0]["p"] != iri("a") || rows[0]["name"] != lit("Alice") {
		t.Errorf("row = %v", rows[0])
	}
}

func TestLiteralAndIRIAreDistinct(t *testing.T) {
	g, _ := testGraph(t)

	u := graph.NewUpdate()
	u.Insert(iri("a"), iri("p"), lit("x"), g1)
	u.Insert(iri("a"), iri("p"), iri("x"), g1)
	apply(t, g, u)

	rows, err := g.Select(context.Background(), &graph.Query{
		Where: []graph.Pattern{graph.Triple(iri("a"), iri("p"), lit("x"), graph.AnyGraph)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("literal match rows = %d, want 1", len(rows))
	}

	del := graph.NewUpdate()
	del.Delete(iri("a"), iri("p"), iri("x"), graph.AnyGraph)
	apply(t, g, del)

	if got := objects(t, g, iri("a"), iri("p")); len(got) != 1 || got[0] != "x" {
		t.Errorf("objects = %v", got)
	}
}

func TestDeleteWithWildcardsAndGraphs(t *testing.T) {
	g, _ := testGraph(t)

	u := graph.NewUpdate()
	u.Insert(iri("a"), iri("p"), lit("1"), g1)
	u.Insert(iri("a"), iri("p"), lit("2"), g2)
	u.Insert(iri("a"), iri("q"), lit("3"), g1)
	apply(t, g, u)

	del := graph.NewUpdate()
	del.Delete(iri("a"), iri("p"), graph.Any, g1)
	apply(t, g, del)
	if got := objects(t, g, iri("a"), iri("p")); len(got) != 1 || got[0] != "2" {
		t.Errorf("after scoped delete = %v", got)
	}

	del = graph.NewUpdate()
	del.Delete(iri("a"), iri("p"), graph.Any, graph.AnyGraph)
	apply(t, g, del)
	if got := objects(t, g, iri("a"), iri("p")); len(got) != 0 {
		t.Errorf("after unscoped delete = %v", got)
	}
	if got := objects(t, g, iri("a"), iri("q")); len(got) != 1 {
		t.Errorf("other predicate touched: %v", got)
	}
}

func TestDeleteGraphAndEntity(t *testing.T) {
	g, db := testGraph(t)

	u := graph.NewUpdate()
	u.Insert(iri("a"), iri("p"), lit("1"), g1)
	u.Insert(iri("b"), iri("p"), lit("2"), g1)
	u.Insert(iri("a"), iri("p"), lit("3"), g2)
	u.Insert(iri("c"), iri("p"), lit("4"), g2)
	apply(t, g, u)

	del := graph.NewUpdate()
	del.DeleteGraph(g1)
	apply(t, g, del)
	if n, _ := db.Statements(); n != 2 {
		t.Errorf("after DeleteGraph statements = %d, want 2", n)
	}

	del = graph.NewUpdate()
	del.DeleteEntity(iri("a"))
	apply(t, g, del)
	if n, _ := db.Statements(); n != 1 {
		t.Errorf("after DeleteEntity statements = %d, want 1", n)
	}
}

func TestDeleteAndUnlinkRemovesOrphanedObjects(t *testing.T) {
	g, _ := testGraph(t)

	u := graph.NewUpdate()
	u.Insert(iri("a"), iri("has"), iri("x"), g1)
	u.Insert(iri("x"), iri("value"), lit("only a"), g1)
	u.Insert(iri("a"), iri("has"), iri("y"), g1)
	u.Insert(iri("b"), iri("has"), iri("y"), g1)
	u.Insert(iri("y"), iri("value"), lit("shared"), g1)
	apply(t, g, u)

	del := graph.NewUpdate()
	del.DeleteAndUnlink(iri("a"), iri("has"))
	apply(t, g, del)

	if got := objects(t, g, iri("x"), iri("value")); len(got) != 0 {
		t.Errorf("orphan x kept: %v", got)
	}
	if got := objects(t, g, iri("y"), iri("value")); len(got) != 1 {
		t.Errorf("shared y removed: %v", got)
	}
	if got := objects(t, g, iri("a"), iri("has")); len(got) != 0 {
		t.Errorf("links kept: %v", got)
	}
}

func TestUnitTemplatesRunPerRow(t *testing.T) {
	g, _ := testGraph(t)

	seed := graph.NewUpdate()
	for i := 0; i < 3; i++ {
		addr := iri(fmt.Sprintf("addr%d", i))
		seed.Insert(iri("acc"), iri("hasContact"), addr, g1)
		seed.Insert(addr, iri("presence"), lit("available"), g1)
	}
	seed.Insert(iri("other"), iri("presence"), lit("available"), g1)
	apply(t, g, seed)

	u := graph.NewUpdate()
	u.Filter(graph.Triple(iri("acc"), iri("hasContact"), v("addr"), graph.AnyGraph))
	u.Delete(v("addr"), iri("presence"), graph.Any, graph.AnyGraph)
	u.Insert(v("addr"), iri("presence"), lit("unknown"), g1)
	apply(t, g, u)

	for i := 0; i < 3; i++ {
		got := objects(t, g, iri(fmt.Sprintf("addr%d", i)), iri("presence"))
		if len(got) != 1 || got[0] != "unknown" {
			t.Errorf("addr%d presence = %v", i, got)
		}
	}
	if got := objects(t, g, iri("other"), iri("presence")); got[0] != "available" {
		t.Errorf("unrelated entity rewritten: %v", got)
	}
}

func TestFilterWithNoMatchAppliesNothing(t *testing.T) {
	g, db := testGraph(t)

	u := graph.NewUpdate()
	u.Filter(graph.Triple(iri("nobody"), iri("p"), v("x"), graph.AnyGraph))
	u.Insert(iri("marker"), iri("p"), lit("x"), g1)
	apply(t, g, u)

	if n, _ := db.Statements(); n != 0 {
		t.Errorf("statements = %d, want 0", n)
	}
}

func TestOptionalUnboundSkipsTemplate(t *testing.T) {
	g, _ := testGraph(t)

	seed := graph.NewUpdate()
	seed.Insert(iri("acc"), iri("hasContact"), iri("a1"), g1)
	seed.Insert(iri("acc"), iri("hasContact"), iri("a2"), g1)
	seed.Insert(iri("a1"), iri("avatar"), iri("pic1"), g1)
	seed.Insert(iri("pic1"), iri("url"), lit("file:///1"), g1)
	apply(t, g, seed)

	u := graph.NewUpdate()
	u.Filter(graph.Triple(iri("acc"), iri("hasContact"), v("addr"), graph.AnyGraph))
	opt := graph.NewUpdate()
	opt.Filter(graph.Triple(v("addr"), iri("avatar"), v("pic"), graph.AnyGraph))
	opt.DeleteEntity(v("pic"))
	u.MergeOptional(opt)
	u.Insert(v("addr"), iri("seen"), lit("yes"), g1)
	apply(t, g, u)

	if got := objects(t, g, iri("pic1"), iri("url")); len(got) != 0 {
		t.Errorf("avatar entity kept: %v", got)
	}
	for _, a := range []string{"a1", "a2"} {
		if got := objects(t, g, iri(a), iri("seen")); len(got) != 1 {
			t.Errorf("%s not processed: %v", a, got)
		}
	}
}

func TestNotExistsAndIn(t *testing.T) {
	g, _ := testGraph(t)

	seed := graph.NewUpdate()
	for _, a := range []string{"a1", "a2", "a3"} {
		seed.CreateEntity(iri(a), "urn:Address", g1)
	}
	seed.Insert(iri("acc"), iri("hasContact"), iri("a1"), g1)
	apply(t, g, seed)

	rows, err := g.Select(context.Background(), &graph.Query{
		Where: []graph.Pattern{
			graph.Triple(v("addr"), iri(graph.RDFType), iri("urn:Address"), graph.AnyGraph),
			graph.NotExists(graph.Triple(v("owner"), iri("hasContact"), v("addr"), graph.AnyGraph)),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	var orphans []string
	for _, r := range rows {
		orphans = append(orphans, r["addr"].Value)
	}
	sort.Strings(orphans)
	if fmt.Sprint(orphans) != "[a2 a3]" {
		t.Errorf("orphans = %v, want [a2 a3]", orphans)
	}

	rows, err = g.Select(context.Background(), &graph.Query{
		Where: []graph.Pattern{
			graph.Triple(v("addr"), iri(graph.RDFType), iri("urn:Address"), graph.AnyGraph),
			graph.In(v("addr"), iri("a1"), iri("a3"), iri("missing")),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("In rows = %d, want 2", len(rows))
	}
}

func TestUnitsSeeEarlierUnitsWrites(t *testing.T) {
	g, _ := testGraph(t)

	seed := graph.NewUpdate()
	seed.Insert(iri("orphan"), iri(graph.RDFType), iri("urn:Address"), g1)
	seed.Insert(iri("x"), iri("note"), lit("in orphan graph"), iri("orphan"))
	apply(t, g, seed)

	u := graph.NewUpdate()
	first := graph.NewUpdate()
	first.Filter(graph.Triple(v("a"), iri(graph.RDFType), iri("urn:Address"), graph.AnyGraph))
	first.DeleteGraph(v("a"))
	u.AppendSubBatch(first)
	second := graph.NewUpdate()
	second.Filter(graph.Triple(v("a"), iri(graph.RDFType), iri("urn:Address"), graph.AnyGraph))
	second.DeleteEntity(v("a"))
	u.AppendSubBatch(second)
	apply(t, g, u)

	if got := objects(t, g, iri("x"), iri("note")); len(got) != 0 {
		t.Errorf("orphan graph kept: %v", got)
	}
	if got := objects(t, g, iri("orphan"), iri(graph.RDFType)); len(got) != 0 {
		t.Errorf("orphan entity kept: %v", got)
	}
}

func TestBindingLimit(t *testing.T) {
	db := testDB(t)
	g := NewGraph(db, 4)

	values := make([]graph.Term, 5)
	for i := range values {
		values[i] = iri(fmt.Sprintf("a%d", i))
	}
	_, err := g.Select(context.Background(), &graph.Query{
		Where: []graph.Pattern{
			graph.Triple(v("x"), iri("p"), v("addr"), graph.AnyGraph),
			graph.In(v("addr"), values...),
		},
	})
	if !errors.Is(err, graph.ErrBindingLimit) {
		t.Errorf("Select err = %v, want ErrBindingLimit", err)
	}

	u := graph.NewUpdate()
	u.Insert(iri("keep"), iri("p"), lit("1"), g1)
	for _, val := range values {
		u.DeleteGraph(val)
	}
	err = g.Apply(context.Background(), u)
	if !errors.Is(err, graph.ErrBindingLimit) {
		t.Errorf("Apply err = %v, want ErrBindingLimit", err)
	}
	if n, _ := db.Statements(); n != 0 {
		t.Errorf("rejected update wrote %d statements", n)
	}
}

func TestApplyIsAtomic(t *testing.T) {
	g, db := testGraph(t)

	u := graph.NewUpdate()
	u.Insert(iri("a"), iri("p"), lit("1"), g1)
	next := graph.NewUpdate()
	next.Delete(graph.Any, graph.Any, graph.Any, graph.AnyGraph) // invalid: nothing bound
	u.AppendSubBatch(next)

	if err := g.Apply(context.Background(), u); err == nil {
		t.Fatal("expected error")
	}
	if n, _ := db.Statements(); n != 0 {
		t.Errorf("failed update left %d statements", n)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if v, err := db.Checkpoint(ctx, "sync:acc1"); err != nil || v != "" {
		t.Fatalf("missing checkpoint = %q, %v", v, err)
	}
	if err := db.SetCheckpoint(ctx, "sync:acc1", "one"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, "sync:acc1", "two"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, "sync:acc2", "three"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, "other", "x"); err != nil {
		t.Fatal(err)
	}

	if v, _ := db.Checkpoint(ctx, "sync:acc1"); v != "two" {
		t.Errorf("checkpoint = %q, want two", v)
	}
	all, err := db.Checkpoints(ctx, "sync:")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["acc1"] != "two" || all["acc2"] != "three" {
		t.Errorf("checkpoints = %v", all)
	}
}
