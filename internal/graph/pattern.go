package graph

// Pattern is one condition of a selection. Implementations are TriplePattern,
// NotExistsPattern and InPattern.
type Pattern interface {
	pattern()
}

// TriplePattern matches statements. Zero terms match anything; a zero Graph
// matches every partition.
type TriplePattern struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// NotExistsPattern holds when none of its patterns can be matched together
// with the bindings of the enclosing selection.
type NotExistsPattern struct {
	Patterns []Pattern
}

// InPattern restricts an already bound variable to a fixed set of values.
type InPattern struct {
	Var    string
	Values []Term
}

func (TriplePattern) pattern()    {}
func (NotExistsPattern) pattern() {}
func (InPattern) pattern()        {}

// Triple builds a TriplePattern.
func Triple(s, p, o, g Term) TriplePattern {
	return TriplePattern{Subject: s, Predicate: p, Object: o, Graph: g}
}

// NotExists builds a negated group.
func NotExists(patterns ...Pattern) NotExistsPattern {
	return NotExistsPattern{Patterns: patterns}
}

// In builds a membership restriction on v.
func In(v Term, values ...Term) InPattern {
	return InPattern{Var: v.Value, Values: values}
}

// Vars returns the variable names bound by the given patterns, in order of
// first appearance. Variables only mentioned inside NotExists are not bound.
func Vars(patterns []Pattern) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(t Term) {
		if t.IsVar() && !seen[t.Value] {
			seen[t.Value] = true
			names = append(names, t.Value)
		}
	}
	for _, p := range patterns {
		if tp, ok := p.(TriplePattern); ok {
			add(tp.Subject)
			add(tp.Predicate)
			add(tp.Object)
			add(tp.Graph)
		}
	}
	return names
}

// boundEntities collects the distinct IRI constants a group of patterns binds.
// Class objects of rdf:type statements are vocabulary, not entities.
func boundEntities(patterns []Pattern, into map[string]struct{}) {
	for _, p := range patterns {
		switch pat := p.(type) {
		case TriplePattern:
			if pat.Subject.IsIRI() {
				into[pat.Subject.Value] = struct{}{}
			}
			if pat.Object.IsIRI() && !(pat.Predicate.IsIRI() && pat.Predicate.Value == RDFType) {
				into[pat.Object.Value] = struct{}{}
			}
			if pat.Graph.IsIRI() {
				into[pat.Graph.Value] = struct{}{}
			}
		case NotExistsPattern:
			boundEntities(pat.Patterns, into)
		case InPattern:
			for _, v := range pat.Values {
				if v.IsIRI() {
					into[v.Value] = struct{}{}
				}
			}
		}
	}
}
