// Package query implements the catalog query language: a small grammar of
// tag conjunctions, negations and field comparisons, parsed into an
// expression tree and evaluated against the catalog.
package query

import "fmt"

// Expr is a node of the parsed expression tree.
type Expr interface {
	queryExpr()
}

// All is the wildcard literal matching every non-deleted item. It cannot be
// combined with other terms.
type All struct{}

func (All) queryExpr() {}

// TagTerm is a single positive or negated tag reference.
type TagTerm struct {
	Name     string
	Negative bool
}

// Conjunction is a run of tag terms at one nesting level, split into
// required and excluded tags, plus USER / PATH narrowing filters.
type Conjunction struct {
	Yes   []TagTerm
	No    []TagTerm
	Users []string
	Paths []string
}

func (*Conjunction) queryExpr() {}

// Comparison is a field comparison term, e.g. "Rating > 2".
type Comparison struct {
	Field string
	Op    string // "=", ">", "<", ">=", "<="
	Value string
}

func (*Comparison) queryExpr() {}

// And combines sub-expressions conjunctively, e.g.
// "(Txt AND Lyrics) AND (Rating > 0)".
type And struct {
	Parts []Expr
}

func (*And) queryExpr() {}

// SyntaxError reports query text that does not match the grammar.
type SyntaxError struct {
	Pos int // byte offset into the query text
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// ValueError reports a comparison value that cannot be interpreted as the
// comparison operator requires.
type ValueError struct {
	Field string
	Op    string
	Value string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("value %q is not numeric (required by %s %s)", e.Value, e.Field, e.Op)
}
