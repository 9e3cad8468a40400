// Package expr defines the logical plan handed to the execution core by an
// external SQL parser/planner: a predicate tree over column references,
// literals, comparison/BETWEEN/CAST operators and boolean connectives, plus
// the projection and ordering the query requested.
package expr

import "github.com/stratumdb/stratum/internal/value"

// CompareOp enumerates the simple comparison operators.
type CompareOp uint8

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

// Expr is a node in the predicate tree.
type Expr interface{ isExpr() }

// Column references a table column by name.
type Column struct{ Name string }

// Literal is a constant operand.
type Literal struct{ Value value.Value }

// Cast forces its operand into the target kind's ordering.
type Cast struct {
	Input Expr
	To    value.Kind
}

// Compare applies a comparison operator to two operands.
type Compare struct {
	Op       CompareOp
	LHS, RHS Expr
}

// Between is `Operand BETWEEN Lo AND Hi`, equivalent to
// `Operand >= Lo AND Operand <= Hi` regardless of whether Lo <= Hi holds.
type Between struct {
	Operand Expr
	Lo, Hi  Expr
}

// Call invokes a named row function, e.g. starts_with(t0, t1).
type Call struct {
	Name string
	Args []Expr
}

// And is a conjunction of one or more predicates.
type And struct{ Exprs []Expr }

// Or is a disjunction of one or more predicates.
type Or struct{ Exprs []Expr }

// Not negates a predicate.
type Not struct{ Expr Expr }

func (Column) isExpr()  {}
func (Literal) isExpr() {}
func (Cast) isExpr()    {}
func (Compare) isExpr() {}
func (Between) isExpr() {}
func (Call) isExpr()    {}
func (And) isExpr()     {}
func (Or) isExpr()      {}
func (Not) isExpr()     {}

// Col is shorthand for a column reference.
func Col(name string) Column { return Column{Name: name} }

// Lit is shorthand for a literal operand.
func Lit(v value.Value) Literal { return Literal{Value: v} }

// Str is shorthand for a string literal.
func Str(s string) Literal { return Literal{Value: value.String(s)} }

// OrderBy describes the requested output ordering.
type OrderBy struct {
	Column string
	Desc   bool
}

// Plan is the logical plan for one query: the table to read, the predicate
// to satisfy, the columns to project (empty means all declared columns in
// schema order), optional ordering and an optional row limit (0 = no limit).
type Plan struct {
	Table      string
	Predicate  Expr // nil means no WHERE clause
	Projection []string
	OrderBy    *OrderBy
	Limit      int
}
