// Package normalize rewrites raw predicate trees into a canonical form:
// one range per constrained column plus residual row predicates for
// everything that cannot be pushed into range form. The canonical form is
// semantically equivalent to the original predicate; range narrowing is
// only ever conservative and the compiled Matches check remains the single
// source of truth for row inclusion.
package normalize

import (
	"errors"
	"fmt"
	"math"

	"github.com/stratumdb/stratum/internal/expr"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/value"
	"github.com/stratumdb/stratum/pkg/models"
)

var (
	// ErrUnsupportedExpression is returned when an operator/type combination
	// has no defined ordering or cast path. Surfaced before any scan begins.
	ErrUnsupportedExpression = errors.New("unsupported expression")

	// ErrUnknownColumn is returned when a predicate references a column the
	// table does not declare.
	ErrUnknownColumn = errors.New("unknown column")
)

// RowPredicate evaluates one residual condition against a row.
type RowPredicate func(row *models.Row) bool

// Predicate is the canonical form of a query predicate.
type Predicate struct {
	// Ranges maps column name to its canonical range constraint.
	Ranges map[string]*Range

	// Residuals are the row predicates not expressible as ranges,
	// in source order.
	Residuals []RowPredicate

	schema *schema.TableSchema
	never  bool
}

// Normalize canonicalizes a predicate tree against a table schema.
// A nil predicate normalizes to match-everything.
func Normalize(s *schema.TableSchema, e expr.Expr) (*Predicate, error) {
	p := &Predicate{
		Ranges: map[string]*Range{},
		schema: s,
	}
	if e == nil {
		return p, nil
	}
	if err := p.collect(e); err != nil {
		return nil, err
	}
	return p, nil
}

// NeverMatches reports whether the predicate provably matches no row:
// either a constant-false clause or a column range with lower > upper
// (e.g. BETWEEN with swapped operands). This is a valid, empty result,
// not an error.
func (p *Predicate) NeverMatches() bool {
	if p.never {
		return true
	}
	for _, r := range p.Ranges {
		if r.Empty() {
			return true
		}
	}
	return false
}

// Matches is the authoritative row filter: it re-checks every column range
// (index and scan narrowing may over-select) and then evaluates residuals
// in order with short-circuiting.
func (p *Predicate) Matches(row *models.Row) bool {
	if p.never {
		return false
	}
	for col, r := range p.Ranges {
		if !r.Contains(ColumnValue(p.schema, row, col)) {
			return false
		}
	}
	for _, res := range p.Residuals {
		if !res(row) {
			return false
		}
	}
	return true
}

// TimeBounds extracts the TIME column's range as closed nanosecond bounds
// for the scanner. Exclusive bounds shrink by one nanosecond. The booleans
// report which ends are constrained.
func (p *Predicate) TimeBounds() (lo, hi int64, loSet, hiSet bool) {
	r, ok := p.Ranges[p.schema.TimeColumn]
	if !ok || r.Kind != value.KindTimestamp {
		return 0, 0, false, false
	}
	if r.Lo != nil {
		lo = r.Lo.Value.I
		if !r.Lo.Inclusive {
			lo++
		}
		loSet = true
	}
	if r.Hi != nil {
		hi = r.Hi.Value.I
		if !r.Hi.Inclusive {
			hi--
		}
		hiSet = true
	}
	return lo, hi, loSet, hiSet
}

// TagRanges returns the ranges bound to TAG columns in string ordering,
// usable for tag index lookups.
func (p *Predicate) TagRanges() map[string]*Range {
	out := map[string]*Range{}
	for col, r := range p.Ranges {
		if role, _, ok := p.schema.Column(col); ok && role == schema.RoleTag && r.Kind == value.KindString {
			out[col] = r
		}
	}
	return out
}

// ColumnValue reads the named column out of a row under the given schema.
// Missing tag or field values are null.
func ColumnValue(s *schema.TableSchema, row *models.Row, name string) value.Value {
	role, _, ok := s.Column(name)
	if !ok {
		return value.Null()
	}
	switch role {
	case schema.RoleTime:
		return value.Timestamp(row.Time)
	case schema.RoleTag:
		if v, ok := row.Tags[name]; ok {
			return value.String(v)
		}
		return value.Null()
	default:
		if v, ok := row.Fields[name]; ok {
			return v
		}
		return value.Null()
	}
}

// collect walks a conjunctive context: every clause here must hold, so
// simple comparisons tighten ranges and everything else becomes residual.
func (p *Predicate) collect(e expr.Expr) error {
	switch n := e.(type) {
	case expr.And:
		for _, sub := range n.Exprs {
			if err := p.collect(sub); err != nil {
				return err
			}
		}
		return nil

	case expr.Compare:
		handled, err := p.tryRange(n)
		if err != nil || handled {
			return err
		}
		return p.addResidual(n)

	case expr.Between:
		handled, err := p.tryBetween(n)
		if err != nil || handled {
			return err
		}
		return p.addResidual(n)

	case expr.Literal:
		if n.Value.Kind != value.KindBool {
			return fmt.Errorf("%w: non-boolean literal %s in predicate position", ErrUnsupportedExpression, n.Value.Kind)
		}
		if !n.Value.B {
			p.never = true
		}
		return nil

	default:
		// OR subtrees, negations, calls, bare boolean columns: evaluated
		// row-by-row after range-based candidate selection.
		return p.addResidual(e)
	}
}

func (p *Predicate) addResidual(e expr.Expr) error {
	pred, err := compileBool(p.schema, e)
	if err != nil {
		return err
	}
	p.Residuals = append(p.Residuals, pred)
	return nil
}

// columnSide describes a comparison operand that is a (possibly cast)
// column reference.
type columnSide struct {
	name string
	kind value.Kind // declared kind, or explicit cast target
	cast bool
}

// columnRef recognizes Column and Cast(Column) operands.
func columnRef(s *schema.TableSchema, e expr.Expr) (columnSide, bool, error) {
	switch n := e.(type) {
	case expr.Column:
		_, kind, ok := s.Column(n.Name)
		if !ok {
			return columnSide{}, false, fmt.Errorf("%w: %s", ErrUnknownColumn, n.Name)
		}
		return columnSide{name: n.Name, kind: kind}, true, nil
	case expr.Cast:
		inner, ok, err := columnRef(s, n.Input)
		if err != nil || !ok {
			return columnSide{}, ok, err
		}
		// The outermost cast decides the comparison ordering.
		return columnSide{name: inner.name, kind: n.To, cast: true}, true, nil
	default:
		return columnSide{}, false, nil
	}
}

// foldConst recognizes Literal and Cast(Literal) operands, evaluating casts
// eagerly. A cast with no defined conversion fails normalization.
func foldConst(e expr.Expr) (value.Value, bool, error) {
	switch n := e.(type) {
	case expr.Literal:
		return n.Value, true, nil
	case expr.Cast:
		inner, ok, err := foldConst(n.Input)
		if err != nil || !ok {
			return value.Null(), ok, err
		}
		out, err := value.Cast(inner, n.To)
		if err != nil {
			return value.Null(), false, fmt.Errorf("%w: %v", ErrUnsupportedExpression, err)
		}
		return out, true, nil
	default:
		return value.Null(), false, nil
	}
}

// tryRange attempts to fold `col op literal` (either operand order) into a
// per-column range. Returns handled=false for shapes that must stay
// residual, e.g. !=, column-vs-column, function calls.
func (p *Predicate) tryRange(cmp expr.Compare) (bool, error) {
	if cmp.Op == expr.OpNe {
		return false, nil
	}

	col, isCol, err := columnRef(p.schema, cmp.LHS)
	if err != nil {
		return false, err
	}
	lit, isLit, err := foldConst(cmp.RHS)
	if err != nil {
		return false, err
	}
	op := cmp.Op
	if !isCol || !isLit {
		// Try the flipped orientation: `literal op col`.
		col, isCol, err = columnRef(p.schema, cmp.RHS)
		if err != nil {
			return false, err
		}
		lit, isLit, err = foldConst(cmp.LHS)
		if err != nil {
			return false, err
		}
		if !isCol || !isLit {
			return false, nil
		}
		op = flip(op)
	}

	return true, p.tighten(col, op, lit)
}

func (p *Predicate) tryBetween(b expr.Between) (bool, error) {
	col, isCol, err := columnRef(p.schema, b.Operand)
	if err != nil || !isCol {
		return false, err
	}
	lo, isLo, err := foldConst(b.Lo)
	if err != nil || !isLo {
		return false, err
	}
	hi, isHi, err := foldConst(b.Hi)
	if err != nil || !isHi {
		return false, err
	}
	// BETWEEN lo AND hi is exactly `col >= lo AND col <= hi`. When lo > hi
	// the tightened range is empty and the query yields zero rows; the
	// bounds are never reordered on the caller's behalf.
	if err := p.tighten(col, expr.OpGe, lo); err != nil {
		return false, err
	}
	return true, p.tighten(col, expr.OpLe, hi)
}

// tighten folds one comparison into the column's range, resolving the
// comparison kind once. A comparison whose kind conflicts with an already
// established range kind falls back to a residual check instead.
func (p *Predicate) tighten(col columnSide, op expr.CompareOp, lit value.Value) error {
	kind := col.kind
	if !col.cast && col.kind != lit.Kind {
		if integerPair(col.kind, lit.Kind) {
			// Signed vs unsigned: compare in the column's own kind so large
			// magnitudes stay exact. A literal outside that kind's domain
			// decides the clause without consulting any row.
			if p.foldOutOfDomain(col.kind, op, lit) {
				return nil
			}
		} else {
			var err error
			kind, err = value.ComparisonKind(col.kind, lit.Kind)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnsupportedExpression, err)
			}
		}
	}
	cv, err := value.Cast(lit, kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedExpression, err)
	}
	if cv.IsNull() {
		// Comparison against NULL matches nothing.
		p.never = true
		return nil
	}

	r, ok := p.Ranges[col.name]
	if !ok {
		r = &Range{Kind: kind}
		p.Ranges[col.name] = r
	} else if r.Kind != kind {
		name, k := col.name, kind
		p.Residuals = append(p.Residuals, func(row *models.Row) bool {
			v := ColumnValue(p.schema, row, name)
			return compareAs(v, cv, k, op)
		})
		return nil
	}

	switch op {
	case expr.OpEq:
		r.tightenLower(cv, true)
		r.tightenUpper(cv, true)
	case expr.OpGt:
		r.tightenLower(cv, false)
	case expr.OpGe:
		r.tightenLower(cv, true)
	case expr.OpLt:
		r.tightenUpper(cv, false)
	case expr.OpLe:
		r.tightenUpper(cv, true)
	}
	return nil
}

func integerPair(a, b value.Kind) bool {
	return (a == value.KindInt && b == value.KindUint) ||
		(a == value.KindUint && b == value.KindInt)
}

// foldOutOfDomain resolves a signed/unsigned comparison whose literal cannot
// be represented in the column's integer kind: every row compares the same
// way, so the clause either drops out entirely or empties the predicate.
// Reports whether it applied.
func (p *Predicate) foldOutOfDomain(colKind value.Kind, op expr.CompareOp, lit value.Value) bool {
	var litAbove bool
	switch {
	case colKind == value.KindInt && lit.Kind == value.KindUint && lit.U > math.MaxInt64:
		litAbove = true
	case colKind == value.KindUint && lit.Kind == value.KindInt && lit.I < 0:
		litAbove = false
	default:
		return false
	}
	switch op {
	case expr.OpLt, expr.OpLe:
		if !litAbove {
			p.never = true
		}
	case expr.OpGt, expr.OpGe:
		if litAbove {
			p.never = true
		}
	default:
		// Equality with an unrepresentable literal matches nothing.
		p.never = true
	}
	return true
}

func flip(op expr.CompareOp) expr.CompareOp {
	switch op {
	case expr.OpLt:
		return expr.OpGt
	case expr.OpLe:
		return expr.OpGe
	case expr.OpGt:
		return expr.OpLt
	case expr.OpGe:
		return expr.OpLe
	default:
		return op
	}
}

// compareAs coerces a to kind and applies op against b (already in kind).
func compareAs(a, b value.Value, kind value.Kind, op expr.CompareOp) bool {
	if a.IsNull() {
		return false
	}
	ca, err := value.Cast(a, kind)
	if err != nil {
		return false
	}
	c, err := value.Compare(ca, b)
	if err != nil {
		return false
	}
	switch op {
	case expr.OpEq:
		return c == 0
	case expr.OpNe:
		return c != 0
	case expr.OpLt:
		return c < 0
	case expr.OpLe:
		return c <= 0
	case expr.OpGt:
		return c > 0
	case expr.OpGe:
		return c >= 0
	default:
		return false
	}
}
