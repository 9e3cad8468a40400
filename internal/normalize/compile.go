package normalize

import (
	"fmt"
	"strings"

	"github.com/stratumdb/stratum/internal/expr"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/value"
	"github.com/stratumdb/stratum/pkg/models"
)

// valueFn evaluates an expression to a value for one row.
type valueFn func(row *models.Row) value.Value

// compileBool compiles an arbitrary predicate subtree into a row closure.
// All type resolution happens here, once; the returned closure performs no
// per-row type dispatch beyond coercion of the row's own values.
func compileBool(s *schema.TableSchema, e expr.Expr) (RowPredicate, error) {
	switch n := e.(type) {
	case expr.And:
		preds := make([]RowPredicate, 0, len(n.Exprs))
		for _, sub := range n.Exprs {
			p, err := compileBool(s, sub)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		return func(row *models.Row) bool {
			for _, p := range preds {
				if !p(row) {
					return false
				}
			}
			return true
		}, nil

	case expr.Or:
		preds := make([]RowPredicate, 0, len(n.Exprs))
		for _, sub := range n.Exprs {
			p, err := compileBool(s, sub)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		return func(row *models.Row) bool {
			for _, p := range preds {
				if p(row) {
					return true
				}
			}
			return false
		}, nil

	case expr.Not:
		p, err := compileBool(s, n.Expr)
		if err != nil {
			return nil, err
		}
		return func(row *models.Row) bool { return !p(row) }, nil

	case expr.Compare:
		return compileCompare(s, n)

	case expr.Between:
		// Desugared without reordering: operand >= lo AND operand <= hi.
		ge, err := compileCompare(s, expr.Compare{Op: expr.OpGe, LHS: n.Operand, RHS: n.Lo})
		if err != nil {
			return nil, err
		}
		le, err := compileCompare(s, expr.Compare{Op: expr.OpLe, LHS: n.Operand, RHS: n.Hi})
		if err != nil {
			return nil, err
		}
		return func(row *models.Row) bool { return ge(row) && le(row) }, nil

	case expr.Literal:
		if n.Value.Kind != value.KindBool {
			return nil, fmt.Errorf("%w: non-boolean literal in predicate position", ErrUnsupportedExpression)
		}
		b := n.Value.B
		return func(*models.Row) bool { return b }, nil

	case expr.Column:
		fn, kind, err := compileValue(s, n)
		if err != nil {
			return nil, err
		}
		if kind != value.KindBool {
			return nil, fmt.Errorf("%w: column %s is %s, not boolean", ErrUnsupportedExpression, n.Name, kind)
		}
		return func(row *models.Row) bool {
			v := fn(row)
			return v.Kind == value.KindBool && v.B
		}, nil

	case expr.Call:
		fn, kind, err := compileValue(s, n)
		if err != nil {
			return nil, err
		}
		if kind != value.KindBool {
			return nil, fmt.Errorf("%w: %s() returns %s, not boolean", ErrUnsupportedExpression, n.Name, kind)
		}
		return func(row *models.Row) bool {
			v := fn(row)
			return v.Kind == value.KindBool && v.B
		}, nil

	default:
		return nil, fmt.Errorf("%w: %T in predicate position", ErrUnsupportedExpression, e)
	}
}

// compileCompare resolves the comparison kind of both operands statically
// and returns a closure coercing row values into that kind.
func compileCompare(s *schema.TableSchema, cmp expr.Compare) (RowPredicate, error) {
	lhs, lk, err := compileValue(s, cmp.LHS)
	if err != nil {
		return nil, err
	}
	rhs, rk, err := compileValue(s, cmp.RHS)
	if err != nil {
		return nil, err
	}
	// Signed vs unsigned integer operands are ordered exactly by Compare;
	// every other mix coerces through a single comparison kind resolved here.
	mixedInts := integerPair(lk, rk)
	var kind value.Kind
	if !mixedInts {
		kind, err = value.ComparisonKind(lk, rk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedExpression, err)
		}
	}
	op := cmp.Op
	return func(row *models.Row) bool {
		a, b := lhs(row), rhs(row)
		if a.IsNull() || b.IsNull() {
			return false
		}
		if !mixedInts {
			var err error
			a, err = value.Cast(a, kind)
			if err != nil {
				return false
			}
			b, err = value.Cast(b, kind)
			if err != nil {
				return false
			}
		}
		c, err := value.Compare(a, b)
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
		default:
			return c >= 0
		}
	}, nil
}

// compileValue compiles an expression into a value evaluator plus its
// static kind.
func compileValue(s *schema.TableSchema, e expr.Expr) (valueFn, value.Kind, error) {
	switch n := e.(type) {
	case expr.Column:
		_, kind, ok := s.Column(n.Name)
		if !ok {
			return nil, value.KindNull, fmt.Errorf("%w: %s", ErrUnknownColumn, n.Name)
		}
		name := n.Name
		return func(row *models.Row) value.Value {
			return ColumnValue(s, row, name)
		}, kind, nil

	case expr.Literal:
		v := n.Value
		return func(*models.Row) value.Value { return v }, v.Kind, nil

	case expr.Cast:
		inner, _, err := compileValue(s, n.Input)
		if err != nil {
			return nil, value.KindNull, err
		}
		to := n.To
		return func(row *models.Row) value.Value {
			out, err := value.Cast(inner(row), to)
			if err != nil {
				return value.Null()
			}
			return out
		}, to, nil

	case expr.Call:
		return compileCall(s, n)

	case expr.Compare, expr.Between, expr.And, expr.Or, expr.Not:
		p, err := compileBool(s, e)
		if err != nil {
			return nil, value.KindNull, err
		}
		return func(row *models.Row) value.Value {
			return value.Bool(p(row))
		}, value.KindBool, nil

	default:
		return nil, value.KindNull, fmt.Errorf("%w: %T operand", ErrUnsupportedExpression, e)
	}
}

// compileCall wires the built-in row functions. Arguments are coerced to
// string; a null argument makes the call null (and thus non-matching in a
// predicate position).
func compileCall(s *schema.TableSchema, call expr.Call) (valueFn, value.Kind, error) {
	args := make([]valueFn, 0, len(call.Args))
	for _, a := range call.Args {
		fn, _, err := compileValue(s, a)
		if err != nil {
			return nil, value.KindNull, err
		}
		args = append(args, fn)
	}

	strArgs := func(row *models.Row) ([]string, bool) {
		out := make([]string, len(args))
		for i, fn := range args {
			v := fn(row)
			if v.IsNull() {
				return nil, false
			}
			cv, err := value.Cast(v, value.KindString)
			if err != nil {
				return nil, false
			}
			out[i] = cv.S
		}
		return out, true
	}

	switch strings.ToLower(call.Name) {
	case "starts_with":
		if len(args) != 2 {
			return nil, value.KindNull, fmt.Errorf("%w: starts_with takes 2 arguments", ErrUnsupportedExpression)
		}
		return func(row *models.Row) value.Value {
			sa, ok := strArgs(row)
			if !ok {
				return value.Null()
			}
			return value.Bool(strings.HasPrefix(sa[0], sa[1]))
		}, value.KindBool, nil

	case "ends_with":
		if len(args) != 2 {
			return nil, value.KindNull, fmt.Errorf("%w: ends_with takes 2 arguments", ErrUnsupportedExpression)
		}
		return func(row *models.Row) value.Value {
			sa, ok := strArgs(row)
			if !ok {
				return value.Null()
			}
			return value.Bool(strings.HasSuffix(sa[0], sa[1]))
		}, value.KindBool, nil

	case "concat":
		return func(row *models.Row) value.Value {
			sa, ok := strArgs(row)
			if !ok {
				return value.Null()
			}
			return value.String(strings.Join(sa, ""))
		}, value.KindString, nil

	case "lower":
		if len(args) != 1 {
			return nil, value.KindNull, fmt.Errorf("%w: lower takes 1 argument", ErrUnsupportedExpression)
		}
		return func(row *models.Row) value.Value {
			sa, ok := strArgs(row)
			if !ok {
				return value.Null()
			}
			return value.String(strings.ToLower(sa[0]))
		}, value.KindString, nil

	case "upper":
		if len(args) != 1 {
			return nil, value.KindNull, fmt.Errorf("%w: upper takes 1 argument", ErrUnsupportedExpression)
		}
		return func(row *models.Row) value.Value {
			sa, ok := strArgs(row)
			if !ok {
				return value.Null()
			}
			return value.String(strings.ToUpper(sa[0]))
		}, value.KindString, nil

	default:
		return nil, value.KindNull, fmt.Errorf("%w: unknown function %s", ErrUnsupportedExpression, call.Name)
	}
}
