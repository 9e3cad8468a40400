package value

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the runtime type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindTimestamp // nanoseconds since epoch, UTC
)

// String returns the SQL-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOLEAN"
	case KindInt:
		return "BIGINT"
	case KindUint:
		return "BIGINT UNSIGNED"
	case KindFloat:
		return "DOUBLE"
	case KindString:
		return "STRING"
	case KindTimestamp:
		return "TIMESTAMP"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a tagged variant holding one comparable engine value.
// Timestamps are nanoseconds since epoch and share the I field with integers.
type Value struct {
	Kind Kind
	I    int64
	U    uint64
	F    float64
	S    string
	B    bool
}

func Null() Value              { return Value{Kind: KindNull} }
func Bool(b bool) Value        { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value        { return Value{Kind: KindInt, I: i} }
func Uint(u uint64) Value      { return Value{Kind: KindUint, U: u} }
func Float(f float64) Value    { return Value{Kind: KindFloat, F: f} }
func String(s string) Value    { return Value{Kind: KindString, S: s} }
func Timestamp(ns int64) Value { return Value{Kind: KindTimestamp, I: ns} }

// TimestampOf builds a timestamp value from a time.Time in nanoseconds UTC.
func TimestampOf(t time.Time) Value { return Value{Kind: KindTimestamp, I: t.UTC().UnixNano()} }

// IsNull reports whether v carries no value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Format renders v in its canonical textual form, which is also the form
// used when a value is cast to STRING.
func (v Value) Format() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindUint:
		return strconv.FormatUint(v.U, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindString:
		return v.S
	case KindTimestamp:
		return time.Unix(0, v.I).UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func isNumeric(k Kind) bool {
	return k == KindInt || k == KindUint || k == KindFloat
}

// ComparisonKind resolves the kind under which values of kinds a and b are
// ordered against each other. The resolution happens once, at predicate
// normalization time, never per row.
//
// Rules:
//   - identical kinds compare as themselves
//   - numeric kinds mixed with DOUBLE widen to DOUBLE
//   - BIGINT vs BIGINT UNSIGNED has no lossless common kind; Compare orders
//     the pair directly by sign and magnitude
//   - TIMESTAMP vs STRING: the string is parsed chronologically
//   - TIMESTAMP vs integer: the integer is taken as nanoseconds
//   - STRING vs numeric requires an explicit CAST and has no implicit path
func ComparisonKind(a, b Kind) (Kind, error) {
	if a == b {
		return a, nil
	}
	if isNumeric(a) && isNumeric(b) {
		if a == KindFloat || b == KindFloat {
			return KindFloat, nil
		}
		// Widening either integer kind to float collapses distinct values
		// above 2^53; callers compare the pair without a common kind.
		return KindNull, fmt.Errorf("no single comparison kind for %s and %s", a, b)
	}
	if a == KindTimestamp && (b == KindString || b == KindInt || b == KindUint) {
		return KindTimestamp, nil
	}
	if b == KindTimestamp && (a == KindString || a == KindInt || a == KindUint) {
		return KindTimestamp, nil
	}
	return KindNull, fmt.Errorf("no ordering between %s and %s", a, b)
}

// Cast converts v to the target kind. Null is preserved as null for every
// target. An impossible conversion (bad timestamp literal, non-numeric
// string cast to a number) returns an error.
func Cast(v Value, to Kind) (Value, error) {
	if v.Kind == to || v.Kind == KindNull {
		return v, nil
	}
	switch to {
	case KindString:
		return String(v.Format()), nil
	case KindFloat:
		switch v.Kind {
		case KindInt:
			return Float(float64(v.I)), nil
		case KindUint:
			return Float(float64(v.U)), nil
		case KindString:
			f, err := strconv.ParseFloat(v.S, 64)
			if err != nil {
				return Null(), fmt.Errorf("cannot cast %q to %s", v.S, to)
			}
			return Float(f), nil
		}
	case KindInt:
		switch v.Kind {
		case KindUint:
			if v.U > 1<<63-1 {
				return Null(), fmt.Errorf("unsigned value %d overflows %s", v.U, to)
			}
			return Int(int64(v.U)), nil
		case KindFloat:
			return Int(int64(v.F)), nil
		case KindString:
			i, err := strconv.ParseInt(v.S, 10, 64)
			if err != nil {
				return Null(), fmt.Errorf("cannot cast %q to %s", v.S, to)
			}
			return Int(i), nil
		case KindTimestamp:
			return Int(v.I), nil
		}
	case KindUint:
		switch v.Kind {
		case KindInt:
			if v.I < 0 {
				return Null(), fmt.Errorf("negative value %d overflows %s", v.I, to)
			}
			return Uint(uint64(v.I)), nil
		case KindFloat:
			if v.F < 0 {
				return Null(), fmt.Errorf("negative value %g overflows %s", v.F, to)
			}
			return Uint(uint64(v.F)), nil
		case KindString:
			u, err := strconv.ParseUint(v.S, 10, 64)
			if err != nil {
				return Null(), fmt.Errorf("cannot cast %q to %s", v.S, to)
			}
			return Uint(u), nil
		}
	case KindTimestamp:
		switch v.Kind {
		case KindInt:
			return Timestamp(v.I), nil
		case KindUint:
			return Timestamp(int64(v.U)), nil
		case KindString:
			t, err := ParseTimestamp(v.S)
			if err != nil {
				return Null(), err
			}
			return TimestampOf(t), nil
		}
	case KindBool:
		if v.Kind == KindString {
			b, err := strconv.ParseBool(v.S)
			if err != nil {
				return Null(), fmt.Errorf("cannot cast %q to %s", v.S, to)
			}
			return Bool(b), nil
		}
	}
	return Null(), fmt.Errorf("cannot cast %s to %s", v.Kind, to)
}

// Compare orders two values of the same kind, plus the one mixed pair with
// an exact ordering: signed against unsigned integers compare by sign and
// magnitude, never through float. Every other mixed pair must already be
// coerced to a common comparison kind (see ComparisonKind and Cast) and is
// reported as a programming error.
//
// Strings order byte-wise: multi-byte sequences are opaque bytes, not
// locale-aware collation.
func Compare(a, b Value) (int, error) {
	if a.Kind != b.Kind {
		switch {
		case a.Kind == KindInt && b.Kind == KindUint:
			return compareIntUint(a.I, b.U), nil
		case a.Kind == KindUint && b.Kind == KindInt:
			return -compareIntUint(b.I, a.U), nil
		}
		return 0, fmt.Errorf("comparing %s against %s without coercion", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindBool:
		switch {
		case a.B == b.B:
			return 0, nil
		case !a.B:
			return -1, nil
		default:
			return 1, nil
		}
	case KindInt, KindTimestamp:
		return cmpOrdered(a.I, b.I), nil
	case KindUint:
		return cmpOrdered(a.U, b.U), nil
	case KindFloat:
		return cmpOrdered(a.F, b.F), nil
	case KindString:
		return cmpOrdered(a.S, b.S), nil
	default:
		return 0, fmt.Errorf("%s values have no ordering", a.Kind)
	}
}

// compareIntUint orders a signed integer against an unsigned one exactly.
func compareIntUint(i int64, u uint64) int {
	if i < 0 {
		return -1
	}
	return cmpOrdered(uint64(i), u)
}

func cmpOrdered[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// timestampFormats lists the literal layouts accepted in predicates,
// most specific first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// ParseTimestamp parses a timestamp literal in one of the supported layouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse timestamp literal: %s", s)
}
