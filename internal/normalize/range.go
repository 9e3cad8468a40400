package normalize

import (
	"github.com/stratumdb/stratum/internal/value"
)

// Bound is one end of a canonical range.
type Bound struct {
	Value     value.Value
	Inclusive bool
}

// Range is the canonical [lower, upper] constraint collected for a single
// column. Bounds are held in the range's comparison kind; a nil bound is
// unbounded. A range where lower > upper is valid and matches no rows
// (a BETWEEN with swapped operands produces exactly that).
type Range struct {
	Kind value.Kind
	Lo   *Bound
	Hi   *Bound
}

// Empty reports whether the range can match no value at all.
func (r *Range) Empty() bool {
	if r.Lo == nil || r.Hi == nil {
		return false
	}
	c, err := value.Compare(r.Lo.Value, r.Hi.Value)
	if err != nil {
		return false
	}
	if c > 0 {
		return true
	}
	if c == 0 && (!r.Lo.Inclusive || !r.Hi.Inclusive) {
		return true
	}
	return false
}

// Contains reports whether v falls inside the range. v is coerced to the
// range's comparison kind; a null or uncoercible value is outside.
func (r *Range) Contains(v value.Value) bool {
	if v.IsNull() {
		return false
	}
	cv, err := value.Cast(v, r.Kind)
	if err != nil {
		return false
	}
	if r.Lo != nil {
		c, err := value.Compare(cv, r.Lo.Value)
		if err != nil || c < 0 || (c == 0 && !r.Lo.Inclusive) {
			return false
		}
	}
	if r.Hi != nil {
		c, err := value.Compare(cv, r.Hi.Value)
		if err != nil || c > 0 || (c == 0 && !r.Hi.Inclusive) {
			return false
		}
	}
	return true
}

// tightenLower narrows the lower bound to the stricter of the existing and
// the new bound. Conjunction semantics: the intersection always wins.
func (r *Range) tightenLower(v value.Value, inclusive bool) {
	if r.Lo == nil {
		r.Lo = &Bound{Value: v, Inclusive: inclusive}
		return
	}
	c, err := value.Compare(v, r.Lo.Value)
	if err != nil {
		return
	}
	if c > 0 || (c == 0 && r.Lo.Inclusive && !inclusive) {
		r.Lo = &Bound{Value: v, Inclusive: inclusive}
	}
}

// tightenUpper narrows the upper bound, mirroring tightenLower.
func (r *Range) tightenUpper(v value.Value, inclusive bool) {
	if r.Hi == nil {
		r.Hi = &Bound{Value: v, Inclusive: inclusive}
		return
	}
	c, err := value.Compare(v, r.Hi.Value)
	if err != nil {
		return
	}
	if c < 0 || (c == 0 && r.Hi.Inclusive && !inclusive) {
		r.Hi = &Bound{Value: v, Inclusive: inclusive}
	}
}
