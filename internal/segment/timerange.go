package segment

import "math"

// TimeRange is a closed interval of nanosecond timestamps.
type TimeRange struct {
	Min int64
	Max int64
}

// Universe is the unbounded time range.
func Universe() TimeRange {
	return TimeRange{Min: math.MinInt64, Max: math.MaxInt64}
}

// Valid reports whether the range can contain any timestamp.
func (tr TimeRange) Valid() bool { return tr.Min <= tr.Max }

// Contains reports whether ts falls inside the range.
func (tr TimeRange) Contains(ts int64) bool { return ts >= tr.Min && ts <= tr.Max }

// Overlaps reports whether the two closed intervals intersect.
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Min <= other.Max && tr.Max >= other.Min
}

// Intersect returns the overlap of the two ranges. The result may be
// invalid (Min > Max) when they do not overlap.
func (tr TimeRange) Intersect(other TimeRange) TimeRange {
	out := tr
	if other.Min > out.Min {
		out.Min = other.Min
	}
	if other.Max < out.Max {
		out.Max = other.Max
	}
	return out
}
