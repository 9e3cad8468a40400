package models

import "github.com/stratumdb/stratum/internal/value"

// Row is a single time-series data point: one timestamp, the tag values
// that locate its series and the measured field values. This is the
// internal format used throughout Stratum. Rows are immutable once sealed
// into a segment; a query owns the rows it receives only for the duration
// of its execution.
type Row struct {
	// Time is nanoseconds since epoch.
	Time int64

	// Tags are the low-cardinality dimension values. A missing key is a
	// null tag value.
	Tags map[string]string

	// Fields are the measured values. A missing key is a null field value.
	Fields map[string]value.Value
}

// Clone returns a deep copy of the row. Segment builders clone on append so
// callers may reuse their maps.
func (r Row) Clone() Row {
	out := Row{Time: r.Time}
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	if r.Fields != nil {
		out.Fields = make(map[string]value.Value, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
