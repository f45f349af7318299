// Package vector holds the consumer-visible tables built from engine data:
// the per-run data table (vector name to accumulated values) and the
// metadata table (vector name to index and real flag).
//
// Tables handed out to readers are shared. Shared tables are never mutated
// in place; writers clone first (copy-on-write).
package vector

import "strconv"

// Value is one sample of a vector: a real scalar or a complex pair.
type Value struct {
	Re      float64
	Im      float64
	Complex bool
}

// Real returns a real-valued sample.
func Real(v float64) Value {
	return Value{Re: v}
}

// Cplx returns a complex sample.
func Cplx(re, im float64) Value {
	return Value{Re: re, Im: im, Complex: true}
}

// String formats the value as a scalar or "{re im}" pair.
func (v Value) String() string {
	if !v.Complex {
		return formatFloat(v.Re)
	}
	return "{" + formatFloat(v.Re) + " " + formatFloat(v.Im) + "}"
}

// canonical returns the float-free form used in canonical JSON: a decimal
// string, or a two-element array of decimal strings.
func (v Value) canonical() any {
	if !v.Complex {
		return formatFloat(v.Re)
	}
	return []any{formatFloat(v.Re), formatFloat(v.Im)}
}

// formatFloat uses the shortest representation that round-trips.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
