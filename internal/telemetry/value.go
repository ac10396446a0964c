package telemetry

// Value is a numeric property reading that may be absent.
type Value struct {
	n  float64
	ok bool
}

// Absent is the reading for a property that was not found, was null or
// could not be interpreted as a number.
var Absent = Value{}

// Some wraps a present reading.
func Some(n float64) Value {
	return Value{n: n, ok: true}
}

// Present reports whether the property produced a usable number.
func (v Value) Present() bool {
	return v.ok
}

// Or returns the reading, or def when the reading is absent.
func (v Value) Or(def float64) float64 {
	if !v.ok {
		return def
	}
	return v.n
}
