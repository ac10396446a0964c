package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Property names read from the host.
const (
	PropRPM         = "Rpms"
	PropSpeedKmh    = "SpeedKmh"
	PropGear        = "Gear"
	PropFuelPercent = "FuelPercent"
	PropOilTemp     = "OilTemperature"
	PropIgnition    = "EngineIgnitionOn"
)

// PropertySource exposes named telemetry values. Implementations never fail:
// anything missing or malformed comes back as Absent or false.
type PropertySource interface {
	Number(name string) Value
	Bool(name string) bool
}

// Snapshot is one poll's worth of raw host properties.
type Snapshot map[string]any

func (s Snapshot) Number(name string) Value {
	return toNumber(s[name])
}

func (s Snapshot) Bool(name string) bool {
	return truthy(s[name])
}

// LookupFunc is the raw host capability. It may fail or panic.
type LookupFunc func(name string) (any, error)

// FromLookup adapts a host lookup into a PropertySource. Errors and panics
// from fn are turned into missing values.
func FromLookup(fn LookupFunc) PropertySource {
	return guardedLookup{fn: fn}
}

type guardedLookup struct {
	fn LookupFunc
}

func (g guardedLookup) Number(name string) Value {
	return toNumber(g.get(name))
}

func (g guardedLookup) Bool(name string) bool {
	return truthy(g.get(name))
}

func (g guardedLookup) get(name string) (v any) {
	if g.fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("property", name).Interface("panic", r).Msg("property lookup panicked")
			v = nil
		}
	}()
	raw, err := g.fn(name)
	if err != nil {
		log.Debug().Err(err).Str("property", name).Msg("property lookup failed")
		return nil
	}
	return raw
}

func toNumber(raw any) Value {
	var f float64
	switch v := raw.(type) {
	case nil:
		return Absent
	case bool:
		if !v {
			return Absent
		}
		f = 1
	case string:
		parsed, ok := parseNumeric(v)
		if !ok {
			return Absent
		}
		f = parsed
	default:
		n, ok := asFloat(raw)
		if !ok {
			return Absent
		}
		f = n
	}
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return Absent
	}
	return Some(f)
}

// parseNumeric reads a numeric string the way a host script would: trimmed,
// decimal or unsigned 0x/0o/0b integer literals.
func parseNumeric(v string) (float64, bool) {
	s := strings.TrimSpace(v)
	if s == "" {
		return 0, false
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return 0, false
			}
			return float64(n), true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}
	if f, ok := asFloat(raw); ok {
		return f != 0 && !math.IsNaN(f)
	}
	// maps, slices and other composite values count as set
	return true
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return math.NaN(), true
		}
		return f, true
	}
	return 0, false
}
