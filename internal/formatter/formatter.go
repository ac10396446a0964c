package formatter

import (
	"math"
	"strconv"

	"fortio.org/safecast"

	"github.com/bilal/dashline-agent/internal/telemetry"
)

// Frame holds the rounded fields of one dash line.
type Frame struct {
	RPM      int64
	Speed    int64
	Gear     int64
	Fuel     int64 // percent x10
	OilTemp  int64
	Ignition bool
}

// LineFormatter renders a dash line from a property source.
type LineFormatter interface {
	Format(src telemetry.PropertySource) (string, error)
}

// Default is the built-in layout. It never returns an error.
type Default struct{}

func (Default) Format(src telemetry.PropertySource) (string, error) {
	return Format(src), nil
}

var _ LineFormatter = Default{}

// Build reads each field once, left to right.
func Build(src telemetry.PropertySource) Frame {
	var f Frame
	f.RPM = Round(src.Number(telemetry.PropRPM).Or(0))
	f.Speed = Round(src.Number(telemetry.PropSpeedKmh).Or(0))
	f.Gear = Round(src.Number(telemetry.PropGear).Or(0))
	// Fuel falls back to 0 rather than 100; consumers calibrate against that.
	f.Fuel = Round(src.Number(telemetry.PropFuelPercent).Or(0) * 10)
	f.OilTemp = Round(src.Number(telemetry.PropOilTemp).Or(0))
	f.Ignition = src.Bool(telemetry.PropIgnition)
	return f
}

// Format renders the line for src.
func Format(src telemetry.PropertySource) string {
	return Build(src).String()
}

// Round rounds half up toward +Inf (2.5 -> 3, -2.5 -> -2). Values that are
// not finite or do not fit in an int64 round to 0.
func Round(x float64) int64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	r := math.Floor(x)
	if x-r >= 0.5 {
		r++
	}
	n, err := safecast.Convert[int64](r)
	if err != nil {
		return 0
	}
	return n
}

// AppendTo appends the rendered line to buf.
func (f Frame) AppendTo(buf []byte) []byte {
	buf = append(buf, "S,RPM="...)
	buf = strconv.AppendInt(buf, f.RPM, 10)
	buf = append(buf, ",SPD="...)
	buf = strconv.AppendInt(buf, f.Speed, 10)
	buf = append(buf, ",GEAR="...)
	buf = strconv.AppendInt(buf, f.Gear, 10)
	buf = append(buf, ",FUEL="...)
	buf = strconv.AppendInt(buf, f.Fuel, 10)
	buf = append(buf, ",OIL="...)
	buf = strconv.AppendInt(buf, f.OilTemp, 10)
	buf = append(buf, ",IGN="...)
	if f.Ignition {
		buf = append(buf, '1')
	} else {
		buf = append(buf, '0')
	}
	return append(buf, '\n')
}

func (f Frame) String() string {
	return string(f.AppendTo(make([]byte, 0, 64)))
}
