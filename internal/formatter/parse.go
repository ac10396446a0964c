package formatter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedLine is wrapped by every Parse failure.
var ErrMalformedLine = errors.New("malformed dash line")

var fieldKeys = [...]string{"RPM", "SPD", "GEAR", "FUEL", "OIL", "IGN"}

// Parse decodes a line produced by Format. It is strict about marker,
// field order, integer spelling and the single trailing newline.
func Parse(line string) (Frame, error) {
	var f Frame

	body, ok := strings.CutSuffix(line, "\n")
	if !ok {
		return f, fmt.Errorf("%w: missing trailing newline", ErrMalformedLine)
	}
	if strings.ContainsAny(body, "\r\n") {
		return f, fmt.Errorf("%w: embedded line break", ErrMalformedLine)
	}

	parts := strings.Split(body, ",")
	if parts[0] != "S" {
		return f, fmt.Errorf("%w: bad frame marker %q", ErrMalformedLine, parts[0])
	}
	if len(parts) != len(fieldKeys)+1 {
		return f, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedLine, len(fieldKeys), len(parts)-1)
	}

	vals := make([]int64, len(fieldKeys))
	for i, key := range fieldKeys {
		k, v, found := strings.Cut(parts[i+1], "=")
		if !found || k != key {
			return f, fmt.Errorf("%w: field %d: expected %s=", ErrMalformedLine, i+1, key)
		}
		n, err := parseInt(v)
		if err != nil {
			return f, fmt.Errorf("%w: field %s: %v", ErrMalformedLine, key, err)
		}
		vals[i] = n
	}

	ign := vals[5]
	if ign != 0 && ign != 1 {
		return f, fmt.Errorf("%w: IGN must be 0 or 1, got %d", ErrMalformedLine, ign)
	}

	f = Frame{
		RPM:      vals[0],
		Speed:    vals[1],
		Gear:     vals[2],
		Fuel:     vals[3],
		OilTemp:  vals[4],
		Ignition: ign == 1,
	}
	return f, nil
}

// parseInt accepts only the canonical spelling AppendInt produces: an
// optional '-', no '+', no leading zeros and no "-0".
func parseInt(v string) (int64, error) {
	digits := strings.TrimPrefix(v, "-")
	switch {
	case digits == "":
		return 0, fmt.Errorf("empty value %q", v)
	case digits[0] == '0' && len(v) > 1:
		return 0, fmt.Errorf("non-canonical integer %q", v)
	case digits[0] < '0' || digits[0] > '9':
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return strconv.ParseInt(v, 10, 64)
}
