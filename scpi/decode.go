package scpi

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValueKind discriminates the variants of a decoded Value.
type ValueKind uint8

const (
	// KindFloat is a scalar numeric value.
	KindFloat ValueKind = iota
	// KindTime is an absolute timestamp value.
	KindTime
	// KindString is a token that decoded as neither number nor timestamp.
	KindString
	// KindGroup is a vector channel value grouped by dimension expansion.
	KindGroup
)

// Value is one decoded payload value. Exactly one of the variant fields is
// meaningful, selected by Kind.
type Value struct {
	Kind  ValueKind
	Float float64
	Time  time.Time
	Str   string
	Group []Value
}

// FloatValue wraps a scalar numeric value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// TimeValue wraps an absolute timestamp value.
func TimeValue(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// StringValue wraps an opaque string token.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// GroupValue wraps a vector channel value.
func GroupValue(vs []Value) Value { return Value{Kind: KindGroup, Group: vs} }

// deviceTimeLayout parses device timestamps after their timezone offset has
// been normalized from "+02:00" to "+0200". Sub-second digits vary in length.
const deviceTimeLayout = "2006-01-02T15:04:05.999999-0700"

// DecodeValues decodes a numeric query payload. The payload must already be
// stripped of its echo header and trailing line terminator.
//
// Payloads beginning with '#' are binary float32 blocks in the byte order
// given by format; anything else is a comma-separated ASCII value list.
func DecodeValues(payload []byte, format NumberFormat) ([]Value, error) {
	if len(payload) > 2 && payload[0] == '#' {
		return decodeBinary(payload, format)
	}
	return decodeASCII(string(payload)), nil
}

// decodeBinary decodes a binary block of the form
//
//	'#' <n> <n digits of payload length L> <L bytes of float32>
//
// where the float byte order is little-endian unless the Motorola format is
// configured.
func decodeBinary(data []byte, format NumberFormat) ([]Value, error) {
	if data[1] < '0' || data[1] > '9' {
		return nil, fmt.Errorf("%w: binary block length-digit count %q is not a digit", ErrDecode, data[1])
	}
	numLenDigits := int(data[1] - '0')
	if numLenDigits == 0 {
		return nil, fmt.Errorf("%w: binary block has zero length digits", ErrDecode)
	}
	if len(data) < 2+numLenDigits {
		return nil, fmt.Errorf("%w: binary block truncated in length field", ErrDecode)
	}

	length, err := strconv.Atoi(string(data[2 : 2+numLenDigits]))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed binary block length field: %v", ErrDecode, err)
	}
	if length%4 != 0 {
		return nil, fmt.Errorf("%w: binary block length %d not divisible by 4", ErrDecode, length)
	}
	if len(data) < 2+numLenDigits+length {
		return nil, fmt.Errorf("%w: binary block truncated, need %d payload bytes, have %d",
			ErrDecode, length, len(data)-2-numLenDigits)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if format == FormatBinaryMotorola {
		order = binary.BigEndian
	}

	block := data[2+numLenDigits : 2+numLenDigits+length]
	values := make([]Value, 0, length/4)
	for i := 0; i < length; i += 4 {
		bits := order.Uint32(block[i : i+4])
		values = append(values, FloatValue(float64(math.Float32frombits(bits))))
	}

	return values, nil
}

// decodeASCII splits a comma-separated value list. Each token is tried as a
// float, then as a device timestamp; anything else is kept as an opaque
// string token.
func decodeASCII(data string) []Value {
	tokens := strings.Split(data, ",")
	values := make([]Value, 0, len(tokens))
	for _, token := range tokens {
		if f, err := strconv.ParseFloat(token, 64); err == nil {
			values = append(values, FloatValue(f))
			continue
		}
		if t, ok := parseDeviceTime(token); ok {
			values = append(values, TimeValue(t))
			continue
		}
		values = append(values, StringValue(token))
	}
	return values
}

// parseDeviceTime parses a device timestamp token such as
// "2017-10-10T12:16:52.33136+02:00". The timezone offset is written with a
// colon, which must be removed before the strict layout parse.
func parseDeviceTime(token string) (time.Time, bool) {
	s := strings.ReplaceAll(token, `"`, "")
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return time.Time{}, false
	}
	s = s[:idx] + s[idx+1:]

	t, err := time.Parse(deviceTimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ExpandDimensions walks the flat decoded value sequence once and groups it
// by per-channel dimension: a channel with dimension <= 1 consumes one
// scalar, a channel with dimension > 1 consumes a sub-sequence of that
// length as a single group. Channel order is preserved.
//
// A nil dimension vector returns the flat sequence unmodified.
func ExpandDimensions(values []Value, dims []int) ([]Value, error) {
	if dims == nil {
		return values, nil
	}

	expanded := make([]Value, 0, len(dims))
	idx := 0
	for _, dim := range dims {
		width := dim
		if width < 1 {
			width = 1
		}
		if idx+width > len(values) {
			return nil, fmt.Errorf("%w: value sequence exhausted, %d values left for dimension %d",
				ErrDecode, len(values)-idx, dim)
		}
		if dim <= 1 {
			expanded = append(expanded, values[idx])
		} else {
			expanded = append(expanded, GroupValue(values[idx:idx+width]))
		}
		idx += width
	}

	return expanded, nil
}

// ParseDimensions parses a dimension query reply such as "1,3,1" into the
// per-channel dimension vector.
func ParseDimensions(reply string) ([]int, error) {
	tokens := strings.Split(strings.TrimSpace(reply), ",")
	dims := make([]int, 0, len(tokens))
	for _, token := range tokens {
		dim, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			return nil, fmt.Errorf("%w: malformed dimension token %q", ErrDecode, token)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}
