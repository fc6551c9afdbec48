package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedTimestamp is returned when a value looks like a structured
// timestamp but cannot be converted to an instant.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// maxEpochMillis is the largest instant, in either direction, a JavaScript
// Date can hold. Timestamps beyond it have no ISO-8601 rendering.
const maxEpochMillis = 8.64e15

// isoLayout renders UTC instants with millisecond precision and a literal Z.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is a structured point in time: whole seconds since the Unix
// epoch plus a sub-second component in nanoseconds.
//
// It is encoded the way document stores serialize their timestamps.
type Timestamp struct {
	Seconds     float64 `json:"_seconds"`
	Nanoseconds float64 `json:"_nanoseconds"`
}

// Millis returns the instant as epoch milliseconds.
func (t Timestamp) Millis() float64 {
	return t.Seconds*1000 + t.Nanoseconds/1e6
}

// ISO returns the ISO-8601 UTC rendering of the instant.
func (t Timestamp) ISO() (string, error) {
	return FormatISO(t.Millis())
}

// FormatISO renders epoch milliseconds as an ISO-8601 UTC string.
//
// Fractional milliseconds are truncated toward zero. Years outside
// 0000..9999 use the expanded six digit form with an explicit sign.
func FormatISO(ms float64) (string, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return "", fmt.Errorf("%w: instant %v ms out of range", ErrMalformedTimestamp, ms)
	}
	t := time.UnixMilli(int64(math.Trunc(ms))).UTC()
	year := t.Year()
	if year >= 0 && year <= 9999 {
		return t.Format(isoLayout), nil
	}
	sign := "+"
	if year < 0 {
		sign = "-"
		year = -year
	}
	return fmt.Sprintf("%s%06d%s", sign, year, t.Format("-01-02T15:04:05.000Z")), nil
}

// Normalize converts a record into spreadsheet-safe values.
//
// Every timestamp-shaped value is replaced by its ISO-8601 string; all other
// values, nil included, are kept in place so column positions do not shift.
// The input is not modified. A nil record normalizes to an empty record.
func Normalize(rec *Record) (*Record, error) {
	out := New()
	for _, f := range rec.Fields() {
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out.Set(f.Name, v)
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return FormatISO(float64(val.UnixMilli()))
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return FormatISO(float64(val.UnixMilli()))
	case Timestamp:
		return val.ISO()
	case *Timestamp:
		if val == nil {
			return nil, nil
		}
		return val.ISO()
	}

	ts, ok, err := AsTimestamp(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return v, nil
	}
	return ts.ISO()
}

// AsTimestamp detects a structured timestamp inside a nested object.
//
// An object carrying "_seconds" or "seconds" is a timestamp and must also
// carry a numeric "_nanoseconds" or "nanoseconds". Detection is by key
// presence, so a zero seconds value is still a timestamp.
func AsTimestamp(v any) (Timestamp, bool, error) {
	var get func(string) (any, bool)
	switch val := v.(type) {
	case *Record:
		if val == nil {
			return Timestamp{}, false, nil
		}
		get = val.Get
	case map[string]any:
		get = func(k string) (any, bool) {
			x, ok := val[k]
			return x, ok
		}
	default:
		return Timestamp{}, false, nil
	}

	secKey, ok := firstKey(get, "_seconds", "seconds")
	if !ok {
		return Timestamp{}, false, nil
	}
	rawSec, _ := get(secKey)
	sec, ok := toFloat(rawSec)
	if !ok {
		return Timestamp{}, true, fmt.Errorf("%w: %s is %T, want number", ErrMalformedTimestamp, secKey, rawSec)
	}
	nsKey, present := firstKey(get, "_nanoseconds", "nanoseconds")
	if !present {
		return Timestamp{}, true, fmt.Errorf("%w: missing nanoseconds", ErrMalformedTimestamp)
	}
	rawNs, _ := get(nsKey)
	ns, ok := toFloat(rawNs)
	if !ok {
		return Timestamp{}, true, fmt.Errorf("%w: %s is %T, want number", ErrMalformedTimestamp, nsKey, rawNs)
	}
	return Timestamp{Seconds: sec, Nanoseconds: ns}, true, nil
}

func firstKey(get func(string) (any, bool), keys ...string) (string, bool) {
	for _, k := range keys {
		if _, ok := get(k); ok {
			return k, true
		}
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
