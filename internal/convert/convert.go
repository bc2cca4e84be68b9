// Package convert coerces the loosely typed values found in records, configs
// and execution contexts.
package convert

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// String renders v the way a user would expect to see it. nil renders as "".
func String(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Float converts numbers and numeric strings to float64.
func Float(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int converts v to an int, truncating fractions.
func Int(v interface{}) (int, bool) {
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool reports the truthiness of a config flag.
func Bool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		return err == nil && b
	case nil:
		return false
	default:
		f, ok := Float(t)
		return ok && f != 0
	}
}

// Strings converts a []string or []interface{} to []string. A single string
// becomes a one element slice.
func Strings(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := String(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses timestamps given as time.Time, RFC 3339 or date strings, or
// unix milliseconds.
func Time(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date %q", t)
	default:
		if ms, ok := Float(v); ok {
			return time.UnixMilli(int64(ms)), nil
		}
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
}

// Clone deep-copies maps and slices decoded from JSON or YAML so the copy
// can be handed to another goroutine. Other values are returned as is.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// CloneMap deep-copies m. A nil map stays nil.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}
