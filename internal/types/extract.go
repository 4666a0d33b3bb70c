package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PARAMETER EXTRACTION UTILITIES
// =============================================================================
//
// Intent and task parameters come from decoded JSON (model output, API bodies,
// MCP arguments), so a value may arrive as any of:
//   - string:  "3600", "true", "eth"
//   - float64: JSON numbers
//   - int/int64: parameters built in Go code
//   - bool
//   - nil:     missing or null
// These helpers replace bare type assertions that panic on mismatch.

// ExtractString extracts a string representation from a parameter value.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case time.Duration:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractInt64 extracts an integer. Numeric strings are accepted.
// Returns (0, false) if the value is not a number.
func ExtractInt64(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	default:
		return 0, false
	}
}

// ExtractFloat64 extracts a float. Numeric strings are accepted.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ExtractBool extracts a boolean. "true"/"yes"/"1" style strings are accepted.
// Returns (false, false) if the type is incompatible.
func ExtractBool(arg interface{}) (bool, bool) {
	switch v := arg.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "all":
			return true, true
		case "false", "no", "0":
			return false, true
		}
		return false, false
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	default:
		return false, false
	}
}

// ExtractDuration extracts a duration. Bare numbers are seconds; strings may be
// either a number of seconds or a Go duration ("90m", "1h").
func ExtractDuration(arg interface{}) (time.Duration, bool) {
	d, err := ParseDuration(arg)
	return d, err == nil
}

// ParseDuration is ExtractDuration reporting why a value was rejected.
// Fractional seconds are kept; second counts a time.Duration cannot hold are
// a validation error.
func ParseDuration(arg interface{}) (time.Duration, error) {
	switch v := arg.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, ValidationError("缺少时间间隔")
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return SecondsDuration(f)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, ValidationError("无法识别的时间间隔: %s", s)
		}
		return d, nil
	default:
		if f, ok := ExtractFloat64(v); ok {
			return SecondsDuration(f)
		}
		return 0, ValidationError("无法识别的时间间隔: %v", arg)
	}
}

// maxDurationSeconds is the largest whole second count a time.Duration holds.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// SecondsDuration converts a second count into a duration.
func SecondsDuration(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxDurationSeconds {
		return 0, ValidationError("时间间隔超出范围: %v 秒", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ExtractMap returns a nested object parameter, or nil.
func ExtractMap(arg interface{}) map[string]interface{} {
	if m, ok := arg.(map[string]interface{}); ok {
		return m
	}
	return nil
}
