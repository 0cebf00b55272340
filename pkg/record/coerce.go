package record

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var countPattern = regexp.MustCompile(`^([0-9][0-9,]*(?:\.[0-9]+)?)\s*([KkMmBb])?(?:[^A-Za-z]|$)`)

// coerceCount converts a loosely typed count to a non-negative integer.
// ok is false when v is absent, negative, or unparseable.
func coerceCount(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return nonNegative(int64(n))
	case int8:
		return nonNegative(int64(n))
	case int16:
		return nonNegative(int64(n))
	case int32:
		return nonNegative(int64(n))
	case int64:
		return nonNegative(n)
	case uint:
		return clampUint(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return clampUint(n)
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return nonNegative(i)
		}
		if f, err := n.Float64(); err == nil {
			return fromFloat(f)
		}
		return 0, false
	case string:
		return parseCount(n)
	case fmt.Stringer:
		if str, ok := stringOf(n); ok {
			return parseCount(str)
		}
	}
	return 0, false
}

// parseCount parses counts as platforms display them: "12", "1,234",
// "1.2K", "3M views". "No views" is a real zero.
func parseCount(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(strings.ToLower(s), "no ") {
		return 0, true
	}
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		f *= 1e3
	case "M":
		f *= 1e6
	case "B":
		f *= 1e9
	}
	return fromFloat(math.Round(f))
}

func nonNegative(n int64) (int64, bool) {
	if n < 0 {
		return 0, false
	}
	return n, true
}

func clampUint(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(n), true
}

func fromFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(f), true
}

// timeLayouts are tried before falling back to dateparse, which
// reads zone-less input as UTC.
var timeLayouts = []string{time.RFC3339Nano, time.RubyDate}

// coerceTime converts a loosely typed timestamp. ok is false when the value
// is absent or unparseable.
func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t.UTC(), !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		return parseTime(t)
	}
	if n, ok := coerceCount(v); ok && n > 0 {
		return fromUnix(n), true
	}
	return time.Time{}, false
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		return fromUnix(n), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// fromUnix accepts seconds or milliseconds since the epoch.
func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// coerceString renders scalar values as text; anything else is empty.
func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e18 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", s)
	case fmt.Stringer:
		if str, ok := stringOf(s); ok {
			return str
		}
	}
	return ""
}

// stringOf calls String on s. ok is false for typed nils and for
// String methods that panic.
func stringOf(s fmt.Stringer) (str string, ok bool) {
	switch v := reflect.ValueOf(s); v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return "", false
		}
	}
	defer func() {
		if recover() != nil {
			str, ok = "", false
		}
	}()
	return s.String(), true
}
