// Package normalize reduces source-native timestamps and message bodies to
// the canonical forms stored for every message.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// AppleEpochOffset is 2001-01-01T00:00:00Z in unix seconds.
	AppleEpochOffset = 978307200

	// MaxContentLength is the stored content cap, counted in runes (Unicode
	// code points), not bytes. Truncation never splits a multibyte character.
	MaxContentLength = 100000

	cocoaNanosThreshold  = 1_000_000_000_000_000 // 1e15
	cocoaMicrosThreshold = 1_000_000_000_000     // 1e12
	unixMillisThreshold  = 1e12
)

// Now is swapped in tests.
var Now = func() time.Time { return time.Now().UTC() }

// CocoaTime decodes an Apple Cocoa timestamp. chat.db stores seconds on old
// macOS releases and nanoseconds on newer ones; some exports use microseconds.
func CocoaTime(v int64) time.Time {
	switch {
	case v > cocoaNanosThreshold:
		return time.Unix(AppleEpochOffset, v).UTC()
	case v > cocoaMicrosThreshold:
		return time.Unix(AppleEpochOffset, 0).Add(time.Duration(v) * time.Microsecond).UTC()
	default:
		// Seconds go straight into time.Unix; a Duration overflows past ~292 years.
		return time.Unix(AppleEpochOffset+v, 0).UTC()
	}
}

// UnixSeconds converts fractional unix seconds, keeping millisecond precision.
func UnixSeconds(f float64) time.Time {
	return time.UnixMilli(int64(math.Round(f * 1000))).UTC()
}

// UnixNumber interprets a bare number as unix milliseconds when it is large
// enough to be one, otherwise as unix seconds.
func UnixNumber(f float64) time.Time {
	if math.Abs(f) >= unixMillisThreshold {
		return time.UnixMilli(int64(math.Round(f))).UTC()
	}
	return UnixSeconds(f)
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"Jan 2, 2006, 3:04:05 PM",
	"January 2, 2006 at 3:04:05 PM",
}

// ParseTime parses the date strings seen across exports. Zone-less values
// are read as UTC. Numeric strings (Slack "1700000000.000100") are epochs.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return UnixNumber(f), true
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseAny accepts a decoded JSON value holding a timestamp.
func ParseAny(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		return ParseTime(t)
	case float64:
		return UnixNumber(t), true
	case int64:
		return UnixNumber(float64(t)), true
	case int:
		return UnixNumber(float64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return UnixNumber(f), true
	case time.Time:
		return t.UTC(), true
	}
	return time.Time{}, false
}

// TimeOrNow returns the first value that parses, falling back to Now.
// Unparseable dates never fail a record.
func TimeOrNow(candidates ...any) time.Time {
	for _, c := range candidates {
		if t, ok := ParseAny(c); ok {
			return t
		}
	}
	return Now()
}

// ExtractText flattens a message body: a plain string, an array of typed
// content blocks (text-bearing blocks joined with newlines), or a nested
// object carrying text/parts/content.
func ExtractText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		var parts []string
		for _, block := range t {
			if s := blockText(block); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if s, ok := t["text"].(string); ok && s != "" {
			return s
		}
		if parts, ok := t["parts"].([]any); ok {
			return StringParts(parts)
		}
		if inner, ok := t["content"]; ok {
			return ExtractText(inner)
		}
	}
	return ""
}

func blockText(block any) string {
	switch b := block.(type) {
	case string:
		return b
	case map[string]any:
		if s, ok := b["text"].(string); ok && s != "" {
			return s
		}
		if s, ok := b["content"].(string); ok {
			return s
		}
	}
	return ""
}

// StringParts joins only the string entries of a parts array.
func StringParts(parts []any) string {
	var out []string
	for _, p := range parts {
		if s, ok := p.(string); ok {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate returns the first max runes of s.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// FirstString returns the first non-empty string value under keys.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
