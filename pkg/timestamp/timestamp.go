// Package timestamp provides standardized timestamp handling for the data
// plane. Unix milliseconds (int64, UTC) are the canonical in-process format;
// RFC3339 UTC strings are the wire and identity-key format. RFC3339 strings
// produced by Format sort lexically in time order, which is what makes
// (deviceId, timestamp) identity keys and chunk range keys comparable.
//
// Zero value semantics: a timestamp of 0 means "not set".
package timestamp

import (
	"fmt"
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time (UTC).
// Returns zero time if the timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format converts Unix milliseconds to an RFC3339 UTC string.
// Returns empty string if the timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// ParseString strictly parses an RFC3339 timestamp string.
// Used for item identity timestamps, where a bad value must be rejected.
func ParseString(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}

// Parse leniently converts common timestamp representations to Unix
// milliseconds. Returns 0 for anything it cannot interpret. Used for
// envelope metadata, where absence must not break processing.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0
	case int64:
		return normalizeEpoch(v)
	case int:
		return normalizeEpoch(int64(v))
	case float64:
		return normalizeEpoch(int64(v))
	case time.Time:
		return ToUnixMs(v)
	case string:
		if v == "" {
			return 0
		}
		if ms, err := ParseString(v); err == nil {
			return ms
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return normalizeEpoch(n)
		}
		return 0
	default:
		return 0
	}
}

// normalizeEpoch treats values above 1e12 as milliseconds, otherwise seconds.
func normalizeEpoch(v int64) int64 {
	if v == 0 {
		return 0
	}
	if v > 1e12 {
		return v
	}
	return v * 1000
}

// Sub subtracts a duration from a timestamp. A retention cutoff is
// Sub(Now(), window), computed fresh inside each invocation.
func Sub(ms int64, d time.Duration) int64 {
	if ms == 0 {
		return 0
	}
	return time.UnixMilli(ms).Add(-d).UnixMilli()
}

// Add adds a duration to a timestamp.
func Add(ms int64, d time.Duration) int64 {
	if ms == 0 {
		return 0
	}
	return time.UnixMilli(ms).Add(d).UnixMilli()
}

// Min returns the earlier of two timestamps; zero values lose.
func Min(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// Max returns the later of two timestamps; zero values lose.
func Max(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a > b {
		return a
	}
	return b
}
