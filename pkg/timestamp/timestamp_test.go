package timestamp

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	ms := int64(1735689600000) // 2025-01-01T00:00:00Z
	s := Format(ms)
	assert.Equal(t, "2025-01-01T00:00:00Z", s)

	back, err := ParseString(s)
	require.NoError(t, err)
	assert.Equal(t, ms, back)
}

func TestFormat_SortsLexically(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var formatted []string
	for i := 0; i < 10; i++ {
		formatted = append(formatted, Format(ToUnixMs(base.Add(time.Duration(i)*time.Hour))))
	}

	assert.True(t, sort.StringsAreSorted(formatted))
}

func TestParseString_Invalid(t *testing.T) {
	_, err := ParseString("not-a-timestamp")
	assert.Error(t, err)

	_, err = ParseString("")
	assert.Error(t, err)
}

func TestParse_Lenient(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int64
	}{
		{"nil", nil, 0},
		{"empty string", "", 0},
		{"rfc3339", "2025-01-01T00:00:00Z", 1735689600000},
		{"millis int64", int64(1735689600000), 1735689600000},
		{"seconds int64", int64(1735689600), 1735689600000},
		{"millis float", float64(1735689600000), 1735689600000},
		{"numeric string", "1735689600", 1735689600000},
		{"garbage", "garbage", 0},
		{"unsupported type", struct{}{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestSub_CutoffMath(t *testing.T) {
	now := int64(1735689600000)
	cutoff := Sub(now, 24*time.Hour)
	assert.Equal(t, now-86400000, cutoff)
	assert.Equal(t, int64(0), Sub(0, time.Hour))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, int64(5), Min(5, 10))
	assert.Equal(t, int64(10), Max(5, 10))
	assert.Equal(t, int64(5), Min(0, 5))
	assert.Equal(t, int64(5), Max(5, 0))
}
