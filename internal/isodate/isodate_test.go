package isodate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcceptedForms(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2023-06-01T12:30:45Z", time.Date(2023, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"2023-06-01T12:30:45.5Z", time.Date(2023, 6, 1, 12, 30, 45, 500_000_000, time.UTC)},
		{"2023-06-01T12:30:45.123456Z", time.Date(2023, 6, 1, 12, 30, 45, 123_456_000, time.UTC)},
		{"2023-06-01T12:30:45.123456789Z", time.Date(2023, 6, 1, 12, 30, 45, 123_456_789, time.UTC)},
		{"2023-06-01T12:30:45+02:00", time.Date(2023, 6, 1, 12, 30, 45, 0, time.FixedZone("", 2*3600))},
		{"2023-06-01T12:30:45-05:30", time.Date(2023, 6, 1, 12, 30, 45, 0, time.FixedZone("", -(5*3600 + 30*60)))},
		{"2023-06-01T12:30:45+0200", time.Date(2023, 6, 1, 12, 30, 45, 0, time.FixedZone("", 2*3600))},
		{"2023-06-01T12:30:45+05", time.Date(2023, 6, 1, 12, 30, 45, 0, time.FixedZone("", 5*3600))},
		{"2023-06-01T12:30:45+00:00", time.Date(2023, 6, 1, 12, 30, 45, 0, time.UTC)},
		{"2020-02-29T00:00:00Z", time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(tc.want), "%s: got %v want %v", tc.in, got, tc.want)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []string{
		"",
		"2023-06-01",                      // date only
		"2023-06-01 12:30:45Z",            // space instead of T
		"2023-06-01T12:30:45",             // missing zone
		"2023-06-01T12:30:45.123",         // fraction but no zone
		"2023/06/01T12:30:45Z",            // non-digit separators
		"2023-06-01T12.30.45Z",            // bad time separators
		"2023-13-01T12:30:45Z",            // month out of range
		"2023-02-29T12:30:45Z",            // not a leap year
		"2023-06-01T24:00:00Z",            // hour out of range
		"2023-06-01T12:61:45Z",            // minute out of range
		"2023-06-01T12:30:45+15:00",       // zone hour out of range
		"2023-06-01T12:30:45+02:60",       // zone minute out of range
		"2023-06-01T12:30:45X",            // bad zone designator
		"2023-06-01T12:30:45Zjunk",        // trailing data
		"2023-06-01T12:30:45.Z",           // empty fraction
		"2023-06-01T12:30:45.1234567890Z", // fraction too long
		"20xx-06-01T12:30:45Z",            // non-digit year
	}

	for _, in := range cases {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalid, in)
	}
}

func TestRoundTripMicrosecondPrecision(t *testing.T) {
	times := []time.Time{
		time.Date(1999, 12, 31, 23, 59, 59, 999_999_000, time.UTC),
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2038, 1, 19, 3, 14, 7, 1_000, time.UTC),
		time.Now().UTC().Truncate(time.Microsecond),
	}

	for _, want := range times {
		got, err := Parse(Format(want))
		require.NoError(t, err)
		assert.True(t, got.Equal(want.Truncate(time.Microsecond)), "got %v want %v", got, want)
	}
}

func TestFormatShape(t *testing.T) {
	s := Format(time.Date(2023, 6, 1, 12, 30, 45, 123_456_789, time.FixedZone("", 2*3600)))
	assert.Equal(t, "2023-06-01T10:30:45.123456Z", s)
}
