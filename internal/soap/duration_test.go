package soap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"PT600S", 10 * time.Minute},
		{"PT60S", time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"P1D", 24 * time.Hour},
		{"P1DT2H", 26 * time.Hour},
		{"PT0.5S", 500 * time.Millisecond},
		{"-PT10S", -10 * time.Second},
		{" PT5S ", 5 * time.Second},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "P", "PT", "600", "PT10", "10S", "P1H"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "PT600S", FormatDuration(10*time.Minute))
	assert.Equal(t, "PT0S", FormatDuration(0))
}

func TestParseTermination(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := ParseTermination("PT60S", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), got)

	got, err = ParseTermination("2024-05-01T13:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), got)

	got, err = ParseTermination("2024-05-01T13:00:00", now)
	require.NoError(t, err)
	assert.True(t, now.Add(time.Hour).Equal(got))

	_, err = ParseTermination("tomorrow", now)
	assert.Error(t, err)
}

func TestFormatTimeIsUTC(t *testing.T) {
	loc := time.FixedZone("x", 3600)
	assert.Equal(t, "2024-05-01T12:00:00Z", FormatTime(time.Date(2024, 5, 1, 13, 0, 0, 0, loc)))
}
