package soap

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Calendar units are approximated as fixed lengths.
const (
	day   = 24 * time.Hour
	month = 30 * day
	year  = 365 * day
)

var durationPattern = regexp.MustCompile(
	`^(-)?P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration parses an xsd:duration such as "PT600S" or "P1DT2H".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "-P" || strings.HasSuffix(s, "T") {
		return 0, errors.NotValidf("duration %q", s)
	}

	var d time.Duration
	units := []time.Duration{year, month, 7 * day, day, time.Hour, time.Minute}
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+2], 10, 64)
		if err != nil {
			return 0, errors.NotValidf("duration %q", s)
		}
		d += time.Duration(n) * unit
	}
	if m[8] != "" {
		secs, err := strconv.ParseFloat(m[8], 64)
		if err != nil {
			return 0, errors.NotValidf("duration %q", s)
		}
		d += time.Duration(secs * float64(time.Second))
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// FormatDuration renders d as an xsd:duration in whole seconds.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		return "-PT" + strconv.FormatInt(-secs, 10) + "S"
	}
	return "PT" + strconv.FormatInt(secs, 10) + "S"
}

// ParseTermination interprets an InitialTerminationTime or TerminationTime
// value, which is either a duration relative to now or an absolute
// dateTime. It returns the absolute expiry.
func ParseTermination(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "P") || strings.HasPrefix(s, "-P") {
		d, err := ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NotValidf("termination time %q", s)
}

// FormatTime renders t as an xsd:dateTime in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
