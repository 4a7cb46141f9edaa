package tape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/devexperts/QD-sub012/errs"
)

const (
	// SplitTimeLayout names split files: the '~' marker is replaced with it.
	SplitTimeLayout = "20060102-150405-0700"
	// TextTimeLayout is the timestamp layout of text .time files.
	TextTimeLayout = "20060102-150405.000-0700"
)

var timeOfDay = regexp.MustCompile(`^(?:(\d{8})-)?(\d{6})(?:\.(\d{1,3}))?(Z|[+-]\d{4})?$`)

// ParseTime parses [YYYYMMDD-]HHMMSS[.sss][tz] in loc, or a plain number of
// milliseconds since the epoch. A missing date means the date of now in the
// resulting zone; a missing zone means loc.
func ParseTime(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}

	if len(s) > 8 && isDigits(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, errs.NewParseError(errs.ErrInvalidTimestamp, s, -1, err.Error())
		}

		return time.UnixMilli(ms).In(loc), nil
	}

	m := timeOfDay.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, errs.NewParseError(errs.ErrInvalidTimestamp, s, -1, "expected [YYYYMMDD-]HHMMSS[.sss][tz]")
	}

	zone := loc
	switch tz := m[4]; {
	case tz == "Z":
		zone = time.UTC
	case tz != "":
		offset, _ := strconv.Atoi(tz[1:])
		seconds := (offset/100*60 + offset%100) * 60
		if tz[0] == '-' {
			seconds = -seconds
		}
		zone = time.FixedZone("", seconds)
	}

	date := m[1]
	if date == "" {
		date = now.In(zone).Format("20060102")
	}

	t, err := time.ParseInLocation("20060102150405", date+m[2], zone)
	if err != nil {
		return time.Time{}, errs.NewParseError(errs.ErrInvalidTimestamp, s, -1, err.Error())
	}
	if frac := m[3]; frac != "" {
		ms, _ := strconv.Atoi(frac + strings.Repeat("0", 3-len(frac)))
		t = t.Add(time.Duration(ms) * time.Millisecond)
	}

	return t, nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration accepts Go durations, a "d" suffix for days ("1d12h"),
// ISO-8601 periods ("PT1H30M", "P1D") and plain numbers of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errs.NewParseError(errs.ErrInvalidArgument, s, -1, "empty duration")
	}

	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, errs.NewParseError(errs.ErrInvalidArgument, s, -1, err.Error())
		}

		return time.Duration(n) * time.Second, nil
	}

	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "P") {
		return parseISODuration(s, upper)
	}

	var days time.Duration
	rest := s
	if i := strings.IndexByte(rest, 'd'); i > 0 {
		n, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return 0, errs.NewParseError(errs.ErrInvalidArgument, s, 0, "bad day count")
		}
		days = time.Duration(n) * 24 * time.Hour
		rest = rest[i+1:]
		if rest == "" {
			return days, nil
		}
	}

	d, err := time.ParseDuration(rest)
	if err != nil {
		return 0, errs.NewParseError(errs.ErrInvalidArgument, s, -1, err.Error())
	}

	return days + d, nil
}

func parseISODuration(s, upper string) (time.Duration, error) {
	m := isoDuration.FindStringSubmatch(upper)
	if m == nil || upper == "P" || upper == "PT" {
		return 0, errs.NewParseError(errs.ErrInvalidArgument, s, -1, "bad ISO-8601 duration")
	}

	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
	for i, unit := range units {
		if m[i+1] != "" {
			n, _ := strconv.ParseInt(m[i+1], 10, 64)
			d += time.Duration(n) * unit
		}
	}
	if m[4] != "" {
		secs, _ := strconv.ParseFloat(m[4], 64)
		d += time.Duration(secs * float64(time.Second))
	}

	return d, nil
}

// ParseSize parses a byte size such as "10M", "1GiB" or "4096".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, errs.NewParseError(errs.ErrInvalidArgument, s, -1, err.Error())
	}
	if n > 1<<62 {
		return 0, errs.NewParseError(errs.ErrInvalidArgument, s, -1, "size too large")
	}

	return int64(n), nil //nolint:gosec
}

// FormatSize renders n the way log lines show sizes.
func FormatSize(n int64) string {
	if n < 0 {
		return fmt.Sprintf("-%s", humanize.Bytes(uint64(-n))) //nolint:gosec
	}

	return humanize.Bytes(uint64(n)) //nolint:gosec
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return s != ""
}
