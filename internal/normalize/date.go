package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cleared-dev/concilia/internal/fieldmap"
)

// tokenLayout maps date-pattern tokens to Go layout elements. Longer tokens
// come first so "yyyy" is not read as two "yy".
var tokenLayout = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
	"SSS", "000",
)

// Layout converts a field-map date format into a Go time layout. Formats
// already written as Go layouts pass through unchanged.
func Layout(format string) string {
	if strings.Contains(format, "yy") || strings.Contains(format, "dd") || strings.Contains(format, "MM") {
		return tokenLayout.Replace(format)
	}
	return format
}

// ParseDate parses s with format and nothing else.
func ParseDate(s, format string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	if format == "" {
		return time.Time{}, fmt.Errorf("no date format configured")
	}
	if strings.EqualFold(format, fieldmap.DateFormatOFX) {
		return ParseOFXDate(s)
	}
	t, err := time.Parse(Layout(format), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q with format %q: %w", s, format, err)
	}
	return t, nil
}

var ofxDate = regexp.MustCompile(`^(\d{8})(\d{6})?(\.\d{1,3})?(?:\[([+-]?\d{1,2}(?:\.\d{1,2})?)(?::([A-Za-z]+))?\])?$`)

// ParseOFXDate parses the OFX datetime form YYYYMMDD[HHMMSS[.XXX]][[offset:TZ]].
// Values without an offset are GMT.
func ParseOFXDate(s string) (time.Time, error) {
	m := ofxDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || (m[3] != "" && m[2] == "") {
		return time.Time{}, fmt.Errorf("date %q is not an OFX datetime", s)
	}

	loc := time.UTC
	if m[4] != "" {
		hours, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing OFX offset %q: %w", m[4], err)
		}
		name := m[5]
		if name == "" {
			name = "GMT" + m[4]
		}
		loc = time.FixedZone(name, int(hours*3600))
	}

	layout, value := "20060102", m[1]
	if m[2] != "" {
		layout, value = layout+"150405", value+m[2]
	}
	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing OFX date %q: %w", s, err)
	}
	if m[3] != "" {
		ms, _ := strconv.Atoi(m[3][1:])
		for i := len(m[3]) - 1; i < 3; i++ {
			ms *= 10
		}
		t = t.Add(time.Duration(ms) * time.Millisecond)
	}
	return t, nil
}
