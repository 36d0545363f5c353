package core

// convert.go provides type conversion for CSV cells into ActionEvent fields.
//
// These functions handle the messy reality of dashboard exports:
//   - Several timestamp encodings (ISO-8601, epoch seconds, session clock)
//   - Currency symbols and thousand separators in numbers
//   - Excel formula prefixes (="value")
//   - Common CSV artifacts (BOM, weird quotes)

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	errUnparsable = errors.New("unparsable value")
	errOutOfRange = errors.New("value out of range")
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation. nonFiniteRegex catches
// the spellings strconv.ParseFloat accepts for NaN and infinities.
var (
	numericRegex   = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	nonFiniteRegex = regexp.MustCompile(`(?i)^[+-]?(nan|inf|infinity)$`)
)

var (
	epochRegex = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
	clockRegex = regexp.MustCompile(`^(\d{1,4}):(\d{1,2}):(\d{1,2})(\.\d{1,9})?$`)
)

// isoLayouts are tried in order. Layouts without a zone are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Unix seconds bounds for years 0001 through 9999.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// ParseTimestamp converts a timestamp cell into a UTC time.
//
// Session clock values ("1:02:03") are offsets from sessionDate, matching the
// dashboard's Hr:Min:Sec column. Returns errUnparsable for unknown forms and
// errOutOfRange for well-formed values that cannot be represented.
func ParseTimestamp(s string, sessionDate time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errUnparsable
	}

	if m := clockRegex.FindStringSubmatch(s); m != nil {
		return parseClock(m, sessionDate)
	}

	if epochRegex.MatchString(s) {
		return parseEpoch(s)
	}

	for _, layout := range isoLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, errUnparsable
}

func parseClock(m []string, sessionDate time.Time) (time.Time, error) {
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	if minutes >= 60 || seconds >= 60 {
		return time.Time{}, errUnparsable
	}

	offset := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second

	if m[4] != "" {
		frac, err := strconv.ParseFloat("0"+m[4], 64)
		if err != nil {
			return time.Time{}, errUnparsable
		}
		offset += time.Duration(math.Round(frac * float64(time.Second)))
	}

	y, mo, d := sessionDate.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).Add(offset), nil
}

func parseEpoch(s string) (time.Time, error) {
	whole, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, errOutOfRange
	}
	if sec < minEpochSeconds || sec > maxEpochSeconds {
		return time.Time{}, errOutOfRange
	}

	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nsec, _ = strconv.ParseInt(frac, 10, 64)
		if strings.HasPrefix(whole, "-") {
			nsec = -nsec
		}
	}

	return time.Unix(sec, nsec).UTC(), nil
}

// ParseMetric converts a numeric cell to float64.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
// An empty cell returns ok=false with a nil error: the metric is simply absent.
func ParseMetric(s string) (v float64, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if nonFiniteRegex.MatchString(s) {
		return 0, false, errOutOfRange
	}
	if !numericRegex.MatchString(s) {
		return 0, false, errUnparsable
	}

	v, err = strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false, errOutOfRange
	}
	return v, true, nil
}

// FormatTimestamp renders a timestamp the way EncodeRow and the JSON payload do.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatMetric renders a metric value with the shortest exact representation.
func FormatMetric(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are lowercased for case-insensitive matching. The first occurrence
// of a duplicated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace and a stray UTF-8 BOM
// - Removes Excel formula prefix (="...")
// - Removes one matched pair of surrounding quotes
// - Removes Excel's leading apostrophe on numbers ('12345)
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "'") && numericRegex.MatchString(s[1:]) {
		return s[1:]
	}
	return s
}

// isEmptyRow reports whether every cell is blank.
func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
