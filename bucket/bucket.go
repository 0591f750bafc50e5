// Package bucket maps absolute timestamps onto the fixed-width interval grid
// shared by the observed and simulated series, so both sources key their rows
// by the same integer minute offsets regardless of calendar date.
package bucket

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultWidth is the interval width used when a config leaves it unset.
const DefaultWidth = 5 * time.Minute

// Bucket returns the minute offset of the half-open interval
// [start, start+width) containing ts, relative to origin. Timestamps before
// origin yield negative offsets; they are deliberately not clamped so that
// truncation mistakes upstream stay visible.
func Bucket(ts, origin time.Time, width time.Duration) int {
	if width <= 0 {
		width = DefaultWidth
	}
	delta := ts.Sub(origin)
	n := delta / width
	if delta < 0 && delta%width != 0 {
		n--
	}
	return int((time.Duration(n) * width) / time.Minute)
}

// BucketSeconds buckets a simulation-relative second count (SUMO detector
// output keys intervals by seconds from simulation start). startOffset is the
// minute-of-day the simulation began at, so relative seconds land on the same
// grid as warehouse rows.
func BucketSeconds(sec float64, startOffset int, width time.Duration) int {
	if width <= 0 {
		width = DefaultWidth
	}
	widthMin := int(width / time.Minute)
	minute := int(sec) / 60
	if int(sec) < 0 && int(sec)%60 != 0 {
		minute--
	}
	off := minute / widthMin
	if minute < 0 && minute%widthMin != 0 {
		off--
	}
	return off*widthMin + startOffset
}

// MinuteOfDay returns the minutes elapsed since local midnight for ts.
func MinuteOfDay(ts time.Time) int {
	return ts.Hour()*60 + ts.Minute()
}

// Midnight truncates ts to the start of its day in its own location.
func Midnight(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
}

// FormatOffset renders a minute offset as HH:MM for tables and chart axes.
// Negative offsets keep their sign so pre-origin rows are recognizable.
func FormatOffset(offset int) string {
	sign := ""
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offset/60, offset%60)
}

// timeLayouts mirrors the formats the surrounding tooling writes into case
// folders and warehouse exports.
var timeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006-01-02",
}

// ParseTime parses a timestamp in any of the supported layouts, falling back
// to RFC 3339. Returned times are timezone-naive (UTC) to match the warehouse
// clock.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bucket: unrecognized time %q", s)
}

var rangeRe = regexp.MustCompile(`(\d{14})_(\d{14})`)

// ParseRangeFromName recovers the analysis window encoded in warehouse
// artifact names of the form ..._YYYYMMDDHHMMSS_YYYYMMDDHHMMSS...
func ParseRangeFromName(name string) (time.Time, time.Time, error) {
	m := rangeRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bucket: no time range in %q", name)
	}
	const layout = "20060102150405"
	start, err := time.ParseInLocation(layout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bucket: parse range start: %w", err)
	}
	end, err := time.ParseInLocation(layout, m[2], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bucket: parse range end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("bucket: range end %s not after start %s", m[2], m[1])
	}
	return start, end, nil
}
