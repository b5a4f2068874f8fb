package queue

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

var timestampPattern = regexp.MustCompile(`^(\d{2}):(\d{2}\.\d{2,3})$`)

// ValidTimestamp reports whether s has the mm:ss.mmm shape ffmpeg is given
// for -ss and -to.
func ValidTimestamp(s string) bool {
	return timestampPattern.MatchString(s)
}

// ParseTimestamp converts a mm:ss.mmm timestamp to a duration.
func ParseTimestamp(s string) (time.Duration, bool) {
	m := timestampPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	minutes, _ := strconv.Atoi(m[1])
	seconds, _ := strconv.ParseFloat(m[2], 64)
	millis := math.Round(seconds * 1000)
	return time.Duration(minutes)*time.Minute + time.Duration(millis)*time.Millisecond, true
}

func validateRange(path string, r TrimRange, verr *ValidationError) {
	if !ValidTimestamp(r.Start) {
		verr.add(path, "start", "enter a start time like 00:01.458")
	}
	if !ValidTimestamp(r.End) {
		verr.add(path, "end", "enter an end time like 00:02.000")
	}
}
