package metergate

import "time"

// LimitClass names a short-horizon throttling window.
type LimitClass string

const (
	// ClassMinute is the per-minute burst window.
	ClassMinute LimitClass = "minute"
	// ClassHour is the per-hour sustained window.
	ClassHour LimitClass = "hour"
)

// Window sizes are fixed per class; the windows are non-sliding.
var classWindows = map[LimitClass]time.Duration{
	ClassMinute: time.Minute,
	ClassHour:   time.Hour,
}

// WindowSize returns the fixed window duration for a class.
func (c LimitClass) WindowSize() time.Duration {
	if w, ok := classWindows[c]; ok {
		return w
	}
	return time.Minute
}

// WindowStart floors a timestamp to its fixed window boundary:
// floor(now/size)*size. All requests inside the same interval share one
// counter.
func WindowStart(now time.Time, size time.Duration) time.Time {
	return now.UTC().Truncate(size)
}

// WindowEnd returns when the window containing now rolls over.
func WindowEnd(now time.Time, size time.Duration) time.Time {
	return WindowStart(now, size).Add(size)
}
