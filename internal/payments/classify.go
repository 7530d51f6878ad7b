// Package payments classifies site billing state from the next payment date.
package payments

import (
	"fmt"
	"time"
)

type Category string

const (
	Overdue Category = "overdue"
	DueSoon Category = "dueSoon"
	Current Category = "current"
)

// DueSoonWindowDays is the badge threshold: a payment due within this many
// days (inclusive) is due soon. The bulk upcoming window is configured
// separately; see EvaluatorOptions.UpcomingDays.
const DueSoonWindowDays = 7

const (
	day           = 24 * time.Hour
	secondsPerDay = int64(day / time.Second)
)

type Classification struct {
	Category Category `json:"category"`
	// Days is the overdue magnitude or the days until due. Zero for Current.
	Days int `json:"days"`
}

// Classify applies the default due-soon window. A nil date yields no
// classification, which is not the same as Current.
func Classify(now time.Time, next *time.Time) (Classification, bool) {
	return classify(now, next, DueSoonWindowDays)
}

func classify(now time.Time, next *time.Time, window int) (Classification, bool) {
	if next == nil {
		return Classification{}, false
	}
	days := DaysUntil(now, *next)
	switch {
	case days < 0:
		return Classification{Category: Overdue, Days: -days}, true
	case days <= window:
		return Classification{Category: DueSoon, Days: days}, true
	default:
		return Classification{Category: Current}, true
	}
}

// DaysUntil counts whole days from now to next, rounding partial days away
// from zero: one second ahead is 1, one second behind is -1. It works on
// Unix seconds so dates centuries apart do not saturate time.Duration.
func DaysUntil(now, next time.Time) int {
	secs := next.Unix() - now.Unix()
	nanos := next.Nanosecond() - now.Nanosecond()
	if nanos < 0 {
		secs--
		nanos += int(time.Second)
	}
	// The offset is now secs + nanos, with 0 <= nanos < 1s.
	if secs >= 0 {
		days := secs / secondsPerDay
		if secs%secondsPerDay != 0 || nanos != 0 {
			days++
		}
		return int(days)
	}
	behind := -secs
	if nanos != 0 {
		return -int((behind-1)/secondsPerDay + 1)
	}
	return -int((behind + secondsPerDay - 1) / secondsPerDay)
}

func (c Classification) Label() string {
	switch c.Category {
	case Overdue:
		if c.Days == 1 {
			return "Overdue by 1 day"
		}
		return fmt.Sprintf("Overdue by %d days", c.Days)
	case DueSoon:
		switch c.Days {
		case 0:
			return "Due today"
		case 1:
			return "Due tomorrow"
		}
		return fmt.Sprintf("Due in %d days", c.Days)
	case Current:
		return "Current"
	}
	return ""
}
