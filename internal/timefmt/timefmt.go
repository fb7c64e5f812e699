// Package timefmt renders the clock, date and event countdown strings shown
// on the standby screen.
package timefmt

import (
	"fmt"
	"time"

	"github.com/goodsign/monday"
)

const (
	clockLayout = "3:04"
	dateLayout  = "Monday, January 02, 2006"
)

// Clock formats now as a 12-hour "h:mm" string without a leading zero.
func Clock(now time.Time, locale monday.Locale) string {
	return monday.Format(now, clockLayout, locale)
}

// Date formats now as "Weekday, Month DD, YYYY" with localized names.
func Date(now time.Time, locale monday.Locale) string {
	return monday.Format(now, dateLayout, locale)
}

// Countdown renders the time left until target. Negative remainders are
// floored at zero.
//
// With seconds the remainder is truncated to whole seconds and leading zero
// units are dropped ("in 5m 3s", "in 45s"). Without seconds the minute count
// is rounded up, so any partial minute still counts as one ("in 1h 5m",
// "in 1m").
func Countdown(now, target time.Time, withSeconds bool) string {
	remaining := target.Sub(now).Truncate(time.Millisecond)
	if remaining < 0 {
		remaining = 0
	}

	if withSeconds {
		total := int64(remaining / time.Second)
		hours := total / 3600
		minutes := (total % 3600) / 60
		seconds := total % 60
		switch {
		case hours > 0:
			return fmt.Sprintf("in %dh %dm %ds", hours, minutes, seconds)
		case minutes > 0:
			return fmt.Sprintf("in %dm %ds", minutes, seconds)
		default:
			return fmt.Sprintf("in %ds", seconds)
		}
	}

	totalMinutes := int64((remaining + time.Minute - time.Millisecond) / time.Minute)
	hours := totalMinutes / 60
	minutes := totalMinutes % 60
	if hours > 0 {
		return fmt.Sprintf("in %dh %dm", hours, minutes)
	}
	return fmt.Sprintf("in %dm", minutes)
}
