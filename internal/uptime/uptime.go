// Package uptime formats worker uptime and start timestamps for status views.
package uptime

import "fmt"

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour

	// hourBias is the fixed display offset applied to the hour field (CET, no DST).
	hourBias = 1
)

// FormatUptime renders seconds using the coarsest unit that applies:
// "1d 2h 3m", "2h 3m 4s", "3m 4s" or "4s".
func FormatUptime(seconds uint64) string {
	days := seconds / secondsPerDay
	hours := (seconds % secondsPerDay) / secondsPerHour
	minutes := (seconds % secondsPerHour) / secondsPerMinute
	secs := seconds % secondsPerMinute

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// FormatTimestamp renders epoch seconds as "DD.MM.YYYY HH:MM".
// The calendar walk is done by hand; the hour carries a fixed +1h bias that
// does not move the date.
func FormatTimestamp(epoch uint64) string {
	days := epoch / secondsPerDay
	timeOfDay := epoch % secondsPerDay
	hour := (timeOfDay/secondsPerHour + hourBias) % 24
	minute := (timeOfDay % secondsPerHour) / secondsPerMinute

	year, month, day := civilFromDays(days)
	return fmt.Sprintf("%02d.%02d.%d %02d:%02d", day, month, year, hour, minute)
}

// civilFromDays converts whole days since 1970-01-01 into a proleptic
// Gregorian year, month (1-12) and day (1-31).
func civilFromDays(days uint64) (year uint64, month int, day uint64) {
	year = 1970
	remaining := days
	for {
		n := daysInYear(year)
		if remaining < n {
			break
		}
		remaining -= n
		year++
	}

	month = 1
	for _, n := range monthLengths(year) {
		if remaining < n {
			break
		}
		remaining -= n
		month++
	}
	return year, month, remaining + 1
}

func isLeap(year uint64) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func daysInYear(year uint64) uint64 {
	if isLeap(year) {
		return 366
	}
	return 365
}

func monthLengths(year uint64) [12]uint64 {
	feb := uint64(28)
	if isLeap(year) {
		feb = 29
	}
	return [12]uint64{31, feb, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
}
