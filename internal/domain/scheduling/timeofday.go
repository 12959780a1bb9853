package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	minutesPerDay = 24 * 60
	dateLayout    = "2006-01-02"
)

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DayName returns the English weekday name for 0 (Sunday) through 6.
func DayName(day int) string {
	if day < 0 || day > 6 {
		return ""
	}
	return dayNames[day]
}

// TimeToMinutes converts "HH:MM" to minutes since midnight. Both fields must
// be exactly two digits.
func TimeToMinutes(hhmm string) (int, error) {
	v := strings.TrimSpace(hhmm)
	if len(v) != 5 || v[2] != ':' || !isDigits(v[:2]) || !isDigits(v[3:]) {
		return 0, fmt.Errorf("time %q is not in HH:MM format", hhmm)
	}
	h, _ := strconv.Atoi(v[:2])
	m, _ := strconv.Atoi(v[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time %q is out of range", hhmm)
	}
	return h*60 + m, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// FormatMinutes renders minutes since midnight as zero-padded "HH:MM".
// 1440 renders as "24:00".
func FormatMinutes(total int) string {
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ComputeEndTime adds durationMinutes to start. The result may be "24:00"
// but never later; longer ranges are an error because slots do not span
// midnight.
func ComputeEndTime(start string, durationMinutes int) (string, error) {
	s, err := TimeToMinutes(start)
	if err != nil {
		return "", err
	}
	if durationMinutes <= 0 {
		return "", fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}
	end := s + durationMinutes
	if end > minutesPerDay {
		return "", fmt.Errorf("%s plus %d minutes runs past midnight", start, durationMinutes)
	}
	return FormatMinutes(end), nil
}

// ParseDate parses an ISO calendar date as midnight in loc. Impossible dates
// such as 2025-02-30 are rejected.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not a valid YYYY-MM-DD calendar date", s)
	}
	return d, nil
}

// FormatDate renders t's calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
