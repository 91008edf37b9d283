package catalog

import (
	"strings"
	"time"
)

// deadlineSentinels are deadline strings meaning "no fixed deadline".
// An open-ended program is never "ending soon".
var deadlineSentinels = []string{
	"진행중",
	"상시",
	"상시모집",
	"예산 소진",
	"예산소진",
	"마감시",
}

var deadlineLayouts = []string{
	"2006-01-02",
	"2006.01.02",
	"20060102",
	"2006-01-02 15:04:05",
}

// IsOpenEnded reports whether the deadline string is a sentinel value
// rather than a real date.
func IsOpenEnded(deadline string) bool {
	deadline = strings.TrimSpace(deadline)
	if deadline == "" {
		return true
	}
	for _, s := range deadlineSentinels {
		if strings.Contains(deadline, s) {
			return true
		}
	}
	return false
}

// ParseDeadline parses a deadline string. ok is false for sentinel values
// and unparseable strings. Range strings like "20240101 ~ 20240331" resolve
// to their end date.
func ParseDeadline(deadline string) (time.Time, bool) {
	deadline = strings.TrimSpace(deadline)
	if IsOpenEnded(deadline) {
		return time.Time{}, false
	}

	if idx := strings.LastIndex(deadline, "~"); idx >= 0 {
		deadline = strings.TrimSpace(deadline[idx+1:])
	}

	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, deadline); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// DaysUntil returns the whole days from now until the deadline. ok is false
// when the deadline is open-ended or unparseable.
func DaysUntil(deadline string, now time.Time) (int, bool) {
	t, ok := ParseDeadline(deadline)
	if !ok {
		return 0, false
	}

	days := int(t.Sub(now.Truncate(24*time.Hour)).Hours() / 24)
	return days, true
}

// FilterEndingSoon keeps programs whose deadline falls within the next
// `days` days. Open-ended programs are excluded, as are already-expired ones.
func FilterEndingSoon(programs []Program, days int, now time.Time) []Program {
	var out []Program
	for _, p := range programs {
		d, ok := DaysUntil(p.ApplicationDeadline, now)
		if !ok {
			continue
		}
		if d >= 0 && d <= days {
			out = append(out, p)
		}
	}
	return out
}

// FilterAnnouncedSince keeps programs announced strictly after the given
// checkpoint. Programs without a parseable announcement date are kept: a
// missing date must not suppress a potentially new program.
func FilterAnnouncedSince(programs []Program, since time.Time) []Program {
	if since.IsZero() {
		return programs
	}

	var out []Program
	for _, p := range programs {
		announced, ok := ParseDeadline(p.AnnouncementDate)
		if !ok || announced.After(since) {
			out = append(out, p)
		}
	}
	return out
}
