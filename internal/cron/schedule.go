// Package cron runs persistent scheduled jobs: natural-language or
// 5-field cron schedules, JSON persistence that survives restarts, and
// result delivery to gateway channels or files.
package cron

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

var (
	intervalRe = regexp.MustCompile(`^every\s+(\d+)\s*(h|hr|hours?|m|min|minutes?|d|days?)$`)
	dailyRe    = regexp.MustCompile(`^every\s+day\s+at\s+(.+)$`)
	weekdayRe  = regexp.MustCompile(`^every\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?:\s+at\s+(.+))?$`)
	atRe       = regexp.MustCompile(`^at\s+(.+)$`)
	cronRe     = regexp.MustCompile(`^cron\s+(.+)$`)

	clockAmPm     = regexp.MustCompile(`^(\d{1,2})\s*(am|pm)$`)
	clockAmPmFull = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(am|pm)$`)
	clockMil      = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// Monday-first indices, so "days ahead" math lines up with the
// weekday names above.
var weekdayIndex = map[string]int{
	"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3,
	"friday": 4, "saturday": 5, "sunday": 6,
}

// NextRun computes the next execution time (UTC) for a schedule
// expression. Supported forms:
//
//	"every 6h" / "every 30m" / "every 2d"
//	"every day at 9am" / "every day at 09:00"
//	"every monday" / "every friday at 5pm"   (default 09:00)
//	"at 09:00" / "at 3pm"                    (one-shot)
//	"cron 0 */6 * * *"                       (standard 5-field)
//
// The second return is false when the expression is not recognized.
func NextRun(schedule string, from time.Time) (time.Time, bool) {
	now := from.UTC()
	schedule = strings.ToLower(strings.TrimSpace(schedule))

	if m := intervalRe.FindStringSubmatch(schedule); m != nil {
		amount, _ := strconv.Atoi(m[1])
		switch m[2][0] {
		case 'h':
			return now.Add(time.Duration(amount) * time.Hour), true
		case 'm':
			return now.Add(time.Duration(amount) * time.Minute), true
		case 'd':
			return now.Add(time.Duration(amount) * 24 * time.Hour), true
		}
	}

	if m := dailyRe.FindStringSubmatch(schedule); m != nil {
		if h, min, ok := parseClock(m[1]); ok {
			candidate := time.Date(now.Year(), now.Month(), now.Day(), h, min, 0, 0, time.UTC)
			if !candidate.After(now) {
				candidate = candidate.AddDate(0, 0, 1)
			}
			return candidate, true
		}
	}

	if m := weekdayRe.FindStringSubmatch(schedule); m != nil {
		target := weekdayIndex[m[1]]
		h, min := 9, 0
		if m[2] != "" {
			var ok bool
			if h, min, ok = parseClock(m[2]); !ok {
				return time.Time{}, false
			}
		}
		// time.Weekday is Sunday-first; shift to Monday-first.
		current := (int(now.Weekday()) + 6) % 7
		ahead := target - current
		if ahead <= 0 {
			ahead += 7
		}
		candidate := time.Date(now.Year(), now.Month(), now.Day(), h, min, 0, 0, time.UTC)
		return candidate.AddDate(0, 0, ahead), true
	}

	if m := atRe.FindStringSubmatch(schedule); m != nil {
		if h, min, ok := parseClock(m[1]); ok {
			candidate := time.Date(now.Year(), now.Month(), now.Day(), h, min, 0, 0, time.UTC)
			if !candidate.After(now) {
				candidate = candidate.AddDate(0, 0, 1)
			}
			return candidate, true
		}
	}

	if m := cronRe.FindStringSubmatch(schedule); m != nil {
		expr := strings.TrimSpace(m[1])
		if len(strings.Fields(expr)) != 5 {
			return time.Time{}, false
		}
		parsed, err := cronParser.Parse(expr)
		if err != nil {
			return time.Time{}, false
		}
		next := parsed.Next(now)
		return next, !next.IsZero()
	}

	return time.Time{}, false
}

// IsOneShot reports whether a schedule runs once and then disables.
func IsOneShot(schedule string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(schedule)), "at ")
}

// parseClock parses "9am", "3:30pm", "09:00", "17:30" into hour and
// minute.
func parseClock(s string) (hour, minute int, ok bool) {
	s = strings.TrimSpace(s)

	if m := clockAmPm.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		return meridiem(h, m[2]), 0, true
	}
	if m := clockAmPmFull.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return meridiem(h, m[3]), min, true
	}
	if m := clockMil.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h > 23 || min > 59 {
			return 0, 0, false
		}
		return h, min, true
	}
	return 0, 0, false
}

func meridiem(h int, suffix string) int {
	if suffix == "pm" && h != 12 {
		return h + 12
	}
	if suffix == "am" && h == 12 {
		return 0
	}
	return h
}
