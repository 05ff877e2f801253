package budget

import (
	"fmt"
	"math"
	"strings"
	"time"

	"spendwise-hq/meter/pkg/config"
)

// Calendar fixes the time zone and first weekday used to compute period
// boundaries.
type Calendar struct {
	Location  *time.Location
	WeekStart time.Weekday
}

// DefaultCalendar is UTC with weeks starting on Sunday.
var DefaultCalendar = Calendar{Location: time.UTC, WeekStart: time.Sunday}

// CalendarFromConfig builds a Calendar from the budgets config section.
func CalendarFromConfig(cfg config.BudgetsConfig) (Calendar, error) {
	cal := DefaultCalendar
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return Calendar{}, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
		}
		cal.Location = loc
	}
	switch strings.ToLower(cfg.WeekStart) {
	case "", "sunday":
		cal.WeekStart = time.Sunday
	case "monday":
		cal.WeekStart = time.Monday
	default:
		return Calendar{}, fmt.Errorf("unsupported week start %q", cfg.WeekStart)
	}
	return cal, nil
}

// Bounds returns the period containing t.
func (c Calendar) Bounds(p Period, t time.Time) (start, end time.Time) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return PeriodBounds(p, t, loc, c.WeekStart)
}

// PeriodBounds returns the calendar period of type p containing t as the
// half-open interval [start, end), where end is the start of the next
// period. Boundaries are local midnights in loc. An unknown period is
// treated as Monthly.
func PeriodBounds(p Period, t time.Time, loc *time.Location, weekStart time.Weekday) (start, end time.Time) {
	lt := t.In(loc)
	y, m, d := lt.Date()

	switch p {
	case Daily:
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		end = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	case Weekly:
		offset := (int(lt.Weekday()) - int(weekStart) + 7) % 7
		start = time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		end = time.Date(y, m, d-offset+7, 0, 0, 0, 0, loc)
	case Quarterly:
		qm := time.Month((int(m)-1)/3*3 + 1)
		start = time.Date(y, qm, 1, 0, 0, 0, 0, loc)
		end = time.Date(y, qm+3, 1, 0, 0, 0, 0, loc)
	case Yearly:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end = time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc)
	default:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		end = time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	}
	return start, end
}

// civil reinterprets the wall clock of t in loc as UTC, so that day
// arithmetic is unaffected by DST transitions.
func civil(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d, lt.Hour(), lt.Minute(), lt.Second(), lt.Nanosecond(), time.UTC)
}

// ceilDays returns the number of days in [a, b) rounded up, or 0 when b is
// not after a.
func ceilDays(a, b time.Time, loc *time.Location) int {
	d := civil(b, loc).Sub(civil(a, loc))
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
