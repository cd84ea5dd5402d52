package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an IntervalSchedule.
func Every(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns t + Interval.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
//	"*/15 * * * *"  every 15 minutes
//	"5 0 * * *"     every day at 00:05
//	"0 9 * * 1-5"   weekdays at 09:00
//
// As in classic cron, when both day fields are restricted a time matches if
// either of them does.
type CronExpression struct {
	raw      string
	minutes  []int // 0-59
	hours    []int // 0-23
	days     []int // 1-31
	months   []int // 1-12
	weekdays []int // 0-6, Sunday is 0

	daysAny     bool
	weekdaysAny bool
}

// ParseCronExpression parses a cron expression.
// Each field accepts *, n, n-m, */s, n-m/s and comma-separated lists of those.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	ce := &CronExpression{
		raw:         expr,
		daysAny:     fields[2] == "*",
		weekdaysAny: fields[4] == "*",
	}

	specs := []struct {
		name     string
		dst      *[]int
		min, max int
	}{
		{"minute", &ce.minutes, 0, 59},
		{"hour", &ce.hours, 0, 23},
		{"day", &ce.days, 1, 31},
		{"month", &ce.months, 1, 12},
		{"weekday", &ce.weekdays, 0, 6},
	}
	for i, sp := range specs {
		vals, err := parseField(fields[i], sp.min, sp.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", sp.name, err)
		}
		*sp.dst = vals
	}
	return ce, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

// parseField expands one field into its sorted set of values.
func parseField(field string, min, max int) ([]int, error) {
	set := make(map[int]struct{})
	for _, part := range strings.Split(field, ",") {
		if err := expandPart(strings.TrimSpace(part), min, max, set); err != nil {
			return nil, err
		}
	}

	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out, nil
}

func expandPart(part string, min, max int, set map[int]struct{}) error {
	if part == "" {
		return fmt.Errorf("empty value")
	}

	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step %q", s)
		}
		step = n
		part = base
	}

	var lo, hi int
	switch {
	case part == "*":
		lo, hi = min, max
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var err error
		if lo, err = atoiInRange(a, min, max); err != nil {
			return err
		}
		if hi, err = atoiInRange(b, min, max); err != nil {
			return err
		}
		if lo > hi {
			return fmt.Errorf("invalid range %q", part)
		}
	default:
		v, err := atoiInRange(part, min, max)
		if err != nil {
			return err
		}
		lo = v
		hi = v
		if step > 1 {
			hi = max
		}
	}

	for v := lo; v <= hi; v += step {
		set[v] = struct{}{}
	}
	return nil
}

func atoiInRange(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value out of range [%d-%d]: %d", min, max, v)
	}
	return v, nil
}

// String returns the original expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after t, in t's location.
// It returns the zero time if nothing matches within a year.
func (ce *CronExpression) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)

	const horizon = 366 * 24 * 60
	for range horizon {
		if ce.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	if !slices.Contains(ce.minutes, t.Minute()) ||
		!slices.Contains(ce.hours, t.Hour()) ||
		!slices.Contains(ce.months, int(t.Month())) {
		return false
	}

	dayOK := slices.Contains(ce.days, t.Day())
	weekdayOK := slices.Contains(ce.weekdays, int(t.Weekday()))
	switch {
	case ce.daysAny && ce.weekdaysAny:
		return true
	case ce.daysAny:
		return weekdayOK
	case ce.weekdaysAny:
		return dayOK
	default:
		return dayOK || weekdayOK
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PARSING
// ══════════════════════════════════════════════════════════════════════════════

// Common schedules.
const (
	Hourly         = "@hourly"
	Daily          = "@daily"
	EveryMinute    = "* * * * *"
	Every15Minutes = "*/15 * * * *"
)

// ParseSchedule accepts "@every <duration>", "@hourly", "@daily" or a 5-field
// cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return nil, ErrNilSchedule
	case spec == Hourly:
		return MustParseCronExpression("0 * * * *"), nil
	case spec == Daily:
		return MustParseCronExpression("0 0 * * *"), nil
	case strings.HasPrefix(spec, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every ")))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", spec, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid interval %q: must be positive", spec)
		}
		return Every(d), nil
	default:
		return ParseCronExpression(spec)
	}
}
