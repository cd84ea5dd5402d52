// Package timeutil provides the clock abstraction and the day arithmetic used by
// the points engine. All day math is done on whole milliseconds so results match
// across storage backends that keep timestamps at millisecond precision.
package timeutil

import (
	"sync"
	"time"
)

// Day is the length of one accounting day.
const Day = 24 * time.Hour

// DayMillis is Day expressed in milliseconds.
const DayMillis int64 = 86_400_000

// Clock supplies wall-clock time. Callers read it once per invocation and
// thread the value through so every computation in one call sees the same now.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock, in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a FixedClock at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Millis returns t as Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FloorDiv divides a by b rounding toward negative infinity. b must be positive.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// CeilDiv divides a by b rounding toward positive infinity. b must be positive.
func CeilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}

// WholeDaysBetween returns floor((to - from) / day), never negative.
func WholeDaysBetween(from, to time.Time) int {
	delta := Millis(to) - Millis(from)
	if delta <= 0 {
		return 0
	}
	return int(delta / DayMillis)
}

// AddDays returns t shifted by n accounting days.
func AddDays(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * Day)
}

// StartOfDay returns midnight of t's calendar day in loc (UTC when loc is nil).
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// CalendarDate formats t's calendar day in loc as YYYY-MM-DD.
func CalendarDate(t time.Time, loc *time.Location) string {
	return StartOfDay(t, loc).Format("2006-01-02")
}
