package sprint

import (
	"math"
	"time"

	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// GraceWindow - сколько после due_at награда ещё не обнуляется.
const GraceWindow = timeutil.Day

// Decay возвращает текущую стоимость убывающей награды.
//
// Награда линейно падает по дням от initialPrize к initialPrize/duration_days
// и держится на этом уровне до due_at + GraceWindow, после чего равна нулю.
// Нулевые assignedAt/dueAt считаются отсутствующими. Функция тотальна.
func Decay(initialPrize int, assignedAt, dueAt, now time.Time) int {
	prize := float64(max(initialPrize, 0))

	if dueAt.IsZero() {
		return int(math.Round(prize))
	}

	dueMs := timeutil.Millis(dueAt)
	nowMs := timeutil.Millis(now)
	if nowMs >= dueMs+timeutil.DayMillis {
		return 0
	}

	if assignedAt.IsZero() || !dueAt.After(assignedAt) {
		return int(math.Round(prize))
	}

	assignedMs := timeutil.Millis(assignedAt)
	durationDays := max(int64(1), timeutil.CeilDiv(dueMs-assignedMs, timeutil.DayMillis))
	dailyDrop := prize / float64(durationDays)

	elapsedDays := max(int64(0), timeutil.FloorDiv(min(nowMs, dueMs)-assignedMs, timeutil.DayMillis))
	chargedDecayDays := min(durationDays-1, elapsedDays)

	floor := math.Round(dailyDrop)
	value := math.Round(prize - float64(chargedDecayDays)*dailyDrop)
	return int(math.Max(floor, value))
}

// DurationDays возвращает длительность спринта в днях, не меньше 1.
func DurationDays(assignedAt, dueAt time.Time) int {
	if assignedAt.IsZero() || dueAt.IsZero() || !dueAt.After(assignedAt) {
		return 1
	}
	return int(max(int64(1), timeutil.CeilDiv(timeutil.Millis(dueAt)-timeutil.Millis(assignedAt), timeutil.DayMillis)))
}
