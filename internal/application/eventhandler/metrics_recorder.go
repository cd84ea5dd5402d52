package eventhandler

import (
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/infrastructure/metrics"
)

// MetricsRecorder переводит доменные события в счётчики Prometheus.
type MetricsRecorder struct {
	m *metrics.Metrics
}

// NewMetricsRecorder создаёт обработчик.
func NewMetricsRecorder(m *metrics.Metrics) *MetricsRecorder {
	return &MetricsRecorder{m: m}
}

// Handle реализует shared.EventHandler. Поля читаются из Payload, поэтому
// удалённые события считаются так же, как локальные.
func (r *MetricsRecorder) Handle(event shared.Event) error {
	p := event.Payload()
	switch event.EventType() {
	case shared.EventEntryAppended:
		r.m.EntriesAppended.WithLabelValues(payloadString(p, "category")).Inc()
	case shared.EventEntryDeleted:
		r.m.EntriesDeleted.Inc()
	case shared.EventBalancesRecomputed:
		r.m.Recomputes.Inc()
	case shared.EventSprintAssigned:
		r.m.SprintsAssigned.Inc()
	case shared.EventSprintCompleted:
		r.m.SprintsCompleted.Inc()
		r.m.SprintRewards.Observe(float64(payloadInt(p, "awarded_points")))
	case shared.EventPenaltyCharged:
		r.m.PenaltiesCharged.Inc()
		r.m.PenaltyPoints.Add(float64(payloadInt(p, "points")))
	case shared.EventBadgeAwarded:
		mode := "manual"
		if auto, _ := p["auto"].(bool); auto {
			mode = "auto"
		}
		r.m.BadgesAwarded.WithLabelValues(mode).Inc()
	case shared.EventBadgeAdjusted:
		r.m.BadgeAdjusts.Inc()
		delta := payloadInt(p, "delta")
		if delta < 0 {
			delta = -delta
		}
		r.m.AdjustedPoints.Add(float64(delta))
	case shared.EventJobCompleted:
		job := payloadString(p, "job")
		r.m.JobRuns.WithLabelValues(job).Inc()
		r.m.JobErrors.WithLabelValues(job).Add(float64(payloadInt(p, "errors")))
		r.m.JobDuration.WithLabelValues(job).Observe(payloadFloat(p, "duration_seconds"))
	}
	return nil
}

// Register подписывает обработчик на все события.
func (r *MetricsRecorder) Register(sub Subscriber) error {
	return sub.SubscribeAll(r.Handle)
}

func payloadString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

// payloadInt понимает и int, и float64 после JSON.
func payloadInt(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func payloadFloat(p map[string]interface{}, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
