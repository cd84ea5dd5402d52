package eventhandler

import (
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// AuditLogger пишет каждое событие в структурированный лог.
type AuditLogger struct {
	logger *logger.Logger
}

// NewAuditLogger создаёт обработчик.
func NewAuditLogger(log *logger.Logger) *AuditLogger {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditLogger{logger: log.Named("audit")}
}

// Handle реализует shared.EventHandler.
func (a *AuditLogger) Handle(event shared.Event) error {
	a.logger.Info("domain event",
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()),
		logger.Time("occurred_at", event.OccurredAt()),
		logger.Any("payload", event.Payload()),
	)
	return nil
}

// Register подписывает обработчик на все события.
func (a *AuditLogger) Register(sub Subscriber) error {
	return sub.SubscribeAll(a.Handle)
}
