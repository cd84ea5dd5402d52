package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON BALANCES RECOMPUTED HANDLER
// Сбрасывает закэшированные балансы студента после каждого пересчёта.
// ═══════════════════════════════════════════════════════════════════════════

// cacheTimeout ограничивает обращение к кэшу из обработчика.
const cacheTimeout = 2 * time.Second

// OnBalancesRecomputedHandler инвалидирует кэш балансов.
type OnBalancesRecomputedHandler struct {
	cache  port.BalanceCache
	logger *logger.Logger
}

// NewOnBalancesRecomputedHandler создаёт обработчик.
func NewOnBalancesRecomputedHandler(cache port.BalanceCache, log *logger.Logger) *OnBalancesRecomputedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnBalancesRecomputedHandler{
		cache:  cache,
		logger: log.With(logger.Component("on_balances_recomputed")),
	}
}

// Handle реализует shared.EventHandler. Работает и с событиями, пришедшими
// с других инстансов: нужен только AggregateID.
func (h *OnBalancesRecomputedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventBalancesRecomputed || h.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	studentID := event.AggregateID()
	if err := h.cache.Invalidate(ctx, studentID); err != nil {
		h.logger.Warn("failed to invalidate balance cache", logger.StudentID(studentID), logger.Err(err))
		return err
	}
	return nil
}

// Register подписывает обработчик.
func (h *OnBalancesRecomputedHandler) Register(sub Subscriber) error {
	return sub.Subscribe(shared.EventBalancesRecomputed, h.Handle)
}
