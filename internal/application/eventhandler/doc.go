// Package eventhandler содержит обработчики доменных событий.
//
// Обработчики запускаются после коммита транзакции и отвечают только за
// побочные эффекты: сброс кэша балансов, метрики и аудит-лог. Ошибка
// обработчика никогда не откатывает запись в журнал.
package eventhandler

import "github.com/alem-hub/points-ledger/internal/domain/shared"

// Subscriber - то, на что подписываются обработчики.
type Subscriber = shared.EventSubscriber
