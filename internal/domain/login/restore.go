package login

import (
	"context"

	"go.uber.org/zap"

	"telegram-exporter/internal/infra/logger"
)

// Restorer восстанавливает живое соединение из сохранённого credential.
// Возвращает (false, nil), если платформа больше не признаёт сессию: для
// восстановления это штатный исход, а не сбой.
type Restorer interface {
	Restore(ctx context.Context, userID int64, credential string) (bool, error)
}

// Scanner — обход всех durable-записей (контракт пакета sessions).
type Scanner interface {
	ForEach(fn func(userID int64, credential string) error) error
}

// RestoreSessions проигрывает сохранённые сессии в живые соединения на старте.
// Каждая запись обрабатывается независимо: сломанная или отозванная сессия
// логируется и пропускается, не мешая остальным. Возвращает число
// восстановленных соединений.
func RestoreSessions(ctx context.Context, scanner Scanner, restorer Restorer) int {
	restored := 0
	err := scanner.ForEach(func(userID int64, credential string) error {
		ok, restoreErr := restorer.Restore(ctx, userID, credential)
		switch {
		case restoreErr != nil:
			logger.Warn("session restore failed", zap.Int64("user", userID), zap.Error(restoreErr))
		case !ok:
			logger.Info("stored session no longer authorized", zap.Int64("user", userID))
		default:
			restored++
			logger.Info("session restored", zap.Int64("user", userID))
		}
		return nil
	})
	if err != nil {
		logger.Error("session scan failed", zap.Error(err))
	}
	return restored
}
