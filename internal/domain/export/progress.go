package export

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"telegram-exporter/internal/infra/logger"

	"go.uber.org/zap"
)

// Reporter ведёт единственное сообщение прогресса задания: создаёт его лениво
// при первом отчёте, далее редактирует на месте, а по завершении элемента
// удаляет. Отчёты — best-effort: любая ошибка отправки/редактирования
// проглатывается, прогресс не влияет на сам перенос данных.
//
// Частота редактирования ограничена token bucket'ом: Telegram не любит
// частые правки одного сообщения, а оператору хватает обновления раз в
// пару секунд. Первый отчёт элемента отправляется вне лимита.
type Reporter struct {
	notifier Notifier
	chatID   int64
	limiter  *rate.Limiter

	messageID int
	start     time.Time
	total     int64
}

// NewReporter создаёт репортёр для одного задания. editEvery задаёт минимальный
// интервал между правками; нулевое значение отключает троттлинг (используется
// в тестах).
func NewReporter(notifier Notifier, chatID int64, editEvery time.Duration) *Reporter {
	limit := rate.Inf
	if editEvery > 0 {
		limit = rate.Every(editEvery)
	}
	return &Reporter{
		notifier: notifier,
		chatID:   chatID,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// StartItem фиксирует старт переноса очередного элемента: момент начала
// и полный размер. Обнуляет скорость/процент предыдущего элемента.
func (r *Reporter) StartItem(total int64, now time.Time) {
	r.start = now
	r.total = total
}

// Report публикует текущий прогресс. Если сообщения ещё нет — отправляет новое
// и запоминает его ID; иначе редактирует существующее. Ошибки проглатываются.
func (r *Reporter) Report(ctx context.Context, transferred int64) {
	text := renderProgress(transferred, r.total, time.Since(r.start))

	if r.messageID == 0 {
		id, err := r.notifier.SendText(ctx, r.chatID, text)
		if err != nil {
			logger.Debug("progress message send failed", zap.Error(err))
			return
		}
		r.messageID = id
		return
	}

	if !r.limiter.Allow() {
		return
	}
	if err := r.notifier.EditText(ctx, r.chatID, r.messageID, text); err != nil {
		// Сообщение могли удалить руками, либо Telegram отклонил правку
		// (rate limit, неизменённый текст) — всё это не повод ронять задание.
		logger.Debug("progress message edit failed", zap.Error(err))
	}
}

// Dismiss удаляет сообщение прогресса, если оно существует, и сбрасывает handle,
// чтобы следующий элемент начал с нового сообщения.
func (r *Reporter) Dismiss(ctx context.Context) {
	if r.messageID == 0 {
		return
	}
	if err := r.notifier.DeleteMessage(ctx, r.chatID, r.messageID); err != nil {
		logger.Debug("progress message delete failed", zap.Error(err))
	}
	r.messageID = 0
}

// renderProgress форматирует текст сообщения прогресса: процент с одним знаком
// после запятой, человекочитаемый полный размер и скорость. Скорость опускается,
// пока не накопилось измеримое время, чтобы не делить на ноль.
func renderProgress(transferred, total int64, elapsed time.Duration) string {
	var percent float64
	if total > 0 {
		percent = float64(transferred) / float64(total) * 100
	}

	speed := ""
	if seconds := elapsed.Seconds(); seconds > 0 {
		speed = humanize.Bytes(uint64(float64(transferred)/seconds)) + "/s"
	}

	return fmt.Sprintf(
		"📥 Downloading...\nProgress: %.1f%%\nSize: %s\nSpeed: %s",
		percent, humanize.Bytes(uint64(total)), speed,
	)
}
