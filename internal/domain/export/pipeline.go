package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-exporter/internal/infra/logger"
)

// Notifier — исходящий канал в чат бота: тексты, правки, удаление и пересылка
// файлов. Реализуется адаптером Bot API; в тестах подменяется фейком.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendFile(ctx context.Context, chatID int64, name, path string) error
}

// Fetcher перечисляет и скачивает медиа через живую сессию одного оператора.
// Collect возвращает элементы уже в порядке доставки (от старых к новым).
type Fetcher interface {
	Collect(ctx context.Context, chatID int64, startID, endID int) ([]Item, error)
	Download(ctx context.Context, it Item, w io.Writer) error
}

// Sessions выдаёт Fetcher для авторизованного пользователя. Конвейер только
// читает живые соединения; создаёт и восстанавливает их подсистема логина.
type Sessions interface {
	Fetcher(userID int64) (Fetcher, bool)
}

// Pipeline обслуживает задания выгрузки. Элементы одного задания обрабатываются
// строго последовательно; сбой отдельного элемента сообщается оператору и не
// прерывает остальные (изоляция частичных сбоев — ключевой инвариант).
type Pipeline struct {
	sessions  Sessions
	notifier  Notifier
	dir       string
	editEvery time.Duration
}

// NewPipeline создаёт конвейер. dir — каталог временного размещения скачанных
// файлов; editEvery — минимальный интервал правок сообщения прогресса.
func NewPipeline(sessions Sessions, notifier Notifier, dir string, editEvery time.Duration) *Pipeline {
	return &Pipeline{
		sessions:  sessions,
		notifier:  notifier,
		dir:       dir,
		editEvery: editEvery,
	}
}

// Run выполняет одно задание: разбирает пару ссылок, перечисляет медиа и
// последовательно переносит каждый элемент. Все исходы сообщаются оператору;
// наружу ошибки не возвращаются — дальше этого метода им эскалировать некуда.
func (p *Pipeline) Run(ctx context.Context, userID, chatID int64, text string) {
	rng, err := ParseLinkPair(text)
	if err != nil {
		p.reply(ctx, chatID, "❌ "+err.Error())
		return
	}

	fetcher, ok := p.sessions.Fetcher(userID)
	if !ok {
		p.reply(ctx, chatID, "❌ Not logged in! Use /login first.")
		return
	}

	items, err := fetcher.Collect(ctx, rng.ChatID, rng.StartID, rng.EndID)
	if err != nil {
		logger.Error("range enumeration failed",
			zap.Int64("user", userID), zap.Int64("chat", rng.ChatID), zap.Error(err))
		p.reply(ctx, chatID, "❌ Failed to read the message range. Try again later.")
		return
	}
	if len(items) == 0 {
		p.reply(ctx, chatID, "No media found in the given range.")
		return
	}

	logger.Info("export job started",
		zap.Int64("user", userID),
		zap.Int64("chat", rng.ChatID),
		zap.Int("start", rng.StartID),
		zap.Int("end", rng.EndID),
		zap.Int("items", len(items)))

	reporter := NewReporter(p.notifier, chatID, p.editEvery)
	for _, item := range items {
		p.runItem(ctx, fetcher, reporter, chatID, item)
	}
	// Задание завершается молча: итоговой сводки нет, последний элемент уже
	// отчитался сам за себя.
}

// runItem переносит один элемент: скачивание с прогрессом, уведомление и
// пересылка файла. Любая ошибка остаётся внутри элемента.
func (p *Pipeline) runItem(ctx context.Context, fetcher Fetcher, reporter *Reporter, chatID int64, item Item) {
	name := item.DisplayName(time.Now())
	reporter.StartItem(item.Size, time.Now())

	path := filepath.Join(p.dir, name)
	if err := p.downloadTo(ctx, fetcher, reporter, item, path); err != nil {
		reporter.Dismiss(ctx)
		logger.Warn("media download failed",
			zap.Int("message", item.MessageID), zap.String("file", name), zap.Error(err))
		p.reply(ctx, chatID, fmt.Sprintf("❌ Failed to download %s: %v", name, err))
		return
	}

	reporter.Dismiss(ctx)
	p.reply(ctx, chatID, "✅ Saved: "+name)

	if err := p.notifier.SendFile(ctx, chatID, name, path); err != nil {
		logger.Warn("media forward failed",
			zap.Int("message", item.MessageID), zap.String("file", name), zap.Error(err))
		p.reply(ctx, chatID, fmt.Sprintf("❌ Failed to send %s: %v", name, err))
		return
	}

	// Файл переслан — локальная копия больше не нужна.
	if err := os.Remove(path); err != nil {
		logger.Debug("staging file cleanup failed", zap.String("path", path), zap.Error(err))
	}
}

// downloadTo скачивает элемент в файл path, транслируя прогресс в reporter.
// При ошибке частично записанный файл удаляется.
func (p *Pipeline) downloadTo(ctx context.Context, fetcher Fetcher, reporter *Reporter, item Item, path string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return errors.Wrap(err, "create download dir")
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create file")
	}

	writer := &progressWriter{ctx: ctx, dst: file, reporter: reporter}
	if err := fetcher.Download(ctx, item, writer); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return errors.Wrap(err, "close file")
	}
	return nil
}

// reply шлёт оператору служебный текст; неудача отправки только логируется.
func (p *Pipeline) reply(ctx context.Context, chatID int64, text string) {
	if _, err := p.notifier.SendText(ctx, chatID, text); err != nil {
		logger.Warn("reply send failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

// progressWriter считает переданные байты и дёргает Reporter на каждом чанке.
// Скачивание строго последовательное, поэтому счётчик не требует синхронизации.
type progressWriter struct {
	ctx         context.Context
	dst         io.Writer
	reporter    *Reporter
	transferred int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		w.transferred += int64(n)
		w.reporter.Report(w.ctx, w.transferred)
	}
	return n, err
}
