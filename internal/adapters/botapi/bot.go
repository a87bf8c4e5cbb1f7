// Package botapi — транспорт оператора поверх Bot API. Принимает команды и
// текст от разрешённых операторов, отправляет уведомления, прогресс и готовые
// файлы. Весь исходящий трафик проходит через общий rate limiter.
package botapi

import (
	"context"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"telegram-exporter/internal/infra/logger"
)

// LoginFlow — шаги интерактивного входа, которые бот передаёт машине логина.
type LoginFlow interface {
	StartLogin(ctx context.Context, userID, chatID int64)
	Logout(ctx context.Context, userID, chatID int64)
	// HandleText возвращает true, если текст был шагом входа.
	HandleText(ctx context.Context, userID, chatID int64, text string) bool
}

// Exporter запускает выгрузку диапазона по тексту с двумя ссылками.
type Exporter interface {
	Run(ctx context.Context, userID, chatID int64, text string)
}

// Bot держит соединение с Bot API и маршрутизирует входящие сообщения.
type Bot struct {
	api     *bot.Bot
	admins  map[int64]struct{}
	limiter *rate.Limiter

	login    LoginFlow
	exporter Exporter
}

// New создаёт бота и регистрирует обработчики команд. Зависимости верхнего
// уровня подключаются позже через Bind: они сами используют бот как Notifier.
func New(token string, admins []int64, rps int) (*Bot, error) {
	b := &Bot{
		admins:  make(map[int64]struct{}, len(admins)),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	for _, id := range admins {
		b.admins[id] = struct{}{}
	}

	api, err := bot.New(token, bot.WithDefaultHandler(b.handleDefault))
	if err != nil {
		return nil, errors.Wrap(err, "create bot")
	}
	api.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.handleStart)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/login", bot.MatchTypeExact, b.handleLogin)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/logout", bot.MatchTypeExact, b.handleLogout)
	b.api = api
	return b, nil
}

// Bind подключает машину логина и экспортёр. Вызывается до Start.
func (b *Bot) Bind(login LoginFlow, exporter Exporter) {
	b.login = login
	b.exporter = exporter
}

// Start запускает long polling и блокируется до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	b.api.Start(ctx)
}

// allowed проверяет оператора по allow-list. Сообщения посторонних
// игнорируются молча, без ответа.
func (b *Bot) allowed(userID int64) bool {
	_, ok := b.admins[userID]
	return ok
}

func sender(update *models.Update) (userID, chatID int64, ok bool) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return 0, 0, false
	}
	return update.Message.From.ID, update.Message.Chat.ID, true
}

func (b *Bot) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	userID, chatID, ok := sender(update)
	if !ok || !b.allowed(userID) {
		return
	}
	if _, err := b.SendText(ctx, chatID, "🔑 Welcome! Use /login to start."); err != nil {
		logger.Warnf("send welcome: %v", err)
	}
}

func (b *Bot) handleLogin(ctx context.Context, _ *bot.Bot, update *models.Update) {
	userID, chatID, ok := sender(update)
	if !ok || !b.allowed(userID) {
		return
	}
	b.login.StartLogin(ctx, userID, chatID)
}

func (b *Bot) handleLogout(ctx context.Context, _ *bot.Bot, update *models.Update) {
	userID, chatID, ok := sender(update)
	if !ok || !b.allowed(userID) {
		return
	}
	b.login.Logout(ctx, userID, chatID)
}

// handleDefault разбирает свободный текст: сначала шанс машине логина
// (телефон или код), затем ссылки на сообщения, иначе подсказка.
func (b *Bot) handleDefault(ctx context.Context, _ *bot.Bot, update *models.Update) {
	userID, chatID, ok := sender(update)
	if !ok || !b.allowed(userID) {
		return
	}
	text := update.Message.Text
	if text == "" {
		return
	}
	if b.login.HandleText(ctx, userID, chatID, text) {
		return
	}
	if strings.Contains(text, "t.me/c/") {
		b.exporter.Run(ctx, userID, chatID, text)
		return
	}
	if _, err := b.SendText(ctx, chatID, "Send two https://t.me/c/... message links (start and end) to export media."); err != nil {
		logger.Warnf("send hint: %v", err)
	}
}

// SendText отправляет сообщение и возвращает его ID для последующих правок.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return 0, errors.Wrap(err, "send message")
	}
	return msg.ID, nil
}

// EditText заменяет текст ранее отправленного сообщения.
func (b *Bot) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}); err != nil {
		return errors.Wrap(err, "edit message")
	}
	return nil
}

// DeleteMessage удаляет сообщение, например отработавший индикатор прогресса.
func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.api.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	}); err != nil {
		return errors.Wrap(err, "delete message")
	}
	return nil
}

// SendFile отправляет скачанный файл документом в чат оператора.
func (b *Bot) SendFile(ctx context.Context, chatID int64, name, path string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open staged file")
	}
	defer func() { _ = f.Close() }()

	if _, err := b.api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: name, Data: f},
	}); err != nil {
		return errors.Wrap(err, "send document")
	}
	return nil
}
