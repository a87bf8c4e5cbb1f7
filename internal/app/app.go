// Package app — верхний уровень сборки бота-экспортёра. Здесь связываются
// конфигурация, хранилище сессий, брокер MTProto-соединений, машина логина,
// конвейер выгрузки и транспорт Bot API. Отсюда стартует long polling и
// обеспечивается корректный shutdown.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-exporter/internal/adapters/botapi"
	"telegram-exporter/internal/domain/export"
	"telegram-exporter/internal/domain/login"
	"telegram-exporter/internal/infra/config"
	"telegram-exporter/internal/infra/logger"
	"telegram-exporter/internal/infra/sessions"
	"telegram-exporter/internal/infra/telegram/broker"
	"telegram-exporter/internal/web"
)

// webShutdownTimeout ограничивает ожидание остановки keep-alive сервера.
const webShutdownTimeout = 5 * time.Second

// App агрегирует зависимости бота и управляет их жизненным циклом.
type App struct {
	store  *sessions.Store
	broker *broker.Broker
	bot    *botapi.Bot
	web    *web.Server
}

// New собирает приложение по текущему Env. Сетевые соединения на этом этапе
// ещё не открываются, только зависимости связываются между собой.
func New(runCtx context.Context) (*App, error) {
	env := config.Env()

	store, err := sessions.Open(env.SessionsFile)
	if err != nil {
		return nil, errors.Wrap(err, "open session store")
	}

	brk := broker.New(runCtx, broker.Options{
		APIID:       env.APIID,
		APIHash:     env.APIHash,
		ThrottleRPS: env.ThrottleRPS,
		TestDC:      env.TestDC,
	})

	bot, err := botapi.New(env.BotToken, env.Admins, env.ThrottleRPS)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "create bot")
	}

	machine := login.NewMachine(brk, store, bot)
	pipeline := export.NewPipeline(brk, bot, env.DownloadDir, time.Duration(env.ProgressEditMS)*time.Millisecond)
	bot.Bind(machine, pipeline)

	a := &App{store: store, broker: brk, bot: bot}
	if env.WebServerEnable {
		a.web = web.NewServer(env.WebServerAddress)
	}
	return a, nil
}

// Run восстанавливает сохранённые сессии, запускает keep-alive сервер и
// long polling. Блокируется до отмены ctx, затем закрывает соединения
// и хранилище.
func (a *App) Run(ctx context.Context) error {
	restored := login.RestoreSessions(ctx, a.store, a.broker)
	logger.Info("Sessions restored", zap.Int("count", restored))

	if a.web != nil {
		go func() {
			if err := a.web.Start(); err != nil {
				logger.Error("Web server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("Bot is up, waiting for updates")
	a.bot.Start(ctx)

	if a.web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
		defer cancel()
		if err := a.web.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("web server shutdown: %v", err)
		}
	}
	a.broker.CloseAll()
	if err := a.store.Close(); err != nil {
		return errors.Wrap(err, "close session store")
	}
	return nil
}
