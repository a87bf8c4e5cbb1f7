// Package broker держит по одному MTProto-соединению на авторизованного
// оператора. Он проводит интерактивный вход (телефон, затем код), сериализует
// успешную сессию в непрозрачный credential для хранилища и восстанавливает
// соединения из таких credential при старте.
package broker

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"telegram-exporter/internal/domain/export"
	"telegram-exporter/internal/domain/login"
	"telegram-exporter/internal/infra/logger"
	"telegram-exporter/internal/infra/telegram/fetch"
)

// dialTimeout ограничивает ожидание готовности клиента после запуска.
const dialTimeout = 30 * time.Second

// revokeTimeout ограничивает best-effort вызов auth.logOut при выходе.
const revokeTimeout = 10 * time.Second

// Options — параметры подключения к MTProto.
type Options struct {
	APIID       int
	APIHash     string
	ThrottleRPS int
	// TestDC переключает клиент на тестовые дата-центры Telegram.
	TestDC bool
}

// Conn — живое MTProto-соединение одного оператора. Владеет фоновой
// горутиной client.Run и in-memory хранилищем сессии.
type Conn struct {
	client  *telegram.Client
	storage *session.StorageMemory
	cancel  context.CancelFunc
}

// API возвращает низкоуровневый RPC-клиент соединения.
func (c *Conn) API() *tg.Client { return c.client.API() }

// Close останавливает фоновую горутину соединения.
func (c *Conn) Close() { c.cancel() }

// Broker — реестр соединений по Telegram user ID.
type Broker struct {
	opts Options
	// runCtx ограничивает время жизни фоновых горутин соединений.
	runCtx context.Context

	mu    sync.RWMutex
	conns map[int64]*Conn
}

// New создаёт брокер. Соединения живут до отмены runCtx или до Revoke/CloseAll.
func New(runCtx context.Context, opts Options) *Broker {
	return &Broker{
		opts:   opts,
		runCtx: runCtx,
		conns:  make(map[int64]*Conn),
	}
}

// dial запускает клиент поверх переданного хранилища сессии и дожидается
// готовности соединения. ctx ограничивает только ожидание, жизнь соединения
// привязана к runCtx брокера.
func (b *Broker) dial(ctx context.Context, storage *session.StorageMemory) (*Conn, error) {
	options := telegram.Options{
		SessionStorage: storage,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(
				rate.Limit(b.opts.ThrottleRPS),
				b.opts.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    "1.0.0",
		},
	}
	if b.opts.TestDC {
		options.DCList = dcs.Test()
	}
	client := telegram.NewClient(b.opts.APIID, b.opts.APIHash, options)

	runCtx, cancel := context.WithCancel(b.runCtx)
	ready := make(chan struct{})
	errC := make(chan error, 1)
	go func() {
		errC <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	waitCtx, cancelWait := context.WithTimeout(ctx, dialTimeout)
	defer cancelWait()
	select {
	case <-ready:
		return &Conn{client: client, storage: storage, cancel: cancel}, nil
	case err := <-errC:
		cancel()
		return nil, &TransportError{Err: err}
	case <-waitCtx.Done():
		cancel()
		return nil, &TransportError{Err: waitCtx.Err()}
	}
}

// Begin открывает свежее соединение и запрашивает у Telegram код для номера.
// Возвращённый Pending завершает или отбрасывает попытку входа.
func (b *Broker) Begin(ctx context.Context, phone string) (login.Pending, error) {
	storage := &session.StorageMemory{}
	conn, err := b.dial(ctx, storage)
	if err != nil {
		return nil, err
	}
	sent, err := conn.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		conn.Close()
		return nil, classifySignIn(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		conn.Close()
		return nil, &TransportError{Err: errors.Errorf("unexpected sent code response %T", sent)}
	}
	return &Pending{broker: b, conn: conn, phone: phone, codeHash: code.PhoneCodeHash}, nil
}

// Pending — начатая, но не завершённая попытка входа.
type Pending struct {
	broker   *Broker
	conn     *Conn
	phone    string
	codeHash string
}

// Complete предъявляет код из SMS/приложения. При успехе возвращает
// сериализованную сессию; соединение при этом остаётся нетронутым до Activate.
// Ошибка неверного кода допускает повторный Complete на той же попытке.
func (p *Pending) Complete(ctx context.Context, code string) (string, error) {
	if _, err := p.conn.client.Auth().SignIn(ctx, p.phone, code, p.codeHash); err != nil {
		return "", classifySignIn(err)
	}
	data, err := p.conn.storage.LoadSession(ctx)
	if err != nil {
		return "", errors.Wrap(err, "serialize session")
	}
	return encodeCredential(data), nil
}

// Activate регистрирует соединение попытки за оператором. Прежнее соединение
// оператора, если было, закрывается.
func (p *Pending) Activate(userID int64) {
	p.broker.register(userID, p.conn)
}

// Abort закрывает соединение незавершённой попытки.
func (p *Pending) Abort() {
	p.conn.Close()
}

func (b *Broker) register(userID int64, conn *Conn) {
	b.mu.Lock()
	old := b.conns[userID]
	b.conns[userID] = conn
	b.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Restore поднимает соединение из сохранённого credential. Возвращает
// (false, nil), когда сессия больше не авторизована на стороне Telegram.
func (b *Broker) Restore(ctx context.Context, userID int64, credential string) (bool, error) {
	data, err := decodeCredential(credential)
	if err != nil {
		return false, err
	}
	storage := &session.StorageMemory{}
	if err := storage.StoreSession(ctx, data); err != nil {
		return false, errors.Wrap(err, "seed session")
	}
	conn, err := b.dial(ctx, storage)
	if err != nil {
		return false, err
	}
	status, err := conn.client.Auth().Status(ctx)
	if err != nil {
		conn.Close()
		return false, errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		conn.Close()
		return false, nil
	}
	b.register(userID, conn)
	return true, nil
}

// Get возвращает живое соединение оператора, если есть.
func (b *Broker) Get(userID int64) (*Conn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.conns[userID]
	return conn, ok
}

// Revoke снимает регистрацию соединения оператора и закрывает его.
// Перед закрытием делает best-effort auth.logOut, чтобы сессия была
// аннулирована и на стороне Telegram.
func (b *Broker) Revoke(userID int64) {
	b.mu.Lock()
	conn, ok := b.conns[userID]
	delete(b.conns, userID)
	b.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(b.runCtx, revokeTimeout)
	defer cancel()
	if _, err := conn.API().AuthLogOut(ctx); err != nil {
		logger.Warn("auth.logOut failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	conn.Close()
}

// CloseAll закрывает все соединения. Вызывается при остановке приложения.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[int64]*Conn)
	b.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// Кодек credential: сериализованные байты сессии gotd в непрозрачной строке
// для durable-хранилища. Каждая сторона строго обратна другой.

func encodeCredential(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeCredential(credential string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return nil, errors.Wrap(err, "decode credential")
	}
	return data, nil
}

// Fetcher отдаёт доступ к истории и файлам от имени оператора.
// Реализует контракт export.Sessions.
func (b *Broker) Fetcher(userID int64) (export.Fetcher, bool) {
	conn, ok := b.Get(userID)
	if !ok {
		return nil, false
	}
	return fetch.New(conn.API()), true
}
