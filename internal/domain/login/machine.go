// Package login — пошаговый диалог авторизации оператора (телефон → код → сессия)
// и восстановление сохранённых сессий на старте процесса.
//
// Машина состояний живёт в памяти и ключуется по userID: у одного пользователя
// не может быть двух одновременных попыток логина, шаги разных пользователей
// свободно перемежаются. Durable-часть (credential) принадлежит Store; живое
// соединение регистрируется в Gateway только после успешного сохранения
// credential («авторизован ⇒ сохранён»).
package login

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"telegram-exporter/internal/infra/logger"
)

// State — этап диалога логина для одного пользователя.
type State uint8

const (
	// StateNone — диалог не идёт; свободный текст пакету не принадлежит.
	StateNone State = iota
	// StateAwaitingPhone — ждём номер телефона.
	StateAwaitingPhone
	// StateAwaitingCode — код запрошен, ждём OTP.
	StateAwaitingCode
)

// Pending — незавершённая попытка входа: открытое анонимное соединение плюс
// служебный handle запрошенного кода. Владение: до Activate/Abort соединение
// принадлежит попытке и не видно остальным компонентам.
type Pending interface {
	// Complete выполняет sign-in с присланным кодом и возвращает сериализованный
	// credential. Ошибка может реализовывать Retryable.
	Complete(ctx context.Context, code string) (string, error)
	// Activate регистрирует соединение попытки как живое для пользователя.
	// Вызывается строго после сохранения credential.
	Activate(userID int64)
	// Abort разрывает соединение и освобождает ресурсы попытки.
	Abort()
}

// Retryable сообщает, что ошибку шага можно исправить повторным вводом,
// не начиная диалог заново (неверно набранный код).
type Retryable interface {
	Retryable() bool
}

// Gateway — операции брокера соединений, нужные машине логина.
type Gateway interface {
	// Begin открывает анонимное соединение и запрашивает OTP для телефона.
	Begin(ctx context.Context, phone string) (Pending, error)
	// Revoke разрывает и удаляет живое соединение пользователя, если есть.
	Revoke(userID int64)
}

// Store — durable-хранилище credential'ов (контракт пакета sessions).
type Store interface {
	Put(userID int64, credential string) error
	Delete(userID int64) error
}

// Notifier — минимальный исходящий канал: машине достаточно отправки текста.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
}

// attempt — состояние диалога одного пользователя. Поле busy сериализует шаги:
// пока сетевой шаг в полёте, повторные сообщения того же пользователя
// отклоняются, чтобы переходы состояния не гонялись сами с собой.
type attempt struct {
	state   State
	phone   string
	pending Pending
	busy    bool
}

// Machine — машина состояний логина для всех операторов.
type Machine struct {
	gateway  Gateway
	store    Store
	notifier Notifier

	mu       sync.Mutex
	attempts map[int64]*attempt
}

// NewMachine собирает машину с внешними зависимостями.
func NewMachine(gateway Gateway, store Store, notifier Notifier) *Machine {
	return &Machine{
		gateway:  gateway,
		store:    store,
		notifier: notifier,
		attempts: make(map[int64]*attempt),
	}
}

// StartLogin начинает (или перезапускает) диалог: /login. Висящая попытка
// прерывается — у пользователя всегда не больше одной.
func (m *Machine) StartLogin(ctx context.Context, userID, chatID int64) {
	m.mu.Lock()
	if prev, ok := m.attempts[userID]; ok {
		if prev.busy {
			m.mu.Unlock()
			m.send(ctx, chatID, "⏳ Previous step is still in progress, please wait.")
			return
		}
		if prev.pending != nil {
			prev.pending.Abort()
		}
	}
	m.attempts[userID] = &attempt{state: StateAwaitingPhone}
	m.mu.Unlock()

	m.send(ctx, chatID, "📱 Please send your phone number (e.g., +1234567890):")
}

// Logout разрывает живое соединение, удаляет durable-запись и сбрасывает диалог.
// Идемпотентен: без сессии выполняет удаление как no-op и так же подтверждает.
// Попытка в полёте не прерывается насильно: её сетевой шаг по возвращении
// видит, что записи в attempts больше нет, и сам отбрасывает соединение.
func (m *Machine) Logout(ctx context.Context, userID, chatID int64) {
	m.mu.Lock()
	if prev, ok := m.attempts[userID]; ok {
		if !prev.busy && prev.pending != nil {
			prev.pending.Abort()
		}
		delete(m.attempts, userID)
	}
	m.mu.Unlock()

	m.gateway.Revoke(userID)
	if err := m.store.Delete(userID); err != nil {
		logger.Error("session record delete failed", zap.Int64("user", userID), zap.Error(err))
		m.send(ctx, chatID, "❌ Failed to delete the stored session. Try again.")
		return
	}
	m.send(ctx, chatID, "🔒 Session terminated.")
}

// HandleText обрабатывает свободный текст. Возвращает true, если текст был
// шагом диалога логина; false — текст пакету не принадлежит (state NONE).
func (m *Machine) HandleText(ctx context.Context, userID, chatID int64, text string) bool {
	m.mu.Lock()
	a, ok := m.attempts[userID]
	if !ok || a.state == StateNone {
		m.mu.Unlock()
		return false
	}
	if a.busy {
		m.mu.Unlock()
		m.send(ctx, chatID, "⏳ Previous step is still in progress, please wait.")
		return true
	}
	a.busy = true
	state := a.state
	m.mu.Unlock()

	switch state {
	case StateAwaitingPhone:
		m.handlePhone(ctx, a, userID, chatID, text)
	case StateAwaitingCode:
		m.handleCode(ctx, a, userID, chatID, text)
	}
	return true
}

// handlePhone открывает анонимное соединение и запрашивает OTP.
// При недоступности платформы попытка сбрасывается с уведомлением.
func (m *Machine) handlePhone(ctx context.Context, a *attempt, userID, chatID int64, phone string) {
	pending, err := m.gateway.Begin(ctx, phone)

	m.mu.Lock()
	if m.attempts[userID] != a {
		// Logout успел снести попытку, пока шёл сетевой шаг. Сверяем именно
		// указатель: за это время мог стартовать и новый /login.
		m.mu.Unlock()
		if pending != nil {
			pending.Abort()
		}
		return
	}
	if err != nil {
		delete(m.attempts, userID)
		m.mu.Unlock()
		logger.Warn("code request failed", zap.Int64("user", userID), zap.Error(err))
		m.send(ctx, chatID, fmt.Sprintf("❌ Error: %v", err))
		return
	}
	a.phone = phone
	a.pending = pending
	a.state = StateAwaitingCode
	a.busy = false
	m.mu.Unlock()

	m.send(ctx, chatID, "🔒 Enter the Telegram OTP you received:")
}

// handleCode завершает sign-in. Неверный код оставляет диалог на шаге кода;
// любая другая ошибка прерывает попытку. Успех: сохранить credential, затем
// активировать соединение, затем подтвердить. Сохранение и активация идут под
// мьютексом, чтобы конкурирующий /logout не мог вклиниться между ними и
// оставить оператора залогиненным после подтверждённого выхода.
func (m *Machine) handleCode(ctx context.Context, a *attempt, userID, chatID int64, code string) {
	m.mu.Lock()
	pending := a.pending
	if pending == nil {
		// Шаг кода без запрошенного кода: битое состояние, сбрасываем диалог.
		if m.attempts[userID] == a {
			delete(m.attempts, userID)
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	credential, err := pending.Complete(ctx, code)

	m.mu.Lock()
	if m.attempts[userID] != a {
		// Logout снёс попытку, пока шёл sign-in: результат шага отбрасывается,
		// оператору уже подтверждён выход.
		m.mu.Unlock()
		pending.Abort()
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.finishCodeFailure(ctx, a, userID, chatID, pending, err)
		return
	}

	if putErr := m.store.Put(userID, credential); putErr != nil {
		// Без durable-записи соединение активировать нельзя: после рестарта
		// пользователь оказался бы «наполовину» авторизован.
		delete(m.attempts, userID)
		m.mu.Unlock()
		logger.Error("session persist failed", zap.Int64("user", userID), zap.Error(putErr))
		pending.Abort()
		m.send(ctx, chatID, "❌ Failed to store the session. Please /login again.")
		return
	}

	pending.Activate(userID)
	delete(m.attempts, userID)
	m.mu.Unlock()

	logger.Info("operator logged in", zap.Int64("user", userID))
	m.send(ctx, chatID, "✅ Login successful!")
}

// finishCodeFailure доносит ошибку платформы дословно и решает судьбу попытки:
// retryable-ошибка оставляет шаг кода, остальные сбрасывают диалог. Если за
// время сетевого шага попытку снёс /logout, исход просто отбрасывается.
func (m *Machine) finishCodeFailure(ctx context.Context, a *attempt, userID, chatID int64, pending Pending, err error) {
	var retryable Retryable
	if errors.As(err, &retryable) && retryable.Retryable() {
		m.mu.Lock()
		if m.attempts[userID] != a {
			m.mu.Unlock()
			pending.Abort()
			return
		}
		a.busy = false
		m.mu.Unlock()
		m.send(ctx, chatID, fmt.Sprintf("❌ Error: %v\nEnter the code again:", err))
		return
	}

	m.mu.Lock()
	current := m.attempts[userID] == a
	if current {
		delete(m.attempts, userID)
	}
	m.mu.Unlock()
	pending.Abort()
	if !current {
		return
	}
	logger.Warn("sign-in failed", zap.Int64("user", userID), zap.Error(err))
	m.send(ctx, chatID, fmt.Sprintf("❌ Error: %v", err))
}

// send шлёт оператору служебный текст; неудача отправки только логируется.
func (m *Machine) send(ctx context.Context, chatID int64, text string) {
	if _, err := m.notifier.SendText(ctx, chatID, text); err != nil {
		logger.Warn("login reply send failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}
