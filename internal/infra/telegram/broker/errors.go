package broker

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
)

// AuthReason классифицирует отказ sign-in. Различение нужно машине логина:
// неверный код оператор может просто перенабрать, остальные причины требуют
// начать попытку заново.
type AuthReason uint8

const (
	// ReasonCodeInvalid — код неверный или пустой; можно повторить ввод.
	ReasonCodeInvalid AuthReason = iota
	// ReasonCodeExpired — код истёк; нужен новый запрос кода.
	ReasonCodeExpired
	// ReasonPasswordNeeded — на аккаунте включена 2FA; не поддерживается.
	ReasonPasswordNeeded
	// ReasonOther — прочие отказы платформы.
	ReasonOther
)

// AuthError — отказ платформы на шаге sign-in. Текст ошибки платформы
// показывается оператору дословно, поэтому Error() не добавляет префиксов.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string { return e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// Retryable реализует контракт login.Retryable: повторный ввод кода допустим
// только при неверном коде.
func (e *AuthError) Retryable() bool { return e.Reason == ReasonCodeInvalid }

// TransportError — сетевой/протокольный сбой при разговоре с Telegram.
// Решение о повторе остаётся за вызывающим.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("Telegram is unreachable: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// classifySignIn приводит ошибку sign-in к таксономии AuthError/TransportError.
// RPC-ошибки платформы считаются отказами авторизации, всё прочее — транспортом.
func classifySignIn(err error) error {
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return &AuthError{Reason: ReasonPasswordNeeded, Err: err}
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return &AuthError{Reason: ReasonCodeInvalid, Err: err}
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return &AuthError{Reason: ReasonCodeExpired, Err: err}
	}
	if rpcErr, ok := tgerr.As(err); ok {
		return &AuthError{Reason: ReasonOther, Err: rpcErr}
	}
	return &TransportError{Err: err}
}
