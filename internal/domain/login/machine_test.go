package login

import (
	"context"
	"strings"
	"testing"

	"github.com/go-faster/errors"
)

// fakePending имитирует незавершённую попытку входа. Каналы started/proceed
// позволяют тесту удержать Complete «в полёте» и вклинить конкурирующий шаг.
type fakePending struct {
	credential  string
	completeErr error
	started     chan struct{}
	proceed     chan struct{}

	completed bool
	activated []int64
	aborted   bool
	events    *[]string
}

func (p *fakePending) Complete(_ context.Context, code string) (string, error) {
	p.completed = true
	if p.started != nil {
		close(p.started)
	}
	if p.proceed != nil {
		<-p.proceed
	}
	if p.completeErr != nil {
		return "", p.completeErr
	}
	return p.credential, nil
}

func (p *fakePending) Activate(userID int64) {
	p.activated = append(p.activated, userID)
	if p.events != nil {
		*p.events = append(*p.events, "activate")
	}
}

func (p *fakePending) Abort() { p.aborted = true }

// fakeGateway возвращает подготовленный pending либо ошибку соединения.
type fakeGateway struct {
	pending  *fakePending
	beginErr error

	begun   []string
	revoked []int64
}

func (g *fakeGateway) Begin(_ context.Context, phone string) (Pending, error) {
	g.begun = append(g.begun, phone)
	if g.beginErr != nil {
		return nil, g.beginErr
	}
	return g.pending, nil
}

func (g *fakeGateway) Revoke(userID int64) { g.revoked = append(g.revoked, userID) }

// fakeStore пишет в память и фиксирует порядок операций в общем журнале.
type fakeStore struct {
	records map[int64]string
	putErr  error
	events  *[]string
}

func newFakeStore(events *[]string) *fakeStore {
	return &fakeStore{records: make(map[int64]string), events: events}
}

func (s *fakeStore) Put(userID int64, credential string) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.records[userID] = credential
	if s.events != nil {
		*s.events = append(*s.events, "put")
	}
	return nil
}

func (s *fakeStore) Delete(userID int64) error {
	delete(s.records, userID)
	return nil
}

type textNotifier struct {
	sent []string
}

func (n *textNotifier) SendText(_ context.Context, _ int64, text string) (int, error) {
	n.sent = append(n.sent, text)
	return len(n.sent), nil
}

func (n *textNotifier) last(t *testing.T) string {
	t.Helper()
	if len(n.sent) == 0 {
		t.Fatal("no messages were sent")
	}
	return n.sent[len(n.sent)-1]
}

const (
	testUser int64 = 777
	testChat int64 = 777
)

func TestHappyPathPersistsBeforeActivation(t *testing.T) {
	t.Parallel()

	var events []string
	pending := &fakePending{credential: "cred-123", events: &events}
	gateway := &fakeGateway{pending: pending}
	store := newFakeStore(&events)
	notifier := &textNotifier{}
	machine := NewMachine(gateway, store, notifier)
	ctx := context.Background()

	machine.StartLogin(ctx, testUser, testChat)
	if !strings.Contains(notifier.last(t), "phone number") {
		t.Fatalf("after /login got %q, want phone prompt", notifier.last(t))
	}

	if !machine.HandleText(ctx, testUser, testChat, "+1234567890") {
		t.Fatal("phone input was not consumed by the login flow")
	}
	if len(gateway.begun) != 1 || gateway.begun[0] != "+1234567890" {
		t.Fatalf("Begin calls = %#v, want the submitted phone", gateway.begun)
	}
	if !strings.Contains(notifier.last(t), "OTP") {
		t.Fatalf("after phone got %q, want OTP prompt", notifier.last(t))
	}

	if !machine.HandleText(ctx, testUser, testChat, "12345") {
		t.Fatal("code input was not consumed by the login flow")
	}
	if got := store.records[testUser]; got != "cred-123" {
		t.Fatalf("stored credential = %q, want %q", got, "cred-123")
	}
	if len(pending.activated) != 1 || pending.activated[0] != testUser {
		t.Fatalf("Activate calls = %#v, want exactly one for the user", pending.activated)
	}
	// «авторизован ⇒ сохранён»: активация строго после записи.
	if len(events) != 2 || events[0] != "put" || events[1] != "activate" {
		t.Fatalf("event order = %#v, want [put activate]", events)
	}
	if !strings.Contains(notifier.last(t), "successful") {
		t.Fatalf("after code got %q, want success notice", notifier.last(t))
	}

	// Диалог завершён: свободный текст машине больше не принадлежит.
	if machine.HandleText(ctx, testUser, testChat, "anything") {
		t.Fatal("text after a finished login must not be consumed")
	}
}

func TestTextWithoutLoginIsNotConsumed(t *testing.T) {
	t.Parallel()

	machine := NewMachine(&fakeGateway{}, newFakeStore(nil), &textNotifier{})
	if machine.HandleText(context.Background(), testUser, testChat, "hello") {
		t.Fatal("text without an active login flow must not be consumed")
	}
}

func TestBeginFailureResetsFlow(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{beginErr: errors.New("connection refused")}
	notifier := &textNotifier{}
	machine := NewMachine(gateway, newFakeStore(nil), notifier)
	ctx := context.Background()

	machine.StartLogin(ctx, testUser, testChat)
	machine.HandleText(ctx, testUser, testChat, "+1234567890")

	if !strings.Contains(notifier.last(t), "connection refused") {
		t.Fatalf("got %q, want the transport error surfaced", notifier.last(t))
	}
	// Состояние сброшено: следующий текст не является шагом логина.
	if machine.HandleText(ctx, testUser, testChat, "+1234567890") {
		t.Fatal("flow must reset to idle after a code-request failure")
	}
}

type retryableErr struct{ msg string }

func (e *retryableErr) Error() string   { return e.msg }
func (e *retryableErr) Retryable() bool { return true }

func TestRetryableCodeErrorKeepsCodeStep(t *testing.T) {
	t.Parallel()

	pending := &fakePending{credential: "cred", completeErr: &retryableErr{msg: "PHONE_CODE_INVALID"}}
	gateway := &fakeGateway{pending: pending}
	store := newFakeStore(nil)
	notifier := &textNotifier{}
	machine := NewMachine(gateway, store, notifier)
	ctx := context.Background()

	machine.StartLogin(ctx, testUser, testChat)
	machine.HandleText(ctx, testUser, testChat, "+1234567890")
	machine.HandleText(ctx, testUser, testChat, "00000")

	if !strings.Contains(notifier.last(t), "PHONE_CODE_INVALID") {
		t.Fatalf("got %q, want the platform error surfaced verbatim", notifier.last(t))
	}
	if pending.aborted {
		t.Fatal("a retryable failure must keep the pending attempt alive")
	}

	// Вторая попытка с верным кодом проходит без нового /login.
	pending.completeErr = nil
	if !machine.HandleText(ctx, testUser, testChat, "12345") {
		t.Fatal("retry code input was not consumed")
	}
	if store.records[testUser] != "cred" {
		t.Fatal("credential was not stored after retry")
	}
}

func TestTerminalCodeErrorAbortsFlow(t *testing.T) {
	t.Parallel()

	pending := &fakePending{completeErr: errors.New("SESSION_PASSWORD_NEEDED")}
	gateway := &fakeGateway{pending: pending}
	notifier := &textNotifier{}
	machine := NewMachine(gateway, newFakeStore(nil), notifier)
	ctx := context.Background()

	machine.StartLogin(ctx, testUser, testChat)
	machine.HandleText(ctx, testUser, testChat, "+1234567890")
	machine.HandleText(ctx, testUser, testChat, "12345")

	if !pending.aborted {
		t.Fatal("a terminal sign-in failure must abort the pending connection")
	}
	if machine.HandleText(ctx, testUser, testChat, "12345") {
		t.Fatal("flow must reset to idle after a terminal failure")
	}
}

func TestPersistFailureDoesNotActivate(t *testing.T) {
	t.Parallel()

	pending := &fakePending{credential: "cred"}
	gateway := &fakeGateway{pending: pending}
	store := newFakeStore(nil)
	store.putErr = errors.New("disk full")
	notifier := &textNotifier{}
	machine := NewMachine(gateway, store, notifier)
	ctx := context.Background()

	machine.StartLogin(ctx, testUser, testChat)
	machine.HandleText(ctx, testUser, testChat, "+1234567890")
	machine.HandleText(ctx, testUser, testChat, "12345")

	if len(pending.activated) != 0 {
		t.Fatal("connection must not be activated when the credential was not persisted")
	}
	if !pending.aborted {
		t.Fatal("attempt must be aborted when the credential was not persisted")
	}
}

func TestLogoutWithoutSessionConfirms(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{}
	notifier := &textNotifier{}
	machine := NewMachine(gateway, newFakeStore(nil), notifier)

	machine.Logout(context.Background(), testUser, testChat)

	if !strings.Contains(notifier.last(t), "terminated") {
		t.Fatalf("got %q, want the standard logout confirmation", notifier.last(t))
	}
	if len(gateway.revoked) != 1 {
		t.Fatalf("Revoke calls = %d, want 1", len(gateway.revoked))
	}
}

func TestLogoutDuringSignInDiscardsResult(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	proceed := make(chan struct{})
	pending := &fakePending{credential: "cred-late", started: started, proceed: proceed}
	gateway := &fakeGateway{pending: pending}
	store := newFakeStore(nil)
	notifier := &textNotifier{}
	machine := NewMachine(gateway, store, notifier)
	ctx := context.Background()

	machine.StartLogin(ctx, testUser, testChat)
	machine.HandleText(ctx, testUser, testChat, "+1234567890")

	done := make(chan struct{})
	go func() {
		machine.HandleText(ctx, testUser, testChat, "12345")
		close(done)
	}()
	<-started

	// /logout приходит, пока sign-in ещё в полёте.
	machine.Logout(ctx, testUser, testChat)
	if !strings.Contains(notifier.last(t), "terminated") {
		t.Fatalf("got %q, want the standard logout confirmation", notifier.last(t))
	}

	close(proceed)
	<-done

	// Поздний успех sign-in отбрасывается целиком: ни записи, ни соединения.
	if _, ok := store.records[testUser]; ok {
		t.Fatal("credential must not be persisted after a confirmed logout")
	}
	if len(pending.activated) != 0 {
		t.Fatal("connection must not be activated after a confirmed logout")
	}
	if !pending.aborted {
		t.Fatal("the late attempt must be aborted")
	}
	if machine.HandleText(ctx, testUser, testChat, "12345") {
		t.Fatal("flow must be idle after logout")
	}
}

func TestLogoutAbortsPendingAttempt(t *testing.T) {
	t.Parallel()

	pending := &fakePending{}
	gateway := &fakeGateway{pending: pending}
	machine := NewMachine(gateway, newFakeStore(nil), &textNotifier{})
	ctx := context.Background()

	machine.StartLogin(ctx, testUser, testChat)
	machine.HandleText(ctx, testUser, testChat, "+1234567890")
	machine.Logout(ctx, testUser, testChat)

	if !pending.aborted {
		t.Fatal("logout must abort an in-flight login attempt")
	}
	if machine.HandleText(ctx, testUser, testChat, "12345") {
		t.Fatal("flow must be idle after logout")
	}
}
