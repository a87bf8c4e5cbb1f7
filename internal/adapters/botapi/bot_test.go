package botapi

import (
	"context"
	"testing"

	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

type fakeLogin struct {
	started int
	logouts int
	texts   []string
	consume bool
}

func (f *fakeLogin) StartLogin(context.Context, int64, int64) { f.started++ }
func (f *fakeLogin) Logout(context.Context, int64, int64)     { f.logouts++ }
func (f *fakeLogin) HandleText(_ context.Context, _, _ int64, text string) bool {
	f.texts = append(f.texts, text)
	return f.consume
}

type fakeExporter struct {
	runs []string
}

func (f *fakeExporter) Run(_ context.Context, _, _ int64, text string) {
	f.runs = append(f.runs, text)
}

func newTestBot(admins ...int64) (*Bot, *fakeLogin, *fakeExporter) {
	b := &Bot{
		admins:  make(map[int64]struct{}, len(admins)),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, id := range admins {
		b.admins[id] = struct{}{}
	}
	login := &fakeLogin{}
	exporter := &fakeExporter{}
	b.Bind(login, exporter)
	return b, login, exporter
}

func textUpdate(userID int64, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			From: &models.User{ID: userID},
			Chat: models.Chat{ID: userID},
			Text: text,
		},
	}
}

func TestUnknownSenderIsIgnored(t *testing.T) {
	t.Parallel()

	b, login, exporter := newTestBot(100)

	b.handleDefault(context.Background(), nil, textUpdate(999, "https://t.me/c/1/2"))
	b.handleLogin(context.Background(), nil, textUpdate(999, "/login"))
	b.handleLogout(context.Background(), nil, textUpdate(999, "/logout"))
	b.handleDefault(context.Background(), nil, &models.Update{})

	if login.started != 0 || login.logouts != 0 || len(login.texts) != 0 {
		t.Fatalf("login flow touched by a non-admin: %+v", login)
	}
	if len(exporter.runs) != 0 {
		t.Fatalf("exporter touched by a non-admin: %+v", exporter.runs)
	}
}

func TestCommandsReachLoginFlow(t *testing.T) {
	t.Parallel()

	b, login, _ := newTestBot(100)

	b.handleLogin(context.Background(), nil, textUpdate(100, "/login"))
	b.handleLogout(context.Background(), nil, textUpdate(100, "/logout"))

	if login.started != 1 || login.logouts != 1 {
		t.Fatalf("unexpected login flow calls: %+v", login)
	}
}

func TestLoginStepConsumesText(t *testing.T) {
	t.Parallel()

	b, login, exporter := newTestBot(100)
	login.consume = true

	b.handleDefault(context.Background(), nil, textUpdate(100, "+1234567890"))

	if len(login.texts) != 1 || login.texts[0] != "+1234567890" {
		t.Fatalf("login flow did not see the text: %+v", login.texts)
	}
	if len(exporter.runs) != 0 {
		t.Fatalf("consumed text leaked to the exporter: %+v", exporter.runs)
	}
}

func TestLinksReachExporter(t *testing.T) {
	t.Parallel()

	b, _, exporter := newTestBot(100)
	links := "https://t.me/c/100/1\nhttps://t.me/c/100/50"

	b.handleDefault(context.Background(), nil, textUpdate(100, links))

	if len(exporter.runs) != 1 || exporter.runs[0] != links {
		t.Fatalf("unexpected exporter calls: %+v", exporter.runs)
	}
}
