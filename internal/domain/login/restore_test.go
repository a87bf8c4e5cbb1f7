package login

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
)

// mapScanner — сканер поверх обычной карты записей.
type mapScanner struct {
	records map[int64]string
}

func (s *mapScanner) ForEach(fn func(userID int64, credential string) error) error {
	for userID, credential := range s.records {
		if err := fn(userID, credential); err != nil {
			return err
		}
	}
	return nil
}

// scriptedRestorer восстанавливает всё, кроме явно перечисленных пользователей.
type scriptedRestorer struct {
	dead    map[int64]bool
	failing map[int64]error
	live    []int64
}

func (r *scriptedRestorer) Restore(_ context.Context, userID int64, _ string) (bool, error) {
	if err, ok := r.failing[userID]; ok {
		return false, err
	}
	if r.dead[userID] {
		return false, nil
	}
	r.live = append(r.live, userID)
	return true, nil
}

func TestRestoreSkipsDeadSession(t *testing.T) {
	t.Parallel()

	scanner := &mapScanner{records: map[int64]string{1: "a", 2: "b", 3: "c"}}
	restorer := &scriptedRestorer{dead: map[int64]bool{2: true}}

	restored := RestoreSessions(context.Background(), scanner, restorer)

	if restored != 2 {
		t.Fatalf("RestoreSessions() = %d, want 2", restored)
	}
	if len(restorer.live) != 2 {
		t.Fatalf("live connections = %#v, want two of them", restorer.live)
	}
}

func TestRestoreIsolatesFailures(t *testing.T) {
	t.Parallel()

	scanner := &mapScanner{records: map[int64]string{1: "a", 2: "b", 3: "c"}}
	restorer := &scriptedRestorer{failing: map[int64]error{1: errors.New("AUTH_KEY_UNREGISTERED")}}

	restored := RestoreSessions(context.Background(), scanner, restorer)

	if restored != 2 {
		t.Fatalf("RestoreSessions() = %d, want 2 despite one failure", restored)
	}
}

func TestRestoreEmptyStore(t *testing.T) {
	t.Parallel()

	restored := RestoreSessions(context.Background(), &mapScanner{}, &scriptedRestorer{})
	if restored != 0 {
		t.Fatalf("RestoreSessions() on empty store = %d, want 0", restored)
	}
}
