// Package sessions — постоянное хранилище учётных данных MTProto-сессий поверх bbolt.
// Хранит отображение userID → сериализованная строка сессии (opaque credential).
// Контракт хранилища:
//   - Put — insert-or-update по ключу (повторный логин перезаписывает запись);
//   - Delete — идемпотентное удаление (logout без сессии не ошибка);
//   - ForEach — полный обход, используется восстановлением сессий на старте.
package sessions

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

const (
	sessionsBucketName             = "sessions"
	dbOpenTimeout                  = time.Second
	dbFileMode         os.FileMode = 0o600
)

var sessionsBucketBytes = []byte(sessionsBucketName)

// Store — обёртка над bbolt-базой с единственным бакетом сессий.
// Потокобезопасность обеспечивается транзакциями bbolt; Store можно
// использовать из нескольких горутин без внешней синхронизации.
type Store struct {
	db *bbolt.DB
}

// Open открывает (или создаёт) файл базы и гарантирует наличие бакета.
// Файл создаётся с правами 0o600: строка сессии даёт полный доступ к аккаунту.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "sessions: ensure dir %q", dir)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "sessions: open db")
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(sessionsBucketBytes)
		return createErr
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sessions: create bucket")
	}

	return &Store{db: db}, nil
}

// Close закрывает базу. После закрытия методы Store возвращают ошибки bbolt.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put сохраняет (или перезаписывает) credential для пользователя.
func (s *Store) Put(userID int64, credential string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucketBytes).Put(userKey(userID), []byte(credential))
	})
	return errors.Wrap(err, "sessions: put")
}

// Get возвращает credential пользователя; второй результат false, если записи нет.
func (s *Store) Get(userID int64) (string, bool) {
	var credential string
	var found bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(sessionsBucketBytes).Get(userKey(userID))
		if value != nil {
			credential = string(value)
			found = true
		}
		return nil
	})
	return credential, found
}

// Delete удаляет запись пользователя. Отсутствие записи не является ошибкой.
func (s *Store) Delete(userID int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucketBytes).Delete(userKey(userID))
	})
	return errors.Wrap(err, "sessions: delete")
}

// ForEach обходит все сохранённые сессии. Ошибка из fn прерывает обход и
// возвращается вызывающему; ключи с некорректным userID пропускаются.
func (s *Store) ForEach(fn func(userID int64, credential string) error) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucketBytes).ForEach(func(k, v []byte) error {
			userID, parseErr := strconv.ParseInt(string(k), 10, 64)
			if parseErr != nil {
				return nil
			}
			return fn(userID, string(v))
		})
	})
	return errors.Wrap(err, "sessions: scan")
}

// userKey кодирует userID в ключ бакета. Десятичная строка упрощает отладку
// содержимого базы внешними инструментами.
func userKey(userID int64) []byte {
	return []byte(strconv.FormatInt(userID, 10))
}
