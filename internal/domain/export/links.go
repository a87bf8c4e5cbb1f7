// Package export — конвейер выгрузки медиа из диапазона сообщений.
// Оператор присылает две ссылки вида https://t.me/c/<chatID>/<messageID>;
// конвейер перечисляет сообщения с медиа в диапазоне [start, end] включительно,
// последовательно скачивает каждое через живую MTProto-сессию оператора и
// пересылает файл обратно в чат бота, сопровождая процесс одним редактируемым
// сообщением прогресса на задание.
package export

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// linkPattern описывает приватную ссылку на сообщение канала/супергруппы.
// Публичные ссылки с username не поддерживаются: у них нет числового chat id.
var linkPattern = regexp.MustCompile(`^https://t\.me/c/(\d+)/(\d+)$`)

// Тексты ошибок входного контракта. Показываются оператору дословно.
var (
	errLinkCount    = errors.New("Send exactly 2 message links (start and end).")
	errLinkFormat   = errors.New("Links must look like https://t.me/c/<chat>/<message>.")
	errChatMismatch = errors.New("Both links must point to the same chat.")
)

// Range — разобранная пара ссылок: чат и включительный диапазон ID сообщений.
// Порядок границ берётся как прислал оператор: первая ссылка — начало, вторая —
// конец, без нормализации min/max. Перевёрнутая пара даёт пустой диапазон.
type Range struct {
	ChatID  int64
	StartID int
	EndID   int
}

// ParseLinkPair разбирает текст с двумя ссылками (по одной на строке).
// Ошибки возвращаются в формулировках, пригодных для показа оператору.
func ParseLinkPair(text string) (Range, error) {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) != 2 {
		return Range{}, errLinkCount
	}

	firstChat, startID, err := parseLink(lines[0])
	if err != nil {
		return Range{}, err
	}
	secondChat, endID, err := parseLink(lines[1])
	if err != nil {
		return Range{}, err
	}
	if firstChat != secondChat {
		return Range{}, errChatMismatch
	}

	return Range{ChatID: firstChat, StartID: startID, EndID: endID}, nil
}

// parseLink извлекает chat id и message id из одной ссылки.
func parseLink(link string) (int64, int, error) {
	match := linkPattern.FindStringSubmatch(link)
	if match == nil {
		return 0, 0, errLinkFormat
	}
	chatID, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, 0, errLinkFormat
	}
	messageID, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, 0, errLinkFormat
	}
	return chatID, messageID, nil
}
