package export

import (
	"fmt"
	"sort"
	"time"

	"github.com/gotd/td/tg"
)

// Kind — закрытый вариант формы медиа, определяемый один раз при перечислении.
// Документ без объявленного имени файла считается KindOther: для него, как и
// для фото, отображаемое имя генерируется.
type Kind uint8

const (
	// KindDocument — документ с объявленным именем файла.
	KindDocument Kind = iota
	// KindPhoto — фотография; имя генерируется с фиксированным расширением.
	KindPhoto
	// KindOther — прочие скачиваемые вложения без объявленного имени.
	KindOther
)

// Item — одно медиа-сообщение, подготовленное к скачиванию. Location и Size
// фиксируются при перечислении, чтобы конвейер не ходил в API повторно.
type Item struct {
	MessageID int
	Kind      Kind
	Name      string // объявленное имя документа; пусто для KindPhoto/KindOther
	Size      int64
	Location  tg.InputFileLocationClass
}

// DisplayName возвращает имя файла для сохранения и пересылки.
// Временная метка в сгенерированных именах делает их практически уникальными
// в пределах задания; коллизии подряд идущих имён вне контракта.
func (it Item) DisplayName(now time.Time) string {
	switch it.Kind {
	case KindDocument:
		if it.Name != "" {
			return it.Name
		}
		return fmt.Sprintf("file_%d", now.Unix())
	case KindPhoto:
		return fmt.Sprintf("photo_%d.jpg", now.Unix())
	default:
		return fmt.Sprintf("file_%d", now.Unix())
	}
}

// SortOldestFirst упорядочивает элементы по возрастанию ID сообщения.
// Платформа перечисляет историю от новых к старым; контракт доставки —
// строго от старых к новым, независимо от порядка перечисления.
func SortOldestFirst(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].MessageID < items[j].MessageID
	})
}
