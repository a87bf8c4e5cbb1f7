// Package fetch читает историю приватного канала и скачивает медиа через
// MTProto от имени конкретного оператора.
package fetch

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"telegram-exporter/internal/domain/export"
)

// pageSize — размер страницы messages.getHistory.
const pageSize = 100

// partSize — размер блока при скачивании файла, кратен 4096.
const partSize = 1024 * 1024

// Client выполняет RPC поверх одного авторизованного соединения.
// Реализует контракт export.Fetcher.
type Client struct {
	api *tg.Client
}

func New(api *tg.Client) *Client {
	return &Client{api: api}
}

// Collect перечисляет медиавложения сообщений канала в диапазоне
// [startID, endID] включительно. Результат отсортирован от старых к новым.
// Сообщения без медиа и служебные сообщения пропускаются.
func (c *Client) Collect(ctx context.Context, chatID int64, startID, endID int) ([]export.Item, error) {
	peer, err := c.resolveChannel(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var items []export.Item
	// История отдаётся от новых к старым, поэтому идём от endID вниз.
	offsetID := endID + 1
	for {
		history, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    pageSize,
			MaxID:    endID + 1,
			MinID:    startID - 1,
		})
		if err != nil {
			return nil, errors.Wrap(err, "get history")
		}
		messages, err := historyMessages(history)
		if err != nil {
			return nil, err
		}
		if len(messages) == 0 {
			break
		}
		minSeen := offsetID
		for _, m := range messages {
			msg, ok := m.(*tg.Message)
			if !ok {
				// Служебные и пустые сообщения диапазон не сдвигают мимо:
				// их ID всё равно учитываем для пагинации.
				if id, ok := messageID(m); ok && id < minSeen {
					minSeen = id
				}
				continue
			}
			if msg.ID < minSeen {
				minSeen = msg.ID
			}
			if msg.ID < startID || msg.ID > endID {
				continue
			}
			if it, ok := itemFromMessage(msg); ok {
				items = append(items, it)
			}
		}
		if minSeen <= startID || minSeen == offsetID {
			break
		}
		offsetID = minSeen
	}

	export.SortOldestFirst(items)
	return items, nil
}

// Download переливает содержимое вложения в w.
func (c *Client) Download(ctx context.Context, it export.Item, w io.Writer) error {
	dl := downloader.NewDownloader().WithPartSize(partSize)
	if _, err := dl.Download(c.api, it.Location).Stream(ctx, w); err != nil {
		return errors.Wrap(err, "download")
	}
	return nil
}

// resolveChannel находит канал с данным ID среди диалогов аккаунта и
// возвращает peer с access hash. Ссылки t.me/c/<id>/... несут только ID,
// поэтому hash приходится добывать перечислением диалогов.
func (c *Client) resolveChannel(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	offsetPeer := tg.InputPeerClass(&tg.InputPeerEmpty{})
	offsetID := 0
	for {
		resp, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      pageSize,
		})
		if err != nil {
			return nil, errors.Wrap(err, "get dialogs")
		}
		var chats []tg.ChatClass
		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			chats = d.Chats
		case *tg.MessagesDialogsSlice:
			chats = d.Chats
		default:
			return nil, errors.Errorf("unexpected dialogs response %T", resp)
		}
		if len(chats) == 0 {
			break
		}
		for _, chat := range chats {
			ch, ok := chat.(*tg.Channel)
			if !ok || ch.ID != chatID {
				continue
			}
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
		if _, ok := resp.(*tg.MessagesDialogs); ok {
			// Полный список получен целиком, дальше листать нечего.
			break
		}
		last, ok := lastDialogOffset(resp.(*tg.MessagesDialogsSlice))
		if !ok {
			break
		}
		offsetID = last
	}
	return nil, errors.Errorf("channel %d not found among dialogs", chatID)
}

// lastDialogOffset извлекает ID верхнего сообщения последнего диалога
// страницы для следующего запроса.
func lastDialogOffset(slice *tg.MessagesDialogsSlice) (int, bool) {
	if len(slice.Dialogs) == 0 {
		return 0, false
	}
	d, ok := slice.Dialogs[len(slice.Dialogs)-1].(*tg.Dialog)
	if !ok {
		return 0, false
	}
	return d.TopMessage, true
}

func historyMessages(history tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch h := history.(type) {
	case *tg.MessagesMessages:
		return h.Messages, nil
	case *tg.MessagesMessagesSlice:
		return h.Messages, nil
	case *tg.MessagesChannelMessages:
		return h.Messages, nil
	default:
		return nil, errors.Errorf("unexpected history response %T", history)
	}
}

func messageID(m tg.MessageClass) (int, bool) {
	switch msg := m.(type) {
	case *tg.MessageService:
		return msg.ID, true
	case *tg.MessageEmpty:
		return msg.ID, true
	default:
		return 0, false
	}
}

// itemFromMessage строит элемент выгрузки из медиа сообщения.
// Документ даёт имя из атрибутов, фото берётся в максимальном размере.
func itemFromMessage(msg *tg.Message) (export.Item, bool) {
	switch media := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.AsNotEmpty()
		if !ok {
			return export.Item{}, false
		}
		var name string
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				name = fn.FileName
				break
			}
		}
		kind := export.KindDocument
		if name == "" {
			kind = export.KindOther
		}
		return export.Item{
			MessageID: msg.ID,
			Kind:      kind,
			Name:      name,
			Size:      doc.Size,
			Location:  doc.AsInputDocumentFileLocation(),
		}, true
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.AsNotEmpty()
		if !ok {
			return export.Item{}, false
		}
		var maxSize *tg.PhotoSize
		var maxArea int
		for _, size := range photo.Sizes {
			if s, ok := size.(*tg.PhotoSize); ok {
				if area := s.W * s.H; area > maxArea {
					maxArea = area
					maxSize = s
				}
			}
		}
		if maxSize == nil {
			return export.Item{}, false
		}
		return export.Item{
			MessageID: msg.ID,
			Kind:      export.KindPhoto,
			Size:      int64(maxSize.Size),
			Location: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     maxSize.Type,
			},
		}, true
	default:
		return export.Item{}, false
	}
}
