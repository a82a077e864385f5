package bot

import (
	"context"
	"fmt"
	"io"

	"foreman_bot/internal/flow"
	"foreman_bot/internal/models"

	"gopkg.in/telebot.v3"
)

// handlePhoto обрабатывает сообщения с фотографиями
func (b *Bot) handlePhoto(c telebot.Context) error {
	photo := c.Message().Photo
	if photo == nil {
		return c.Send("Ошибка при получении фотографии.")
	}
	return b.dispatch(c, flow.Input{
		Text:  c.Message().Caption,
		Media: []models.Media{{FileID: photo.FileID}},
	})
}

// handleDocument принимает фото, отправленные файлом.
func (b *Bot) handleDocument(c telebot.Context) error {
	doc := c.Message().Document
	if doc == nil {
		return c.Send("Ошибка при получении файла.")
	}
	return b.dispatch(c, flow.Input{
		Text:  c.Message().Caption,
		Media: []models.Media{{FileID: doc.FileID, FileName: doc.FileName}},
	})
}

// Fetcher скачивает присланные в чат файлы для загрузки в CRM.
type Fetcher struct {
	Bot *telebot.Bot
	// MaxSize - ограничение размера файла в байтах, 0 - без ограничения.
	MaxSize int64
}

// Fetch читает файл целиком в память.
func (f Fetcher) Fetch(ctx context.Context, m models.Media) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := f.Bot.File(&telebot.File{FileID: m.FileID})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки файла %s из Telegram: %w", m.FileID, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if f.MaxSize > 0 {
		r = io.LimitReader(rc, f.MaxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", m.FileID, err)
	}
	if f.MaxSize > 0 && int64(len(data)) > f.MaxSize {
		return nil, fmt.Errorf("файл %s больше %d байт", m.FileID, f.MaxSize)
	}
	return data, nil
}
