// Package uploader переносит фото из чата и сформированные документы
// в файловые поля записей CRM.
package uploader

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"foreman_bot/internal/api"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fetcher скачивает файл из чата по его идентификатору.
type Fetcher interface {
	Fetch(ctx context.Context, m models.Media) ([]byte, error)
}

// CRM - методы, через которые идёт загрузка.
type CRM interface {
	UpdateItem(ctx context.Context, entityTypeID int, id int64, fields map[string]any) (api.Item, error)
	GetItem(ctx context.Context, entityTypeID int, id int64) (api.Item, error)
}

// Uploader загружает файлы по одному с паузой между вызовами.
type Uploader struct {
	crm     CRM
	fetcher Fetcher
	pace    time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New создает загрузчик. fetcher может быть nil, если нужны только документы.
func New(crm CRM, fetcher Fetcher, pace time.Duration, m *metrics.Metrics, log *zap.Logger) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploader{crm: crm, fetcher: fetcher, pace: pace, metrics: m, log: log.Named("uploader")}
}

// Target - запись и поле, куда идёт файл. Field - camelCase-код.
type Target struct {
	EntityTypeID int
	ID           int64
	Field        string
}

// UploadMedia загружает файлы в порядке отправки. Возвращает число загруженных;
// на первой ошибке останавливается, уже загруженное не откатывается.
func (u *Uploader) UploadMedia(ctx context.Context, t Target, media []models.Media) (int, error) {
	if u.fetcher == nil {
		return 0, fmt.Errorf("источник файлов не задан")
	}
	done := 0
	for i, m := range media {
		if i > 0 {
			if err := u.wait(ctx); err != nil {
				return done, err
			}
		}
		data, err := u.fetcher.Fetch(ctx, m)
		if err != nil {
			u.count("failed")
			return done, fmt.Errorf("ошибка получения файла из чата: %w", err)
		}
		name := FileName(m)
		if _, err := u.crm.UpdateItem(ctx, t.EntityTypeID, t.ID, payload(t.Field, name, data)); err != nil {
			u.count("failed")
			return done, fmt.Errorf("ошибка загрузки файла %s: %w", name, err)
		}
		u.count("ok")
		done++
		u.log.Debug("файл загружен", zap.Int64("item_id", t.ID), zap.String("field", t.Field), zap.String("name", name))
	}
	return done, nil
}

// AttachFile загружает документ с диска и перечитывает запись, чтобы убедиться,
// что ссылка на файл появилась. Если ссылки нет, загрузка считается успешной
// с предупреждением: CRM может индексировать файл с задержкой.
func (u *Uploader) AttachFile(ctx context.Context, t Target, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	name := filepath.Base(path)
	if _, err := u.crm.UpdateItem(ctx, t.EntityTypeID, t.ID, payload(t.Field, name, data)); err != nil {
		u.count("failed")
		return false, fmt.Errorf("ошибка загрузки документа %s: %w", name, err)
	}
	u.count("ok")

	item, err := u.crm.GetItem(ctx, t.EntityTypeID, t.ID)
	if err != nil {
		u.log.Warn("не удалось перечитать запись после загрузки", zap.Int64("item_id", t.ID), zap.Error(err))
		return false, nil
	}
	if !item.HasFile(t.Field) {
		u.log.Warn("ссылка на файл пока отсутствует", zap.Int64("item_id", t.ID), zap.String("field", t.Field))
		return false, nil
	}
	return true, nil
}

// wait выдерживает паузу между вызовами, прерываясь по контексту.
func (u *Uploader) wait(ctx context.Context) error {
	if u.pace <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(u.pace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (u *Uploader) count(status string) {
	if u.metrics != nil {
		u.metrics.IncUploads(status)
	}
}

func payload(field, name string, data []byte) map[string]any {
	return map[string]any{
		field: map[string]any{
			"fileData": []string{name, base64.StdEncoding.EncodeToString(data)},
		},
	}
}

// FileName даёт файлу уникальное имя, сохраняя расширение, если оно известно.
func FileName(m models.Media) string {
	ext := strings.ToLower(filepath.Ext(m.FileName))
	if ext == "" {
		ext = ".jpg"
	}
	return uuid.NewString() + ext
}
