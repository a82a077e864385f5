// Package catalog загружает справочник строительных объектов из CRM
// и режет его на страницы для клавиатуры.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"foreman_bot/internal/api"
	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/models"

	"go.uber.org/zap"
)

// PageSize - число объектов на странице клавиатуры.
const PageSize = 8

// Lister - выборка записей из CRM.
type Lister interface {
	ListAllItems(ctx context.Context, p api.ListParams) ([]api.Item, error)
}

// ACL решает, доступен ли объект пользователю.
type ACL interface {
	AllowedForObject(tgID, objectID int64) bool
}

// Catalog читает объекты из смарт-процесса.
type Catalog struct {
	crm    Lister
	fields *fieldmap.Resolver
	entity string
	log    *zap.Logger
}

// New создает справочник объектов.
func New(crm Lister, fields *fieldmap.Resolver, entity string, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{crm: crm, fields: fields, entity: entity, log: log.Named("catalog")}
}

// Load загружает все объекты одной постраничной выборкой.
func (c *Catalog) Load(ctx context.Context) ([]models.Object, error) {
	etid, ok := c.fields.EntityTypeID(c.entity)
	if !ok {
		return nil, &fieldmap.MappingError{Entity: c.entity, Logical: "entityTypeId"}
	}

	sel := []string{"id", "title"}
	codeField, err := c.fields.Field(c.entity, fieldmap.ObjectCode)
	if err != nil {
		c.log.Debug("у объектов нет поля кода", zap.Error(err))
		codeField = ""
	} else {
		sel = append(sel, codeField)
	}

	items, err := c.crm.ListAllItems(ctx, api.ListParams{
		EntityTypeID: etid,
		Select:       sel,
		Order:        map[string]string{"id": "ASC"},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки объектов: %w", err)
	}

	objects := make([]models.Object, 0, len(items))
	for _, it := range items {
		o := models.Object{ID: it.ID(), Title: strings.TrimSpace(it.String("title"))}
		if o.Title == "" {
			o.Title = fmt.Sprintf("Объект #%d", o.ID)
		}
		if codeField != "" {
			o.Code = strings.TrimSpace(it.String(codeField))
		}
		objects = append(objects, o)
	}
	c.log.Debug("объекты загружены", zap.Int("count", len(objects)))
	return objects, nil
}

// Page возвращает страницу объектов; номер приводится к допустимому диапазону.
func Page(objects []models.Object, page int) (items []models.Object, current, pages int) {
	pages = (len(objects) + PageSize - 1) / PageSize
	if pages == 0 {
		return nil, 0, 0
	}
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	start := page * PageSize
	end := start + PageSize
	if end > len(objects) {
		end = len(objects)
	}
	return objects[start:end], page, pages
}

// Find ищет объект по идентификатору.
func Find(objects []models.Object, id int64) (models.Object, bool) {
	for _, o := range objects {
		if o.ID == id {
			return o, true
		}
	}
	return models.Object{}, false
}

// FilterAllowed оставляет объекты, доступные пользователю.
func FilterAllowed(objects []models.Object, tgID int64, acl ACL) []models.Object {
	out := make([]models.Object, 0, len(objects))
	for _, o := range objects {
		if acl.AllowedForObject(tgID, o.ID) {
			out = append(out, o)
		}
	}
	return out
}
