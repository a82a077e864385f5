// Package shift находит или создаёт единственную смену для пары (объект, дата).
package shift

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"foreman_bot/internal/api"
	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"

	"go.uber.org/zap"
)

// ErrNotFound - смены на дату нет, а создавать её нельзя.
var ErrNotFound = errors.New("смена не найдена: сначала заполните План")

// CRM - методы, которые нужны резолверу смен.
type CRM interface {
	ListItems(ctx context.Context, p api.ListParams) ([]api.Item, *api.Response, error)
	ListAllItems(ctx context.Context, p api.ListParams) ([]api.Item, error)
	AddItem(ctx context.Context, entityTypeID int, fields map[string]any) (api.Item, error)
}

// Resolver следит, чтобы на объект и дату была ровно одна смена.
type Resolver struct {
	crm      CRM
	fields   *fieldmap.Resolver
	entity   string
	assignee int64
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewResolver создает резолвер смен. assignee = 0 - ответственный не ставится.
func NewResolver(crm CRM, fields *fieldmap.Resolver, entity string, assignee int64, m *metrics.Metrics, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{crm: crm, fields: fields, entity: entity, assignee: assignee, metrics: m, log: log.Named("shift")}
}

// EntityTypeID возвращает entityTypeId смарт-процесса смен.
func (r *Resolver) EntityTypeID() (int, error) {
	etid, ok := r.fields.EntityTypeID(r.entity)
	if !ok {
		return 0, &fieldmap.MappingError{Entity: r.entity, Logical: "entityTypeId"}
	}
	return etid, nil
}

// GetOrCreate возвращает id смены объекта на дату. Создаёт её только при create=true.
func (r *Resolver) GetOrCreate(ctx context.Context, obj models.Object, date string, create bool) (int64, bool, error) {
	etid, err := r.EntityTypeID()
	if err != nil {
		return 0, false, err
	}
	linkField, err := r.fields.Field(r.entity, fieldmap.ShiftObjectLink)
	if err != nil {
		return 0, false, err
	}
	dateField, err := r.fields.Field(r.entity, fieldmap.ShiftDate)
	if err != nil {
		return 0, false, err
	}

	items, _, err := r.crm.ListItems(ctx, api.ListParams{
		EntityTypeID: etid,
		Filter: map[string]any{
			linkField: models.ObjectLink(obj.ID)[0],
			dateField: date,
		},
		Select: []string{"id", "title", "createdTime", linkField, dateField},
		Order:  map[string]string{"createdTime": "ASC", "id": "ASC"},
	})
	if err != nil {
		return 0, false, fmt.Errorf("ошибка поиска смены: %w", err)
	}

	switch {
	case len(items) == 1:
		return items[0].ID(), false, nil
	case len(items) > 1:
		earliest := Earliest(items)
		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ID())
		}
		r.log.Warn("нарушена уникальность смены",
			zap.Int64("object_id", obj.ID), zap.String("date", date),
			zap.Int64s("shift_ids", ids), zap.Int64("chosen", earliest.ID()))
		if r.metrics != nil {
			r.metrics.IncUniquenessViolations()
		}
		return earliest.ID(), false, nil
	}

	if !create {
		return 0, false, ErrNotFound
	}

	f := r.fields.NewFields(r.entity)
	f.SetRaw("title", fmt.Sprintf("%s — %s", obj.Title, date))
	_ = f.Set(fieldmap.ShiftObjectLink, models.ObjectLink(obj.ID))
	_ = f.Set(fieldmap.ShiftDate, date)
	if err := f.Set(fieldmap.ShiftStatus, string(models.ShiftOpen)); err != nil {
		r.log.Warn("статус смены не записан", zap.Error(err))
	}
	if r.assignee > 0 {
		f.SetRaw("assignedById", r.assignee)
	}

	item, err := r.crm.AddItem(ctx, etid, f.Map())
	if err != nil {
		return 0, false, fmt.Errorf("ошибка создания смены: %w", err)
	}
	if r.metrics != nil {
		r.metrics.IncShiftsCreated()
	}
	r.log.Info("создана смена", zap.Int64("shift_id", item.ID()),
		zap.Int64("object_id", obj.ID), zap.String("date", date))
	return item.ID(), true, nil
}

// Earliest выбирает запись с самым ранним временем создания, при равенстве - с меньшим id.
func Earliest(items []api.Item) api.Item {
	sorted := make([]api.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].Time("createdTime"), sorted[j].Time("createdTime")
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return sorted[i].ID() < sorted[j].ID()
	})
	return sorted[0]
}
