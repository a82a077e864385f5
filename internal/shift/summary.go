package shift

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"foreman_bot/internal/api"
	"foreman_bot/internal/fieldmap"
)

// Summary - краткие сведения о смене для сводки за день.
type Summary struct {
	ShiftID   int64
	ObjectID  int64
	Title     string
	ShiftType string
	PlanTotal float64
	FactTotal float64
	Closed    bool
}

// Daily возвращает все смены на дату в порядке создания.
func (r *Resolver) Daily(ctx context.Context, date string) ([]Summary, error) {
	etid, err := r.EntityTypeID()
	if err != nil {
		return nil, err
	}
	dateField, err := r.fields.Field(r.entity, fieldmap.ShiftDate)
	if err != nil {
		return nil, err
	}
	code := func(logical string) string {
		c, _ := r.fields.Field(r.entity, logical)
		return c
	}
	link := code(fieldmap.ShiftObjectLink)
	planTotal := code(fieldmap.ShiftPlanTotal)
	factTotal := code(fieldmap.ShiftFactTotal)
	status := code(fieldmap.ShiftStatus)
	kind := code(fieldmap.ShiftType)

	items, err := r.crm.ListAllItems(ctx, api.ListParams{
		EntityTypeID: etid,
		Filter:       map[string]any{dateField: date},
		Order:        map[string]string{"createdTime": "ASC", "id": "ASC"},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки смен за %s: %w", date, err)
	}

	out := make([]Summary, 0, len(items))
	for _, it := range items {
		s := Summary{ShiftID: it.ID(), Title: it.String("title")}
		if link != "" {
			s.ObjectID = ParseObjectLink(it.Strings(link))
		}
		if planTotal != "" {
			s.PlanTotal = it.Float(planTotal)
		}
		if factTotal != "" {
			s.FactTotal = it.Float(factTotal)
		}
		if status != "" {
			s.Closed = it.String(status) == "closed"
		}
		if kind != "" {
			s.ShiftType = it.String(kind)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseObjectLink достаёт id объекта из значения вида ["D_42"].
func ParseObjectLink(values []string) int64 {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if i := strings.LastIndex(v, "_"); i >= 0 {
			v = v[i+1:]
		}
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return 0
}
