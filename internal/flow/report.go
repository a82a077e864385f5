package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"

	"go.uber.org/zap"
)

const (
	reportPickShift  = "pick_shift"
	reportFacts      = "input_facts"
	reportReason     = "downtime_reason"
	reportPhotos     = "shift_photos"
	reportConfirm    = "confirm"
	factsHint        = "Введите факт в формате вид=объём через запятую.\nНапример: земляные=100, подушка=80"
	reasonHint       = "Если план не выполнен, укажите причину простоя."
	reportPhotosHint = "Пришлите фото смены или нажмите «Без фото»."
)

// reportFlow закрывает смену фактом. Смена должна уже существовать.
type reportFlow struct{}

func (reportFlow) begin(_ context.Context, t *turn) (Reply, error) {
	t.s.State = reportPickShift
	return t.shiftKeyboard(fmt.Sprintf("Объект: %s\nВыберите смену:", t.s.Get(keyObjectName))), nil
}

func (f reportFlow) step(ctx context.Context, t *turn) (Reply, error) {
	switch t.s.State {
	case reportPickShift:
		if err := t.readShift(); err != nil {
			return Reply{}, err
		}
		if _, err := t.requireShift(ctx); err != nil {
			return Reply{}, err
		}
		t.s.State = reportFacts
		return prompt(factsHint, false), nil

	case reportFacts:
		if _, err := normalize.ParseVolumes(t.in.Text); err != nil {
			return Reply{}, err
		}
		t.s.Set(keyWorks, t.in.Text)
		t.s.State = reportReason
		return prompt(reasonHint, true), nil

	case reportReason:
		if !t.skipped() {
			reason, err := t.text(reasonHint)
			if err != nil {
				return Reply{}, err
			}
			t.s.Set(keyReason, reason)
		}
		t.s.State = reportPhotos
		return photoPrompt(reportPhotosHint), nil

	case reportPhotos:
		reply, finished, err := t.collectPhotos()
		if err != nil || !finished {
			return reply, err
		}
		t.s.State = reportConfirm
		return f.summary(t), nil

	case reportConfirm:
		ok, err := t.readConfirm()
		if err != nil {
			return Reply{}, err
		}
		if !ok {
			t.s.State = reportFacts
			t.s.Media = nil
			t.s.Set(keyReason, "")
			return prompt(factsHint, false), nil
		}
		return f.commit(ctx, t)
	}
	return Reply{}, fmt.Errorf("неизвестное состояние отчёта %q", t.s.State)
}

func (reportFlow) summary(t *turn) Reply {
	pairs, _ := normalize.ParseVolumes(t.s.Get(keyWorks))
	var b strings.Builder
	fmt.Fprintf(&b, "Проверьте отчёт\nОбъект: %s\nСмена: %s\n", t.s.Get(keyObjectName), t.shiftLabel())
	for _, p := range pairs {
		fmt.Fprintf(&b, "• %s — %s\n", p.Key, normalize.FormatNumber(p.Value))
	}
	if r := t.s.Get(keyReason); r != "" {
		fmt.Fprintf(&b, "Причина: %s\n", r)
	}
	fmt.Fprintf(&b, "Фото: %d", len(t.s.Media))
	return confirmPrompt(b.String())
}

func (reportFlow) commit(ctx context.Context, t *turn) (Reply, error) {
	pairs, err := normalize.ParseVolumes(t.s.Get(keyWorks))
	if err != nil {
		return Reply{}, err
	}
	shiftID, err := t.requireShift(ctx)
	if err != nil {
		return Reply{}, err
	}
	entity := t.e.deps.Entities.Shift
	etid, err := t.entityTypeID(entity)
	if err != nil {
		return Reply{}, err
	}

	plan := t.loadPlan(ctx, etid, shiftID)
	obj := object(t.s)
	kind := t.s.Get(keyShiftKind)
	doc := normalize.BuildFact(pairs, normalize.Header{
		Date:      t.s.Get(keyDate),
		Foreman:   t.user.Name,
		ShiftType: kind,
		Object:    &obj,
	}, plan, t.s.Get(keyReason))
	raw, err := json.Marshal(doc)
	if err != nil {
		return Reply{}, fmt.Errorf("ошибка сериализации факта: %w", err)
	}

	values, err := t.newFields(entity).
		must(fieldmap.ShiftFactJSON, string(raw)).
		must(fieldmap.ShiftFactTotal, doc.TotalFact).
		may(fieldmap.ShiftStatus, string(models.ShiftClosed)).
		may(fieldmap.ShiftType, kind).
		done()
	if err != nil {
		return Reply{}, err
	}
	if _, err := t.e.deps.CRM.UpdateItem(ctx, etid, shiftID, values); err != nil {
		return Reply{}, fmt.Errorf("ошибка записи факта в смену %d: %w", shiftID, err)
	}
	note := t.uploadPhotos(ctx, entity, fieldmap.ShiftPhotos, shiftID)

	text := formatDone("Отчёт сохранён: смена #%d закрыта.\nФакт: %s", shiftID, normalize.FormatNumber(doc.TotalFact))
	if plan != nil && plan.TotalPlan > 0 {
		text += fmt.Sprintf(" из %s по плану", normalize.FormatNumber(plan.TotalPlan))
	}
	return t.finish(text + "." + note)
}

// loadPlan читает план смены, чтобы взять из него единицы и исполнителей.
// Без плана отчёт всё равно сохраняется.
func (t *turn) loadPlan(ctx context.Context, etid int, shiftID int64) *models.PlanDoc {
	field, err := t.e.deps.Fields.Field(t.e.deps.Entities.Shift, fieldmap.ShiftPlanJSON)
	if err != nil {
		return nil
	}
	item, err := t.e.deps.CRM.GetItem(ctx, etid, shiftID)
	if err != nil {
		t.e.log.Warn("не удалось прочитать план смены", zap.Int64("shift_id", shiftID), zap.Error(err))
		return nil
	}
	raw := item.String(field)
	if raw == "" {
		return nil
	}
	plan, err := normalize.DecodePlan(raw)
	if err != nil {
		t.e.log.Warn("план смены не разобран", zap.Int64("shift_id", shiftID), zap.Error(err))
		return nil
	}
	return &plan
}
