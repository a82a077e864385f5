package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"
)

const (
	planPickDate  = "pick_date"
	planPickWorks = "pick_works"
	planConfirm   = "confirm"
)

const worksHint = "Введите работы в формате вид=объём через запятую.\nНапример: земляные=120, подушка=80, щебень=20"

// planFlow: объект → дата → работы → подтверждение. Единственный сценарий,
// который создаёт смену.
type planFlow struct{}

func (planFlow) begin(_ context.Context, t *turn) (Reply, error) {
	t.s.State = planPickDate
	return t.dateKeyboard(fmt.Sprintf("Объект: %s\nНа какую дату план?", t.s.Get(keyObjectName)), "today", "tomorrow"), nil
}

func (f planFlow) step(ctx context.Context, t *turn) (Reply, error) {
	switch t.s.State {
	case planPickDate:
		date, err := t.readDate()
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyDate, date)
		t.s.Set(keyShiftKind, string(models.ShiftDay))
		t.s.State = planPickWorks
		return prompt(worksHint, false), nil

	case planPickWorks:
		pairs, err := normalize.ParseVolumes(t.in.Text)
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyWorks, t.in.Text)
		t.s.State = planConfirm
		doc := normalize.BuildPlan(pairs, normalize.Header{})
		return confirmPrompt(fmt.Sprintf("Проверьте план\nОбъект: %s\nДата: %s\n%s\nИтого: %s",
			t.s.Get(keyObjectName), models.DisplayDate(t.s.Get(keyDate)),
			planLines(doc), normalize.FormatNumber(doc.TotalPlan))), nil

	case planConfirm:
		ok, err := t.readConfirm()
		if err != nil {
			return Reply{}, err
		}
		if !ok {
			t.s.State = planPickWorks
			return prompt(worksHint, false), nil
		}
		return f.commit(ctx, t)
	}
	return Reply{}, fmt.Errorf("неизвестное состояние плана %q", t.s.State)
}

func (planFlow) commit(ctx context.Context, t *turn) (Reply, error) {
	pairs, err := normalize.ParseVolumes(t.s.Get(keyWorks))
	if err != nil {
		return Reply{}, err
	}
	obj := object(t.s)
	date := t.s.Get(keyDate)
	kind := t.s.Get(keyShiftKind)
	doc := normalize.BuildPlan(pairs, normalize.Header{
		Date:      date,
		Foreman:   t.user.Name,
		ShiftType: kind,
		Object:    &obj,
	})
	raw, err := json.Marshal(doc)
	if err != nil {
		return Reply{}, fmt.Errorf("ошибка сериализации плана: %w", err)
	}

	entity := t.e.deps.Entities.Shift
	etid, err := t.entityTypeID(entity)
	if err != nil {
		return Reply{}, err
	}
	values, err := t.newFields(entity).
		must(fieldmap.ShiftPlanJSON, string(raw)).
		must(fieldmap.ShiftPlanTotal, doc.TotalPlan).
		must(fieldmap.ShiftObjectLink, models.ObjectLink(obj.ID)).
		may(fieldmap.ShiftType, kind).
		done()
	if err != nil {
		return Reply{}, err
	}

	shiftID, created, err := t.e.deps.Shifts.GetOrCreate(ctx, obj, date, true)
	if err != nil {
		return Reply{}, err
	}
	if _, err := t.e.deps.CRM.UpdateItem(ctx, etid, shiftID, values); err != nil {
		return Reply{}, fmt.Errorf("ошибка записи плана в смену %d: %w", shiftID, err)
	}

	verb := "обновлён"
	if created {
		verb = "создан"
	}
	return t.finish(formatDone("План %s: смена #%d, %s, %s.\nРабот: %d, итого %s.",
		verb, shiftID, obj.Title, models.DisplayDate(date), len(doc.Tasks), normalize.FormatNumber(doc.TotalPlan)))
}

func planLines(doc models.PlanDoc) string {
	var b strings.Builder
	for _, task := range doc.Tasks {
		fmt.Fprintf(&b, "• %s — %s %s\n", task.Name, normalize.FormatNumber(task.Plan), task.Unit)
	}
	return strings.TrimRight(b.String(), "\n")
}
