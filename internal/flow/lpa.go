package flow

import (
	"context"
	"fmt"

	"foreman_bot/internal/models"
)

const lpaPickDate = "pick_date"

// lpaFlow формирует документ оперативного анализа по смене.
type lpaFlow struct{}

func (lpaFlow) begin(_ context.Context, t *turn) (Reply, error) {
	t.s.State = lpaPickDate
	return t.dateKeyboard(fmt.Sprintf("Объект: %s\nЗа какую дату сформировать ЛПА?", t.s.Get(keyObjectName)),
		"yesterday", "today", "tomorrow"), nil
}

func (lpaFlow) step(ctx context.Context, t *turn) (Reply, error) {
	if t.s.State != lpaPickDate {
		return Reply{}, fmt.Errorf("неизвестное состояние ЛПА %q", t.s.State)
	}
	date, err := t.readDate()
	if err != nil {
		return Reply{}, err
	}
	t.s.Set(keyDate, date)
	if t.e.deps.Documents == nil {
		return t.finish("Формирование документов не настроено.")
	}
	shiftID, err := t.requireShift(ctx)
	if err != nil {
		return Reply{}, err
	}

	obj := object(t.s)
	res, err := t.e.deps.Documents.Generate(ctx, shiftID, obj)
	if err != nil {
		return Reply{}, err
	}

	reply, _ := t.finish(formatDone("ЛПА по смене #%d (%s, %s) сформирован.\nПлан: %s, факт: %s, эффективность %s%%.",
		shiftID, obj.Title, models.DisplayDate(date),
		res.Context.PlanTotal.String(), res.Context.FactTotal.String(), res.Context.Efficiency.StringFixed(2)))
	if res.PDF == "" {
		reply.Text += "\nPDF не сформирован, отправляю DOCX."
	}
	if len(res.Attached) > 0 {
		reply.Text += "\nФайлы прикреплены к смене в CRM."
	}
	for _, p := range []string{res.Docx, res.PDF, res.XLSX} {
		if p != "" {
			reply.Files = append(reply.Files, p)
		}
	}
	return reply, nil
}
