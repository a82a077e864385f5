package flow

import (
	"context"
	"fmt"

	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/normalize"

	"github.com/shopspring/decimal"
)

const (
	tsChooseShift = "choose_shift"
	tsWorker      = "input_worker"
	tsHours       = "input_hours"
	tsRate        = "input_rate"
	tsComment     = "timesheet_comment"
	tsPhotos      = "timesheet_photos"
	tsConfirm     = "confirm"
	workerHint    = "Кто работал? Например: бригада 2 (5 человек)"
)

// timesheetFlow добавляет строку табеля к существующей смене.
type timesheetFlow struct{}

func (timesheetFlow) begin(_ context.Context, t *turn) (Reply, error) {
	t.s.State = tsChooseShift
	return t.shiftKeyboard(fmt.Sprintf("Объект: %s\nВыберите смену для табеля:", t.s.Get(keyObjectName))), nil
}

func (f timesheetFlow) step(ctx context.Context, t *turn) (Reply, error) {
	switch t.s.State {
	case tsChooseShift:
		if err := t.readShift(); err != nil {
			return Reply{}, err
		}
		if _, err := t.requireShift(ctx); err != nil {
			return Reply{}, err
		}
		t.s.State = tsWorker
		return prompt(workerHint, false), nil

	case tsWorker:
		v, err := t.text(workerHint)
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyWorker, v)
		t.s.State = tsHours
		return prompt(fmt.Sprintf("Работников: %d. Сколько часов отработано?", normalize.WorkersCount(v)), false), nil

	case tsHours:
		if _, err := t.positive(); err != nil {
			return Reply{}, err
		}
		d, err := normalize.ParseDecimal(t.in.Text)
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyHours, d.String())
		t.s.State = tsRate
		return prompt("Ставка за час на одного работника, руб.:", false), nil

	case tsRate:
		if _, err := t.positive(); err != nil {
			return Reply{}, err
		}
		d, err := normalize.ParseDecimal(t.in.Text)
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyRate, d.String())
		t.s.State = tsComment
		return prompt("Комментарий к табелю:", true), nil

	case tsComment:
		if !t.skipped() {
			v, err := t.text("Введите комментарий или нажмите «Пропустить».")
			if err != nil {
				return Reply{}, err
			}
			t.s.Set(keyComment, v)
		}
		t.s.State = tsPhotos
		return photoPrompt("Пришлите фото табеля или нажмите «Без фото»."), nil

	case tsPhotos:
		reply, finished, err := t.collectPhotos()
		if err != nil || !finished {
			return reply, err
		}
		t.s.State = tsConfirm
		return confirmPrompt("Проверьте табель\n" + f.describe(t)), nil

	case tsConfirm:
		ok, err := t.readConfirm()
		if err != nil {
			return Reply{}, err
		}
		if !ok {
			for _, k := range []string{keyWorker, keyHours, keyRate, keyComment} {
				delete(t.s.Data, k)
			}
			t.s.Media = nil
			t.s.State = tsWorker
			return prompt(workerHint, false), nil
		}
		return f.commit(ctx, t)
	}
	return Reply{}, fmt.Errorf("неизвестное состояние табеля %q", t.s.State)
}

// entry возвращает часы, ставку, число работников и сумму.
func (timesheetFlow) entry(t *turn) (hours, rate decimal.Decimal, workers int, total decimal.Decimal) {
	hours, _ = decimal.NewFromString(t.s.Get(keyHours))
	rate, _ = decimal.NewFromString(t.s.Get(keyRate))
	workers = normalize.WorkersCount(t.s.Get(keyWorker))
	return hours, rate, workers, normalize.TimesheetTotal(hours, rate, workers)
}

func (f timesheetFlow) describe(t *turn) string {
	hours, rate, workers, total := f.entry(t)
	text := fmt.Sprintf("Работники: %s (%d чел.)\nЧасы: %s\nСтавка: %s\nСумма: %s",
		t.s.Get(keyWorker), workers, hours.String(), rate.String(), total.String())
	if c := t.s.Get(keyComment); c != "" {
		text += "\nКомментарий: " + c
	}
	return text
}

func (f timesheetFlow) commit(ctx context.Context, t *turn) (Reply, error) {
	shiftID, err := t.requireShift(ctx)
	if err != nil {
		return Reply{}, err
	}
	entity := t.e.deps.Entities.Timesheet
	etid, err := t.entityTypeID(entity)
	if err != nil {
		return Reply{}, err
	}

	hours, rate, workers, total := f.entry(t)
	worker := t.s.Get(keyWorker)
	fs := t.newFields(entity).
		raw("title", fmt.Sprintf("%s — %s", worker, t.s.Get(keyDate))).
		must(fieldmap.TSShiftID, shiftID).
		must(fieldmap.TSWorker, worker).
		must(fieldmap.TSWorkers, workers).
		must(fieldmap.TSHours, hours.InexactFloat64()).
		must(fieldmap.TSRate, rate.InexactFloat64()).
		may(fieldmap.TSSum, total.String())
	if c := t.s.Get(keyComment); c != "" {
		fs.may(fieldmap.TSComment, c)
	}
	values, err := fs.done()
	if err != nil {
		return Reply{}, err
	}

	item, err := t.e.deps.CRM.AddItem(ctx, etid, values)
	if err != nil {
		return Reply{}, fmt.Errorf("ошибка добавления табеля: %w", err)
	}
	note := t.uploadPhotos(ctx, entity, fieldmap.TSPhotos, item.ID())
	return t.finish(formatDone("Табель #%d добавлен к смене #%d.\nРаботников: %d, сумма: %s%s",
		item.ID(), shiftID, workers, total.String(), note))
}
