package flow

import (
	"context"
	"fmt"
	"strings"

	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"
)

const (
	resChooseShift = "choose_shift"
	resChooseType  = "choose_type"
	resEquipType   = "equip_type"
	resEquipHours  = "equip_hours"
	resRateType    = "equip_rate_type"
	resEquipRate   = "equip_rate"
	resMatType     = "mat_type"
	resMatQty      = "mat_qty"
	resMatUnit     = "mat_unit"
	resMatPrice    = "mat_price"
	resComment     = "resource_comment"
	resPhotos      = "resource_photos"
	resConfirm     = "confirm"
)

// resourceFlow добавляет технику или материал к существующей смене.
type resourceFlow struct{}

func (resourceFlow) begin(_ context.Context, t *turn) (Reply, error) {
	t.s.State = resChooseShift
	return t.shiftKeyboard(fmt.Sprintf("Объект: %s\nК какой смене добавить ресурс?", t.s.Get(keyObjectName))), nil
}

func typeKeyboard() Reply {
	return Reply{Text: "Что добавляем?", Buttons: [][]Button{
		{{Text: "🚜 Техника", Data: cbType + ":" + string(models.ResourceEquip)},
			{Text: "🧱 Материал", Data: cbType + ":" + string(models.ResourceMaterial)}},
		cancelRow(),
	}}
}

func rateKeyboard() Reply {
	var row []Button
	for _, r := range []models.RateKind{models.RateHour, models.RateShift, models.RateTrip} {
		row = append(row, Button{Text: r.Title(), Data: cbRate + ":" + string(r)})
	}
	return Reply{Text: "Тип ставки:", Buttons: [][]Button{row, cancelRow()}}
}

func (f resourceFlow) step(ctx context.Context, t *turn) (Reply, error) {
	switch t.s.State {
	case resChooseShift:
		if err := t.readShift(); err != nil {
			return Reply{}, err
		}
		if _, err := t.requireShift(ctx); err != nil {
			return Reply{}, err
		}
		t.s.State = resChooseType
		return typeKeyboard(), nil

	case resChooseType:
		cb, ok := parseCallback(t.in.Callback)
		if !ok || cb.prefix != cbType {
			return Reply{}, &normalize.UserInputError{Message: "Выберите тип ресурса кнопкой."}
		}
		switch models.ResourceKind(cb.arg) {
		case models.ResourceEquip:
			t.s.Set(keyResKind, string(models.ResourceEquip))
			t.s.State = resEquipType
			return prompt("Какая техника? Например: Экскаватор JCB", false), nil
		case models.ResourceMaterial:
			t.s.Set(keyResKind, string(models.ResourceMaterial))
			t.s.State = resMatType
			return prompt("Какой материал? Например: Щебень 20-40", false), nil
		}
		return Reply{}, &normalize.UserInputError{Message: "Выберите тип ресурса кнопкой."}

	case resEquipType:
		v, err := t.text("Введите название техники.")
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyEquipType, v)
		t.s.State = resEquipHours
		return prompt("Сколько часов работала техника?", false), nil

	case resEquipHours:
		v, err := t.positive()
		if err != nil {
			return Reply{}, err
		}
		t.s.SetFloat(keyEquipHours, v)
		t.s.State = resRateType
		return rateKeyboard(), nil

	case resRateType:
		cb, ok := parseCallback(t.in.Callback)
		var rate models.RateKind
		if ok && cb.prefix == cbRate {
			rate, ok = models.ParseRateKind(cb.arg)
		} else {
			rate, ok = models.ParseRateKind(t.in.Text)
		}
		if !ok {
			return Reply{}, &normalize.UserInputError{Message: "Выберите тип ставки кнопкой."}
		}
		t.s.Set(keyRateKind, string(rate))
		t.s.State = resEquipRate
		return prompt(fmt.Sprintf("Ставка %s, руб.:", rate.Title()), false), nil

	case resEquipRate:
		v, err := t.positive()
		if err != nil {
			return Reply{}, err
		}
		t.s.SetFloat(keyEquipRate, v)
		t.s.State = resComment
		return prompt("Комментарий к ресурсу:", true), nil

	case resMatType:
		v, err := t.text("Введите название материала.")
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyMatType, v)
		t.s.State = resMatQty
		return prompt("Количество:", false), nil

	case resMatQty:
		v, err := t.positive()
		if err != nil {
			return Reply{}, err
		}
		t.s.SetFloat(keyMatQty, v)
		t.s.State = resMatUnit
		return prompt("Единица измерения (м³, т, шт):", false), nil

	case resMatUnit:
		v, err := t.text("Введите единицу измерения.")
		if err != nil {
			return Reply{}, err
		}
		t.s.Set(keyMatUnit, v)
		t.s.State = resMatPrice
		return prompt("Цена за единицу, руб.:", false), nil

	case resMatPrice:
		v, err := t.positive()
		if err != nil {
			return Reply{}, err
		}
		t.s.SetFloat(keyMatPrice, v)
		t.s.State = resComment
		return prompt("Комментарий к ресурсу:", true), nil

	case resComment:
		if !t.skipped() {
			v, err := t.text("Введите комментарий или нажмите «Пропустить».")
			if err != nil {
				return Reply{}, err
			}
			t.s.Set(keyComment, v)
		}
		t.s.State = resPhotos
		return photoPrompt("Пришлите фото ресурса или нажмите «Без фото»."), nil

	case resPhotos:
		reply, finished, err := t.collectPhotos()
		if err != nil || !finished {
			return reply, err
		}
		t.s.State = resConfirm
		return confirmPrompt("Проверьте ресурс\n" + describeResource(resourceFrom(t))), nil

	case resConfirm:
		ok, err := t.readConfirm()
		if err != nil {
			return Reply{}, err
		}
		if !ok {
			for _, k := range []string{keyEquipType, keyEquipHours, keyRateKind, keyEquipRate,
				keyMatType, keyMatQty, keyMatUnit, keyMatPrice, keyComment} {
				delete(t.s.Data, k)
			}
			t.s.Media = nil
			t.s.State = resChooseType
			return typeKeyboard(), nil
		}
		return f.commit(ctx, t)
	}
	return Reply{}, fmt.Errorf("неизвестное состояние ресурса %q", t.s.State)
}

// resourceFrom собирает ресурс из данных сессии.
func resourceFrom(t *turn) models.Resource {
	r := models.Resource{
		ShiftID: t.s.Int64(keyShiftID),
		Kind:    models.ResourceKind(t.s.Get(keyResKind)),
		Comment: t.s.Get(keyComment),
	}
	if r.Kind == models.ResourceEquip {
		r.Equip = &models.Equipment{
			Type:     t.s.Get(keyEquipType),
			Hours:    t.s.Float(keyEquipHours),
			RateKind: models.RateKind(t.s.Get(keyRateKind)),
			Rate:     t.s.Float(keyEquipRate),
		}
	} else {
		r.Material = &models.Material{
			Type:  t.s.Get(keyMatType),
			Unit:  t.s.Get(keyMatUnit),
			Qty:   t.s.Float(keyMatQty),
			Price: t.s.Float(keyMatPrice),
		}
	}
	return r
}

func describeResource(r models.Resource) string {
	var b strings.Builder
	switch {
	case r.Equip != nil:
		fmt.Fprintf(&b, "Техника: %s\nЧасы: %s\nСтавка: %s %s",
			r.Equip.Type, normalize.FormatNumber(r.Equip.Hours),
			normalize.FormatNumber(r.Equip.Rate), r.Equip.RateKind.Title())
	case r.Material != nil:
		fmt.Fprintf(&b, "Материал: %s\nКоличество: %s %s\nЦена: %s",
			r.Material.Type, normalize.FormatNumber(r.Material.Qty), r.Material.Unit,
			normalize.FormatNumber(r.Material.Price))
	}
	if r.Comment != "" {
		fmt.Fprintf(&b, "\nКомментарий: %s", r.Comment)
	}
	return b.String()
}

func (resourceFlow) commit(ctx context.Context, t *turn) (Reply, error) {
	shiftID, err := t.requireShift(ctx)
	if err != nil {
		return Reply{}, err
	}
	entity := t.e.deps.Entities.Resource
	etid, err := t.entityTypeID(entity)
	if err != nil {
		return Reply{}, err
	}

	r := resourceFrom(t)
	r.ShiftID = shiftID
	fs := t.newFields(entity).must(fieldmap.ResShiftID, shiftID)
	switch {
	case r.Equip != nil:
		fs.raw("title", fmt.Sprintf("Техника: %s", r.Equip.Type)).
			must(fieldmap.ResType, string(models.ResourceEquip)).
			must(fieldmap.ResEquipType, r.Equip.Type).
			must(fieldmap.ResEquipHrs, r.Equip.Hours).
			must(fieldmap.ResRateType, string(r.Equip.RateKind)).
			must(fieldmap.ResEquipRate, r.Equip.Rate)
	case r.Material != nil:
		fs.raw("title", fmt.Sprintf("Материал: %s", r.Material.Type)).
			must(fieldmap.ResType, string(models.ResourceMaterial)).
			must(fieldmap.ResMatType, r.Material.Type).
			must(fieldmap.ResMatQty, r.Material.Qty).
			must(fieldmap.ResMatUnit, r.Material.Unit).
			must(fieldmap.ResMatPrice, r.Material.Price)
	}
	if r.Comment != "" {
		fs.may(fieldmap.ResComment, r.Comment)
	}
	values, err := fs.done()
	if err != nil {
		return Reply{}, err
	}

	item, err := t.e.deps.CRM.AddItem(ctx, etid, values)
	if err != nil {
		return Reply{}, fmt.Errorf("ошибка добавления ресурса: %w", err)
	}
	note := t.uploadPhotos(ctx, entity, fieldmap.ResPhotos, item.ID())
	return t.finish(formatDone("Ресурс #%d добавлен к смене #%d.\n%s%s", item.ID(), shiftID, describeResource(r), note))
}
