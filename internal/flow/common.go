package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"foreman_bot/internal/catalog"
	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"
	"foreman_bot/internal/session"
	"foreman_bot/internal/uploader"

	"go.uber.org/zap"
)

const statePickObject = "pick_object"

// Префиксы данных встроенных кнопок: <prefix>:<id> или <prefix>:page:<n>.
const (
	cbObject  = "obj"
	cbDate    = "date"
	cbShift   = "shift"
	cbType    = "type"
	cbRate    = "rate"
	cbPhotos  = "photos"
	cbConfirm = "confirm"
	cbSkip    = "skip"
	cbCancel  = "cancel"
)

// Ключи данных сессии.
const (
	keyObjectID   = "object_bitrix_id"
	keyObjectName = "object_name"
	keyObjectCode = "object_code"
	keyDate       = "date"
	keyShiftKind  = "shift_type"
	keyShiftID    = "shift_id"
	keyWorks      = "works"
	keyReason     = "reason"
	keyComment    = "comment"
	keyResKind    = "resource_kind"
	keyEquipType  = "equip_type"
	keyEquipHours = "equip_hours"
	keyRateKind   = "equip_rate_type"
	keyEquipRate  = "equip_rate"
	keyMatType    = "mat_type"
	keyMatQty     = "mat_qty"
	keyMatUnit    = "mat_unit"
	keyMatPrice   = "mat_price"
	keyWorker     = "worker"
	keyHours      = "hours"
	keyRate       = "rate"
)

var titles = map[string]string{
	Plan:      "📋 План",
	Report:    "📝 Отчёт",
	Resource:  "🚜 Ресурсы",
	Timesheet: "👷 Табель",
	LPA:       "📄 ЛПА",
}

type callback struct {
	prefix string
	arg    string
	id     int64
	page   int
}

// parseCallback разбирает данные кнопки. page = -1, если это не листание.
func parseCallback(data string) (callback, bool) {
	if data == "" {
		return callback{}, false
	}
	prefix, rest, _ := strings.Cut(data, ":")
	cb := callback{prefix: prefix, arg: rest, page: -1}
	if p, ok := strings.CutPrefix(rest, "page:"); ok {
		n, err := strconv.Atoi(p)
		if err != nil {
			return callback{}, false
		}
		cb.page = n
		return cb, true
	}
	if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
		cb.id = id
	}
	return cb, true
}

func cancelRow() []Button {
	return []Button{{Text: "❌ Отмена", Data: cbCancel}}
}

func objectPage(s *session.Session, title string, edit bool) Reply {
	items, current, pages := catalog.Page(s.Objects, s.Page)
	s.Page = current

	var rows [][]Button
	for _, o := range items {
		rows = append(rows, []Button{{Text: o.Label(), Data: fmt.Sprintf("%s:%d", cbObject, o.ID)}})
	}
	var nav []Button
	if current > 0 {
		nav = append(nav, Button{Text: "◀️", Data: fmt.Sprintf("%s:page:%d", cbObject, current-1)})
	}
	if current < pages-1 {
		nav = append(nav, Button{Text: "▶️", Data: fmt.Sprintf("%s:page:%d", cbObject, current+1)})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, cancelRow())

	text := fmt.Sprintf("%s\nВыберите объект (страница %d из %d):", title, current+1, pages)
	return Reply{Text: text, Buttons: rows, Edit: edit}
}

func setObject(s *session.Session, o models.Object) {
	s.SetInt64(keyObjectID, o.ID)
	s.Set(keyObjectName, o.Title)
	s.Set(keyObjectCode, o.Code)
}

func object(s *session.Session) models.Object {
	return models.Object{ID: s.Int64(keyObjectID), Title: s.Get(keyObjectName), Code: s.Get(keyObjectCode)}
}

// dateNames - варианты даты: вчера, сегодня, завтра.
var dateNames = map[string]int{"yesterday": -1, "today": 0, "tomorrow": 1}

func dateTitle(name string) string {
	switch name {
	case "yesterday":
		return "Вчера"
	case "tomorrow":
		return "Завтра"
	}
	return "Сегодня"
}

func (t *turn) date(name string) string {
	return models.DateFor(t.e.deps.Now(), t.e.deps.Location, dateNames[name])
}

func (t *turn) dateKeyboard(text string, names ...string) Reply {
	var row []Button
	for _, n := range names {
		row = append(row, Button{
			Text: fmt.Sprintf("%s (%s)", dateTitle(n), models.DisplayDate(t.date(n))),
			Data: cbDate + ":" + n,
		})
	}
	return Reply{Text: text, Buttons: [][]Button{row, cancelRow()}}
}

// readDate принимает нажатие кнопки даты.
func (t *turn) readDate() (string, error) {
	cb, ok := parseCallback(t.in.Callback)
	if ok && cb.prefix == cbDate {
		if _, known := dateNames[cb.arg]; known {
			return t.date(cb.arg), nil
		}
	}
	return "", &normalize.UserInputError{Message: "Выберите дату кнопкой."}
}

// shiftKeyboard предлагает смены: сегодня/завтра × день/ночь.
func (t *turn) shiftKeyboard(text string) Reply {
	var rows [][]Button
	for _, d := range []string{"today", "tomorrow"} {
		var row []Button
		for _, k := range []models.ShiftKind{models.ShiftDay, models.ShiftNight} {
			row = append(row, Button{
				Text: fmt.Sprintf("%s %s, %s", dateTitle(d), models.DisplayDate(t.date(d)), k.Title()),
				Data: fmt.Sprintf("%s:%s:%s", cbShift, d, k),
			})
		}
		rows = append(rows, row)
	}
	rows = append(rows, cancelRow())
	return Reply{Text: text, Buttons: rows}
}

// readShift принимает выбор смены и записывает дату и тип в сессию.
func (t *turn) readShift() error {
	cb, ok := parseCallback(t.in.Callback)
	if ok && cb.prefix == cbShift {
		d, k, _ := strings.Cut(cb.arg, ":")
		kind := models.ShiftKind(k)
		if _, known := dateNames[d]; known && (kind == models.ShiftDay || kind == models.ShiftNight) {
			t.s.Set(keyDate, t.date(d))
			t.s.Set(keyShiftKind, string(kind))
			return nil
		}
	}
	return &normalize.UserInputError{Message: "Выберите смену кнопкой."}
}

func (t *turn) shiftLabel() string {
	return fmt.Sprintf("%s, %s смена", models.DisplayDate(t.s.Get(keyDate)), models.ShiftKind(t.s.Get(keyShiftKind)).Title())
}

// requireShift проверяет, что по объекту и дате уже заполнен план.
func (t *turn) requireShift(ctx context.Context) (int64, error) {
	id, _, err := t.e.deps.Shifts.GetOrCreate(ctx, object(t.s), t.s.Get(keyDate), false)
	if err != nil {
		return 0, err
	}
	t.s.SetInt64(keyShiftID, id)
	return id, nil
}

func (t *turn) skipped() bool {
	cb, ok := parseCallback(t.in.Callback)
	return ok && cb.prefix == cbSkip
}

// text возвращает непустой текст или ошибку ввода.
func (t *turn) text(hint string) (string, error) {
	v := strings.TrimSpace(t.in.Text)
	if v == "" {
		return "", &normalize.UserInputError{Message: hint}
	}
	return v, nil
}

func (t *turn) positive() (float64, error) {
	return normalize.ParsePositive(t.in.Text)
}

func prompt(text string, skippable bool) Reply {
	rows := [][]Button{}
	if skippable {
		rows = append(rows, []Button{{Text: "⏭ Пропустить", Data: cbSkip}})
	}
	rows = append(rows, cancelRow())
	return Reply{Text: text, Buttons: rows}
}

func photoPrompt(text string) Reply {
	return Reply{Text: text, Buttons: [][]Button{
		{{Text: "✅ Готово", Data: cbPhotos + ":done"}, {Text: "⏭ Без фото", Data: cbSkip}},
		cancelRow(),
	}}
}

// collectPhotos копит фото. Возвращает true, когда пользователь закончил.
func (t *turn) collectPhotos() (Reply, bool, error) {
	if len(t.in.Media) > 0 {
		t.s.Media = append(t.s.Media, t.in.Media...)
		return photoPrompt(fmt.Sprintf("Получено фото: %d. Пришлите ещё или нажмите «Готово».", len(t.s.Media))), false, nil
	}
	if t.skipped() {
		t.s.Media = nil
		return Reply{}, true, nil
	}
	cb, ok := parseCallback(t.in.Callback)
	if ok && cb.prefix == cbPhotos && cb.arg == "done" {
		return Reply{}, true, nil
	}
	return Reply{}, false, &normalize.UserInputError{Message: "Пришлите фото или нажмите «Готово»."}
}

func confirmPrompt(text string) Reply {
	return Reply{Text: text, Buttons: [][]Button{
		{{Text: "✅ Сохранить", Data: cbConfirm + ":yes"}, {Text: "✏️ Изменить", Data: cbConfirm + ":edit"}},
		cancelRow(),
	}}
}

// readConfirm возвращает true для сохранения и false для правки.
func (t *turn) readConfirm() (bool, error) {
	cb, ok := parseCallback(t.in.Callback)
	if ok && cb.prefix == cbConfirm {
		switch cb.arg {
		case "yes":
			return true, nil
		case "edit":
			return false, nil
		}
	}
	return false, &normalize.UserInputError{Message: "Нажмите «Сохранить» или «Изменить»."}
}

// fields собирает поля записи. Отсутствие в карте существенного поля
// прерывает сохранение, остальные пропускаются с предупреждением.
type fields struct {
	t   *turn
	f   *fieldmap.Fields
	err error
}

func (t *turn) newFields(entity string) *fields {
	return &fields{t: t, f: t.e.deps.Fields.NewFields(entity)}
}

func (f *fields) must(logical string, v any) *fields {
	if f.err != nil {
		return f
	}
	if err := f.f.Set(logical, v); err != nil {
		f.err = err
	}
	return f
}

func (f *fields) may(logical string, v any) *fields {
	if err := f.f.Set(logical, v); err != nil {
		f.t.e.log.Warn("поле пропущено", zap.Error(err))
	}
	return f
}

func (f *fields) raw(code string, v any) *fields {
	f.f.SetRaw(code, v)
	return f
}

func (f *fields) done() (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.f.Map(), nil
}

func (t *turn) entityTypeID(entity string) (int, error) {
	etid, ok := t.e.deps.Fields.EntityTypeID(entity)
	if !ok {
		return 0, &fieldmap.MappingError{Entity: entity, Logical: "entityTypeId"}
	}
	return etid, nil
}

// uploadPhotos загружает накопленные фото. Ошибки загрузки не отменяют
// уже сохранённую запись: возвращается заметка для пользователя.
func (t *turn) uploadPhotos(ctx context.Context, entity, logical string, id int64) string {
	if len(t.s.Media) == 0 || t.e.deps.Uploader == nil {
		return ""
	}
	etid, err := t.entityTypeID(entity)
	if err != nil {
		return ""
	}
	field, err := t.e.deps.Fields.Field(entity, logical)
	if err != nil {
		t.e.log.Warn("фото не загружены: поле не найдено", zap.Error(err))
		return "\nФото не загружены: поле для фото не настроено."
	}
	n, err := t.e.deps.Uploader.UploadMedia(ctx, uploader.Target{EntityTypeID: etid, ID: id, Field: field}, t.s.Media)
	if err != nil {
		t.e.log.Warn("загружены не все фото", zap.Int64("item_id", id), zap.Int("uploaded", n), zap.Error(err))
		return fmt.Sprintf("\nЗагружено фото: %d из %d. Остальные пришлите позже.", n, len(t.s.Media))
	}
	return fmt.Sprintf("\nФото загружено: %d.", n)
}

func formatDone(s string, args ...any) string {
	return "✅ " + fmt.Sprintf(s, args...)
}
