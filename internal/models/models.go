// Package models содержит структуры данных, используемые в проекте:
// объекты, смены, план/факт, ресурсы, табель и пользователи.
package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout - формат календарной даты в CRM и в файлах.
const DateLayout = "2006-01-02"

// DisplayDateLayout - формат даты для сообщений пользователю.
const DisplayDateLayout = "02.01.2006"

// Object представляет строительный объект из CRM.
type Object struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Code  string `json:"code,omitempty"`
}

// Label возвращает подпись объекта для клавиатуры.
func (o Object) Label() string {
	if o.Code != "" {
		return fmt.Sprintf("%s (%s)", o.Title, o.Code)
	}
	return o.Title
}

// ShiftKind - тип смены.
type ShiftKind string

const (
	// ShiftDay - дневная смена.
	ShiftDay ShiftKind = "day"
	// ShiftNight - ночная смена.
	ShiftNight ShiftKind = "night"
)

// Title возвращает русское название типа смены.
func (k ShiftKind) Title() string {
	if k == ShiftNight {
		return "ночная"
	}
	return "дневная"
}

// ShiftStatus - отметка стадии смены.
type ShiftStatus string

const (
	// ShiftOpen - смена открыта планом.
	ShiftOpen ShiftStatus = "open"
	// ShiftClosed - смена закрыта отчётом.
	ShiftClosed ShiftStatus = "closed"
)

// ObjectLink кодирует ссылку на объект для множественного поля CRM.
func ObjectLink(objectID int64) []string {
	return []string{fmt.Sprintf("D_%d", objectID)}
}

// Defaults для задач, у которых пользователь не указал единицу и исполнителя.
const (
	DefaultUnit     = "ед."
	DefaultExecutor = "Бригада"
	OutOfPlanReason = "Работа вне плана"
)

// PlanTask - строка плана.
type PlanTask struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Plan     float64 `json:"plan"`
	Executor string  `json:"executor"`
}

// FactTask - строка факта.
type FactTask struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Fact     float64 `json:"fact"`
	Executor string  `json:"executor"`
	Reason   string  `json:"reason,omitempty"`
}

// DocMeta повторяет объект, к которому относится документ.
type DocMeta struct {
	ObjectBitrixID int64  `json:"object_bitrix_id"`
	ObjectName     string `json:"object_name"`
}

// PlanDoc - JSON плана, встраиваемый в смену.
type PlanDoc struct {
	Tasks     []PlanTask `json:"tasks"`
	TotalPlan float64    `json:"total_plan"`
	Date      string     `json:"date,omitempty"`
	Section   string     `json:"section,omitempty"`
	Foreman   string     `json:"foreman,omitempty"`
	ShiftType string     `json:"shift_type,omitempty"`
	Meta      *DocMeta   `json:"meta,omitempty"`
}

// FactDoc - JSON факта, встраиваемый в смену.
type FactDoc struct {
	Tasks     []FactTask `json:"tasks"`
	TotalFact float64    `json:"total_fact"`
	Reason    string     `json:"reason,omitempty"`
	Date      string     `json:"date,omitempty"`
	Section   string     `json:"section,omitempty"`
	Foreman   string     `json:"foreman,omitempty"`
	ShiftType string     `json:"shift_type,omitempty"`
	Meta      *DocMeta   `json:"meta,omitempty"`
}

// ResourceKind - дискриминатор ресурса.
type ResourceKind string

const (
	// ResourceEquip - техника.
	ResourceEquip ResourceKind = "TECH"
	// ResourceMaterial - материал.
	ResourceMaterial ResourceKind = "MAT"
)

// ParseResourceKind разбирает значение поля типа ресурса из CRM.
// Значения "TECH…" и ноль считаются техникой, всё остальное - материалом.
func ParseResourceKind(v any) ResourceKind {
	switch t := v.(type) {
	case nil:
		return ResourceMaterial
	case float64:
		if t == 0 {
			return ResourceEquip
		}
		return ResourceMaterial
	case int:
		if t == 0 {
			return ResourceEquip
		}
		return ResourceMaterial
	case int64:
		if t == 0 {
			return ResourceEquip
		}
		return ResourceMaterial
	case string:
		s := strings.ToUpper(strings.TrimSpace(t))
		if s == "0" || strings.HasPrefix(s, "TECH") {
			return ResourceEquip
		}
		return ResourceMaterial
	}
	return ResourceMaterial
}

// RateKind - тип ставки техники.
type RateKind string

const (
	RateHour  RateKind = "HOUR"
	RateShift RateKind = "SHIFT"
	RateTrip  RateKind = "TRIP"
)

// Title возвращает русское название типа ставки.
func (r RateKind) Title() string {
	switch r {
	case RateHour:
		return "за час"
	case RateShift:
		return "за смену"
	case RateTrip:
		return "за рейс"
	}
	return string(r)
}

// ParseRateKind проверяет значение типа ставки.
func ParseRateKind(s string) (RateKind, bool) {
	switch RateKind(strings.ToUpper(strings.TrimSpace(s))) {
	case RateHour:
		return RateHour, true
	case RateShift:
		return RateShift, true
	case RateTrip:
		return RateTrip, true
	}
	return "", false
}

// Equipment - вариант ресурса «техника».
type Equipment struct {
	Type     string   `json:"type"`
	Hours    float64  `json:"hours"`
	RateKind RateKind `json:"rate_kind"`
	Rate     float64  `json:"rate"`
}

// Material - вариант ресурса «материал».
type Material struct {
	Type  string  `json:"type"`
	Unit  string  `json:"unit"`
	Qty   float64 `json:"qty"`
	Price float64 `json:"price"`
}

// Resource - техника или материал в рамках смены.
// Заполнен ровно один из вариантов, выбранный полем Kind.
type Resource struct {
	ID       int64        `json:"id,omitempty"`
	ShiftID  int64        `json:"shift_id"`
	Kind     ResourceKind `json:"kind"`
	Equip    *Equipment   `json:"equip,omitempty"`
	Material *Material    `json:"material,omitempty"`
	Comment  string       `json:"comment,omitempty"`
}

// TimesheetEntry - строка табеля.
type TimesheetEntry struct {
	ID           int64   `json:"id,omitempty"`
	ShiftID      int64   `json:"shift_id"`
	WorkerLabel  string  `json:"worker_label"`
	WorkersCount int     `json:"workers_count"`
	Hours        float64 `json:"hours"`
	Rate         float64 `json:"rate"`
	Comment      string  `json:"comment,omitempty"`
}

// Media - фото или файл, присланный в чат.
type Media struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
}

// UserRole определяет роль пользователя в системе.
type UserRole string

const (
	RoleOwner   UserRole = "OWNER"
	RoleAdmin   UserRole = "ADMIN"
	RoleForeman UserRole = "FOREMAN"
	RoleView    UserRole = "VIEW"
)

// ParseRole нормализует строку роли к верхнему регистру и проверяет её.
func ParseRole(s string) (UserRole, bool) {
	r := UserRole(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleOwner, RoleAdmin, RoleForeman, RoleView:
		return r, true
	}
	return r, false
}

// IsAdmin сообщает, имеет ли роль административные права.
func (r UserRole) IsAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// User представляет сотрудника из staff_map.json.
type User struct {
	TgID    int64    `json:"tg_id"`
	ChatID  int64    `json:"chat_id"`
	Role    UserRole `json:"role"`
	Name    string   `json:"name"`
	Objects []int64  `json:"objects"`
}

// DateFor возвращает календарную дату «сегодня» (offset=0) или «завтра» (offset=1)
// в указанной зоне.
func DateFor(now time.Time, loc *time.Location, offset int) string {
	if loc != nil {
		now = now.In(loc)
	}
	return now.AddDate(0, 0, offset).Format(DateLayout)
}

// DisplayDate переводит дату CRM в формат для пользователя.
func DisplayDate(date string) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format(DisplayDateLayout)
}
