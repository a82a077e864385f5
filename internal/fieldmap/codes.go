package fieldmap

import "errors"

// Логические коды полей смарт-процессов.
const (
	ObjectCode = "UF_OBJECT_CODE"

	ShiftObjectLink = "UF_OBJECT_LINK"
	ShiftDate       = "UF_DATE"
	ShiftType       = "UF_SHIFT_TYPE"
	ShiftPlanJSON   = "UF_PLAN_JSON"
	ShiftPlanTotal  = "UF_PLAN_TOTAL"
	ShiftFactJSON   = "UF_FACT_JSON"
	ShiftFactTotal  = "UF_FACT_TOTAL"
	ShiftStatus     = "UF_SHIFT_STATUS"
	ShiftPhotos     = "UF_SHIFT_PHOTOS"
	ShiftDocx       = "UF_LPA_DOCX"
	ShiftPDF        = "UF_LPA_PDF"

	ResShiftID   = "UF_SHIFT_ID"
	ResType      = "UF_RESOURCE_TYPE"
	ResEquipType = "UF_EQUIP_TYPE"
	ResEquipHrs  = "UF_EQUIP_HOURS"
	ResRateType  = "UF_EQUIP_RATE_TYPE"
	ResEquipRate = "UF_EQUIP_RATE"
	ResMatType   = "UF_MAT_TYPE"
	ResMatQty    = "UF_MAT_QTY"
	ResMatUnit   = "UF_MAT_UNIT"
	ResMatPrice  = "UF_MAT_PRICE"
	ResComment   = "UF_RES_COMMENT"
	ResPhotos    = "UF_RES_PHOTOS"

	TSShiftID = "UF_SHIFT_ID"
	TSWorker  = "UF_WORKER"
	TSWorkers = "UF_WORKERS_COUNT"
	TSHours   = "UF_HOURS"
	TSRate    = "UF_RATE"
	TSSum     = "UF_SUM"
	TSComment = "UF_TS_COMMENT"
	TSPhotos  = "UF_TS_PHOTOS"
)

// Entities - названия смарт-процессов, с которыми работает бот.
type Entities struct {
	Object    string
	Shift     string
	Resource  string
	Timesheet string
}

// Fields собирает набор полей одной сущности. Отсутствующие в карте поля
// копятся в Missing, чтобы вызывающий мог решить, критичны ли они.
type Fields struct {
	r       *Resolver
	entity  string
	values  map[string]any
	Missing []*MappingError
}

// NewFields начинает набор полей для сущности.
func (r *Resolver) NewFields(entity string) *Fields {
	return &Fields{r: r, entity: entity, values: make(map[string]any)}
}

// Set кладёт значение по логическому коду. Возвращает ошибку, если кода нет
// в карте; значение в этом случае не записывается.
func (f *Fields) Set(logical string, v any) error {
	code, err := f.r.Field(f.entity, logical)
	if err != nil {
		var me *MappingError
		if errors.As(err, &me) {
			f.Missing = append(f.Missing, me)
		}
		return err
	}
	f.values[code] = v
	return nil
}

// SetRaw кладёт значение по стандартному коду (title, assignedById).
func (f *Fields) SetRaw(code string, v any) {
	f.values[code] = v
}

// Map возвращает набор для crm.item.add / crm.item.update.
func (f *Fields) Map() map[string]any {
	return f.values
}
