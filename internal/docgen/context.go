// Package docgen формирует документ оперативного анализа (ЛПА) по смене:
// контекст шаблона, DOCX, PDF и сводную книгу XLSX.
package docgen

import (
	"fmt"
	"strings"

	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"

	"github.com/shopspring/decimal"
)

// Число строк в таблицах шаблона. Списки короче дополняются пустыми строками,
// длиннее выводятся целиком.
const (
	TaskRows   = 10
	EquipRows  = 7
	MatRows    = 7
	WorkerRows = 7
)

// Input - всё, что нужно для документа по смене.
type Input struct {
	ShiftID    int64
	Object     models.Object
	Date       string
	ShiftType  string
	Plan       models.PlanDoc
	Fact       models.FactDoc
	Resources  []models.Resource
	Timesheets []models.TimesheetEntry
	Photos     []string
	Generated  string
}

// TaskRow - строка объединённой таблицы план/факт.
type TaskRow struct {
	Name     string
	Unit     string
	Plan     float64
	Fact     float64
	HasPlan  bool
	HasFact  bool
	Executor string
	Reason   string
}

// WorkerRow - строка табеля с суммой.
type WorkerRow struct {
	Name  string
	Count int
	Hours float64
	Rate  float64
	Sum   decimal.Decimal
}

// Context - плоский словарь для шаблона и таблицы, из которых он собран.
type Context struct {
	Values     map[string]string
	Tasks      []TaskRow
	Equipment  []models.Equipment
	Materials  []models.Material
	Workers    []WorkerRow
	PlanTotal  decimal.Decimal
	FactTotal  decimal.Decimal
	Efficiency decimal.Decimal
	LaborTotal decimal.Decimal
}

// MergeTasks объединяет план и факт: сначала работы факта, затем работы,
// которые есть только в плане.
func MergeTasks(plan models.PlanDoc, fact models.FactDoc) []TaskRow {
	key := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	planned := make(map[string]models.PlanTask, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if _, dup := planned[key(t.Name)]; !dup {
			planned[key(t.Name)] = t
		}
	}

	var rows []TaskRow
	index := make(map[string]int)
	for _, ft := range fact.Tasks {
		k := key(ft.Name)
		if i, seen := index[k]; seen {
			rows[i].Fact += ft.Fact
			continue
		}
		row := TaskRow{Name: ft.Name, Unit: ft.Unit, Fact: ft.Fact, HasFact: true, Executor: ft.Executor, Reason: ft.Reason}
		if pt, ok := planned[k]; ok {
			row.Plan = pt.Plan
			row.HasPlan = true
			if row.Unit == "" {
				row.Unit = pt.Unit
			}
			if row.Executor == "" {
				row.Executor = pt.Executor
			}
		} else if row.Reason == "" {
			row.Reason = models.OutOfPlanReason
		}
		index[k] = len(rows)
		rows = append(rows, row)
	}
	for _, pt := range plan.Tasks {
		k := key(pt.Name)
		if _, seen := index[k]; seen {
			continue
		}
		index[k] = len(rows)
		rows = append(rows, TaskRow{Name: pt.Name, Unit: pt.Unit, Plan: pt.Plan, HasPlan: true, Executor: pt.Executor})
	}
	return rows
}

// BuildContext собирает контекст шаблона. Функция чистая.
func BuildContext(in Input) Context {
	plan := normalize.NormalizePlan(in.Plan)
	fact := normalize.NormalizeFact(in.Fact)

	c := Context{
		Values:    make(map[string]string),
		Tasks:     MergeTasks(plan, fact),
		PlanTotal: decimal.NewFromFloat(plan.TotalPlan),
		FactTotal: decimal.NewFromFloat(fact.TotalFact),
	}
	c.Efficiency = Efficiency(c.PlanTotal, c.FactTotal)

	for _, r := range in.Resources {
		switch r.Kind {
		case models.ResourceEquip:
			if r.Equip != nil {
				c.Equipment = append(c.Equipment, *r.Equip)
			}
		default:
			if r.Material != nil {
				c.Materials = append(c.Materials, *r.Material)
			}
		}
	}
	for _, ts := range in.Timesheets {
		row := WorkerRow{Name: ts.WorkerLabel, Count: ts.WorkersCount, Hours: ts.Hours, Rate: ts.Rate}
		if row.Count < 1 {
			row.Count = normalize.WorkersCount(ts.WorkerLabel)
		}
		row.Sum = normalize.TimesheetTotal(decimal.NewFromFloat(ts.Hours), decimal.NewFromFloat(ts.Rate), row.Count)
		c.LaborTotal = c.LaborTotal.Add(row.Sum)
		c.Workers = append(c.Workers, row)
	}

	v := c.Values
	v["shift_id"] = fmt.Sprint(in.ShiftID)
	v["object_name"] = in.Object.Title
	v["object_code"] = in.Object.Code
	v["date"] = models.DisplayDate(in.Date)
	v["shift_type"] = models.ShiftKind(in.ShiftType).Title()
	v["foreman"] = firstNonEmpty(fact.Foreman, plan.Foreman)
	v["section"] = firstNonEmpty(fact.Section, plan.Section)
	v["reason"] = fact.Reason
	v["plan_total"] = c.PlanTotal.String()
	v["fact_total"] = c.FactTotal.String()
	v["efficiency"] = c.Efficiency.StringFixed(2)
	v["labor_total"] = c.LaborTotal.String()
	v["generated_at"] = in.Generated

	for i := 0; i < rowCount(len(c.Tasks), TaskRows); i++ {
		p := fmt.Sprintf("task%d_", i+1)
		if i >= len(c.Tasks) {
			blank(v, p, "name", "unit", "plan", "fact", "executor", "reason")
			continue
		}
		t := c.Tasks[i]
		v[p+"name"] = t.Name
		v[p+"unit"] = t.Unit
		v[p+"plan"] = numberIf(t.HasPlan, t.Plan)
		v[p+"fact"] = numberIf(t.HasFact, t.Fact)
		v[p+"executor"] = t.Executor
		v[p+"reason"] = t.Reason
	}
	for i := 0; i < rowCount(len(c.Equipment), EquipRows); i++ {
		p := fmt.Sprintf("equip%d_", i+1)
		if i >= len(c.Equipment) {
			blank(v, p, "type", "hours", "rate_type", "rate")
			continue
		}
		e := c.Equipment[i]
		v[p+"type"] = e.Type
		v[p+"hours"] = normalize.FormatNumber(e.Hours)
		v[p+"rate_type"] = e.RateKind.Title()
		v[p+"rate"] = normalize.FormatNumber(e.Rate)
	}
	for i := 0; i < rowCount(len(c.Materials), MatRows); i++ {
		p := fmt.Sprintf("mat%d_", i+1)
		if i >= len(c.Materials) {
			blank(v, p, "type", "unit", "qty", "price")
			continue
		}
		m := c.Materials[i]
		v[p+"type"] = m.Type
		v[p+"unit"] = m.Unit
		v[p+"qty"] = normalize.FormatNumber(m.Qty)
		v[p+"price"] = normalize.FormatNumber(m.Price)
	}
	for i := 0; i < rowCount(len(c.Workers), WorkerRows); i++ {
		p := fmt.Sprintf("worker%d_", i+1)
		if i >= len(c.Workers) {
			blank(v, p, "name", "count", "hours", "rate", "sum")
			continue
		}
		w := c.Workers[i]
		v[p+"name"] = w.Name
		v[p+"count"] = fmt.Sprint(w.Count)
		v[p+"hours"] = normalize.FormatNumber(w.Hours)
		v[p+"rate"] = normalize.FormatNumber(w.Rate)
		v[p+"sum"] = w.Sum.String()
	}
	for i, url := range in.Photos {
		v[fmt.Sprintf("photo%d_url", i+1)] = url
	}
	return c
}

// Efficiency = факт / план × 100, два знака; при нулевом плане - 0.
func Efficiency(plan, fact decimal.Decimal) decimal.Decimal {
	if !plan.IsPositive() {
		return decimal.Zero
	}
	return fact.Div(plan).Mul(decimal.NewFromInt(100)).Round(2)
}

// Rows возвращает число строк таблиц задач, техники, материалов и табеля в контексте.
func (c Context) Rows() (tasks, equip, mats, workers int) {
	count := func(prefix, suffix string) int {
		n := 0
		for {
			if _, ok := c.Values[fmt.Sprintf("%s%d_%s", prefix, n+1, suffix)]; !ok {
				return n
			}
			n++
		}
	}
	return count("task", "name"), count("equip", "type"), count("mat", "type"), count("worker", "name")
}

func rowCount(n, size int) int {
	if n > size {
		return n
	}
	return size
}

func blank(v map[string]string, prefix string, keys ...string) {
	for _, k := range keys {
		v[prefix+k] = ""
	}
}

func numberIf(ok bool, f float64) string {
	if !ok {
		return ""
	}
	return normalize.FormatNumber(f)
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
