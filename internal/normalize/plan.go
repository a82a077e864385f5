package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"foreman_bot/internal/models"

	"github.com/shopspring/decimal"
)

// Header - шапка документа плана или факта.
type Header struct {
	Date      string
	Section   string
	Foreman   string
	ShiftType string
	Object    *models.Object
}

func (h Header) meta() *models.DocMeta {
	if h.Object == nil {
		return nil
	}
	return &models.DocMeta{ObjectBitrixID: h.Object.ID, ObjectName: h.Object.Title}
}

// BuildPlan собирает план из пар ввода. Единица и исполнитель по умолчанию.
func BuildPlan(pairs []Pair, h Header) models.PlanDoc {
	doc := models.PlanDoc{
		Date:      h.Date,
		Section:   h.Section,
		Foreman:   h.Foreman,
		ShiftType: h.ShiftType,
		Meta:      h.meta(),
	}
	for _, p := range pairs {
		doc.Tasks = append(doc.Tasks, models.PlanTask{
			Name:     p.Key,
			Unit:     models.DefaultUnit,
			Plan:     p.Value,
			Executor: models.DefaultExecutor,
		})
	}
	return NormalizePlan(doc)
}

// BuildFact собирает факт. Единица и исполнитель берутся из плана, если
// работа в нём есть; причина простоя ставится на работы, недовыполненные
// относительно плана.
func BuildFact(pairs []Pair, h Header, plan *models.PlanDoc, reason string) models.FactDoc {
	planned := make(map[string]models.PlanTask)
	if plan != nil {
		for _, t := range plan.Tasks {
			planned[strings.ToLower(t.Name)] = t
		}
	}
	reason = strings.TrimSpace(reason)

	doc := models.FactDoc{
		Reason:    reason,
		Date:      h.Date,
		Section:   h.Section,
		Foreman:   h.Foreman,
		ShiftType: h.ShiftType,
		Meta:      h.meta(),
	}
	for _, p := range pairs {
		t := models.FactTask{
			Name:     p.Key,
			Unit:     models.DefaultUnit,
			Fact:     p.Value,
			Executor: models.DefaultExecutor,
		}
		if pt, ok := planned[p.Key]; ok {
			if pt.Unit != "" {
				t.Unit = pt.Unit
			}
			if pt.Executor != "" {
				t.Executor = pt.Executor
			}
			if reason != "" && p.Value < pt.Plan {
				t.Reason = reason
			}
		}
		doc.Tasks = append(doc.Tasks, t)
	}
	return NormalizeFact(doc)
}

// NormalizePlan обрезает имена, отбрасывает пустые и пересчитывает итог:
// total_plan = max(Σ plan, указанный итог). Повторный вызов ничего не меняет.
func NormalizePlan(doc models.PlanDoc) models.PlanDoc {
	tasks := make([]models.PlanTask, 0, len(doc.Tasks))
	sum := decimal.Zero
	for _, t := range doc.Tasks {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			continue
		}
		t.Unit = strings.TrimSpace(t.Unit)
		t.Executor = strings.TrimSpace(t.Executor)
		sum = sum.Add(decimal.NewFromFloat(t.Plan))
		tasks = append(tasks, t)
	}
	doc.Tasks = tasks
	total, _ := sum.Float64()
	if doc.TotalPlan < total {
		doc.TotalPlan = total
	}
	return doc
}

// NormalizeFact - то же для факта.
func NormalizeFact(doc models.FactDoc) models.FactDoc {
	tasks := make([]models.FactTask, 0, len(doc.Tasks))
	sum := decimal.Zero
	for _, t := range doc.Tasks {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			continue
		}
		t.Unit = strings.TrimSpace(t.Unit)
		t.Executor = strings.TrimSpace(t.Executor)
		t.Reason = strings.TrimSpace(t.Reason)
		sum = sum.Add(decimal.NewFromFloat(t.Fact))
		tasks = append(tasks, t)
	}
	doc.Tasks = tasks
	total, _ := sum.Float64()
	if doc.TotalFact < total {
		doc.TotalFact = total
	}
	return doc
}

// служебные ключи старого плоского формата, которые не являются работами
var reservedKeys = map[string]bool{
	"tasks": true, "total_plan": true, "total_fact": true, "date": true,
	"section": true, "foreman": true, "shift_type": true, "meta": true,
	"reason": true, "object_bitrix_id": true, "object_name": true,
}

// DecodePlan разбирает JSON плана из CRM. Понимает канонический вид
// и старый плоский {работа: объём}. Пустая строка - пустой план.
func DecodePlan(raw string) (models.PlanDoc, error) {
	plan, _, err := DecodePlanFact(raw)
	return plan, err
}

// DecodePlanFact - то же, что DecodePlan, но для старого плоского вида
// возвращает и факт: объёмы из словаря считаются выполненными, план по
// таким работам нулевой. Для канонического вида факт пустой.
func DecodePlanFact(raw string) (models.PlanDoc, models.FactDoc, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.PlanDoc{}, models.FactDoc{}, nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return models.PlanDoc{}, models.FactDoc{}, fmt.Errorf("ошибка разбора JSON плана: %w", err)
	}
	if _, ok := top["tasks"]; ok {
		var doc models.PlanDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return models.PlanDoc{}, models.FactDoc{}, fmt.Errorf("ошибка разбора JSON плана: %w", err)
		}
		return NormalizePlan(doc), models.FactDoc{}, nil
	}

	var plan models.PlanDoc
	var fact models.FactDoc
	h := legacyHeader(top)
	plan.Date, plan.Section, plan.Foreman, plan.ShiftType = h.Date, h.Section, h.Foreman, h.ShiftType
	fact.Date, fact.Section, fact.Foreman, fact.ShiftType = h.Date, h.Section, h.Foreman, h.ShiftType
	for _, l := range legacyTasks(top) {
		plan.Tasks = append(plan.Tasks, models.PlanTask{
			Name:     l.name,
			Unit:     models.DefaultUnit,
			Plan:     0,
			Executor: models.DefaultExecutor,
		})
		fact.Tasks = append(fact.Tasks, models.FactTask{
			Name:     l.name,
			Unit:     models.DefaultUnit,
			Fact:     l.qty,
			Executor: models.DefaultExecutor,
		})
	}
	return NormalizePlan(plan), NormalizeFact(fact), nil
}

// SupplementFact дополняет факт работами из extra, которых в нём нет.
// Работы самого факта не меняются, итог пересчитывается.
func SupplementFact(fact, extra models.FactDoc) models.FactDoc {
	if len(extra.Tasks) == 0 {
		return fact
	}
	if len(fact.Tasks) == 0 && fact.TotalFact == 0 {
		extra.Reason = firstNonEmpty(fact.Reason, extra.Reason)
		return NormalizeFact(extra)
	}
	seen := make(map[string]bool, len(fact.Tasks))
	for _, t := range fact.Tasks {
		seen[strings.ToLower(strings.TrimSpace(t.Name))] = true
	}
	for _, t := range extra.Tasks {
		if !seen[strings.ToLower(strings.TrimSpace(t.Name))] {
			fact.Tasks = append(fact.Tasks, t)
		}
	}
	return NormalizeFact(fact)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// DecodeFact разбирает JSON факта из CRM, в том числе старый плоский вид.
func DecodeFact(raw string) (models.FactDoc, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.FactDoc{}, nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return models.FactDoc{}, fmt.Errorf("ошибка разбора JSON факта: %w", err)
	}
	if _, ok := top["tasks"]; ok {
		var doc models.FactDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return models.FactDoc{}, fmt.Errorf("ошибка разбора JSON факта: %w", err)
		}
		return NormalizeFact(doc), nil
	}

	var doc models.FactDoc
	h := legacyHeader(top)
	doc.Date, doc.Section, doc.Foreman, doc.ShiftType = h.Date, h.Section, h.Foreman, h.ShiftType
	for _, l := range legacyTasks(top) {
		doc.Tasks = append(doc.Tasks, models.FactTask{
			Name:     l.name,
			Unit:     models.DefaultUnit,
			Fact:     l.qty,
			Executor: models.DefaultExecutor,
		})
	}
	return NormalizeFact(doc), nil
}

type legacyTask struct {
	name string
	qty  float64
}

// legacyTasks достаёт работы из плоского словаря в порядке ключей,
// так как порядок JSON-объекта при разборе в map не сохраняется.
func legacyTasks(m map[string]json.RawMessage) []legacyTask {
	var out []legacyTask
	for _, k := range sortedKeys(m) {
		if reservedKeys[strings.ToLower(k)] {
			continue
		}
		qty, ok := legacyNumber(m[k])
		if !ok {
			continue
		}
		out = append(out, legacyTask{name: k, qty: qty})
	}
	return out
}

func legacyNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func legacyHeader(m map[string]json.RawMessage) Header {
	str := func(k string) string {
		var s string
		_ = json.Unmarshal(m[k], &s)
		return s
	}
	return Header{
		Date:      str("date"),
		Section:   str("section"),
		Foreman:   str("foreman"),
		ShiftType: str("shift_type"),
	}
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
