package normalize

import (
	"encoding/json"
	"errors"
	"testing"

	"foreman_bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKV(t *testing.T) {
	pairs, err := ParseKV(" Земляные = 120, подушка=80,5 , щебень=20")
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{Key: "земляные", Value: 120},
		{Key: "подушка", Value: 80.5},
		{Key: "щебень", Value: 20},
	}, pairs)
}

func TestParseKVRejectsBadInput(t *testing.T) {
	cases := []string{"", "земляные", "=5", "земляные=много"}
	for _, in := range cases {
		_, err := ParseKV(in)
		var ue *UserInputError
		assert.True(t, errors.As(err, &ue), "ввод %q", in)
	}
}

func TestParseVolumesRejectsNonPositive(t *testing.T) {
	pairs, err := ParseVolumes("земляные=120, подушка=80,5")
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Key: "земляные", Value: 120}, {Key: "подушка", Value: 80.5}}, pairs)

	for _, in := range []string{"земляные=-5", "земляные=120, подушка=0", "щебень=-0,5"} {
		_, err := ParseVolumes(in)
		var ue *UserInputError
		require.True(t, errors.As(err, &ue), "ввод %q", in)
		assert.Contains(t, ue.Message, "больше нуля", in)
	}

	_, err = ParseKV("земляные=-5")
	assert.NoError(t, err)
}

func TestParseKVSerializeRoundTrip(t *testing.T) {
	maps := []map[string]float64{
		{"земляные": 120, "подушка": 80, "щебень": 20},
		{"a": 0.25, "b c": 1e6, "d": -3},
		{"x": 1},
	}
	for _, m := range maps {
		got, err := ParseKVMap(SerializeKV(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestParseNumberAndPositive(t *testing.T) {
	v, err := ParseNumber("2,5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	_, err = ParseNumber("abc")
	assert.Error(t, err)

	_, err = ParsePositive("0")
	assert.Error(t, err)
	_, err = ParsePositive("-1")
	assert.Error(t, err)

	d, err := ParseDecimal("2500,50")
	require.NoError(t, err)
	assert.Equal(t, "2500.5", d.String())
}

func TestBuildPlanTotals(t *testing.T) {
	pairs, err := ParseKV("земляные=120, подушка=80, щебень=20")
	require.NoError(t, err)

	doc := BuildPlan(pairs, Header{Date: "2026-10-15", ShiftType: "day", Object: &models.Object{ID: 42, Title: "Квартал 7"}})
	require.Len(t, doc.Tasks, 3)
	assert.Equal(t, 220.0, doc.TotalPlan)
	assert.Equal(t, models.DefaultUnit, doc.Tasks[0].Unit)
	assert.Equal(t, models.DefaultExecutor, doc.Tasks[0].Executor)
	require.NotNil(t, doc.Meta)
	assert.Equal(t, int64(42), doc.Meta.ObjectBitrixID)
}

func TestNormalizePlanIdempotent(t *testing.T) {
	docs := []models.PlanDoc{
		{Tasks: []models.PlanTask{{Name: " a ", Plan: 1.1}, {Name: "", Plan: 5}, {Name: "b", Plan: 2.2}}},
		{Tasks: []models.PlanTask{{Name: "a", Plan: 10}}, TotalPlan: 50},
		{},
	}
	for _, d := range docs {
		once := NormalizePlan(d)
		twice := NormalizePlan(once)
		assert.Equal(t, once, twice)

		var sum float64
		for _, task := range once.Tasks {
			sum += task.Plan
			assert.NotEmpty(t, task.Name)
		}
		assert.GreaterOrEqual(t, once.TotalPlan+1e-9, sum)
	}
	assert.Equal(t, 50.0, NormalizePlan(docs[1]).TotalPlan)
}

func TestBuildFactTakesUnitsAndReasonFromPlan(t *testing.T) {
	plan := &models.PlanDoc{Tasks: []models.PlanTask{
		{Name: "земляные", Unit: "м3", Plan: 120, Executor: "Бригада 1"},
		{Name: "подушка", Unit: "м2", Plan: 80},
	}}
	pairs := []Pair{{Key: "земляные", Value: 100}, {Key: "подушка", Value: 80}, {Key: "кладка", Value: 5}}

	doc := BuildFact(pairs, Header{}, plan, "дождь")
	require.Len(t, doc.Tasks, 3)
	assert.Equal(t, "м3", doc.Tasks[0].Unit)
	assert.Equal(t, "Бригада 1", doc.Tasks[0].Executor)
	assert.Equal(t, "дождь", doc.Tasks[0].Reason)
	assert.Empty(t, doc.Tasks[1].Reason)
	assert.Empty(t, doc.Tasks[2].Reason)
	assert.Equal(t, 185.0, doc.TotalFact)
	assert.Equal(t, "дождь", doc.Reason)
}

func TestDecodePlanCanonicalAndLegacy(t *testing.T) {
	canonical, err := json.Marshal(models.PlanDoc{Tasks: []models.PlanTask{{Name: "a", Plan: 3}}})
	require.NoError(t, err)
	doc, err := DecodePlan(string(canonical))
	require.NoError(t, err)
	assert.Equal(t, 3.0, doc.TotalPlan)

	doc, err = DecodePlan(`{"земляные": 120, "подушка": "80,5", "date": "2026-10-15", "пусто": ""}`)
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 2)
	assert.Equal(t, "2026-10-15", doc.Date)
	for _, task := range doc.Tasks {
		assert.Equal(t, 0.0, task.Plan)
		assert.Equal(t, models.DefaultUnit, task.Unit)
	}

	plan, legacy, err := DecodePlanFact(`{"земляные": 120, "подушка": "80,5", "foreman": "Сидоров"}`)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, 0.0, plan.TotalPlan)
	require.Len(t, legacy.Tasks, 2)
	assert.Equal(t, "земляные", legacy.Tasks[0].Name)
	assert.Equal(t, 120.0, legacy.Tasks[0].Fact)
	assert.Equal(t, 80.5, legacy.Tasks[1].Fact)
	assert.Equal(t, models.DefaultExecutor, legacy.Tasks[1].Executor)
	assert.Equal(t, 200.5, legacy.TotalFact)
	assert.Equal(t, "Сидоров", legacy.Foreman)

	_, none, err := DecodePlanFact(string(canonical))
	require.NoError(t, err)
	assert.Empty(t, none.Tasks)

	fact, err := DecodeFact(`{"земляные": 120, "подушка": "80,5", "shift_type": "night"}`)
	require.NoError(t, err)
	require.Len(t, fact.Tasks, 2)
	assert.Equal(t, 200.5, fact.TotalFact)
	assert.Equal(t, "night", fact.ShiftType)

	empty, err := DecodePlan("")
	require.NoError(t, err)
	assert.Empty(t, empty.Tasks)

	_, err = DecodePlan("{")
	assert.Error(t, err)
}

func TestSupplementFactKeepsOwnTasks(t *testing.T) {
	legacy := models.FactDoc{Tasks: []models.FactTask{
		{Name: "земляные", Fact: 120},
		{Name: "подушка", Fact: 80.5},
	}}

	onlyLegacy := SupplementFact(models.FactDoc{Reason: "дождь"}, legacy)
	require.Len(t, onlyLegacy.Tasks, 2)
	assert.Equal(t, 200.5, onlyLegacy.TotalFact)
	assert.Equal(t, "дождь", onlyLegacy.Reason)

	own := models.FactDoc{Tasks: []models.FactTask{{Name: "Земляные", Fact: 100}}}
	merged := SupplementFact(own, legacy)
	require.Len(t, merged.Tasks, 2)
	assert.Equal(t, 100.0, merged.Tasks[0].Fact)
	assert.Equal(t, "подушка", merged.Tasks[1].Name)
	assert.Equal(t, 180.5, merged.TotalFact)

	assert.Equal(t, own, SupplementFact(own, models.FactDoc{}))
}

func TestWorkersCount(t *testing.T) {
	cases := map[string]int{
		"бригада 2 (5 человек)": 5,
		"(5)":                   5,
		"5 чел":                 5,
		"Бригада (12 ЧЕЛ.)":     12,
		"бригада":               1,
		"":                      1,
	}
	for label, want := range cases {
		assert.Equal(t, want, WorkersCount(label), label)
	}
}

func TestTimesheetTotalExact(t *testing.T) {
	hours := decimal.RequireFromString("10")
	rate := decimal.RequireFromString("500")
	assert.True(t, TimesheetTotal(hours, rate, 5).Equal(decimal.NewFromInt(25000)))

	hours = decimal.RequireFromString("7.5")
	rate = decimal.RequireFromString("333.33")
	assert.Equal(t, "4999.95", TimesheetTotal(hours, rate, 2).String())
}
