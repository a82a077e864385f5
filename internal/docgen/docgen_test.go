package docgen

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"foreman_bot/internal/crmtest"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"
	"foreman_bot/internal/uploader"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleInput() Input {
	return Input{
		ShiftID:   501,
		Object:    models.Object{ID: 42, Title: "Квартал 7"},
		Date:      "2026-10-15",
		ShiftType: "day",
		Plan: models.PlanDoc{Tasks: []models.PlanTask{
			{Name: "земляные", Unit: "м3", Plan: 120, Executor: "Бригада"},
			{Name: "подушка", Unit: "м2", Plan: 80, Executor: "Бригада"},
			{Name: "щебень", Unit: "т", Plan: 20, Executor: "Бригада"},
		}},
		Fact: models.FactDoc{Tasks: []models.FactTask{
			{Name: "земляные", Fact: 100, Executor: "Бригада"},
			{Name: "кладка", Unit: "м3", Fact: 5},
		}},
		Resources: []models.Resource{
			{Kind: models.ResourceEquip, Equip: &models.Equipment{Type: "Экскаватор JCB", Hours: 8, RateKind: models.RateHour, Rate: 2500}},
			{Kind: models.ResourceEquip, Equip: &models.Equipment{Type: "Каток", Hours: 4, RateKind: models.RateShift, Rate: 9000}},
			{Kind: models.ResourceMaterial, Material: &models.Material{Type: "Щебень", Unit: "т", Qty: 20, Price: 1500}},
			{Kind: models.ResourceMaterial, Material: &models.Material{Type: "Песок", Unit: "т", Qty: 10, Price: 700}},
			{Kind: models.ResourceMaterial, Material: &models.Material{Type: "Бетон", Unit: "м3", Qty: 3, Price: 5200}},
		},
		Timesheets: []models.TimesheetEntry{
			{WorkerLabel: "бригада 2 (5 человек)", WorkersCount: 5, Hours: 10, Rate: 500},
			{WorkerLabel: "Иванов", WorkersCount: 1, Hours: 8, Rate: 400},
			{WorkerLabel: "(3)", Hours: 8, Rate: 300},
			{WorkerLabel: "Петров", WorkersCount: 1, Hours: 4, Rate: 450},
		},
	}
}

func TestBuildContextPadsTables(t *testing.T) {
	c := BuildContext(sampleInput())

	tasks, equip, mats, workers := c.Rows()
	assert.Equal(t, 10, tasks)
	assert.Equal(t, 7, equip)
	assert.Equal(t, 7, mats)
	assert.Equal(t, 7, workers)

	assert.Len(t, c.Tasks, 4)
	assert.Equal(t, "", c.Values["task5_name"])
	assert.Equal(t, "", c.Values["equip3_type"])
	assert.Equal(t, "Экскаватор JCB", c.Values["equip1_type"])
	assert.Equal(t, "за час", c.Values["equip1_rate_type"])
	assert.Equal(t, "Бетон", c.Values["mat3_type"])
	assert.Equal(t, "25000", c.Values["worker1_sum"])
	assert.Equal(t, "3", c.Values["worker3_count"])

	// 105 / 220 × 100 = 47.727… → 47.73
	want := decimal.NewFromInt(105).Div(decimal.NewFromInt(220)).Mul(decimal.NewFromInt(100)).Round(2)
	assert.True(t, want.Equal(c.Efficiency))
	assert.Equal(t, "47.73", c.Values["efficiency"])
	assert.Equal(t, "220", c.Values["plan_total"])
	assert.Equal(t, "105", c.Values["fact_total"])
	assert.Equal(t, "15.10.2026", c.Values["date"])
}

func TestMergeTasksOrderUnitsAndReason(t *testing.T) {
	in := sampleInput()
	rows := MergeTasks(in.Plan, in.Fact)
	require.Len(t, rows, 4)

	names := []string{rows[0].Name, rows[1].Name, rows[2].Name, rows[3].Name}
	assert.Equal(t, []string{"земляные", "кладка", "подушка", "щебень"}, names)

	assert.Equal(t, "м3", rows[0].Unit, "единица плана, если факт её не указал")
	assert.Empty(t, rows[0].Reason)
	assert.Equal(t, models.OutOfPlanReason, rows[1].Reason)
	assert.Empty(t, rows[2].Reason)

	noUnits := MergeTasks(
		models.PlanDoc{Tasks: []models.PlanTask{{Name: "a", Plan: 1}}},
		models.FactDoc{Tasks: []models.FactTask{{Name: "a", Fact: 1}, {Name: "b", Fact: 2, Reason: "своя"}}},
	)
	assert.Empty(t, noUnits[0].Unit)
	assert.Equal(t, "своя", noUnits[1].Reason)
}

func TestBuildContextNeverTruncates(t *testing.T) {
	in := Input{}
	for i := 0; i < 12; i++ {
		in.Plan.Tasks = append(in.Plan.Tasks, models.PlanTask{Name: strings.Repeat("x", i+1), Plan: 1})
	}
	tasks, _, _, _ := BuildContext(in).Rows()
	assert.Equal(t, 12, tasks)
}

func TestEfficiencyZeroPlan(t *testing.T) {
	assert.True(t, Efficiency(decimal.Zero, decimal.NewFromInt(5)).IsZero())
}

func TestFileBase(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "LPA_501_2026-10-15_Квартал_7_2026-10-14", FileBase(501, now, "Квартал 7", "2026-10-14"))
	assert.Equal(t, "LPA_1_2026-10-15_object_nodate", FileBase(1, now, "//", ""))
}

type fileRenderer struct{ values map[string]string }

func (r *fileRenderer) Render(_, out string, values map[string]string) error {
	r.values = values
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return os.WriteFile(out, []byte(strings.Join(keys, "\n")), 0644)
}

type fileConverter struct{ err error }

func (c fileConverter) Convert(_ context.Context, docx, dir string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	pdf := filepath.Join(dir, strings.TrimSuffix(filepath.Base(docx), ".docx")+".pdf")
	return pdf, os.WriteFile(pdf, []byte("pdf"), 0644)
}

func seedShift(t *testing.T, crm *crmtest.Fake) int64 {
	t.Helper()
	in := sampleInput()
	plan, err := json.Marshal(in.Plan)
	require.NoError(t, err)
	fact, err := json.Marshal(in.Fact)
	require.NoError(t, err)

	shiftID := crm.Seed(crmtest.ShiftType, map[string]any{
		"title": "Квартал 7 — 2026-10-15", "ufCrm5UfObjectLink": []string{"D_42"},
		"ufCrm5UfDate": "2026-10-15", "ufCrm5UfShiftType": "night",
		"ufCrm5UfPlanJson": string(plan), "ufCrm5UfFactJson": string(fact),
	})
	crm.Seed(crmtest.ResourceType, map[string]any{
		"ufCrm9UfShiftId": shiftID, "ufCrm9UfResourceType": "TECH",
		"ufCrm9UfEquipType": "Экскаватор JCB", "ufCrm9UfEquipHours": 8, "ufCrm9UfEquipRateType": "HOUR", "ufCrm9UfEquipRate": 2500,
	})
	crm.Seed(crmtest.ResourceType, map[string]any{
		"ufCrm9UfShiftId": shiftID, "ufCrm9UfResourceType": "MAT",
		"ufCrm9UfMatType": "Щебень", "ufCrm9UfMatQty": "20", "ufCrm9UfMatUnit": "т", "ufCrm9UfMatPrice": 1500,
	})
	crm.Seed(crmtest.ResourceType, map[string]any{"ufCrm9UfShiftId": shiftID + 1000, "ufCrm9UfResourceType": "MAT"})
	crm.Seed(crmtest.TimesheetType, map[string]any{
		"ufCrm11UfShiftId": shiftID, "ufCrm11UfWorker": "бригада 2 (5 человек)",
		"ufCrm11UfWorkersCount": 5, "ufCrm11UfHours": 10, "ufCrm11UfRate": 500,
	})
	return shiftID
}

func TestGenerateRendersAndAttaches(t *testing.T) {
	crm := crmtest.New()
	shiftID := seedShift(t, crm)
	dir := t.TempDir()
	r := &fileRenderer{}
	m := metrics.NewMetrics()

	g := NewGenerator(crm, crmtest.Resolver(), crmtest.Entities, uploader.New(crm, nil, 0, nil, nil),
		r, fileConverter{}, Options{TemplatePath: "tpl.docx", OutputDir: dir, ConvertPDF: true}, m, nil)
	g.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }

	res, err := g.Generate(context.Background(), shiftID, models.Object{ID: 42, Title: "Квартал 7"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "LPA_"+strconv.FormatInt(shiftID, 10)+"_2026-10-16_Квартал_7_2026-10-15.docx"), res.Docx)
	assert.FileExists(t, res.Docx)
	assert.FileExists(t, res.PDF)
	assert.FileExists(t, res.XLSX)
	assert.Len(t, res.Attached, 2)

	assert.Equal(t, "Экскаватор JCB", r.values["equip1_type"])
	assert.Equal(t, "Щебень", r.values["mat1_type"])
	assert.Equal(t, "", r.values["mat2_type"])
	assert.Equal(t, "25000", r.values["worker1_sum"])
	assert.Equal(t, "ночная", r.values["shift_type"])

	shift := crm.Items(crmtest.ShiftType)[0]
	assert.True(t, shift.HasFile("ufCrm5UfLpaDocx"))
	assert.True(t, shift.HasFile("ufCrm5UfLpaPdf"))
	assert.Equal(t, 1.0, m.GetStats()["foreman_documents_total"])

	wb, err := excelize.OpenFile(res.XLSX)
	require.NoError(t, err)
	defer wb.Close()
	name, err := wb.GetCellValue("Работы", "A2")
	require.NoError(t, err)
	assert.Equal(t, "земляные", name)
}

func TestGenerateContinuesWithoutPDF(t *testing.T) {
	crm := crmtest.New()
	shiftID := seedShift(t, crm)

	g := NewGenerator(crm, crmtest.Resolver(), crmtest.Entities, uploader.New(crm, nil, 0, nil, nil),
		&fileRenderer{}, fileConverter{err: errors.New("soffice missing")},
		Options{OutputDir: t.TempDir(), ConvertPDF: true}, nil, nil)

	res, err := g.Generate(context.Background(), shiftID, models.Object{ID: 42, Title: "Квартал 7"})
	require.NoError(t, err)
	assert.Empty(t, res.PDF)
	assert.Len(t, res.Attached, 1)
}

func TestLoadInputLegacyPlanBecomesFact(t *testing.T) {
	crm := crmtest.New()
	shiftID := crm.Seed(crmtest.ShiftType, map[string]any{
		"title": "Квартал 7 — 2026-10-15", "ufCrm5UfDate": "2026-10-15", "ufCrm5UfShiftType": "day",
		"ufCrm5UfPlanJson": `{"земляные": 120, "подушка": "80,5", "date": "2026-10-15"}`,
	})

	g := NewGenerator(crm, crmtest.Resolver(), crmtest.Entities, nil, &fileRenderer{}, nil,
		Options{OutputDir: t.TempDir()}, nil, nil)
	in, err := g.LoadInput(context.Background(), shiftID, models.Object{ID: 42, Title: "Квартал 7"})
	require.NoError(t, err)

	c := BuildContext(in)
	assert.Equal(t, "земляные", c.Values["task1_name"])
	assert.Equal(t, "120", c.Values["task1_fact"])
	assert.Equal(t, "0", c.Values["task1_plan"])
	assert.Equal(t, "80.5", c.Values["task2_fact"])
	assert.Equal(t, "200.5", c.Values["fact_total"])
	assert.Equal(t, "0.00", c.Values["efficiency"])
}

func TestLoadInputLegacyPlanSupplementsFact(t *testing.T) {
	crm := crmtest.New()
	fact, err := json.Marshal(models.FactDoc{Tasks: []models.FactTask{{Name: "земляные", Fact: 100}}})
	require.NoError(t, err)
	shiftID := crm.Seed(crmtest.ShiftType, map[string]any{
		"ufCrm5UfPlanJson": `{"земляные": 120, "подушка": 80}`,
		"ufCrm5UfFactJson": string(fact),
	})

	g := NewGenerator(crm, crmtest.Resolver(), crmtest.Entities, nil, &fileRenderer{}, nil,
		Options{OutputDir: t.TempDir()}, nil, nil)
	in, err := g.LoadInput(context.Background(), shiftID, models.Object{ID: 42})
	require.NoError(t, err)

	c := BuildContext(in)
	assert.Equal(t, "100", c.Values["task1_fact"])
	assert.Equal(t, "подушка", c.Values["task2_name"])
	assert.Equal(t, "80", c.Values["task2_fact"])
	assert.Equal(t, "180", c.Values["fact_total"])
}

func TestWriteWorkbookReportsErrors(t *testing.T) {
	c := BuildContext(sampleInput())
	path := filepath.Join(t.TempDir(), "lpa.xlsx")
	require.NoError(t, WriteWorkbook(path, c))

	wb, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer wb.Close()
	total, err := wb.GetCellValue("Табель", "E6")
	require.NoError(t, err)
	assert.Equal(t, c.LaborTotal.String(), total)

	err = WriteWorkbook(filepath.Join(t.TempDir(), "missing", "lpa.xlsx"), c)
	assert.Error(t, err)
}

func TestSheetKeepsFirstError(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	s := &sheet{f: f, name: "Sheet1"}

	s.set(0, 1, "нет такой колонки")
	require.Error(t, s.err)
	first := s.err

	s.set(1, 1, "пропущено")
	assert.Same(t, first, s.err)
	v, err := f.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	assert.Empty(t, v)

	missing := &sheet{f: f, name: "Нет листа"}
	missing.header("A")
	assert.Error(t, missing.err)
}

func TestGenerateMissingShift(t *testing.T) {
	crm := crmtest.New()
	g := NewGenerator(crm, crmtest.Resolver(), crmtest.Entities, nil, &fileRenderer{}, nil,
		Options{OutputDir: t.TempDir()}, nil, nil)
	_, err := g.Generate(context.Background(), 12345, models.Object{ID: 1})
	assert.Error(t, err)
}

func TestSofficeConverterMissingBinary(t *testing.T) {
	c := SofficeConverter{Binary: filepath.Join(t.TempDir(), "no-such-soffice"), Timeout: time.Second}
	_, err := c.Convert(context.Background(), "x.docx", t.TempDir())
	assert.Error(t, err)
}
