package docgen

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// WriteWorkbook сохраняет таблицы контекста в книгу XLSX: лист на таблицу.
func WriteWorkbook(path string, c Context) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 2}},
	})
	if err != nil {
		return fmt.Errorf("ошибка создания стиля книги: %w", err)
	}

	works := &sheet{f: f, name: "Работы", style: headerStyle}
	if err := f.SetSheetName("Sheet1", works.name); err != nil {
		return err
	}
	works.header("Работа", "Ед.", "План", "Факт", "Исполнитель", "Причина")
	for i, t := range c.Tasks {
		row := i + 2
		works.set(1, row, t.Name)
		works.set(2, row, t.Unit)
		if t.HasPlan {
			works.set(3, row, t.Plan)
		}
		if t.HasFact {
			works.set(4, row, t.Fact)
		}
		works.set(5, row, t.Executor)
		works.set(6, row, t.Reason)
	}
	totalRow := len(c.Tasks) + 2
	works.set(1, totalRow, "Итого")
	works.set(3, totalRow, c.PlanTotal.InexactFloat64())
	works.set(4, totalRow, c.FactTotal.InexactFloat64())
	works.set(5, totalRow, "Эффективность, %")
	works.set(6, totalRow, c.Efficiency.InexactFloat64())
	if works.err != nil {
		return works.err
	}

	equip, err := newSheet(f, "Техника", headerStyle)
	if err != nil {
		return err
	}
	equip.header("Техника", "Часы", "Тип ставки", "Ставка")
	for i, e := range c.Equipment {
		row := i + 2
		equip.set(1, row, e.Type)
		equip.set(2, row, e.Hours)
		equip.set(3, row, e.RateKind.Title())
		equip.set(4, row, e.Rate)
	}
	if equip.err != nil {
		return equip.err
	}

	mats, err := newSheet(f, "Материалы", headerStyle)
	if err != nil {
		return err
	}
	mats.header("Материал", "Ед.", "Количество", "Цена")
	for i, m := range c.Materials {
		row := i + 2
		mats.set(1, row, m.Type)
		mats.set(2, row, m.Unit)
		mats.set(3, row, m.Qty)
		mats.set(4, row, m.Price)
	}
	if mats.err != nil {
		return mats.err
	}

	ts, err := newSheet(f, "Табель", headerStyle)
	if err != nil {
		return err
	}
	ts.header("Бригада", "Людей", "Часы", "Ставка", "Сумма")
	for i, w := range c.Workers {
		row := i + 2
		ts.set(1, row, w.Name)
		ts.set(2, row, w.Count)
		ts.set(3, row, w.Hours)
		ts.set(4, row, w.Rate)
		ts.set(5, row, w.Sum.InexactFloat64())
	}
	ts.set(4, len(c.Workers)+2, "Итого")
	ts.set(5, len(c.Workers)+2, c.LaborTotal.InexactFloat64())
	if ts.err != nil {
		return ts.err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("ошибка сохранения книги %s: %w", path, err)
	}
	return nil
}

// sheet пишет ячейки одного листа и запоминает первую ошибку.
type sheet struct {
	f     *excelize.File
	name  string
	style int
	err   error
}

func newSheet(f *excelize.File, name string, style int) (*sheet, error) {
	if _, err := f.NewSheet(name); err != nil {
		return nil, fmt.Errorf("ошибка создания листа %s: %w", name, err)
	}
	return &sheet{f: f, name: name, style: style}, nil
}

func (s *sheet) set(col, row int, v any) {
	if s.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err == nil {
		err = s.f.SetCellValue(s.name, cell, v)
	}
	if err != nil {
		s.err = fmt.Errorf("ошибка записи ячейки %s!%d:%d: %w", s.name, col, row, err)
	}
}

func (s *sheet) header(names ...string) {
	for i, name := range names {
		s.set(i+1, 1, name)
	}
	if s.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(names), 1)
	if err == nil {
		err = s.f.SetCellStyle(s.name, "A1", last, s.style)
	}
	if err != nil {
		s.err = fmt.Errorf("ошибка оформления листа %s: %w", s.name, err)
	}
}
