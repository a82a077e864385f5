package docgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"foreman_bot/internal/api"
	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"
	"foreman_bot/internal/uploader"

	"go.uber.org/zap"
)

// CRM - чтение записей, нужных документу.
type CRM interface {
	GetItem(ctx context.Context, entityTypeID int, id int64) (api.Item, error)
	ListAllItems(ctx context.Context, p api.ListParams) ([]api.Item, error)
}

// Attacher прикрепляет файл к записи.
type Attacher interface {
	AttachFile(ctx context.Context, t uploader.Target, path string) (bool, error)
}

// Options - пути и переключатели генератора.
type Options struct {
	TemplatePath string
	OutputDir    string
	ConvertPDF   bool
}

// Generator собирает ЛПА по смене и прикрепляет файлы к ней.
type Generator struct {
	crm       CRM
	fields    *fieldmap.Resolver
	entities  fieldmap.Entities
	attacher  Attacher
	renderer  Renderer
	converter Converter
	opts      Options
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewGenerator создает генератор документов.
func NewGenerator(crm CRM, fields *fieldmap.Resolver, entities fieldmap.Entities, attacher Attacher,
	renderer Renderer, converter Converter, opts Options, m *metrics.Metrics, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		crm:       crm,
		fields:    fields,
		entities:  entities,
		attacher:  attacher,
		renderer:  renderer,
		converter: converter,
		opts:      opts,
		metrics:   m,
		log:       log.Named("docgen"),
		now:       time.Now,
	}
}

// Result - пути к сформированным файлам.
type Result struct {
	Docx     string
	PDF      string
	XLSX     string
	Context  Context
	Attached []string
}

// Generate формирует документ по смене. Уже загруженные в CRM файлы при
// ошибке на следующих шагах не откатываются.
func (g *Generator) Generate(ctx context.Context, shiftID int64, obj models.Object) (*Result, error) {
	res, err := g.generate(ctx, shiftID, obj)
	if g.metrics != nil {
		if err != nil {
			g.metrics.IncDocuments("failed")
		} else {
			g.metrics.IncDocuments("ok")
		}
	}
	if err != nil {
		g.log.Error("ошибка формирования ЛПА", zap.Int64("shift_id", shiftID), zap.Error(err))
	}
	return res, err
}

func (g *Generator) generate(ctx context.Context, shiftID int64, obj models.Object) (*Result, error) {
	in, err := g.LoadInput(ctx, shiftID, obj)
	if err != nil {
		return nil, err
	}
	c := BuildContext(in)

	if err := os.MkdirAll(g.opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога %s: %w", g.opts.OutputDir, err)
	}
	base := filepath.Join(g.opts.OutputDir, FileBase(shiftID, g.now(), obj.Title, in.Date))
	res := &Result{Docx: base + ".docx", XLSX: base + ".xlsx", Context: c}

	if err := g.renderer.Render(g.opts.TemplatePath, res.Docx, c.Values); err != nil {
		return nil, err
	}
	if err := WriteWorkbook(res.XLSX, c); err != nil {
		return nil, err
	}

	if g.opts.ConvertPDF && g.converter != nil {
		pdf, err := g.converter.Convert(ctx, res.Docx, g.opts.OutputDir)
		if err != nil {
			g.log.Warn("PDF не сформирован, продолжаем с DOCX", zap.Error(err))
		} else {
			res.PDF = pdf
		}
	}

	shiftType, err := g.entityTypeID(g.entities.Shift)
	if err != nil {
		return nil, err
	}
	attach := func(logical, path string) error {
		if path == "" || g.attacher == nil {
			return nil
		}
		field, err := g.fields.Field(g.entities.Shift, logical)
		if err != nil {
			g.log.Warn("файл не прикреплён: поле не найдено", zap.Error(err))
			return nil
		}
		if _, err := g.attacher.AttachFile(ctx, uploader.Target{EntityTypeID: shiftType, ID: shiftID, Field: field}, path); err != nil {
			return err
		}
		res.Attached = append(res.Attached, filepath.Base(path))
		return nil
	}
	if err := attach(fieldmap.ShiftDocx, res.Docx); err != nil {
		return res, err
	}
	if err := attach(fieldmap.ShiftPDF, res.PDF); err != nil {
		return res, err
	}

	g.log.Info("ЛПА сформирован", zap.Int64("shift_id", shiftID), zap.String("docx", res.Docx), zap.String("pdf", res.PDF))
	return res, nil
}

// LoadInput читает смену, ресурсы и табель из CRM.
func (g *Generator) LoadInput(ctx context.Context, shiftID int64, obj models.Object) (Input, error) {
	shiftType, err := g.entityTypeID(g.entities.Shift)
	if err != nil {
		return Input{}, err
	}
	item, err := g.crm.GetItem(ctx, shiftType, shiftID)
	if err != nil {
		return Input{}, fmt.Errorf("ошибка чтения смены %d: %w", shiftID, err)
	}

	field := func(entity, logical string) string {
		code, err := g.fields.Field(entity, logical)
		if err != nil {
			g.log.Debug("поле не найдено в карте", zap.Error(err))
			return ""
		}
		return code
	}

	in := Input{ShiftID: shiftID, Object: obj, Generated: g.now().Format("02.01.2006 15:04")}
	se := g.entities.Shift
	if f := field(se, fieldmap.ShiftDate); f != "" {
		in.Date = item.Date(f)
	}
	if f := field(se, fieldmap.ShiftType); f != "" {
		in.ShiftType = item.String(f)
	}
	var legacyFact models.FactDoc
	if f := field(se, fieldmap.ShiftPlanJSON); f != "" {
		if in.Plan, legacyFact, err = normalize.DecodePlanFact(item.String(f)); err != nil {
			return Input{}, err
		}
	}
	if f := field(se, fieldmap.ShiftFactJSON); f != "" {
		if in.Fact, err = normalize.DecodeFact(item.String(f)); err != nil {
			return Input{}, err
		}
	}
	// объёмы старого плоского плана идут в факт
	in.Fact = normalize.SupplementFact(in.Fact, legacyFact)
	if f := field(se, fieldmap.ShiftPlanTotal); f != "" && item.Float(f) > in.Plan.TotalPlan {
		in.Plan.TotalPlan = item.Float(f)
	}
	if f := field(se, fieldmap.ShiftFactTotal); f != "" && item.Float(f) > in.Fact.TotalFact {
		in.Fact.TotalFact = item.Float(f)
	}
	if f := field(se, fieldmap.ShiftPhotos); f != "" {
		in.Photos = item.FileURLs(f)
	}

	if in.Resources, err = g.loadResources(ctx, shiftID, field); err != nil {
		return Input{}, err
	}
	if in.Timesheets, err = g.loadTimesheets(ctx, shiftID, field); err != nil {
		return Input{}, err
	}
	return in, nil
}

func (g *Generator) loadResources(ctx context.Context, shiftID int64, field func(string, string) string) ([]models.Resource, error) {
	e := g.entities.Resource
	etid, err := g.entityTypeID(e)
	if err != nil {
		return nil, err
	}
	link := field(e, fieldmap.ResShiftID)
	if link == "" {
		return nil, &fieldmap.MappingError{Entity: e, Logical: fieldmap.ResShiftID}
	}
	items, err := g.crm.ListAllItems(ctx, api.ListParams{
		EntityTypeID: etid,
		Filter:       map[string]any{link: shiftID},
		Order:        map[string]string{"id": "ASC"},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ресурсов смены %d: %w", shiftID, err)
	}

	get := func(it api.Item, logical string) string {
		if f := field(e, logical); f != "" {
			return it.String(f)
		}
		return ""
	}
	num := func(it api.Item, logical string) float64 {
		if f := field(e, logical); f != "" {
			return it.Float(f)
		}
		return 0
	}

	out := make([]models.Resource, 0, len(items))
	for _, it := range items {
		var kind any
		if f := field(e, fieldmap.ResType); f != "" {
			kind = it[f]
		}
		r := models.Resource{ID: it.ID(), ShiftID: shiftID, Kind: models.ParseResourceKind(kind), Comment: get(it, fieldmap.ResComment)}
		if r.Kind == models.ResourceEquip {
			rk, _ := models.ParseRateKind(get(it, fieldmap.ResRateType))
			r.Equip = &models.Equipment{
				Type:     get(it, fieldmap.ResEquipType),
				Hours:    num(it, fieldmap.ResEquipHrs),
				RateKind: rk,
				Rate:     num(it, fieldmap.ResEquipRate),
			}
		} else {
			r.Material = &models.Material{
				Type:  get(it, fieldmap.ResMatType),
				Unit:  get(it, fieldmap.ResMatUnit),
				Qty:   num(it, fieldmap.ResMatQty),
				Price: num(it, fieldmap.ResMatPrice),
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (g *Generator) loadTimesheets(ctx context.Context, shiftID int64, field func(string, string) string) ([]models.TimesheetEntry, error) {
	e := g.entities.Timesheet
	etid, err := g.entityTypeID(e)
	if err != nil {
		return nil, err
	}
	link := field(e, fieldmap.TSShiftID)
	if link == "" {
		return nil, &fieldmap.MappingError{Entity: e, Logical: fieldmap.TSShiftID}
	}
	items, err := g.crm.ListAllItems(ctx, api.ListParams{
		EntityTypeID: etid,
		Filter:       map[string]any{link: shiftID},
		Order:        map[string]string{"id": "ASC"},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения табеля смены %d: %w", shiftID, err)
	}

	out := make([]models.TimesheetEntry, 0, len(items))
	for _, it := range items {
		ts := models.TimesheetEntry{ID: it.ID(), ShiftID: shiftID}
		if f := field(e, fieldmap.TSWorker); f != "" {
			ts.WorkerLabel = it.String(f)
		}
		if f := field(e, fieldmap.TSWorkers); f != "" {
			ts.WorkersCount = int(it.Int64(f))
		}
		if f := field(e, fieldmap.TSHours); f != "" {
			ts.Hours = it.Float(f)
		}
		if f := field(e, fieldmap.TSRate); f != "" {
			ts.Rate = it.Float(f)
		}
		if f := field(e, fieldmap.TSComment); f != "" {
			ts.Comment = it.String(f)
		}
		out = append(out, ts)
	}
	return out, nil
}

func (g *Generator) entityTypeID(entity string) (int, error) {
	etid, ok := g.fields.EntityTypeID(entity)
	if !ok {
		return 0, &fieldmap.MappingError{Entity: entity, Logical: "entityTypeId"}
	}
	return etid, nil
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// FileBase - имя файла без расширения: LPA_<смена>_<сегодня>_<объект>_<дата смены>.
func FileBase(shiftID int64, now time.Time, objectTitle, shiftDate string) string {
	title := strings.Trim(unsafeName.ReplaceAllString(objectTitle, "_"), "_")
	if title == "" {
		title = "object"
	}
	if shiftDate == "" {
		shiftDate = "nodate"
	}
	return fmt.Sprintf("LPA_%d_%s_%s_%s", shiftID, now.Format(models.DateLayout), title, shiftDate)
}
