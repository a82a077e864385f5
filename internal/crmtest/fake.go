// Package crmtest содержит CRM в памяти для тестов пакетов, работающих
// со смарт-процессами.
package crmtest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"foreman_bot/internal/api"
	"foreman_bot/internal/fieldmap"
)

// Идентификаторы смарт-процессов тестовой карты полей.
const (
	ObjectType    = 1030
	ShiftType     = 1040
	ResourceType  = 1044
	TimesheetType = 1048
)

// Entities - названия сущностей тестовой карты.
var Entities = fieldmap.Entities{
	Object:    "Объекты",
	Shift:     "Смены",
	Resource:  "Ресурсы",
	Timesheet: "Табель",
}

// FieldMap возвращает карту полей, в которой есть все логические коды.
func FieldMap() fieldmap.File {
	build := func(etid, n int, title string, codes ...string) fieldmap.EntityInfo {
		info := fieldmap.EntityInfo{
			EntityTypeID: etid,
			Title:        title,
			UserFields:   make(map[string]fieldmap.UserField),
			StdFields:    []string{"id", "title", "createdTime", "assignedById"},
		}
		for _, c := range codes {
			info.UserFields[fmt.Sprintf("UF_CRM_%d_%s", n, c)] = fieldmap.UserField{Label: c, Type: "string"}
		}
		return info
	}
	return fieldmap.File{
		Entities.Object: build(ObjectType, 3, Entities.Object, fieldmap.ObjectCode),
		Entities.Shift: build(ShiftType, 5, Entities.Shift,
			fieldmap.ShiftObjectLink, fieldmap.ShiftDate, fieldmap.ShiftType, fieldmap.ShiftPlanJSON,
			fieldmap.ShiftPlanTotal, fieldmap.ShiftFactJSON, fieldmap.ShiftFactTotal, fieldmap.ShiftStatus,
			fieldmap.ShiftPhotos, fieldmap.ShiftDocx, fieldmap.ShiftPDF),
		Entities.Resource: build(ResourceType, 9, Entities.Resource,
			fieldmap.ResShiftID, fieldmap.ResType, fieldmap.ResEquipType, fieldmap.ResEquipHrs,
			fieldmap.ResRateType, fieldmap.ResEquipRate, fieldmap.ResMatType, fieldmap.ResMatQty,
			fieldmap.ResMatUnit, fieldmap.ResMatPrice, fieldmap.ResComment, fieldmap.ResPhotos),
		Entities.Timesheet: build(TimesheetType, 11, Entities.Timesheet,
			fieldmap.TSShiftID, fieldmap.TSWorker, fieldmap.TSWorkers, fieldmap.TSHours,
			fieldmap.TSRate, fieldmap.TSSum, fieldmap.TSComment, fieldmap.TSPhotos),
	}
}

// Resolver - резолвер поверх FieldMap.
func Resolver() *fieldmap.Resolver {
	return fieldmap.New(FieldMap())
}

// Call - запись о вызове изменяющего метода.
type Call struct {
	Method       string
	EntityTypeID int
	ID           int64
	Fields       map[string]any
}

// Upload - файл, пришедший в поле записи.
type Upload struct {
	EntityTypeID int
	ID           int64
	Field        string
	Name         string
	Data         []byte
}

// Fake хранит записи смарт-процессов в памяти и повторяет поведение
// crm.item.* в объёме, нужном боту.
type Fake struct {
	mu      sync.Mutex
	nextID  int64
	clock   time.Time
	items   map[int]map[int64]api.Item
	Calls   []Call
	Uploads []Upload

	// Err, если задан, возвращается всеми методами.
	Err error
	// DropFiles имитирует задержку индексации: загрузка проходит, ссылки нет.
	DropFiles bool
}

// New создает пустую CRM.
func New() *Fake {
	return &Fake{
		nextID: 100,
		clock:  time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC),
		items:  make(map[int]map[int64]api.Item),
	}
}

// Seed добавляет запись в обход журнала вызовов.
func (f *Fake) Seed(entityTypeID int, fields map[string]any) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(entityTypeID, fields)
}

func (f *Fake) insert(entityTypeID int, fields map[string]any) int64 {
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	item := wire(fields)
	if v, ok := item["id"]; ok {
		id := api.Item{"id": v}.ID()
		if id > 0 {
			f.nextID = id
		}
	}
	item["id"] = float64(f.nextID)
	if _, ok := item["createdTime"]; !ok {
		item["createdTime"] = f.clock.Format(time.RFC3339)
	}
	if f.items[entityTypeID] == nil {
		f.items[entityTypeID] = make(map[int64]api.Item)
	}
	f.items[entityTypeID][f.nextID] = item
	return f.nextID
}

// Items возвращает копии всех записей сущности в порядке создания.
func (f *Fake) Items(entityTypeID int) []api.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(entityTypeID)
}

func (f *Fake) sorted(entityTypeID int) []api.Item {
	var out []api.Item
	for _, it := range f.items[entityTypeID] {
		out = append(out, clone(it))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Time("createdTime"), out[j].Time("createdTime")
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// ListItems реализует crm.item.list: равенство по фильтру, порядок по созданию.
func (f *Fake) ListItems(_ context.Context, p api.ListParams) ([]api.Item, *api.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, nil, f.Err
	}

	var matched []api.Item
	for _, it := range f.sorted(p.EntityTypeID) {
		if matches(it, p.Filter) {
			matched = append(matched, it)
		}
	}
	const pageSize = 50
	resp := &api.Response{Total: len(matched)}
	if p.Start >= len(matched) {
		return nil, resp, nil
	}
	end := p.Start + pageSize
	if end < len(matched) {
		resp.Next = end
		resp.HasNext = true
	} else {
		end = len(matched)
	}
	return matched[p.Start:end], resp, nil
}

// ListAllItems проходит все страницы.
func (f *Fake) ListAllItems(ctx context.Context, p api.ListParams) ([]api.Item, error) {
	var all []api.Item
	for {
		items, resp, err := f.ListItems(ctx, p)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if !resp.HasNext {
			return all, nil
		}
		p.Start = resp.Next
	}
}

// AddItem реализует crm.item.add.
func (f *Fake) AddItem(_ context.Context, entityTypeID int, fields map[string]any) (api.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Calls = append(f.Calls, Call{Method: api.MethodItemAdd, EntityTypeID: entityTypeID, Fields: fields})
	id := f.insert(entityTypeID, f.files(entityTypeID, f.nextID+1, fields))
	return clone(f.items[entityTypeID][id]), nil
}

// UpdateItem реализует crm.item.update.
func (f *Fake) UpdateItem(_ context.Context, entityTypeID int, id int64, fields map[string]any) (api.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Calls = append(f.Calls, Call{Method: api.MethodItemUpdate, EntityTypeID: entityTypeID, ID: id, Fields: fields})
	it, ok := f.items[entityTypeID][id]
	if !ok {
		return nil, &api.RemoteError{Code: "NOT_FOUND", Message: "Элемент не найден"}
	}
	for k, v := range wire(f.files(entityTypeID, id, fields)) {
		it[k] = v
	}
	return clone(it), nil
}

// GetItem реализует crm.item.get.
func (f *Fake) GetItem(_ context.Context, entityTypeID int, id int64) (api.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	it, ok := f.items[entityTypeID][id]
	if !ok {
		return nil, &api.RemoteError{Code: "NOT_FOUND", Message: "Элемент не найден"}
	}
	return clone(it), nil
}

// ListTypes реализует crm.type.list по тестовой карте полей.
func (f *Fake) ListTypes(context.Context) ([]api.TypeInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	var out []api.TypeInfo
	for title, info := range FieldMap() {
		out = append(out, api.TypeInfo{ID: info.EntityTypeID - 1000, EntityTypeID: info.EntityTypeID, Title: title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityTypeID < out[j].EntityTypeID })
	return out, nil
}

// ItemFields реализует crm.item.fields. Как и CRM, в заголовке
// пользовательского поля отдаёт его код, а не подпись.
func (f *Fake) ItemFields(_ context.Context, entityTypeID int) (map[string]api.FieldInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	info, ok := f.entity(entityTypeID)
	if !ok {
		return nil, &api.RemoteError{Code: "NOT_FOUND", Message: "Смарт-процесс не найден"}
	}
	out := make(map[string]api.FieldInfo)
	for _, code := range info.StdFields {
		out[code] = api.FieldInfo{Type: "string", Title: code, UpperName: strings.ToUpper(code)}
	}
	for physical, uf := range info.UserFields {
		out[fieldmap.Camel(physical)] = api.FieldInfo{Type: uf.Type, Title: physical, UpperName: physical}
	}
	return out, nil
}

// ListUserfields реализует crm.item.userfield.list.
func (f *Fake) ListUserfields(_ context.Context, entityTypeID int) ([]api.UserfieldInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	info, ok := f.entity(entityTypeID)
	if !ok {
		return nil, &api.RemoteError{Code: "NOT_FOUND", Message: "Смарт-процесс не найден"}
	}
	var out []api.UserfieldInfo
	for physical, uf := range info.UserFields {
		out = append(out, api.UserfieldInfo{FieldName: physical, Type: uf.Type, Label: uf.Label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out, nil
}

func (f *Fake) entity(entityTypeID int) (fieldmap.EntityInfo, bool) {
	for _, info := range FieldMap() {
		if info.EntityTypeID == entityTypeID {
			return info, true
		}
	}
	return fieldmap.EntityInfo{}, false
}

// CallsFor возвращает вызовы метода для сущности.
func (f *Fake) CallsFor(method string, entityTypeID int) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method && c.EntityTypeID == entityTypeID {
			out = append(out, c)
		}
	}
	return out
}

// files заменяет {fileData: [name, b64]} на описание файла, как это делает CRM.
func (f *Fake) files(entityTypeID int, id int64, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		m, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		fd, ok := m["fileData"].([]string)
		if !ok || len(fd) != 2 {
			out[k] = v
			continue
		}
		data, _ := base64.StdEncoding.DecodeString(fd[1])
		f.Uploads = append(f.Uploads, Upload{EntityTypeID: entityTypeID, ID: id, Field: k, Name: fd[0], Data: data})
		if f.DropFiles {
			out[k] = nil
			continue
		}
		out[k] = map[string]any{
			"id":         len(f.Uploads),
			"name":       fd[0],
			"urlMachine": fmt.Sprintf("https://crm.test/file/%d/%s", len(f.Uploads), fd[0]),
		}
	}
	return out
}

func matches(it api.Item, filter map[string]any) bool {
	for k, want := range filter {
		k = strings.TrimLeft(k, "=")
		w := fmt.Sprint(want)
		got := it[k]
		if list, ok := got.([]any); ok {
			found := false
			for _, x := range list {
				if fmt.Sprint(x) == w {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if f, ok := got.(float64); ok {
			if (api.Item{"v": want}).Float("v") != f {
				return false
			}
			continue
		}
		if (api.Item{"v": got}).Date("v") != w && fmt.Sprint(got) != w {
			return false
		}
	}
	return true
}

// wire прогоняет значения через JSON, чтобы типы совпадали с ответом CRM.
func wire(fields map[string]any) api.Item {
	data, _ := json.Marshal(fields)
	var out api.Item
	_ = json.Unmarshal(data, &out)
	if out == nil {
		out = api.Item{}
	}
	return out
}

func clone(it api.Item) api.Item {
	return wire(it)
}
