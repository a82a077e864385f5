// Package fieldmap переводит логические коды полей (UF_PLAN_JSON, UF_SHIFT_ID …)
// в физические коды, которые CRM сгенерировала для конкретного смарт-процесса.
package fieldmap

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// MappingError - логическое поле отсутствует в карте для сущности.
// Вызывающий обязан пропустить изменение поля, код не подставляется.
type MappingError struct {
	Entity  string
	Logical string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("поле %s не найдено в карте полей сущности %q", e.Logical, e.Entity)
}

// UserField - метаданные пользовательского поля из файла карты.
type UserField struct {
	Label string `json:"label" yaml:"label"`
	Type  string `json:"type" yaml:"type"`
}

// EntityInfo - запись о смарт-процессе в файле карты полей.
type EntityInfo struct {
	EntityTypeID int                  `json:"entityTypeId" yaml:"entity_type_id"`
	Title        string               `json:"title" yaml:"title"`
	UserFields   map[string]UserField `json:"userfields" yaml:"userfields"`
	StdFields    []string             `json:"std_fields" yaml:"std_fields"`
}

// File - содержимое bitrix_field_map.json: имя сущности → описание.
type File map[string]EntityInfo

// Field - разрешённое поле.
type Field struct {
	Physical string
	Type     string
	Label    string
}

var physicalRx = regexp.MustCompile(`^UF_CRM_(\d+)_(.+)$`)

type snapshot struct {
	entities map[string]EntityInfo
	index    map[string]map[string]Field
}

// Resolver хранит карту полей и отвечает на запросы разрешения кодов.
// Перезагрузка подменяет снимок целиком, читатели не блокируют друг друга.
type Resolver struct {
	path string
	mu   sync.RWMutex
	snap *snapshot
}

// Load читает карту полей из файла.
func Load(path string) (*Resolver, error) {
	r := &Resolver{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// New создает резолвер из уже загруженного содержимого (для тестов и синхронизатора).
func New(f File) *Resolver {
	return &Resolver{snap: buildSnapshot(f)}
}

// Reload перечитывает файл карты полей.
func (r *Resolver) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("ошибка чтения карты полей: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("ошибка разбора карты полей: %w", err)
	}
	snap := buildSnapshot(f)

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}

func buildSnapshot(f File) *snapshot {
	s := &snapshot{
		entities: make(map[string]EntityInfo, len(f)),
		index:    make(map[string]map[string]Field, len(f)),
	}
	for name, info := range f {
		s.entities[name] = info
		fields := make(map[string]Field, len(info.UserFields))
		for code, uf := range info.UserFields {
			upper := strings.ToUpper(code)
			m := physicalRx.FindStringSubmatch(upper)
			if m == nil {
				continue
			}
			fields[m[2]] = Field{Physical: upper, Type: uf.Type, Label: uf.Label}
		}
		s.index[name] = fields
	}
	return s
}

func (r *Resolver) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Lookup возвращает разрешённое поле вместе с типом и подписью.
func (r *Resolver) Lookup(entity, logical string) (Field, error) {
	snap := r.current()
	if snap != nil {
		if fields, ok := snap.index[entity]; ok {
			if f, ok := fields[strings.ToUpper(logical)]; ok {
				return f, nil
			}
		}
	}
	return Field{}, &MappingError{Entity: entity, Logical: logical}
}

// Resolve возвращает физический код поля в верхнем регистре.
func (r *Resolver) Resolve(entity, logical string) (string, error) {
	f, err := r.Lookup(entity, logical)
	if err != nil {
		return "", err
	}
	return f.Physical, nil
}

// Field возвращает camelCase-код поля, который принимает API элементов.
func (r *Resolver) Field(entity, logical string) (string, error) {
	physical, err := r.Resolve(entity, logical)
	if err != nil {
		return "", err
	}
	return Camel(physical), nil
}

// EntityTypeID возвращает entityTypeId смарт-процесса по его названию.
func (r *Resolver) EntityTypeID(entity string) (int, bool) {
	snap := r.current()
	if snap == nil {
		return 0, false
	}
	info, ok := snap.entities[entity]
	if !ok || info.EntityTypeID == 0 {
		return 0, false
	}
	return info.EntityTypeID, true
}

// Entities возвращает копию описания всех сущностей.
func (r *Resolver) Entities() File {
	snap := r.current()
	out := make(File)
	if snap == nil {
		return out
	}
	for k, v := range snap.entities {
		out[k] = v
	}
	return out
}

// Camel переводит UF_CRM_9_UF_RESOURCE_TYPE в ufCrm9UfResourceType.
func Camel(physical string) string {
	parts := strings.Split(strings.ToLower(physical), "_")
	var b strings.Builder
	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}
