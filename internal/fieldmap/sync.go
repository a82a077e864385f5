package fieldmap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"foreman_bot/internal/api"
)

// Source - методы CRM, нужные синхронизатору карты полей.
type Source interface {
	ListTypes(ctx context.Context) ([]api.TypeInfo, error)
	ItemFields(ctx context.Context, entityTypeID int) (map[string]api.FieldInfo, error)
	ListUserfields(ctx context.Context, entityTypeID int) ([]api.UserfieldInfo, error)
}

// Sync строит карту полей по метаданным CRM. Если only не пуст,
// в карту попадают только смарт-процессы с перечисленными названиями.
func Sync(ctx context.Context, src Source, only []string) (File, error) {
	types, err := src.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка смарт-процессов: %w", err)
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	out := make(File)
	for _, t := range types {
		if len(wanted) > 0 && !wanted[t.Title] {
			continue
		}
		fields, err := src.ItemFields(ctx, t.EntityTypeID)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения полей %q: %w", t.Title, err)
		}
		info := EntityInfo{
			EntityTypeID: t.EntityTypeID,
			Title:        t.Title,
			UserFields:   make(map[string]UserField),
		}
		for code, f := range fields {
			upper := f.UpperName
			if upper == "" {
				upper = code
			}
			if strings.HasPrefix(strings.ToUpper(upper), "UF_") {
				info.UserFields[strings.ToUpper(upper)] = UserField{Label: f.Title, Type: f.Type}
				continue
			}
			info.StdFields = append(info.StdFields, code)
		}

		// подписи пользовательских полей приходят отдельным методом
		ufs, err := src.ListUserfields(ctx, t.EntityTypeID)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения пользовательских полей %q: %w", t.Title, err)
		}
		for _, uf := range ufs {
			field := info.UserFields[uf.FieldName]
			if uf.Label != "" {
				field.Label = uf.Label
			}
			if field.Type == "" {
				field.Type = uf.Type
			}
			info.UserFields[uf.FieldName] = field
		}
		sort.Strings(info.StdFields)
		out[t.Title] = info
	}
	return out, nil
}

// Save записывает карту полей в файл через временный файл.
func Save(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
