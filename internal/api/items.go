package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Item - запись смарт-процесса в том виде, в каком её возвращает CRM
// (ключи в camelCase).
type Item map[string]any

// ID возвращает идентификатор записи.
func (i Item) ID() int64 { return i.Int64("id") }

// Int64 возвращает целое значение поля.
func (i Item) Int64(key string) int64 {
	switch v := i[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	case []any:
		if len(v) > 0 {
			return Item{"v": v[0]}.Int64("v")
		}
	}
	return 0
}

// Float возвращает числовое значение поля; строки допускают запятую.
func (i Item) Float(key string) float64 {
	switch v := i[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
		return f
	}
	return 0
}

// String возвращает строковое значение поля.
func (i Item) String(key string) string {
	switch v := i[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		if len(v) > 0 {
			return Item{"v": v[0]}.String("v")
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Strings возвращает значения множественного поля.
func (i Item) Strings(key string) []string {
	switch v := i[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, Item{"v": x}.String("v"))
		}
		return out
	case []string:
		return v
	case nil:
		return nil
	default:
		return []string{i.String(key)}
	}
}

// Time разбирает поле даты-времени (createdTime и т.п.).
func (i Item) Time(key string) time.Time {
	s := i.String(key)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Date возвращает календарную дату поля в формате YYYY-MM-DD.
func (i Item) Date(key string) string {
	s := i.String(key)
	if len(s) >= 10 {
		return s[:10]
	}
	return s
}

// HasFile сообщает, что файловое поле содержит ссылку на файл.
func (i Item) HasFile(key string) bool {
	switch v := i[key].(type) {
	case nil:
		return false
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	case float64:
		return v > 0
	case string:
		return v != "" && v != "0"
	}
	return true
}

// FileURLs извлекает ссылки на файлы из файлового поля.
func (i Item) FileURLs(key string) []string {
	var files []any
	switch v := i[key].(type) {
	case map[string]any:
		files = []any{v}
	case []any:
		files = v
	}
	var urls []string
	for _, f := range files {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range []string{"urlMachine", "url", "showUrl"} {
			if s, ok := m[k].(string); ok && s != "" {
				urls = append(urls, s)
				break
			}
		}
	}
	return urls
}

// ListParams - параметры crm.item.list.
type ListParams struct {
	EntityTypeID int
	Filter       map[string]any
	Select       []string
	Order        map[string]string
	Start        int
}

// ListItems получает одну страницу записей.
func (c *Client) ListItems(ctx context.Context, p ListParams) ([]Item, *Response, error) {
	payload := map[string]any{
		"entityTypeId": p.EntityTypeID,
		"start":        p.Start,
	}
	if len(p.Filter) > 0 {
		payload["filter"] = p.Filter
	}
	if len(p.Select) > 0 {
		payload["select"] = p.Select
	}
	if len(p.Order) > 0 {
		payload["order"] = p.Order
	}

	resp, err := c.Call(ctx, MethodItemList, payload)
	if err != nil {
		return nil, nil, err
	}
	var result struct {
		Items []Item `json:"items"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, nil, &TransportError{Method: MethodItemList, Err: err}
	}
	return result.Items, resp, nil
}

// ListAllItems проходит по всем страницам выборки.
func (c *Client) ListAllItems(ctx context.Context, p ListParams) ([]Item, error) {
	var all []Item
	for {
		items, resp, err := c.ListItems(ctx, p)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if !resp.HasNext || resp.Next <= p.Start {
			return all, nil
		}
		p.Start = resp.Next
	}
}

// AddItem создает запись смарт-процесса.
func (c *Client) AddItem(ctx context.Context, entityTypeID int, fields map[string]any) (Item, error) {
	resp, err := c.Call(ctx, MethodItemAdd, map[string]any{
		"entityTypeId": entityTypeID,
		"fields":       fields,
	})
	if err != nil {
		return nil, err
	}
	return decodeItem(MethodItemAdd, resp)
}

// UpdateItem обновляет поля записи.
func (c *Client) UpdateItem(ctx context.Context, entityTypeID int, id int64, fields map[string]any) (Item, error) {
	resp, err := c.Call(ctx, MethodItemUpdate, map[string]any{
		"entityTypeId": entityTypeID,
		"id":           id,
		"fields":       fields,
	})
	if err != nil {
		return nil, err
	}
	return decodeItem(MethodItemUpdate, resp)
}

// GetItem получает запись по идентификатору.
func (c *Client) GetItem(ctx context.Context, entityTypeID int, id int64) (Item, error) {
	resp, err := c.Call(ctx, MethodItemGet, map[string]any{
		"entityTypeId": entityTypeID,
		"id":           id,
	})
	if err != nil {
		return nil, err
	}
	return decodeItem(MethodItemGet, resp)
}

func decodeItem(method string, resp *Response) (Item, error) {
	var result struct {
		Item Item `json:"item"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	if result.Item == nil {
		return Item{}, nil
	}
	return result.Item, nil
}

// TypeInfo - описание смарт-процесса.
type TypeInfo struct {
	ID           int    `json:"id"`
	EntityTypeID int    `json:"entityTypeId"`
	Title        string `json:"title"`
}

// ListTypes возвращает все смарт-процессы портала.
func (c *Client) ListTypes(ctx context.Context) ([]TypeInfo, error) {
	var all []TypeInfo
	start := 0
	for {
		resp, err := c.Call(ctx, MethodTypeList, map[string]any{"start": start})
		if err != nil {
			return nil, err
		}
		var result struct {
			Types []TypeInfo `json:"types"`
		}
		if err := resp.Decode(&result); err != nil {
			return nil, &TransportError{Method: MethodTypeList, Err: err}
		}
		all = append(all, result.Types...)
		if !resp.HasNext || resp.Next <= start {
			return all, nil
		}
		start = resp.Next
	}
}

// FieldInfo - метаданные поля смарт-процесса.
type FieldInfo struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	UpperName  string `json:"upperName"`
	IsMultiple bool   `json:"isMultiple"`
}

// ItemFields возвращает поля смарт-процесса, ключ - camelCase-код.
func (c *Client) ItemFields(ctx context.Context, entityTypeID int) (map[string]FieldInfo, error) {
	resp, err := c.Call(ctx, MethodItemFields, map[string]any{"entityTypeId": entityTypeID})
	if err != nil {
		return nil, err
	}
	var result struct {
		Fields map[string]FieldInfo `json:"fields"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, &TransportError{Method: MethodItemFields, Err: err}
	}
	return result.Fields, nil
}

// UserfieldInfo - пользовательское поле смарт-процесса.
type UserfieldInfo struct {
	FieldName string
	Type      string
	Label     string
}

// ListUserfields возвращает пользовательские поля смарт-процесса с подписями.
func (c *Client) ListUserfields(ctx context.Context, entityTypeID int) ([]UserfieldInfo, error) {
	resp, err := c.Call(ctx, MethodUserfieldList, map[string]any{"entityTypeId": entityTypeID})
	if err != nil {
		return nil, err
	}
	var result struct {
		Fields []Item `json:"fields"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, &TransportError{Method: MethodUserfieldList, Err: err}
	}
	out := make([]UserfieldInfo, 0, len(result.Fields))
	for _, f := range result.Fields {
		name := f.String("fieldName")
		if name == "" {
			continue
		}
		out = append(out, UserfieldInfo{
			FieldName: strings.ToUpper(name),
			Type:      f.String("userTypeId"),
			Label:     userfieldLabel(f),
		})
	}
	return out, nil
}

// userfieldLabel берёт подпись формы редактирования, предпочитая русскую.
func userfieldLabel(f Item) string {
	for _, key := range []string{"editFormLabel", "listColumnLabel"} {
		switch v := f[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if ru, ok := v["ru"].(string); ok && ru != "" {
				return ru
			}
			langs := make([]string, 0, len(v))
			for lang := range v {
				langs = append(langs, lang)
			}
			sort.Strings(langs)
			for _, lang := range langs {
				if s, ok := v[lang].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}
