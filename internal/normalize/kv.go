// Package normalize разбирает ввод прорабов и приводит JSON плана и факта
// к каноническому виду.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// UserInputError - некорректный ввод. Диалог остаётся в текущем состоянии.
type UserInputError struct {
	Message string
}

func (e *UserInputError) Error() string { return e.Message }

func inputErr(format string, args ...any) error {
	return &UserInputError{Message: fmt.Sprintf(format, args...)}
}

// Pair - одна пара ключ=значение из строки работ.
type Pair struct {
	Key   string
	Value float64
}

// ParseKV разбирает строку вида "земляные=120, подушка=80,5" в упорядоченный
// список пар. Ключи приводятся к нижнему регистру, повторный ключ заменяет
// значение, сохраняя первую позицию.
func ParseKV(text string) ([]Pair, error) {
	return parseKV(text, ParseNumber)
}

// ParseVolumes - ParseKV для объёмов работ: значения должны быть больше нуля.
func ParseVolumes(text string) ([]Pair, error) {
	return parseKV(text, ParsePositive)
}

func parseKV(text string, parse func(string) (float64, error)) ([]Pair, error) {
	text = strings.NewReplacer("\n", ",", ";", ",").Replace(text)
	if strings.TrimSpace(text) == "" {
		return nil, inputErr("Пустой ввод. Формат: работа=объём, работа=объём")
	}

	// запятая разделяет пары, но может быть и десятичной: "подушка=80,5"
	var chunks []string
	for _, seg := range strings.Split(text, ",") {
		s := strings.TrimSpace(seg)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "=") && len(chunks) > 0 && isDigits(s) {
			chunks[len(chunks)-1] += "." + s
			continue
		}
		chunks = append(chunks, s)
	}

	var pairs []Pair
	pos := make(map[string]int)
	for _, chunk := range chunks {
		key, raw, ok := strings.Cut(chunk, "=")
		if !ok {
			return nil, inputErr("Не найден знак «=» в «%s»", chunk)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return nil, inputErr("Пустое название работы в «%s»", chunk)
		}
		v, err := parse(raw)
		if err != nil {
			return nil, inputErr("Некорректный объём для «%s»: %s. %s", key, strings.TrimSpace(raw), err)
		}
		if i, seen := pos[key]; seen {
			pairs[i].Value = v
			continue
		}
		pos[key] = len(pairs)
		pairs = append(pairs, Pair{Key: key, Value: v})
	}
	return pairs, nil
}

// ParseKVMap - то же, что ParseKV, но в виде словаря.
func ParseKVMap(text string) (map[string]float64, error) {
	pairs, err := ParseKV(text)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out, nil
}

// SerializeKV собирает словарь обратно в строку, ключи по алфавиту.
func SerializeKV(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatFloat(m[k], 'f', -1, 64))
	}
	return strings.Join(parts, ", ")
}

// ParseNumber разбирает число с запятой или точкой.
func ParseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, inputErr("Введите число")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, inputErr("«%s» не похоже на число", s)
	}
	return v, nil
}

// ParsePositive разбирает число и отклоняет значения ≤ 0.
func ParsePositive(s string) (float64, error) {
	v, err := ParseNumber(s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, inputErr("Значение должно быть больше нуля")
	}
	return v, nil
}

// ParseDecimal разбирает денежное значение без потери точности.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, inputErr("«%s» не похоже на число", s)
	}
	return d, nil
}

// FormatNumber печатает число без лишних нулей: 120, 80.5.
func FormatNumber(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
