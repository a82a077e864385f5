package normalize

import (
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// шаблоны числа людей, в порядке приоритета
var workerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(\s*(\d+)\s*(?:человек|чел)\.?\s*\)`),
	regexp.MustCompile(`\(\s*(\d+)\s*\)`),
	regexp.MustCompile(`(?i)(\d+)\s*(?:человек|чел)`),
}

// WorkersCount извлекает число людей из подписи бригады:
// "бригада 2 (5 человек)", "(5)", "5 чел" → 5; без числа → 1.
func WorkersCount(label string) int {
	for _, rx := range workerPatterns {
		m := rx.FindStringSubmatch(label)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// TimesheetTotal - сумма по строке табеля: часы × ставка × люди.
func TimesheetTotal(hours, rate decimal.Decimal, workers int) decimal.Decimal {
	if workers < 1 {
		workers = 1
	}
	return hours.Mul(rate).Mul(decimal.NewFromInt(int64(workers)))
}
