// Package metrics содержит счётчики и метрики, используемые в приложении.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics хранит метрики работы приложения.
// Собственный реестр позволяет создавать экземпляры в тестах без конфликтов.
type Metrics struct {
	Registry *prometheus.Registry

	activeSessions       prometheus.Gauge
	apiRequests          *prometheus.CounterVec
	apiErrors            *prometheus.CounterVec
	apiLatency           *prometheus.HistogramVec
	commits              *prometheus.CounterVec
	shiftsCreated        prometheus.Counter
	uniquenessViolations prometheus.Counter
	uploads              *prometheus.CounterVec
	documents            *prometheus.CounterVec
	adminActions         prometheus.Counter
}

// NewMetrics создает новый экземпляр метрик
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "foreman_active_sessions",
			Help: "Количество активных диалогов.",
		}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_crm_requests_total",
			Help: "Запросы к CRM по методам.",
		}, []string{"method"}),
		apiErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_crm_errors_total",
			Help: "Ошибки CRM по видам.",
		}, []string{"kind"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foreman_crm_request_duration_seconds",
			Help:    "Время ответа CRM.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_commits_total",
			Help: "Завершённые диалоги по сценариям и результату.",
		}, []string{"flow", "status"}),
		shiftsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "foreman_shifts_created_total",
			Help: "Созданные смены.",
		}),
		uniquenessViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "foreman_shift_uniqueness_violations_total",
			Help: "Найдено более одной смены на объект и дату.",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_uploads_total",
			Help: "Загрузки файлов в CRM.",
		}, []string{"status"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_documents_total",
			Help: "Сформированные документы ЛПА.",
		}, []string{"status"}),
		adminActions: f.NewCounter(prometheus.CounterOpts{
			Name: "foreman_admin_actions_total",
			Help: "Административные действия.",
		}),
	}
}

// IncActiveSessions увеличивает счетчик активных диалогов
func (m *Metrics) IncActiveSessions() { m.activeSessions.Inc() }

// DecActiveSessions уменьшает счетчик активных диалогов
func (m *Metrics) DecActiveSessions() { m.activeSessions.Dec() }

// IncAPIRequests увеличивает счетчик запросов к CRM
func (m *Metrics) IncAPIRequests(method string) { m.apiRequests.WithLabelValues(method).Inc() }

// IncAPIErrors увеличивает счетчик ошибок CRM
func (m *Metrics) IncAPIErrors(kind string) { m.apiErrors.WithLabelValues(kind).Inc() }

// UpdateLatency фиксирует время ответа CRM
func (m *Metrics) UpdateLatency(method string, d time.Duration) {
	m.apiLatency.WithLabelValues(method).Observe(d.Seconds())
}

// IncCommits фиксирует результат завершения сценария
func (m *Metrics) IncCommits(flow, status string) { m.commits.WithLabelValues(flow, status).Inc() }

// IncShiftsCreated увеличивает счетчик созданных смен
func (m *Metrics) IncShiftsCreated() { m.shiftsCreated.Inc() }

// IncUniquenessViolations увеличивает счетчик дублей смен
func (m *Metrics) IncUniquenessViolations() { m.uniquenessViolations.Inc() }

// IncUploads фиксирует результат загрузки файла
func (m *Metrics) IncUploads(status string) { m.uploads.WithLabelValues(status).Inc() }

// IncDocuments фиксирует результат формирования документа
func (m *Metrics) IncDocuments(status string) { m.documents.WithLabelValues(status).Inc() }

// IncAdminActions увеличивает счетчик административных действий
func (m *Metrics) IncAdminActions() { m.adminActions.Inc() }

// GetStats возвращает текущие значения счётчиков и gauge, просуммированные
// по меткам. Гистограммы не включаются.
func (m *Metrics) GetStats() map[string]float64 {
	stats := make(map[string]float64)
	families, err := m.Registry.Gather()
	if err != nil {
		return stats
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				stats[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				stats[mf.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	return stats
}

// StatNames возвращает отсортированные имена метрик из снимка.
func StatNames(stats map[string]float64) []string {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
