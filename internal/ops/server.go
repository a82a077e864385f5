// Package ops поднимает служебный HTTP-сервер: проверка живости,
// метрики Prometheus и перезагрузка справочников.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"foreman_bot/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReloadFunc перечитывает карту полей и список сотрудников.
type ReloadFunc func() error

// Server - служебный HTTP-сервер.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewRouter собирает маршруты служебного сервера.
func NewRouter(m *metrics.Metrics, reload ReloadFunc, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	r.Post("/reload", func(w http.ResponseWriter, req *http.Request) {
		if reload == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "перезагрузка не настроена"})
			return
		}
		if err := reload(); err != nil {
			log.Error("ошибка перезагрузки справочников",
				zap.String("request_id", middleware.GetReqID(req.Context())), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		log.Info("справочники перезагружены")
		writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NewServer создает сервер на адресе addr.
func NewServer(addr string, handler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.Named("ops"),
	}
}

// Run обслуживает запросы до отмены ctx.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("служебный сервер запущен", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
