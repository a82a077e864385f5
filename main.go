// Программа запускает Telegram-бота прораба, синхронизирующего данные смен
// со смарт-процессами Битрикс24, и служебный HTTP-сервер.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foreman_bot/internal/api"
	"foreman_bot/internal/bot"
	"foreman_bot/internal/catalog"
	"foreman_bot/internal/config"
	"foreman_bot/internal/docgen"
	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/flow"
	"foreman_bot/internal/logger"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/ops"
	"foreman_bot/internal/session"
	"foreman_bot/internal/shift"
	"foreman_bot/internal/storage"
	"foreman_bot/internal/uploader"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Максимальный размер файла, который бот скачивает из Telegram.
const maxMediaSize = 20 << 20

func init() {
	// Загружаем переменные из .env файла
	if err := godotenv.Load(); err != nil {
		// Если файл .env не найден, используем переменные окружения системы
		log.Printf("Файл .env не найден, используем переменные окружения системы")
	}
}

// main является точкой входа в приложение
// Выполняет следующие шаги:
// 1. Загружает конфигурацию и настраивает логирование
// 2. Создает хранилище сотрудников и карту полей CRM
// 3. Собирает компоненты: клиент CRM, справочники, загрузчик, генератор ЛПА
// 4. Запускает бота, служебный сервер и рассылку сводки
// 5. Ожидает сигнал завершения для graceful shutdown
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Настройка логирования
	zlog, logWriter, err := logger.NewFileLogger(cfg.Logging.Level, cfg.Logging.File, cfg.LogMaxSize(), cfg.LogMaxAge())
	if err != nil {
		log.Fatalf("Ошибка настройки логирования: %v", err)
	}
	defer func() {
		_ = zlog.Sync()
		_ = logWriter.Close()
	}()

	if err := run(cfg, zlog); err != nil {
		zlog.Error("бот завершился с ошибкой", zap.Error(err))
		_ = zlog.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	m := metrics.NewMetrics()

	// Инициализация хранилища
	store, err := storage.NewStorage(cfg.Storage.StaffFile, cfg.Storage.SubscribersFile, m)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	fields, err := fieldmap.Load(cfg.CRM.FieldMapFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки карты полей: %w", err)
	}
	entities := fieldmap.Entities{
		Object:    cfg.CRM.Entities.Object,
		Shift:     cfg.CRM.Entities.Shift,
		Resource:  cfg.CRM.Entities.Resource,
		Timesheet: cfg.CRM.Entities.Timesheet,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := newSessionStore(ctx, cfg, zlog)
	if err != nil {
		return err
	}

	crm := api.NewClient(cfg.CRM.WebhookURL, cfg.CRM.Timeout, m, zlog)

	tb, err := bot.NewTelegram(bot.Settings{Token: cfg.Telegram.Token, PollTimeout: cfg.Telegram.PollTimeout}, zlog)
	if err != nil {
		return err
	}

	up := uploader.New(crm, bot.Fetcher{Bot: tb, MaxSize: maxMediaSize}, cfg.CRM.UploadPace, m, zlog)
	objects := catalog.New(crm, fields, entities.Object, zlog)
	shifts := shift.NewResolver(crm, fields, entities.Shift, cfg.CRM.DefaultAssignee, m, zlog)

	var converter docgen.Converter
	if cfg.Docs.ConvertPDF {
		converter = docgen.SofficeConverter{Binary: cfg.Docs.Converter, Timeout: 2 * time.Minute}
	}
	docs := docgen.NewGenerator(crm, fields, entities, up, docgen.DocxRenderer{}, converter, docgen.Options{
		TemplatePath: cfg.Docs.TemplatePath,
		OutputDir:    cfg.Docs.OutputDir,
		ConvertPDF:   cfg.Docs.ConvertPDF,
	}, m, zlog)

	engine := flow.NewEngine(sessions, flow.Deps{
		Objects:   objects,
		ACL:       store,
		Shifts:    shifts,
		CRM:       crm,
		Fields:    fields,
		Entities:  entities,
		Uploader:  up,
		Documents: docs,
		Location:  cfg.Location(),
	}, m, zlog)

	telegramBot := bot.NewBot(tb, store, engine, objects, shifts, cfg.Location(), m, zlog)

	// Перечитывание справочников по SIGHUP и POST /reload
	reload := func() error {
		if err := fields.Reload(); err != nil {
			return err
		}
		return store.Reload()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv := ops.NewServer(cfg.Ops.Addr, ops.NewRouter(m, reload, zlog), zlog)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		summaryLoop(gctx, telegramBot, cfg, zlog)
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				if err := reload(); err != nil {
					zlog.Error("ошибка перезагрузки справочников", zap.Error(err))
					continue
				}
				zlog.Info("справочники перезагружены по сигналу")
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		telegramBot.Start()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zlog.Info("получен сигнал завершения, останавливаем работу")

		// Ждем завершения начатых диалогов, но не дольше GracefulTimeout
		done := make(chan struct{})
		go func() {
			telegramBot.Stop()
			close(done)
		}()
		select {
		case <-done:
			zlog.Info("бот остановлен, данные сохранены")
		case <-time.After(cfg.Bot.GracefulTimeout):
			zlog.Warn("превышено время graceful shutdown")
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newSessionStore выбирает хранилище диалогов по настройке SESSION_BACKEND.
func newSessionStore(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (session.Store, error) {
	switch cfg.Storage.SessionBackend {
	case "", "memory":
		return session.NewMemoryStore(cfg.Storage.SessionTTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		rs := session.NewRedisStore(client, cfg.Storage.SessionTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("redis недоступен (%s): %w", cfg.Storage.RedisAddr, err)
		}
		zlog.Info("диалоги хранятся в redis", zap.String("addr", cfg.Storage.RedisAddr))
		return rs, nil
	}
	return nil, fmt.Errorf("неизвестное хранилище диалогов %q", cfg.Storage.SessionBackend)
}

// summaryLoop раз в CheckInterval проверяет, не пора ли разослать сводку за день.
func summaryLoop(ctx context.Context, b *bot.Bot, cfg *config.Config, zlog *zap.Logger) {
	ticker := time.NewTicker(cfg.Bot.CheckInterval)
	defer ticker.Stop()

	var lastSent string
	for {
		select {
		case now := <-ticker.C:
			date, due := bot.SummaryDue(now, cfg.Location(), cfg.Bot.SummaryHour, lastSent)
			if !due {
				continue
			}
			if err := b.SendDailySummary(ctx); err != nil {
				zlog.Error("ошибка рассылки сводки", zap.Error(err))
				continue
			}
			lastSent = date
			zlog.Info("сводка за день разослана", zap.String("date", date))
		case <-ctx.Done():
			return
		}
	}
}
