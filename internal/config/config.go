// Package config читает и хранит конфигурацию приложения.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ConfigError возвращается, если обязательные параметры не заданы.
// Процесс с такой ошибкой не запускается.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("не задан обязательный параметр: %s", e.Field)
}

// Config представляет конфигурацию приложения, загружаемую из YAML или окружения.
type Config struct {
	Telegram struct {
		Token       string        `yaml:"token" env:"TELEGRAM_TOKEN"`
		PollTimeout time.Duration `yaml:"poll_timeout" env:"TELEGRAM_POLL_TIMEOUT" env-default:"10s"`
	} `yaml:"telegram"`

	CRM struct {
		WebhookURL      string        `yaml:"webhook_url" env:"BITRIX_WEBHOOK_URL"`
		Timeout         time.Duration `yaml:"timeout" env:"BITRIX_TIMEOUT" env-default:"30s"`
		DefaultAssignee int64         `yaml:"default_assignee" env:"BITRIX_DEFAULT_ASSIGNEE"`
		UploadPace      time.Duration `yaml:"upload_pace" env:"BITRIX_UPLOAD_PACE" env-default:"500ms"`
		FieldMapFile    string        `yaml:"field_map_file" env:"BITRIX_FIELD_MAP" env-default:"data/bitrix_field_map.json"`

		// Названия смарт-процессов в CRM; entityTypeId берётся из карты полей.
		Entities struct {
			Object    string `yaml:"object" env:"BITRIX_ENTITY_OBJECT" env-default:"Объекты"`
			Shift     string `yaml:"shift" env:"BITRIX_ENTITY_SHIFT" env-default:"Смены"`
			Resource  string `yaml:"resource" env:"BITRIX_ENTITY_RESOURCE" env-default:"Ресурсы"`
			Timesheet string `yaml:"timesheet" env:"BITRIX_ENTITY_TIMESHEET" env-default:"Табель"`
		} `yaml:"entities"`
	} `yaml:"crm"`

	Storage struct {
		StaffFile       string        `yaml:"staff_file" env:"STAFF_MAP_FILE" env-default:"data/staff_map.json"`
		SubscribersFile string        `yaml:"subscribers_file" env:"SUBSCRIBERS_FILE" env-default:"data/subscribers.json"`
		SessionBackend  string        `yaml:"session_backend" env:"SESSION_BACKEND" env-default:"memory"`
		SessionTTL      time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"24h"`
		RedisAddr       string        `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
		RedisPassword   string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
		RedisDB         int           `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"storage"`

	Logging struct {
		Level   string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		File    string `yaml:"file" env:"LOG_FILE" env-default:"logs/bot.log"`
		MaxSize int    `yaml:"max_size" env:"LOG_MAX_SIZE_MB" env-default:"10"`
		MaxAge  int    `yaml:"max_age" env:"LOG_MAX_AGE_DAYS" env-default:"30"`
	} `yaml:"logging"`

	Docs struct {
		TemplatePath string `yaml:"template_path" env:"LPA_TEMPLATE" env-default:"templates/lpa_template.docx"`
		OutputDir    string `yaml:"output_dir" env:"LPA_OUTPUT_DIR" env-default:"output/pdf"`
		ConvertPDF   bool   `yaml:"convert_pdf" env:"LPA_CONVERT_PDF" env-default:"true"`
		Converter    string `yaml:"converter" env:"LPA_CONVERTER" env-default:"soffice"`
	} `yaml:"docs"`

	Ops struct {
		Addr string `yaml:"addr" env:"OPS_ADDR" env-default:":9090"`
	} `yaml:"ops"`

	Bot struct {
		Timezone        string        `yaml:"timezone" env:"BOT_TIMEZONE" env-default:"Europe/Moscow"`
		SummaryHour     int           `yaml:"summary_hour" env:"BOT_SUMMARY_HOUR" env-default:"19"`
		CheckInterval   time.Duration `yaml:"check_interval" env:"BOT_CHECK_INTERVAL" env-default:"5m"`
		GracefulTimeout time.Duration `yaml:"graceful_timeout" env:"BOT_GRACEFUL_TIMEOUT" env-default:"30s"`
	} `yaml:"bot"`
}

// Load читает конфигурацию из YAML-файла (если он есть) и переменных окружения.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else if errors.Is(statErr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(cfg)
	} else {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", statErr)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля конфигурации и возвращает ошибку при отсутствии.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return &ConfigError{Field: "TELEGRAM_TOKEN"}
	}
	if c.CRM.WebhookURL == "" {
		return &ConfigError{Field: "BITRIX_WEBHOOK_URL"}
	}
	if _, err := time.LoadLocation(c.Bot.Timezone); err != nil {
		return fmt.Errorf("неверная временная зона %q: %w", c.Bot.Timezone, err)
	}
	return nil
}

// Location возвращает временную зону пользователей.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogMaxSize возвращает максимальный размер файла лога в байтах.
func (c *Config) LogMaxSize() int64 {
	return int64(c.Logging.MaxSize) * 1024 * 1024
}

// LogMaxAge возвращает максимальный возраст файла лога.
func (c *Config) LogMaxAge() time.Duration {
	return time.Duration(c.Logging.MaxAge) * 24 * time.Hour
}
