// Утилита fieldsync строит карту полей смарт-процессов Битрикс24
// и показывает её содержимое.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"foreman_bot/internal/api"
	"foreman_bot/internal/fieldmap"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type settings struct {
	WebhookURL   string        `env:"BITRIX_WEBHOOK_URL"`
	Timeout      time.Duration `env:"BITRIX_TIMEOUT" env-default:"30s"`
	FieldMapFile string        `env:"BITRIX_FIELD_MAP" env-default:"data/bitrix_field_map.json"`
}

func main() {
	_ = godotenv.Load()

	var cfg settings
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка чтения окружения: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Карта полей смарт-процессов Битрикс24",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.FieldMapFile, "file", cfg.FieldMapFile, "путь к файлу карты полей")
	root.AddCommand(syncCmd(&cfg), showCmd(&cfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func syncCmd(cfg *settings) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Получить метаданные полей из CRM и сохранить карту",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.WebhookURL == "" {
				return fmt.Errorf("не задан BITRIX_WEBHOOK_URL")
			}
			log, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			client := api.NewClient(cfg.WebhookURL, cfg.Timeout, nil, log)
			f, err := fieldmap.Sync(ctx, client, only)
			if err != nil {
				return err
			}
			if err := fieldmap.Save(cfg.FieldMapFile, f); err != nil {
				return fmt.Errorf("ошибка сохранения %s: %w", cfg.FieldMapFile, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Сохранено смарт-процессов: %d → %s\n", len(f), cfg.FieldMapFile)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "entity", nil, "названия смарт-процессов (по умолчанию все)")
	return cmd
}

func showCmd(cfg *settings) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Показать сохранённую карту полей",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := fieldmap.Load(cfg.FieldMapFile)
			if err != nil {
				return err
			}
			f := r.Entities()
			out := cmd.OutOrStdout()
			if asYAML {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(f)
			}

			names := make([]string, 0, len(f))
			for name := range f {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				info := f[name]
				fmt.Fprintf(out, "%s (entityTypeId=%d): полей %d\n", name, info.EntityTypeID, len(info.UserFields))
			}
			if len(names) == 0 {
				fmt.Fprintln(out, "Карта полей пуста.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "вывести карту целиком в YAML")
	return cmd
}
