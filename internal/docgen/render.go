package docgen

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lukasjarosch/go-docx"
)

// Renderer заполняет шаблон DOCX значениями контекста.
type Renderer interface {
	Render(templatePath, outPath string, values map[string]string) error
}

// Converter переводит DOCX в PDF и возвращает путь к PDF.
type Converter interface {
	Convert(ctx context.Context, docxPath, outDir string) (string, error)
}

// DocxRenderer подставляет значения в плейсхолдеры вида {task1_name}.
type DocxRenderer struct{}

// Render открывает шаблон, заменяет плейсхолдеры и пишет результат.
func (DocxRenderer) Render(templatePath, outPath string, values map[string]string) error {
	doc, err := docx.Open(templatePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия шаблона %s: %w", templatePath, err)
	}
	defer doc.Close()

	placeholders := make(docx.PlaceholderMap, len(values))
	for k, v := range values {
		placeholders[k] = v
	}
	if err := doc.ReplaceAll(placeholders); err != nil {
		return fmt.Errorf("ошибка заполнения шаблона: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	if err := doc.WriteToFile(outPath); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", outPath, err)
	}
	return nil
}

// SofficeConverter конвертирует документ через LibreOffice в headless-режиме.
type SofficeConverter struct {
	Binary  string
	Timeout time.Duration
}

// Convert запускает soffice и ждёт PDF рядом с исходным именем в outDir.
func (c SofficeConverter) Convert(ctx context.Context, docxPath, outDir string) (string, error) {
	bin := c.Binary
	if bin == "" {
		bin = "soffice"
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, "--headless", "--convert-to", "pdf", "--outdir", outDir, docxPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ошибка конвертации в PDF: %w: %s", err, strings.TrimSpace(string(out)))
	}

	pdf := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(docxPath), filepath.Ext(docxPath))+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		return "", fmt.Errorf("PDF не создан: %w", err)
	}
	return pdf, nil
}
