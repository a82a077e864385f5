// Package logger настраивает структурированное логирование (zap) с записью
// в файл с ротацией по размеру и возрасту.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RotateWriter реализует ротацию логов по размеру и времени.
// Используется как io.Writer для логирования с автоматическим архивированием.
type RotateWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64
	maxAge      time.Duration
	currentSize int64
	file        *os.File
	created     time.Time
	now         func() time.Time
}

// NewRotateWriter создает новый RotateWriter для указанного файла.
// maxSize - максимальный размер файла перед ротацией, maxAge - максимальный возраст файла.
func NewRotateWriter(filename string, maxSize int64, maxAge time.Duration) (*RotateWriter, error) {
	w := &RotateWriter{
		filename: filename,
		maxSize:  maxSize,
		maxAge:   maxAge,
		now:      time.Now,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write записывает данные в файл и выполняет ротацию при необходимости.
func (w *RotateWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.openFile(); err != nil {
			return 0, err
		}
	}

	if w.shouldRotate(int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Sync сбрасывает буферы файла на диск.
func (w *RotateWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close закрывает текущий файл логов.
func (w *RotateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

func (w *RotateWriter) closeFile() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// shouldRotate проверяет необходимость ротации
func (w *RotateWriter) shouldRotate(size int64) bool {
	if w.maxSize > 0 && w.currentSize+size > w.maxSize {
		return true
	}
	if w.maxAge > 0 && w.now().Sub(w.created) > w.maxAge {
		return true
	}
	return false
}

// rotate выполняет ротацию файла лога
func (w *RotateWriter) rotate() error {
	if err := w.closeFile(); err != nil {
		return err
	}

	timestamp := w.now().Format("2006-01-02_15-04-05.000")
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	archived := filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, timestamp, ext))

	if err := os.Rename(w.filename, archived); err != nil && !os.IsNotExist(err) {
		return err
	}

	return w.openFile()
}

// openFile открывает новый файл для записи
func (w *RotateWriter) openFile() error {
	dir := filepath.Dir(w.filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Ошибка закрытия файла логов после Stat: %v\n", cerr)
		}
		return err
	}

	w.file = f
	w.currentSize = info.Size()
	w.created = w.now()
	return nil
}

// New создает zap-логгер, пишущий JSON в stdout и в переданный writer.
// Уровень "debug" дополнительно включает консольный формат для stdout.
func New(level string, file io.Writer) *zap.Logger {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	stdoutEnc := zapcore.NewJSONEncoder(encCfg)
	if lvl.Level() == zapcore.DebugLevel {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		stdoutEnc = zapcore.NewConsoleEncoder(consoleCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEnc, zapcore.Lock(os.Stdout), lvl),
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), lvl))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// NewFileLogger создает RotateWriter и логгер поверх него.
func NewFileLogger(level, filename string, maxSize int64, maxAge time.Duration) (*zap.Logger, *RotateWriter, error) {
	w, err := NewRotateWriter(filename, maxSize, maxAge)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка создания писателя логов: %w", err)
	}
	return New(level, w), w, nil
}
