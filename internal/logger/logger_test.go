package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")

	w, err := NewRotateWriter(path, 16, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "ожидался текущий и архивный файл")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestRotateWriterRotatesByAge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")

	w, err := NewRotateWriter(path, 0, time.Hour)
	require.NoError(t, err)
	defer w.Close()

	base := time.Now()
	w.now = func() time.Time { return base.Add(2 * time.Hour) }

	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNewWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")

	log, w, err := NewFileLogger("info", path, 0, 0)
	require.NoError(t, err)
	log.Info("смена создана")
	_ = log.Sync()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"смена создана"`))
}
