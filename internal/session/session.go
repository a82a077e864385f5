// Package session хранит состояние диалогов, ключ - пара (чат, пользователь).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"foreman_bot/internal/models"
)

// ErrNoSession - у пользователя нет активного диалога.
var ErrNoSession = errors.New("нет активного диалога")

// Key идентифицирует диалог.
type Key struct {
	ChatID int64
	UserID int64
}

func (k Key) String() string {
	return strconv.FormatInt(k.ChatID, 10) + ":" + strconv.FormatInt(k.UserID, 10)
}

// Session - состояние одного диалога.
type Session struct {
	Flow      string            `json:"flow"`
	State     string            `json:"state"`
	Data      map[string]string `json:"data"`
	Objects   []models.Object   `json:"objects,omitempty"`
	Page      int               `json:"page"`
	Media     []models.Media    `json:"media,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New создает пустую сессию сценария.
func New(flow string) *Session {
	return &Session{Flow: flow, Data: make(map[string]string)}
}

// Get возвращает значение из данных сессии.
func (s *Session) Get(key string) string {
	if s.Data == nil {
		return ""
	}
	return s.Data[key]
}

// Set записывает значение в данные сессии.
func (s *Session) Set(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

// Int64 читает целое значение из данных сессии.
func (s *Session) Int64(key string) int64 {
	n, _ := strconv.ParseInt(s.Get(key), 10, 64)
	return n
}

// SetInt64 записывает целое значение.
func (s *Session) SetInt64(key string, v int64) {
	s.Set(key, strconv.FormatInt(v, 10))
}

// Float читает число из данных сессии.
func (s *Session) Float(key string) float64 {
	f, _ := strconv.ParseFloat(s.Get(key), 64)
	return f
}

// SetFloat записывает число.
func (s *Session) SetFloat(key string, v float64) {
	s.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
}

// Store - хранилище сессий.
type Store interface {
	Load(ctx context.Context, key Key) (*Session, error)
	Save(ctx context.Context, key Key, s *Session) error
	Delete(ctx context.Context, key Key) error
}

// MemoryStore хранит сессии в памяти процесса; после перезапуска они теряются.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[Key][]byte
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore создает хранилище в памяти. ttl = 0 - без срока жизни.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{sessions: make(map[Key][]byte), ttl: ttl, now: time.Now}
}

// Load возвращает копию сессии или ErrNoSession.
func (m *MemoryStore) Load(_ context.Context, key Key) (*Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNoSession
	}
	s, err := decode(data)
	if err != nil {
		return nil, err
	}
	if m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl {
		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	return s, nil
}

// Save сохраняет снимок сессии.
func (m *MemoryStore) Save(_ context.Context, key Key, s *Session) error {
	s.UpdatedAt = m.now()
	data, err := encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[key] = data
	m.mu.Unlock()
	return nil
}

// Delete удаляет сессию.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	return nil
}

// Len возвращает число сессий.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func encode(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сессии: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("ошибка разбора сессии: %w", err)
	}
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	return &s, nil
}
