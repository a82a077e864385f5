// Package storage реализует файл-ориентированное хранилище сотрудников
// (staff_map.json) и подписчиков на сводки.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"
)

// staffFile - формат staff_map.json.
type staffFile struct {
	Users []*models.User `json:"users"`
}

// Storage представляет файл-ориентированное хранилище данных приложения.
// Используется для чтения ролей и объектов сотрудников и списка подписчиков.
type Storage struct {
	users   map[int64]*models.User
	chatIDs []int64 // подписчики на ежедневную сводку
	mu      sync.RWMutex
	isDirty bool // Флаг изменения данных

	staffFile       string
	subscribersFile string

	metrics *metrics.Metrics
}

// NewStorage создает новое хранилище и загружает данные из указанных файлов.
func NewStorage(staffFile, subscribersFile string, m *metrics.Metrics) (*Storage, error) {
	s := &Storage{
		users:           make(map[int64]*models.User),
		chatIDs:         make([]int64, 0),
		staffFile:       staffFile,
		subscribersFile: subscribersFile,
		metrics:         m,
	}

	if err := s.loadData(); err != nil {
		return nil, err
	}

	return s, nil
}

// loadData загружает данные из файлов
func (s *Storage) loadData() error {
	users, err := s.readStaff()
	if err != nil {
		return err
	}
	var chatIDs []int64
	if err := s.loadJSON(s.subscribersFile, &chatIDs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка чтения %s: %w", s.subscribersFile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	if chatIDs != nil {
		s.chatIDs = chatIDs
	}
	return nil
}

func (s *Storage) readStaff() (map[int64]*models.User, error) {
	var f staffFile
	if err := s.loadJSON(s.staffFile, &f); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка чтения %s: %w", s.staffFile, err)
	}
	users := make(map[int64]*models.User, len(f.Users))
	for _, u := range f.Users {
		if u == nil || u.TgID == 0 {
			continue
		}
		u.Role, _ = models.ParseRole(string(u.Role))
		users[u.TgID] = u
	}
	return users, nil
}

// Reload перечитывает staff_map.json, например после ручной правки файла.
func (s *Storage) Reload() error {
	users, err := s.readStaff()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	return nil
}

// SaveData сохраняет текущие данные в файлы, если есть изменения.
// Осуществляет атомарную запись через временные файлы.
func (s *Storage) SaveData() error {
	s.mu.RLock()
	if !s.isDirty {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Storage) saveLocked() error {
	if err := s.saveJSON(s.staffFile, staffFile{Users: s.sortedLocked()}); err != nil {
		return err
	}
	if err := s.saveJSON(s.subscribersFile, s.chatIDs); err != nil {
		return err
	}
	s.isDirty = false
	return nil
}

// loadJSON загружает данные из JSON файла
func (s *Storage) loadJSON(filename string, v interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// saveJSON сохраняет данные в JSON файл
func (s *Storage) saveJSON(filename string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Записываем в временный файл и затем переименовываем - атомарная запись
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

// AddChatID подписывает чат на ежедневную сводку. Возвращает false, если чат уже подписан.
func (s *Storage) AddChatID(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.chatIDs {
		if id == chatID {
			return false
		}
	}
	s.chatIDs = append(s.chatIDs, chatID)
	s.isDirty = true
	return true
}

// RemoveChatID отписывает чат. Возвращает false, если чат не был подписан.
func (s *Storage) RemoveChatID(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.chatIDs {
		if id == chatID {
			s.chatIDs = append(s.chatIDs[:i], s.chatIDs[i+1:]...)
			s.isDirty = true
			return true
		}
	}
	return false
}

// GetChatIDs возвращает копию списка идентификаторов чатов.
func (s *Storage) GetChatIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]int64, len(s.chatIDs))
	copy(result, s.chatIDs)
	return result
}

func (s *Storage) sortedLocked() []*models.User {
	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].TgID < users[j].TgID })
	return users
}
