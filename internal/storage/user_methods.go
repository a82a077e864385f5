package storage

import (
	"fmt"

	"foreman_bot/internal/models"
)

// GetUser возвращает копию пользователя по Telegram ID и флаг, найден ли он.
func (s *Storage) GetUser(tgID int64) (*models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[tgID]
	if !ok {
		return nil, false
	}
	cp := *u
	cp.Objects = append([]int64(nil), u.Objects...)
	return &cp, true
}

// GetAllUsers возвращает пользователей, упорядоченных по Telegram ID.
func (s *Storage) GetAllUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.sortedLocked() {
		out = append(out, *u)
	}
	return out
}

// AllowedForObject: OWNER и ADMIN видят все объекты, FOREMAN - только свои.
func (s *Storage) AllowedForObject(tgID, objectID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[tgID]
	if !ok {
		return false
	}
	switch u.Role {
	case models.RoleOwner, models.RoleAdmin:
		return true
	case models.RoleForeman:
		for _, id := range u.Objects {
			if id == objectID {
				return true
			}
		}
	}
	return false
}

// BindUser создает или обновляет сотрудника и сразу сохраняет файл
// сотрудников. Если файл записать не удалось, изменение откатывается.
func (s *Storage) BindUser(user models.User) error {
	role, ok := models.ParseRole(string(user.Role))
	if !ok {
		return fmt.Errorf("неизвестная роль %q", user.Role)
	}
	if user.TgID == 0 {
		return fmt.Errorf("не указан Telegram ID")
	}
	user.Role = role

	s.mu.Lock()
	defer s.mu.Unlock()
	old, existed := s.users[user.TgID]
	if existed {
		if user.ChatID == 0 {
			user.ChatID = old.ChatID
		}
		if user.Name == "" {
			user.Name = old.Name
		}
	}
	s.users[user.TgID] = &user
	if err := s.saveJSON(s.staffFile, staffFile{Users: s.sortedLocked()}); err != nil {
		if existed {
			s.users[user.TgID] = old
		} else {
			delete(s.users, user.TgID)
		}
		return fmt.Errorf("ошибка сохранения %s: %w", s.staffFile, err)
	}
	if s.metrics != nil {
		s.metrics.IncAdminActions()
	}
	return nil
}

// TouchChat запоминает чат, из которого пишет известный сотрудник.
func (s *Storage) TouchChat(tgID, chatID int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tgID]
	if !ok {
		return
	}
	if u.ChatID != chatID {
		u.ChatID = chatID
		s.isDirty = true
	}
	if u.Name == "" && name != "" {
		u.Name = name
		s.isDirty = true
	}
}

// HasAdmins проверяет, есть ли хотя бы один администратор
func (s *Storage) HasAdmins() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Role.IsAdmin() {
			return true
		}
	}
	return false
}
