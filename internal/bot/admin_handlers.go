package bot

import (
	"fmt"
	"strconv"
	"strings"

	"foreman_bot/internal/models"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

const bindUsage = "Используйте команду так: /bind_user <tg_id> <OWNER|ADMIN|FOREMAN|VIEW> [id объектов через запятую]"

// parseBindArgs разбирает аргументы /bind_user.
func parseBindArgs(payload string) (models.User, error) {
	args := strings.Fields(payload)
	if len(args) < 2 || len(args) > 3 {
		return models.User{}, fmt.Errorf("неверное число аргументов")
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || tgID <= 0 {
		return models.User{}, fmt.Errorf("неверный Telegram ID %q", args[0])
	}
	role, ok := models.ParseRole(args[1])
	if !ok {
		return models.User{}, fmt.Errorf("неизвестная роль %q", args[1])
	}
	user := models.User{TgID: tgID, Role: role}
	if len(args) == 3 {
		for _, part := range strings.Split(args[2], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return models.User{}, fmt.Errorf("неверный id объекта %q", part)
			}
			user.Objects = append(user.Objects, id)
		}
	}
	return user, nil
}

// handleBindUser назначает роль и объекты сотруднику.
func (b *Bot) handleBindUser(c telebot.Context) error {
	sender := b.user(c)
	if sender == nil || !sender.Role.IsAdmin() {
		return c.Send("Эта команда доступна только администраторам.")
	}

	target, err := parseBindArgs(c.Message().Payload)
	if err != nil {
		return c.Send(fmt.Sprintf("%s.\n%s", err.Error(), bindUsage))
	}
	if target.Role == models.RoleOwner && sender.Role != models.RoleOwner {
		return c.Send("Назначить владельца может только владелец.")
	}
	if old, ok := b.storage.GetUser(target.TgID); ok && old.Role == models.RoleOwner && sender.Role != models.RoleOwner {
		return c.Send("Изменить владельца может только владелец.")
	}

	if err := b.storage.BindUser(target); err != nil {
		b.log.Error("ошибка привязки сотрудника", zap.Int64("tg_id", target.TgID), zap.Error(err))
		return c.Send("Произошла ошибка при сохранении изменений.")
	}
	b.log.Info("сотрудник привязан",
		zap.Int64("admin", sender.TgID), zap.Int64("tg_id", target.TgID),
		zap.String("role", string(target.Role)), zap.Int64s("objects", target.Objects))

	text := fmt.Sprintf("Сотрудник %d: роль %s", target.TgID, target.Role)
	if len(target.Objects) > 0 {
		text += ", объекты " + joinIDs(target.Objects)
	}
	return c.Send(text + ".")
}

// handleWho выводит список сотрудников.
func (b *Bot) handleWho(c telebot.Context) error {
	sender := b.user(c)
	if sender == nil || !sender.Role.IsAdmin() {
		return c.Send("Эта команда доступна только администраторам.")
	}
	users := b.storage.GetAllUsers()
	if len(users) == 0 {
		return c.Send("Список сотрудников пуст.")
	}
	return c.Send(formatUsers(users))
}

func formatUsers(users []models.User) string {
	var sb strings.Builder
	sb.WriteString("Сотрудники:\n")
	for _, u := range users {
		fmt.Fprintf(&sb, "• %d %s — %s", u.TgID, displayName(u), u.Role)
		if len(u.Objects) > 0 {
			fmt.Fprintf(&sb, " [%s]", joinIDs(u.Objects))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
