package bot

import (
	"fmt"
	"strings"

	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

// visible сообщает, может ли сотрудник смотреть данные объекта.
// В отличие от ввода данных, просмотр разрешён и роли VIEW.
func visible(u *models.User, objectID int64) bool {
	if u == nil {
		return false
	}
	if u.Role.IsAdmin() {
		return true
	}
	for _, id := range u.Objects {
		if id == objectID {
			return true
		}
	}
	return false
}

// handleObjects выводит доступные сотруднику объекты.
func (b *Bot) handleObjects(c telebot.Context) error {
	u := b.user(c)
	if u == nil {
		return c.Send("Вы не зарегистрированы. Обратитесь к администратору.")
	}
	objects, err := b.objects.Load(b.ctx)
	if err != nil {
		b.log.Error("ошибка загрузки объектов", zap.Error(err))
		return c.Send("❌ CRM не отвечает. Попробуйте позже.", mainMenu)
	}
	var mine []models.Object
	for _, o := range objects {
		if visible(u, o.ID) {
			mine = append(mine, o)
		}
	}
	if len(mine) == 0 {
		return c.Send("Нет доступных вам объектов.", mainMenu)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Ваши объекты (%d):\n", len(mine))
	for _, o := range mine {
		fmt.Fprintf(&sb, "• %s (#%d)\n", o.Label(), o.ID)
	}
	return c.Send(strings.TrimRight(sb.String(), "\n"), mainMenu)
}

// handleSubscribe включает ежедневную сводку для чата.
func (b *Bot) handleSubscribe(c telebot.Context) error {
	if b.user(c) == nil {
		return c.Send("Вы не зарегистрированы. Обратитесь к администратору.")
	}
	if !b.storage.AddChatID(c.Chat().ID) {
		return c.Send("Чат уже подписан на сводку.", mainMenu)
	}
	if err := b.storage.SaveData(); err != nil {
		b.log.Error("ошибка сохранения подписчиков", zap.Error(err))
	}
	return c.Send("Подписка оформлена. Сводка приходит ежедневно.", mainMenu)
}

// handleUnsubscribe отключает сводку.
func (b *Bot) handleUnsubscribe(c telebot.Context) error {
	if !b.storage.RemoveChatID(c.Chat().ID) {
		return c.Send("Чат не был подписан.", mainMenu)
	}
	if err := b.storage.SaveData(); err != nil {
		b.log.Error("ошибка сохранения подписчиков", zap.Error(err))
	}
	return c.Send("Подписка отменена.", mainMenu)
}

// handleStatus показывает роль, объекты и активный диалог; администраторам
// также снимок метрик.
func (b *Bot) handleStatus(c telebot.Context) error {
	u := b.user(c)
	if u == nil {
		return c.Send(fmt.Sprintf("Вы не зарегистрированы. Ваш ID: %d", c.Sender().ID))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Сотрудник: %s\nРоль: %s\n", displayName(*u), u.Role)
	switch {
	case u.Role.IsAdmin():
		sb.WriteString("Объекты: все\n")
	case len(u.Objects) > 0:
		fmt.Fprintf(&sb, "Объекты: %s\n", joinIDs(u.Objects))
	default:
		sb.WriteString("Объекты: не назначены\n")
	}
	if name, ok := b.engine.Active(b.ctx, keyOf(c)); ok {
		fmt.Fprintf(&sb, "Активный диалог: %s\n", name)
	} else {
		sb.WriteString("Активного диалога нет\n")
	}

	if u.Role.IsAdmin() && b.metrics != nil {
		stats := b.metrics.GetStats()
		sb.WriteString("\nМетрики:\n")
		for _, name := range metrics.StatNames(stats) {
			fmt.Fprintf(&sb, "%s: %g\n", name, stats[name])
		}
		fmt.Fprintf(&sb, "Очереди пользователей: %d\n", b.lanes.Active())
	}
	return c.Send(strings.TrimRight(sb.String(), "\n"), mainMenu)
}
