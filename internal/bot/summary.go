package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"
	"foreman_bot/internal/shift"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

// formatSummary собирает текст сводки. keep отбирает смены, nil - все.
func formatSummary(date string, shifts []shift.Summary, keep func(shift.Summary) bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Сводка за %s\n", models.DisplayDate(date))

	var plan, fact float64
	n := 0
	for _, s := range shifts {
		if keep != nil && !keep(s) {
			continue
		}
		n++
		plan += s.PlanTotal
		fact += s.FactTotal
		status := "открыта"
		if s.Closed {
			status = "закрыта"
		}
		title := s.Title
		if title == "" {
			title = fmt.Sprintf("Смена #%d", s.ShiftID)
		}
		fmt.Fprintf(&sb, "• %s (%s): план %s, факт %s, %s\n", title,
			models.ShiftKind(s.ShiftType).Title(),
			normalize.FormatNumber(s.PlanTotal), normalize.FormatNumber(s.FactTotal), status)
	}
	if n == 0 {
		sb.WriteString("Смен за день нет.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Итого смен: %d, план %s, факт %s", n,
		normalize.FormatNumber(plan), normalize.FormatNumber(fact))
	return sb.String()
}

// handleSummary показывает сотруднику смены его объектов за сегодня.
func (b *Bot) handleSummary(c telebot.Context) error {
	u := b.user(c)
	if u == nil {
		return c.Send("Вы не зарегистрированы. Обратитесь к администратору.")
	}
	date := models.DateFor(b.now(), b.loc, 0)
	shifts, err := b.daily.Daily(b.ctx, date)
	if err != nil {
		b.log.Error("ошибка получения сводки", zap.String("date", date), zap.Error(err))
		return c.Send("❌ CRM не отвечает. Попробуйте позже.", mainMenu)
	}
	return c.Send(formatSummary(date, shifts, func(s shift.Summary) bool {
		return visible(u, s.ObjectID)
	}), mainMenu)
}

// SendDailySummary рассылает сводку за сегодня всем подписанным чатам.
func (b *Bot) SendDailySummary(ctx context.Context) error {
	chats := b.storage.GetChatIDs()
	if len(chats) == 0 {
		return nil
	}
	date := models.DateFor(b.now(), b.loc, 0)
	shifts, err := b.daily.Daily(ctx, date)
	if err != nil {
		return fmt.Errorf("ошибка получения сводки за %s: %w", date, err)
	}
	b.SendNotification(formatSummary(date, shifts, nil))
	return nil
}

// SendNotification отправляет сообщение всем подписанным чатам
func (b *Bot) SendNotification(message string) {
	for _, chatID := range b.storage.GetChatIDs() {
		if _, err := b.bot.Send(&telebot.Chat{ID: chatID}, message); err != nil {
			b.log.Warn("ошибка отправки уведомления", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// SummaryDue сообщает, пора ли рассылать сводку: наступил час hour по
// местному времени, а за сегодняшнюю дату рассылки ещё не было.
func SummaryDue(now time.Time, loc *time.Location, hour int, lastSent string) (string, bool) {
	if loc != nil {
		now = now.In(loc)
	}
	date := now.Format(models.DateLayout)
	return date, now.Hour() >= hour && date != lastSent
}
