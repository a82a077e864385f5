package bot

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"foreman_bot/internal/flow"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"
	"foreman_bot/internal/session"
	"foreman_bot/internal/shift"
	"foreman_bot/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

func TestMenuCommandsCoverEveryButton(t *testing.T) {
	var labels []string
	for _, row := range mainMenu.ReplyKeyboard {
		for _, btn := range row {
			labels = append(labels, btn.Text)
		}
	}
	require.Len(t, labels, len(menuCommands))
	for _, l := range labels {
		_, ok := menuCommands[l]
		assert.True(t, ok, l)
	}
	assert.Equal(t, flow.Plan, menuCommands[btnPlan.Text])
	assert.Equal(t, flow.LPA, menuCommands[btnLPA.Text])
	assert.Equal(t, cmdInsights, menuCommands[btnInsights.Text])
}

func TestInlineMarkupKeepsCallbackData(t *testing.T) {
	m := inlineMarkup([][]flow.Button{
		{{Text: "Квартал 7", Data: "obj:42"}, {Text: "▶️", Data: "obj:page:1"}},
		{{Text: "Отмена", Data: "cancel"}},
	})
	require.Len(t, m.InlineKeyboard, 2)
	assert.Equal(t, "obj:42", m.InlineKeyboard[0][0].Data)
	assert.Equal(t, "obj:page:1", m.InlineKeyboard[0][1].Data)
	assert.Empty(t, m.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "Отмена", m.InlineKeyboard[1][0].Text)
}

func TestParseBindArgs(t *testing.T) {
	u, err := parseBindArgs("555 foreman 42, 43")
	require.Error(t, err)

	u, err = parseBindArgs("555 foreman 42,43")
	require.NoError(t, err)
	assert.Equal(t, int64(555), u.TgID)
	assert.Equal(t, models.RoleForeman, u.Role)
	assert.Equal(t, []int64{42, 43}, u.Objects)

	u, err = parseBindArgs("7 ADMIN")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.Empty(t, u.Objects)

	for _, bad := range []string{"", "7", "x ADMIN", "7 BOSS", "7 FOREMAN 1,a", "-1 VIEW"} {
		_, err := parseBindArgs(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatUsers(t *testing.T) {
	text := formatUsers([]models.User{
		{TgID: 1, Role: models.RoleOwner, Name: "Иван"},
		{TgID: 2, Role: models.RoleForeman, Objects: []int64{42, 43}},
	})
	assert.Contains(t, text, "• 1 Иван — OWNER")
	assert.Contains(t, text, "• 2 id2 — FOREMAN [42,43]")
}

func TestVisible(t *testing.T) {
	admin := &models.User{TgID: 1, Role: models.RoleAdmin}
	viewer := &models.User{TgID: 3, Role: models.RoleView, Objects: []int64{42}}

	assert.True(t, visible(admin, 99))
	assert.True(t, visible(viewer, 42))
	assert.False(t, visible(viewer, 99))
	assert.False(t, visible(nil, 42))
}

func TestFormatSummary(t *testing.T) {
	shifts := []shift.Summary{
		{ShiftID: 1, ObjectID: 42, Title: "Квартал 7 — 15.10.2026", ShiftType: "day", PlanTotal: 180, FactTotal: 150, Closed: true},
		{ShiftID: 2, ObjectID: 99, ShiftType: "night", PlanTotal: 40},
	}
	text := formatSummary("2026-10-15", shifts, nil)
	assert.Contains(t, text, "Сводка за 15.10.2026")
	assert.Contains(t, text, "• Квартал 7 — 15.10.2026 (дневная): план 180, факт 150, закрыта")
	assert.Contains(t, text, "• Смена #2 (ночная): план 40, факт 0, открыта")
	assert.Contains(t, text, "Итого смен: 2, план 220, факт 150")

	text = formatSummary("2026-10-15", shifts, func(s shift.Summary) bool { return s.ObjectID == 7 })
	assert.Contains(t, text, "Смен за день нет.")
}

func newTestBot(t *testing.T) *Bot {
	t.Helper()
	dir := t.TempDir()
	staff := filepath.Join(dir, "staff_map.json")
	require.NoError(t, os.WriteFile(staff, []byte(`{"users": []}`), 0644))
	st, err := storage.NewStorage(staff, filepath.Join(dir, "subscribers.json"), metrics.NewMetrics())
	require.NoError(t, err)

	tb, err := NewTelegram(Settings{Token: "test", Offline: true}, zap.NewNop())
	require.NoError(t, err)
	engine := flow.NewEngine(session.NewMemoryStore(time.Hour), flow.Deps{}, nil, zap.NewNop())
	return NewBot(tb, st, engine, nil, nil, time.UTC, metrics.NewMetrics(), zap.NewNop())
}

func TestSerializeKeepsOrderPerUser(t *testing.T) {
	b := newTestBot(t)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	const n = 20
	wg.Add(n)
	h := b.serialize(func(c telebot.Context) error {
		defer wg.Done()
		mu.Lock()
		got = append(got, c.Message().ID)
		mu.Unlock()
		return nil
	})

	for i := 0; i < n; i++ {
		c := b.bot.NewContext(telebot.Update{Message: &telebot.Message{
			ID:     i,
			Sender: &telebot.User{ID: 5},
			Chat:   &telebot.Chat{ID: 50},
		}})
		require.NoError(t, h(c))
	}
	wg.Wait()
	b.lanes.Close()

	require.Len(t, got, n)
	for i := range got {
		assert.Equal(t, i, got[i])
	}
}

func TestSummaryDue(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	// 16:30 UTC = 19:30 MSK
	now := time.Date(2026, 10, 15, 16, 30, 0, 0, time.UTC)

	date, due := SummaryDue(now, msk, 19, "")
	assert.True(t, due)
	assert.Equal(t, "2026-10-15", date)

	_, due = SummaryDue(now, msk, 19, "2026-10-15")
	assert.False(t, due)

	_, due = SummaryDue(now, msk, 20, "2026-10-14")
	assert.False(t, due)
}
