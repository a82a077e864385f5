// Package bot связывает Telegram с диалогами ввода данных и справочниками.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"foreman_bot/internal/flow"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"
	"foreman_bot/internal/session"
	"foreman_bot/internal/shift"
	"foreman_bot/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

// Кнопки основного меню
var (
	mainMenu     = &telebot.ReplyMarkup{ResizeKeyboard: true}
	btnPlan      = mainMenu.Text("📋 План")
	btnReport    = mainMenu.Text("📝 Отчёт")
	btnResource  = mainMenu.Text("🚜 Ресурсы")
	btnTimesheet = mainMenu.Text("👷 Табель")
	btnObjects   = mainMenu.Text("🏗 Объекты")
	btnLPA       = mainMenu.Text("📄 ЛПА")
	btnSummary   = mainMenu.Text("📊 Сводка за день")
	btnSubscribe = mainMenu.Text("🔔 Подписаться")
	btnUnsub     = mainMenu.Text("🔕 Отписаться")
	btnStatus    = mainMenu.Text("ℹ️ Статус")
	btnInsights  = mainMenu.Text("📈 Аналитика")
)

// Внутренние команды вспомогательных кнопок.
const (
	cmdObjects     = "objects"
	cmdSummary     = "summary"
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdStatus      = "status"
	cmdInsights    = "insights"
)

// menuCommands переводит подпись кнопки в сценарий или команду.
var menuCommands = map[string]string{
	btnPlan.Text:      flow.Plan,
	btnReport.Text:    flow.Report,
	btnResource.Text:  flow.Resource,
	btnTimesheet.Text: flow.Timesheet,
	btnLPA.Text:       flow.LPA,
	btnObjects.Text:   cmdObjects,
	btnSummary.Text:   cmdSummary,
	btnSubscribe.Text: cmdSubscribe,
	btnUnsub.Text:     cmdUnsubscribe,
	btnStatus.Text:    cmdStatus,
	btnInsights.Text:  cmdInsights,
}

func init() {
	mainMenu.Reply(
		mainMenu.Row(btnPlan, btnReport),
		mainMenu.Row(btnResource, btnTimesheet),
		mainMenu.Row(btnObjects, btnLPA),
		mainMenu.Row(btnSummary, btnStatus),
		mainMenu.Row(btnSubscribe, btnUnsub),
		mainMenu.Row(btnInsights),
	)
}

// Summaries - выборка смен за день.
type Summaries interface {
	Daily(ctx context.Context, date string) ([]shift.Summary, error)
}

// Settings - параметры подключения к Telegram.
type Settings struct {
	Token       string
	PollTimeout time.Duration
	// Offline - не обращаться к Telegram при создании (для тестов).
	Offline bool
}

// NewTelegram создает клиента Telegram. Обработчики вызываются по одному,
// параллельность обеспечивают очереди по пользователям.
func NewTelegram(s Settings, log *zap.Logger) (*telebot.Bot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = 10 * time.Second
	}
	tb, err := telebot.NewBot(telebot.Settings{
		Token:       s.Token,
		Poller:      &telebot.LongPoller{Timeout: s.PollTimeout},
		Synchronous: true,
		Offline:     s.Offline,
		OnError: func(err error, c telebot.Context) {
			log.Error("ошибка обработки обновления", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания бота: %w", err)
	}
	return tb, nil
}

// Bot представляет Telegram бота
type Bot struct {
	bot     *telebot.Bot
	storage *storage.Storage
	engine  *flow.Engine
	objects flow.Objects
	daily   Summaries
	lanes   *session.Lanes
	metrics *metrics.Metrics
	log     *zap.Logger
	loc     *time.Location
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBot создает бота поверх готового клиента Telegram.
func NewBot(tb *telebot.Bot, st *storage.Storage, engine *flow.Engine, objects flow.Objects, daily Summaries,
	loc *time.Location, m *metrics.Metrics, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		bot:     tb,
		storage: st,
		engine:  engine,
		objects: objects,
		daily:   daily,
		lanes:   session.NewLanes(),
		metrics: m,
		log:     log.Named("bot"),
		loc:     loc,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	b.setupHandlers()
	return b
}

// setupHandlers настраивает обработчики команд
func (b *Bot) setupHandlers() {
	b.bot.Use(b.serialize)

	// Стандартные команды
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/menu", b.handleMenu)
	b.bot.Handle("/help", b.handleHelp)
	b.bot.Handle("/cancel", b.handleCancel)

	// Команды администратора
	b.bot.Handle("/bind_user", b.handleBindUser)
	b.bot.Handle("/who", b.handleWho)

	// Кнопки меню
	for _, btn := range []telebot.Btn{btnPlan, btnReport, btnResource, btnTimesheet, btnLPA,
		btnObjects, btnSummary, btnSubscribe, btnUnsub, btnStatus, btnInsights} {
		btn := btn
		b.bot.Handle(&btn, b.menuHandler(menuCommands[btn.Text]))
	}

	b.bot.Handle(telebot.OnCallback, b.handleCallback)
	b.bot.Handle(telebot.OnText, b.handleMessage)
	b.bot.Handle(telebot.OnPhoto, b.handlePhoto)
	b.bot.Handle(telebot.OnDocument, b.handleDocument)
}

// serialize ставит обновление в очередь его пользователя. Обновления одного
// пользователя обрабатываются строго по порядку, разных - параллельно.
func (b *Bot) serialize(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if c.Sender() == nil || c.Chat() == nil {
			return next(c)
		}
		key := keyOf(c)
		turnID := uuid.NewString()
		c.Set("turn", turnID)
		accepted := b.lanes.Submit(key, func() {
			if err := next(c); err != nil {
				b.log.Error("ошибка обработки сообщения",
					zap.String("turn", turnID), zap.String("key", key.String()), zap.Error(err))
			}
		})
		if !accepted {
			b.log.Debug("обновление отброшено при остановке", zap.String("key", key.String()))
		}
		return nil
	}
}

func keyOf(c telebot.Context) session.Key {
	return session.Key{ChatID: c.Chat().ID, UserID: c.Sender().ID}
}

// user возвращает сотрудника и запоминает его чат.
func (b *Bot) user(c telebot.Context) *models.User {
	u, ok := b.storage.GetUser(c.Sender().ID)
	if !ok {
		return nil
	}
	b.storage.TouchChat(c.Sender().ID, c.Chat().ID, senderName(c.Sender()))
	return u
}

func senderName(u *telebot.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Start запускает приём обновлений. Блокирует до вызова Stop.
func (b *Bot) Start() {
	b.log.Info("бот запущен")
	b.bot.Start()
}

// Stop прекращает приём обновлений и дожидается начатых ходов.
func (b *Bot) Stop() {
	b.bot.Stop()
	b.lanes.Close()
	b.cancel()
	if err := b.storage.SaveData(); err != nil {
		b.log.Error("ошибка сохранения данных", zap.Error(err))
	}
	b.log.Info("бот остановлен")
}

// handleStart обрабатывает команду /start
func (b *Bot) handleStart(c telebot.Context) error {
	if u := b.user(c); u != nil {
		return c.Send(fmt.Sprintf("Здравствуйте, %s! Ваша роль: %s.", displayName(*u), u.Role), mainMenu)
	}

	// Первый пользователь становится владельцем
	if !b.storage.HasAdmins() {
		owner := models.User{
			TgID:   c.Sender().ID,
			ChatID: c.Chat().ID,
			Role:   models.RoleOwner,
			Name:   senderName(c.Sender()),
		}
		if err := b.storage.BindUser(owner); err != nil {
			b.log.Error("ошибка назначения владельца", zap.Error(err))
			return c.Send("Не удалось сохранить данные. Попробуйте позже.")
		}
		b.log.Info("назначен первый владелец", zap.Int64("tg_id", owner.TgID))
		return c.Send("Добро пожаловать! Вы назначены владельцем системы.\n"+
			"Добавляйте сотрудников командой /bind_user.", mainMenu)
	}

	return c.Send(fmt.Sprintf("Вы не зарегистрированы. Передайте администратору ваш ID: %d", c.Sender().ID))
}

// handleMenu показывает главное меню.
func (b *Bot) handleMenu(c telebot.Context) error {
	if b.user(c) == nil {
		return c.Send("Вы не зарегистрированы. Обратитесь к администратору.")
	}
	return c.Send("Выберите действие:", mainMenu)
}

// handleHelp обрабатывает команду /help
func (b *Bot) handleHelp(c telebot.Context) error {
	u := b.user(c)
	text := `Доступные команды:
/start - Начать работу с ботом
/menu - Показать меню
/cancel - Отменить текущее действие
/help - Показать это сообщение`
	if u == nil {
		return c.Send(text)
	}
	if u.Role.IsAdmin() {
		text += `

Администрирование:
/bind_user <tg_id> <РОЛЬ> [id объектов через запятую]
/who - Список сотрудников`
	}
	return c.Send(text, mainMenu)
}

// handleCancel сбрасывает активный диалог.
func (b *Bot) handleCancel(c telebot.Context) error {
	reply, err := b.engine.Cancel(b.ctx, keyOf(c))
	if err != nil {
		return err
	}
	return b.send(c, reply)
}

// menuHandler связывает кнопку меню с командой.
func (b *Bot) menuHandler(cmd string) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		switch cmd {
		case cmdObjects:
			return b.handleObjects(c)
		case cmdSummary:
			return b.handleSummary(c)
		case cmdSubscribe:
			return b.handleSubscribe(c)
		case cmdUnsubscribe:
			return b.handleUnsubscribe(c)
		case cmdStatus:
			return b.handleStatus(c)
		case cmdInsights:
			return c.Send("Аналитика пока недоступна.", mainMenu)
		}
		return b.startFlow(c, cmd)
	}
}

func displayName(u models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return fmt.Sprintf("id%d", u.TgID)
}
