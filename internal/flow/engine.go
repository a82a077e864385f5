// Package flow ведёт пошаговые диалоги ввода данных: план, отчёт, ресурсы,
// табель и формирование ЛПА. Пакет не зависит от мессенджера: на вход
// приходит Input, на выход уходит Reply.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foreman_bot/internal/api"
	"foreman_bot/internal/catalog"
	"foreman_bot/internal/docgen"
	"foreman_bot/internal/fieldmap"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"
	"foreman_bot/internal/normalize"
	"foreman_bot/internal/session"
	"foreman_bot/internal/shift"
	"foreman_bot/internal/uploader"

	"go.uber.org/zap"
)

// Названия сценариев.
const (
	Plan      = "plan"
	Report    = "report"
	Resource  = "resource"
	Timesheet = "timesheet"
	LPA       = "lpa"
)

// Button - кнопка встроенной клавиатуры.
type Button struct {
	Text string
	Data string
}

// Reply - ответ пользователю.
type Reply struct {
	Text    string
	Buttons [][]Button
	// Edit - заменить клавиатуру предыдущего сообщения (листание страниц).
	Edit bool
	// MainMenu - диалог завершён, показать главное меню.
	MainMenu bool
	// Files - пути к файлам, которые нужно отправить в чат.
	Files []string
}

// Input - одно обновление от пользователя.
type Input struct {
	Text     string
	Callback string
	Media    []models.Media
}

// Objects - источник справочника объектов.
type Objects interface {
	Load(ctx context.Context) ([]models.Object, error)
}

// Shifts - поиск и создание смен.
type Shifts interface {
	GetOrCreate(ctx context.Context, obj models.Object, date string, create bool) (int64, bool, error)
}

// CRM - изменяющие методы и чтение записи.
type CRM interface {
	AddItem(ctx context.Context, entityTypeID int, fields map[string]any) (api.Item, error)
	UpdateItem(ctx context.Context, entityTypeID int, id int64, fields map[string]any) (api.Item, error)
	GetItem(ctx context.Context, entityTypeID int, id int64) (api.Item, error)
}

// Uploader загружает фото из чата в поле записи.
type Uploader interface {
	UploadMedia(ctx context.Context, t uploader.Target, media []models.Media) (int, error)
}

// Documents формирует ЛПА по смене.
type Documents interface {
	Generate(ctx context.Context, shiftID int64, obj models.Object) (*docgen.Result, error)
}

// Deps - компоненты, через которые сценарии работают с CRM.
type Deps struct {
	Objects   Objects
	ACL       catalog.ACL
	Shifts    Shifts
	CRM       CRM
	Fields    *fieldmap.Resolver
	Entities  fieldmap.Entities
	Uploader  Uploader
	Documents Documents
	Location  *time.Location
	Now       func() time.Time
}

// Engine хранит сессии и передаёт обновления нужному сценарию.
// Вызовы для одного ключа должны идти последовательно (см. session.Lanes).
type Engine struct {
	store   session.Store
	deps    Deps
	flows   map[string]flow
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewEngine создает движок диалогов.
func NewEngine(store session.Store, deps Deps, m *metrics.Metrics, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	e := &Engine{store: store, deps: deps, metrics: m, log: log.Named("flow")}
	e.flows = map[string]flow{
		Plan:      planFlow{},
		Report:    reportFlow{},
		Resource:  resourceFlow{},
		Timesheet: timesheetFlow{},
		LPA:       lpaFlow{},
	}
	return e
}

// turn - контекст одного шага сценария.
type turn struct {
	e    *Engine
	s    *session.Session
	user *models.User
	in   Input
	// done - сценарий завершён, сессию нужно удалить.
	done bool
}

func (t *turn) finish(text string) (Reply, error) {
	t.done = true
	return Reply{Text: text, MainMenu: true}, nil
}

type flow interface {
	// begin вызывается после выбора объекта пользователем.
	begin(ctx context.Context, t *turn) (Reply, error)
	// step обрабатывает ввод в текущем состоянии.
	step(ctx context.Context, t *turn) (Reply, error)
}

// Start начинает сценарий с выбора объекта. Незавершённый диалог
// пользователя сбрасывается.
func (e *Engine) Start(ctx context.Context, key session.Key, name string, user *models.User) (Reply, error) {
	if _, ok := e.flows[name]; !ok {
		return Reply{}, fmt.Errorf("неизвестный сценарий %q", name)
	}
	if user == nil {
		return Reply{Text: "Вы не зарегистрированы. Обратитесь к администратору.", MainMenu: true}, nil
	}
	if user.Role == models.RoleView {
		return Reply{Text: "Ваша роль позволяет только просматривать данные.", MainMenu: true}, nil
	}

	_, err := e.store.Load(ctx, key)
	if errors.Is(err, session.ErrNoSession) {
		if e.metrics != nil {
			e.metrics.IncActiveSessions()
		}
	} else if err != nil {
		return Reply{}, err
	}

	objects, err := e.deps.Objects.Load(ctx)
	if err != nil {
		e.clear(ctx, key)
		return e.translate(name, err), nil
	}
	objects = catalog.FilterAllowed(objects, user.TgID, e.deps.ACL)
	if len(objects) == 0 {
		e.clear(ctx, key)
		return Reply{Text: "Нет доступных вам объектов.", MainMenu: true}, nil
	}

	s := session.New(name)
	s.State = statePickObject
	s.Objects = objects
	if err := e.store.Save(ctx, key, s); err != nil {
		return Reply{}, err
	}
	e.log.Debug("начат сценарий", zap.String("flow", name), zap.String("key", key.String()))
	return objectPage(s, titles[name], false), nil
}

// Handle передаёт ввод активному сценарию пользователя.
func (e *Engine) Handle(ctx context.Context, key session.Key, user *models.User, in Input) (Reply, error) {
	s, err := e.store.Load(ctx, key)
	if errors.Is(err, session.ErrNoSession) {
		return Reply{Text: "Нет активного диалога. Выберите действие в меню.", MainMenu: true}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	if in.Callback == cbCancel {
		return e.Cancel(ctx, key)
	}
	f, ok := e.flows[s.Flow]
	if !ok || user == nil {
		e.clear(ctx, key)
		return Reply{Text: "Диалог сброшен. Начните заново.", MainMenu: true}, nil
	}

	t := &turn{e: e, s: s, user: user, in: in}
	var reply Reply
	if s.State == statePickObject {
		reply, err = e.pickObject(ctx, t, f)
	} else {
		reply, err = f.step(ctx, t)
	}

	if err != nil {
		var uie *normalize.UserInputError
		if errors.As(err, &uie) {
			return Reply{Text: "⚠️ " + uie.Message}, nil
		}
		e.log.Warn("сценарий прерван", zap.String("flow", s.Flow), zap.String("state", s.State),
			zap.String("key", key.String()), zap.Error(err))
		e.clear(ctx, key)
		return e.translate(s.Flow, err), nil
	}

	if t.done {
		e.clear(ctx, key)
		e.commit(s.Flow, "ok")
		return reply, nil
	}
	if err := e.store.Save(ctx, key, s); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// Cancel сбрасывает диалог пользователя.
func (e *Engine) Cancel(ctx context.Context, key session.Key) (Reply, error) {
	s, err := e.store.Load(ctx, key)
	if err == nil {
		e.clear(ctx, key)
		e.commit(s.Flow, "cancelled")
	}
	return Reply{Text: "Действие отменено.", MainMenu: true}, nil
}

// Active возвращает название активного сценария пользователя.
func (e *Engine) Active(ctx context.Context, key session.Key) (string, bool) {
	s, err := e.store.Load(ctx, key)
	if err != nil {
		return "", false
	}
	return s.Flow, true
}

func (e *Engine) pickObject(ctx context.Context, t *turn, f flow) (Reply, error) {
	cb, ok := parseCallback(t.in.Callback)
	if !ok || cb.prefix != cbObject {
		return Reply{}, &normalize.UserInputError{Message: "Выберите объект кнопкой ниже."}
	}
	if cb.page >= 0 {
		t.s.Page = cb.page
		return objectPage(t.s, titles[t.s.Flow], true), nil
	}
	obj, ok := catalog.Find(t.s.Objects, cb.id)
	if !ok || !e.deps.ACL.AllowedForObject(t.user.TgID, obj.ID) {
		return Reply{}, &normalize.UserInputError{Message: "Этот объект вам недоступен."}
	}
	setObject(t.s, obj)
	// справочник больше не нужен
	t.s.Objects = nil
	return f.begin(ctx, t)
}

func (e *Engine) clear(ctx context.Context, key session.Key) {
	if err := e.store.Delete(ctx, key); err != nil {
		e.log.Warn("не удалось удалить сессию", zap.String("key", key.String()), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.DecActiveSessions()
	}
}

func (e *Engine) commit(flowName, status string) {
	if e.metrics != nil {
		e.metrics.IncCommits(flowName, status)
	}
}

// translate превращает ошибку в сообщение пользователю и учитывает её в метриках.
func (e *Engine) translate(flowName string, err error) Reply {
	var (
		re *api.RemoteError
		te *api.TransportError
		me *fieldmap.MappingError
	)
	status := "failed"
	var text string
	switch {
	case errors.Is(err, shift.ErrNotFound):
		status = "no_plan"
		text = "Смена на эту дату не найдена. Сначала заполните План."
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		text = "CRM не отвечает. Данные не сохранены, отправьте их ещё раз."
	case errors.As(err, &re):
		text = fmt.Sprintf("CRM отклонила запрос (%s). Данные не сохранены, попробуйте ещё раз.", re.Code)
	case errors.As(err, &me):
		text = fmt.Sprintf("В карте полей CRM нет поля %s. Обратитесь к администратору.", me.Logical)
	default:
		text = "Не удалось выполнить действие. Попробуйте ещё раз."
	}
	e.commit(flowName, status)
	return Reply{Text: "❌ " + text, MainMenu: true}
}
