package bot

import (
	"path/filepath"
	"strings"

	"foreman_bot/internal/flow"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

// startFlow начинает сценарий ввода данных.
func (b *Bot) startFlow(c telebot.Context, name string) error {
	reply, err := b.engine.Start(b.ctx, keyOf(c), name, b.user(c))
	if err != nil {
		return b.fail(c, err)
	}
	return b.send(c, reply)
}

// handleMessage передаёт текст активному диалогу.
func (b *Bot) handleMessage(c telebot.Context) error {
	text := strings.TrimSpace(c.Text())
	if strings.HasPrefix(text, "/") {
		return b.handleHelp(c)
	}
	return b.dispatch(c, flow.Input{Text: text})
}

// handleCallback обрабатывает нажатия встроенных кнопок.
func (b *Bot) handleCallback(c telebot.Context) error {
	if err := c.Respond(); err != nil {
		b.log.Debug("не удалось ответить на callback", zap.Error(err))
	}
	data := strings.TrimPrefix(c.Callback().Data, "\f")
	return b.dispatch(c, flow.Input{Callback: data})
}

func (b *Bot) dispatch(c telebot.Context, in flow.Input) error {
	reply, err := b.engine.Handle(b.ctx, keyOf(c), b.user(c), in)
	if err != nil {
		return b.fail(c, err)
	}
	return b.send(c, reply)
}

// fail сообщает о внутренней ошибке хранилища сессий.
func (b *Bot) fail(c telebot.Context, err error) error {
	b.log.Error("ошибка диалога", zap.Any("turn", c.Get("turn")), zap.Error(err))
	return c.Send("❌ Внутренняя ошибка. Попробуйте ещё раз.", mainMenu)
}

// send отправляет ответ сценария вместе с клавиатурой и файлами.
func (b *Bot) send(c telebot.Context, r flow.Reply) error {
	var opts []interface{}
	switch {
	case len(r.Buttons) > 0:
		opts = append(opts, inlineMarkup(r.Buttons))
	case r.MainMenu:
		opts = append(opts, mainMenu)
	}

	if r.Edit && c.Callback() != nil {
		err := c.Edit(r.Text, opts...)
		if err == nil {
			return nil
		}
		b.log.Debug("не удалось изменить сообщение", zap.Error(err))
	}
	if err := c.Send(r.Text, opts...); err != nil {
		return err
	}

	for _, path := range r.Files {
		doc := &telebot.Document{File: telebot.FromDisk(path), FileName: filepath.Base(path)}
		if err := c.Send(doc); err != nil {
			b.log.Error("ошибка отправки файла", zap.String("path", path), zap.Error(err))
			return err
		}
	}
	return nil
}

// inlineMarkup строит встроенную клавиатуру. Данные кнопок уходят
// без префикса telebot.
func inlineMarkup(rows [][]flow.Button) *telebot.ReplyMarkup {
	kb := make([][]telebot.InlineButton, 0, len(rows))
	for _, row := range rows {
		out := make([]telebot.InlineButton, 0, len(row))
		for _, btn := range row {
			out = append(out, telebot.InlineButton{Text: btn.Text, Data: btn.Data})
		}
		kb = append(kb, out)
	}
	return &telebot.ReplyMarkup{InlineKeyboard: kb}
}
