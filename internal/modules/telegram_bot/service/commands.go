package service

import (
	"fractal_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = "Команды:\n/status - состояние бота\n/help - эта справка"

// handleUpdate - только команды из своего чата, остальное игнорируем.
func (t *Telegram) handleUpdate(upd tgbot.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
		return
	}

	var reply string
	switch msg.Command() {
	case "status":
		reply = t.statusText()
	case "start", "help":
		reply = helpText
	default:
		reply = "Неизвестная команда.\n\n" + helpText
	}
	if err := t.Send(msg.Chat.ID, reply); err != nil {
		logger.Error("[TG] reply /%s: %v", msg.Command(), err)
	}
}

func (t *Telegram) statusText() string {
	t.mu.Lock()
	s := t.status
	t.mu.Unlock()
	if s == nil {
		return "статус недоступен"
	}
	return s.StatusText()
}
