package service

import (
	"context"
	"fmt"
	"sync"

	"fractal_bot/internal/modules/config"
	"fractal_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const outboxSize = 64

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// StatusSource - текст для /status.
type StatusSource interface {
	StatusText() string
}

// Telegram - сервисные уведомления в один чат.
// Без токена или chat_id сообщения уходят в лог.
type Telegram struct {
	bot    *tgbot.BotAPI
	api    sender
	chatID int64

	mu     sync.Mutex
	status StatusSource

	outbox chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelegram(cfg *config.Config) (*Telegram, error) {
	t := &Telegram{chatID: cfg.Telegram.ChatID, outbox: make(chan string, outboxSize)}
	if cfg.Telegram.Token == "" {
		logger.Warn("[TG] token is empty, notifications go to log")
		return t, nil
	}
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	t.bot, t.api = b, b
	return t, nil
}

func (t *Telegram) SetStatusSource(s StatusSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

// SendService не блокирует вызывающего: при переполнении очереди сообщение теряется.
func (t *Telegram) SendService(_ context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if t.api == nil || t.chatID == 0 {
		logger.Info("[TG] %s", msg)
		return
	}
	select {
	case t.outbox <- msg:
	default:
		logger.Warn("[TG] outbox full, dropped: %s", msg)
	}
}

func (t *Telegram) Send(chatID int64, msg string) error {
	_, err := t.api.Send(tgbot.NewMessage(chatID, msg))
	return err
}

func (t *Telegram) Start(ctx context.Context) {
	if t.api == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.drain(ctx)
	}()

	if t.bot != nil {
		u := tgbot.NewUpdate(0)
		u.Timeout = 30
		u.AllowedUpdates = []string{"message"}
		updates := t.bot.GetUpdatesChan(u)

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case upd, ok := <-updates:
					if !ok {
						return
					}
					t.handleUpdate(upd)
				}
			}
		}()
	}
}

func (t *Telegram) Stop() {
	if t.cancel == nil {
		return
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	t.cancel()
	t.wg.Wait()
	t.cancel = nil
}

func (t *Telegram) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.outbox:
			if err := t.Send(t.chatID, msg); err != nil {
				logger.Error("[TG] send: %v", err)
			}
		}
	}
}
