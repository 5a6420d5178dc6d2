package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"fractal_bot/internal/modules/config"
	"fractal_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

type fakeAPI struct {
	mu   sync.Mutex
	sent []tgbot.MessageConfig
}

func (f *fakeAPI) Send(c tgbot.Chattable) (tgbot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbot.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbot.Message{}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type staticStatus string

func (s staticStatus) StatusText() string { return string(s) }

func newTestTelegram(api sender, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID, outbox: make(chan string, outboxSize)}
}

func command(chatID int64, text string) tgbot.Update {
	return tgbot.Update{Message: &tgbot.Message{
		Text:     text,
		Chat:     &tgbot.Chat{ID: chatID},
		Entities: []tgbot.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func TestNewTelegram_NoTokenFallsBackToLog(t *testing.T) {
	var cfg config.Config
	tg, err := NewTelegram(&cfg)
	require.NoError(t, err)

	tg.Start(context.Background())
	tg.SendService(context.Background(), "hello %d", 1)
	tg.Stop()
	assert.Empty(t, tg.outbox)
}

func TestSendService_DeliversToChat(t *testing.T) {
	api := &fakeAPI{}
	tg := newTestTelegram(api, 42)
	tg.Start(context.Background())
	defer tg.Stop()

	tg.SendService(context.Background(), "order %s accepted", "r1")
	require.Eventually(t, func() bool { return len(api.texts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "order r1 accepted", api.texts()[0])
	assert.Equal(t, int64(42), api.sent[0].ChatID)
}

func TestSendService_DropsWhenOutboxFull(t *testing.T) {
	tg := newTestTelegram(&fakeAPI{}, 42)
	// без Start очередь никто не разбирает
	for i := 0; i < outboxSize+10; i++ {
		tg.SendService(context.Background(), "msg %d", i)
	}
	assert.Len(t, tg.outbox, outboxSize)
}

func TestHandleUpdate_Status(t *testing.T) {
	api := &fakeAPI{}
	tg := newTestTelegram(api, 42)

	tg.handleUpdate(command(42, "/status"))
	tg.SetStatusSource(staticStatus("state=WAIT_SWING_BOS"))
	tg.handleUpdate(command(42, "/status"))
	tg.handleUpdate(command(42, "/help"))

	require.Len(t, api.texts(), 3)
	assert.Equal(t, "статус недоступен", api.texts()[0])
	assert.Equal(t, "state=WAIT_SWING_BOS", api.texts()[1])
	assert.Equal(t, helpText, api.texts()[2])
}

func TestHandleUpdate_IgnoresForeignChat(t *testing.T) {
	api := &fakeAPI{}
	tg := newTestTelegram(api, 42)
	tg.SetStatusSource(staticStatus("ok"))

	tg.handleUpdate(command(7, "/status"))
	tg.handleUpdate(tgbot.Update{Message: &tgbot.Message{Text: "hi", Chat: &tgbot.Chat{ID: 42}}})
	assert.Empty(t, api.texts())
}
