package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/defairy-rebalancer/internal/notify"
	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	edits    []tgbotapi.EditMessageTextConfig
	answered int
	toasts   []string
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		s.messages = append(s.messages, m)
	case tgbotapi.EditMessageTextConfig:
		s.edits = append(s.edits, m)
	}
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered++
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		s.toasts = append(s.toasts, cb.Text)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestBot(defaultChat int64) (*Bot, *fakeSender, *fakeService) {
	api := &fakeSender{}
	svc := newFakeService()
	b := newBot(api, Config{ChatID: defaultChat, AdminIDs: "1", Lang: LangEN}, svc, zerolog.Nop())
	return b, api, svc
}

func TestSplitMessage(t *testing.T) {
	short := "hello"
	if parts := splitMessage(short, 10); len(parts) != 1 || parts[0] != short {
		t.Errorf("short message split = %v", parts)
	}

	text := "line one\nline two\nline three"
	parts := splitMessage(text, 18)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %q", len(parts), parts)
	}
	if parts[0] != "line one\nline two" || parts[1] != "line three" {
		t.Errorf("parts = %q", parts)
	}

	long := strings.Repeat("a", 25)
	parts = splitMessage(long, 10)
	if len(parts) != 3 || parts[2] != "aaaaa" {
		t.Errorf("long line split = %q", parts)
	}
	for _, p := range parts {
		if len(p) > 10 {
			t.Errorf("part exceeds limit: %d", len(p))
		}
	}
}

func TestBot_NotifyWallet_LinkedChats(t *testing.T) {
	b, api, _ := newTestBot(0)

	if err := b.Auth().LinkWallet(10, linkedWallet); err != nil {
		t.Fatalf("LinkWallet: %v", err)
	}
	if err := b.Auth().LinkWallet(20, linkedWallet); err != nil {
		t.Fatalf("LinkWallet: %v", err)
	}

	b.NotifyWallet(context.Background(), linkedWallet, "🔔 rebalance queued", notify.SeverityInfo)

	if len(api.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(api.messages))
	}
	if api.messages[0].Text != "🔔 rebalance queued" {
		t.Errorf("text = %q", api.messages[0].Text)
	}
}

func TestBot_NotifyWallet_DefaultChat(t *testing.T) {
	b, api, _ := newTestBot(42)

	b.NotifyWallet(context.Background(), linkedWallet, "❌ rebalance failed", notify.SeverityError)

	if len(api.messages) != 1 || api.messages[0].ChatID != 42 {
		t.Fatalf("messages = %+v", api.messages)
	}
	if !strings.Contains(api.messages[0].Text, "9WzD…AWWM") {
		t.Errorf("error notifications should name the wallet: %q", api.messages[0].Text)
	}
}

func TestBot_NotifyWallet_Dropped(t *testing.T) {
	b, api, _ := newTestBot(0)

	b.NotifyWallet(context.Background(), linkedWallet, "lost", notify.SeverityInfo)
	if len(api.messages) != 0 {
		t.Errorf("expected no messages, got %d", len(api.messages))
	}
}

func TestBot_HandleMessage(t *testing.T) {
	b, api, _ := newTestBot(0)

	b.handleMessage(context.Background(), &tgbotapi.Message{
		Text:     "/help",
		From:     &tgbotapi.User{ID: 5},
		Chat:     &tgbotapi.Chat{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	})

	if len(api.messages) != 1 || api.messages[0].ChatID != 7 {
		t.Fatalf("messages = %+v", api.messages)
	}
	if !strings.Contains(api.messages[0].Text, "/link") {
		t.Errorf("help text = %q", api.messages[0].Text)
	}
}

func TestBot_HandleCallbackQuery_EditsAlert(t *testing.T) {
	b, api, svc := newTestBot(0)
	if err := b.Auth().LinkWallet(7, linkedWallet); err != nil {
		t.Fatalf("LinkWallet: %v", err)
	}

	b.handleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: 7}},
		Data:    CallbackData(CallbackDismiss, poolKey),
	})

	if api.answered != 1 {
		t.Errorf("callback should be answered once, got %d", api.answered)
	}
	if len(api.edits) != 1 || api.edits[0].MessageID != 99 {
		t.Fatalf("edits = %+v", api.edits)
	}
	if len(svc.dismissed) != 1 {
		t.Errorf("dismissed = %v", svc.dismissed)
	}
}

func TestBot_HandleCallbackQuery_ReviewSendsKeyboard(t *testing.T) {
	b, api, _ := newTestBot(0)
	if err := b.Auth().LinkWallet(7, linkedWallet); err != nil {
		t.Fatalf("LinkWallet: %v", err)
	}

	b.handleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q2",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: 7}},
		Data:    CallbackData(CallbackReview, poolKey),
	})

	if len(api.messages) != 1 {
		t.Fatalf("expected a new message with keyboard, got %d", len(api.messages))
	}
	if _, ok := api.messages[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Errorf("reply markup = %T", api.messages[0].ReplyMarkup)
	}
}

func TestBot_HandleCallbackQuery_ExecuteShowsProgress(t *testing.T) {
	b, api, svc := newTestBot(0)
	if err := b.Auth().LinkWallet(7, linkedWallet); err != nil {
		t.Fatalf("LinkWallet: %v", err)
	}

	b.handleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q3",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: 7}},
		Data:    CallbackData(CallbackExecute, poolKey),
	})

	if len(api.toasts) != 1 || !strings.Contains(api.toasts[0], "Executing "+poolKey) {
		t.Errorf("toasts = %q", api.toasts)
	}
	if len(svc.executed) != 1 {
		t.Errorf("executed = %v", svc.executed)
	}
}
