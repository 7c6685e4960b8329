package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/defairy-rebalancer/internal/notify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	maxMessageLength = 4096
	// лимит Telegram на исходящие сообщения бота
	sendRatePerSecond = 25
	limiterIdle       = 5 * time.Minute
)

// Config настройки бота
type Config struct {
	Token     string
	ChatID    int64 // чат по умолчанию для кошельков без привязки
	AdminIDs  string
	Whitelist string
	Lang      Lang
}

// sender часть BotAPI, через которую бот отправляет сообщения
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot Telegram канал уведомлений и команд ребалансировки
type Bot struct {
	client    *tgbotapi.BotAPI
	api       sender
	router    *Router
	auth      *AuthManager
	formatter *Formatter
	log       zerolog.Logger

	defaultChatID int64
	sendLimiter   *rate.Limiter

	wg sync.WaitGroup
}

// NewBot авторизуется в Telegram и регистрирует команды
func NewBot(cfg Config, svc Service, log zerolog.Logger) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	b := newBot(client, cfg, svc, log)
	b.client = client
	b.log.Info().Str("username", client.Self.UserName).Msg("🤖 Telegram bot authorized")
	return b, nil
}

func newBot(api sender, cfg Config, svc Service, log zerolog.Logger) *Bot {
	auth := NewAuthManager(cfg.AdminIDs, cfg.Whitelist, 2, 5)
	formatter := NewFormatter(cfg.Lang)

	router := NewRouter(auth, formatter)
	RegisterHandlers(router, NewHandlers(svc, auth, formatter))

	return &Bot{
		api:           api,
		router:        router,
		auth:          auth,
		formatter:     formatter,
		log:           log.With().Str("component", "telegram").Logger(),
		defaultChatID: cfg.ChatID,
		sendLimiter:   rate.NewLimiter(rate.Limit(sendRatePerSecond), sendRatePerSecond),
	}
}

// Auth менеджер доступа и привязок
func (b *Bot) Auth() *AuthManager {
	return b.auth
}

// Start обрабатывает updates до отмены ctx
func (b *Bot) Start(ctx context.Context) {
	if b.client == nil {
		return
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.client.GetUpdatesChan(u)

	b.sendToChat(ctx, b.defaultChatID, "🧚 DeFairy rebalancer started!\nUse /help to see available commands.")

	cleanup := time.NewTicker(limiterIdle)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			b.client.StopReceivingUpdates()
			b.wg.Wait()
			b.log.Info().Msg("Telegram bot stopped")
			return
		case <-cleanup.C:
			if n := b.auth.CleanupRateLimiters(limiterIdle); n > 0 {
				b.log.Debug().Int("removed", n).Msg("Cleaned up rate limiters")
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		return
	}
	chatID := message.Chat.ID
	userID := message.From.ID

	if !message.IsCommand() {
		b.sendToChat(ctx, chatID, b.formatter.T("error")+": /help")
		return
	}

	b.log.Info().Int64("user", userID).Int64("chat", chatID).Str("command", message.Command()).Msg("📨 Command received")

	replies, err := b.router.HandleCommand(ctx, chatID, userID, message.Text)
	if err != nil {
		b.log.Warn().Err(err).Str("command", message.Command()).Msg("Command failed")
	}
	for _, r := range replies {
		b.sendReply(ctx, chatID, r)
	}
}

// handleCallbackQuery обрабатывает callback от inline кнопок
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.From == nil {
		return
	}
	chatID := query.Message.Chat.ID

	// снимаем "часики" с кнопки до исполнения: подпись может занять время
	toast := ""
	if op, key, err := ParseCallback(query.Data); err == nil && (op == CallbackExecute || op == CallbackConfirmYes) {
		toast = b.formatter.FormatExecuting(key)
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, toast)); err != nil {
		b.log.Debug().Err(err).Msg("Failed to answer callback")
	}

	reply, err := b.router.HandleCallback(ctx, chatID, query.From.ID, query.Data)
	if err != nil {
		b.log.Warn().Err(err).Str("data", query.Data).Msg("Callback failed")
	}

	if reply.Text == "" {
		return
	}
	if reply.Markup != nil {
		b.sendReply(ctx, chatID, reply)
		return
	}

	// результат заменяет исходный алерт, кнопки пропадают
	edit := tgbotapi.NewEditMessageText(chatID, query.Message.MessageID, reply.Text)
	if _, err := b.api.Send(edit); err != nil {
		b.log.Debug().Err(err).Msg("Edit failed, sending new message")
		b.sendToChat(ctx, chatID, reply.Text)
	}
}

// NotifyWallet отправляет уведомление во все чаты, привязанные к кошельку.
// Без привязки уходит в чат по умолчанию, если он задан.
func (b *Bot) NotifyWallet(ctx context.Context, walletAddress, message string, severity notify.Severity) {
	chats := b.auth.ChatsFor(walletAddress)
	if len(chats) == 0 && b.defaultChatID != 0 {
		chats = []int64{b.defaultChatID}
	}
	if len(chats) == 0 {
		b.log.Debug().Str("wallet", walletAddress).Msg("No chat linked, telegram notification dropped")
		return
	}

	if severity == notify.SeverityError || severity == notify.SeverityWarning {
		message = fmt.Sprintf("%s\n👛 %s", message, shortAddress(walletAddress))
	}
	for _, chatID := range chats {
		b.sendToChat(ctx, chatID, message)
	}
}

func (b *Bot) sendReply(ctx context.Context, chatID int64, r Reply) {
	if r.Markup == nil {
		b.sendToChat(ctx, chatID, r.Text)
		return
	}
	if err := b.sendLimiter.Wait(ctx); err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, r.Text)
	msg.ReplyMarkup = *r.Markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error().Err(err).Int64("chat", chatID).Msg("Failed to send telegram message")
	}
}

// sendToChat отправляет сообщение в конкретный чат
func (b *Bot) sendToChat(ctx context.Context, chatID int64, text string) {
	if text == "" || chatID == 0 {
		return
	}

	for _, part := range splitMessage(text, maxMessageLength) {
		if err := b.sendLimiter.Wait(ctx); err != nil {
			return
		}
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error().Err(err).Int64("chat", chatID).Msg("Failed to send telegram message")
		}
	}
}

// splitMessage разбивает длинное сообщение на части по строкам
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	var current strings.Builder

	for _, line := range strings.Split(text, "\n") {
		// строка длиннее лимита режется как есть
		for len(line) > maxLength {
			if current.Len() > 0 {
				messages = append(messages, current.String())
				current.Reset()
			}
			messages = append(messages, line[:maxLength])
			line = line[maxLength:]
		}

		if current.Len() > 0 && current.Len()+len(line)+1 > maxLength {
			messages = append(messages, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		messages = append(messages, current.String())
	}
	return messages
}
