package notify

import (
	"context"
	"sync"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// WalletNotifier уведомление, адресованное конкретному кошельку
type WalletNotifier interface {
	NotifyWallet(ctx context.Context, walletAddress string, message string, severity Severity)
}

// Router раскладывает уведомления по каналам, включенным в настройках кошелька.
// Лог пишется всегда.
type Router struct {
	log      *LogNotifier
	inApp    WalletNotifier
	telegram WalletNotifier
	logger   zerolog.Logger

	mu        sync.RWMutex
	emailOnce sync.Once
}

// NewRouter создает маршрутизатор. inApp и telegram могут быть nil.
func NewRouter(log zerolog.Logger, inApp, telegram WalletNotifier) *Router {
	return &Router{
		log:      NewLogNotifier(log),
		inApp:    inApp,
		telegram: telegram,
		logger:   log.With().Str("component", "notify").Logger(),
	}
}

// SetTelegram подключает бота после старта движка (бот зависит от движка)
func (r *Router) SetTelegram(telegram WalletNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telegram = telegram
}

// Send уведомляет кошелек согласно его каналам
func (r *Router) Send(ctx context.Context, channels domain.NotificationChannels, walletAddress, message string, severity Severity) {
	r.log.Notify(ctx, message, severity)

	r.mu.RLock()
	inApp, telegram := r.inApp, r.telegram
	r.mu.RUnlock()

	if channels.InApp && inApp != nil {
		inApp.NotifyWallet(ctx, walletAddress, message, severity)
	}
	if channels.Telegram && telegram != nil {
		telegram.NotifyWallet(ctx, walletAddress, message, severity)
	}
	if channels.Email {
		r.emailOnce.Do(func() {
			r.logger.Warn().Msg("Email notifications are not supported, skipping channel")
		})
	}
}
