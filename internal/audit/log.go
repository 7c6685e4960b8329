package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// MaxEntries при превышении журнал обрезается до TruncateTo последних записей
	MaxEntries = 1000
	TruncateTo = 500
)

// Log append-only журнал аудита в памяти с опциональной персистентностью
type Log struct {
	mu     sync.RWMutex
	events []domain.AuditEvent
	repo   domain.AuditRepository
	log    zerolog.Logger
	now    func() time.Time
}

// NewLog создает журнал. repo может быть nil.
func NewLog(repo domain.AuditRepository, log zerolog.Logger) *Log {
	return &Log{
		repo: repo,
		log:  log.With().Str("component", "audit").Logger(),
		now:  time.Now,
	}
}

// Record добавляет событие. Ошибки хранилища логируются и не пробрасываются.
func (l *Log) Record(ctx context.Context, eventType domain.AuditEventType, walletAddress string, details map[string]interface{}) {
	event := domain.AuditEvent{
		ID:            uuid.NewString(),
		Timestamp:     l.now(),
		EventType:     eventType,
		WalletAddress: walletAddress,
		Details:       details,
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	if len(l.events) > MaxEntries {
		kept := make([]domain.AuditEvent, TruncateTo)
		copy(kept, l.events[len(l.events)-TruncateTo:])
		l.events = kept
	}
	l.mu.Unlock()

	l.log.Debug().
		Str("event", string(eventType)).
		Str("wallet", walletAddress).
		Msg("📝 Audit event")

	if l.repo != nil {
		if err := l.repo.Append(ctx, &event); err != nil {
			l.log.Error().Err(err).Str("event", string(eventType)).Msg("Failed to persist audit event")
		}
	}
}

// Len количество событий в памяти
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Recent последние limit событий, новые первыми. limit <= 0 означает все.
func (l *Log) Recent(limit int) []domain.AuditEvent {
	return l.filter("", limit)
}

// ByWallet последние события одного кошелька
func (l *Log) ByWallet(walletAddress string, limit int) []domain.AuditEvent {
	return l.filter(walletAddress, limit)
}

func (l *Log) filter(walletAddress string, limit int) []domain.AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := []domain.AuditEvent{}
	for i := len(l.events) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if walletAddress != "" && l.events[i].WalletAddress != walletAddress {
			continue
		}
		result = append(result, l.events[i])
	}
	return result
}
