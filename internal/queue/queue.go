package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// DefaultEntryTTL через сколько low/medium запись считается протухшей
	DefaultEntryTTL = 15 * time.Minute
	// DefaultDisplayWindow сколько non-high алерт висит на экране
	DefaultDisplayWindow = 5 * time.Minute
	// DefaultSnooze длительность snooze по умолчанию
	DefaultSnooze = 30 * time.Minute
)

// Config параметры очереди
type Config struct {
	EntryTTL       time.Duration
	DisplayWindow  time.Duration
	SnoozeDuration time.Duration
}

// DefaultConfig 15m / 5m / 30m
func DefaultConfig() Config {
	return Config{
		EntryTTL:       DefaultEntryTTL,
		DisplayWindow:  DefaultDisplayWindow,
		SnoozeDuration: DefaultSnooze,
	}
}

// Queue ожидающие действия по ключу wallet + poolId_venue.
// Одна запись может исполняться только одним executor'ом.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*domain.QueueEntry
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

// Option настройка очереди
type Option func(*Queue)

// WithClock подменяет часы
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New создает очередь
func New(cfg Config, log zerolog.Logger, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = def.EntryTTL
	}
	if cfg.DisplayWindow <= 0 {
		cfg.DisplayWindow = def.DisplayWindow
	}
	if cfg.SnoozeDuration <= 0 {
		cfg.SnoozeDuration = def.SnoozeDuration
	}

	q := &Queue{
		entries: make(map[string]*domain.QueueEntry),
		cfg:     cfg,
		log:     log.With().Str("component", "queue").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Config текущие параметры
func (q *Queue) Config() Config {
	return q.cfg
}

func entryKey(walletAddress, key string) string {
	return walletAddress + "|" + key
}

// Enqueue вставляет или перезаписывает запись по ключу пула.
// Запись в статусе executing не перезаписывается. Активный snooze сохраняется.
func (q *Queue) Enqueue(position *domain.Position, analysis domain.RebalanceAnalysis, prefs *domain.UserPreferences) (*domain.QueueEntry, error) {
	now := q.now()
	key := position.Key()
	mapKey := entryKey(prefs.WalletAddress, key)

	q.mu.Lock()
	defer q.mu.Unlock()

	entry := &domain.QueueEntry{
		ID:            uuid.NewString(),
		Key:           key,
		WalletAddress: prefs.WalletAddress,
		Position:      *position,
		Analysis:      analysis,
		Preferences:   *prefs.Clone(),
		EnqueuedAt:    now,
		Status:        domain.QueuePending,
	}

	if existing, ok := q.entries[mapKey]; ok {
		if existing.Status == domain.QueueExecuting {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrQueueEntryBusy)
		}
		if existing.SnoozedUntil.After(now) {
			entry.SnoozedUntil = existing.SnoozedUntil
		}
	}

	q.entries[mapKey] = entry

	q.log.Debug().
		Str("wallet", prefs.WalletAddress).
		Str("key", key).
		Str("urgency", string(analysis.Urgency)).
		Float64("value", analysis.EstimatedValue).
		Msg("📥 Rebalance queued")

	copied := *entry
	return &copied, nil
}

// Get возвращает копию записи
func (q *Queue) Get(walletAddress, key string) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[entryKey(walletAddress, key)]
	if !ok {
		return nil, fmt.Errorf("queue entry %s: %w", key, domain.ErrNotFound)
	}
	copied := *entry
	return &copied, nil
}

// List все записи кошелька, по времени постановки
func (q *Queue) List(walletAddress string) []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := []domain.QueueEntry{}
	for _, entry := range q.entries {
		if entry.WalletAddress == walletAddress {
			result = append(result, *entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EnqueuedAt.Equal(result[j].EnqueuedAt) {
			return result[i].Key < result[j].Key
		}
		return result[i].EnqueuedAt.Before(result[j].EnqueuedAt)
	})
	return result
}

// Claim атомарно переводит pending -> executing. Второй вызов получает ErrQueueEntryBusy.
func (q *Queue) Claim(walletAddress, key string) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[entryKey(walletAddress, key)]
	if !ok {
		return nil, fmt.Errorf("queue entry %s: %w", key, domain.ErrNotFound)
	}
	if entry.Status == domain.QueueExecuting {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrQueueEntryBusy)
	}

	entry.Status = domain.QueueExecuting
	copied := *entry
	return &copied, nil
}

// Release возвращает запись в pending (отмена, кошелек не подключен)
func (q *Queue) Release(walletAddress, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry, ok := q.entries[entryKey(walletAddress, key)]; ok && entry.Status == domain.QueueExecuting {
		entry.Status = domain.QueuePending
	}
}

// Complete убирает запись после исполнения
func (q *Queue) Complete(walletAddress, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mapKey := entryKey(walletAddress, key)
	if entry, ok := q.entries[mapKey]; ok {
		entry.Status = domain.QueueDone
		delete(q.entries, mapKey)
	}
}

// Dismiss явно убирает запись пользователем
func (q *Queue) Dismiss(walletAddress, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	mapKey := entryKey(walletAddress, key)
	entry, ok := q.entries[mapKey]
	if !ok {
		return fmt.Errorf("queue entry %s: %w", key, domain.ErrNotFound)
	}
	if entry.Status == domain.QueueExecuting {
		return fmt.Errorf("%s: %w", key, domain.ErrQueueEntryBusy)
	}
	delete(q.entries, mapKey)
	return nil
}

// Snooze прячет алерт на d, запись в очереди остается. d <= 0 означает дефолт.
func (q *Queue) Snooze(walletAddress, key string, d time.Duration) (time.Time, error) {
	if d <= 0 {
		d = q.cfg.SnoozeDuration
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[entryKey(walletAddress, key)]
	if !ok {
		return time.Time{}, fmt.Errorf("queue entry %s: %w", key, domain.ErrNotFound)
	}
	entry.SnoozedUntil = q.now().Add(d)
	return entry.SnoozedUntil, nil
}

// ExpireStale удаляет протухшие low/medium записи. High живет до явного действия.
func (q *Queue) ExpireStale() []domain.QueueEntry {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []domain.QueueEntry
	for mapKey, entry := range q.entries {
		if entry.Status != domain.QueuePending || entry.Analysis.Urgency == domain.UrgencyHigh {
			continue
		}
		if now.Sub(entry.EnqueuedAt) < q.cfg.EntryTTL {
			continue
		}
		entry.Status = domain.QueueExpired
		expired = append(expired, *entry)
		delete(q.entries, mapKey)
	}

	if len(expired) > 0 {
		q.log.Info().Int("count", len(expired)).Msg("⌛ Rebalance opportunities expired")
	}
	return expired
}

// Alerts видимые алерты кошелька
func (q *Queue) Alerts(walletAddress string) []Alert {
	return VisibleAlerts(q.List(walletAddress), q.now(), q.cfg.DisplayWindow)
}
