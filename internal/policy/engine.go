package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// PreferenceStore то, что gate меняет в настройках кошелька
type PreferenceStore interface {
	Update(ctx context.Context, walletAddress string, fn func(prefs *domain.UserPreferences) bool) (*domain.UserPreferences, error)
	DisablePool(ctx context.Context, walletAddress, poolID, reason string) error
}

// Auditor журнал аудита
type Auditor interface {
	Record(ctx context.Context, eventType domain.AuditEventType, walletAddress string, details map[string]interface{})
}

// Engine security gate: лимиты, cool-down и circuit breaker по пулу
type Engine struct {
	limits Limits
	store  PreferenceStore
	audit  Auditor
	log    zerolog.Logger
	now    func() time.Time

	mu                sync.Mutex
	lastRebalanceTime map[string]time.Time
	failureCount      map[string]int
}

// Option настройка engine
type Option func(*Engine)

// WithClock подменяет часы (для тестов)
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine создает новый security gate
func NewEngine(limits Limits, store PreferenceStore, audit Auditor, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		limits:            limits,
		store:             store,
		audit:             audit,
		log:               log.With().Str("component", "policy").Logger(),
		now:               time.Now,
		lastRebalanceTime: make(map[string]time.Time),
		failureCount:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits возвращает текущий профиль
func (e *Engine) Limits() Limits {
	return e.limits
}

func trackingKey(walletAddress string, position *domain.Position) string {
	return walletAddress + "|" + position.Key()
}

// Check проверяет действие. Проверки идут по порядку, первая неудачная побеждает.
// Отказ это данные, а не ошибка.
func (e *Engine) Check(ctx context.Context, position *domain.Position, analysis *domain.RebalanceAnalysis, prefs *domain.UserPreferences) ValidationResult {
	now := e.now()
	key := trackingKey(prefs.WalletAddress, position)

	e.mu.Lock()
	lastTime, hasLast := e.lastRebalanceTime[key]
	failures := e.failureCount[key]
	e.mu.Unlock()

	var violation *Violation

	switch {
	case prefs.DailyTransactionCount >= prefs.MaxDailyTransactions:
		violation = &Violation{
			Type:           domain.ReasonDailyLimitExceeded,
			LimitName:      "max_daily_transactions",
			LimitValue:     float64(prefs.MaxDailyTransactions),
			AttemptedValue: float64(prefs.DailyTransactionCount + 1),
			Severity:       "critical",
			Message:        "Daily transaction limit reached",
		}

	case analysis.EstimatedValue > prefs.MaxRebalanceAmount:
		violation = &Violation{
			Type:           domain.ReasonAmountTooLarge,
			LimitName:      "max_rebalance_amount",
			LimitValue:     prefs.MaxRebalanceAmount,
			AttemptedValue: analysis.EstimatedValue,
			Severity:       "critical",
			Message:        fmt.Sprintf("Rebalance value $%.2f exceeds limit $%.2f", analysis.EstimatedValue, prefs.MaxRebalanceAmount),
		}

	case hasLast && now.Sub(lastTime) < e.limits.MinTimeBetweenRebalances:
		violation = &Violation{
			Type:           domain.ReasonFrequencyTooHigh,
			LimitName:      "min_time_between_rebalances",
			LimitValue:     e.limits.MinTimeBetweenRebalances.Seconds(),
			AttemptedValue: now.Sub(lastTime).Seconds(),
			Severity:       "warning",
			Message:        fmt.Sprintf("Last rebalance %s ago, minimum interval %s", now.Sub(lastTime).Round(time.Second), e.limits.MinTimeBetweenRebalances),
		}

	case failures >= e.limits.MaxConsecutiveFailures:
		violation = &Violation{
			Type:           domain.ReasonConsecutiveFailures,
			LimitName:      "max_consecutive_failures",
			LimitValue:     float64(e.limits.MaxConsecutiveFailures),
			AttemptedValue: float64(failures),
			Severity:       "critical",
			Message:        fmt.Sprintf("%d consecutive failures, pool rebalancing disabled", failures),
		}
		// пул уже выключен: повторно не отключаем и не пишем аудит
		if prefs.IsPoolEnabled(position.PoolID) {
			if err := e.tripCircuitBreaker(ctx, prefs.WalletAddress, position, failures); err != nil {
				e.log.Error().Err(err).Str("wallet", prefs.WalletAddress).Str("pool", position.Key()).Msg("Circuit breaker trip failed")
			}
		}

	case e.limits.MaxWeeklyAmount > 0 && prefs.WeeklyTransactionAmount+analysis.EstimatedValue > e.limits.MaxWeeklyAmount:
		violation = &Violation{
			Type:           domain.ReasonWeeklyAmountExceeded,
			LimitName:      "max_weekly_amount",
			LimitValue:     e.limits.MaxWeeklyAmount,
			AttemptedValue: prefs.WeeklyTransactionAmount + analysis.EstimatedValue,
			Severity:       "critical",
			Message:        "Weekly rebalance value limit reached",
		}
	}

	if violation == nil {
		return ValidationResult{Approved: true, CheckedAt: now}
	}

	e.log.Info().
		Str("wallet", prefs.WalletAddress).
		Str("pool", position.Key()).
		Str("reason", violation.Type).
		Msg("🚫 Rebalance rejected by security gate")

	if e.audit != nil {
		e.audit.Record(ctx, domain.AuditSecurityRejection, prefs.WalletAddress, map[string]interface{}{
			"pool":            position.Key(),
			"reason":          violation.Type,
			"limit_value":     violation.LimitValue,
			"attempted_value": violation.AttemptedValue,
		})
	}

	return ValidationResult{
		Approved:   false,
		Reason:     violation.Type,
		Violations: []Violation{*violation},
		CheckedAt:  now,
	}
}

// RecordSuccess обновляет трекинг после подписанной транзакции.
// Счетчики меняются атомарно в store, возвращается сохраненная запись.
func (e *Engine) RecordSuccess(ctx context.Context, walletAddress string, position *domain.Position, value float64) (*domain.UserPreferences, error) {
	now := e.now()
	key := trackingKey(walletAddress, position)

	e.mu.Lock()
	e.failureCount[key] = 0
	e.lastRebalanceTime[key] = now
	e.mu.Unlock()

	prefs, err := e.store.Update(ctx, walletAddress, func(p *domain.UserPreferences) bool {
		RolloverCounters(p, now)
		p.DailyTransactionCount++
		p.WeeklyTransactionAmount += value
		p.UpdatedAt = now
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist counters: %w", err)
	}
	return prefs, nil
}

// RecordFailure увеличивает счетчик ошибок. При достижении порога пул отключается.
func (e *Engine) RecordFailure(ctx context.Context, walletAddress string, position *domain.Position) (bool, error) {
	key := trackingKey(walletAddress, position)

	e.mu.Lock()
	e.failureCount[key]++
	failures := e.failureCount[key]
	e.mu.Unlock()

	if failures < e.limits.MaxConsecutiveFailures {
		return false, nil
	}

	if err := e.tripCircuitBreaker(ctx, walletAddress, position, failures); err != nil {
		return true, err
	}
	return true, nil
}

// tripCircuitBreaker отключает ребалансировку пула
func (e *Engine) tripCircuitBreaker(ctx context.Context, walletAddress string, position *domain.Position, failures int) error {
	reason := fmt.Sprintf("%d consecutive failures", failures)

	e.log.Warn().
		Str("wallet", walletAddress).
		Str("pool", position.Key()).
		Int("failures", failures).
		Msg("⛔ Circuit breaker tripped, disabling pool")

	if err := e.store.DisablePool(ctx, walletAddress, position.PoolID, reason); err != nil {
		return fmt.Errorf("failed to disable pool: %w", err)
	}

	if e.audit != nil {
		e.audit.Record(ctx, domain.AuditPoolDisabled, walletAddress, map[string]interface{}{
			"pool":     position.Key(),
			"failures": failures,
			"reason":   reason,
		})
	}
	return nil
}

// ResetPoolID сбрасывает счетчики ошибок пула на всех venue
func (e *Engine) ResetPoolID(walletAddress, poolID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefix := walletAddress + "|" + poolID + "_"
	for key := range e.failureCount {
		if strings.HasPrefix(key, prefix) {
			delete(e.failureCount, key)
		}
	}
}

// Tracking возвращает состояние трекинга по кошельку
func (e *Engine) Tracking(walletAddress string) []PoolTracking {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefix := walletAddress + "|"
	seen := make(map[string]*PoolTracking)
	var out []PoolTracking

	collect := func(key string) *PoolTracking {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			return nil
		}
		if t, ok := seen[key]; ok {
			return t
		}
		t := &PoolTracking{Key: key[len(prefix):]}
		seen[key] = t
		return t
	}

	for key, ts := range e.lastRebalanceTime {
		if t := collect(key); t != nil {
			t.LastRebalanceTime = ts
		}
	}
	for key, n := range e.failureCount {
		if t := collect(key); t != nil {
			t.ConsecutiveFailures = n
		}
	}
	for _, t := range seen {
		out = append(out, *t)
	}
	return out
}

// RolloverCounters сбрасывает дневной/недельный счетчики по скользящему окну.
// Возвращает true если что-то изменилось.
func RolloverCounters(prefs *domain.UserPreferences, now time.Time) bool {
	changed := false

	if prefs.LastTransactionReset.IsZero() {
		prefs.LastTransactionReset = now
		changed = true
	} else if now.Sub(prefs.LastTransactionReset) >= 24*time.Hour {
		prefs.DailyTransactionCount = 0
		prefs.LastTransactionReset = now
		changed = true
	}

	if prefs.LastWeeklyReset.IsZero() {
		prefs.LastWeeklyReset = now
		changed = true
	} else if now.Sub(prefs.LastWeeklyReset) >= 7*24*time.Hour {
		prefs.WeeklyTransactionAmount = 0
		prefs.LastWeeklyReset = now
		changed = true
	}

	return changed
}
