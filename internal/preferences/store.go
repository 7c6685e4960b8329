package preferences

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/wallet"
	"github.com/rs/zerolog"
)

// Значения по умолчанию для незаполненных полей
const (
	DefaultMaxRebalanceAmount       = 1000.0
	DefaultMaxDailyTransactions     = 5
	DefaultImbalanceRatio           = 0.25
	DefaultPriceDeviation           = 0.05
	DefaultAutoExecuteBelow         = 100.0
	DefaultRequireConfirmationAbove = 1000.0
)

// SystemLimits потолки, к которым прижимаются пользовательские значения
type SystemLimits struct {
	MaxRebalanceAmount   float64
	MaxDailyTransactions int
}

// RawPreferences вход configure: nil означает "не задано, взять дефолт"
type RawPreferences struct {
	EnableGlobalRebalancing  *bool                          `json:"enable_global_rebalancing,omitempty"`
	PoolSpecificSettings     map[string]domain.PoolSettings `json:"pool_specific_settings,omitempty"`
	MaxRebalanceAmount       *float64                       `json:"max_rebalance_amount,omitempty"`
	MaxDailyTransactions     *int                           `json:"max_daily_transactions,omitempty"`
	ImbalanceRatio           *float64                       `json:"imbalance_ratio,omitempty"`
	PriceDeviation           *float64                       `json:"price_deviation,omitempty"`
	OutOfRangeAction         *domain.OutOfRangeAction       `json:"out_of_range_action,omitempty"`
	NotifyInApp              *bool                          `json:"notify_in_app,omitempty"`
	NotifyEmail              *bool                          `json:"notify_email,omitempty"`
	NotifyTelegram           *bool                          `json:"notify_telegram,omitempty"`
	AutoExecuteBelow         *float64                       `json:"auto_execute_below,omitempty"`
	RequireConfirmationAbove *float64                       `json:"require_confirmation_above,omitempty"`
}

// Hook вызывается после configure
type Hook func(walletAddress string)

// Store хранилище настроек по кошелькам
type Store struct {
	repo   domain.PreferencesRepository
	limits SystemLimits
	log    zerolog.Logger
	now    func() time.Time

	// сериализует read-modify-write по кошельку
	mu sync.Mutex

	onEnabled  Hook
	onDisabled Hook
}

// NewStore создает store поверх репозитория
func NewStore(repo domain.PreferencesRepository, limits SystemLimits, log zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		limits: limits,
		log:    log.With().Str("component", "preferences").Logger(),
		now:    time.Now,
	}
}

// SetHooks подключает старт/стоп мониторинга
func (s *Store) SetHooks(onEnabled, onDisabled Hook) {
	s.onEnabled = onEnabled
	s.onDisabled = onDisabled
}

// Limits системные потолки
func (s *Store) Limits() SystemLimits {
	return s.limits
}

// Configure валидирует, прижимает к лимитам и сохраняет настройки.
// Числа никогда не отклоняются, только clamp. Счетчики переносятся из сохраненной записи.
func (s *Store) Configure(ctx context.Context, walletAddress string, raw RawPreferences) (*domain.UserPreferences, error) {
	if err := wallet.ValidateAddress(walletAddress); err != nil {
		return nil, err
	}

	s.mu.Lock()
	prefs, err := s.configureLocked(ctx, walletAddress, raw)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("wallet", walletAddress).
		Bool("enabled", prefs.EnableGlobalRebalancing).
		Float64("max_amount", prefs.MaxRebalanceAmount).
		Int("max_daily", prefs.MaxDailyTransactions).
		Msg("⚙️ Rebalancing preferences configured")

	if prefs.EnableGlobalRebalancing {
		if s.onEnabled != nil {
			s.onEnabled(walletAddress)
		}
	} else if s.onDisabled != nil {
		s.onDisabled(walletAddress)
	}

	return prefs, nil
}

func (s *Store) configureLocked(ctx context.Context, walletAddress string, raw RawPreferences) (*domain.UserPreferences, error) {
	existing, err := s.repo.Load(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := s.Normalize(walletAddress, raw)
	if existing != nil {
		prefs.DailyTransactionCount = existing.DailyTransactionCount
		prefs.WeeklyTransactionAmount = existing.WeeklyTransactionAmount
		prefs.LastTransactionReset = existing.LastTransactionReset
		prefs.LastWeeklyReset = existing.LastWeeklyReset
	}
	prefs.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, prefs); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}
	return prefs, nil
}

// Normalize применяет дефолты и clamp без сохранения
func (s *Store) Normalize(walletAddress string, raw RawPreferences) *domain.UserPreferences {
	prefs := &domain.UserPreferences{
		WalletAddress:            walletAddress,
		EnableGlobalRebalancing:  boolOr(raw.EnableGlobalRebalancing, false),
		PoolSpecificSettings:     make(map[string]domain.PoolSettings, len(raw.PoolSpecificSettings)),
		MaxRebalanceAmount:       clamp(floatOr(raw.MaxRebalanceAmount, DefaultMaxRebalanceAmount), 0, s.limits.MaxRebalanceAmount),
		MaxDailyTransactions:     clampInt(intOr(raw.MaxDailyTransactions, DefaultMaxDailyTransactions), 0, s.limits.MaxDailyTransactions),
		AutoExecuteBelow:         floatOr(raw.AutoExecuteBelow, DefaultAutoExecuteBelow),
		RequireConfirmationAbove: floatOr(raw.RequireConfirmationAbove, DefaultRequireConfirmationAbove),
		RebalanceThresholds: domain.RebalanceThresholds{
			ImbalanceRatio:   clamp(floatOr(raw.ImbalanceRatio, DefaultImbalanceRatio), 0, 1),
			PriceDeviation:   clamp(floatOr(raw.PriceDeviation, DefaultPriceDeviation), 0, 1),
			OutOfRangeAction: domain.OutOfRangeAlert,
		},
		NotificationChannels: domain.NotificationChannels{
			InApp:    boolOr(raw.NotifyInApp, true),
			Email:    boolOr(raw.NotifyEmail, false),
			Telegram: boolOr(raw.NotifyTelegram, false),
		},
	}

	if raw.OutOfRangeAction != nil && *raw.OutOfRangeAction == domain.OutOfRangeAuto {
		prefs.RebalanceThresholds.OutOfRangeAction = domain.OutOfRangeAuto
	}

	prefs.AutoExecuteBelow = clamp(prefs.AutoExecuteBelow, 0, prefs.MaxRebalanceAmount)
	prefs.RequireConfirmationAbove = clamp(prefs.RequireConfirmationAbove, 0, prefs.MaxRebalanceAmount)

	for poolID, settings := range raw.PoolSpecificSettings {
		prefs.PoolSpecificSettings[poolID] = settings
	}

	return prefs
}

// Get возвращает настройки или nil, nil если кошелек не настроен
func (s *Store) Get(ctx context.Context, walletAddress string) (*domain.UserPreferences, error) {
	prefs, err := s.repo.Load(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	return prefs, nil
}

// Update атомарно загружает, меняет и сохраняет настройки кошелька.
// fn возвращает false, если сохранять нечего. Возвращает копию итоговой записи.
func (s *Store) Update(ctx context.Context, walletAddress string, fn func(prefs *domain.UserPreferences) bool) (*domain.UserPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.repo.Load(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if prefs == nil {
		return nil, fmt.Errorf("wallet %s: %w", walletAddress, domain.ErrNotFound)
	}

	if !fn(prefs) {
		return prefs.Clone(), nil
	}
	if err := s.repo.Save(ctx, prefs); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}
	return prefs.Clone(), nil
}

// DisablePool выключает ребалансировку одного пула
func (s *Store) DisablePool(ctx context.Context, walletAddress, poolID, reason string) error {
	return s.setPool(ctx, walletAddress, poolID, domain.PoolSettings{Enabled: false, DisabledReason: reason})
}

// EnablePool снова включает пул
func (s *Store) EnablePool(ctx context.Context, walletAddress, poolID string) error {
	return s.setPool(ctx, walletAddress, poolID, domain.PoolSettings{Enabled: true})
}

func (s *Store) setPool(ctx context.Context, walletAddress, poolID string, settings domain.PoolSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.repo.Load(ctx, walletAddress)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	if prefs == nil {
		return fmt.Errorf("wallet %s: %w", walletAddress, domain.ErrNotFound)
	}

	if prefs.PoolSpecificSettings == nil {
		prefs.PoolSpecificSettings = make(map[string]domain.PoolSettings)
	}
	prefs.PoolSpecificSettings[poolID] = settings
	prefs.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, prefs); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}

	s.log.Info().
		Str("wallet", walletAddress).
		Str("pool", poolID).
		Bool("enabled", settings.Enabled).
		Str("reason", settings.DisabledReason).
		Msg("🔧 Pool rebalancing toggled")
	return nil
}

// ListEnabled кошельки с включенной ребалансировкой (для восстановления мониторинга при старте)
func (s *Store) ListEnabled(ctx context.Context) ([]string, error) {
	return s.repo.ListEnabled(ctx)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
